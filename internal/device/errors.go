package device

import "errors"

// Domain errors for the device store.
//
//	if errors.Is(err, device.ErrInvalidRecord) {
//	    // reject input
//	}
var (
	// ErrDeviceIDRequired is returned when a device ID is empty.
	ErrDeviceIDRequired = errors.New("device: device id is required")

	// ErrInvalidRecord is returned when a state record fails validation.
	ErrInvalidRecord = errors.New("device: invalid state record")

	// ErrInvalidSources is returned when an input catalog cannot be stored.
	ErrInvalidSources = errors.New("device: invalid sources")
)
