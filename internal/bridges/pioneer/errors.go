package pioneer

import "errors"

// Domain errors for the Pioneer bridge package.
var (
	// ErrConnectionFailed is returned when the receiver could not be reached
	// within the configured retry policy.
	ErrConnectionFailed = errors.New("pioneer: connection failed")

	// ErrNotReady is returned by Setup when the first poll cannot reach the
	// receiver. The host should retry setup later.
	ErrNotReady = errors.New("pioneer: device not ready")

	// ErrUnknownSource is returned when selecting an input name that is not
	// in the source catalog.
	ErrUnknownSource = errors.New("pioneer: unknown source")

	// ErrInvalidSourceCode is returned for source codes outside "00".."59".
	ErrInvalidSourceCode = errors.New("pioneer: invalid source code")

	// ErrDuplicateSource is returned when a catalog name or code is already taken.
	ErrDuplicateSource = errors.New("pioneer: duplicate source")

	// ErrInvalidVolume is returned for volume levels outside [0,1].
	ErrInvalidVolume = errors.New("pioneer: invalid volume")

	// ErrVolumeProbeFailed is returned when the step size could not be probed
	// or the current volume could not be read before a stepped set.
	ErrVolumeProbeFailed = errors.New("pioneer: volume probe failed")

	// ErrDeviceNotFound is returned by the bridge for unknown receiver IDs.
	ErrDeviceNotFound = errors.New("pioneer: device not found")

	// ErrInvalidCommand is returned for unsupported bridge commands.
	ErrInvalidCommand = errors.New("pioneer: invalid command")

	// ErrInvalidParameters is returned when command parameters are missing or malformed.
	ErrInvalidParameters = errors.New("pioneer: invalid parameters")
)
