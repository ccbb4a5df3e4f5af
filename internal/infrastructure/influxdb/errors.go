package influxdb

import "errors"

// Errors returned by Connect and HealthCheck. Compare with errors.Is.
var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrInvalidConfig    = errors.New("influxdb: invalid configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")

	errUnhealthy = errors.New("server reports unhealthy")
)
