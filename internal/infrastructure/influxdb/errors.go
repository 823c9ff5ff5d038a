package influxdb

import "errors"

// Sentinel errors returned by Connect and HealthCheck.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// Callers treat it as "run without InfluxDB", not as a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps the cause of a failed initial ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrClosed is returned once Close has been called; writes after that
	// are dropped silently.
	ErrClosed = errors.New("influxdb: client closed")
)
