package dm

import "errors"

// Domain errors for the device-management engine.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRequestTimeout is returned when no correlated response arrives
	// before the request deadline.
	ErrRequestTimeout = errors.New("dm: request timed out")

	// ErrRequestRejected wraps a correlated response whose return code is
	// not a success code. The Response is still returned to the caller.
	ErrRequestRejected = errors.New("dm: request rejected by platform")

	// ErrInvalidRequest is returned when a request fails local validation.
	ErrInvalidRequest = errors.New("dm: invalid request")

	// ErrInvalidTransition is returned for a firmware state change that the
	// lifecycle does not allow.
	ErrInvalidTransition = errors.New("dm: invalid firmware state transition")

	// ErrEngineStopped is returned by calls made after Run has returned.
	ErrEngineStopped = errors.New("dm: engine stopped")

	// ErrEngineRunning is returned when Run is called more than once.
	ErrEngineRunning = errors.New("dm: engine already running")
)
