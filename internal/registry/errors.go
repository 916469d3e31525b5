package registry

import "errors"

// Domain-specific errors for the device registry.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotStarted is returned when devices are created before Start.
	ErrNotStarted = errors.New("registry: not started")

	// ErrStopped is returned when devices are created after shutdown began.
	ErrStopped = errors.New("registry: stopped")

	// ErrDeviceNotFound is returned when no running device has the name.
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrDeviceExists is returned by Create for a name already running.
	ErrDeviceExists = errors.New("registry: device already running")
)
