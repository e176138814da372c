package actuator

import "errors"

// Domain errors for the actuator package.
var (
	// ErrInvalidTarget is returned when a target is outside 0..100.
	ErrInvalidTarget = errors.New("actuator: target out of range")

	// ErrInvalidOperationTime is returned when the full-travel time is not positive.
	ErrInvalidOperationTime = errors.New("actuator: operation time must be positive")

	// ErrUnknownMotion is returned for an unrecognised motion style.
	ErrUnknownMotion = errors.New("actuator: unknown motion style")

	// ErrEngineClosed is returned by SetTarget after Close.
	ErrEngineClosed = errors.New("actuator: engine closed")

	// ErrMissingDependency is returned when a required Config field is nil.
	ErrMissingDependency = errors.New("actuator: missing dependency")
)
