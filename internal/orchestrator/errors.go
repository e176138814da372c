package orchestrator

import "errors"

// Domain errors for the orchestrator package.
var (
	// ErrDeviceNotFound is returned when a device ID is not registered.
	ErrDeviceNotFound = errors.New("orchestrator: device not found")

	// ErrDeviceExists is returned when adding a device ID twice.
	ErrDeviceExists = errors.New("orchestrator: device already exists")

	// ErrNotActuator is returned for position commands to a non-actuator.
	ErrNotActuator = errors.New("orchestrator: device is not an actuator")

	// ErrNotSwitch is returned for power commands to an actuator.
	ErrNotSwitch = errors.New("orchestrator: device has no switchable channels")

	// ErrInvalidChannel is returned when a channel index is out of range.
	ErrInvalidChannel = errors.New("orchestrator: invalid channel")
)
