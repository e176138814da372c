package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrPositionNotFound) {
//	    // no persisted position, use the initial one
//	}
var (
	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidID is returned when a device ID is empty or malformed.
	ErrInvalidID = errors.New("device: invalid id")

	// ErrInvalidName is returned when a device name is too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidKind is returned when a kind is not recognised.
	ErrInvalidKind = errors.New("device: invalid kind")

	// ErrInvalidFamily is returned when an actuator family is not recognised.
	ErrInvalidFamily = errors.New("device: invalid family")

	// ErrInvalidOperationTime is returned when an actuator has no full-travel time.
	ErrInvalidOperationTime = errors.New("device: invalid operation time")

	// ErrInvalidChannels is returned when a channel count is out of range.
	ErrInvalidChannels = errors.New("device: invalid channel count")

	// ErrInvalidPosition is returned when a position is outside 0..100.
	ErrInvalidPosition = errors.New("device: invalid position")

	// ErrInvalidSensor is returned when a sensor mapping is incomplete.
	ErrInvalidSensor = errors.New("device: invalid sensor mapping")

	// ErrPositionNotFound is returned when no position is persisted for a device.
	ErrPositionNotFound = errors.New("device: position not found")
)
