package transport

import (
	"errors"
	"fmt"
)

// Domain errors for the transport package.
var (
	// ErrDeviceUnreachable is returned when neither the local nor the cloud
	// transport could deliver a command. It is the only delivery error the
	// router raises.
	ErrDeviceUnreachable = errors.New("transport: device unreachable")

	// ErrUnknownDevice is returned when a device ID is not registered.
	ErrUnknownDevice = errors.New("transport: unknown device")

	// ErrCloudOffline is recorded as the cloud cause when the cloud
	// transport was skipped because the device is reported offline.
	ErrCloudOffline = errors.New("transport: cloud reports device offline")

	// ErrLocalSkipped is recorded as the local cause when local delivery
	// was not attempted (unsupported kind or no known address).
	ErrLocalSkipped = errors.New("transport: local delivery not attempted")

	// ErrNoCloudTransport is returned by NewRouter when no cloud sender is configured.
	ErrNoCloudTransport = errors.New("transport: cloud transport required")
)

// DeliveryError describes a failed Send. It always matches
// ErrDeviceUnreachable under errors.Is and also exposes the per-transport
// causes.
type DeliveryError struct {
	DeviceID string
	Local    error
	Cloud    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %s (local: %v, cloud: %v)", ErrDeviceUnreachable, e.DeviceID, e.Local, e.Cloud)
}

// Unwrap exposes the sentinel plus whichever causes are set.
func (e *DeliveryError) Unwrap() []error {
	errs := []error{ErrDeviceUnreachable}
	if e.Local != nil {
		errs = append(errs, e.Local)
	}
	if e.Cloud != nil {
		errs = append(errs, e.Cloud)
	}
	return errs
}
