package device

import (
	"errors"
	"fmt"

	"github.com/nerrad567/relaysync/internal/infrastructure/config"
)

// FromConfig converts one inventory entry into a validated Device.
func FromConfig(c config.DeviceConfig) (Device, error) {
	d := Device{
		ID:               c.ID,
		Name:             c.Name,
		Kind:             Kind(c.Kind),
		Family:           Family(c.Family),
		APIKey:           c.APIKey,
		OperationTime:    c.GetOperationTime(),
		Channels:         c.Channels,
		LocalAddress:     c.LocalAddress,
		LocalUnsupported: c.LocalUnsupported,
		Motion:           c.Motion,
		InitialPosition:  c.InitialPosition,
	}
	if d.IsActuator() && d.Motion == "" {
		d.Motion = "position"
	}
	if s := c.Sensor; s != nil {
		d.Sensor = &Sensor{
			Param:          s.Param,
			OpenValue:      s.OpenValue,
			OpenPosition:   s.OpenPosition,
			ClosedPosition: s.ClosedPosition,
		}
	}
	if r := c.Report; r != nil {
		d.Report = &Report{CurrentField: r.Current, TargetField: r.Target}
	}

	if err := ValidateDevice(&d); err != nil {
		return Device{}, fmt.Errorf("device %q: %w", c.ID, err)
	}
	return d, nil
}

// FromConfigs converts the whole inventory. Invalid entries are skipped
// and reported together in the returned error.
func FromConfigs(entries []config.DeviceConfig) ([]Device, error) {
	devices := make([]Device, 0, len(entries))
	var errs []error
	for _, c := range entries {
		d, err := FromConfig(c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		devices = append(devices, d)
	}
	return devices, errors.Join(errs...)
}
