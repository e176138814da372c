package device

import (
	"fmt"
	"regexp"
	"time"
)

// Validation constants.
const (
	maxIDLength   = 64
	maxNameLength = 100
	maxChannels   = 16
	idPattern     = `^[A-Za-z0-9][A-Za-z0-9_.:-]*$`

	// minOperationTime rejects values that are almost certainly
	// milliseconds entered as seconds.
	minOperationTime = 500 * time.Millisecond
	maxOperationTime = 10 * time.Minute
)

var idRegex = regexp.MustCompile(idPattern)

// Pre-computed validation sets.
var (
	validKinds    map[Kind]struct{}
	validFamilies map[Family]struct{}
)

func init() {
	validKinds = make(map[Kind]struct{}, len(AllKinds()))
	for _, k := range AllKinds() {
		validKinds[k] = struct{}{}
	}

	validFamilies = make(map[Family]struct{}, len(AllFamilies()))
	for _, f := range AllFamilies() {
		validFamilies[f] = struct{}{}
	}
}

// ValidateDevice checks a device and returns the first problem found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if _, ok := validKinds[d.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKind, d.Kind)
	}

	switch d.Kind {
	case KindMultiSwitch:
		if d.Channels < 1 || d.Channels > maxChannels {
			return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidChannels, d.Channels, maxChannels)
		}
	case KindActuator:
		return validateActuator(d)
	}
	return nil
}

func validateActuator(d *Device) error {
	if d.Family != "" {
		if _, ok := validFamilies[d.Family]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidFamily, d.Family)
		}
	}
	if d.OperationTime < minOperationTime || d.OperationTime > maxOperationTime {
		return fmt.Errorf("%w: %s (must be %s-%s)", ErrInvalidOperationTime,
			d.OperationTime, minOperationTime, maxOperationTime)
	}
	if err := ValidatePosition(d.InitialPosition); err != nil {
		return err
	}
	if s := d.Sensor; s != nil {
		if s.Param == "" || s.OpenValue == nil {
			return fmt.Errorf("%w: param and open value are required", ErrInvalidSensor)
		}
		if ValidatePosition(s.OpenPosition) != nil || ValidatePosition(s.ClosedPosition) != nil {
			return fmt.Errorf("%w: positions must be 0-100", ErrInvalidSensor)
		}
	}
	return nil
}

// ValidateID checks a device identifier.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidID, maxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// ValidatePosition checks a 0..100 position.
func ValidatePosition(p int) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidPosition, p)
	}
	return nil
}
