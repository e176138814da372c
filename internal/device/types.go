package device

import "time"

// Kind is the capability kind of a device.
type Kind string

// Capability kinds.
const (
	// KindSwitch is a single on/off relay or outlet.
	KindSwitch Kind = "switch"

	// KindMultiSwitch is a multi-channel relay board.
	KindMultiSwitch Kind = "multi_switch"

	// KindActuator moves over a continuous 0..100 range by timed motion.
	KindActuator Kind = "actuator"
)

// AllKinds returns every supported kind.
func AllKinds() []Kind {
	return []Kind{KindSwitch, KindMultiSwitch, KindActuator}
}

// Family is a presentation hint for actuators.
type Family string

// Actuator families.
const (
	FamilyCover      Family = "cover"
	FamilyGarageDoor Family = "garage_door"
	FamilyValve      Family = "valve"
)

// AllFamilies returns every supported actuator family.
func AllFamilies() []Family {
	return []Family{FamilyCover, FamilyGarageDoor, FamilyValve}
}

// Sensor describes an authoritative position sensor wired to an actuator.
type Sensor struct {
	// Param is the inbound field carrying the reading.
	Param string

	// OpenValue is the reading that means "open".
	OpenValue any

	// OpenPosition and ClosedPosition are the positions reported for
	// the two readings.
	OpenPosition   int
	ClosedPosition int
}

// Report names the position fields of a self-reporting actuator.
type Report struct {
	CurrentField string
	TargetField  string
}

// Device is one physical unit as known from the upstream account.
//
// APIKey and OperationTime are fixed at creation; changing either means
// removing and re-adding the device.
type Device struct {
	ID     string
	Name   string
	Kind   Kind
	Family Family

	// APIKey is the per-device credential presented to both transports.
	APIKey string

	// OperationTime is the full-travel time 0 -> 100 (actuators only).
	OperationTime time.Duration

	// Channels is the outlet count of a multi-channel device.
	Channels int

	// LocalAddress seeds the LAN address (host:port); may be empty.
	LocalAddress string

	// LocalUnsupported marks models with no LAN control.
	LocalUnsupported bool

	// Motion is the actuator drive style: position, relay_pair or pulse.
	Motion string

	Sensor *Sensor
	Report *Report

	// InitialPosition is used when no position has been persisted.
	InitialPosition int
}

// IsActuator reports whether the device is driven by the actuator engine.
func (d Device) IsActuator() bool {
	return d.Kind == KindActuator
}

// ChannelCount returns the number of switchable channels.
func (d Device) ChannelCount() int {
	switch d.Kind {
	case KindMultiSwitch:
		if d.Channels > 0 {
			return d.Channels
		}
		return 1
	case KindSwitch:
		return 1
	default:
		return 0
	}
}

// Position is the persisted position of one actuator.
type Position struct {
	DeviceID  string
	Estimated float64
	Target    int
	UpdatedAt time.Time
}
