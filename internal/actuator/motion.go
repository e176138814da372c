package actuator

import (
	"fmt"

	"github.com/nerrad567/relaysync/internal/transport"
)

// Direction is the direction of travel of an actuator.
type Direction int

// Directions.
const (
	DirectionIdle Direction = iota
	DirectionIncreasing
	DirectionDecreasing
)

func (d Direction) String() string {
	switch d {
	case DirectionIncreasing:
		return "increasing"
	case DirectionDecreasing:
		return "decreasing"
	default:
		return "idle"
	}
}

// MarshalText renders the direction for JSON.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Motion styles accepted by MotionFor.
const (
	MotionPosition  = "position"
	MotionRelayPair = "relay_pair"
	MotionPulse     = "pulse"
)

// Motion builds the wire params that start and stop a move.
type Motion interface {
	// Start returns the params that begin driving toward target.
	Start(target int, dir Direction) transport.Params

	// Stop returns the params that halt motion, or nil when the device
	// stops by itself and no command is needed.
	Stop(dir Direction) transport.Params
}

// PositionMotion drives devices that accept a target position directly.
type PositionMotion struct{}

// Start sends the target position.
func (PositionMotion) Start(target int, _ Direction) transport.Params {
	return transport.Params{"position": target}
}

// Stop halts the motor wherever it is.
func (PositionMotion) Stop(Direction) transport.Params {
	return transport.Params{"motion": "stop"}
}

// RelayPairMotion drives motors wired to one "increase" and one
// "decrease" relay. The two are never energised together.
type RelayPairMotion struct {
	Increase int
	Decrease int
}

// Start energises the relay for dir and releases the other.
func (m RelayPairMotion) Start(_ int, dir Direction) transport.Params {
	inc, dec := "off", "off"
	if dir == DirectionIncreasing {
		inc = "on"
	} else {
		dec = "on"
	}
	return transport.Params{"switches": []map[string]any{
		{"outlet": m.Increase, "switch": inc},
		{"outlet": m.Decrease, "switch": dec},
	}}
}

// Stop releases both relays.
func (m RelayPairMotion) Stop(Direction) transport.Params {
	return transport.Params{"switches": []map[string]any{
		{"outlet": m.Increase, "switch": "off"},
		{"outlet": m.Decrease, "switch": "off"},
	}}
}

// PulseMotion drives single-button openers such as garage doors, where
// one momentary pulse starts travel and the opener stops at the end stop.
type PulseMotion struct {
	Outlet int
}

// Start sends one momentary pulse.
func (m PulseMotion) Start(int, Direction) transport.Params {
	return transport.Params{"switches": []map[string]any{
		{"outlet": m.Outlet, "switch": "on"},
	}, "pulse": "on"}
}

// Stop is nil: the opener stops itself.
func (PulseMotion) Stop(Direction) transport.Params {
	return nil
}

// MotionFor returns the Motion for a configured style name.
func MotionFor(style string) (Motion, error) {
	switch style {
	case "", MotionPosition:
		return PositionMotion{}, nil
	case MotionRelayPair:
		return RelayPairMotion{Increase: 0, Decrease: 1}, nil
	case MotionPulse:
		return PulseMotion{Outlet: 0}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMotion, style)
	}
}
