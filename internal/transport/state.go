package transport

import (
	"maps"
	"sync"
)

// deviceState is the TransportState of one device plus its canonical
// last-known parameters. mu guards every field; inbound serialises whole
// Receive calls so merged deltas reach the handler in arrival order.
type deviceState struct {
	inbound sync.Mutex

	mu     sync.Mutex
	reg    Registration
	reach  Reachability
	params map[string]Field

	// absent is set by the heartbeat's absence event and cleared by any
	// local traffic. Sends skip local delivery while it is set.
	absent bool
}

func newDeviceState(reg Registration) *deviceState {
	return &deviceState{
		reg: reg,
		reach: Reachability{
			LocalAddress:   reg.LocalAddress,
			CloudReachable: reg.CloudOnline,
		},
		params: make(map[string]Field),
	}
}

// destination must be called with mu held.
func (s *deviceState) destination() Destination {
	return Destination{
		DeviceID: s.reg.DeviceID,
		APIKey:   s.reg.APIKey,
		Address:  s.reach.LocalAddress,
	}
}

// localCandidate reports whether local delivery should be attempted.
// Must be called with mu held.
func (s *deviceState) localCandidate() bool {
	return !s.reg.LocalUnsupported && s.reach.LocalAddress != ""
}

// localPreferred reports whether a send should try local first.
// Must be called with mu held.
func (s *deviceState) localPreferred() bool {
	return s.localCandidate() && !s.absent
}

func (s *deviceState) snapshot() Reachability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reach
}

func (s *deviceState) lastKnown() map[string]Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.params)
}
