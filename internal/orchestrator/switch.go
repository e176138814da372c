package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/relaysync/internal/actuator"
	"github.com/nerrad567/relaysync/internal/transport"
)

// switchHandler is the on/off counterpart of the actuator engine for
// single and multi-channel relays. cmdMu orders commands to the device;
// mu guards the channel states and is released while a command is being
// delivered, so inbound reports are never held up behind an ack.
type switchHandler struct {
	deviceID string
	multi    bool
	sender   actuator.Sender
	clock    actuator.Clock
	onChange func()

	cmdMu sync.Mutex

	mu        sync.Mutex
	power     []bool
	updatedAt time.Time
}

func newSwitchHandler(deviceID string, channels int, multi bool, sender actuator.Sender, clock actuator.Clock, onChange func()) *switchHandler {
	return &switchHandler{
		deviceID: deviceID,
		multi:    multi,
		sender:   sender,
		clock:    clock,
		onChange: onChange,
		power:    make([]bool, channels),
	}
}

func switchValue(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// powerParams builds the wire params for one channel.
func (h *switchHandler) powerParams(channel int, on bool) transport.Params {
	if !h.multi {
		return transport.Params{"switch": switchValue(on)}
	}
	return transport.Params{"switches": []map[string]any{
		{"outlet": channel, "switch": switchValue(on)},
	}}
}

// SetPower switches one channel. State only changes once delivery succeeds.
func (h *switchHandler) SetPower(ctx context.Context, channel int, on bool) error {
	if channel < 0 || channel >= len(h.power) {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}

	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	if _, err := h.sender.Send(ctx, h.deviceID, h.powerParams(channel, on)); err != nil {
		return fmt.Errorf("switch %s channel %d: %w", h.deviceID, channel, err)
	}

	h.mu.Lock()
	h.power[channel] = on
	h.updatedAt = h.clock.Now()
	h.mu.Unlock()

	h.onChange()
	return nil
}

// Reconcile applies "switch" / "switches" fields from an inbound update.
func (h *switchHandler) Reconcile(u transport.Update) {
	h.mu.Lock()
	changed := false

	if v, ok := u.Params["switch"].(string); ok && len(h.power) > 0 {
		changed = h.setLocked(0, v == "on") || changed
	}
	for _, entry := range switchEntries(u.Params["switches"]) {
		outlet, ok := outletIndex(entry["outlet"])
		if !ok {
			continue
		}
		if v, ok := entry["switch"].(string); ok {
			changed = h.setLocked(outlet, v == "on") || changed
		}
	}

	if changed {
		h.updatedAt = h.clock.Now()
	}
	h.mu.Unlock()

	if changed {
		h.onChange()
	}
}

func (h *switchHandler) setLocked(channel int, on bool) bool {
	if channel < 0 || channel >= len(h.power) || h.power[channel] == on {
		return false
	}
	h.power[channel] = on
	return true
}

// Snapshot returns a copy of the channel states.
func (h *switchHandler) Snapshot() ([]bool, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.power...), h.updatedAt
}

// switchEntries accepts both the decoded JSON form ([]any of objects) and
// the form built locally ([]map[string]any).
func switchEntries(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func outletIndex(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
