package actuator

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of intents into the last one. It knows nothing
// about actuator state and never blocks the caller.
type Debouncer struct {
	clock Clock

	mu      sync.Mutex
	current *Token
}

// NewDebouncer creates a debouncer on the given clock.
func NewDebouncer(clock Clock) *Debouncer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Debouncer{clock: clock}
}

// Debounce schedules fn after quiet. If another Debounce (or Cancel) happens
// before then, this call is superseded and fn never runs.
func (d *Debouncer) Debounce(quiet time.Duration, fn func()) *Token {
	tok := NewToken()

	d.mu.Lock()
	d.current = tok
	d.mu.Unlock()

	d.clock.AfterFunc(quiet, func() {
		d.mu.Lock()
		owner := d.current == tok
		if owner {
			d.current = nil
		}
		d.mu.Unlock()

		if owner {
			fn()
		}
	})
	return tok
}

// Cancel supersedes any pending call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	d.current = nil
	d.mu.Unlock()
}

// Pending reports whether a call is waiting out its quiet period.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil
}
