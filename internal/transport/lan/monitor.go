package lan

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/relaysync/internal/transport"
)

// Prober checks a single device. Implemented by *Client.
type Prober interface {
	Probe(ctx context.Context, dst transport.Destination) error
}

// Presence is what the monitor reads targets from and reports to.
// Implemented by *transport.Router.
type Presence interface {
	LocalTargets() []transport.Destination
	LocalHeartbeat(deviceID, address string)
	LocalAbsent(deviceID string)
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Prober   Prober
	Presence Presence
	Interval time.Duration

	// AbsentAfter consecutive failed probes mark a device absent.
	AbsentAfter int

	Logger transport.Logger
}

// Monitor is the local heartbeat: it probes every LAN-capable device each
// interval, reporting presence on success and absence once after
// AbsentAfter consecutive failures.
type Monitor struct {
	prober      Prober
	presence    Presence
	interval    time.Duration
	absentAfter int
	logger      transport.Logger

	mu       sync.Mutex
	failures map[string]int

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMonitor creates a monitor. Call Start to begin probing.
func NewMonitor(opts MonitorOptions) *Monitor {
	m := &Monitor{
		prober:      opts.Prober,
		presence:    opts.Presence,
		interval:    opts.Interval,
		absentAfter: opts.AbsentAfter,
		logger:      opts.Logger,
		failures:    make(map[string]int),
	}
	if m.interval <= 0 {
		m.interval = 30 * time.Second
	}
	if m.absentAfter < 1 {
		m.absentAfter = 3
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	return m
}

// Start runs an immediate probe round and then one every interval until
// ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.probeAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the current round to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()
	})
}

// probeAll probes every target concurrently and waits for the round.
func (m *Monitor) probeAll(ctx context.Context) {
	targets := m.presence.LocalTargets()

	var wg sync.WaitGroup
	for _, dst := range targets {
		wg.Add(1)
		go func(dst transport.Destination) {
			defer wg.Done()
			m.probe(ctx, dst)
		}(dst)
	}
	wg.Wait()
}

func (m *Monitor) probe(ctx context.Context, dst transport.Destination) {
	err := m.prober.Probe(ctx, dst)
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	if err == nil {
		delete(m.failures, dst.DeviceID)
		m.mu.Unlock()
		m.presence.LocalHeartbeat(dst.DeviceID, dst.Address)
		return
	}
	m.failures[dst.DeviceID]++
	n := m.failures[dst.DeviceID]
	m.mu.Unlock()

	m.logger.Debug("local heartbeat failed", "device_id", dst.DeviceID, "failures", n, "error", err)
	if n == m.absentAfter {
		m.presence.LocalAbsent(dst.DeviceID)
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
