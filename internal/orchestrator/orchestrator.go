// Package orchestrator is the single entry point the host-facing layer
// talks to. It owns one actuator engine (or on/off handler) per device,
// routes merged inbound updates to it, and fans state changes out to
// subscribers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/relaysync/internal/actuator"
	"github.com/nerrad567/relaysync/internal/device"
	"github.com/nerrad567/relaysync/internal/transport"
)

// Default timings applied when Options leaves them zero.
const (
	DefaultCommandTimeout = 10 * time.Second
	DefaultStoreTimeout   = 2 * time.Second
)

// Router is the subset of transport.Router the orchestrator uses.
type Router interface {
	Register(reg transport.Registration)
	Unregister(deviceID string)
	Send(ctx context.Context, deviceID string, params transport.Params) (transport.Source, error)
	Reachability(deviceID string) (transport.Reachability, bool)
	Resync(ctx context.Context, deviceID string) error
}

// Logger defines the logging interface used by the orchestrator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures an Orchestrator.
type Options struct {
	Router Router

	// Store persists actuator positions. Optional.
	Store device.PositionRepository

	// Clock drives engines and debouncers. Defaults to the wall clock.
	Clock actuator.Clock

	// RevertDelay is passed to every actuator engine.
	RevertDelay time.Duration

	// EchoWindow is passed to every actuator engine.
	EchoWindow time.Duration

	// CommandTimeout bounds commands the orchestrator issues on its own
	// (debounced targets).
	CommandTimeout time.Duration

	Logger Logger
}

// CanonicalState is the host-facing state of one device.
type CanonicalState struct {
	DeviceID string        `json:"device_id"`
	Name     string        `json:"name,omitempty"`
	Kind     device.Kind   `json:"kind"`
	Family   device.Family `json:"family,omitempty"`

	// Actuators only.
	Position  *int               `json:"position,omitempty"`
	Target    *int               `json:"target,omitempty"`
	Direction actuator.Direction `json:"direction,omitempty"`
	Mode      actuator.Mode      `json:"mode,omitempty"`

	// Switches only.
	Power []bool `json:"power,omitempty"`

	LocalReachable bool      `json:"local_reachable"`
	CloudReachable bool      `json:"cloud_reachable"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type entry struct {
	device    device.Device
	engine    *actuator.Engine
	debouncer *actuator.Debouncer
	switches  *switchHandler
}

// Orchestrator is the DeviceOrchestrator registry.
//
// mu guards the registry map only. Commands and inbound updates for a
// device are serialised by that device's engine or switch handler, so
// devices never wait on one another.
type Orchestrator struct {
	router         Router
	store          device.PositionRepository
	clock          actuator.Clock
	revertDelay    time.Duration
	echoWindow     time.Duration
	commandTimeout time.Duration
	logger         Logger
	positions      *positionWriter

	mu      sync.RWMutex
	devices map[string]*entry

	listenersMu sync.RWMutex
	listeners   []func(CanonicalState)
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Router == nil {
		return nil, errors.New("orchestrator: router is required")
	}
	if opts.Clock == nil {
		opts.Clock = actuator.SystemClock{}
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	o := &Orchestrator{
		router:         opts.Router,
		store:          opts.Store,
		clock:          opts.Clock,
		revertDelay:    opts.RevertDelay,
		echoWindow:     opts.EchoWindow,
		commandTimeout: opts.CommandTimeout,
		logger:         opts.Logger,
		devices:        make(map[string]*entry),
	}
	if o.store != nil {
		o.positions = newPositionWriter(o.store, DefaultStoreTimeout, o.logger)
	}
	return o, nil
}

// OnStateChange subscribes fn to every host-facing state change.
// fn must not block for long; it runs on the device's notification path.
func (o *Orchestrator) OnStateChange(fn func(CanonicalState)) {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()
	o.listeners = append(o.listeners, fn)
}

func (o *Orchestrator) notify(st CanonicalState) {
	o.listenersMu.RLock()
	listeners := o.listeners
	o.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(st)
	}
}

// AddDevice registers a device, seeding actuators from the persisted
// position when one exists.
func (o *Orchestrator) AddDevice(ctx context.Context, d device.Device) error {
	if err := device.ValidateDevice(&d); err != nil {
		return err
	}

	o.mu.RLock()
	_, exists := o.devices[d.ID]
	o.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
	}

	e := &entry{device: d}
	if d.IsActuator() {
		engine, err := o.newEngine(ctx, d)
		if err != nil {
			return err
		}
		e.engine = engine
		e.debouncer = actuator.NewDebouncer(o.clock)
	} else {
		id := d.ID
		e.switches = newSwitchHandler(id, d.ChannelCount(), d.Kind == device.KindMultiSwitch, o.router, o.clock, func() {
			o.emitSwitch(id)
		})
	}

	o.mu.Lock()
	if _, exists := o.devices[d.ID]; exists {
		o.mu.Unlock()
		if e.engine != nil {
			e.engine.Close()
		}
		return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
	}
	o.devices[d.ID] = e
	o.mu.Unlock()

	o.router.Register(transport.Registration{
		DeviceID:         d.ID,
		APIKey:           d.APIKey,
		LocalAddress:     d.LocalAddress,
		LocalUnsupported: d.LocalUnsupported,
		CloudOnline:      true,
	})

	o.logger.Info("device added",
		"device_id", d.ID,
		"kind", string(d.Kind),
		"local_unsupported", d.LocalUnsupported,
	)
	return nil
}

func (o *Orchestrator) newEngine(ctx context.Context, d device.Device) (*actuator.Engine, error) {
	motion, err := actuator.MotionFor(d.Motion)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", d.ID, err)
	}

	cfg := actuator.Config{
		DeviceID:       d.ID,
		OperationTime:  d.OperationTime,
		Motion:         motion,
		Sender:         o.router,
		Clock:          o.clock,
		RevertDelay:    o.revertDelay,
		EchoWindow:     o.echoWindow,
		CommandTimeout: o.commandTimeout,
		Logger:         o.logger,
	}
	if s := d.Sensor; s != nil {
		cfg.Sensor = &actuator.SensorMapping{
			Param:          s.Param,
			OpenValue:      s.OpenValue,
			OpenPosition:   s.OpenPosition,
			ClosedPosition: s.ClosedPosition,
		}
	}
	if r := d.Report; r != nil {
		cfg.Report = &actuator.ReportMapping{CurrentField: r.CurrentField, TargetField: r.TargetField}
	}

	dev := d
	cfg.OnState = func(st actuator.State) { o.emitActuator(dev, st) }

	return actuator.NewEngine(cfg, o.loadSeed(ctx, d))
}

func (o *Orchestrator) loadSeed(ctx context.Context, d device.Device) actuator.Seed {
	seed := actuator.Seed{Position: d.InitialPosition, Target: d.InitialPosition}
	if o.store == nil {
		return seed
	}

	p, err := o.store.GetPosition(ctx, d.ID)
	switch {
	case errors.Is(err, device.ErrPositionNotFound):
		return seed
	case err != nil:
		o.logger.Warn("loading persisted position failed, using initial position",
			"device_id", d.ID,
			"error", err,
		)
		return seed
	}
	return actuator.Seed{Position: int(p.Estimated + 0.5), Target: p.Target}
}

// RemoveDevice unregisters a device and invalidates all of its pending
// deferred effects.
func (o *Orchestrator) RemoveDevice(ctx context.Context, deviceID string) error {
	o.mu.Lock()
	e, ok := o.devices[deviceID]
	delete(o.devices, deviceID)
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	o.router.Unregister(deviceID)
	if e.engine != nil {
		e.debouncer.Cancel()
		e.engine.Close()
		if o.store != nil {
			o.positions.forget(deviceID)
			if err := o.store.DeletePosition(ctx, deviceID); err != nil {
				o.logger.Warn("deleting persisted position failed", "device_id", deviceID, "error", err)
			}
		}
	}

	o.logger.Info("device removed", "device_id", deviceID)
	return nil
}

func (o *Orchestrator) lookup(deviceID string) (*entry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return e, nil
}

// SetTarget drives an actuator to value (0..100) immediately. A pending
// debounced target for the device is dropped, since this intent is newer.
// Delivery failures match transport.ErrDeviceUnreachable.
func (o *Orchestrator) SetTarget(ctx context.Context, deviceID string, value int) error {
	e, err := o.lookup(deviceID)
	if err != nil {
		return err
	}
	if e.engine == nil {
		return fmt.Errorf("%w: %s", ErrNotActuator, deviceID)
	}
	e.debouncer.Cancel()
	return e.engine.SetTarget(ctx, value)
}

// SetTargetDebounced coalesces rapid targets: only the last value within
// quiet of its predecessor is sent. It never blocks; delivery errors are
// logged and surface to the host as a reverted state.
func (o *Orchestrator) SetTargetDebounced(deviceID string, value int, quiet time.Duration) error {
	if value < 0 || value > 100 {
		return fmt.Errorf("%w: %d", actuator.ErrInvalidTarget, value)
	}
	e, err := o.lookup(deviceID)
	if err != nil {
		return err
	}
	if e.engine == nil {
		return fmt.Errorf("%w: %s", ErrNotActuator, deviceID)
	}

	engine := e.engine
	e.debouncer.Debounce(quiet, func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.commandTimeout)
		defer cancel()
		if err := engine.SetTarget(ctx, value); err != nil {
			o.logger.Warn("debounced target failed",
				"device_id", deviceID,
				"target", value,
				"error", err,
			)
		}
	})
	return nil
}

// SetPower switches one channel of an on/off or multi-channel device.
func (o *Orchestrator) SetPower(ctx context.Context, deviceID string, channel int, on bool) error {
	e, err := o.lookup(deviceID)
	if err != nil {
		return err
	}
	if e.switches == nil {
		return fmt.Errorf("%w: %s", ErrNotSwitch, deviceID)
	}
	return e.switches.SetPower(ctx, channel, on)
}

// Dispatch routes a merged inbound update to the owning engine or handler.
// It is installed as the transport router's handler.
func (o *Orchestrator) Dispatch(u transport.Update) {
	e, err := o.lookup(u.DeviceID)
	if err != nil {
		o.logger.Debug("update for unregistered device", "device_id", u.DeviceID)
		return
	}
	if e.engine != nil {
		e.engine.Reconcile(u)
		return
	}
	e.switches.Reconcile(u)
}

// Resync asks a device to re-report its full state.
func (o *Orchestrator) Resync(ctx context.Context, deviceID string) error {
	if _, err := o.lookup(deviceID); err != nil {
		return err
	}
	return o.router.Resync(ctx, deviceID)
}

// State returns the canonical state of one device.
func (o *Orchestrator) State(deviceID string) (CanonicalState, error) {
	e, err := o.lookup(deviceID)
	if err != nil {
		return CanonicalState{}, err
	}
	return o.stateOf(e), nil
}

// States returns the canonical state of every device, ordered by ID.
func (o *Orchestrator) States() []CanonicalState {
	o.mu.RLock()
	entries := make([]*entry, 0, len(o.devices))
	for _, e := range o.devices {
		entries = append(entries, e)
	}
	o.mu.RUnlock()

	states := make([]CanonicalState, 0, len(entries))
	for _, e := range entries {
		states = append(states, o.stateOf(e))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].DeviceID < states[j].DeviceID })
	return states
}

// Count returns the number of registered devices.
func (o *Orchestrator) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.devices)
}

func (o *Orchestrator) stateOf(e *entry) CanonicalState {
	if e.engine != nil {
		return o.actuatorState(e.device, e.engine.Snapshot())
	}
	power, at := e.switches.Snapshot()
	st := o.baseState(e.device)
	st.Power = power
	st.UpdatedAt = at
	return st
}

func (o *Orchestrator) baseState(d device.Device) CanonicalState {
	st := CanonicalState{
		DeviceID: d.ID,
		Name:     d.Name,
		Kind:     d.Kind,
		Family:   d.Family,
	}
	if reach, ok := o.router.Reachability(d.ID); ok {
		st.LocalReachable = reach.LocalReachable
		st.CloudReachable = reach.CloudReachable
	}
	return st
}

func (o *Orchestrator) actuatorState(d device.Device, as actuator.State) CanonicalState {
	st := o.baseState(d)
	pos, target := as.Position, as.Target
	st.Position = &pos
	st.Target = &target
	st.Direction = as.Direction
	st.Mode = as.Mode
	st.UpdatedAt = as.UpdatedAt
	return st
}

// emitActuator queues the position for persistence whenever the actuator
// is not moving and notifies subscribers.
func (o *Orchestrator) emitActuator(d device.Device, as actuator.State) {
	if o.positions != nil && as.Mode != actuator.ModeMoving {
		o.positions.enqueue(device.Position{
			DeviceID:  d.ID,
			Estimated: float64(as.Position),
			Target:    as.Target,
			UpdatedAt: as.UpdatedAt,
		})
	}
	o.notify(o.actuatorState(d, as))
}

func (o *Orchestrator) emitSwitch(deviceID string) {
	e, err := o.lookup(deviceID)
	if err != nil || e.switches == nil {
		return
	}
	o.notify(o.stateOf(e))
}

// Close invalidates every pending deferred effect and writes out any
// position not yet persisted.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	for _, e := range o.devices {
		if e.engine != nil {
			e.debouncer.Cancel()
			e.engine.Close()
		}
	}
	o.mu.Unlock()

	if o.positions != nil {
		o.positions.stop()
	}
}
