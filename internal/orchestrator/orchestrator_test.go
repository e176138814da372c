package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/relaysync/internal/actuator"
	"github.com/nerrad567/relaysync/internal/device"
	"github.com/nerrad567/relaysync/internal/transport"
)

// mockRouter stands in for transport.Router.
type mockRouter struct {
	mu         sync.Mutex
	registered map[string]transport.Registration
	sent       map[string][]transport.Params
	sendErr    error
	resyncs    []string
}

func newMockRouter() *mockRouter {
	return &mockRouter{
		registered: make(map[string]transport.Registration),
		sent:       make(map[string][]transport.Params),
	}
}

func (m *mockRouter) Register(reg transport.Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[reg.DeviceID] = reg
}

func (m *mockRouter) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.registered, id)
}

func (m *mockRouter) Send(_ context.Context, id string, params transport.Params) (transport.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", &transport.DeliveryError{DeviceID: id, Local: m.sendErr, Cloud: transport.ErrCloudOffline}
	}
	m.sent[id] = append(m.sent[id], params)
	return transport.SourceCloud, nil
}

func (m *mockRouter) Reachability(id string) (transport.Reachability, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.registered[id]
	return transport.Reachability{CloudReachable: reg.CloudOnline}, ok
}

func (m *mockRouter) Resync(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resyncs = append(m.resyncs, id)
	return nil
}

func (m *mockRouter) sentTo(id string) []transport.Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transport.Params(nil), m.sent[id]...)
}

// memoryStore is an in-memory device.PositionRepository.
type memoryStore struct {
	mu        sync.Mutex
	positions map[string]device.Position
}

func newMemoryStore() *memoryStore {
	return &memoryStore{positions: make(map[string]device.Position)}
}

func (s *memoryStore) GetPosition(_ context.Context, id string) (*device.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, device.ErrPositionNotFound
	}
	return &p, nil
}

func (s *memoryStore) SavePosition(_ context.Context, p device.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.DeviceID] = p
	return nil
}

func (s *memoryStore) DeletePosition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, id)
	return nil
}

func (s *memoryStore) ListPositions(context.Context) ([]device.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []device.Position
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// manualClock fires timers synchronously from Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	at   time.Time
	f    func()
	done bool
}

func (t *manualTimer) Stop() bool { return false }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) actuator.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *manualTimer
		for _, t := range c.timers {
			if !t.done && !t.at.After(end) && (next == nil || t.at.Before(next.at)) {
				next = t
			}
		}
		if next == nil {
			c.now = end
			c.mu.Unlock()
			return
		}
		next.done = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

type fixture struct {
	orch   *Orchestrator
	router *mockRouter
	store  *memoryStore
	clock  *manualClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		router: newMockRouter(),
		store:  newMemoryStore(),
		clock:  &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	o, err := New(Options{Router: f.router, Store: f.store, Clock: f.clock, RevertDelay: time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(o.Close)
	f.orch = o
	return f
}

// persisted waits for queued position writes, then reads the store.
func (f *fixture) persisted(id string) (*device.Position, error) {
	f.orch.positions.flush()
	return f.store.GetPosition(context.Background(), id)
}

func cover(id string) device.Device {
	return device.Device{
		ID:            id,
		Name:          "Blind " + id,
		Kind:          device.KindActuator,
		Family:        device.FamilyCover,
		APIKey:        "key-" + id,
		OperationTime: 20 * time.Second,
	}
}

func TestNew_RequiresRouter(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() error = nil, want error without router")
	}
}

func TestAddDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := cover("c1")
	d.LocalAddress = "10.0.0.7:8081"
	if err := f.orch.AddDevice(ctx, d); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	reg, ok := f.router.registered["c1"]
	if !ok {
		t.Fatal("device not registered with router")
	}
	if reg.APIKey != "key-c1" || reg.LocalAddress != "10.0.0.7:8081" || !reg.CloudOnline {
		t.Errorf("registration = %+v", reg)
	}

	if err := f.orch.AddDevice(ctx, d); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("AddDevice() duplicate error = %v, want %v", err, ErrDeviceExists)
	}

	bad := cover("c2")
	bad.OperationTime = 0
	if err := f.orch.AddDevice(ctx, bad); !errors.Is(err, device.ErrInvalidOperationTime) {
		t.Errorf("AddDevice() invalid error = %v, want %v", err, device.ErrInvalidOperationTime)
	}

	badMotion := cover("c3")
	badMotion.Motion = "servo"
	if err := f.orch.AddDevice(ctx, badMotion); !errors.Is(err, actuator.ErrUnknownMotion) {
		t.Errorf("AddDevice() bad motion error = %v, want %v", err, actuator.ErrUnknownMotion)
	}

	if got := f.orch.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestAddDevice_SeedsFromPersistedPosition(t *testing.T) {
	f := newFixture(t)
	_ = f.store.SavePosition(context.Background(), device.Position{DeviceID: "c1", Estimated: 70, Target: 70})

	d := cover("c1")
	d.InitialPosition = 10
	if err := f.orch.AddDevice(context.Background(), d); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	st, err := f.orch.State("c1")
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if st.Position == nil || *st.Position != 70 || st.Mode != actuator.ModeIdle {
		t.Errorf("State() = %+v, want idle at persisted 70", st)
	}
}

func TestSetTarget_MovesAndPersistsOnCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.orch.AddDevice(ctx, cover("c1")); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	var states []CanonicalState
	f.orch.OnStateChange(func(st CanonicalState) { states = append(states, st) })

	if err := f.orch.SetTarget(ctx, "c1", 40); err != nil {
		t.Fatalf("SetTarget() error = %v", err)
	}
	sent := f.router.sentTo("c1")
	if len(sent) != 1 || sent[0]["position"] != 40 {
		t.Fatalf("sent = %v, want one position=40 command", sent)
	}
	if _, err := f.persisted("c1"); !errors.Is(err, device.ErrPositionNotFound) {
		t.Error("position persisted while moving")
	}

	f.clock.Advance(8 * time.Second)

	p, err := f.persisted("c1")
	if err != nil {
		t.Fatalf("GetPosition() error = %v", err)
	}
	if p.Target != 40 || p.Estimated != 40 {
		t.Errorf("persisted = %+v, want 40/40", p)
	}

	if len(states) != 2 {
		t.Fatalf("state changes = %d, want 2 (moving, idle)", len(states))
	}
	if states[0].Mode != actuator.ModeMoving || states[1].Mode != actuator.ModeIdle {
		t.Errorf("modes = %s, %s, want moving, idle", states[0].Mode, states[1].Mode)
	}
	if !states[1].CloudReachable {
		t.Error("CloudReachable = false, want reachability merged into state")
	}
}

func TestSetTarget_Unreachable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.orch.AddDevice(ctx, cover("c1")); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	f.router.sendErr = errors.New("timeout")

	err := f.orch.SetTarget(ctx, "c1", 40)
	if !errors.Is(err, transport.ErrDeviceUnreachable) {
		t.Fatalf("SetTarget() error = %v, want %v", err, transport.ErrDeviceUnreachable)
	}
	st, _ := f.orch.State("c1")
	if st.Mode != actuator.ModeIdle || *st.Position != 0 {
		t.Errorf("State() = %+v, want unchanged idle at 0", st)
	}
}

func TestSetTarget_WrongKindAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.orch.AddDevice(ctx, device.Device{ID: "s1", Kind: device.KindSwitch}); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	if err := f.orch.SetTarget(ctx, "s1", 10); !errors.Is(err, ErrNotActuator) {
		t.Errorf("SetTarget(switch) error = %v, want %v", err, ErrNotActuator)
	}
	if err := f.orch.SetTarget(ctx, "nope", 10); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetTarget(unknown) error = %v, want %v", err, ErrDeviceNotFound)
	}
	if err := f.orch.SetPower(ctx, "nope", 0, true); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetPower(unknown) error = %v, want %v", err, ErrDeviceNotFound)
	}
}

func TestSetTargetDebounced_Coalesces(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.AddDevice(context.Background(), cover("c1")); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	for _, v := range []int{20, 35, 50, 60} {
		if err := f.orch.SetTargetDebounced("c1", v, 300*time.Millisecond); err != nil {
			t.Fatalf("SetTargetDebounced(%d) error = %v", v, err)
		}
		f.clock.Advance(100 * time.Millisecond)
	}
	if got := len(f.router.sentTo("c1")); got != 0 {
		t.Fatalf("sends during burst = %d, want 0", got)
	}

	f.clock.Advance(300 * time.Millisecond)
	sent := f.router.sentTo("c1")
	if len(sent) != 1 || sent[0]["position"] != 60 {
		t.Errorf("sent = %v, want exactly one position=60", sent)
	}

	if err := f.orch.SetTargetDebounced("c1", 140, time.Millisecond); !errors.Is(err, actuator.ErrInvalidTarget) {
		t.Errorf("SetTargetDebounced(140) error = %v, want %v", err, actuator.ErrInvalidTarget)
	}
}

func TestSetPower(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.orch.AddDevice(ctx, device.Device{ID: "s1", Kind: device.KindSwitch}); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if err := f.orch.AddDevice(ctx, device.Device{ID: "m1", Kind: device.KindMultiSwitch, Channels: 4}); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	if err := f.orch.SetPower(ctx, "s1", 0, true); err != nil {
		t.Fatalf("SetPower(s1) error = %v", err)
	}
	if sent := f.router.sentTo("s1"); len(sent) != 1 || sent[0]["switch"] != "on" {
		t.Errorf("s1 sent = %v, want switch=on", sent)
	}

	if err := f.orch.SetPower(ctx, "m1", 2, true); err != nil {
		t.Fatalf("SetPower(m1) error = %v", err)
	}
	st, _ := f.orch.State("m1")
	want := []bool{false, false, true, false}
	for i := range want {
		if st.Power[i] != want[i] {
			t.Errorf("Power = %v, want %v", st.Power, want)
			break
		}
	}

	if err := f.orch.SetPower(ctx, "m1", 4, true); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("SetPower(channel 4) error = %v, want %v", err, ErrInvalidChannel)
	}

	if err := f.orch.AddDevice(ctx, cover("c1")); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if err := f.orch.SetPower(ctx, "c1", 0, true); !errors.Is(err, ErrNotSwitch) {
		t.Errorf("SetPower(actuator) error = %v, want %v", err, ErrNotSwitch)
	}
}

func TestDispatch_SwitchUpdates(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.AddDevice(context.Background(), device.Device{ID: "m1", Kind: device.KindMultiSwitch, Channels: 2}); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	var notified int
	f.orch.OnStateChange(func(CanonicalState) { notified++ })

	update := transport.Update{
		DeviceID: "m1",
		Source:   transport.SourceLocal,
		Params: transport.Params{"switches": []any{
			map[string]any{"outlet": float64(1), "switch": "on"},
		}},
	}
	f.orch.Dispatch(update)
	// Repeating the same state is not a change.
	f.orch.Dispatch(update)

	st, _ := f.orch.State("m1")
	if len(st.Power) != 2 || st.Power[0] || !st.Power[1] {
		t.Errorf("Power = %v, want [false true]", st.Power)
	}
	if notified != 1 {
		t.Errorf("notifications = %d, want 1", notified)
	}
}

func TestDispatch_ActuatorSensor(t *testing.T) {
	f := newFixture(t)
	d := cover("g1")
	d.Family = device.FamilyGarageDoor
	d.Motion = actuator.MotionPulse
	d.Sensor = &device.Sensor{Param: "lock", OpenValue: 1, OpenPosition: 100, ClosedPosition: 0}
	if err := f.orch.AddDevice(context.Background(), d); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	f.orch.Dispatch(transport.Update{DeviceID: "g1", Source: transport.SourceCloud, Params: transport.Params{"lock": float64(1)}})

	st, _ := f.orch.State("g1")
	if st.Mode != actuator.ModeExternallyDriven || *st.Position != 100 {
		t.Errorf("State() = %+v, want externally driven at 100", st)
	}
	p, err := f.persisted("g1")
	if err != nil || p.Target != 100 {
		t.Errorf("persisted = %+v, %v, want target 100", p, err)
	}
}

func TestRemoveDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.orch.AddDevice(ctx, cover("c1")); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	_ = f.store.SavePosition(ctx, device.Position{DeviceID: "c1", Estimated: 5, Target: 5})

	if err := f.orch.SetTargetDebounced("c1", 80, time.Second); err != nil {
		t.Fatalf("SetTargetDebounced() error = %v", err)
	}
	if err := f.orch.RemoveDevice(ctx, "c1"); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}

	f.clock.Advance(2 * time.Second)
	if got := len(f.router.sentTo("c1")); got != 0 {
		t.Errorf("sends after removal = %d, want 0", got)
	}
	if _, ok := f.router.registered["c1"]; ok {
		t.Error("device still registered with router")
	}
	if _, err := f.store.GetPosition(ctx, "c1"); !errors.Is(err, device.ErrPositionNotFound) {
		t.Errorf("GetPosition() after removal error = %v, want %v", err, device.ErrPositionNotFound)
	}
	if err := f.orch.RemoveDevice(ctx, "c1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("RemoveDevice() twice error = %v, want %v", err, ErrDeviceNotFound)
	}
}

func TestStatesAndResync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"c2", "c1"} {
		if err := f.orch.AddDevice(ctx, cover(id)); err != nil {
			t.Fatalf("AddDevice(%s) error = %v", id, err)
		}
	}

	states := f.orch.States()
	if len(states) != 2 || states[0].DeviceID != "c1" || states[1].DeviceID != "c2" {
		t.Errorf("States() = %+v, want c1, c2", states)
	}

	if err := f.orch.Resync(ctx, "c1"); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}
	if len(f.router.resyncs) != 1 || f.router.resyncs[0] != "c1" {
		t.Errorf("resyncs = %v, want [c1]", f.router.resyncs)
	}
	if err := f.orch.Resync(ctx, "nope"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Resync(unknown) error = %v, want %v", err, ErrDeviceNotFound)
	}
}

func TestSetTarget_DropsPendingDebouncedTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.orch.AddDevice(ctx, cover("c1")); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	if err := f.orch.SetTargetDebounced("c1", 80, 300*time.Millisecond); err != nil {
		t.Fatalf("SetTargetDebounced() error = %v", err)
	}
	if err := f.orch.SetTarget(ctx, "c1", 40); err != nil {
		t.Fatalf("SetTarget() error = %v", err)
	}
	f.clock.Advance(time.Second)

	sent := f.router.sentTo("c1")
	if len(sent) != 1 || sent[0]["position"] != 40 {
		t.Errorf("sent = %v, want only the immediate position=40", sent)
	}
	if st, _ := f.orch.State("c1"); *st.Target != 40 {
		t.Errorf("Target = %d, want 40", *st.Target)
	}
}

func TestClose_WritesPendingPositions(t *testing.T) {
	store := newMemoryStore()
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	o, err := New(Options{Router: newMockRouter(), Store: store, Clock: clock})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	d := cover("c1")
	if err := o.AddDevice(context.Background(), d); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if err := o.SetTarget(context.Background(), "c1", 10); err != nil {
		t.Fatalf("SetTarget() error = %v", err)
	}
	clock.Advance(3 * time.Second)

	o.Close()
	o.Close()

	p, err := store.GetPosition(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetPosition() after Close error = %v", err)
	}
	if p.Target != 10 || p.Estimated != 10 {
		t.Errorf("persisted = %+v, want 10/10", p)
	}
}
