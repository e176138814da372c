// Package actuator simulates the position of actuators that move over a
// continuous 0..100 range but give no closed-loop position feedback
// (covers, garage doors, motorised valves).
//
// Position is estimated from elapsed motion time. Every deferred effect
// (motion completion, revert-on-failure, debounced sends) carries a Token
// and only takes effect if that token is still current when it fires.
package actuator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/relaysync/internal/transport"
)

// Default timings applied when Config leaves them zero.
const (
	DefaultRevertDelay    = 3 * time.Second
	DefaultCommandTimeout = 10 * time.Second
	DefaultEchoWindow     = 5 * time.Second
)

// Mode is the engine's state machine state.
type Mode string

// Engine modes.
const (
	ModeIdle             Mode = "idle"
	ModeMoving           Mode = "moving"
	ModeExternallyDriven Mode = "externally_driven"
)

// Sender delivers params to a device. Implemented by transport.Router.
type Sender interface {
	Send(ctx context.Context, deviceID string, params transport.Params) (transport.Source, error)
}

// Logger defines the logging interface used by the engine.
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

// Config configures an Engine.
type Config struct {
	DeviceID string

	// OperationTime is the full-travel time from 0 to 100.
	OperationTime time.Duration

	Motion Motion
	Sender Sender

	// Clock defaults to SystemClock.
	Clock Clock

	// Sensor is set when an authoritative position sensor is attached.
	Sensor *SensorMapping

	// Report is set for actuators that report their own position.
	// Ignored when Sensor is set.
	Report *ReportMapping

	// RevertDelay is how long after a failed SetTarget the host-facing
	// state is re-emitted.
	RevertDelay time.Duration

	// CommandTimeout bounds the stop command sent on completion.
	CommandTimeout time.Duration

	// EchoWindow is how long after a delivery an identical inbound update
	// is still treated as its echo.
	EchoWindow time.Duration

	// OnState receives every host-facing state change. It runs after the
	// engine lock is released but must not call SetTarget or Reconcile.
	OnState func(State)

	Logger Logger
}

// Seed is the persisted state an engine starts from.
type Seed struct {
	Position int
	Target   int
}

// State is the host-facing view of an actuator.
type State struct {
	DeviceID  string    `json:"device_id"`
	Position  int       `json:"position"`
	Target    int       `json:"target"`
	Direction Direction `json:"direction"`
	Mode      Mode      `json:"mode"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Engine is the per-device ActuatorEngine.
//
// cmdMu orders outbound commands (SetTarget and the completion stop), so
// one device never has two deliveries outstanding. mu guards the state and
// is never held across a send: inbound updates, including the echo or the
// ack of the command being delivered, are applied while it is in flight.
type Engine struct {
	deviceID       string
	opTime         time.Duration
	motion         Motion
	sender         Sender
	clock          Clock
	sensor         *SensorMapping
	report         *ReportMapping
	revertDelay    time.Duration
	commandTimeout time.Duration
	echoWindow     time.Duration
	onState        func(State)
	logger         Logger

	cmdMu sync.Mutex

	// emitMu keeps notifications in the order their states were taken.
	emitMu sync.Mutex

	mu sync.Mutex
	// estimated is the position at motionStartedAt while moving, and the
	// current position otherwise. Read through liveLocked.
	estimated       float64
	target          int
	direction       Direction
	motionStartedAt time.Time
	activeToken     *Token
	sensorOverride  bool
	// intent guards revert-on-failure: any newer host intent supersedes it.
	intent *Token
	// inflight is the command currently being delivered. Its source is not
	// known yet, so an update repeating it from either transport is an echo.
	inflight   transport.Params
	lastSent   transport.Params
	lastVia    transport.Source
	lastSentAt time.Time
	closed     bool
}

// NewEngine creates an idle engine seeded from persisted state.
func NewEngine(cfg Config, seed Seed) (*Engine, error) {
	if cfg.OperationTime <= 0 {
		return nil, ErrInvalidOperationTime
	}
	if cfg.Motion == nil || cfg.Sender == nil {
		return nil, fmt.Errorf("%w: motion and sender are required", ErrMissingDependency)
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.RevertDelay <= 0 {
		cfg.RevertDelay = DefaultRevertDelay
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.EchoWindow <= 0 {
		cfg.EchoWindow = DefaultEchoWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	pos := clampPosition(float64(seed.Position))
	target := seed.Target
	if target < 0 || target > 100 {
		target = roundPosition(pos)
	}

	return &Engine{
		deviceID:       cfg.DeviceID,
		opTime:         cfg.OperationTime,
		motion:         cfg.Motion,
		sender:         cfg.Sender,
		clock:          cfg.Clock,
		sensor:         cfg.Sensor,
		report:         cfg.Report,
		revertDelay:    cfg.RevertDelay,
		commandTimeout: cfg.CommandTimeout,
		echoWindow:     cfg.EchoWindow,
		onState:        cfg.OnState,
		logger:         cfg.Logger,
		estimated:      pos,
		target:         target,
	}, nil
}

// liveLocked recomputes the position from elapsed motion time. It never
// passes the target and never leaves 0..100.
func (e *Engine) liveLocked(now time.Time) float64 {
	if e.direction == DirectionIdle {
		return e.estimated
	}

	elapsed := now.Sub(e.motionStartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	delta := float64(elapsed) * 100 / float64(e.opTime)
	goal := float64(e.target)

	if e.direction == DirectionIncreasing {
		return clampPosition(math.Min(e.estimated+delta, goal))
	}
	return clampPosition(math.Max(e.estimated-delta, goal))
}

func (e *Engine) stateLocked(now time.Time) State {
	mode := ModeIdle
	switch {
	case e.direction != DirectionIdle:
		mode = ModeMoving
	case e.sensorOverride:
		mode = ModeExternallyDriven
	}
	return State{
		DeviceID:  e.deviceID,
		Position:  roundPosition(e.liveLocked(now)),
		Target:    e.target,
		Direction: e.direction,
		Mode:      mode,
		UpdatedAt: now,
	}
}

// unlockAndEmit releases mu and delivers st, preserving emission order.
// Must be called with mu held.
func (e *Engine) unlockAndEmit(st State) {
	e.emitMu.Lock()
	e.mu.Unlock()
	defer e.emitMu.Unlock()
	if e.onState != nil {
		e.onState(st)
	}
}

// idleLocked finalises at pos with no motion in flight.
func (e *Engine) idleLocked(pos float64, target int) {
	e.estimated = pos
	e.target = target
	e.direction = DirectionIdle
	e.motionStartedAt = time.Time{}
	e.activeToken = nil
}

// Snapshot returns the live host-facing state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked(e.clock.Now())
}

// plan returns the direction and travel time from live to target.
func (e *Engine) plan(live float64, target int) (Direction, time.Duration) {
	dir := DirectionDecreasing
	if float64(target) > live {
		dir = DirectionIncreasing
	}
	return dir, time.Duration(math.Abs(float64(target)-live) * float64(e.opTime) / 100)
}

// recordSentLocked remembers a delivered command for echo detection.
func (e *Engine) recordSentLocked(params transport.Params, via transport.Source, at time.Time) {
	e.lastSent = params
	e.lastVia = via
	e.lastSentAt = at
}

// SetTarget drives the actuator toward target (0..100).
//
// A target equal to the live position is a no-op and sends nothing. On
// success the previous move (if any) is superseded from wherever it had
// reached. On delivery failure the state is left exactly as it was, the
// error is returned, and the host-facing state is re-emitted after the
// revert delay unless a newer intent arrives first.
func (e *Engine) SetTarget(ctx context.Context, target int) error {
	if target < 0 || target > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidTarget, target)
	}

	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}

	now := e.clock.Now()
	live := e.liveLocked(now)
	intent := NewToken()
	e.intent = intent

	if roundPosition(live) == target {
		e.mu.Unlock()
		e.logger.Debug("target equals live position, no command sent",
			"device_id", e.deviceID,
			"target", target,
		)
		return nil
	}

	dir, duration := e.plan(live, target)
	if duration < time.Millisecond {
		e.idleLocked(float64(target), target)
		e.sensorOverride = false
		e.unlockAndEmit(e.stateLocked(now))
		return nil
	}

	params := e.motion.Start(target, dir)
	e.inflight = params
	e.mu.Unlock()

	via, err := e.sender.Send(ctx, e.deviceID, params)

	e.mu.Lock()
	e.inflight = nil
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if err != nil {
		e.scheduleRevertLocked(intent)
		e.mu.Unlock()
		e.logger.Warn("motion start failed, state unchanged",
			"device_id", e.deviceID,
			"target", target,
			"error", err,
		)
		return fmt.Errorf("actuator %s: set target %d: %w", e.deviceID, target, err)
	}

	// The move starts now, from wherever the state reached while the
	// command was being delivered.
	startedAt := e.clock.Now()
	from := e.liveLocked(startedAt)
	e.recordSentLocked(params, via, startedAt)
	e.sensorOverride = false

	dir, duration = e.plan(from, target)
	if duration < time.Millisecond {
		e.idleLocked(float64(target), target)
		e.unlockAndEmit(e.stateLocked(startedAt))
		return nil
	}

	tok := NewToken()
	e.estimated = from
	e.target = target
	e.direction = dir
	e.motionStartedAt = startedAt
	e.activeToken = tok

	e.clock.AfterFunc(duration, func() { e.complete(tok) })

	e.logger.Debug("motion started",
		"device_id", e.deviceID,
		"from", from,
		"target", target,
		"direction", dir.String(),
		"duration", duration,
		"via", via,
		"token", tok.String(),
	)

	e.unlockAndEmit(e.stateLocked(startedAt))
	return nil
}

// complete is the scheduled end of a move. Superseded tokens are no-ops.
func (e *Engine) complete(tok *Token) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	e.mu.Lock()
	if e.activeToken != tok {
		e.mu.Unlock()
		e.logger.Debug("superseded completion ignored", "device_id", e.deviceID, "token", tok.String())
		return
	}
	stop := e.motion.Stop(e.direction)
	e.inflight = stop
	e.mu.Unlock()

	var via transport.Source
	var err error
	if stop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.commandTimeout)
		via, err = e.sender.Send(ctx, e.deviceID, stop)
		cancel()
		if err != nil {
			e.logger.Warn("motion stop failed", "device_id", e.deviceID, "error", err)
		}
	}

	e.mu.Lock()
	e.inflight = nil
	if e.activeToken != tok {
		// A sensor reading or self-report settled the move during the stop.
		e.mu.Unlock()
		return
	}

	// The start command is no longer what was just sent.
	e.lastSent = nil
	now := e.clock.Now()
	if stop != nil && err == nil {
		e.recordSentLocked(stop, via, now)
	}

	// Clamp-on-completion: the move is taken to have reached its target.
	e.idleLocked(float64(e.target), e.target)
	e.unlockAndEmit(e.stateLocked(now))
}

func (e *Engine) scheduleRevertLocked(intent *Token) {
	e.clock.AfterFunc(e.revertDelay, func() {
		e.mu.Lock()
		if e.intent != intent {
			e.mu.Unlock()
			return
		}
		e.intent = nil
		e.unlockAndEmit(e.stateLocked(e.clock.Now()))
	})
}

// Reconcile folds an inbound update into the actuator state.
//
// Echoes of what this engine just sent are ignored. A sensor reading puts
// the engine into externally-driven mode. Self-reported position telemetry
// overwrites the estimate when no sensor is attached.
func (e *Engine) Reconcile(u transport.Update) {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return
	}

	now := e.clock.Now()
	if e.isEchoLocked(u, now) {
		e.mu.Unlock()
		e.logger.Debug("stale echo ignored", "device_id", e.deviceID, "source", u.Source)
		return
	}

	if e.sensor != nil {
		reading, ok := u.Params[e.sensor.Param]
		if !ok {
			e.mu.Unlock()
			return
		}
		pos := e.sensor.Position(reading)
		if e.activeToken != nil {
			e.logger.Debug("sensor reading supersedes estimated motion",
				"device_id", e.deviceID,
				"token", e.activeToken.String(),
			)
		}
		e.idleLocked(float64(pos), pos)
		e.sensorOverride = true
		e.unlockAndEmit(e.stateLocked(now))
		return
	}

	if e.report != nil {
		current, hasCurrent, target, hasTarget := e.report.read(u.Params)
		if hasCurrent || hasTarget {
			pos := e.liveLocked(now)
			if hasCurrent {
				pos = clampPosition(current)
			}
			tgt := roundPosition(pos)
			if hasTarget {
				tgt = roundPosition(target)
			}
			e.idleLocked(pos, tgt)
			e.unlockAndEmit(e.stateLocked(now))
			return
		}
	}

	e.mu.Unlock()
}

// isEchoLocked reports whether u only repeats the command in flight, or
// the one last delivered over the same transport within the echo window.
func (e *Engine) isEchoLocked(u transport.Update, now time.Time) bool {
	if len(u.Params) == 0 {
		return false
	}
	if e.inflight != nil && repeats(e.inflight, u.Params) {
		return true
	}
	if e.lastSent == nil || u.Source != e.lastVia || now.Sub(e.lastSentAt) > e.echoWindow {
		return false
	}
	return repeats(e.lastSent, u.Params)
}

func repeats(sent, got transport.Params) bool {
	for k, v := range got {
		s, ok := sent[k]
		if !ok || !sameWireValue(s, v) {
			return false
		}
	}
	return true
}

// Close invalidates every pending deferred effect. Further SetTarget calls
// fail with ErrEngineClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.intent = nil
	pos := e.liveLocked(e.clock.Now())
	e.idleLocked(pos, roundPosition(pos))
}
