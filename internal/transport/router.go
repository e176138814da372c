package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Default timeouts applied when Options leaves them zero.
const (
	DefaultLocalTimeout  = 2 * time.Second
	DefaultCloudTimeout  = 5 * time.Second
	DefaultResyncTimeout = 10 * time.Second
)

// Options configures a Router.
type Options struct {
	// Local is the LAN transport. Nil disables local delivery entirely.
	Local Sender

	// Cloud is the cloud transport. Required.
	Cloud Sender

	// LocalTimeout bounds a single local delivery attempt.
	LocalTimeout time.Duration

	// CloudTimeout bounds a single cloud round trip.
	CloudTimeout time.Duration

	// ResyncTimeout bounds a background state-resync request.
	ResyncTimeout time.Duration

	// Recorder receives per-attempt delivery telemetry. Optional.
	Recorder DeliveryRecorder

	// Logger is optional.
	Logger Logger

	// Now overrides the wall clock (tests).
	Now func() time.Time
}

// Router is the TransportRouter: it chooses local or cloud delivery for
// outbound commands and merges inbound updates into a canonical view.
//
// The registry map is guarded by mu for lookup only. All per-device
// mutation happens under that device's own lock, so devices never contend
// with one another.
type Router struct {
	local         Sender
	cloud         Sender
	localTimeout  time.Duration
	cloudTimeout  time.Duration
	resyncTimeout time.Duration
	recorder      DeliveryRecorder
	logger        Logger
	now           func() time.Time

	mu      sync.RWMutex
	devices map[string]*deviceState
	handler func(Update)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRouter creates a router. Devices must be registered before use.
func NewRouter(opts Options) (*Router, error) {
	if opts.Cloud == nil {
		return nil, ErrNoCloudTransport
	}
	if opts.LocalTimeout <= 0 {
		opts.LocalTimeout = DefaultLocalTimeout
	}
	if opts.CloudTimeout <= 0 {
		opts.CloudTimeout = DefaultCloudTimeout
	}
	if opts.ResyncTimeout <= 0 {
		opts.ResyncTimeout = DefaultResyncTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		local:         opts.Local,
		cloud:         opts.Cloud,
		localTimeout:  opts.LocalTimeout,
		cloudTimeout:  opts.CloudTimeout,
		resyncTimeout: opts.ResyncTimeout,
		recorder:      opts.Recorder,
		logger:        opts.Logger,
		now:           opts.Now,
		devices:       make(map[string]*deviceState),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// SetHandler installs the consumer of merged inbound deltas.
func (r *Router) SetHandler(h func(Update)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// Register adds a device or replaces its registration. Replacing resets the
// device's TransportState and last-known parameters.
func (r *Router) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[reg.DeviceID] = newDeviceState(reg)
}

// Unregister removes a device. In-flight sends complete but their results
// are no longer recorded against any state.
func (r *Router) Unregister(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, deviceID)
}

// Devices returns the IDs of all registered devices.
func (r *Router) Devices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	return ids
}

func (r *Router) lookup(deviceID string) (*deviceState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.devices[deviceID]
	return st, ok
}

// Reachability returns a snapshot of the device's TransportState.
func (r *Router) Reachability(deviceID string) (Reachability, bool) {
	st, ok := r.lookup(deviceID)
	if !ok {
		return Reachability{}, false
	}
	return st.snapshot(), true
}

// LastKnown returns a copy of the device's canonical parameter map.
func (r *Router) LastKnown(deviceID string) (map[string]Field, bool) {
	st, ok := r.lookup(deviceID)
	if !ok {
		return nil, false
	}
	return st.lastKnown(), true
}

// Send delivers params to a device.
//
// Local delivery is tried first unless the device cannot be reached
// locally or the heartbeat has reported it absent. On local failure the
// cloud is tried only when the device is reported cloud-reachable. There
// are no retries: Send blocks for at most one local timeout plus one cloud
// round trip.
//
// Returns the transport that carried the command, or an error matching
// ErrDeviceUnreachable.
func (r *Router) Send(ctx context.Context, deviceID string, params Params) (Source, error) {
	st, ok := r.lookup(deviceID)
	if !ok {
		return "", &DeliveryError{DeviceID: deviceID, Local: ErrUnknownDevice, Cloud: ErrUnknownDevice}
	}

	st.mu.Lock()
	dst := st.destination()
	tryLocal := r.local != nil && st.localPreferred()
	st.mu.Unlock()

	localErr := ErrLocalSkipped
	if tryLocal {
		localErr = r.attempt(ctx, r.local, SourceLocal, r.localTimeout, dst, params)
		if localErr == nil {
			st.mu.Lock()
			st.reach.LocalReachable = true
			st.mu.Unlock()
			return SourceLocal, nil
		}
		r.logger.Debug("local delivery failed, considering cloud",
			"device_id", deviceID,
			"error", localErr,
		)
	}

	st.mu.Lock()
	cloudReachable := st.reach.CloudReachable
	st.mu.Unlock()

	if !cloudReachable {
		return "", &DeliveryError{DeviceID: deviceID, Local: localErr, Cloud: ErrCloudOffline}
	}

	if cloudErr := r.attempt(ctx, r.cloud, SourceCloud, r.cloudTimeout, dst, params); cloudErr != nil {
		return "", &DeliveryError{DeviceID: deviceID, Local: localErr, Cloud: cloudErr}
	}
	return SourceCloud, nil
}

func (r *Router) attempt(ctx context.Context, s Sender, src Source, timeout time.Duration, dst Destination, params Params) error {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := s.Send(actx, dst, params)
	if r.recorder != nil {
		r.recorder.RecordDelivery(dst.DeviceID, string(src), err == nil, r.now().Sub(start))
	}
	if err != nil {
		return fmt.Errorf("%s delivery: %w", src, err)
	}
	return nil
}

// Receive processes one inbound message: it updates reachability, merges
// params last-writer-wins into the canonical view, and forwards the delta
// (annotated with its source) to the handler.
func (r *Router) Receive(in Inbound) {
	st, ok := r.lookup(in.DeviceID)
	if !ok {
		r.logger.Debug("inbound update for unknown device", "device_id", in.DeviceID, "source", in.Source)
		return
	}

	st.inbound.Lock()
	defer st.inbound.Unlock()

	now := r.now()
	resync := Source("")

	st.mu.Lock()
	switch in.Source {
	case SourceCloud:
		switch {
		case in.Online != nil:
			wasOnline := st.reach.CloudReachable
			st.reach.CloudReachable = *in.Online
			if !wasOnline && *in.Online {
				resync = SourceCloud
			}
		case len(in.Params) > 0 && !st.reach.CloudReachable:
			// Traffic over the cloud implies the device is online there.
			st.reach.CloudReachable = true
			resync = SourceCloud
		}
	case SourceLocal:
		st.absent = false
		if in.Address != "" {
			st.reach.LocalAddress = in.Address
		}
		if !st.reach.LocalReachable {
			st.reach.LocalReachable = true
			resync = SourceLocal
		}
	}

	delta := make(Params, len(in.Params))
	for k, v := range in.Params {
		st.params[k] = Field{Value: v, Source: in.Source, UpdatedAt: now}
		delta[k] = v
	}
	dst := st.destination()
	st.mu.Unlock()

	if resync != "" {
		r.logger.Info("transport became reachable, requesting resync",
			"device_id", in.DeviceID,
			"source", resync,
		)
		r.scheduleResync(resync, dst)
	}

	if len(delta) == 0 {
		return
	}

	r.mu.RLock()
	h := r.handler
	r.mu.RUnlock()
	if h != nil {
		h(Update{DeviceID: in.DeviceID, Source: in.Source, Params: delta, ReceivedAt: now})
	}
}

// LocalTargets returns the destination of every device that can be
// reached on the LAN, for the heartbeat monitor.
func (r *Router) LocalTargets() []Destination {
	r.mu.RLock()
	states := make([]*deviceState, 0, len(r.devices))
	for _, st := range r.devices {
		states = append(states, st)
	}
	r.mu.RUnlock()

	out := make([]Destination, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		if st.localCandidate() {
			out = append(out, st.destination())
		}
		st.mu.Unlock()
	}
	return out
}

// LocalHeartbeat is a presence event from the local heartbeat mechanism.
func (r *Router) LocalHeartbeat(deviceID, address string) {
	r.Receive(Inbound{DeviceID: deviceID, Source: SourceLocal, Address: address})
}

// LocalAbsent is an explicit absence event. It is the only way
// localReachable is cleared, and sends go straight to the cloud until the
// device is heard from locally again.
func (r *Router) LocalAbsent(deviceID string) {
	st, ok := r.lookup(deviceID)
	if !ok {
		return
	}
	st.mu.Lock()
	was := st.reach.LocalReachable
	st.reach.LocalReachable = false
	st.absent = true
	st.mu.Unlock()

	if was {
		r.logger.Info("device absent on local network", "device_id", deviceID)
	}
}

// Resync asks the device to re-report its full state, preferring the local
// transport when it is reachable.
func (r *Router) Resync(ctx context.Context, deviceID string) error {
	st, ok := r.lookup(deviceID)
	if !ok {
		return &DeliveryError{DeviceID: deviceID, Local: ErrUnknownDevice, Cloud: ErrUnknownDevice}
	}

	st.mu.Lock()
	dst := st.destination()
	tryLocal := r.local != nil && st.localPreferred() && st.reach.LocalReachable
	cloudReachable := st.reach.CloudReachable
	st.mu.Unlock()

	localErr := ErrLocalSkipped
	if tryLocal {
		lctx, cancel := context.WithTimeout(ctx, r.localTimeout)
		localErr = r.local.RequestState(lctx, dst)
		cancel()
		if localErr == nil {
			return nil
		}
	}
	if !cloudReachable {
		return &DeliveryError{DeviceID: deviceID, Local: localErr, Cloud: ErrCloudOffline}
	}

	cctx, cancel := context.WithTimeout(ctx, r.cloudTimeout)
	defer cancel()
	if err := r.cloud.RequestState(cctx, dst); err != nil {
		return &DeliveryError{DeviceID: deviceID, Local: localErr, Cloud: err}
	}
	return nil
}

func (r *Router) scheduleResync(src Source, dst Destination) {
	sender := r.cloud
	if src == SourceLocal {
		sender = r.local
	}
	if sender == nil {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, r.resyncTimeout)
		defer cancel()
		if err := sender.RequestState(ctx, dst); err != nil {
			r.logger.Warn("state resync request failed",
				"device_id", dst.DeviceID,
				"source", src,
				"error", err,
			)
		}
	}()
}

// Close cancels background resync requests and waits for them to finish.
func (r *Router) Close() {
	r.cancel()
	r.wg.Wait()
}
