// Package cloud implements the cloud transport: device commands relayed
// through the vendor cloud over an MQTT broker, with per-command ack
// correlation.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/relaysync/internal/infrastructure/mqtt"
	"github.com/nerrad567/relaysync/internal/transport"
)

// DefaultTimeout bounds a command round trip when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// MQTTClient is the subset of the broker client the transport uses.
// Implemented by *mqtt.Client.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Receiver accepts inbound cloud traffic. Implemented by *transport.Router.
type Receiver interface {
	Receive(in transport.Inbound)
}

// Options configures a Transport.
type Options struct {
	Client  MQTTClient
	Topics  mqtt.Topics
	QoS     byte
	Timeout time.Duration
	Logger  transport.Logger

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Transport sends commands through the cloud relay and feeds the cloud's
// state and presence reports into a Receiver.
type Transport struct {
	client  MQTTClient
	topics  mqtt.Topics
	qos     byte
	timeout time.Duration
	logger  transport.Logger
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	pending  map[string]chan AckMessage
	receiver Receiver
	started  bool
	done     chan struct{}
}

// New creates a cloud transport. Call Start before sending.
func New(opts Options) (*Transport, error) {
	if opts.Client == nil {
		return nil, ErrNoClient
	}
	t := &Transport{
		client:  opts.Client,
		topics:  opts.Topics,
		qos:     opts.QoS,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     opts.Now,
		newID:   opts.NewID,
		pending: make(map[string]chan AckMessage),
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	if t.logger == nil {
		t.logger = noopLogger{}
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.newID == nil {
		t.newID = uuid.NewString
	}
	return t, nil
}

func (t *Transport) subscriptions() []string {
	return []string{
		t.topics.AllOf(mqtt.ChannelAck),
		t.topics.AllOf(mqtt.ChannelState),
		t.topics.AllOf(mqtt.ChannelOnline),
	}
}

// Start subscribes to the ack, state and online wildcards and starts
// forwarding state and presence to r.
func (t *Transport) Start(ctx context.Context, r Receiver) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.receiver = r
	t.started = true
	t.done = make(chan struct{})
	t.mu.Unlock()

	for _, topic := range t.subscriptions() {
		if err := t.client.Subscribe(topic, t.qos, t.handleMessage); err != nil {
			t.Stop()
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	t.logger.Info("cloud transport started", "topic_prefix", t.topics.Prefix)
	return nil
}

// Stop unsubscribes and fails every command still waiting for an ack.
func (t *Transport) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	close(t.done)
	t.pending = make(map[string]chan AckMessage)
	t.mu.Unlock()

	for _, topic := range t.subscriptions() {
		if err := t.client.Unsubscribe(topic); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
			t.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

// Send publishes a command and waits for its ack.
func (t *Transport) Send(ctx context.Context, dst transport.Destination, params transport.Params) error {
	id := t.newID()
	msg := CommandMessage{
		ID:        id,
		DeviceID:  dst.DeviceID,
		APIKey:    dst.APIKey,
		Params:    params,
		Timestamp: t.now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	// Register before publishing; the ack can arrive before Publish returns.
	ackCh := make(chan AckMessage, 1)
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return ErrNotStarted
	}
	t.pending[id] = ackCh
	done := t.done
	t.mu.Unlock()
	defer t.forget(id)

	if err := t.client.Publish(t.topics.Command(dst.DeviceID), payload, t.qos, false); err != nil {
		return fmt.Errorf("publishing command: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	select {
	case ack := <-ackCh:
		if ack.Status != AckOK {
			return fmt.Errorf("%w: %s", ErrRejected, ack.Error)
		}
		return nil
	case <-done:
		return ErrNotStarted
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: command %s", ErrAckTimeout, id)
		}
		return ctx.Err()
	}
}

func (t *Transport) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// RequestState publishes a query; the answer arrives on the state topic.
func (t *Transport) RequestState(ctx context.Context, dst transport.Destination) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(QueryMessage{
		ID:        t.newID(),
		DeviceID:  dst.DeviceID,
		APIKey:    dst.APIKey,
		Timestamp: t.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding query: %w", err)
	}
	if err := t.client.Publish(t.topics.Query(dst.DeviceID), payload, t.qos, false); err != nil {
		return fmt.Errorf("publishing query: %w", err)
	}
	return nil
}

// handleMessage dispatches one inbound message by channel.
func (t *Transport) handleMessage(topic string, payload []byte) error {
	deviceID, channel, err := t.topics.Parse(topic)
	if err != nil {
		return err
	}

	switch channel {
	case mqtt.ChannelAck:
		var ack AckMessage
		if err := json.Unmarshal(payload, &ack); err != nil {
			return fmt.Errorf("decoding ack for %s: %w", deviceID, err)
		}
		t.resolve(ack)
		return nil

	case mqtt.ChannelState:
		var msg StateMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decoding state for %s: %w", deviceID, err)
		}
		if msg.Online != nil {
			t.deliver(transport.Inbound{DeviceID: deviceID, Source: transport.SourceCloud, Online: msg.Online})
		}
		if len(msg.Params) > 0 {
			t.deliver(transport.Inbound{DeviceID: deviceID, Source: transport.SourceCloud, Params: msg.Params})
		}
		return nil

	case mqtt.ChannelOnline:
		var msg OnlineMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decoding online flag for %s: %w", deviceID, err)
		}
		online := msg.Online
		t.deliver(transport.Inbound{DeviceID: deviceID, Source: transport.SourceCloud, Online: &online})
		return nil

	default:
		t.logger.Debug("ignoring cloud message", "topic", topic)
		return nil
	}
}

func (t *Transport) resolve(ack AckMessage) {
	t.mu.Lock()
	ch, ok := t.pending[ack.ID]
	delete(t.pending, ack.ID)
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("ack for unknown or expired command", "command_id", ack.ID)
		return
	}
	ch <- ack
}

func (t *Transport) deliver(in transport.Inbound) {
	t.mu.Lock()
	r := t.receiver
	started := t.started
	t.mu.Unlock()
	if started && r != nil {
		r.Receive(in)
	}
}

// PendingCount returns the number of commands awaiting an ack.
func (t *Transport) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
