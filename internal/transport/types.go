// Package transport routes outbound device commands over a preferred local
// transport with cloud fallback, and folds inbound updates from both
// transports into one canonical per-device view.
//
// The router owns one TransportState per registered device. Reachability is
// only ever changed by evidence: inbound traffic, a successful local
// delivery, the cloud's online flag, or an explicit heartbeat absence event.
package transport

import (
	"context"
	"maps"
	"time"
)

// Source identifies which transport carried a message.
type Source string

// Transport sources.
const (
	SourceLocal Source = "local"
	SourceCloud Source = "cloud"
)

// Params is a partial device parameter set in the vendor's wire field names.
type Params map[string]any

// Clone returns a shallow copy of p. A nil map clones to nil.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// Destination is everything a transport needs to address one device.
type Destination struct {
	DeviceID string
	APIKey   string
	Address  string
}

// Sender is implemented by the local and cloud transports.
type Sender interface {
	// Send delivers params to the device. It must honour ctx cancellation.
	Send(ctx context.Context, dst Destination, params Params) error

	// RequestState asks the device to re-report its full state. The answer
	// arrives later through Router.Receive.
	RequestState(ctx context.Context, dst Destination) error
}

// Registration seeds the router with one device.
type Registration struct {
	DeviceID         string
	APIKey           string
	LocalAddress     string
	LocalUnsupported bool
	CloudOnline      bool
}

// Reachability is a snapshot of a device's TransportState.
type Reachability struct {
	LocalReachable bool   `json:"local_reachable"`
	LocalAddress   string `json:"local_address,omitempty"`
	CloudReachable bool   `json:"cloud_reachable"`
}

// Inbound is one message arriving from a transport.
type Inbound struct {
	DeviceID string
	Source   Source
	Params   Params

	// Online is the cloud's explicit online/offline flag, when present.
	Online *bool

	// Address is the LAN address a local message came from, when known.
	Address string
}

// Update is a merged inbound delta forwarded to the orchestrator.
type Update struct {
	DeviceID   string
	Source     Source
	Params     Params
	ReceivedAt time.Time
}

// Field is one entry of the canonical last-known parameter map.
type Field struct {
	Value     any       `json:"value"`
	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeliveryRecorder receives one record per delivery attempt.
// Implemented by the InfluxDB client.
type DeliveryRecorder interface {
	RecordDelivery(deviceID, transport string, success bool, latency time.Duration)
}

// Logger defines the logging interface used by the router.
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
