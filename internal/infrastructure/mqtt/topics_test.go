package mqtt

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/relaysync/internal/infrastructure/config"
)

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Prefix: "acme/cloud/"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"command", topics.Command("1000aa01"), "acme/cloud/1000aa01/command"},
		{"query", topics.Query("1000aa01"), "acme/cloud/1000aa01/query"},
		{"ack", topics.Ack("1000aa01"), "acme/cloud/1000aa01/ack"},
		{"state", topics.State("1000aa01"), "acme/cloud/1000aa01/state"},
		{"online", topics.Online("1000aa01"), "acme/cloud/1000aa01/online"},
		{"all acks", topics.AllOf(ChannelAck), "acme/cloud/+/ack"},
		{"bridge status", topics.BridgeStatus("b1"), "acme/cloud/bridge/b1/status"},
		{"default prefix", Topics{}.State("x"), "relaysync/cloud/x/state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopicsParse(t *testing.T) {
	topics := Topics{Prefix: "relaysync/cloud"}

	tests := []struct {
		topic       string
		wantDevice  string
		wantChannel string
		wantErr     bool
	}{
		{"relaysync/cloud/1000aa01/state", "1000aa01", ChannelState, false},
		{"relaysync/cloud/1000aa01/ack", "1000aa01", ChannelAck, false},
		{"other/cloud/1000aa01/state", "", "", true},
		{"relaysync/cloud/1000aa01", "", "", true},
		{"relaysync/cloud/bridge/b1/status", "", "", true},
		{"relaysync/cloud//state", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			device, channel, err := topics.Parse(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Errorf("Parse() error = %v, want ErrInvalidTopic", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if device != tt.wantDevice || channel != tt.wantChannel {
				t.Errorf("Parse() = (%q, %q), want (%q, %q)", device, channel, tt.wantDevice, tt.wantChannel)
			}
		})
	}
}

func TestStatusPayload(t *testing.T) {
	var s Status
	if err := json.Unmarshal(statusPayload("bridge-1", "offline", "graceful_shutdown"), &s); err != nil {
		t.Fatalf("status payload is not JSON: %v", err)
	}
	if s.Status != "offline" || s.ClientID != "bridge-1" || s.Reason != "graceful_shutdown" {
		t.Errorf("Status = %+v", s)
	}
	if s.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true, ClientID: "relaysync"},
		Auth:   config.MQTTAuthConfig{Username: "bridge", Password: "secret"},
		QoS:    1,
	}
	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Errorf("Servers = %v, want ssl://broker.local:8883", opts.Servers)
	}
	if opts.ClientID != "relaysync" {
		t.Errorf("ClientID = %q, want relaysync", opts.ClientID)
	}
	if opts.Username != "bridge" {
		t.Errorf("Username = %q, want bridge", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil, want TLS enabled")
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Errorf("CleanSession = %v, AutoReconnect = %v, want both true", opts.CleanSession, opts.AutoReconnect)
	}
}

func TestClientWithoutConnection(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if c.IsConnected() {
		t.Error("IsConnected() = true for unconnected client")
	}
	if err := c.Publish("a/b", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Publish("", nil, 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("a/b", 3, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
