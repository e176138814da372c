package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/relaysync/internal/auth"
	"github.com/nerrad567/relaysync/internal/infrastructure/config"
	"github.com/nerrad567/relaysync/internal/infrastructure/logging"
	"github.com/nerrad567/relaysync/internal/orchestrator"
)

func testHub() *Hub {
	return NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logging.Default())
}

func readQueued(t *testing.T, c *WSClient) WSMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message queued")
		return WSMessage{}
	}
}

func TestHub_NewClientsFollowEveryDevice(t *testing.T) {
	hub := testHub()
	client := hub.newClient(nil, "homehub")
	hub.Register(client)

	hub.Publish(orchestrator.CanonicalState{DeviceID: "blind-1"})

	msg := readQueued(t, client)
	if msg.Type != WSTypeEvent || msg.EventType != EventDeviceStateChanged {
		t.Errorf("message = %+v, want %s event", msg, EventDeviceStateChanged)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["device_id"] != "blind-1" {
		t.Errorf("payload = %v, want blind-1 state", payload)
	}
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub := testHub()
	client := hub.newClient(nil, "homehub")
	hub.Register(client)

	if n := hub.ClientCount(); n != 1 {
		t.Fatalf("ClientCount() = %d, want 1", n)
	}
	hub.Unregister(client)
	hub.Unregister(client)
	if n := hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}

	if client.deliver([]byte("late")) {
		t.Error("deliver() = true after unregister, want false")
	}
	if _, ok := <-client.send; ok {
		t.Error("send queue still open after unregister")
	}
}

func TestHub_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	hub := testHub()
	client := hub.newClient(nil, "homehub")
	hub.Register(client)

	for i := 0; i < feedQueueSize+10; i++ {
		hub.Publish(orchestrator.CanonicalState{DeviceID: "blind-1"})
	}
	if got := len(client.send); got != feedQueueSize {
		t.Errorf("queued = %d, want %d", got, feedQueueSize)
	}
}

func TestWSClient_DeviceSubscriptions(t *testing.T) {
	tests := []struct {
		name     string
		messages []string
		want     map[string]bool
	}{
		{
			name: "default follows all",
			want: map[string]bool{"blind-1": true, "plug-1": true},
		},
		{
			name:     "narrow to one device",
			messages: []string{`{"type":"unsubscribe","id":"u","payload":{"devices":["*"]}}`, `{"type":"subscribe","id":"s","payload":{"devices":["blind-1"]}}`},
			want:     map[string]bool{"blind-1": true, "plug-1": false},
		},
		{
			name:     "unsubscribe a device while following all",
			messages: []string{`{"type":"unsubscribe","id":"u","payload":{"devices":["plug-1"]}}`},
			want:     map[string]bool{"blind-1": true, "plug-1": true},
		},
		{
			name:     "follow nothing",
			messages: []string{`{"type":"unsubscribe","id":"u","payload":{"devices":["*"]}}`},
			want:     map[string]bool{"blind-1": false, "plug-1": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := testHub()
			client := hub.newClient(nil, "homehub")
			hub.Register(client)
			for _, m := range tt.messages {
				client.handleMessage([]byte(m))
				if resp := readQueued(t, client); resp.Type != WSTypeResponse {
					t.Fatalf("response to %s = %+v", m, resp)
				}
			}

			for id, want := range tt.want {
				hub.Publish(orchestrator.CanonicalState{DeviceID: id})
				got := false
				select {
				case <-client.send:
					got = true
				default:
				}
				if got != want {
					t.Errorf("received %s = %v, want %v", id, got, want)
				}
			}
		})
	}
}

func TestWSClient_SubscribeRepliesWithFollowedDevices(t *testing.T) {
	client := testHub().newClient(nil, "homehub")

	client.handleMessage([]byte(`{"type":"unsubscribe","id":"u1","payload":{"devices":["*"]}}`))
	readQueued(t, client)
	client.handleMessage([]byte(`{"type":"subscribe","id":"s1","payload":{"devices":["plug-1"]}}`))

	resp := readQueued(t, client)
	if resp.ID != "s1" {
		t.Errorf("ID = %q, want s1", resp.ID)
	}
	payload, _ := resp.Payload.(map[string]any)
	devices, _ := payload["devices"].([]any)
	if len(devices) != 1 || devices[0] != "plug-1" {
		t.Errorf("devices = %v, want [plug-1]", payload["devices"])
	}
}

func TestWSClient_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantType string
	}{
		{"ping", `{"type":"ping","id":"p1"}`, WSTypePong},
		{"invalid json", `{`, WSTypeError},
		{"unknown type", `{"type":"launch","id":"x"}`, WSTypeError},
		{"subscribe without devices", `{"type":"subscribe","id":"s","payload":{}}`, WSTypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testHub().newClient(nil, "homehub")
			client.handleMessage([]byte(tt.message))
			if got := readQueued(t, client).Type; got != tt.wantType {
				t.Errorf("response type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

// dialWS connects to the server's WebSocket with the token query param.
func dialWS(t *testing.T, ts *httptest.Server, tok string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	if tok != "" {
		url += "?token=" + tok
	}
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestWebSocket_SnapshotThenStateChanges(t *testing.T) {
	devices := newFakeDevices(blindState())
	srv := testServer(t, devices)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws, resp, err := dialWS(t, ts, token(t, auth.ScopeRead))
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline

	var snapshot WSMessage
	if err := ws.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.EventType != EventDeviceSnapshot {
		t.Fatalf("first event = %q, want %q", snapshot.EventType, EventDeviceSnapshot)
	}

	moved := blindState()
	moved.Mode = "moving"
	devices.emit(moved)

	var raw map[string]any
	if err := ws.ReadJSON(&raw); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if raw["type"] != "event" || raw["event_type"] != "device.state_changed" {
		t.Errorf("event envelope = %v", raw)
	}
	payload, _ := raw["payload"].(map[string]any)
	if payload["device_id"] != "blind-1" || payload["mode"] != "moving" {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	srv := testServer(t, newFakeDevices())
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	tests := []struct {
		name string
		tok  string
	}{
		{"missing", ""},
		{"invalid", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := dialWS(t, ts, tt.tok)
			if err == nil {
				t.Fatal("dial succeeded, want rejection")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("response = %v, want 401", resp)
			}
		})
	}
}
