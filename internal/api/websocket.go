package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/relaysync/internal/infrastructure/config"
	"github.com/nerrad567/relaysync/internal/infrastructure/logging"
	"github.com/nerrad567/relaysync/internal/orchestrator"
)

// Feed message types. Hosts send subscribe, unsubscribe and ping; the
// bridge sends the rest.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// EventDeviceStateChanged carries one CanonicalState.
	EventDeviceStateChanged = "device.state_changed"

	// EventDeviceSnapshot carries every device's state, sent once on connect.
	EventDeviceSnapshot = "device.snapshot"

	// AllDevices in a subscription matches every device, including ones
	// added after the host connected.
	AllDevices = "*"

	feedQueueSize = 256
)

// WSMessage is the envelope for every frame on the feed.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names the devices a subscribe or unsubscribe applies to.
type WSSubscribePayload struct {
	Devices []string `json:"devices"`
}

// Hub fans device state out to the connected hosts.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one host connection and the devices it follows.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string
	send    chan []byte

	mu      sync.RWMutex
	closed  bool
	devices map[string]struct{}
}

// The CORS middleware has already vetted the origin by the time a
// request reaches the upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every host.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register starts delivering state to client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("host connected to feed", "subject", client.subject, "clients", n)
}

// Unregister stops delivery to client and ends its writer. It is safe to
// call more than once.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if client.shutdown() {
		h.logger.Debug("host left feed", "subject", client.subject, "clients", n)
	}
}

// Publish queues st for every host following its device. A host that is
// not keeping up misses the update; the next one for that device carries
// the full state anyway.
func (h *Hub) Publish(st orchestrator.CanonicalState) {
	data, err := eventMessage(EventDeviceStateChanged, st)
	if err != nil {
		h.logger.Error("encoding state event failed", "device_id", st.DeviceID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.follows(st.DeviceID) && !c.deliver(data) {
			h.logger.Debug("host feed full, state dropped",
				"subject", c.subject,
				"device_id", st.DeviceID,
			)
		}
	}
}

// ClientCount returns the number of connected hosts.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func eventMessage(eventType string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
}

// newClient creates a client following every device.
func (h *Hub) newClient(conn *websocket.Conn, subject string) *WSClient {
	return &WSClient{
		hub:     h,
		conn:    conn,
		subject: subject,
		send:    make(chan []byte, feedQueueSize),
		devices: map[string]struct{}{AllDevices: {}},
	}
}

// handleWebSocket upgrades an authenticated request and starts the
// client's reader and writer.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	var subject string
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}
	client := s.hub.newClient(conn, subject)

	// Queued before registering so no state change can overtake it.
	if data, err := eventMessage(EventDeviceSnapshot, s.devices.States()); err == nil {
		client.deliver(data)
	}
	s.hub.Register(client)

	keepalive := time.Duration(s.wsCfg.PingInterval) * time.Second
	grace := time.Duration(s.wsCfg.PongTimeout) * time.Second
	go client.writeLoop(keepalive, grace)
	go client.readLoop(int64(s.wsCfg.MaxMessageSize), keepalive+grace)
}

// readLoop applies host requests until the connection fails or goes quiet
// for longer than idle.
func (c *WSClient) readLoop(limit int64, idle time.Duration) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }
	c.conn.SetReadLimit(limit)
	c.conn.SetPongHandler(extend)
	if err := extend(""); err != nil {
		return
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("host feed read failed", "subject", c.subject, "error", err)
			}
			return
		}
		if err := extend(""); err != nil {
			return
		}
		c.handleMessage(data)
	}
}

// writeLoop drains the client's queue onto the socket and pings every
// keepalive. Each write must finish within grace.
func (c *WSClient) writeLoop(keepalive, grace time.Duration) {
	ticker := time.NewTicker(keepalive)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		if err := c.conn.SetWriteDeadline(time.Now().Add(grace)); err != nil {
			return err
		}
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // The connection is going away regardless.
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

// handleMessage applies one host request.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.changeDevices(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, errorBody("unknown message type: "+msg.Type))
	}
}

// changeDevices adds or removes devices from the set the client follows
// and answers with the resulting set.
func (c *WSClient) changeDevices(msg WSMessage) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.reply(msg.ID, WSTypeError, errorBody("invalid payload"))
		return
	}
	var req WSSubscribePayload
	if err := json.Unmarshal(raw, &req); err != nil || len(req.Devices) == 0 {
		c.reply(msg.ID, WSTypeError, errorBody("payload must list devices"))
		return
	}

	c.mu.Lock()
	for _, id := range req.Devices {
		if msg.Type == WSTypeSubscribe {
			c.devices[id] = struct{}{}
		} else {
			delete(c.devices, id)
		}
	}
	following := make([]string, 0, len(c.devices))
	for id := range c.devices {
		following = append(following, id)
	}
	c.mu.Unlock()

	c.reply(msg.ID, WSTypeResponse, map[string]any{"devices": following})
}

// follows reports whether state for deviceID goes to this client.
func (c *WSClient) follows(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.devices[AllDevices]; ok {
		return true
	}
	_, ok := c.devices[deviceID]
	return ok
}

// deliver queues data without blocking. It returns false when the queue
// is full or the client has gone.
func (c *WSClient) deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the queue, which ends writeLoop. It reports whether this
// call did the closing.
func (c *WSClient) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.deliver(data)
	}
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}
