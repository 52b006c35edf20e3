package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/tbdash/internal/infrastructure/config"
)

// Message types on the dashboard socket.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsSendBufferSize = 256
)

// WSMessage is the envelope for every frame the server writes.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is an inbound frame; the payload is decoded per type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// wsClient is one connected socket. mu guards channels and closed; send
// is closed exactly once, under mu, so deliver never writes to a closed
// channel.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	closed   bool
	channels map[string]struct{}
}

func newWSClient(hub *Hub, conn *websocket.Conn) *wsClient {
	return &wsClient{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
	}
}

// handleWebSocket upgrades the request and starts the client's pumps.
// ?channels=a,b subscribes on connect. The API listens on loopback only
// and has no authentication of its own.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.allows,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn)
	s.hub.register(c)
	if channels := splitKeys(r.URL.Query().Get("channels")); len(channels) > 0 {
		c.subscribe(channels)
	}

	t := newWSTimings(s.wsCfg)
	go c.writePump(t)
	go c.readPump(t, int64(s.wsCfg.MaxMessageSize))
}

type wsTimings struct {
	ping     time.Duration
	deadline time.Duration
	write    time.Duration
}

func newWSTimings(cfg config.WebSocketConfig) wsTimings {
	ping := time.Duration(cfg.PingInterval) * time.Second
	pong := time.Duration(cfg.PongTimeout) * time.Second
	return wsTimings{ping: ping, deadline: ping + pong, write: pong}
}

// readPump handles inbound frames until the socket fails. Any frame, not
// just a pong, extends the read deadline.
func (c *wsClient) readPump(t wsTimings, limit int64) {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(limit)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(t.deadline)) }
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = extend("")
		c.handleMessage(data)
	}
}

// writePump drains send and keeps the peer alive with pings.
func (c *wsClient) writePump(t wsTimings) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind, data = websocket.TextMessage, msg
		case <-ticker.C:
			kind = websocket.PingMessage
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(t.write))
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

func (c *wsClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var p WSSubscribePayload
		if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &p) != nil {
			c.replyError(req.ID, "invalid "+req.Type+" payload")
			return
		}
		if req.Type == WSTypeSubscribe {
			channels := c.setChannels(p.Channels, true)
			c.reply(req.ID, WSTypeResponse, map[string]any{"subscribed": channels})
			c.pushCurrent(channels)
			return
		}
		channels := c.setChannels(p.Channels, false)
		c.reply(req.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.replyError(req.ID, "unknown message type: "+req.Type)
	}
}

// subscribe adds channels and sends each one's current value.
func (c *wsClient) subscribe(channels []string) {
	c.pushCurrent(c.setChannels(channels, true))
}

// setChannels adds or removes the trimmed, non-empty names and returns them.
func (c *wsClient) setChannels(names []string, on bool) []string {
	out := make([]string, 0, len(names))
	c.mu.Lock()
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if on {
			c.channels[n] = struct{}{}
		} else {
			delete(c.channels, n)
		}
		out = append(out, n)
	}
	c.mu.Unlock()
	return out
}

func (c *wsClient) pushCurrent(channels []string) {
	for _, ch := range channels {
		fn := c.hub.source(ch)
		if fn == nil {
			continue
		}
		data, err := eventMessage(ch, fn())
		if err != nil {
			c.hub.logger.Error("encoding websocket event", "channel", ch, "error", err)
			continue
		}
		c.deliver(data)
	}
}

func (c *wsClient) subscribedTo(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// deliver queues data without blocking. It reports false when the client
// is gone or too slow to keep up.
func (c *wsClient) deliver(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.hub.metrics.WSMessageDropped()
		return false
	}
}

// close ends writePump. Idempotent.
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) reply(id, kind string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.deliver(data)
	}
}

func (c *wsClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
