package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/tbdash/internal/infrastructure/logging"
	"github.com/nerrad567/tbdash/internal/infrastructure/metrics"
)

// Hub fans dashboard events out to subscribed WebSocket clients. It
// implements dashboard.Broadcaster.
type Hub struct {
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	sourcesMu sync.RWMutex
	sources   map[string]func() any
}

// NewHub returns an empty hub. m may be nil.
func NewHub(logger *logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:  logger,
		metrics: m,
		clients: make(map[*wsClient]struct{}),
		sources: make(map[string]func() any),
	}
}

// SetInitial registers fn as the current value of channel. A client that
// subscribes to channel is sent fn's result straight away, so it never
// waits for the next change to render.
func (h *Hub) SetInitial(channel string, fn func() any) {
	h.sourcesMu.Lock()
	h.sources[channel] = fn
	h.sourcesMu.Unlock()
}

func (h *Hub) source(channel string) func() any {
	h.sourcesMu.RLock()
	defer h.sourcesMu.RUnlock()
	return h.sources[channel]
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	for c := range h.clients {
		c.close()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.metrics.SetWSClients(0)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetWSClients(n)
	h.logger.Debug("websocket client connected", "clients", n)
}

// unregister is idempotent.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	if ok {
		h.metrics.SetWSClients(n)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast sends payload as an event on channel to every subscriber.
// Clients whose buffer is full miss the event; the next one carries the
// whole view again.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := eventMessage(channel, payload)
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if !c.subscribedTo(channel) {
			continue
		}
		if c.deliver(data) {
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func eventMessage(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}
