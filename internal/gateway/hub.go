// Package gateway streams bus events to WebSocket observers (dashboards and
// other external subscribers). It consumes the event bus strictly through
// its documented contract and never reaches into ledger internals.
package gateway

import (
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"sync"

	"trading-agentv1/internal/events"
	"trading-agentv1/internal/metrics"
	"trading-agentv1/internal/model"

	"github.com/gorilla/websocket"
)

// clientBuf is the per-client send buffer; a slow client drops messages
// rather than blocking the fan-out.
const clientBuf = 256

// Hub subscribes to every event type and fans envelopes out to connected
// WebSocket clients.
type Hub struct {
	bus     *events.Bus
	metrics *metrics.Metrics
	log     *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	subs    []*events.Subscription

	upgrader websocket.Upgrader
}

// NewHub creates a Hub over bus. m may be nil.
func NewHub(bus *events.Bus, m *metrics.Metrics, log *slog.Logger) *Hub {
	return &Hub{
		bus:     bus,
		metrics: m,
		log:     log,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Start subscribes the hub to all event types.
func (h *Hub) Start() error {
	for _, t := range model.AllEventTypes() {
		sub, err := h.bus.Subscribe(t, h.relay)
		if err != nil {
			return err
		}
		h.subs = append(h.subs, sub)
	}
	return nil
}

// Stop unsubscribes from the bus and disconnects all clients.
func (h *Hub) Stop() {
	for _, sub := range h.subs {
		h.bus.Unsubscribe(sub)
	}
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// relay is the bus handler: envelope the event and fan it out.
func (h *Hub) relay(ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow client: drop this message for it.
		}
	}
	return nil
}

// ServeHTTP upgrades the request and registers the peer. On connect the
// client receives the recent history of each event type as backfill.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuf)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.GatewayClients.Set(float64(n))
	}
	h.log.Info("gateway client connected", "clients", n)

	h.backfill(c)
	go c.writePump()
	go h.readPump(c)
}

// backfill queues recent history so a fresh dashboard starts populated.
func (h *Hub) backfill(c *client) {
	for _, t := range model.AllEventTypes() {
		for _, ev := range h.bus.History(t, 50) {
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			select {
			case c.send <- data:
			default:
				return
			}
		}
	}
}

// readPump discards inbound frames and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.GatewayClients.Set(float64(n))
	}
	c.conn.Close()
}

// client is a single WebSocket peer.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *client) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
