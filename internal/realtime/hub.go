// Package realtime streams screening activity over WebSocket.
//
// Clients subscribe to two channels: the synthetic transaction feed
// (transaction_new events) and live investigation runs (the workflow event
// stream, optionally filtered to a single transaction). Clients can also
// trigger a screening with an investigate message.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vigilhq/vigil/internal/metrics"
	"github.com/vigilhq/vigil/internal/transaction"
	"github.com/vigilhq/vigil/internal/workflow"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		// Allow same-host connections
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// Control and stream message types on the wire.
const (
	MsgConnected      = "connected"
	MsgSubscribed     = "subscribed"
	MsgPing           = "ping"
	MsgPong           = "pong"
	MsgError          = "error"
	MsgTransactionNew = "transaction_new"
)

// subscription is a client's channel selection.
type subscription struct {
	feed              bool
	allInvestigations bool
	investigations    map[string]bool
}

// envelope is an outbound frame queued for matching clients.
type envelope struct {
	feed          bool   // transaction feed frame, else investigation frame
	transactionID string // investigation frames only
	payload       []byte
}

// Client represents a WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  subscription
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

// Hub manages all WebSocket connections.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int

	// OnInvestigate handles an investigate message from a client. Set before
	// serving connections; runs on its own goroutine per request.
	OnInvestigate func(ctx context.Context, tx *transaction.Transaction)

	// Stats
	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub shutting down, closing client connections")
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client disconnected", "total", n)

		case env := <-h.broadcast:
			h.totalEvents.Add(1)
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if h.shouldSend(client, env) {
					select {
					case client.send <- env.payload:
					default:
						slow = append(slow, client)
					}
				}
			}
			h.mu.RUnlock()
			// Remove slow clients under write lock
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// shouldSend checks if a frame matches the client's subscriptions.
func (h *Hub) shouldSend(client *Client, env envelope) bool {
	client.mu.RLock()
	defer client.mu.RUnlock()

	if env.feed {
		return client.sub.feed
	}
	if client.sub.allInvestigations {
		return true
	}
	return client.sub.investigations[env.transactionID]
}

// BroadcastEvent fans a workflow event out to investigation subscribers.
func (h *Hub) BroadcastEvent(event workflow.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event marshal failed", "type", event.Type, "error", err)
		return
	}
	h.enqueue(envelope{transactionID: event.TransactionID, payload: payload})
}

// BroadcastTransaction fans a feed transaction out to feed subscribers.
func (h *Hub) BroadcastTransaction(tx *transaction.Transaction) {
	payload, err := json.Marshal(map[string]any{
		"type":      MsgTransactionNew,
		"timestamp": time.Now(),
		"data":      tx,
	})
	if err != nil {
		h.logger.Error("transaction marshal failed", "error", err)
		return
	}
	h.enqueue(envelope{feed: true, payload: payload})
}

func (h *Hub) enqueue(env envelope) {
	select {
	case h.broadcast <- env:
	default:
		h.logger.Warn("broadcast channel full, dropping frame")
	}
}

// HasClients reports whether any client is connected. The feed generator
// idles when nobody is watching.
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// Stats returns hub statistics.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"connected_clients": len(h.clients),
		"total_events":      h.totalEvents.Load(),
		"total_clients":     h.totalClients.Load(),
		"peak_clients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Enforce connection limit
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  subscription{investigations: make(map[string]bool)},
	}

	// The hub can stop between the check above and this send; without the done
	// case the handler would block forever on a drained register channel.
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}
	client.enqueue(map[string]any{
		"type":      MsgConnected,
		"message":   "Connected to vigil screening stream",
		"timestamp": time.Now(),
	})

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

// clientMessage is an inbound control frame.
type clientMessage struct {
	Type          string                   `json:"type"`
	TransactionID string                   `json:"transaction_id"`
	Transaction   *transaction.Transaction `json:"transaction"`
}

// handleMessage processes one inbound control frame.
func (c *Client) handleMessage(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.enqueue(map[string]any{"type": MsgError, "message": "invalid message"})
		return
	}

	switch msg.Type {
	case MsgPing:
		c.enqueue(map[string]any{"type": MsgPong, "timestamp": time.Now()})

	case "subscribe_feed":
		c.mu.Lock()
		c.sub.feed = true
		c.mu.Unlock()
		c.enqueue(map[string]any{"type": MsgSubscribed, "channel": "feed"})

	case "subscribe_investigation":
		c.mu.Lock()
		if msg.TransactionID == "" {
			c.sub.allInvestigations = true
		} else {
			c.sub.investigations[msg.TransactionID] = true
		}
		c.mu.Unlock()
		c.enqueue(map[string]any{
			"type":           MsgSubscribed,
			"channel":        "investigation",
			"transaction_id": msg.TransactionID,
		})

	case "investigate":
		if msg.Transaction == nil {
			c.enqueue(map[string]any{"type": MsgError, "message": "investigate requires a transaction"})
			return
		}
		// Subscribe the requester to its own run before it starts.
		c.mu.Lock()
		c.sub.investigations[msg.Transaction.ID] = true
		c.mu.Unlock()
		if handler := c.hub.OnInvestigate; handler != nil {
			go handler(context.Background(), msg.Transaction)
		}

	default:
		c.enqueue(map[string]any{"type": MsgError, "message": "unknown message type"})
	}
}

// enqueue marshals and queues an outbound frame, dropping it if the client
// is backed up.
func (c *Client) enqueue(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// detach hands the client back to the hub. After Run exits nothing drains
// unregister, so the closed done channel lets the pump exit instead of
// leaking.
func (c *Client) detach() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// readPump reads control messages from the WebSocket.
func (c *Client) readPump() {
	defer func() {
		c.detach()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
