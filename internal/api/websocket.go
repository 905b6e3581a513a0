package api

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/tep-core/internal/infrastructure/logging"
	"github.com/nerrad567/tep-core/internal/registry"
)

// WebSocket message types.
const (
	// WSTypeSnapshot carries the whole peer cache; sent once on connect.
	WSTypeSnapshot = "snapshot"
	// WSTypeChange carries the entries that changed since the last check.
	WSTypeChange = "change"
)

const (
	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 64

	wsPingInterval   = 30 * time.Second
	wsPongWait       = 10 * time.Second
	wsMaxMessageSize = 512

	defaultFeedInterval = time.Second
)

// WSMessage is a message of the peer feed.
type WSMessage struct {
	Type      string           `json:"type"`
	Timestamp string           `json:"timestamp"`
	Peers     []registry.Entry `json:"peers"`
}

// Hub polls the peer cache and pushes changes to WebSocket clients.
type Hub struct {
	peers    Peers
	interval time.Duration
	logger   *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	closed  bool
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Read-only feed; any origin may watch.
		return true
	},
}

// NewHub creates a hub that checks peers every interval.
func NewHub(peers Peers, interval time.Duration, logger *logging.Logger) *Hub {
	if interval <= 0 {
		interval = defaultFeedInterval
	}
	return &Hub{
		peers:    peers,
		interval: interval,
		logger:   logger,
		clients:  make(map[*WSClient]struct{}),
	}
}

// Run compares the peer cache every interval and broadcasts the entries
// that changed. It blocks until the context is cancelled, then closes
// all clients.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	last := h.peers.Snapshot()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			current := h.peers.Snapshot()
			if changed := changedEntries(last, current); len(changed) > 0 {
				h.Broadcast(WSTypeChange, changed)
			}
			last = current
		}
	}
}

// Register adds a client to the hub. It reports false once the hub is closed.
func (h *Hub) Register(client *WSClient) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(client.send)
		return false
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
	return true
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends peers to every client.
func (h *Hub) Broadcast(msgType string, peers []registry.Entry) {
	data, err := encodeFeed(msgType, peers)
	if err != nil {
		h.logger.Error("failed to marshal peer feed message", "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending
	h.mu.RLock()
	clients := slices.Collect(maps.Keys(h.clients))
	h.mu.RUnlock()

	for _, client := range clients {
		client.trySend(data)
	}
	if len(clients) > 0 {
		h.logger.Debug("peer feed sent", "type", msgType, "peers", len(peers), "recipients", len(clients))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the connection and streams the peer feed,
// starting with a snapshot of the whole cache.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}

	if s.hub.Register(client) {
		// Taken after registering so no change falls between snapshot and feed.
		if data, err := encodeFeed(WSTypeSnapshot, sortedPeers(s.peers.Snapshot())); err == nil {
			client.trySend(data)
		}
	}

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection so pongs and close frames are processed.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wsPongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wsPongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues data without blocking; a full buffer drops it.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func encodeFeed(msgType string, peers []registry.Entry) ([]byte, error) {
	if peers == nil {
		peers = []registry.Entry{}
	}
	return json.Marshal(WSMessage{
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Peers:     peers,
	})
}

// changedEntries returns the entries of current that are new or differ
// from last, ordered by name.
func changedEntries(last, current map[string]registry.Entry) []registry.Entry {
	var changed []registry.Entry
	for _, name := range slices.Sorted(maps.Keys(current)) {
		if old, ok := last[name]; !ok || old != current[name] {
			changed = append(changed, current[name])
		}
	}
	return changed
}
