package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// maxReplay bounds the events replayed on connect, leaving buffer room
	// for live events.
	maxReplay = sendBufferSize / 2
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SnapshotSource returns the latest vault state for the greeting message.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*domain.VaultState, error)
}

// client represents a single WebSocket connection. An empty kinds set means
// every event kind.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	kinds map[domain.EventKind]bool
	mu    sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to narrow or widen the
// event kinds it receives.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Kinds  []string `json:"kinds"`
}

// Hub relays one vault's events from the event bus to connected WebSocket
// clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.EventBus
	vault      common.Address
	replay     int
	snapshots  SnapshotSource
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

type broadcastMsg struct {
	kind domain.EventKind
	data []byte
}

// Config captures the vault to relay and the metadata sent to clients on
// connect. Replay is how many logged events follow the greeting.
type Config struct {
	Vault     common.Address
	Mode      string
	Snapshots SnapshotSource
	StartedAt time.Time
	Replay    int
}

// NewHub creates a hub fed by the vault's events on bus.
func NewHub(bus domain.EventBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	replay := cfg.Replay
	if replay < 0 {
		replay = 0
	}
	if replay > maxReplay {
		replay = maxReplay
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		vault:      cfg.Vault,
		replay:     replay,
		snapshots:  cfg.Snapshots,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message broadcasting until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.relay(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.wants(msg.kind) {
					select {
					case c.send <- msg.data:
					default:
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relay subscribes to the vault's events and forwards each one to the
// broadcast loop.
func (h *Hub) relay(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, h.vault)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to vault events",
			slog.String("vault", h.vault.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: vault event subscription closed",
					slog.String("vault", h.vault.Hex()),
				)
				return
			}
			kind, err := eventKind(data)
			if err != nil {
				h.logger.Warn("ws: skipping malformed event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{kind: kind, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws?kinds=harvest,withdraw
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		kinds: make(map[domain.EventKind]bool),
	}
	if q := r.URL.Query().Get("kinds"); q != "" {
		for _, k := range strings.Split(q, ",") {
			if k = strings.TrimSpace(k); k != "" {
				c.kinds[domain.EventKind(k)] = true
			}
		}
	}

	c.sendInitialStatus(r.Context())
	c.replayRecent(r.Context())
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription changes from the connection until it closes.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, k := range msg.Kinds {
			c.kinds[domain.EventKind(k)] = true
		}
	case "unsubscribe":
		for _, k := range msg.Kinds {
			delete(c.kinds, domain.EventKind(k))
		}
	}
}

// wants reports whether the client receives events of kind.
func (c *client) wants(kind domain.EventKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.kinds) == 0 || c.kinds[kind]
}

// sendInitialStatus greets the client with the hub mode and, when available,
// the current price per share so a dashboard can render before the first
// event arrives.
func (c *client) sendInitialStatus(ctx context.Context) {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	payload := map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": uptime,
	}
	if c.hub.snapshots != nil {
		if state, err := c.hub.snapshots.Snapshot(ctx); err == nil {
			payload["vault"] = state.Vault
			payload["version"] = state.Version
			payload["total_assets"] = state.TotalAssets()
			payload["price_per_share"] = state.PricePerShare()
			payload["emergency_shutdown"] = state.EmergencyShutdown
		}
	}

	msg, err := json.Marshal(map[string]any{"kind": "status", "payload": payload})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// replayRecent queues the vault's latest logged events the client wants,
// oldest first, so a dashboard can fill in what it missed.
func (c *client) replayRecent(ctx context.Context) {
	if c.hub.replay == 0 {
		return
	}
	records, err := c.hub.bus.Latest(ctx, c.hub.vault, c.hub.replay)
	if err != nil {
		c.hub.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		return
	}
	for _, rec := range records {
		kind, err := eventKind(rec.Event)
		if err != nil || !c.wants(kind) {
			continue
		}
		select {
		case c.send <- rec.Event:
		default:
			return
		}
	}
}

// eventKind reads the kind field of an encoded event.
func eventKind(data []byte) (domain.EventKind, error) {
	var head struct {
		Kind domain.EventKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	return head.Kind, nil
}

// writePump pumps messages from the hub to the WebSocket connection as text
// frames, with periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
