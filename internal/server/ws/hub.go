// Package ws pushes committed bond events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/metrics"
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
)

// Frame formats selected with ?format= on connect.
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

// allProjects subscribes a client to every project.
const allProjects = "*"

var eventPattern = domain.EventChannel("*")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS middleware.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	format string
	subs   map[string]bool // project ids, or allProjects
	mu     sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change which projects
// it follows.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Projects []string `json:"projects"`
}

// Hub manages connected WebSocket clients and fans out events received on
// the signal bus to the clients following their project.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{} // closed when Run returns
	bus        domain.SignalBus
	metrics    *metrics.Metrics
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

type broadcastMsg struct {
	projectID string
	event     map[string]any
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// NewHub creates a hub that bridges the signal bus to WebSocket clients.
func NewHub(bus domain.SignalBus, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		metrics:    m,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message fan-out until ctx is cancelled. Run must be
// called at most once.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	msgCh, err := h.bus.Subscribe(ctx, eventPattern)
	if err != nil {
		return fmt.Errorf("ws: subscribe %s: %w", eventPattern, err)
	}
	h.logger.Info("ws: subscribed to events", slog.String("channel", eventPattern))
	go h.pump(ctx, msgCh)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.metrics.SetWSClients(0)
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWSClients(n)
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWSClients(n)
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) fanOut(msg broadcastMsg) {
	var jsonFrame, protoFrame []byte
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.follows(msg.projectID) {
			continue
		}
		var frame []byte
		switch c.format {
		case FormatProto:
			if protoFrame == nil {
				protoFrame = h.encode(FormatProto, "event", msg.event)
			}
			frame = protoFrame
		default:
			if jsonFrame == nil {
				jsonFrame = h.encode(FormatJSON, "event", msg.event)
			}
			frame = jsonFrame
		}
		if frame == nil {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// pump decodes bus messages and hands them to the run loop.
func (h *Hub) pump(ctx context.Context, msgCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: event subscription closed")
				return
			}
			var evt map[string]any
			if err := json.Unmarshal(data, &evt); err != nil {
				h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
				continue
			}
			projectID, _ := evt["project_id"].(string)
			select {
			case h.broadcast <- broadcastMsg{projectID: projectID, event: evt}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// encode wraps payload in a {"type","payload"} envelope in the given
// format. Proto frames are a serialized google.protobuf.Struct.
func (h *Hub) encode(format, typ string, payload map[string]any) []byte {
	envelope := map[string]any{"type": typ, "payload": payload}
	if format == FormatProto {
		st, err := structpb.NewStruct(envelope)
		if err != nil {
			h.logger.Warn("ws: build proto frame", slog.String("error", err.Error()))
			return nil
		}
		b, err := proto.Marshal(st)
		if err != nil {
			h.logger.Warn("ws: marshal proto frame", slog.String("error", err.Error()))
			return nil
		}
		return b
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Warn("ws: marshal json frame", slog.String("error", err.Error()))
		return nil
	}
	return b
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. Clients follow every project until they send a
// subscribe message; ?project= narrows the initial set.
// GET /ws?format=json|proto&project=<id>
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatProto:
	default:
		http.Error(w, `{"error":"format must be json or proto"}`, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		format: format,
		subs:   make(map[string]bool),
	}
	if projects := r.URL.Query()["project"]; len(projects) > 0 {
		for _, p := range projects {
			c.subs[p] = true
		}
	} else {
		c.subs[allProjects] = true
	}

	c.sendInitialStatus()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// leave unregisters c unless the hub has already stopped.
func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// readPump reads subscription changes from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
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
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		delete(c.subs, allProjects)
		for _, p := range msg.Projects {
			c.subs[p] = true
		}
	case "unsubscribe":
		for _, p := range msg.Projects {
			delete(c.subs, p)
		}
	}
}

func (c *client) sendInitialStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	frame := c.hub.encode(c.format, "hub_status", map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": float64(uptime),
	})
	if frame == nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) follows(projectID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[allProjects] || c.subs[projectID]
}

// writePump pumps frames from the hub to the connection and keeps it alive
// with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if c.format == FormatProto {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msgType, message); err != nil {
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
