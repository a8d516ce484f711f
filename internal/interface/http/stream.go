package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alem-hub/study-timer/internal/domain/notification"
	"github.com/alem-hub/study-timer/internal/domain/timer"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxInboundBytes  = 512
)

// Stream message types.
const (
	MsgState    = "state"
	MsgReminder = "reminder"
)

// StreamMessage is the envelope sent to websocket clients.
type StreamMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HUB
// ══════════════════════════════════════════════════════════════════════════════

// StreamHub pushes timer views and fired reminders to websocket clients.
// A client that cannot keep up is disconnected; the engine is never blocked.
type StreamHub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}

	snapshot func() timer.View
	enabled  func() bool
	origins  []string
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// StreamConfig configures a StreamHub.
type StreamConfig struct {
	// Snapshot returns the current view sent to a client on connect.
	Snapshot func() timer.View

	// Enabled gates new connections and broadcasts. Nil means always on.
	Enabled func() bool

	// AllowedOrigins for the upgrade; empty or "*" allows any origin.
	AllowedOrigins []string

	Logger *slog.Logger
}

// NewStreamHub creates a hub.
func NewStreamHub(cfg StreamConfig) *StreamHub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Enabled == nil {
		cfg.Enabled = func() bool { return true }
	}
	h := &StreamHub{
		clients:  make(map[*streamClient]struct{}),
		snapshot: cfg.Snapshot,
		enabled:  cfg.Enabled,
		origins:  cfg.AllowedOrigins,
		logger:   cfg.Logger.With("component", "stream"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *StreamHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.origins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, o := range h.origins {
		if o == "*" || strings.EqualFold(o, origin) || strings.EqualFold(o, u.Host) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and registers the client.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.enabled() {
		writeJSONError(w, http.StatusServiceUnavailable, "stream_disabled", "Timer stream is disabled")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := h.add(conn)
	h.logger.Debug("stream client connected", "remote", r.RemoteAddr)

	go h.readPump(c)
}

// readPump discards inbound messages and notices disconnects.
func (h *StreamHub) readPump(c *streamClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHub) add(conn *websocket.Conn) *streamClient {
	c := &streamClient{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	go c.writePump()

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if h.snapshot != nil {
		if data, err := json.Marshal(StreamMessage{Type: MsgState, Payload: h.snapshot()}); err == nil {
			select {
			case c.send <- data:
			default:
			}
		}
	}
	return c
}

func (h *StreamHub) remove(c *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends msg to every client.
func (h *StreamHub) Broadcast(msg StreamMessage) {
	if !h.enabled() {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("stream marshal failed", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("stream client too slow, disconnecting")
			h.remove(c)
		}
	}
}

// Run forwards views until ctx is done or views is closed.
func (h *StreamHub) Run(ctx context.Context, views <-chan timer.View) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			h.Broadcast(StreamMessage{Type: MsgState, Payload: v})
		}
	}
}

// Deliver implements notification.Deliverer.
func (h *StreamHub) Deliver(_ context.Context, r notification.Reminder) error {
	h.Broadcast(StreamMessage{Type: MsgReminder, Payload: r})
	return nil
}

// ClientCount returns the number of connected clients.
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// handleStream serves GET /api/v1/timer/stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stream == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_configured", "Timer stream is not wired")
		return
	}
	s.deps.Stream.ServeHTTP(w, r)
}
