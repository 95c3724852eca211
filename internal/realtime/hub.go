package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/skillup-labs/skillup-live/pkg/logger"
	"github.com/skillup-labs/skillup-live/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16 // 64 KiB; clients only send small control frames

	defaultBufferSize = 64
)

// Message represents a JSON payload delivered to connected clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Principal identifies an authenticated connection. A nil principal is an
// anonymous connection limited to the broadcast room.
type Principal struct {
	UserID        string
	ParticipantID string
	Admin         bool
}

type controlMessage struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id"`
}

// Hub coordinates room-scoped realtime fanout for connected clients.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*connection]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*connection]struct{}),
		log:   logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the HTTP connection to a WebSocket and registers the client.
// principal may be nil for anonymous broadcast-only consumers; credential
// validation happens before this point.
func (h *Hub) Serve(principal *Principal, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(h, conn, principal)
	h.register(client)
	metrics.ConnectedClients.Inc()

	go client.writeLoop()
	client.readLoop()
}

// EmitToAll delivers an event to every connected client.
func (h *Hub) EmitToAll(event string, data any) {
	h.emit(RoomBroadcast, Message{Event: event, Data: data})
}

// EmitToAdmins delivers an event to privileged clients only.
func (h *Hub) EmitToAdmins(event string, data any) {
	h.emit(RoomAdmins, Message{Event: event, Data: data})
}

// EmitToSession delivers an event to clients subscribed to the session room.
func (h *Hub) EmitToSession(sessionID, event string, data any) {
	if sessionID = strings.TrimSpace(sessionID); sessionID == "" {
		return
	}
	h.emit(SessionRoom(sessionID), Message{Event: event, Data: data})
}

// EmitToUser delivers an event to every connection of the supplied identity.
// The key may be a raw account id or a derived participant id; authenticated
// connections are registered under both.
func (h *Hub) EmitToUser(userID, event string, data any) {
	if userID = strings.TrimSpace(userID); userID == "" {
		return
	}
	h.emit(UserRoom(userID), Message{Event: event, Data: data})
}

// RoomSize reports how many connections currently occupy a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) emit(room string, message Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[room] {
		h.enqueue(client, message)
	}
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.joinLocked(client, RoomBroadcast)
	if p := client.principal; p != nil {
		if p.UserID != "" {
			h.joinLocked(client, UserRoom(p.UserID))
		}
		if p.ParticipantID != "" && p.ParticipantID != p.UserID {
			h.joinLocked(client, UserRoom(p.ParticipantID))
		}
		if p.Admin {
			h.joinLocked(client, RoomAdmins)
		}
	}
}

func (h *Hub) subscribe(client *connection, sessionID string) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(client, SessionRoom(sessionID))
}

func (h *Hub) unsubscribe(client *connection, sessionID string) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client, SessionRoom(sessionID))
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range client.rooms {
		h.leaveLocked(client, room)
	}
}

func (h *Hub) joinLocked(client *connection, room string) {
	if _, exists := client.rooms[room]; exists {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*connection]struct{})
	}
	h.rooms[room][client] = struct{}{}
	client.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(client *connection, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	delete(client.rooms, room)
}

func (h *Hub) enqueue(client *connection, message Message) {
	select {
	case client.send <- message:
	default:
		h.log.Warn("dropping backpressured client", zap.String("user_id", client.userID()))
		// close unregisters under the write lock; emit holds the read lock.
		go client.close()
	}
}

type connection struct {
	hub       *Hub
	socket    *websocket.Conn
	principal *Principal
	rooms     map[string]struct{}
	send      chan Message
	once      sync.Once
}

func newConnection(hub *Hub, conn *websocket.Conn, principal *Principal) *connection {
	return &connection{
		hub:       hub,
		socket:    conn,
		principal: principal,
		rooms:     make(map[string]struct{}),
		send:      make(chan Message, defaultBufferSize),
	}
}

func (c *connection) userID() string {
	if c.principal == nil {
		return "anonymous"
	}
	return c.principal.UserID
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("user_id", c.userID()), zap.Error(err))
			}
			break
		}

		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control payload", zap.String("user_id", c.userID()), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "subscribe":
			c.hub.subscribe(c, ctrl.SessionID)
		case "unsubscribe":
			c.hub.unsubscribe(c, ctrl.SessionID)
		case "ping":
			c.hub.enqueue(c, Message{Event: "pong"})
		default:
			c.hub.log.Debug("unsupported control action",
				zap.String("action", ctrl.Action), zap.String("user_id", c.userID()))
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.send)
		_ = c.socket.Close()
		metrics.ConnectedClients.Dec()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
