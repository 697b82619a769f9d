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

	"github.com/questlog/questlog/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096 // inbound frames are small control payloads

	defaultBufferSize = 64

	loggerModule = "realtime"
)

// Event is the JSON frame delivered to realtime subscribers.
type Event struct {
	Type     string    `json:"type"`
	Platform string    `json:"platform,omitempty"`
	Data     any       `json:"data,omitempty"`
	TS       time.Time `json:"ts"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType, platform string, data any) Event {
	return Event{Type: eventType, Platform: platform, Data: data, TS: time.Now().UTC()}
}

type controlMessage struct {
	Action string `json:"action"`
}

// Hub tracks realtime connections per user and fans events out to them.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*connection]struct{}
	upgrader    websocket.Upgrader
}

// NewHub constructs a realtime hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]map[*connection]struct{}),
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

// Serve upgrades the HTTP connection to a WebSocket and registers the client
// under the supplied user. It blocks until the connection closes.
func (h *Hub) Serve(userID string, w http.ResponseWriter, r *http.Request) {
	if userID == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithModule(loggerModule).Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(h, conn, userID)
	h.register(client)

	go client.writeLoop()
	client.readLoop()
}

// BroadcastToUser delivers an event to every open connection for the user.
// A connection whose buffer is full is torn down instead of blocking the
// broadcaster.
func (h *Hub) BroadcastToUser(userID string, event Event) {
	if userID == "" || event.Type == "" {
		return
	}
	if event.TS.IsZero() {
		event.TS = time.Now().UTC()
	}

	// close re-enters the hub through unregister, which takes the write lock,
	// so stalled clients are only collected here and torn down after the read
	// lock is released.
	var stalled []*connection

	h.mu.RLock()
	for client := range h.connections[userID] {
		select {
		case client.send <- event:
		default:
			stalled = append(stalled, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stalled {
		logger.WithModule(loggerModule).Warn("dropping backpressured client",
			zap.String("user_id", client.userID))
		client.close()
	}
}

// ConnectionCount reports the number of open connections for the user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}

// ActiveConnections reports the number of open connections across all users.
func (h *Hub) ActiveConnections() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var total int64
	for _, set := range h.connections {
		total += int64(len(set))
	}
	return total
}

// Close tears down every open connection. Called during server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	var clients []*connection
	for _, set := range h.connections {
		for client := range set {
			clients = append(clients, client)
		}
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[client.userID] == nil {
		h.connections[client.userID] = make(map[*connection]struct{})
	}
	h.connections[client.userID][client] = struct{}{}
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.connections[client.userID]
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.connections, client.userID)
	}
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	userID string
	send   chan Event
	done   chan struct{}
	once   sync.Once
}

func newConnection(hub *Hub, conn *websocket.Conn, userID string) *connection {
	return &connection{
		hub:    hub,
		socket: conn,
		userID: userID,
		send:   make(chan Event, defaultBufferSize),
		done:   make(chan struct{}),
	}
}

func (c *connection) readLoop() {
	defer c.close()

	log := logger.WithModule(loggerModule)

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
				log.Debug("unexpected close", zap.String("user_id", c.userID), zap.Error(err))
			}
			break
		}

		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			log.Debug("invalid control payload", zap.String("user_id", c.userID), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "ping":
			// Clients can send ping control messages; reply with pong.
			select {
			case c.send <- Event{Type: EventPong, TS: time.Now().UTC()}:
			case <-c.done:
				return
			default:
			}
		default:
			log.Debug("unsupported control action",
				zap.String("action", ctrl.Action), zap.String("user_id", c.userID))
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// close is safe to call from either loop or the hub; the channel stays open so
// concurrent senders never panic.
func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.done)
		_ = c.socket.Close()
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
