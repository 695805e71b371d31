package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketguard-backend/internal/models"
)

const (
	sendBuffer = 64
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans the live security feed out to operator websocket connections.
// A client that falls behind is disconnected rather than slowing
// publishers down.
type Hub struct {
	clients  map[string]*client
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// ServeWS upgrades the request and streams feed messages until the peer
// goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.New().String()
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(id, c)

	go h.writePump(id, c)

	// Reads only serve to notice the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(id)
}

func (h *Hub) add(id string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[id] = c
	h.logger.Info("feed client connected", zap.String("client", id), zap.Int("clients", len(h.clients)))
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.send)
		h.logger.Info("feed client disconnected", zap.String("client", id), zap.Int("clients", len(h.clients)))
	}
}

func (h *Hub) writePump(id string, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("feed write failed", zap.String("client", id), zap.Error(err))
				h.remove(id)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(id)
				return
			}
		}
	}
}

// Publish queues msg for every connected client.
func (h *Hub) Publish(msg models.FeedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("feed marshal failed", zap.String("kind", msg.Kind), zap.Error(err))
		return
	}

	var slow []string
	h.mu.RLock()
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.logger.Warn("dropping slow feed client", zap.String("client", id))
		h.remove(id)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}
