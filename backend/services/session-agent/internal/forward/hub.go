package forward

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargelog/backend/services/session-agent/internal/models"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	clientBuffer = 16
)

// Hub streams written sessions to websocket subscribers.
type Hub struct {
	mu           sync.RWMutex
	clients      map[uint64]*streamClient
	nextID       uint64
	writeTimeout time.Duration
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	done         chan struct{}
	closeOnce    sync.Once
}

type streamClient struct {
	id   uint64
	ws   *websocket.Conn
	send chan []byte
}

// NewHub builds an empty hub.
func NewHub(writeTimeout time.Duration, logger *zap.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Hub{
		clients:      make(map[uint64]*streamClient),
		writeTimeout: writeTimeout,
		logger:       logger.Named("stream"),
		done:         make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP upgrades the request and registers the subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.nextID++
	client := &streamClient{id: h.nextID, ws: conn, send: make(chan []byte, clientBuffer)}
	h.clients[client.id] = client
	h.mu.Unlock()

	h.logger.Info("stream subscriber connected", zap.Uint64("client_id", client.id), zap.String("remote", r.RemoteAddr))
	go h.writePump(client)
	go h.readPump(client)
}

// Forward implements Forwarder by broadcasting the session to every subscriber.
func (h *Hub) Forward(_ context.Context, session models.Session) error {
	data, err := json.Marshal(session.Payload())
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("dropping stream message, buffer full", zap.Uint64("client_id", client.id))
		}
	}
	return nil
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	h.mu.Lock()
	ids := make([]uint64, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.remove(id)
	}
}

// readPump discards client frames; it exists to process pongs and detect disconnects.
func (h *Hub) readPump(c *streamClient) {
	defer h.remove(c.id)
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			h.logger.Debug("stream subscriber read closed", zap.Uint64("client_id", c.id), zap.Error(err))
			return
		}
	}
}

func (h *Hub) writePump(c *streamClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case <-h.done:
			_ = h.write(c, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = h.write(c, websocket.CloseMessage, []byte{})
				return
			}
			if err := h.write(c, websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.write(c, websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(c *streamClient, messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	client, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if ok {
		close(client.send)
		h.logger.Info("stream subscriber disconnected", zap.Uint64("client_id", id))
	}
}
