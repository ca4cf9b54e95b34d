package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	clientSendSize = 64
)

// Hub pushes task and state status events to websocket clients. A client that
// cannot keep up is disconnected.
type Hub struct {
	bus      *events.Bus
	logger   *logrus.Logger
	upgrader websocket.Upgrader
	onCount  func(int)

	clients   map[string]*wsClient
	clientsMu sync.RWMutex
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub fed by bus. onCount, when set, receives the client
// count after every connect and disconnect.
func NewHub(bus *events.Bus, logger *logrus.Logger, onCount func(int)) *Hub {
	return &Hub{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		onCount: onCount,
		clients: make(map[string]*wsClient),
	}
}

// Run forwards bus events to clients until ctx is done
func (h *Hub) Run(ctx context.Context) {
	ch, unsubscribe := h.bus.Subscribe(256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event, ok := <-ch:
			if !ok {
				h.closeAll()
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.WithError(err).Error("Failed to encode event")
				continue
			}
			h.broadcast(payload)
		}
	}
}

func (h *Hub) broadcast(payload []byte) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for id, client := range h.clients {
		select {
		case client.send <- payload:
		default:
			h.logger.WithField("client_id", id).Warn("Dropping slow websocket client")
			delete(h.clients, id)
			close(client.send)
		}
	}
	h.reportCount()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}

	client := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, clientSendSize),
	}
	h.clientsMu.Lock()
	h.clients[client.id] = client
	h.reportCount()
	h.clientsMu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"client_id": client.id,
		"remote":    c.ClientIP(),
	}).Info("Websocket client connected")

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) unregister(client *wsClient) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		close(client.send)
		h.reportCount()
	}
}

// reportCount must be called with clientsMu held
func (h *Hub) reportCount() {
	if h.onCount != nil {
		h.onCount(len(h.clients))
	}
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.send)
	}
	h.reportCount()
}

// readPump discards inbound messages and keeps the read deadline fresh on pongs
func (h *Hub) readPump(client *wsClient) {
	defer func() {
		h.unregister(client)
		client.conn.Close()
		h.logger.WithField("client_id", client.id).Info("Websocket client disconnected")
	}()

	client.conn.SetReadLimit(4096)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
