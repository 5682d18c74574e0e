// Package websocket pushes agent progress to connected browser clients.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"droid-pilot/internal/agent"
	"droid-pilot/internal/token"
)

const (
	writeWait   = 2 * time.Second
	sendBuffer  = 256
	readLimit   = 4096
	pingPeriod  = 30 * time.Second
	messageKind = websocket.TextMessage
)

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Hub fans messages out to all connected clients. Connections are owned by the
// Run goroutine; slow clients lose messages rather than stall the agent.
type Hub struct {
	upgrader   websocket.Upgrader
	register   chan *connection
	unregister chan *connection
	broadcast  chan []byte
	done       chan struct{}
	clients    atomic.Int32
	logger     *zap.Logger
}

type connection struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		register:   make(chan *connection),
		unregister: make(chan *connection),
		broadcast:  make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		logger:     logger.Named("websocket"),
	}
}

// Run services the hub until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	connections := make(map[*connection]struct{})
	defer func() {
		close(h.done)
		for c := range connections {
			close(c.send)
		}
		h.clients.Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			connections[c] = struct{}{}
			h.clients.Store(int32(len(connections)))
			h.logger.Debug("Client connected", zap.Int("clients", len(connections)))

		case c := <-h.unregister:
			if _, ok := connections[c]; ok {
				delete(connections, c)
				close(c.send)
				h.clients.Store(int32(len(connections)))
				h.logger.Debug("Client disconnected", zap.Int("clients", len(connections)))
			}

		case msg := <-h.broadcast:
			for c := range connections {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("Dropping message for slow client")
				}
			}
		}
	}
}

// Clients returns the number of registered connections.
func (h *Hub) Clients() int {
	return int(h.clients.Load())
}

// ServeHTTP upgrades the request and blocks until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}

	c := &connection{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client frames; it exists to notice disconnects.
func (h *Hub) readPump(c *connection) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	c.conn.SetReadLimit(readLimit)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(messageKind, msg); err != nil {
				h.logger.Debug("Write failed", zap.Error(err))
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

// Send queues a raw frame for every client. It never blocks the caller.
func (h *Hub) Send(data []byte) {
	select {
	case <-h.done:
	case h.broadcast <- data:
	default:
		h.logger.Warn("Broadcast queue full, dropping message")
	}
}

// Broadcast wraps data in a Message of the given type and sends it.
func (h *Hub) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("Error marshaling broadcast message", zap.String("type", msgType), zap.Error(err))
		return
	}
	h.Send(payload)
}

// OnEvent forwards agent events: state changes as "stateUpdate", decided steps
// as "step".
func (h *Hub) OnEvent(e agent.Event) {
	switch e.Kind {
	case agent.EventStep:
		if e.Step != nil {
			h.Broadcast("step", e.Step)
		}
		h.Broadcast("stateUpdate", e.State)
	default:
		h.Broadcast("stateUpdate", e.State)
	}
}

// SendTokenUpdate announces the current token usage.
func (h *Hub) SendTokenUpdate(u token.Usage) {
	data, err := token.CreateTokenUpdateJSON(u)
	if err != nil {
		h.logger.Error("Error marshaling token update", zap.Error(err))
		return
	}
	h.Send(data)
}

// SendTaskUpdate announces a task status change.
func (h *Hub) SendTaskUpdate(taskID, status, message string) {
	h.Broadcast("taskUpdate", map[string]interface{}{
		"taskId":  taskID,
		"status":  status,
		"message": message,
	})
}
