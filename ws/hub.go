// Package ws exposes the scan session to headless clients over a websocket:
// status and prompt events go out, tap/confirm/cancel commands come in.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/freeclip/pairing"
	"github.com/mjasion/balena-home/freeclip/session"
)

// Event types sent to clients
const (
	EventStatus = "status"
	EventPrompt = "prompt"
	EventError  = "error"
)

const (
	writeWait       = 5 * time.Second
	clientQueueSize = 32
)

var (
	errUnknownClient = errors.New("websocket client not connected")
	errSlowClient    = errors.New("websocket client queue full")
)

type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// PromptPayload is the prompt event body
type PromptPayload struct {
	ID      uint64 `json:"id"`
	Kind    string `json:"kind"`
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
}

type ErrorPayload struct {
	Command string `json:"command"`
	Message string `json:"message"`
}

func newPromptPayload(req pairing.PromptRequest) PromptPayload {
	return PromptPayload{
		ID:      req.ID,
		Kind:    req.Kind.String(),
		Address: req.Address,
		Name:    req.Name,
		Message: req.Message(),
	}
}

// Hub fans session events out to every connected client. Each client has
// its own queue drained by a writer goroutine, so a stalled client never
// blocks the caller; a client whose queue overflows is disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]*client
	logger  *zap.Logger
}

type client struct {
	send  chan Event
	write func(Event) error
	close func() error
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]*client),
		logger:  logger,
	}
}

func (h *Hub) AddClient(conn *websocket.Conn) {
	h.add(conn, &client{
		send:  make(chan Event, clientQueueSize),
		write: func(event Event) error { return writeEvent(conn, event) },
		close: conn.Close,
	})
	h.logger.Info("websocket client connected",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.Int("clients", h.Clients()),
	)
}

func (h *Hub) add(conn *websocket.Conn, c *client) {
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()

	go h.writeLoop(conn, c)
}

// writeLoop is the only writer of the connection
func (h *Hub) writeLoop(conn *websocket.Conn, c *client) {
	for event := range c.send {
		if err := c.write(event); err != nil {
			h.logger.Debug("failed to write to websocket client", zap.Error(err))
			h.RemoveClient(conn)
			return
		}
	}
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(conn)
}

func (h *Hub) removeLocked(conn *websocket.Conn) {
	c, ok := h.clients[conn]
	if !ok {
		return
	}
	delete(h.clients, conn)
	close(c.send)
	c.close()
	h.logger.Info("websocket client disconnected", zap.Int("clients", len(h.clients)))
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Send queues an event for a single client
func (h *Hub) Send(conn *websocket.Conn, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[conn]
	if !ok {
		return errUnknownClient
	}
	if !h.enqueueLocked(conn, c, event) {
		return errSlowClient
	}
	return nil
}

func writeEvent(conn *websocket.Conn, event Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(event)
}

// Broadcast queues an event for every client without waiting for writes
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, c := range h.clients {
		h.enqueueLocked(conn, c, event)
	}
}

// enqueueLocked drops the client when its queue is full
func (h *Hub) enqueueLocked(conn *websocket.Conn, c *client, event Event) bool {
	select {
	case c.send <- event:
		return true
	default:
		h.logger.Warn("websocket client too slow, disconnecting", zap.Int("queued", len(c.send)))
		h.removeLocked(conn)
		return false
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		h.removeLocked(conn)
	}
}

func (h *Hub) StatusChanged(snap session.Snapshot) {
	h.Broadcast(Event{Type: EventStatus, Payload: snap})
}

func (h *Hub) PromptRequested(req pairing.PromptRequest) {
	h.Broadcast(Event{Type: EventPrompt, Payload: newPromptPayload(req)})
}
