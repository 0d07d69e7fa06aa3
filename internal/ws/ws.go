package ws

import (
	"log/slog"
	"sync"

	"nhooyr.io/websocket"

	"github.com/cmstate/cmstate/internal/reconcile"
)

// StatusProviderFunc returns the current service status as JSON bytes.
// New clients receive it on connect and on every sync request.
type StatusProviderFunc func() ([]byte, error)

// Hub fans reconciliation events out to connected WebSocket clients.
// Membership changes flow through the Run loop; ClientCount may be
// called from any goroutine.
type Hub struct {
	clients        map[*Client]struct{}
	broadcast      chan []byte
	register       chan *Client
	unregister     chan *Client
	logger         *slog.Logger
	mu             sync.RWMutex
	statusProvider StatusProviderFunc
}

// Client represents a single WebSocket connection.
type Client struct {
	hub  *Hub
	send chan []byte
	conn *websocket.Conn
}

// NewHub creates a hub ready for Run.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// SetStatusProvider sets the function called to snapshot service status
// for new and re-syncing clients.
func (h *Hub) SetStatusProvider(fn StatusProviderFunc) {
	h.statusProvider = fn
}

// Run serializes client membership and message fan-out. Call it once,
// in its own goroutine, before accepting connections.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.attach(c)
		case c := <-h.unregister:
			h.detach(c)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// fanOut delivers msg to every client. A client whose send buffer is
// full is dropped rather than allowed to stall the others.
func (h *Hub) fanOut(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("dropping slow websocket client")
		}
	}
}

// Broadcast sends a raw message to all connected clients.
func (h *Hub) Broadcast(message []byte) {
	h.broadcast <- message
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastRunStarted announces a new reconciliation run.
func (h *Hub) BroadcastRunStarted(ev RunEvent) {
	h.send(MsgRunStarted, ev)
}

// BroadcastRunFinished announces the outcome of a run.
func (h *Hub) BroadcastRunFinished(ev RunEvent) {
	h.send(MsgRunFinished, ev)
}

// BroadcastError broadcasts an error to all clients.
func (h *Hub) BroadcastError(errMsg string) {
	h.send(MsgError, map[string]string{"message": errMsg})
}

// Notifier returns a progress notifier that broadcasts each step of the
// given run. Wire it into the reconciler through EnsureOptions.
func (h *Hub) Notifier(runID string) reconcile.Notifier {
	return reconcile.NotifierFunc(func(p reconcile.Progress) {
		h.send(MsgRunProgress, RunProgress{
			RunID:   runID,
			Step:    p.Step,
			Service: p.Service,
			Message: p.Message,
		})
	})
}

func (h *Hub) send(typ MessageType, payload any) {
	msg, err := NewMessage(typ, payload)
	if err != nil {
		h.logger.Error("encoding websocket message", "type", string(typ), "error", err)
		return
	}
	h.Broadcast(msg)
}
