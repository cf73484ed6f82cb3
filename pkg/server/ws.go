package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/homeflux/homeflux/pkg/log"
	"github.com/homeflux/homeflux/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one connected websocket subscriber.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans published plans out to websocket subscribers. Slow subscribers
// drop messages rather than stall the tick goroutine.
type hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*client]bool)}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// client buffer full, skip
		}
	}
}

func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastPlan pushes a published plan to every subscriber. Wired to the
// scheduler's OnPublish callback.
func (s *Server) BroadcastPlan(plan types.Plan) {
	msg, err := json.Marshal(plan)
	if err != nil {
		return
	}
	s.hub.broadcast(msg)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// handleWS upgrades the connection, sends the current plan immediately, and
// streams every later publication.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	s.hub.register(c)
	go c.writePump()

	if snap, ok := s.sched.Current(); ok {
		if msg, err := json.Marshal(snap.Plan); err == nil {
			select {
			case c.send <- msg:
			default:
			}
		}
	}

	s.readPump(ctx, c)
}

// readPump drains client frames until the connection closes. The stream is
// one-way; inbound messages are ignored.
func (s *Server) readPump(ctx context.Context, c *client) {
	defer func() {
		s.hub.unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Ctx(ctx).DebugContext(ctx, "websocket read error", slog.Any("error", err))
			}
			return
		}
	}
}
