// Package ws streams evaluated decisions to dashboard subscribers over
// websockets. Slow consumers are dropped rather than allowed to back up
// the evaluation path.
package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/oddsforge/pickgate/internal/persistence"
)

// Hub maintains the set of active subscribers and fans decisions out
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan persistence.Decision

	upgrader websocket.Upgrader
	buffer   int
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]chan persistence.Decision),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth and origin policy belong to the upstream gateway
			CheckOrigin: func(*http.Request) bool { return true },
		},
		buffer: 64,
	}
}

// HandleWS upgrades the request and serves the subscriber until it
// disconnects
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	ch := make(chan persistence.Decision, h.buffer)
	h.mu.Lock()
	h.clients[conn] = ch
	count := len(h.clients)
	h.mu.Unlock()
	log.Info().Int("clients", count).Msg("Websocket client connected")

	go h.writeLoop(conn, ch)
	h.readLoop(conn)
}

// writeLoop drains the client's channel until it closes
func (h *Hub) writeLoop(conn *websocket.Conn, ch chan persistence.Decision) {
	for decision := range ch {
		if err := conn.WriteJSON(decision); err != nil {
			log.Debug().Err(err).Msg("Websocket write failed, dropping client")
			h.drop(conn)
			return
		}
	}
}

// readLoop consumes control frames and detects disconnects
func (h *Hub) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.drop(conn)
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}

// Broadcast fans one decision out to every subscriber. Full buffers are
// skipped: a stalled dashboard must not block or reorder the feed.
func (h *Hub) Broadcast(d persistence.Decision) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- d:
		default:
		}
	}
}

// ClientCount reports the current subscriber count
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		close(ch)
		conn.Close()
		delete(h.clients, conn)
	}
}
