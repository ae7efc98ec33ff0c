// Package broadcast owns the single-writer event loop (component F) and the
// periodic TTL sweeper (component G). It is the only consumer of
// topology.Event values and the only producer of outbound JSON messages to
// WebSocket subscribers.
package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/yellowcooln/meshmap-engine/internal/metrics"
)

// writeTimeout bounds every WebSocket send; a subscriber that can't keep up
// is dropped rather than allowed to block the broadcaster loop (spec.md
// §4.F "a slow client that fails a single send is dropped").
const writeTimeout = 2 * time.Second

type subscriber struct {
	id   uuid.UUID
	conn *websocket.Conn
	mu   sync.Mutex // guards conn.WriteMessage; gorilla connections are not safe for concurrent writers
}

func (s *subscriber) send(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}

// Hub is the WebSocket subscriber registry, generalized from the teacher's
// EventBus subscriber map onto real connections (the teacher used
// Server-Sent Events; spec.md mandates a WebSocket endpoint instead, so the
// transport is gorilla/websocket while the registry shape is the same:
// id -> live connection, removed when a send fails).
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*subscriber
	log  zerolog.Logger
}

// NewHub returns an empty subscriber registry.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{subs: make(map[uuid.UUID]*subscriber), log: log.With().Str("component", "broadcast").Logger()}
}

// Register adds conn to the hub and returns its subscriber id, used to
// Remove it on disconnect.
func (h *Hub) Register(conn *websocket.Conn) uuid.UUID {
	id := uuid.New()
	h.mu.Lock()
	h.subs[id] = &subscriber{id: id, conn: conn}
	h.mu.Unlock()
	return id
}

// Remove drops a subscriber, closing its connection. Safe to call more than
// once for the same id.
func (h *Hub) Remove(id uuid.UUID) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		_ = sub.conn.Close()
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// SendTo writes data as a single subscriber's initial snapshot. Returns the
// write error so the caller can decide whether to Remove immediately.
func (h *Hub) SendTo(id uuid.UUID, data []byte) error {
	h.mu.RLock()
	sub, ok := h.subs[id]
	h.mu.RUnlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	return sub.send(websocket.TextMessage, data)
}

// Broadcast writes data to every live subscriber, removing any whose send
// fails once the full iteration completes (spec.md §4.F's send discipline:
// "a failed send marks the subscriber for removal after the iteration
// completes").
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	var failed []uuid.UUID
	for _, sub := range targets {
		if err := sub.send(websocket.TextMessage, data); err != nil {
			h.log.Debug().Err(err).Str("subscriber", sub.id.String()).Msg("dropping slow/closed subscriber")
			failed = append(failed, sub.id)
		} else {
			metrics.WSMessagesSentTotal.Inc()
		}
	}
	for _, id := range failed {
		h.Remove(id)
	}
}
