package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/yellowcooln/meshmap-engine/internal/broadcast"
	"github.com/yellowcooln/meshmap-engine/internal/metrics"
	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHandler upgrades /ws connections, registers them with the hub, and
// sends the initial full-state snapshot before handing the connection over
// to the broadcaster's fan-out (spec.md §4.H "WS /ws").
type WSHandler struct {
	store *topology.Store
	hub   *broadcast.Hub
	log   zerolog.Logger
}

func NewWSHandler(store *topology.Store, hub *broadcast.Hub, log zerolog.Logger) *WSHandler {
	return &WSHandler{store: store, hub: hub, log: log.With().Str("component", "ws").Logger()}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := h.hub.Register(conn)
	metrics.WSSubscribersGauge.Set(float64(h.hub.Count()))

	snapshot, err := json.Marshal(map[string]any{
		"type":     "snapshot",
		"snapshot": h.store.Snapshot(),
	})
	if err == nil {
		if sendErr := h.hub.SendTo(id, snapshot); sendErr != nil {
			h.hub.Remove(id)
			metrics.WSSubscribersGauge.Set(float64(h.hub.Count()))
			return
		}
		metrics.WSMessagesSentTotal.Inc()
	}

	// Drain and discard inbound frames; this is a push-only feed, but we
	// must keep reading so gorilla's control-frame handling (ping/pong,
	// close) runs and the connection is detected as dead promptly.
	go func() {
		defer func() {
			h.hub.Remove(id)
			metrics.WSSubscribersGauge.Set(float64(h.hub.Count()))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
