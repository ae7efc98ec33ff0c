package api

import (
	"net/http"

	"github.com/yellowcooln/meshmap-engine/internal/ingest"
)

// DebugHandler exposes the ingest Dispatcher's bounded trace ring buffer.
// Gated behind RequireAuth/BearerAuth in prod mode (server.go) since a trace
// includes payload previews that could leak node identity.
type DebugHandler struct {
	dispatcher *ingest.Dispatcher
	traceLimit int
}

func NewDebugHandler(d *ingest.Dispatcher, traceLimit int) *DebugHandler {
	return &DebugHandler{dispatcher: d, traceLimit: traceLimit}
}

// Last returns the most recently classified messages, newest last.
func (h *DebugHandler) Last(w http.ResponseWriter, r *http.Request) {
	traces := h.dispatcher.RecentTraces()
	if n, ok := QueryInt(r, "limit"); ok && n > 0 && n < len(traces) {
		traces = traces[len(traces)-n:]
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"trace_limit": h.traceLimit,
		"count":       len(traces),
		"traces":      traces,
	})
}

// Status reports whether tracing is enabled and how full the buffer is.
func (h *DebugHandler) Status(w http.ResponseWriter, r *http.Request) {
	traces := h.dispatcher.RecentTraces()
	WriteJSON(w, http.StatusOK, map[string]any{
		"enabled":     h.traceLimit > 0,
		"trace_limit": h.traceLimit,
		"buffered":    len(traces),
	})
}
