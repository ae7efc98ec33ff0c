package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/yellowcooln/meshmap-engine/internal/broadcast"
	"github.com/yellowcooln/meshmap-engine/internal/mqttclient"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	mqtt      *mqttclient.Client
	bcast     *broadcast.Broadcaster
	version   string
	startTime time.Time
}

func NewHealthHandler(mqtt *mqttclient.Client, bcast *broadcast.Broadcaster, startTime time.Time, version string) *HealthHandler {
	return &HealthHandler{mqtt: mqtt, bcast: bcast, version: version, startTime: startTime}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			status = "degraded"
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	if h.bcast != nil {
		if dropped := h.bcast.DroppedCount(); dropped > 0 {
			checks["broadcast_queue"] = "dropping_events"
			status = "degraded"
		} else {
			checks["broadcast_queue"] = "ok"
		}
	}

	httpStatus := http.StatusOK
	if status == "degraded" {
		httpStatus = http.StatusServiceUnavailable
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
