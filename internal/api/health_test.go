package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yellowcooln/meshmap-engine/internal/broadcast"
	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

func TestHealthHandler(t *testing.T) {
	t.Run("no_mqtt_configured", func(t *testing.T) {
		h := NewHealthHandler(nil, nil, time.Now(), "test")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp HealthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Status != "healthy" {
			t.Errorf("status = %q, want healthy", resp.Status)
		}
		if resp.Checks["mqtt"] != "not_configured" {
			t.Errorf("mqtt check = %q, want not_configured", resp.Checks["mqtt"])
		}
	})

	t.Run("degraded_on_dropped_events", func(t *testing.T) {
		store := testStore()
		hub := broadcast.NewHub(testLogger())
		bcast := broadcast.NewBroadcaster(store, hub, 0, testLogger()) // zero-capacity queue drops immediately
		bcast.Enqueue(topology.Event{Kind: topology.EventDeviceSeen, DeviceID: "node1"})

		h := NewHealthHandler(nil, bcast, time.Now(), "test")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		var resp HealthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Status != "degraded" {
			t.Errorf("status = %q, want degraded", resp.Status)
		}
	})
}
