package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yellowcooln/meshmap-engine/internal/config"
	"github.com/yellowcooln/meshmap-engine/internal/los"
)

func TestLOSHandler(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req elevationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode upstream request: %v", err)
		}
		results := make([]elevationResult, len(req.Locations))
		for i, loc := range req.Locations {
			results[i] = elevationResult{Latitude: loc.Latitude, Longitude: loc.Longitude, Elevation: 100}
		}
		json.NewEncoder(w).Encode(elevationResponse{Results: results})
	}))
	defer upstream.Close()

	cfg := &config.Config{
		ElevationAPIURL:      upstream.URL,
		ExternalFetchTimeout: 5 * time.Second,
		LOSSampleMin:         4,
		LOSSampleMax:         16,
		LOSStepMeters:        50,
	}
	h := NewLOSHandler(cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/los?lat1=1&lon1=1&lat2=1.01&lon2=1.01", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var profile los.Profile
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
}

func TestLOSHandlerMissingParams(t *testing.T) {
	cfg := &config.Config{ElevationAPIURL: "http://example.invalid", ExternalFetchTimeout: time.Second}
	h := NewLOSHandler(cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/los?lat1=1&lon1=1", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
