package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/yellowcooln/meshmap-engine/internal/config"
	"github.com/yellowcooln/meshmap-engine/internal/los"
)

// LOSHandler proxies the line-of-sight obstruction check: it samples the
// great-circle path between two points locally (internal/los), fetches
// terrain elevation for each sample from the configured external provider,
// and returns an obstruction Profile. Supplemented from
// original_source/backend/app.py's los module (spec.md §3.7).
type LOSHandler struct {
	elevationURL string
	client       *http.Client
	sampleMin    int
	sampleMax    int
	stepMeters   float64
}

func NewLOSHandler(cfg *config.Config) *LOSHandler {
	return &LOSHandler{
		elevationURL: cfg.ElevationAPIURL,
		client:       &http.Client{Timeout: cfg.ExternalFetchTimeout},
		sampleMin:    cfg.LOSSampleMin,
		sampleMax:    cfg.LOSSampleMax,
		stepMeters:   cfg.LOSStepMeters,
	}
}

type elevationLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type elevationResult struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
}

type elevationRequest struct {
	Locations []elevationLocation `json:"locations"`
}

type elevationResponse struct {
	Results []elevationResult `json:"results"`
}

func (h *LOSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lat1, ok1 := QueryFloat(r, "lat1")
	lon1, ok2 := QueryFloat(r, "lon1")
	lat2, ok3 := QueryFloat(r, "lat2")
	lon2, ok4 := QueryFloat(r, "lon2")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		WriteError(w, http.StatusBadRequest, "lat1, lon1, lat2, lon2 are required")
		return
	}
	height1, _ := QueryFloat(r, "height1")
	if height1 == 0 {
		height1 = 2
	}
	height2, _ := QueryFloat(r, "height2")
	if height2 == 0 {
		height2 = 2
	}

	points := los.SamplePoints(lat1, lon1, lat2, lon2, h.sampleMin, h.sampleMax, h.stepMeters)
	elevations, err := h.fetchElevations(r.Context(), points)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadGateway, "elevation_fetch_failed", err.Error())
		return
	}

	samples := make([]los.ElevationSample, len(points))
	for i, p := range points {
		samples[i] = los.ElevationSample{Sample: p, ElevationM: elevations[i]}
	}

	profile := los.Analyze(samples, samples[0].ElevationM, height1, samples[len(samples)-1].ElevationM, height2)
	WriteJSON(w, http.StatusOK, profile)
}

func (h *LOSHandler) fetchElevations(ctx context.Context, points []los.Sample) ([]float64, error) {
	locs := make([]elevationLocation, len(points))
	for i, p := range points {
		locs[i] = elevationLocation{Latitude: p.Lat, Longitude: p.Lon}
	}
	body, err := json.Marshal(elevationRequest{Locations: locs})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.elevationURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevation provider returned status %d", resp.StatusCode)
	}

	var out elevationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Results) != len(points) {
		return nil, fmt.Errorf("elevation provider returned %d results for %d points", len(out.Results), len(points))
	}

	elevations := make([]float64, len(out.Results))
	for i, res := range out.Results {
		elevations[i] = res.Elevation
	}
	return elevations, nil
}
