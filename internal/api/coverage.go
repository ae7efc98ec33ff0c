package api

import (
	"io"
	"net"
	"net/http"

	"github.com/yellowcooln/meshmap-engine/internal/config"
)

// CoverageHandler is a thin authenticated-origin proxy to an external
// coverage-raster provider, so the browser never needs the provider's own
// credentials or CORS policy (spec.md §6 "coverage API — thin proxy").
func CoverageHandler(cfg *config.Config) http.HandlerFunc {
	client := &http.Client{Timeout: cfg.ExternalFetchTimeout}
	return func(w http.ResponseWriter, r *http.Request) {
		url := cfg.CoverageAPIURL
		if q := r.URL.RawQuery; q != "" {
			url += "?" + q
		}

		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to build upstream request")
			return
		}

		resp, err := client.Do(req)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				WriteError(w, http.StatusBadGateway, "coverage_api_timeout")
				return
			}
			WriteErrorDetail(w, http.StatusBadGateway, "coverage_api_error", err.Error())
			return
		}
		defer resp.Body.Close()

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}
}
