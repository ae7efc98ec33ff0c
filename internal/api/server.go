// Package api exposes the mesh map's HTTP/WebSocket surface (component H):
// a live snapshot/delta feed, REST lookups over the topology store, and
// thin proxies to the elevation/coverage external collaborators.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yellowcooln/meshmap-engine/internal/broadcast"
	"github.com/yellowcooln/meshmap-engine/internal/config"
	"github.com/yellowcooln/meshmap-engine/internal/ingest"
	"github.com/yellowcooln/meshmap-engine/internal/metrics"
	"github.com/yellowcooln/meshmap-engine/internal/mqttclient"
	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions wires every collaborator the HTTP surface depends on.
type ServerOptions struct {
	Config      *config.Config
	Store       *topology.Store
	Hub         *broadcast.Hub
	Broadcaster *broadcast.Broadcaster
	Dispatcher  *ingest.Dispatcher
	MQTT        *mqttclient.Client
	Version     string
	StartTime   time.Time
	Log         zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	r := chi.NewRouter()

	origins := config.CSVToSlice(opts.Config.CORSOrigins)

	r.Use(RequestID)
	r.Use(CORSWithOrigins(origins))
	r.Use(RateLimiter(opts.Config.RateLimitRPS, opts.Config.RateLimitBurst))
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	health := NewHealthHandler(opts.MQTT, opts.Broadcaster, opts.StartTime, opts.Version)
	r.Get("/health", health.ServeHTTP)

	ws := NewWSHandler(opts.Store, opts.Hub, opts.Log)
	r.Get("/ws", ws.ServeHTTP)

	r.Get("/snapshot", SnapshotHandler(opts.Store))
	r.Get("/stats", StatsHandler(opts.Dispatcher, opts.Hub, opts.Broadcaster, opts.MQTT))
	r.Get("/api/nodes", NodesHandler(opts.Store))
	r.Get("/peers/{device_id}", PeerHandler(opts.Store, config.CSVToSlice(opts.Config.ForcedOnlineNames)))

	collector := metrics.NewCollector(opts.Hub, opts.Broadcaster)
	prometheus.MustRegister(collector)

	if opts.Config.ElevationAPIURL != "" {
		los := NewLOSHandler(opts.Config)
		r.Get("/los", los.ServeHTTP)
	}
	if opts.Config.CoverageAPIURL != "" {
		r.Get("/coverage", CoverageHandler(opts.Config))
	}

	debug := NewDebugHandler(opts.Dispatcher, opts.Config.DebugTraceLimit)
	r.Group(func(r chi.Router) {
		if opts.Config.ProdMode {
			r.Use(RequireAuth(opts.Config.ProdToken))
			r.Use(BearerAuth(opts.Config.ProdToken))
		}
		r.Get("/debug/last", debug.Last)
		r.Get("/debug/status", debug.Status)
	})

	r.Get("/manifest.webmanifest", ManifestHandler)
	r.Get("/sw.js", ServiceWorkerHandler)
	mountDocs(r)

	srv := &http.Server{
		Addr:         opts.Config.HTTPAddr,
		Handler:      r,
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
		IdleTimeout:  opts.Config.IdleTimeout,
	}

	return &Server{http: srv, log: opts.Log}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
