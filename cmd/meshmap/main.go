package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/yellowcooln/meshmap-engine/internal/api"
	"github.com/yellowcooln/meshmap-engine/internal/broadcast"
	"github.com/yellowcooln/meshmap-engine/internal/classifier"
	"github.com/yellowcooln/meshmap-engine/internal/config"
	"github.com/yellowcooln/meshmap-engine/internal/decoder"
	"github.com/yellowcooln/meshmap-engine/internal/ingest"
	"github.com/yellowcooln/meshmap-engine/internal/mqttclient"
	"github.com/yellowcooln/meshmap-engine/internal/persistence"
	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

// version, commit, and buildTime are injected at build time via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-url", "", "MQTT broker URL (overrides MQTT_BROKER_URL)")
	flag.StringVar(&overrides.StateFile, "state-file", "", "Topology state snapshot path (overrides STATE_FILE)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Msg("meshmap-engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := topology.New(limitsFromConfig(cfg))

	rolesLog := log.With().Str("component", "persistence").Logger()
	if cfg.StateFile != "" {
		persistence.LoadState(cfg.StateFile, store, rolesLog)
	}
	if cfg.DeviceRolesFile != "" {
		roles := persistence.NewRolesWatcher(cfg.DeviceRolesFile, store, rolesLog)
		roles.LoadOnce()
		go func() {
			if err := roles.Run(ctx); err != nil {
				rolesLog.Warn().Err(err).Msg("device roles watcher stopped")
			}
		}()
	}

	hub := broadcast.NewHub(log.With().Str("component", "broadcast").Logger())
	bcast := broadcast.NewBroadcaster(store, hub, cfg.BroadcastQueueSize, log.With().Str("component", "broadcast").Logger())

	var historyFile *persistence.HistoryFile
	if cfg.RouteHistoryEnabled && cfg.HistoryFile != "" {
		historyFile = persistence.NewHistoryFile(cfg.HistoryFile, rolesLog)
		store.LoadHistorySegments(persistence.LoadSegments(cfg.HistoryFile, rolesLog))
		bcast.OnHistorySegments = historyFile.Append
		compactor := persistence.NewCompactor(store, historyFile, cfg.RouteHistoryCompactInterval, rolesLog)
		go compactor.Run(ctx)
	}

	go bcast.Run(ctx)

	reaper := broadcast.NewReaper(store, bcast, log.With().Str("component", "reaper").Logger())
	go reaper.Run(ctx)

	if cfg.StateFile != "" {
		saver := persistence.NewStateSaver(store, cfg.StateFile, cfg.StateSaveInterval, rolesLog)
		go saver.Run(ctx)
		defer saver.Save()
	}

	dec := decoder.New(cfg.NodeScriptPath, time.Duration(cfg.NodeDecodeTimeoutSeconds)*time.Second, log.With().Str("component", "decoder").Logger())

	dispatcher := ingest.New(ingest.Options{
		Store:             store,
		Broadcaster:       bcast,
		Decoder:           dec,
		ClassifierConfig:  classifierConfigFromConfig(cfg),
		OnlineSuffixes:    config.CSVToSlice(cfg.MQTTOnlineSuffixes),
		SeenBroadcastMin:  cfg.MQTTSeenBroadcastMinSeconds,
		RoutePayloadTypes: intsFromCSV(cfg.RoutePayloadTypes),
		DebugTraceLimit:   cfg.DebugTraceLimit,
		Log:               log,
	})

	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Topics:      cfg.MQTTTopics,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Transport:   cfg.MQTTTransport,
			WSPath:      cfg.MQTTWSPath,
			TLSEnabled:  cfg.MQTTTLSEnabled,
			TLSCAFile:   cfg.MQTTTLSCAFile,
			TLSInsecure: cfg.MQTTTLSInsecure,
			Log:         mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		mqtt.SetMessageHandler(dispatcher.HandleMessage)
		log.Info().Str("broker", cfg.MQTTBrokerURL).Str("client_id", cfg.MQTTClientID).Msg("mqtt connected")
	} else {
		log.Warn().Msg("MQTT_BROKER_URL not set — ingest disabled, serving topology state only")
	}

	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:      cfg,
		Store:       store,
		Hub:         hub,
		Broadcaster: bcast,
		Dispatcher:  dispatcher,
		MQTT:        mqtt,
		Version:     fmt.Sprintf("%s (commit=%s, built=%s)", version, commit, buildTime),
		StartTime:   startTime,
		Log:         httpLog,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	log.Info().
		Str("listen", cfg.HTTPAddr).
		Str("version", version).
		Dur("startup_ms", time.Since(startTime)).
		Msg("meshmap-engine ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("meshmap-engine stopped")
}

func limitsFromConfig(cfg *config.Config) topology.Limits {
	return topology.Limits{
		TrailLen:                 cfg.TrailLen,
		DeviceTTLSeconds:         cfg.DeviceTTLSeconds,
		RouteTTLSeconds:          cfg.RouteTTLSeconds,
		HeatTTLSeconds:           cfg.HeatTTLSeconds,
		MessageOriginTTLSeconds:  cfg.MessageOriginTTLSeconds,
		MapRadiusKM:              cfg.MapRadiusKM,
		MapStartLat:              cfg.MapStartLat,
		MapStartLon:              cfg.MapStartLon,
		RouteHistoryEnabled:      cfg.RouteHistoryEnabled,
		RouteHistoryHours:        float64(cfg.RouteHistoryHours),
		RouteHistoryMaxSegments:  cfg.RouteHistoryMaxSegments,
		RouteHistoryAllowedModes: routeModesFromCSV(cfg.RouteHistoryAllowedModes),
		RouteHistoryPayloadTypes: payloadTypeSetFromCSV(cfg.RouteHistoryPayloadTypes),
		HistoryEdgeSampleLimit:   cfg.HistoryEdgeSampleLimit,
	}
}

func classifierConfigFromConfig(cfg *config.Config) classifier.Config {
	return classifier.Config{
		DirectCoordsMode:       classifier.DirectCoordsMode(cfg.DirectCoordsMode),
		DirectCoordsTopicRegex: classifier.CompileTopicRegex(cfg.DirectCoordsTopicRegex),
		DirectCoordsAllowZero:  cfg.DirectCoordsAllowZero,
	}
}

func routeModesFromCSV(s string) map[topology.RouteMode]struct{} {
	out := make(map[topology.RouteMode]struct{})
	for _, part := range config.CSVToSlice(s) {
		out[topology.RouteMode(strings.TrimSpace(part))] = struct{}{}
	}
	return out
}

func payloadTypeSetFromCSV(s string) map[int]struct{} {
	out := make(map[int]struct{})
	for _, n := range intsFromCSV(s) {
		out[n] = struct{}{}
	}
	return out
}

func intsFromCSV(s string) []int {
	parts := config.CSVToSlice(s)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
