// Package config loads process configuration from CLI flags, environment
// variables, and an optional .env file, following the teacher's
// caarlos0/env/v11 + joho/godotenv layering.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every environment-variable-tunable setting (spec.md §6).
type Config struct {
	// MQTT connection, auth, TLS and transport selection.
	MQTTBrokerURL      string `env:"MQTT_BROKER_URL"`
	MQTTTopics         string `env:"MQTT_TOPICS" envDefault:"meshcore/#"`
	MQTTClientID       string `env:"MQTT_CLIENT_ID" envDefault:"meshmap-engine"`
	MQTTUsername       string `env:"MQTT_USERNAME"`
	MQTTPassword       string `env:"MQTT_PASSWORD"`
	MQTTTransport      string `env:"MQTT_TRANSPORT" envDefault:"tcp"` // tcp | ws
	MQTTWSPath         string `env:"MQTT_WS_PATH" envDefault:"/mqtt"`
	MQTTTLSEnabled     bool   `env:"MQTT_TLS_ENABLED" envDefault:"false"`
	MQTTTLSCAFile      string `env:"MQTT_TLS_CA_FILE"`
	MQTTTLSInsecure    bool   `env:"MQTT_TLS_INSECURE_SKIP_VERIFY" envDefault:"false"`
	MQTTOnlineSuffixes string `env:"MQTT_ONLINE_SUFFIXES" envDefault:"status,internal"`

	// Retention / TTLs.
	DeviceTTLSeconds            int64 `env:"DEVICE_TTL_SECONDS" envDefault:"3600"`
	RouteTTLSeconds             int64 `env:"ROUTE_TTL_SECONDS" envDefault:"300"`
	HeatTTLSeconds              int64 `env:"HEAT_TTL_SECONDS" envDefault:"3600"`
	MessageOriginTTLSeconds     int64 `env:"MESSAGE_ORIGIN_TTL_SECONDS" envDefault:"900"`
	MQTTOnlineSeconds           int64 `env:"MQTT_ONLINE_SECONDS" envDefault:"900"`
	MQTTSeenBroadcastMinSeconds int64 `env:"MQTT_SEEN_BROADCAST_MIN_SECONDS" envDefault:"30"`

	// History recorder.
	RouteHistoryEnabled          bool          `env:"ROUTE_HISTORY_ENABLED" envDefault:"true"`
	RouteHistoryHours            int           `env:"ROUTE_HISTORY_HOURS" envDefault:"24"`
	RouteHistoryMaxSegments      int           `env:"ROUTE_HISTORY_MAX_SEGMENTS" envDefault:"20000"`
	RouteHistoryAllowedModes     string        `env:"ROUTE_HISTORY_ALLOWED_MODES" envDefault:"path"`
	RouteHistoryPayloadTypes     string        `env:"ROUTE_HISTORY_PAYLOAD_TYPES" envDefault:"0,1"`
	RouteHistoryCompactInterval  time.Duration `env:"ROUTE_HISTORY_COMPACT_INTERVAL" envDefault:"10m"`
	HistoryEdgeSampleLimit       int           `env:"HISTORY_EDGE_SAMPLE_LIMIT" envDefault:"20"`

	// Trail length.
	TrailLen int `env:"TRAIL_LEN" envDefault:"50"`

	// Classifier tuning.
	DirectCoordsMode       string `env:"DIRECT_COORDS_MODE" envDefault:"topic"`
	DirectCoordsTopicRegex string `env:"DIRECT_COORDS_TOPIC_REGEX" envDefault:"/(position|gps|location)$"`
	DirectCoordsAllowZero  bool   `env:"DIRECT_COORDS_ALLOW_ZERO" envDefault:"false"`
	RoutePayloadTypes      string `env:"ROUTE_PAYLOAD_TYPES" envDefault:"0,1,2"`

	// Map framing / radius gating.
	MapStartLat  float64 `env:"MAP_START_LAT" envDefault:"0"`
	MapStartLon  float64 `env:"MAP_START_LON" envDefault:"0"`
	MapStartZoom int     `env:"MAP_START_ZOOM" envDefault:"8"`
	MapRadiusKM  float64 `env:"MAP_RADIUS_KM" envDefault:"0"` // 0 disables radius gating

	// Decoder adapter (external mesh-packet decode helper).
	NodeScriptPath           string `env:"NODE_SCRIPT_PATH"`
	NodeDecodeTimeoutSeconds int    `env:"NODE_DECODE_TIMEOUT_SECONDS" envDefault:"5"`

	// External collaborators (line-of-sight / coverage).
	ElevationAPIURL      string        `env:"ELEVATION_API_URL"`
	CoverageAPIURL       string        `env:"COVERAGE_API_URL"`
	ExternalFetchTimeout time.Duration `env:"EXTERNAL_FETCH_TIMEOUT" envDefault:"6s"`
	LOSSampleMin         int           `env:"LOS_SAMPLE_MIN" envDefault:"16"`
	LOSSampleMax         int           `env:"LOS_SAMPLE_MAX" envDefault:"256"`
	LOSStepMeters        float64       `env:"LOS_STEP_METERS" envDefault:"50"`

	// Persistence.
	StateFile         string        `env:"STATE_FILE" envDefault:"./data/state.json"`
	StateSaveInterval time.Duration `env:"STATE_SAVE_INTERVAL" envDefault:"30s"`
	HistoryFile       string        `env:"HISTORY_FILE" envDefault:"./data/history.jsonl"`
	DeviceRolesFile   string        `env:"DEVICE_ROLES_FILE"`

	// HTTP server.
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	CORSOrigins  string        `env:"CORS_ORIGINS"` // comma-separated; empty = allow all (*)

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Auth.
	ProdMode  bool   `env:"PROD_MODE" envDefault:"false"`
	ProdToken string `env:"PROD_TOKEN"`

	// Broadcaster internals.
	BroadcastQueueSize int `env:"BROADCAST_QUEUE_SIZE" envDefault:"1024"`

	// Debug trace retention (internal/api /debug/last, /debug/status).
	DebugTraceLimit int `env:"DEBUG_TRACE_LIMIT" envDefault:"200"`

	// Forced-online peer names excluded from /peers histograms.
	ForcedOnlineNames string `env:"FORCED_ONLINE_NAMES"`
}

// DirectCoordsModeRegex compiles DirectCoordsTopicRegex, returning nil (not
// an error) on an invalid pattern — an invalid regex disables direct-coord
// regex gating rather than failing startup (spec.md §7, Configuration-fault).
func (c *Config) DirectCoordsModeRegex() *regexp.Regexp {
	re, err := regexp.Compile(c.DirectCoordsTopicRegex)
	if err != nil {
		return nil
	}
	return re
}

// CSVToSlice splits a comma-separated env value, trimming whitespace and
// dropping empty entries.
func CSVToSlice(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the one setting that must be structurally present for the
// service to do anything useful: an MQTT broker to ingest from.
func (c *Config) Validate() error {
	if c.MQTTBrokerURL == "" {
		return fmt.Errorf("MQTT_BROKER_URL must be set")
	}
	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	MQTTBrokerURL string
	StateFile     string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults (teacher idiom).
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTTBrokerURL = overrides.MQTTBrokerURL
	}
	if overrides.StateFile != "" {
		cfg.StateFile = overrides.StateFile
	}

	return cfg, nil
}
