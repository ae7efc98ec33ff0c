package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"MQTT_BROKER_URL": "tcp://localhost:1883",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.MQTTTopics != "meshcore/#" {
			t.Errorf("MQTTTopics = %q, want meshcore/#", cfg.MQTTTopics)
		}
		if cfg.MQTTClientID != "meshmap-engine" {
			t.Errorf("MQTTClientID = %q, want meshmap-engine", cfg.MQTTClientID)
		}
		if cfg.TrailLen != 50 {
			t.Errorf("TrailLen = %d, want 50", cfg.TrailLen)
		}
		if !cfg.RouteHistoryEnabled {
			t.Error("RouteHistoryEnabled = false, want true")
		}
		if cfg.DirectCoordsMode != "topic" {
			t.Errorf("DirectCoordsMode = %q, want topic", cfg.DirectCoordsMode)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:       "nonexistent.env",
			HTTPAddr:      ":9090",
			LogLevel:      "debug",
			MQTTBrokerURL: "tcp://override:1883",
			StateFile:     "/tmp/state.json",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.MQTTBrokerURL != "tcp://override:1883" {
			t.Errorf("MQTTBrokerURL = %q, want override", cfg.MQTTBrokerURL)
		}
		if cfg.StateFile != "/tmp/state.json" {
			t.Errorf("StateFile = %q, want /tmp/state.json", cfg.StateFile)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.MQTTBrokerURL != "tcp://localhost:1883" {
			t.Errorf("MQTTBrokerURL = %q, want tcp://localhost:1883", cfg.MQTTBrokerURL)
		}
	})

	t.Run("empty_overrides_use_env", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.MQTTBrokerURL != "tcp://localhost:1883" {
			t.Errorf("MQTTBrokerURL = %q, want env value", cfg.MQTTBrokerURL)
		}
	})
}

func TestValidateRequiresBroker(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when MQTT_BROKER_URL is unset")
	}
	cfg.MQTTBrokerURL = "tcp://localhost:1883"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestCSVToSlice(t *testing.T) {
	cases := map[string][]string{
		"":                nil,
		"a":               {"a"},
		"a,b,c":           {"a", "b", "c"},
		" a , b ,,c ":     {"a", "b", "c"},
	}
	for in, want := range cases {
		got := CSVToSlice(in)
		if len(got) != len(want) {
			t.Errorf("CSVToSlice(%q) = %v, want %v", in, got, want)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("CSVToSlice(%q) = %v, want %v", in, got, want)
				break
			}
		}
	}
}

func TestDirectCoordsModeRegex(t *testing.T) {
	cfg := &Config{DirectCoordsTopicRegex: "/(position|gps)$"}
	if re := cfg.DirectCoordsModeRegex(); re == nil || !re.MatchString("meshcore/bos/AA/position") {
		t.Error("expected regex to compile and match")
	}

	cfg.DirectCoordsTopicRegex = "(unclosed"
	if re := cfg.DirectCoordsModeRegex(); re != nil {
		t.Error("expected nil regex for invalid pattern, configuration-fault should not panic")
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
