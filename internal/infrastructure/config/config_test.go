package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
component:
  name: "speech"
  version: "1.2.0"
  intents_folder: "./intents"
mqtt:
  broker:
    host: "localhost"
    port: 1883
  qos: 1
store:
  backend: "sqlite"
  watch_timeout: 10s
  sqlite:
    path: "/tmp/tep.db"
runtime:
  heartbeat_interval: 5s
  stale_threshold: 20s
`
	configPath := writeFile(t, t.TempDir(), "config.yaml", content)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Component.Name != "speech" {
		t.Errorf("Component.Name = %q, want %q", cfg.Component.Name, "speech")
	}
	if cfg.Component.Version != "1.2.0" {
		t.Errorf("Component.Version = %q, want %q", cfg.Component.Version, "1.2.0")
	}
	if cfg.Store.Backend != StoreBackendSQLite {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, StoreBackendSQLite)
	}
	if cfg.Store.WatchTimeout != 10*time.Second {
		t.Errorf("Store.WatchTimeout = %v, want 10s", cfg.Store.WatchTimeout)
	}
	if cfg.Runtime.HeartbeatInterval != 5*time.Second {
		t.Errorf("Runtime.HeartbeatInterval = %v, want 5s", cfg.Runtime.HeartbeatInterval)
	}
	// Untouched values keep their defaults
	if cfg.Runtime.StaleCheckInterval != 5*time.Second {
		t.Errorf("Runtime.StaleCheckInterval = %v, want default 5s", cfg.Runtime.StaleCheckInterval)
	}
	if cfg.Component.NLUComponent != "nlu" {
		t.Errorf("Component.NLUComponent = %q, want default %q", cfg.Component.NLUComponent, "nlu")
	}
}

func TestLoad_TOML(t *testing.T) {
	content := `
[component]
name = "hotword"

[store]
backend = "memory"

[runtime]
heartbeat_interval = "2s"
stale_threshold = "10s"
`
	configPath := writeFile(t, t.TempDir(), "config.toml", content)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Component.Name != "hotword" {
		t.Errorf("Component.Name = %q, want %q", cfg.Component.Name, "hotword")
	}
	if cfg.Store.Backend != StoreBackendMemory {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, StoreBackendMemory)
	}
	if cfg.Runtime.HeartbeatInterval != 2*time.Second {
		t.Errorf("Runtime.HeartbeatInterval = %v, want 2s", cfg.Runtime.HeartbeatInterval)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	t.Setenv("TEP_NATS_URL", "")
	os.Unsetenv("TEP_NATS_URL") //nolint:errcheck // restored by t.Setenv cleanup

	dir := t.TempDir()
	writeFile(t, dir, ".env", "TEP_NATS_URL=nats://store.local:4222\n")
	configPath := writeFile(t, dir, "config.yaml", "component:\n  name: \"nlu\"\n")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Store.NATS.URL != "nats://store.local:4222" {
		t.Errorf("Store.NATS.URL = %q, want value from .env", cfg.Store.NATS.URL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "config.yaml", "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestRead_SkipsValidation(t *testing.T) {
	t.Setenv("TEP_COMPONENT_NAME", "")
	configPath := writeFile(t, t.TempDir(), "config.yaml", "component:\n  version: \"2.0.0\"\n")

	cfg, err := Read(configPath)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Component.Version != "2.0.0" {
		t.Errorf("Component.Version = %q, want 2.0.0", cfg.Component.Version)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() error = nil, want missing component.name")
	}

	cfg.Component.Name = "speech"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after setting name error = %v", err)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "config.yaml", "component:\n  name: \"\"\n")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty component.name, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Component.Name = "speech"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing component name",
			mutate:  func(c *Config) { c.Component.Name = "" },
			wantErr: "component.name is required",
		},
		{
			name:    "component name with separator",
			mutate:  func(c *Config) { c.Component.Name = "a/b" },
			wantErr: "component.name must not contain",
		},
		{
			name:    "reserved global scope",
			mutate:  func(c *Config) { c.Component.Name = "global" },
			wantErr: "reserved scope",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "unknown store backend",
			mutate:  func(c *Config) { c.Store.Backend = "etcd" },
			wantErr: "store.backend",
		},
		{
			name:    "nats backend without bucket",
			mutate:  func(c *Config) { c.Store.NATS.Bucket = "" },
			wantErr: "store.nats",
		},
		{
			name: "sqlite backend without path",
			mutate: func(c *Config) {
				c.Store.Backend = StoreBackendSQLite
				c.Store.SQLite.Path = ""
			},
			wantErr: "store.sqlite.path",
		},
		{
			name:    "stale threshold not above heartbeat",
			mutate:  func(c *Config) { c.Runtime.StaleThreshold = c.Runtime.HeartbeatInterval },
			wantErr: "stale_threshold",
		},
		{
			name: "influxdb enabled without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
			},
			wantErr: "influxdb.url",
		},
		{
			name: "status server without listen address",
			mutate: func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.Listen = ""
			},
			wantErr: "http.listen",
		},
		{
			name: "status server without feed interval",
			mutate: func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.FeedInterval = 0
			},
			wantErr: "http.feed_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("TEP_COMPONENT_NAME", "speech")
	t.Setenv("TEP_MQTT_HOST", "mqtt.example.com")
	t.Setenv("TEP_MQTT_PORT", "8883")
	t.Setenv("TEP_MQTT_USERNAME", "testuser")
	t.Setenv("TEP_MQTT_PASSWORD", "testpass")
	t.Setenv("TEP_STORE_BACKEND", "sqlite")
	t.Setenv("TEP_STORE_PATH", "/custom/tep.db")
	t.Setenv("TEP_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("TEP_HTTP_LISTEN", ":9090")

	ApplyEnvOverrides(cfg)

	if cfg.Component.Name != "speech" {
		t.Errorf("Component.Name = %q, want %q", cfg.Component.Name, "speech")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "sqlite")
	}
	if cfg.Store.SQLite.Path != "/custom/tep.db" {
		t.Errorf("Store.SQLite.Path = %q, want %q", cfg.Store.SQLite.Path, "/custom/tep.db")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Listen != ":9090" {
		t.Errorf("HTTP = %+v, want enabled on :9090", cfg.HTTP)
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := Default()
	t.Setenv("TEP_MQTT_PORT", "not-a-port")

	ApplyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("Default MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Runtime.HeartbeatInterval != 15*time.Second {
		t.Errorf("Default Runtime.HeartbeatInterval = %v, want 15s", cfg.Runtime.HeartbeatInterval)
	}
	if cfg.Runtime.SettingsRetryInterval != 3*time.Second {
		t.Errorf("Default Runtime.SettingsRetryInterval = %v, want 3s", cfg.Runtime.SettingsRetryInterval)
	}
	if !cfg.Runtime.WriteNotAliveOnDetection {
		t.Error("Default Runtime.WriteNotAliveOnDetection = false, want true")
	}
}

func TestConfig_ClientID(t *testing.T) {
	cfg := Default()
	cfg.Component.Name = "speech"

	if got := cfg.ClientID(); got != "tep-speech" {
		t.Errorf("ClientID() = %q, want %q", got, "tep-speech")
	}

	cfg.MQTT.Broker.ClientID = "custom"
	if got := cfg.ClientID(); got != "custom" {
		t.Errorf("ClientID() = %q, want %q", got, "custom")
	}
}
