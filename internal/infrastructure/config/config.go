package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backend identifiers.
const (
	StoreBackendMemory = "memory"
	StoreBackendNATS   = "nats"
	StoreBackendSQLite = "sqlite"
)

// Config is the root configuration structure for a Tep component.
// All configuration is loaded from YAML (or TOML) and can be overridden by environment variables.
type Config struct {
	Component ComponentConfig `yaml:"component" toml:"component"`
	MQTT      MQTTConfig      `yaml:"mqtt" toml:"mqtt"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Runtime   RuntimeConfig   `yaml:"runtime" toml:"runtime"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb" toml:"influxdb"`
	HTTP      HTTPConfig      `yaml:"http" toml:"http"`
}

// ComponentConfig identifies the component and where its resources live.
type ComponentConfig struct {
	Name          string `yaml:"name" toml:"name"`
	Version       string `yaml:"version" toml:"version"`
	Workdir       string `yaml:"workdir" toml:"workdir"`
	IntentsFolder string `yaml:"intents_folder" toml:"intents_folder"`
	DialogsFolder string `yaml:"dialogs_folder" toml:"dialogs_folder"`

	// NLUComponent is the peer that receives intent files at startup.
	NLUComponent string `yaml:"nlu_component" toml:"nlu_component"`

	SkipDialogs  bool `yaml:"skip_dialogs" toml:"skip_dialogs"`
	SkipSettings bool `yaml:"skip_settings" toml:"skip_settings"`
	SkipIntents  bool `yaml:"skip_intents" toml:"skip_intents"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker" toml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth" toml:"auth"`
	QoS       int                 `yaml:"qos" toml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect" toml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	TLS      bool   `yaml:"tls" toml:"tls"`
	ClientID string `yaml:"client_id" toml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay" toml:"max_delay"`
}

// StoreConfig selects and configures the watched key-value store.
type StoreConfig struct {
	// Backend is one of "memory", "nats" or "sqlite".
	Backend string `yaml:"backend" toml:"backend"`

	// WatchTimeout is the long-poll window of a single watch call.
	// A watch that sees no change within the window reports a timeout, not an error.
	WatchTimeout time.Duration `yaml:"watch_timeout" toml:"watch_timeout"`

	NATS   NATSConfig   `yaml:"nats" toml:"nats"`
	SQLite SQLiteConfig `yaml:"sqlite" toml:"sqlite"`
}

// NATSConfig configures the JetStream key-value backend.
type NATSConfig struct {
	URL    string `yaml:"url" toml:"url"`
	Bucket string `yaml:"bucket" toml:"bucket"`
}

// SQLiteConfig configures the embedded SQLite backend.
type SQLiteConfig struct {
	Path         string        `yaml:"path" toml:"path"`
	WALMode      bool          `yaml:"wal_mode" toml:"wal_mode"`
	BusyTimeout  int           `yaml:"busy_timeout" toml:"busy_timeout"`
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`
}

// RuntimeConfig holds the intervals of the startup sequence and background tasks.
type RuntimeConfig struct {
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	StaleCheckInterval time.Duration `yaml:"stale_check_interval" toml:"stale_check_interval"`
	StaleThreshold     time.Duration `yaml:"stale_threshold" toml:"stale_threshold"`

	// WriteNotAliveOnDetection propagates locally detected staleness to the central registry.
	WriteNotAliveOnDetection bool `yaml:"write_not_alive_on_detection" toml:"write_not_alive_on_detection"`

	SettingsRetryInterval time.Duration `yaml:"settings_retry_interval" toml:"settings_retry_interval"`
	BusRetryInterval      time.Duration `yaml:"bus_retry_interval" toml:"bus_retry_interval"`
	PeerPollInterval      time.Duration `yaml:"peer_poll_interval" toml:"peer_poll_interval"`
	IntentAckTimeout      time.Duration `yaml:"intent_ack_timeout" toml:"intent_ack_timeout"`
	StopTimeout           time.Duration `yaml:"stop_timeout" toml:"stop_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// InfluxDBConfig contains InfluxDB connection settings for liveness history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	Token         string `yaml:"token" toml:"token"`
	Org           string `yaml:"org" toml:"org"`
	Bucket        string `yaml:"bucket" toml:"bucket"`
	BatchSize     int    `yaml:"batch_size" toml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"`
}

// HTTPConfig controls the status server that exposes health, peer
// states and Prometheus metrics.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Listen  string `yaml:"listen" toml:"listen"`

	// FeedInterval is how often the live peer feed checks for changes.
	FeedInterval time.Duration `yaml:"feed_interval" toml:"feed_interval"`
}

// Load reads configuration from a YAML or TOML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults); ".toml" files are decoded as TOML, anything else as YAML
//  3. A ".env" file next to the config file, if present (never overrides the real environment)
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: TEP_SECTION_KEY
// For example: TEP_MQTT_HOST, TEP_STORE_BACKEND
//
// Parameters:
//   - path: Path to the configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Read performs the loading steps of Load without validating the result,
// so callers can apply further overrides (such as command line flags)
// before calling Validate.
func Read(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	ApplyEnvOverrides(cfg)

	return cfg, nil
}

// decode unmarshals data according to the file extension.
func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

// Default returns a Config with sensible defaults.
// It is also used by the CLI when no configuration file is given.
func Default() *Config {
	return &Config{
		Component: ComponentConfig{
			Version:      "0.1.0",
			NLUComponent: "nlu",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "127.0.0.1",
				Port: 1883,
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Store: StoreConfig{
			Backend:      StoreBackendNATS,
			WatchTimeout: 30 * time.Second,
			NATS: NATSConfig{
				URL:    "nats://127.0.0.1:4222",
				Bucket: "tep",
			},
			SQLite: SQLiteConfig{
				Path:         "./data/tep.db",
				WALMode:      true,
				BusyTimeout:  5,
				PollInterval: 250 * time.Millisecond,
			},
		},
		Runtime: RuntimeConfig{
			HeartbeatInterval:        15 * time.Second,
			StaleCheckInterval:       5 * time.Second,
			StaleThreshold:           30 * time.Second,
			WriteNotAliveOnDetection: true,
			SettingsRetryInterval:    3 * time.Second,
			BusRetryInterval:         5 * time.Second,
			PeerPollInterval:         time.Second,
			IntentAckTimeout:         10 * time.Second,
			StopTimeout:              5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		HTTP: HTTPConfig{
			Listen:       "127.0.0.1:9464",
			FeedInterval: time.Second,
		},
	}
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TEP_SECTION_KEY
func ApplyEnvOverrides(cfg *Config) {
	// Component
	if v := os.Getenv("TEP_COMPONENT_NAME"); v != "" {
		cfg.Component.Name = v
	}

	// MQTT
	if v := os.Getenv("TEP_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TEP_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("TEP_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TEP_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Store
	if v := os.Getenv("TEP_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("TEP_NATS_URL"); v != "" {
		cfg.Store.NATS.URL = v
	}
	if v := os.Getenv("TEP_STORE_PATH"); v != "" {
		cfg.Store.SQLite.Path = v
	}

	// InfluxDB
	if v := os.Getenv("TEP_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Status server
	if v := os.Getenv("TEP_HTTP_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
		cfg.HTTP.Enabled = true
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Component.Name == "" {
		errs = append(errs, "component.name is required")
	} else if strings.ContainsAny(c.Component.Name, "/.# +") {
		errs = append(errs, "component.name must not contain '/', '.', '#', '+' or spaces")
	} else if c.Component.Name == "global" {
		errs = append(errs, "component.name must not be the reserved scope \"global\"")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendNATS:
		if c.Store.NATS.URL == "" || c.Store.NATS.Bucket == "" {
			errs = append(errs, "store.nats.url and store.nats.bucket are required for the nats backend")
		}
	case StoreBackendSQLite:
		if c.Store.SQLite.Path == "" {
			errs = append(errs, "store.sqlite.path is required for the sqlite backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend %q is not one of memory, nats, sqlite", c.Store.Backend))
	}

	if c.Runtime.HeartbeatInterval <= 0 {
		errs = append(errs, "runtime.heartbeat_interval must be positive")
	}
	if c.Runtime.StaleCheckInterval <= 0 {
		errs = append(errs, "runtime.stale_check_interval must be positive")
	}
	if c.Runtime.StaleThreshold <= c.Runtime.HeartbeatInterval {
		errs = append(errs, "runtime.stale_threshold must be greater than runtime.heartbeat_interval")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.HTTP.Enabled {
		if c.HTTP.Listen == "" {
			errs = append(errs, "http.listen is required when the status server is enabled")
		}
		if c.HTTP.FeedInterval <= 0 {
			errs = append(errs, "http.feed_interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ClientID returns the MQTT client identifier, defaulting to "tep-<component>".
func (c *Config) ClientID() string {
	if c.MQTT.Broker.ClientID != "" {
		return c.MQTT.Broker.ClientID
	}
	return "tep-" + c.Component.Name
}
