// Tep component daemon.
//
// tepd runs one component of the Tep voice assistant: it connects to the
// shared MQTT broker and key-value store, announces itself to its peers,
// waits for its configuration and then serves its topics until it is
// told to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/tep-core/internal/api"
	"github.com/nerrad567/tep-core/internal/bus"
	"github.com/nerrad567/tep-core/internal/daemon"
	"github.com/nerrad567/tep-core/internal/infrastructure/config"
	"github.com/nerrad567/tep-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/tep-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/tep-core/internal/infrastructure/logging"
	"github.com/nerrad567/tep-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tep-core/internal/metrics"
	"github.com/nerrad567/tep-core/internal/registry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// CLI is the command line of tepd.
type CLI struct {
	Config       string           `short:"c" help:"Configuration file path (YAML or .toml)" env:"TEP_CONFIG" type:"path"`
	Name         string           `short:"n" help:"Component name (overrides component.name)"`
	Workdir      string           `short:"w" help:"Working directory holding intents and dialogs" type:"path"`
	IntentFolder string           `name:"intent-folder" short:"I" help:"Intents folder, relative to the working directory"`
	DialogFolder string           `name:"dialog-folder" short:"D" help:"Dialogs folder, relative to the working directory"`
	LogLevel     string           `name:"log-level" help:"Log level (debug, info, warn, error)"`
	Version      kong.VersionFlag `name:"version" help:"Show version and exit"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("tepd"),
		kong.Description("Runs one component of the Tep voice assistant."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, &cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - cli: Parsed command line
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging, cfg.Component.Name, cfg.Component.Version)
	log.Info("starting tep component",
		"process", cfg.ClientID(),
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	store, err := kvstore.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()
	log.Info("store opened", "backend", cfg.Store.Backend)

	opts := []daemon.Option{daemon.WithLogger(log)}

	influx := connectInfluxDB(ctx, cfg, log)
	if influx != nil {
		defer func() {
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		opts = append(opts, daemon.WithLivenessRecorder(influx))
	}

	reg := prometheus.NewRegistry()
	opts = append(opts, daemon.WithMetrics(metrics.NewRecorder(reg)))

	transport, err := newTransport(cfg, log)
	if err != nil {
		return err
	}

	comp := newEcho(log)
	d, err := daemon.New(cfg, comp, store, transport, opts...)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}
	comp.attach(d)

	if cfg.HTTP.Enabled {
		srv, err := startStatusServer(ctx, cfg.HTTP, d, reg, log)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Warn("error closing status server", "error", closeErr)
			}
		}()
	}

	if err := d.Start(ctx); err != nil {
		return err
	}
	log.Info("tep component stopped")
	return nil
}

// loadConfig reads the configuration file, if any, and applies the
// command line overrides before validating.
func loadConfig(cli *CLI) (*config.Config, error) {
	cfg := config.Default()
	if cli.Config != "" {
		loaded, err := config.Read(cli.Config)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	} else {
		config.ApplyEnvOverrides(cfg)
	}

	applyFlags(cfg, cli)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	cfg.MQTT.Broker.ClientID = cfg.ClientID()
	return cfg, nil
}

func applyFlags(cfg *config.Config, cli *CLI) {
	if cli.Name != "" {
		cfg.Component.Name = cli.Name
	}
	if cli.Workdir != "" {
		cfg.Component.Workdir = cli.Workdir
	}
	if cli.IntentFolder != "" {
		cfg.Component.IntentsFolder = cli.IntentFolder
	}
	if cli.DialogFolder != "" {
		cfg.Component.DialogsFolder = cli.DialogFolder
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
}

// connectInfluxDB returns nil when liveness history is disabled or the
// server cannot be reached; the component runs without it.
func connectInfluxDB(ctx context.Context, cfg *config.Config, log *logging.Logger) *influxdb.Client {
	if !cfg.InfluxDB.Enabled {
		return nil
	}
	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		log.Warn("InfluxDB unavailable, liveness history disabled", "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Warn("InfluxDB write failed", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	return client
}

// newTransport builds the MQTT transport with a NOT ALIVE last will, so
// peers learn about a crash without waiting for staleness detection.
func newTransport(cfg *config.Config, log *logging.Logger) (*bus.MQTTTransport, error) {
	will, err := registry.Announcement(registry.Entry{
		Name:    cfg.Component.Name,
		Version: cfg.Component.Version,
		Date:    registry.Timestamp(time.Now()),
		State:   registry.StateNotAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("building last will: %w", err)
	}

	return bus.NewMQTTTransport(cfg.MQTT,
		mqtt.WithWill(mqtt.Will{
			Topic:   will.Topic(),
			Payload: will.Payload(),
			QoS:     byte(cfg.MQTT.QoS),
		}),
		mqtt.WithLogger(log),
	), nil
}

// startStatusServer serves health, peer states and metrics of d.
func startStatusServer(ctx context.Context, cfg config.HTTPConfig, d *daemon.Daemon, reg *prometheus.Registry, log *logging.Logger) (*api.Server, error) {
	srv, err := api.New(api.Deps{
		Config:    cfg,
		Logger:    log,
		Component: d,
		Peers:     d.States(),
		Metrics:   reg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating status server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting status server: %w", err)
	}
	return srv, nil
}
