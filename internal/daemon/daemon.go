package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/nerrad567/tep-core/internal/bus"
	"github.com/nerrad567/tep-core/internal/dialogs"
	"github.com/nerrad567/tep-core/internal/infrastructure/config"
	"github.com/nerrad567/tep-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/tep-core/internal/initializer"
	"github.com/nerrad567/tep-core/internal/intents"
	"github.com/nerrad567/tep-core/internal/memory"
	"github.com/nerrad567/tep-core/internal/message"
	"github.com/nerrad567/tep-core/internal/metrics"
	"github.com/nerrad567/tep-core/internal/registry"
	"github.com/nerrad567/tep-core/internal/settings"
	"github.com/nerrad567/tep-core/internal/tasks"
)

const (
	defaultIntentsFolder = "intents"
	defaultDialogsFolder = "dialogs"
)

// Component is the behaviour a daemon runs.
type Component interface {
	// MainLoop runs one iteration of the component's work. It is called
	// repeatedly until shutdown and should block or pace itself. An error
	// stops the daemon.
	MainLoop(ctx context.Context) error

	// SetConfig applies the component configuration document. It is
	// called at startup and whenever the document changes.
	SetConfig(params map[string]any) bool
}

// RouteProvider is implemented by components that handle their own topics.
type RouteProvider interface {
	Routes() []bus.Route
}

// Reloader is implemented by components that react to global settings
// changes, such as a new language.
type Reloader interface {
	Reload(ctx context.Context, global settings.Global)
}

// Logger defines the logging interface used by the Daemon and the
// subsystems it creates. *logging.Logger implements it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option customises a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l Logger) Option {
	return func(d *Daemon) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics records bus, settings, liveness and startup metrics on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(d *Daemon) {
		d.metrics = r
	}
}

// WithLivenessRecorder keeps a history of heartbeats and peer state
// transitions, typically in InfluxDB.
func WithLivenessRecorder(rec registry.LivenessRecorder) Option {
	return func(d *Daemon) {
		d.recorder = rec
	}
}

// Daemon is the runtime shell of one component.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Shutdown may be called from signal handlers and bus handlers.
type Daemon struct {
	name        string
	version     string
	component   Component
	stopTimeout time.Duration

	logger   Logger
	metrics  *metrics.Recorder
	recorder registry.LivenessRecorder

	bus      *bus.Bus
	settings *settings.Synchronizer
	registry *registry.Registry
	states   *registry.States
	monitor  *registry.Monitor
	memory   *memory.Memory
	intents  *intents.Distributor
	dialogs  *dialogs.Dialogs
	runner   *tasks.Runner
	startup  *initializer.Initializer

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New assembles a daemon for component from cfg.
//
// store backs settings, registry, memory and intents; transport carries
// the bus. Neither is connected or closed by the daemon's constructor.
//
// Parameters:
//   - cfg: Validated configuration
//   - component: The behaviour to run
//   - store: Watched key-value store
//   - transport: Bus transport
//
// Returns:
//   - *Daemon: Ready to Start
//   - error: ErrInvalidComponent, or a task setup error
func New(cfg *config.Config, component Component, store kvstore.Store, transport bus.Transport, opts ...Option) (*Daemon, error) {
	if component == nil {
		return nil, ErrInvalidComponent
	}

	c := cfg.Component
	rt := cfg.Runtime

	d := &Daemon{
		name:        c.Name,
		version:     c.Version,
		component:   component,
		stopTimeout: rt.StopTimeout,
		logger:      noopLogger{},
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.stopTimeout <= 0 {
		d.stopTimeout = tasks.DefaultConfig(c.Name).StopTimeout
	}

	d.bus = bus.New(c.Name, transport, bus.WithLogger(d.logger), bus.WithMetrics(d.metrics))

	d.settings = settings.New(store, settings.Config{
		Component:     c.Name,
		RetryInterval: rt.SettingsRetryInterval,
		WatchTimeout:  cfg.Store.WatchTimeout,
	})
	d.settings.SetLogger(d.logger)
	d.settings.SetMetrics(d.metrics)

	d.registry = registry.New(store, c.Name, c.Version)
	d.registry.SetLogger(d.logger)
	d.registry.SetMetrics(d.metrics)
	d.states = registry.NewStates()
	d.monitor = registry.NewMonitor(d.registry, d.states, registry.MonitorConfig{
		Self:             c.Name,
		StaleThreshold:   rt.StaleThreshold,
		WriteOnDetection: rt.WriteNotAliveOnDetection,
	})
	d.monitor.SetLogger(d.logger)
	d.monitor.SetMetrics(d.metrics)
	if d.recorder != nil {
		d.registry.SetRecorder(d.recorder)
		d.monitor.SetRecorder(d.recorder)
	}

	d.memory = memory.New(store, c.Name)

	d.intents = intents.NewDistributor(store, d.bus, d.monitor, intents.Config{
		Folder:     resolve(c.Workdir, c.IntentsFolder, defaultIntentsFolder),
		Component:  c.Name,
		Peer:       c.NLUComponent,
		PeerPoll:   rt.PeerPollInterval,
		AckTimeout: rt.IntentAckTimeout,
	})
	d.intents.SetLogger(d.logger)
	d.intents.SetMetrics(d.metrics)

	d.dialogs = dialogs.New(resolve(c.Workdir, c.DialogsFolder, defaultDialogsFolder))
	d.dialogs.SetLogger(d.logger)

	runner, err := tasks.New(tasks.Config{Name: c.Name, StopTimeout: d.stopTimeout})
	if err != nil {
		return nil, err
	}
	runner.SetLogger(d.logger)
	d.runner = runner

	if err := d.addTasks(rt, c.SkipSettings, c.SkipDialogs); err != nil {
		return nil, err
	}

	d.startup = initializer.New(initializer.Config{
		BusRetryInterval: rt.BusRetryInterval,
		SkipDialogs:      c.SkipDialogs,
		SkipSettings:     c.SkipSettings,
		SkipIntents:      c.SkipIntents,
	}, initializer.Deps{
		Bus:       d.bus,
		Routes:    d.routes(),
		Announcer: d,
		Dialogs:   d.dialogs,
		Settings:  d.settings,
		Intents:   d.intents,
		Runner:    d.runner,
		SetConfig: component.SetConfig,
	})
	d.startup.SetLogger(d.logger)
	d.startup.SetMetrics(d.metrics)

	return d, nil
}

// resolve returns folder, or fallback, relative to workdir unless absolute.
func resolve(workdir, folder, fallback string) string {
	if folder == "" {
		folder = fallback
	}
	if filepath.IsAbs(folder) || workdir == "" {
		return folder
	}
	return filepath.Join(workdir, folder)
}

func (d *Daemon) addTasks(rt config.RuntimeConfig, skipSettings, skipDialogs bool) error {
	if err := d.runner.AddPeriodic("heartbeat", rt.HeartbeatInterval, d.heartbeat); err != nil {
		return err
	}
	if err := d.runner.AddPeriodic("liveness-monitor", rt.StaleCheckInterval, d.monitor.Check); err != nil {
		return err
	}
	if !skipSettings {
		if err := d.runner.AddLongRunning("watch-global", d.settings.WatchGlobal); err != nil {
			return err
		}
		if err := d.runner.AddLongRunning("watch-component", d.settings.WatchComponent); err != nil {
			return err
		}
		if err := d.runner.AddLongRunning("config-reactor", d.react); err != nil {
			return err
		}
	}
	if !skipDialogs {
		if err := d.runner.AddLongRunning("watch-dialogs", d.dialogs.Watch); err != nil {
			return err
		}
	}
	return nil
}

// Start runs the startup sequence, then calls MainLoop until Shutdown.
//
// Cancelling ctx shuts the daemon down.
//
// Returns:
//   - error: nil after a clean shutdown, a startup error, or the error
//     MainLoop returned
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	stop := context.AfterFunc(ctx, d.Shutdown)
	defer stop()

	if d.stopping() {
		d.logger.Info("shut down before start", "component", d.name)
		return nil
	}

	d.logger.Info("starting component", "component", d.name, "version", d.version)
	if err := d.startup.Run(ctx); err != nil {
		d.Shutdown()
		if d.stopping() {
			return nil
		}
		return fmt.Errorf("starting %s: %w", d.name, err)
	}

	for !d.stopping() {
		if err := d.component.MainLoop(ctx); err != nil {
			if d.stopping() {
				return nil
			}
			d.Shutdown()
			return fmt.Errorf("main loop: %w", err)
		}
	}
	return nil
}

// Shutdown stops the background tasks, announces NOT ALIVE and disconnects
// the bus. Only the first call has an effect.
func (d *Daemon) Shutdown() {
	d.stopOnce.Do(func() {
		d.logger.Info("shutting down", "component", d.name)

		d.mu.Lock()
		close(d.done)
		if d.cancel != nil {
			d.cancel()
		}
		d.mu.Unlock()

		d.settings.Stop()
		if err := d.runner.Stop(); err != nil {
			d.logger.Warn("background tasks stopped with error", "error", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), d.stopTimeout)
		defer cancel()
		if err := d.Announce(ctx, registry.StateNotAlive); err != nil {
			d.logger.Warn("final announcement failed", "error", err)
		}

		if err := d.bus.Disconnect(); err != nil {
			d.logger.Warn("bus disconnect failed", "error", err)
		}
		d.logger.Info("component stopped", "component", d.name)
	})
}

// Done is closed when Shutdown starts.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Running reports whether the daemon has not been shut down.
func (d *Daemon) Running() bool {
	return !d.stopping()
}

// Connected reports whether the bus is connected.
func (d *Daemon) Connected() bool {
	return d.bus.IsConnected()
}

func (d *Daemon) stopping() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Announce writes this component's registry entry with state and
// broadcasts it on global/alive.
//
// Both steps are attempted; their errors are joined.
func (d *Daemon) Announce(ctx context.Context, state registry.State) error {
	entry, pingErr := d.registry.Ping(ctx, state)
	if pingErr != nil {
		entry = d.registry.Entry(state)
	}

	var pubErr error
	msg, err := registry.Announcement(entry)
	if err != nil {
		pubErr = err
	} else {
		pubErr = d.bus.Publish(msg, "")
	}
	return errors.Join(pingErr, pubErr)
}

func (d *Daemon) heartbeat(ctx context.Context) error {
	return d.Announce(ctx, registry.StateAlive)
}

// react applies settings events. It is the only consumer of
// settings.Events.
func (d *Daemon) react(ctx context.Context) error {
	events := d.settings.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch ev.Kind {
			case settings.ComponentChanged:
				if !d.component.SetConfig(ev.Params) {
					d.logger.Warn("component rejected its configuration")
				}
			case settings.GlobalChanged:
				d.reload(ctx, ev.Global)
			}
		}
	}
}

func (d *Daemon) reload(ctx context.Context, global settings.Global) {
	r, ok := d.component.(Reloader)
	if !ok {
		d.logger.Info("global settings changed, component has no reload",
			"language", global.Language,
			"nlu_engine", global.NLUEngine,
		)
		return
	}
	r.Reload(ctx, global)
}

// Publish sends msg on the bus. See bus.Bus.Publish.
func (d *Daemon) Publish(msg *message.Message, overrideTopic string) error {
	return d.bus.Publish(msg, overrideTopic)
}

// Dialog renders a random sentence of key in the current language.
func (d *Daemon) Dialog(key string, data any) (string, error) {
	return d.dialogs.Get(d.settings.Language(), key, data)
}

// Name returns the component name.
func (d *Daemon) Name() string { return d.name }

// Version returns the component version.
func (d *Daemon) Version() string { return d.version }

// Settings returns the settings synchronizer.
func (d *Daemon) Settings() *settings.Synchronizer { return d.settings }

// Memory returns the component's persistent memory.
func (d *Daemon) Memory() *memory.Memory { return d.memory }

// Registry returns the central registry client.
func (d *Daemon) Registry() *registry.Registry { return d.registry }

// States returns the local cache of peer states.
func (d *Daemon) States() *registry.States { return d.states }

// StartupState returns the position of the startup sequence.
func (d *Daemon) StartupState() initializer.State { return d.startup.State() }

// Topics returns the topics the component listens on.
func (d *Daemon) Topics() []string { return d.bus.Topics() }
