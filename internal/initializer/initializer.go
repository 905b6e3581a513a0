package initializer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tep-core/internal/bus"
	"github.com/nerrad567/tep-core/internal/intents"
	"github.com/nerrad567/tep-core/internal/metrics"
	"github.com/nerrad567/tep-core/internal/registry"
	"github.com/nerrad567/tep-core/internal/settings"
)

// State is a position in the startup sequence.
type State int

const (
	NotStarted State = iota
	BusConnected
	DialogsLoaded
	GlobalConfigReceived
	ComponentConfigReceived
	IntentsSent
	BackgroundTasksRunning
)

var stateNames = map[State]string{
	NotStarted:              "NOT_STARTED",
	BusConnected:            "BUS_CONNECTED",
	DialogsLoaded:           "DIALOGS_LOADED",
	GlobalConfigReceived:    "GLOBAL_CONFIG_RECEIVED",
	ComponentConfigReceived: "COMPONENT_CONFIG_RECEIVED",
	IntentsSent:             "INTENTS_SENT",
	BackgroundTasksRunning:  "BACKGROUND_TASKS_RUNNING",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Bus is the part of bus.Bus the initializer drives.
type Bus interface {
	RegisterRoutes(routes []bus.Route) error
	Connect(ctx context.Context) error
}

// Announcer publishes this component's liveness state.
type Announcer interface {
	Announce(ctx context.Context, state registry.State) error
}

// DialogLoader loads dialog files. dialogs.Dialogs implements it.
type DialogLoader interface {
	Load() error
}

// Settings reads the configuration documents. settings.Synchronizer
// implements it.
type Settings interface {
	ReadGlobalOnce(ctx context.Context) (settings.Global, error)
	ReadComponentOnce(ctx context.Context) (map[string]any, error)
}

// IntentDistributor sends intent files to the NLU peer.
// intents.Distributor implements it.
type IntentDistributor interface {
	Distribute(ctx context.Context, engine string) (int, error)
}

// TaskRunner starts the background tasks. tasks.Runner implements it.
type TaskRunner interface {
	Start()
}

// Deps are the collaborators of the startup sequence. Bus, Announcer and
// Runner are required; the others may be nil when their step is skipped.
type Deps struct {
	Bus       Bus
	Routes    []bus.Route
	Announcer Announcer
	Dialogs   DialogLoader
	Settings  Settings
	Intents   IntentDistributor
	Runner    TaskRunner

	// SetConfig receives the component configuration document.
	SetConfig func(params map[string]any) bool
}

// Config holds initializer settings.
type Config struct {
	// BusRetryInterval is the pause between bus connection attempts.
	BusRetryInterval time.Duration

	SkipDialogs  bool
	SkipSettings bool
	SkipIntents  bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{BusRetryInterval: 5 * time.Second}
}

// Logger defines the logging interface used by the Initializer.
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

// Initializer runs the startup sequence once.
//
// Thread Safety:
//   - State may be called from any goroutine while Run is in progress.
type Initializer struct {
	cfg     Config
	deps    Deps
	logger  Logger
	metrics *metrics.Recorder

	mu    sync.Mutex
	state State
	ran   bool
}

// New creates an initializer.
func New(cfg Config, deps Deps) *Initializer {
	if cfg.BusRetryInterval <= 0 {
		cfg.BusRetryInterval = DefaultConfig().BusRetryInterval
	}
	return &Initializer{
		cfg:    cfg,
		deps:   deps,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the initializer.
func (i *Initializer) SetLogger(logger Logger) {
	i.logger = logger
}

// SetMetrics sets the recorder exposing the startup state.
func (i *Initializer) SetMetrics(r *metrics.Recorder) {
	i.metrics = r
	r.SetInitState(NotStarted.String())
}

// State returns the current position in the sequence.
func (i *Initializer) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Initializer) advance(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()

	i.metrics.SetInitState(s.String())
	i.logger.Info("startup step complete", "state", s.String())
}

// Run executes the startup sequence.
//
// The route table is registered first. Then, in order: connect the bus,
// announce INIT, load dialogs, read the global and component settings,
// send intents and start the background tasks.
//
// Returns:
//   - error: ctx.Err(), or a fatal configuration error such as
//     bus.ErrDuplicateTopic or intents.ErrNotAFolder
func (i *Initializer) Run(ctx context.Context) error {
	i.mu.Lock()
	if i.ran {
		i.mu.Unlock()
		return ErrAlreadyRun
	}
	i.ran = true
	i.mu.Unlock()

	if err := i.deps.Bus.RegisterRoutes(i.deps.Routes); err != nil {
		return fmt.Errorf("registering routes: %w", err)
	}

	if err := i.connectBus(ctx); err != nil {
		return err
	}
	i.advance(BusConnected)

	if err := i.deps.Announcer.Announce(ctx, registry.StateInit); err != nil {
		i.logger.Warn("initial announcement failed", "error", err)
	}

	i.loadDialogs()
	i.advance(DialogsLoaded)

	engine, err := i.readSettings(ctx)
	if err != nil {
		return err
	}

	if err := i.sendIntents(ctx, engine); err != nil {
		return err
	}
	i.advance(IntentsSent)

	i.deps.Runner.Start()
	i.advance(BackgroundTasksRunning)
	return nil
}

func (i *Initializer) connectBus(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := i.deps.Bus.Connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.logger.Warn("bus connection failed, retrying",
			"attempt", attempt,
			"retry_in", i.cfg.BusRetryInterval,
			"error", err,
		)
		if err := sleep(ctx, i.cfg.BusRetryInterval); err != nil {
			return err
		}
	}
}

func (i *Initializer) loadDialogs() {
	if i.cfg.SkipDialogs || i.deps.Dialogs == nil {
		i.logger.Debug("dialogs skipped")
		return
	}
	if err := i.deps.Dialogs.Load(); err != nil {
		i.logger.Error("failed to load dialogs", "error", err)
	}
}

// readSettings blocks for both configuration documents and returns the NLU
// engine named by the global one.
func (i *Initializer) readSettings(ctx context.Context) (string, error) {
	if i.cfg.SkipSettings || i.deps.Settings == nil {
		i.logger.Debug("settings skipped")
		i.advance(GlobalConfigReceived)
		i.advance(ComponentConfigReceived)
		return "", nil
	}

	i.logger.Info("waiting for global configuration")
	global, err := i.deps.Settings.ReadGlobalOnce(ctx)
	if err != nil {
		return "", fmt.Errorf("reading global configuration: %w", err)
	}
	i.advance(GlobalConfigReceived)

	i.logger.Info("waiting for component configuration")
	params, err := i.deps.Settings.ReadComponentOnce(ctx)
	if err != nil {
		return "", fmt.Errorf("reading component configuration: %w", err)
	}
	if i.deps.SetConfig != nil && !i.deps.SetConfig(params) {
		i.logger.Warn("component rejected its configuration")
	}
	i.advance(ComponentConfigReceived)

	return global.NLUEngine, nil
}

func (i *Initializer) sendIntents(ctx context.Context, engine string) error {
	if i.cfg.SkipIntents || i.deps.Intents == nil {
		i.logger.Debug("intents skipped")
		return nil
	}
	if engine == "" {
		i.logger.Warn("no nlu engine configured, intents not sent")
		return nil
	}

	n, err := i.deps.Intents.Distribute(ctx, engine)
	switch {
	case err == nil:
		i.logger.Info("intents sent", "engine", engine, "files", n)
		return nil
	case errors.Is(err, intents.ErrNotAFolder):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		i.logger.Error("sending intents failed", "engine", engine, "sent", n, "error", err)
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
