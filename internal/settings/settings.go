package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/nerrad567/tep-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/tep-core/internal/metrics"
)

const (
	configFolder = "config"
	globalName   = "global"

	// eventBuffer is the capacity of the Events channel.
	eventBuffer = 16
)

// GlobalKey is the store key of the platform-wide settings document.
var GlobalKey = kvstore.Join(configFolder, globalName)

// ConfigKey returns the store key of a component's settings document.
func ConfigKey(name string) string {
	return kvstore.Join(configFolder, name)
}

// Global is the platform-wide settings document.
type Global struct {
	Language  string `json:"language"`
	NLUEngine string `json:"nlu_engine"`
}

// Tag parses Language as a BCP 47 tag. Both "en-US" and "en_US" parse.
func (g Global) Tag() (language.Tag, error) {
	return language.Parse(g.Language)
}

// EventKind tells which document changed.
type EventKind int

const (
	GlobalChanged EventKind = iota + 1
	ComponentChanged
)

// String returns the event kind for logging.
func (k EventKind) String() string {
	switch k {
	case GlobalChanged:
		return "global"
	case ComponentChanged:
		return "component"
	default:
		return "unknown"
	}
}

// Event reports a settings change seen by a watcher.
type Event struct {
	Kind EventKind

	// Global is set for GlobalChanged events.
	Global Global

	// Params is set for ComponentChanged events.
	Params map[string]any
}

// Config holds synchronizer settings.
type Config struct {
	// Component is the name of the owning component.
	Component string

	// RetryInterval is the pause between attempts when the store is
	// unavailable or a document is missing.
	RetryInterval time.Duration

	// WatchTimeout is the long-poll window of a single watch call.
	WatchTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(component string) Config {
	return Config{
		Component:     component,
		RetryInterval: 3 * time.Second,
		WatchTimeout:  30 * time.Second,
	}
}

// Logger defines the logging interface used by the Synchronizer.
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

// Synchronizer caches the global and component settings and follows
// their changes in the store.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Events has a single intended consumer.
type Synchronizer struct {
	store   kvstore.Store
	cfg     Config
	logger  Logger
	metrics *metrics.Recorder

	mu           sync.RWMutex
	global       Global
	params       map[string]any
	globalRev    uint64
	componentRev uint64

	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a synchronizer over store.
func New(store kvstore.Store, cfg Config) *Synchronizer {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultConfig(cfg.Component).RetryInterval
	}
	if cfg.WatchTimeout <= 0 {
		cfg.WatchTimeout = DefaultConfig(cfg.Component).WatchTimeout
	}
	return &Synchronizer{
		store:  store,
		cfg:    cfg,
		logger: noopLogger{},
		params: map[string]any{},
		events: make(chan Event, eventBuffer),
		stop:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the synchronizer.
func (s *Synchronizer) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMetrics sets the recorder counting changes and retries.
func (s *Synchronizer) SetMetrics(r *metrics.Recorder) {
	s.metrics = r
}

// Events returns the channel on which watchers publish changes.
func (s *Synchronizer) Events() <-chan Event {
	return s.events
}

// Language returns the cached platform language.
func (s *Synchronizer) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global.Language
}

// NLUEngine returns the cached NLU engine name.
func (s *Synchronizer) NLUEngine() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global.NLUEngine
}

// Global returns the cached global document.
func (s *Synchronizer) Global() Global {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// Params returns a copy of the cached component document.
func (s *Synchronizer) Params() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.params)
}

// ReadGlobalOnce blocks until the global document can be read.
//
// Missing documents and an unavailable store are retried every
// RetryInterval. The result replaces the cache.
//
// Returns:
//   - Global: The document read
//   - error: ctx.Err(), ErrStopped, or a non-retryable store error
func (s *Synchronizer) ReadGlobalOnce(ctx context.Context) (Global, error) {
	var g Global
	rev, err := s.readOnce(ctx, GlobalKey, &g)
	if err != nil {
		return Global{}, err
	}

	s.checkLanguage(g)

	s.mu.Lock()
	s.global = g
	s.globalRev = rev
	s.mu.Unlock()

	s.logger.Info("global settings received", "language", g.Language, "nlu_engine", g.NLUEngine)
	return g, nil
}

// ReadComponentOnce blocks until the component document can be read.
//
// Retries like ReadGlobalOnce. The result replaces the cache.
func (s *Synchronizer) ReadComponentOnce(ctx context.Context) (map[string]any, error) {
	var params map[string]any
	rev, err := s.readOnce(ctx, ConfigKey(s.cfg.Component), &params)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}

	s.mu.Lock()
	s.params = params
	s.componentRev = rev
	s.mu.Unlock()

	s.logger.Info("component settings received", "key", ConfigKey(s.cfg.Component))
	return maps.Clone(params), nil
}

// readOnce reads and decodes key into dst, retrying until it succeeds.
func (s *Synchronizer) readOnce(ctx context.Context, key string, dst any) (uint64, error) {
	for {
		entry, err := s.store.Read(ctx, key)
		switch {
		case err == nil:
			if derr := json.Unmarshal(entry.Value, dst); derr != nil {
				s.logger.Warn("undecodable settings document", "key", key, "error", derr)
				break
			}
			return entry.Revision, nil
		case errors.Is(err, kvstore.ErrKeyNotFound):
			s.logger.Debug("settings not available yet", "key", key)
		case errors.Is(err, kvstore.ErrUnavailable):
			s.logger.Warn("store unavailable", "key", key, "error", err)
		case ctx.Err() != nil:
			return 0, ctx.Err()
		default:
			return 0, fmt.Errorf("reading %s: %w", key, err)
		}

		s.metrics.IncStoreRetry("read")
		if err := s.pause(ctx); err != nil {
			return 0, err
		}
	}
}

// WatchGlobal follows the global document until ctx is done or Stop is
// called.
//
// A GlobalChanged event is emitted only when language or nlu_engine
// differs from the cache. Returns nil on shutdown.
func (s *Synchronizer) WatchGlobal(ctx context.Context) error {
	s.mu.RLock()
	after := s.globalRev
	s.mu.RUnlock()

	return s.watch(ctx, GlobalKey, after, func(entry kvstore.Entry) {
		var g Global
		if err := json.Unmarshal(entry.Value, &g); err != nil {
			s.logger.Warn("undecodable settings document", "key", GlobalKey, "error", err)
			return
		}

		s.mu.Lock()
		s.globalRev = entry.Revision
		if g == s.global {
			s.mu.Unlock()
			return
		}
		s.global = g
		s.mu.Unlock()

		s.checkLanguage(g)
		s.logger.Info("global settings changed", "language", g.Language, "nlu_engine", g.NLUEngine)
		s.emit(ctx, Event{Kind: GlobalChanged, Global: g})
	})
}

// WatchComponent follows the component document until ctx is done or Stop
// is called.
//
// A ComponentChanged event is emitted only when the decoded document
// differs from the cache. Returns nil on shutdown.
func (s *Synchronizer) WatchComponent(ctx context.Context) error {
	key := ConfigKey(s.cfg.Component)

	s.mu.RLock()
	after := s.componentRev
	s.mu.RUnlock()

	return s.watch(ctx, key, after, func(entry kvstore.Entry) {
		var params map[string]any
		if err := json.Unmarshal(entry.Value, &params); err != nil {
			s.logger.Warn("undecodable settings document", "key", key, "error", err)
			return
		}
		if params == nil {
			params = map[string]any{}
		}

		s.mu.Lock()
		s.componentRev = entry.Revision
		if reflect.DeepEqual(params, s.params) {
			s.mu.Unlock()
			return
		}
		s.params = params
		s.mu.Unlock()

		s.logger.Info("component settings changed", "key", key)
		s.emit(ctx, Event{Kind: ComponentChanged, Params: maps.Clone(params)})
	})
}

// watch runs the watch loop on key and calls apply for every live change.
func (s *Synchronizer) watch(ctx context.Context, key string, after uint64, apply func(kvstore.Entry)) error {
	ctx, cancel := s.stoppable(ctx)
	defer cancel()

	for {
		entry, err := s.store.Watch(ctx, key, after, s.cfg.WatchTimeout)
		switch {
		case err == nil:
			after = entry.Revision
			if entry.Deleted {
				s.logger.Warn("settings document deleted, keeping cached value", "key", key)
				continue
			}
			apply(entry)
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, kvstore.ErrWatchTimeout):
			continue
		case errors.Is(err, kvstore.ErrKeyNotFound), errors.Is(err, kvstore.ErrUnavailable):
			s.logger.Warn("settings watch interrupted", "key", key, "error", err)
		default:
			s.logger.Error("settings watch failed", "key", key, "error", err)
		}

		s.metrics.IncStoreRetry("watch")
		if s.pause(ctx) != nil {
			return nil
		}
	}
}

// emit delivers ev unless the watcher is shutting down.
func (s *Synchronizer) emit(ctx context.Context, ev Event) {
	s.metrics.IncSettingsChange(ev.Kind.String())
	select {
	case s.events <- ev:
	case <-ctx.Done():
	case <-s.stop:
	}
}

// Save writes value as JSON under /config/<key>. An empty key means the
// component's own document. The cache is left untouched; watchers pick
// the change up.
func (s *Synchronizer) Save(ctx context.Context, value any, key string) error {
	if key == "" {
		key = s.cfg.Component
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if _, err := s.store.Write(ctx, ConfigKey(key), data); err != nil {
		return fmt.Errorf("saving %s: %w", ConfigKey(key), err)
	}
	return nil
}

// Delete removes /config/<key>. An empty key means the component's own
// document.
func (s *Synchronizer) Delete(ctx context.Context, key string) error {
	if key == "" {
		key = s.cfg.Component
	}
	if err := s.store.Delete(ctx, ConfigKey(key), false); err != nil {
		return fmt.Errorf("deleting %s: %w", ConfigKey(key), err)
	}
	return nil
}

// Stop ends the watch loops and pending blocking reads. It is safe to
// call more than once.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// pause waits RetryInterval. It returns ErrStopped or ctx.Err() if the
// wait was interrupted.
func (s *Synchronizer) pause(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.RetryInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-s.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stoppable derives a context that is also cancelled by Stop.
func (s *Synchronizer) stoppable(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// checkLanguage logs a language that is not a valid BCP 47 tag. The value
// is cached verbatim either way.
func (s *Synchronizer) checkLanguage(g Global) {
	if g.Language == "" {
		return
	}
	if _, err := g.Tag(); err != nil {
		s.logger.Warn("unrecognised language tag", "language", g.Language, "error", err)
	}
}
