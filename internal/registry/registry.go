package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/tep-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/tep-core/internal/metrics"
)

// State is the liveness state of a component.
type State string

const (
	StateInit     State = "INIT"
	StateAlive    State = "ALIVE"
	StateNotAlive State = "NOT ALIVE"
)

// AllStates lists every state, in lifecycle order.
var AllStates = []State{StateInit, StateAlive, StateNotAlive}

func stateNames() []string {
	out := make([]string, len(AllStates))
	for i, s := range AllStates {
		out[i] = string(s)
	}
	return out
}

const rootFolder = "registry"

// Key returns the registry key of component name.
func Key(name string) string {
	return kvstore.Join(rootFolder, name)
}

// Entry is one component's registry record. Date is a Unix timestamp in
// seconds with sub-second precision.
type Entry struct {
	Name    string  `json:"name"`
	Version string  `json:"version"`
	Date    float64 `json:"date"`
	State   State   `json:"state"`
}

// Time returns Date as a time.Time.
func (e Entry) Time() time.Time {
	return time.UnixMicro(int64(e.Date * 1e6))
}

// Timestamp converts t to the registry date format.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// LivenessRecorder keeps a history of heartbeats and peer transitions.
// influxdb.Client implements it.
type LivenessRecorder interface {
	RecordHeartbeat(component, version, state string)
	RecordPeerState(peer, state string, at time.Time)
}

// Logger defines the logging interface used by the registry.
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

// Registry reads and writes entries in the central store.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	store    kvstore.Store
	name     string
	version  string
	logger   Logger
	recorder LivenessRecorder
	metrics  *metrics.Recorder
	now      func() time.Time
}

// New creates a registry client for component name at version.
func New(store kvstore.Store, name, version string) *Registry {
	return &Registry{
		store:   store,
		name:    name,
		version: version,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetRecorder sets the liveness history recorder.
func (r *Registry) SetRecorder(rec LivenessRecorder) {
	r.recorder = rec
}

// SetMetrics sets the recorder counting heartbeats.
func (r *Registry) SetMetrics(m *metrics.Recorder) {
	r.metrics = m
}

// Name returns the component name the registry pings for.
func (r *Registry) Name() string {
	return r.name
}

// Entry builds this component's entry with the current time.
func (r *Registry) Entry(state State) Entry {
	return Entry{
		Name:    r.name,
		Version: r.version,
		Date:    Timestamp(r.now()),
		State:   state,
	}
}

// Ping writes this component's entry with a fresh date.
//
// Returns the entry written.
func (r *Registry) Ping(ctx context.Context, state State) (Entry, error) {
	entry := r.Entry(state)
	if err := r.write(ctx, entry); err != nil {
		return Entry{}, err
	}

	r.logger.Debug("ping sent", "state", state)
	r.metrics.IncHeartbeat()
	if r.recorder != nil {
		r.recorder.RecordHeartbeat(r.name, r.version, string(state))
	}
	return entry, nil
}

// Read returns every entry under /registry, keyed by component name.
// A missing registry folder yields an empty map.
func (r *Registry) Read(ctx context.Context) (map[string]Entry, error) {
	records, err := r.store.List(ctx, kvstore.Join(rootFolder))
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}

	entries := make(map[string]Entry, len(records))
	for _, rec := range records {
		var e Entry
		if err := json.Unmarshal(rec.Value, &e); err != nil {
			r.logger.Warn("skipping undecodable registry entry", "key", rec.Key, "error", err)
			continue
		}
		if e.Name == "" {
			r.logger.Warn("skipping registry entry without name", "key", rec.Key)
			continue
		}
		entries[e.Name] = e
	}
	return entries, nil
}

// Get returns the central entry of component name, reporting false when
// the component has never written one.
func (r *Registry) Get(ctx context.Context, name string) (Entry, bool, error) {
	rec, err := r.store.Read(ctx, Key(name))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading %s: %w", Key(name), err)
	}
	var e Entry
	if err := json.Unmarshal(rec.Value, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decoding %s: %w", Key(name), err)
	}
	return e, true, nil
}

// SetNotAlive rewrites a peer's entry as NOT ALIVE with a fresh date.
//
// Returns the entry written.
func (r *Registry) SetNotAlive(ctx context.Context, entry Entry) (Entry, error) {
	r.logger.Warn("component set not alive", "peer", entry.Name)

	entry.State = StateNotAlive
	entry.Date = Timestamp(r.now())
	if err := r.write(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Clear removes every registry entry.
func (r *Registry) Clear(ctx context.Context) error {
	if err := r.store.Delete(ctx, kvstore.Join(rootFolder), true); err != nil {
		return fmt.Errorf("clearing registry: %w", err)
	}
	return nil
}

func (r *Registry) write(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding registry entry: %w", err)
	}
	if _, err := r.store.Write(ctx, Key(entry.Name), data); err != nil {
		return fmt.Errorf("writing %s: %w", Key(entry.Name), err)
	}
	return nil
}
