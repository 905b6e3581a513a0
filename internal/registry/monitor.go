package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/nerrad567/tep-core/internal/metrics"
)

// MonitorConfig holds staleness monitor settings.
type MonitorConfig struct {
	// Self is the local component, never judged stale.
	Self string

	// StaleThreshold is the heartbeat age after which a peer is NOT ALIVE.
	StaleThreshold time.Duration

	// WriteOnDetection rewrites stale peers as NOT ALIVE in the central
	// registry.
	WriteOnDetection bool
}

// DefaultMonitorConfig returns a MonitorConfig with sensible defaults.
func DefaultMonitorConfig(self string) MonitorConfig {
	return MonitorConfig{
		Self:             self,
		StaleThreshold:   30 * time.Second,
		WriteOnDetection: true,
	}
}

// Monitor keeps a States cache in line with the central registry and
// detects stale peers.
type Monitor struct {
	registry *Registry
	states   *States
	cfg      MonitorConfig
	logger   Logger
	recorder LivenessRecorder
	metrics  *metrics.Recorder
	now      func() time.Time
}

// NewMonitor creates a monitor over registry and states.
func NewMonitor(registry *Registry, states *States, cfg MonitorConfig) *Monitor {
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultMonitorConfig(cfg.Self).StaleThreshold
	}
	return &Monitor{
		registry: registry,
		states:   states,
		cfg:      cfg,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	m.logger = logger
}

// SetRecorder sets the liveness history recorder.
func (m *Monitor) SetRecorder(rec LivenessRecorder) {
	m.recorder = rec
}

// SetMetrics sets the recorder tracking peer states.
func (m *Monitor) SetMetrics(r *metrics.Recorder) {
	m.metrics = r
}

// Check runs one monitoring pass.
//
// It merges the central entries into the cache (newer date wins), then
// marks stale peers NOT ALIVE locally and, with WriteOnDetection, in the
// central registry. A stale peer's entry is read again before it is
// rewritten, and left alone if the peer has sent a heartbeat since. The
// local pass runs even when the store cannot be read.
//
// Returns the store errors met on the way, joined.
func (m *Monitor) Check(ctx context.Context) error {
	var errs []error

	if err := m.Refresh(ctx); err != nil {
		m.logger.Warn("registry unavailable, checking local cache only", "error", err)
		errs = append(errs, err)
	}

	for _, e := range m.states.MarkStale(m.now(), m.cfg.StaleThreshold, m.cfg.Self) {
		m.logger.Warn("component is stale", "peer", e.Name, "last_seen", e.Time())
		m.transition(e.Name, StateNotAlive, m.now())

		if !m.cfg.WriteOnDetection {
			continue
		}
		revived, err := m.revived(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("rechecking %s: %w", e.Name, err))
			continue
		}
		if revived {
			continue
		}
		written, err := m.registry.SetNotAlive(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("marking %s not alive: %w", e.Name, err))
			continue
		}
		m.states.Observe(written)
	}

	return errors.Join(errs...)
}

// Refresh merges the central entries into the cache; newer dates win.
func (m *Monitor) Refresh(ctx context.Context) error {
	central, err := m.registry.Read(ctx)
	if err != nil {
		return err
	}
	for _, e := range central {
		m.Observe(e)
	}
	return nil
}

// revived reports whether a peer judged stale has written a newer entry
// since the last Refresh, merging that entry when it has.
func (m *Monitor) revived(ctx context.Context, stale Entry) (bool, error) {
	current, ok, err := m.registry.Get(ctx, stale.Name)
	if err != nil || !ok || current.Date <= stale.Date {
		return false, err
	}
	m.logger.Info("stale component has sent a heartbeat since", "peer", stale.Name)
	m.Observe(current)
	return true, nil
}

// WaitFor blocks until peer name is in one of the accepted states or ctx
// is done. Every poll merges the central registry first, so a peer that
// only writes its registry entry is found without waiting for an
// announcement.
func (m *Monitor) WaitFor(ctx context.Context, name string, interval time.Duration, accepted ...State) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.Refresh(ctx); err != nil {
			m.logger.Debug("registry unavailable while waiting for peer", "peer", name, "error", err)
		}
		if e, ok := m.states.Get(name); ok && slices.Contains(accepted, e.State) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Announced merges an entry received on global/alive.
//
// A NOT ALIVE announcement dated at or before the cached entry is a last
// will, built when the peer connected and delivered by the broker after
// a crash. It is dated with the receive time so it supersedes the
// heartbeats sent in between.
func (m *Monitor) Announced(e Entry) {
	if e.State == StateNotAlive {
		if cached, ok := m.states.Get(e.Name); ok && cached.Date >= e.Date {
			e.Date = Timestamp(m.now())
			if e.Date <= cached.Date {
				e.Date = math.Nextafter(cached.Date, math.Inf(1))
			}
		}
	}
	m.Observe(e)
}

// Observe merges one entry into the cache, logging first sightings and
// recording state transitions.
func (m *Monitor) Observe(e Entry) {
	isNew, changed := m.states.Observe(e)
	if isNew {
		m.logger.Info("new component", "peer", e.Name, "state", e.State)
	}
	if changed {
		m.transition(e.Name, e.State, e.Time())
	}
}

func (m *Monitor) transition(peer string, state State, at time.Time) {
	m.metrics.SetPeerState(peer, string(state), stateNames())
	if m.recorder != nil {
		m.recorder.RecordPeerState(peer, string(state), at)
	}
}
