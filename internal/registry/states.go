package registry

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// States is the local cache of peer entries.
//
// It is written from bus callbacks and the staleness monitor and read
// from the main loop.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type States struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStates creates an empty cache.
func NewStates() *States {
	return &States{entries: make(map[string]Entry)}
}

// Observe merges e into the cache. An entry that is not newer than the
// cached one is ignored.
//
// Returns:
//   - isNew: e is the first entry seen for its component
//   - changed: the cached state differs from before
func (s *States) Observe(e Entry) (isNew, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.entries[e.Name]
	if ok && old.Date >= e.Date {
		return false, false
	}
	s.entries[e.Name] = e
	return !ok, !ok || old.State != e.State
}

// Get returns the cached entry of name.
func (s *States) Get(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e, ok
}

// Snapshot returns a copy of the cache.
func (s *States) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.entries)
}

// MarkStale sets every entry older than threshold at now to NOT ALIVE,
// except the entry named self and entries already NOT ALIVE. Dates are
// kept, so a newer heartbeat revives the peer.
//
// Returns the entries that were marked, as they were before marking.
func (s *States) MarkStale(now time.Time, threshold time.Duration, self string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := Timestamp(now.Add(-threshold))
	var stale []Entry
	for name, e := range s.entries {
		if name == self || e.State == StateNotAlive || e.Date >= cutoff {
			continue
		}
		stale = append(stale, e)
		e.State = StateNotAlive
		s.entries[name] = e
	}
	slices.SortFunc(stale, func(a, b Entry) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return stale
}

// WaitFor polls the cache every interval until name is in one of the
// accepted states or ctx is done.
func (s *States) WaitFor(ctx context.Context, name string, interval time.Duration, accepted ...State) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if e, ok := s.Get(name); ok && slices.Contains(accepted, e.State) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
