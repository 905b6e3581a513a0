package kvstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// record is one key's latest state. Deleted keys stay as tombstones so a
// late watcher still sees the deletion revision.
type record struct {
	value    []byte
	revision uint64
	deleted  bool
}

// MemoryStore is an in-process Store.
//
// Watchers wait on a broadcast channel that is closed and replaced on
// every mutation.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]record
	revision uint64
	changed  chan struct{}
	closed   bool
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]record),
		changed: make(chan struct{}),
	}
}

// Read returns the current value of key.
func (s *MemoryStore) Read(_ context.Context, key string) (Entry, error) {
	if err := validateKey(key); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Entry{}, ErrUnavailable
	}

	rec, ok := s.records[key]
	if !ok || rec.deleted {
		return Entry{}, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return Entry{Key: key, Value: clone(rec.value), Revision: rec.revision}, nil
}

// List returns every live key under prefix.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]Entry, error) {
	dir := folder(prefix)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrUnavailable
	}

	entries := []Entry{}
	for key, rec := range s.records {
		if rec.deleted || !strings.HasPrefix(key, dir) {
			continue
		}
		entries = append(entries, Entry{Key: key, Value: clone(rec.value), Revision: rec.revision})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Write stores value under key.
func (s *MemoryStore) Write(_ context.Context, key string, value []byte) (uint64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrUnavailable
	}

	s.revision++
	s.records[key] = record{value: clone(value), revision: s.revision}
	s.notifyLocked()
	return s.revision, nil
}

// Delete removes key, or the whole folder when recursive is set.
func (s *MemoryStore) Delete(_ context.Context, key string, recursive bool) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrUnavailable
	}

	var victims []string
	for k, rec := range s.records {
		if rec.deleted {
			continue
		}
		if k == key || (recursive && inFolder(k, key)) {
			victims = append(victims, k)
		}
	}

	if len(victims) == 0 {
		if recursive {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	s.revision++
	for _, k := range victims {
		s.records[k] = record{revision: s.revision, deleted: true}
	}
	s.notifyLocked()
	return nil
}

// Watch blocks until key changes past afterRevision.
func (s *MemoryStore) Watch(ctx context.Context, key string, afterRevision uint64, timeout time.Duration) (Entry, error) {
	if err := validateKey(key); err != nil {
		return Entry{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Entry{}, ErrUnavailable
		}
		rec, ok := s.records[key]
		changed := s.changed
		s.mu.Unlock()

		if ok && rec.revision > afterRevision {
			return Entry{Key: key, Value: clone(rec.value), Revision: rec.revision, Deleted: rec.deleted}, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return Entry{}, ErrWatchTimeout
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}
}

// Close wakes every watcher; later calls return ErrUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.notifyLocked()
	}
	return nil
}

// Revision returns the store-wide revision counter.
func (s *MemoryStore) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

func (s *MemoryStore) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
