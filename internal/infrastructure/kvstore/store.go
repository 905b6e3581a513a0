package kvstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/tep-core/internal/infrastructure/config"
)

// Entry is one key with its value at a given revision.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64

	// Deleted is set on entries returned by Watch when the change was a deletion.
	Deleted bool
}

// Store is the watched key-value store used by every component.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Store interface {
	// Read returns the current value of key, or ErrKeyNotFound.
	Read(ctx context.Context, key string) (Entry, error)

	// List returns every live key under the folder prefix, sorted by key.
	// An absent folder yields an empty slice.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Write stores value under key and returns the new revision.
	Write(ctx context.Context, key string, value []byte) (uint64, error)

	// Delete removes key. With recursive set every key under the folder
	// key is removed too; a recursive delete of nothing succeeds.
	Delete(ctx context.Context, key string, recursive bool) error

	// Watch blocks until key changes with a revision greater than
	// afterRevision. A change that already happened is returned at once.
	// If nothing changes within timeout it returns ErrWatchTimeout.
	Watch(ctx context.Context, key string, afterRevision uint64, timeout time.Duration) (Entry, error)

	// Close releases backend resources.
	Close() error
}

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.StoreBackendMemory:
		return NewMemoryStore(), nil
	case config.StoreBackendNATS:
		return NewNATSStore(ctx, cfg.NATS)
	case config.StoreBackendSQLite:
		return NewSQLiteStore(ctx, cfg.SQLite)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Join builds a key from path segments: Join("registry", "speech") is "/registry/speech".
func Join(segments ...string) string {
	return "/" + strings.Join(segments, "/")
}

// validateKey checks that key is an absolute path without empty segments.
func validateKey(key string) error {
	if !strings.HasPrefix(key, "/") || len(key) < 2 {
		return fmt.Errorf("%w: %q must start with '/'", ErrInvalidKey, key)
	}
	if strings.Contains(key, "//") {
		return fmt.Errorf("%w: %q has an empty segment", ErrInvalidKey, key)
	}
	return nil
}

// folder normalises a folder prefix to end with exactly one slash.
func folder(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/"
}

// inFolder reports whether key equals the folder key or lives below it.
func inFolder(key, folderKey string) bool {
	dir := folder(folderKey)
	return key == strings.TrimSuffix(dir, "/") || strings.HasPrefix(key, dir)
}
