package kvstore

import "errors"

// Domain-specific errors for store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrKeyNotFound is returned when a key (or folder) does not exist.
	ErrKeyNotFound = errors.New("kvstore: key not found")

	// ErrUnavailable is returned when the backend cannot be reached.
	// Callers are expected to back off and retry.
	ErrUnavailable = errors.New("kvstore: store unavailable")

	// ErrWatchTimeout is returned when a watch window ends without a change.
	// It is not a failure.
	ErrWatchTimeout = errors.New("kvstore: watch timed out")

	// ErrInvalidKey is returned for keys that are not absolute slash paths.
	ErrInvalidKey = errors.New("kvstore: invalid key")

	// ErrUnknownBackend is returned by Open for an unrecognised backend name.
	ErrUnknownBackend = errors.New("kvstore: unknown backend")
)
