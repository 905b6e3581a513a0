package settings

import "errors"

// Domain errors for the settings package.
var (
	// ErrStopped is returned by blocking reads once Stop has been called.
	ErrStopped = errors.New("settings: synchronizer stopped")

	// ErrInvalidDocument is returned by Save for a value that cannot be
	// encoded as JSON.
	ErrInvalidDocument = errors.New("settings: invalid document")
)
