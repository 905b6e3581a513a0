package daemon

import "errors"

// Domain errors for the daemon package.
var (
	// ErrInvalidComponent is returned by New when no component is given.
	ErrInvalidComponent = errors.New("daemon: invalid component")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("daemon: already started")
)
