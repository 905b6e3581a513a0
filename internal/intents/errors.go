package intents

import "errors"

// Domain errors for the intents package.
var (
	// ErrNotAFolder is returned when the engine path exists but is not a
	// directory.
	ErrNotAFolder = errors.New("intents: not a folder")

	// ErrInvalidRequest is returned when a load request or acknowledgement
	// lacks a required argument.
	ErrInvalidRequest = errors.New("intents: invalid request")
)
