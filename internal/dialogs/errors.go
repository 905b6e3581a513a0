package dialogs

import "errors"

// Domain errors for the dialogs package.
var (
	// ErrUnknownLanguage is returned by Get for a language with no folder.
	ErrUnknownLanguage = errors.New("dialogs: language not supported")

	// ErrUnknownKey is returned by Get for a key with no dialog file.
	ErrUnknownKey = errors.New("dialogs: key not supported")

	// ErrEmptyDialog is returned by Get for a dialog file without sentences.
	ErrEmptyDialog = errors.New("dialogs: empty dialog")

	// ErrRender is returned when a sentence fails to render.
	ErrRender = errors.New("dialogs: render failed")
)
