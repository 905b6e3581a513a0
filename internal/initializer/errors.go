package initializer

import "errors"

// ErrAlreadyRun is returned when Run is called a second time.
var ErrAlreadyRun = errors.New("initializer: already run")
