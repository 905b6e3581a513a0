package registry

import "errors"

// ErrInvalidAnnouncement is returned when global/alive arguments cannot be
// decoded into an Entry.
var ErrInvalidAnnouncement = errors.New("registry: invalid announcement")
