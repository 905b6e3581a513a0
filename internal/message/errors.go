package message

import "errors"

// ErrInvalidMessage is returned when a message cannot be built or decoded.
var ErrInvalidMessage = errors.New("message: invalid message")
