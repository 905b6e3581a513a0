package bus

import "errors"

// Domain errors for the bus package.
var (
	// ErrDuplicateTopic is returned when a topic already has a handler.
	ErrDuplicateTopic = errors.New("bus: topic already registered")

	// ErrBadDestination marks an inbound message whose scope is neither
	// this component nor global. It is logged, never returned by Dispatch.
	ErrBadDestination = errors.New("bus: bad destination")

	// ErrInvalidTopic is returned for an empty topic or route name.
	ErrInvalidTopic = errors.New("bus: invalid topic")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("bus: nil handler")

	// ErrNotConnected is returned by LocalTransport before Connect.
	ErrNotConnected = errors.New("bus: transport not connected")
)
