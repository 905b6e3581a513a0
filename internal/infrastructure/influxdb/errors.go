package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when liveness history is switched off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrUnreachable is returned by Connect when the server does not answer
	// the initial ping or reports itself unhealthy.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrClosed is returned by Ping after Close.
	ErrClosed = errors.New("influxdb: client closed")
)
