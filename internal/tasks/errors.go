package tasks

import "errors"

// Domain errors for the tasks package.
var (
	// ErrStopTimeout is returned by Stop when tasks are still running after
	// the stop timeout. They are abandoned.
	ErrStopTimeout = errors.New("tasks: stop timed out")

	// ErrStopped is returned when adding tasks to a stopped runner.
	ErrStopped = errors.New("tasks: runner stopped")

	// ErrInvalidTask is returned for a task without a function or with a
	// non-positive interval.
	ErrInvalidTask = errors.New("tasks: invalid task")
)
