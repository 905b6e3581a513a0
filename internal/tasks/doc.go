// Package tasks runs a component's background work next to its main loop.
//
// Two kinds of task are supported. Periodic jobs (heartbeat, staleness
// monitor) are scheduled with gocron in singleton mode and run once at
// start. Long-running tasks (settings watchers, the config reactor) run as
// goroutines until the runner's context is cancelled.
//
// All tasks share one private context. Stop cancels it, shuts the
// scheduler down and waits for every task with a bounded timeout.
package tasks
