package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRunner(t *testing.T, stopTimeout time.Duration) *Runner {
	t.Helper()
	r, err := New(Config{Name: "test", StopTimeout: stopTimeout})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunner_PeriodicRunsImmediatelyAndRepeats(t *testing.T) {
	r := newTestRunner(t, time.Second)

	var runs atomic.Int32
	err := r.AddPeriodic("heartbeat", 20*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("AddPeriodic() error = %v", err)
	}

	r.Start()
	defer r.Stop()

	waitUntil(t, func() bool { return runs.Load() >= 1 })
	waitUntil(t, func() bool { return runs.Load() >= 3 })
}

func TestRunner_LongRunningCancelledOnStop(t *testing.T) {
	r := newTestRunner(t, time.Second)

	started := make(chan struct{})
	var exited atomic.Bool
	_ = r.AddLongRunning("watcher", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		exited.Store(true)
		return ctx.Err()
	})

	r.Start()
	if !r.Running() {
		t.Error("Running() = false after Start")
	}
	<-started

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !exited.Load() {
		t.Error("long-running task did not exit before Stop returned")
	}
	if r.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestRunner_StopIdempotent(t *testing.T) {
	r := newTestRunner(t, time.Second)
	r.Start()

	for range 3 {
		if err := r.Stop(); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	}
}

func TestRunner_StopTimeout(t *testing.T) {
	r := newTestRunner(t, 50*time.Millisecond)

	release := make(chan struct{})
	defer close(release)
	_ = r.AddLongRunning("stubborn", func(context.Context) error {
		<-release
		return nil
	})
	r.Start()

	start := time.Now()
	err := r.Stop()
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("Stop() error = %v, want ErrStopTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop() took %v, want bounded by timeout", elapsed)
	}

	// Later calls report the same outcome without waiting again
	if err := r.Stop(); !errors.Is(err, ErrStopTimeout) {
		t.Errorf("second Stop() error = %v, want ErrStopTimeout", err)
	}
}

func TestRunner_AddAfterStart(t *testing.T) {
	r := newTestRunner(t, time.Second)
	r.Start()
	defer r.Stop()

	ran := make(chan struct{})
	_ = r.AddLongRunning("late", func(context.Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task added after Start did not run")
	}
}

func TestRunner_AddAfterStop(t *testing.T) {
	r := newTestRunner(t, time.Second)
	r.Start()
	_ = r.Stop()

	if err := r.AddLongRunning("x", func(context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("AddLongRunning() error = %v, want ErrStopped", err)
	}
	if err := r.AddPeriodic("x", time.Second, func(context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("AddPeriodic() error = %v, want ErrStopped", err)
	}
}

func TestRunner_InvalidTasks(t *testing.T) {
	r := newTestRunner(t, time.Second)

	tests := []struct {
		name string
		add  func() error
	}{
		{"nil periodic", func() error { return r.AddPeriodic("a", time.Second, nil) }},
		{"zero interval", func() error {
			return r.AddPeriodic("b", 0, func(context.Context) error { return nil })
		}},
		{"nil long-running", func() error { return r.AddLongRunning("c", nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.add(); !errors.Is(err, ErrInvalidTask) {
				t.Errorf("error = %v, want ErrInvalidTask", err)
			}
		})
	}
}

func TestRunner_PanicsContained(t *testing.T) {
	r := newTestRunner(t, time.Second)

	var after atomic.Bool
	_ = r.AddLongRunning("panics", func(context.Context) error {
		panic("boom")
	})
	_ = r.AddLongRunning("survivor", func(ctx context.Context) error {
		after.Store(true)
		<-ctx.Done()
		return nil
	})

	r.Start()
	waitUntil(t, after.Load)

	if err := r.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
