package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Func is the body of a task. It must return when ctx is cancelled.
type Func func(ctx context.Context) error

// Config holds runner settings.
type Config struct {
	// Name identifies the owning component in log entries.
	Name string

	// StopTimeout bounds how long Stop waits for tasks to finish.
	StopTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		StopTimeout: 5 * time.Second,
	}
}

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type longTask struct {
	name string
	fn   Func
}

// Runner owns the background tasks of one component.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Runner struct {
	cfg       Config
	scheduler gocron.Scheduler
	logger    Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending []longTask
	started bool
	stopped bool
	stopErr error
}

// New creates a runner. Tasks are added with AddPeriodic and
// AddLongRunning, then launched together by Start.
func New(cfg Config) (*Runner, error) {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultConfig(cfg.Name).StopTimeout
	}

	s, err := gocron.NewScheduler(gocron.WithStopTimeout(cfg.StopTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:       cfg,
		scheduler: s,
		logger:    noopLogger{},
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

// AddPeriodic schedules fn every interval. The first run happens as soon
// as the runner starts; a run still in progress when the next is due
// delays it rather than overlapping.
func (r *Runner) AddPeriodic(name string, interval time.Duration, fn Func) error {
	if fn == nil || interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTask, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}

	_, err := r.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.runPeriodic, name, fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s job: %w", name, err)
	}
	return nil
}

// AddLongRunning registers fn to run once for the runner's lifetime. Added
// after Start, it is launched at once.
func (r *Runner) AddLongRunning(name string, fn Func) error {
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrInvalidTask, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}

	task := longTask{name: name, fn: fn}
	if r.started {
		r.launch(task)
		return nil
	}
	r.pending = append(r.pending, task)
	return nil
}

// Start launches the scheduler and the long-running tasks. Calling it
// again has no effect.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true

	r.logger.Info("starting background tasks", "component", r.cfg.Name, "long_running", len(r.pending))
	r.scheduler.Start()
	for _, task := range r.pending {
		r.launch(task)
	}
	r.pending = nil
}

// Running reports whether Start has run and Stop has not.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started && !r.stopped
}

// Stop cancels every task and waits at most StopTimeout for them.
//
// Stop is idempotent; later calls return the result of the first.
//
// Returns:
//   - error: ErrStopTimeout if tasks were abandoned, or a scheduler error
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.stopped {
		err := r.stopErr
		r.mu.Unlock()
		return err
	}
	r.stopped = true
	r.mu.Unlock()

	r.logger.Info("stopping background tasks", "component", r.cfg.Name)
	r.cancel()

	done := make(chan error, 1)
	go func() {
		err := r.scheduler.Shutdown()
		r.wg.Wait()
		done <- err
	}()

	timer := time.NewTimer(r.cfg.StopTimeout)
	defer timer.Stop()

	var err error
	select {
	case serr := <-done:
		if serr != nil {
			err = fmt.Errorf("shutting down scheduler: %w", serr)
		}
	case <-timer.C:
		r.logger.Warn("background tasks did not stop in time, abandoning them",
			"component", r.cfg.Name,
			"timeout", r.cfg.StopTimeout,
		)
		err = ErrStopTimeout
	}

	r.mu.Lock()
	r.stopErr = err
	r.mu.Unlock()
	return err
}

// launch starts task on its own goroutine. Callers hold r.mu.
func (r *Runner) launch(task longTask) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.recoverTask(task.name)

		r.logger.Debug("task started", "task", task.name)
		if err := task.fn(r.ctx); err != nil && r.ctx.Err() == nil {
			r.logger.Error("task exited with error", "task", task.name, "error", err)
			return
		}
		r.logger.Debug("task finished", "task", task.name)
	}()
}

// runPeriodic is called by gocron for every scheduled run.
func (r *Runner) runPeriodic(name string, fn Func) {
	if r.ctx.Err() != nil {
		return
	}
	defer r.recoverTask(name)

	if err := fn(r.ctx); err != nil && r.ctx.Err() == nil {
		r.logger.Warn("periodic task failed", "task", name, "error", err)
	}
}

func (r *Runner) recoverTask(name string) {
	if rec := recover(); rec != nil {
		r.logger.Error("task panic recovered", "task", name, "panic", rec)
	}
}
