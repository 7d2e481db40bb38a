package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
)

// SingleThreadTaskRunner binds a dedicated goroutine to execute tasks sequentially.
// It guarantees that all tasks submitted to it run on the same goroutine.
//
// The checkpoint coordinator uses one as its trigger thread: periodic
// triggers and their bookkeeping never run concurrently with each other.
// Intervals are measured on an injectable clock so tests can drive time.
type SingleThreadTaskRunner struct {
	name string

	// Task queue: Buffered channel for tasks
	workQueue chan Task

	// Lifecycle control
	ctx    context.Context
	cancel context.CancelFunc

	stopped chan struct{}
	once    sync.Once
	closed  atomic.Bool

	clock  clock.Clock
	logger Logger
}

// RunnerOption configures a SingleThreadTaskRunner.
type RunnerOption func(*SingleThreadTaskRunner)

// WithRunnerClock sets the clock used for repeating tasks.
func WithRunnerClock(c clock.Clock) RunnerOption {
	return func(r *SingleThreadTaskRunner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithRunnerLogger sets the logger used to report task panics.
func WithRunnerLogger(logger Logger) RunnerOption {
	return func(r *SingleThreadTaskRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewSingleThreadTaskRunner creates and starts a new SingleThreadTaskRunner.
// It immediately spawns a dedicated goroutine for task execution.
func NewSingleThreadTaskRunner(name string, opts ...RunnerOption) *SingleThreadTaskRunner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &SingleThreadTaskRunner{
		name:      name,
		workQueue: make(chan Task, 100), // Buffer to avoid blocking senders
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
		clock:     clock.New(),
		logger:    NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	// Start the dedicated message loop
	go r.runLoop()

	return r
}

// Name returns the name of the task runner
func (r *SingleThreadTaskRunner) Name() string {
	return r.name
}

// PostTask submits a task for execution. Tasks posted after Stop are dropped.
func (r *SingleThreadTaskRunner) PostTask(task Task) {
	// Check if runner is closed to avoid blocking on a dead loop
	if r.closed.Load() {
		return
	}

	select {
	case <-r.ctx.Done():
		// Runner stopped, drop task
	case r.workQueue <- task:
	}
}

func (r *SingleThreadTaskRunner) postDelayed(task Task, delay time.Duration) *clock.Timer {
	if r.closed.Load() {
		return nil
	}
	// The timer callback runs on its own goroutine; PostTask injects the
	// task back into the main loop.
	return r.clock.AfterFunc(delay, func() {
		r.PostTask(task)
	})
}

// PostRepeatingTask runs task every interval, first after one interval has
// elapsed. The next run is scheduled when the previous one finishes.
func (r *SingleThreadTaskRunner) PostRepeatingTask(task Task, interval time.Duration) RepeatingTaskHandle {
	handle := &singleThreadRepeatingHandle{
		runner:   r,
		task:     task,
		interval: interval,
	}
	handle.schedule()
	return handle
}

// Stop stops the runner and waits for the running task, if any, to finish.
// Queued tasks that have not started are discarded.
func (r *SingleThreadTaskRunner) Stop() {
	r.once.Do(func() {
		r.closed.Store(true)
		r.cancel()
		<-r.stopped
	})
}

// IsClosed returns true if the runner has been stopped
func (r *SingleThreadTaskRunner) IsClosed() bool {
	return r.closed.Load()
}

// runLoop is the core of this runner, it occupies a dedicated goroutine
func (r *SingleThreadTaskRunner) runLoop() {
	defer close(r.stopped)

	for {
		select {
		case task := <-r.workQueue:
			r.runTask(r.ctx, task)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *SingleThreadTaskRunner) runTask(ctx context.Context, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Task panicked on single thread runner",
				F("runner", r.name),
				F("panic", fmt.Sprint(rec)),
				F("stack", string(debug.Stack())))
		}
	}()
	task(ctx)
}

// =============================================================================
// Repeating Task Handle for SingleThreadTaskRunner
// =============================================================================

type singleThreadRepeatingHandle struct {
	runner   *SingleThreadTaskRunner
	task     Task
	interval time.Duration
	stopped  atomic.Bool

	mu    sync.Mutex
	timer *clock.Timer
}

func (h *singleThreadRepeatingHandle) Stop() {
	h.stopped.Store(true)
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()
}

func (h *singleThreadRepeatingHandle) IsStopped() bool {
	return h.stopped.Load()
}

func (h *singleThreadRepeatingHandle) schedule() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.IsStopped() || h.runner.IsClosed() {
		return
	}
	h.timer = h.runner.postDelayed(h.run, h.interval)
}

func (h *singleThreadRepeatingHandle) run(ctx context.Context) {
	if h.IsStopped() || h.runner.IsClosed() {
		return
	}

	h.task(ctx)

	h.schedule()
}
