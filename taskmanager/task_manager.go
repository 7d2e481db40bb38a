// Package taskmanager runs stream tasks on a fixed number of slots.
package taskmanager

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/Swind/go-stream-runner/core"
)

// ErrTaskManagerClosed is returned for tasks submitted after Shutdown, or
// queued when it happened.
var ErrTaskManagerClosed = core.ErrTaskManagerClosed

// Task is a long-running unit of work occupying one slot until Invoke
// returns. *stream.StreamTask and *stream.LogicTask satisfy it.
type Task interface {
	Name() string
	Invoke(ctx context.Context) error
}

// TaskManager owns a fixed set of worker goroutines ("slots"). Each slot
// locks its OS thread while a task runs, so a task keeps one dedicated
// thread for its whole lifetime. Tasks beyond the slot count wait in FIFO
// order for a slot to free up.
type TaskManager struct {
	id        string
	slots     int
	queue     *slotQueue
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	closed    bool
	runningMu sync.RWMutex
	logger    core.Logger
}

// Option configures a TaskManager.
type Option func(*TaskManager)

// WithLogger sets the task manager logger.
func WithLogger(logger core.Logger) Option {
	return func(tm *TaskManager) {
		if logger != nil {
			tm.logger = logger
		}
	}
}

// NewTaskManager creates a task manager with slots workers. slots below 1
// is raised to 1.
func NewTaskManager(id string, slots int, opts ...Option) *TaskManager {
	if slots < 1 {
		slots = 1
	}
	tm := &TaskManager{
		id:     id,
		slots:  slots,
		queue:  newSlotQueue(slots),
		logger: core.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// Start starts all slot workers. Tasks run with a context derived from ctx.
func (tm *TaskManager) Start(ctx context.Context) {
	tm.runningMu.Lock()
	defer tm.runningMu.Unlock()

	if tm.running || tm.closed {
		return
	}

	tm.ctx, tm.cancel = context.WithCancel(ctx)
	tm.running = true

	for i := 0; i < tm.slots; i++ {
		tm.wg.Add(1)
		go tm.slotLoop(tm.ctx, i)
	}
	tm.logger.Info("Task manager started", core.F("id", tm.id), core.F("slots", tm.slots))
}

// SubmitTask queues task for execution on the next free slot.
func (tm *TaskManager) SubmitTask(task Task) *TaskFuture {
	future := newTaskFuture(task.Name())
	if !tm.queue.push(&work{task: task, future: future}) {
		future.complete(ErrTaskManagerClosed.GenWithStackByArgs(tm.id))
	}
	return future
}

// Shutdown rejects new tasks, fails queued ones, cancels the context of
// running ones and waits for every slot to exit.
func (tm *TaskManager) Shutdown() {
	tm.runningMu.Lock()
	if tm.closed {
		tm.runningMu.Unlock()
		return
	}
	tm.closed = true
	cancel := tm.cancel
	tm.runningMu.Unlock()

	for _, w := range tm.queue.shutdown() {
		w.future.complete(ErrTaskManagerClosed.GenWithStackByArgs(tm.id))
	}
	if cancel != nil {
		cancel()
	}
	tm.Wait()

	tm.runningMu.Lock()
	tm.running = false
	tm.runningMu.Unlock()
	tm.logger.Info("Task manager stopped", core.F("id", tm.id))
}

// Wait blocks until every slot worker has exited.
func (tm *TaskManager) Wait() {
	tm.wg.Wait()
}

func (tm *TaskManager) ID() string { return tm.id }
func (tm *TaskManager) Slots() int { return tm.slots }

// IsRunning reports whether the slots are started and not shut down.
func (tm *TaskManager) IsRunning() bool {
	tm.runningMu.RLock()
	defer tm.runningMu.RUnlock()
	return tm.running
}

// Stats returns the current slot usage.
func (tm *TaskManager) Stats() core.SlotStats {
	return core.SlotStats{
		ID:      tm.id,
		Slots:   tm.slots,
		Queued:  tm.queue.queued(),
		Active:  tm.queue.active(),
		Running: tm.IsRunning(),
	}
}

func (tm *TaskManager) slotLoop(ctx context.Context, slot int) {
	defer tm.wg.Done()
	stopCh := ctx.Done()

	for {
		w, ok := tm.queue.getWork(stopCh)
		if !ok {
			return
		}

		tm.queue.onTaskStart()
		err := tm.runTask(ctx, slot, w.task)
		tm.queue.onTaskEnd()
		w.future.complete(err)
	}
}

func (tm *TaskManager) runTask(ctx context.Context, slot int, task Task) (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer func() {
		if r := recover(); r != nil {
			err = core.ErrTaskPanicked.GenWithStackByArgs(task.Name(), r)
			tm.logger.Error("Task panicked",
				core.F("task", task.Name()),
				core.F("slot", slot),
				core.F("panic", fmt.Sprint(r)),
				core.F("stack", string(debug.Stack())))
		}
	}()

	tm.logger.Debug("Task assigned to slot", core.F("task", task.Name()), core.F("slot", slot))
	return task.Invoke(ctx)
}
