package jobmanager

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-stream-runner/core"
	"github.com/benbjohnson/clock"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// CheckpointTarget is the job a coordinator checkpoints.
type CheckpointTarget interface {
	// TotalTasks is the number of acknowledgements a checkpoint needs.
	TotalTasks() int
	// InjectCheckpoint starts checkpoint id at every source task.
	InjectCheckpoint(id int64)
}

// PendingCheckpoint is a triggered checkpoint awaiting acknowledgements.
type PendingCheckpoint struct {
	id          int64
	triggeredAt time.Time
	expected    int
	snapshots   map[string]map[string]any
	timer       *clock.Timer

	done   chan struct{}
	result *CompletedCheckpoint
	err    error
}

func (p *PendingCheckpoint) ID() int64 { return p.id }

// Done is closed once the checkpoint completed, timed out or was aborted.
func (p *PendingCheckpoint) Done() <-chan struct{} { return p.done }

// Wait blocks until the checkpoint finishes or ctx is done.
func (p *PendingCheckpoint) Wait(ctx context.Context) (*CompletedCheckpoint, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	}
}

func (p *PendingCheckpoint) finish(result *CompletedCheckpoint, err error) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.result, p.err = result, err
	close(p.done)
}

// CheckpointCoordinator periodically triggers checkpoints on a target and
// aggregates the acknowledgements of its tasks. A checkpoint completes once
// every task acknowledged it, or fails when the timeout elapses first. Failed
// checkpoints are not retried.
type CheckpointCoordinator struct {
	target   CheckpointTarget
	store    CheckpointStore
	interval time.Duration
	timeout  time.Duration
	clock    clock.Clock
	logger   core.Logger
	metrics  core.Metrics

	mu      sync.Mutex
	lastID  int64
	pending map[int64]*PendingCheckpoint
	stopped bool

	runner *core.SingleThreadTaskRunner
	handle core.RepeatingTaskHandle

	lastCompletedID   atomic.Int64
	completed         atomic.Int64
	timedOut          atomic.Int64
	lastCompletedTime atomic.Time
}

// CoordinatorOption configures a CheckpointCoordinator.
type CoordinatorOption func(*CheckpointCoordinator)

// WithCoordinatorClock sets the clock used for periodic triggers and timeouts.
func WithCoordinatorClock(c clock.Clock) CoordinatorOption {
	return func(cc *CheckpointCoordinator) {
		if c != nil {
			cc.clock = c
		}
	}
}

// WithCoordinatorLogger sets the coordinator logger.
func WithCoordinatorLogger(logger core.Logger) CoordinatorOption {
	return func(cc *CheckpointCoordinator) {
		if logger != nil {
			cc.logger = logger
		}
	}
}

// WithCoordinatorMetrics sets the metrics sink.
func WithCoordinatorMetrics(metrics core.Metrics) CoordinatorOption {
	return func(cc *CheckpointCoordinator) {
		if metrics != nil {
			cc.metrics = metrics
		}
	}
}

// WithCheckpointStore sets where completed checkpoints are kept.
func WithCheckpointStore(store CheckpointStore) CoordinatorOption {
	return func(cc *CheckpointCoordinator) {
		if store != nil {
			cc.store = store
		}
	}
}

// NewCheckpointCoordinator creates a coordinator for target. interval is the
// period between automatic triggers; 0 disables them. timeout bounds each
// checkpoint.
func NewCheckpointCoordinator(target CheckpointTarget, interval, timeout time.Duration, opts ...CoordinatorOption) *CheckpointCoordinator {
	c := &CheckpointCoordinator{
		target:   target,
		store:    NewMemoryCheckpointStore(defaultRetainedCheckpoints),
		interval: interval,
		timeout:  timeout,
		clock:    clock.New(),
		logger:   core.NewNoOpLogger(),
		metrics:  &core.NilMetrics{},
		pending:  make(map[int64]*PendingCheckpoint),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins periodic triggering on a dedicated trigger goroutine.
func (c *CheckpointCoordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runner != nil || c.stopped || c.interval <= 0 {
		return
	}

	c.runner = core.NewSingleThreadTaskRunner("checkpoint-coordinator",
		core.WithRunnerClock(c.clock),
		core.WithRunnerLogger(c.logger))
	c.handle = c.runner.PostRepeatingTask(func(ctx context.Context) {
		if _, err := c.TriggerCheckpoint(); err != nil {
			c.logger.Warn("Failed to trigger checkpoint", core.F("error", err))
		}
	}, c.interval)
	c.logger.Info("Checkpoint coordinator started",
		core.F("interval", c.interval), core.F("timeout", c.timeout))
}

// Stop cancels periodic triggering and aborts pending checkpoints with
// ErrCheckpointCoordinatorStopped. It is idempotent.
func (c *CheckpointCoordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	runner, handle := c.runner, c.handle
	pending := c.pending
	c.pending = make(map[int64]*PendingCheckpoint)
	c.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
	if runner != nil {
		runner.Stop()
	}
	for _, p := range pending {
		p.finish(nil, core.ErrCheckpointCoordinatorStopped.GenWithStackByArgs())
	}
}

// TriggerCheckpoint allocates the next checkpoint id, arms its timeout and
// injects it at the sources of the target.
func (c *CheckpointCoordinator) TriggerCheckpoint() (*PendingCheckpoint, error) {
	// The target has its own lock; never take it while holding c.mu.
	expected := c.target.TotalTasks()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, core.ErrCheckpointCoordinatorStopped.GenWithStackByArgs()
	}
	c.lastID++
	p := &PendingCheckpoint{
		id:          c.lastID,
		triggeredAt: c.clock.Now(),
		expected:    expected,
		snapshots:   make(map[string]map[string]any),
		done:        make(chan struct{}),
	}
	if p.expected == 0 {
		c.completeLocked(p)
		c.mu.Unlock()
		return p, nil
	}
	c.pending[p.id] = p
	id := p.id
	p.timer = c.clock.AfterFunc(c.timeout, func() { c.expire(id) })
	c.mu.Unlock()

	c.logger.Debug("Triggering checkpoint",
		core.F("checkpoint-id", id), core.F("tasks", p.expected))
	c.target.InjectCheckpoint(id)
	return p, nil
}

// AcknowledgeCheckpoint records the snapshot of taskName for checkpoint id.
// Acknowledgements for unknown or finished checkpoints, and repeated ones
// from the same task, are logged and ignored.
func (c *CheckpointCoordinator) AcknowledgeCheckpoint(id int64, taskName string, snapshot map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		c.logger.Warn("Received acknowledgement for unknown checkpoint",
			core.F("checkpoint-id", id), core.F("task", taskName))
		return
	}
	if _, dup := p.snapshots[taskName]; dup {
		c.logger.Warn("Ignoring duplicate checkpoint acknowledgement",
			core.F("checkpoint-id", id), core.F("task", taskName))
		return
	}
	p.snapshots[taskName] = snapshot
	if len(p.snapshots) < p.expected {
		return
	}

	delete(c.pending, id)
	c.completeLocked(p)
}

func (c *CheckpointCoordinator) completeLocked(p *PendingCheckpoint) {
	completed := &CompletedCheckpoint{
		ID:          p.id,
		TriggeredAt: p.triggeredAt,
		CompletedAt: c.clock.Now(),
		Snapshots:   p.snapshots,
	}
	c.store.Add(completed)
	c.completed.Inc()
	c.lastCompletedTime.Store(completed.CompletedAt)
	if p.id > c.lastCompletedID.Load() {
		c.lastCompletedID.Store(p.id)
	}
	c.metrics.RecordCheckpoint(core.CheckpointOutcomeCompleted, completed.Duration())
	c.logger.Info("Checkpoint completed",
		core.F("checkpoint-id", p.id),
		core.F("tasks", len(p.snapshots)),
		core.F("duration", completed.Duration()))
	p.finish(completed, nil)
}

func (c *CheckpointCoordinator) expire(id int64) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	missing := p.expected - len(p.snapshots)
	c.mu.Unlock()

	c.timedOut.Inc()
	c.metrics.RecordCheckpoint(core.CheckpointOutcomeTimeout, c.clock.Since(p.triggeredAt))
	c.logger.Warn("Checkpoint timed out",
		core.F("checkpoint-id", id),
		core.F("timeout", c.timeout),
		core.F("missing", missing))
	p.finish(nil, core.ErrCheckpointTimeout.GenWithStackByArgs(id, c.timeout, missing))
}

// Pending returns the checkpoint id while it awaits acknowledgements.
func (c *CheckpointCoordinator) Pending(id int64) (*PendingCheckpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil, ErrCheckpointUnknown.GenWithStackByArgs(id)
	}
	return p, nil
}

// PendingCount is the number of checkpoints awaiting acknowledgements.
func (c *CheckpointCoordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// LatestCompleted returns the most recent completed checkpoint.
func (c *CheckpointCoordinator) LatestCompleted() (*CompletedCheckpoint, bool) {
	return c.store.Latest()
}

// CompletedCheckpoints returns the retained checkpoints, oldest first.
func (c *CheckpointCoordinator) CompletedCheckpoints() []*CompletedCheckpoint {
	return c.store.List()
}

// Stats summarizes coordinator progress.
func (c *CheckpointCoordinator) Stats() core.CheckpointStats {
	c.mu.Lock()
	lastID, pending := c.lastID, len(c.pending)
	c.mu.Unlock()
	return core.CheckpointStats{
		LastTriggeredID:   lastID,
		LastCompletedID:   c.lastCompletedID.Load(),
		Pending:           pending,
		Completed:         c.completed.Load(),
		TimedOut:          c.timedOut.Load(),
		LastCompletedTime: c.lastCompletedTime.Load(),
	}
}
