package streamrunner

import (
	"context"
	"sync"

	"github.com/Swind/go-stream-runner/config"
	"github.com/Swind/go-stream-runner/core"
	"github.com/Swind/go-stream-runner/jobmanager"
	"github.com/Swind/go-stream-runner/taskmanager"
	"github.com/benbjohnson/clock"
	"github.com/pingcap/errors"
)

// LocalCluster runs a task manager and a job manager in one process.
type LocalCluster struct {
	cfg *config.Config

	taskManager *taskmanager.TaskManager
	jobManager  *jobmanager.JobManager

	logger core.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

type clusterOptions struct {
	logger  core.Logger
	metrics core.Metrics
	clock   clock.Clock
}

// ClusterOption configures a LocalCluster.
type ClusterOption func(*clusterOptions)

// WithClusterLogger sets the logger shared by every component.
// Without it the cluster builds one from the log section of the config.
func WithClusterLogger(logger core.Logger) ClusterOption {
	return func(o *clusterOptions) { o.logger = logger }
}

// WithClusterMetrics sets the metrics sink shared by every component.
func WithClusterMetrics(metrics core.Metrics) ClusterOption {
	return func(o *clusterOptions) { o.metrics = metrics }
}

// WithClusterClock sets the clock driving checkpoint triggers and timeouts.
func WithClusterClock(c clock.Clock) ClusterOption {
	return func(o *clusterOptions) { o.clock = c }
}

// NewLocalCluster validates cfg and builds the cluster components.
// A nil cfg uses config.Default().
func NewLocalCluster(cfg *config.Config, opts ...ClusterOption) (*LocalCluster, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	o := &clusterOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		lg, err := cfg.Log.Build()
		if err != nil {
			return nil, errors.Trace(err)
		}
		o.logger = lg
	}
	if o.metrics == nil {
		o.metrics = &core.NilMetrics{}
	}

	jmOpts := []jobmanager.Option{
		jobmanager.WithChannelCapacity(cfg.JobManager.ChannelCapacity),
		jobmanager.WithCheckpointInterval(cfg.JobManager.CheckpointInterval.Duration),
		jobmanager.WithCheckpointTimeout(cfg.JobManager.CheckpointTimeout.Duration),
		jobmanager.WithRetainedCheckpoints(cfg.JobManager.RetainedCheckpoints),
		jobmanager.WithMailHistory(cfg.TaskManager.MailHistory),
		jobmanager.WithLogger(o.logger),
		jobmanager.WithMetrics(o.metrics),
	}
	if o.clock != nil {
		jmOpts = append(jmOpts, jobmanager.WithClock(o.clock))
	}

	tm := taskmanager.NewTaskManager(cfg.TaskManager.ID, cfg.TaskManager.Slots, taskmanager.WithLogger(o.logger))
	return &LocalCluster{
		cfg:         cfg,
		taskManager: tm,
		jobManager:  jobmanager.NewJobManager(tm, jmOpts...),
		logger:      o.logger,
	}, nil
}

// Start starts the task manager slots. Repeated calls are no-ops.
func (c *LocalCluster) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true
	c.taskManager.Start(ctx)
	c.logger.Info("Local cluster started",
		core.F("task-manager", c.taskManager.ID()),
		core.F("slots", c.taskManager.Slots()))
}

// SubmitJob deploys graph onto the cluster.
func (c *LocalCluster) SubmitJob(ctx context.Context, graph *JobGraph) error {
	return c.jobManager.SubmitJob(ctx, graph)
}

// TriggerCheckpoint starts a checkpoint outside the periodic schedule.
func (c *LocalCluster) TriggerCheckpoint() (*PendingCheckpoint, error) {
	return c.jobManager.TriggerCheckpoint()
}

// LatestCheckpoint returns the most recent completed checkpoint.
func (c *LocalCluster) LatestCheckpoint() (*CompletedCheckpoint, bool) {
	coordinator := c.jobManager.Coordinator()
	if coordinator == nil {
		return nil, false
	}
	return coordinator.LatestCompleted()
}

// Wait blocks until every task of the job has exited.
func (c *LocalCluster) Wait(ctx context.Context) error {
	return c.jobManager.Wait(ctx)
}

// Shutdown cancels the job, waits for its tasks and stops the slots.
// It returns the job's task errors.
func (c *LocalCluster) Shutdown() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	var err error
	if started {
		err = c.jobManager.Shutdown()
		c.taskManager.Shutdown()
	} else {
		// Tasks that never got a slot only finish once the queue is failed.
		c.taskManager.Shutdown()
		err = c.jobManager.Shutdown()
	}
	c.logger.Info("Local cluster stopped")
	return err
}

// Config returns the configuration the cluster was built from.
func (c *LocalCluster) Config() *config.Config { return c.cfg }

// TaskManager returns the cluster's task manager.
func (c *LocalCluster) TaskManager() *taskmanager.TaskManager { return c.taskManager }

// JobManager returns the cluster's job manager.
func (c *LocalCluster) JobManager() *jobmanager.JobManager { return c.jobManager }

// Logger returns the logger shared by the cluster components.
func (c *LocalCluster) Logger() core.Logger { return c.logger }
