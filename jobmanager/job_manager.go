// Package jobmanager deploys job graphs onto a task manager and coordinates
// their checkpoints.
package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Swind/go-stream-runner/core"
	"github.com/Swind/go-stream-runner/jobgraph"
	"github.com/Swind/go-stream-runner/stream"
	"github.com/Swind/go-stream-runner/taskmanager"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"go.uber.org/multierr"
)

const (
	defaultChannelCapacity     = 1024
	defaultCheckpointInterval  = 5 * time.Second
	defaultCheckpointTimeout   = 10 * time.Second
	defaultRetainedCheckpoints = 10
)

// JobManager runs one job: it wires the graph into tasks and channels,
// submits the tasks to a task manager and drives their checkpoints.
type JobManager struct {
	taskManager *taskmanager.TaskManager

	channelCapacity     int
	checkpointInterval  time.Duration
	checkpointTimeout   time.Duration
	retainedCheckpoints int
	historyCapacity     int
	clock               clock.Clock
	logger              core.Logger
	metrics             core.Metrics

	mu          sync.Mutex
	graph       *jobgraph.JobGraph
	tasks       []*stream.LogicTask
	sources     []*stream.LogicTask
	channels    []*stream.DataChannel
	futures     []*taskmanager.TaskFuture
	coordinator *CheckpointCoordinator
	cancel      context.CancelFunc
}

// Option configures a JobManager.
type Option func(*JobManager)

// WithChannelCapacity sets the capacity of every data channel.
func WithChannelCapacity(capacity int) Option {
	return func(m *JobManager) { m.channelCapacity = capacity }
}

// WithCheckpointInterval sets the period of automatic checkpoints.
// 0 disables them; TriggerCheckpoint still works.
func WithCheckpointInterval(interval time.Duration) Option {
	return func(m *JobManager) { m.checkpointInterval = interval }
}

// WithCheckpointTimeout bounds how long a checkpoint may wait for acks.
func WithCheckpointTimeout(timeout time.Duration) Option {
	return func(m *JobManager) { m.checkpointTimeout = timeout }
}

// WithRetainedCheckpoints sets how many completed checkpoints are kept.
func WithRetainedCheckpoints(n int) Option {
	return func(m *JobManager) { m.retainedCheckpoints = n }
}

// WithMailHistory sets how many executed mails each task remembers.
func WithMailHistory(capacity int) Option {
	return func(m *JobManager) { m.historyCapacity = capacity }
}

// WithClock sets the clock used for checkpoint triggers and timeouts.
func WithClock(c clock.Clock) Option {
	return func(m *JobManager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the logger shared by the job manager and its tasks.
func WithLogger(logger core.Logger) Option {
	return func(m *JobManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink shared by the job manager and its tasks.
func WithMetrics(metrics core.Metrics) Option {
	return func(m *JobManager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// NewJobManager creates a job manager deploying onto taskManager.
func NewJobManager(taskManager *taskmanager.TaskManager, opts ...Option) *JobManager {
	m := &JobManager{
		taskManager:         taskManager,
		channelCapacity:     defaultChannelCapacity,
		checkpointInterval:  defaultCheckpointInterval,
		checkpointTimeout:   defaultCheckpointTimeout,
		retainedCheckpoints: defaultRetainedCheckpoints,
		clock:               clock.New(),
		logger:              core.NewNoOpLogger(),
		metrics:             &core.NilMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SubmitJob validates and deploys graph, then starts periodic checkpoints.
// The job runs until Cancel or Shutdown is called or ctx is cancelled.
// A job manager runs a single job.
func (m *JobManager) SubmitJob(ctx context.Context, graph *jobgraph.JobGraph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.graph != nil {
		return ErrJobAlreadySubmitted.GenWithStackByArgs(m.graph.Name)
	}
	if err := graph.Validate(); err != nil {
		return errors.Trace(err)
	}

	m.graph = graph
	m.deploy(graph)
	if slots := m.taskManager.Slots(); slots < len(m.tasks) {
		m.logger.Warn("Job has more tasks than slots, some tasks wait for a free slot",
			core.F("job", graph.Name),
			core.F("tasks", len(m.tasks)),
			core.F("slots", slots))
	}

	m.coordinator = NewCheckpointCoordinator(m, m.checkpointInterval, m.checkpointTimeout,
		WithCoordinatorClock(m.clock),
		WithCoordinatorLogger(m.logger),
		WithCoordinatorMetrics(m.metrics),
		WithCheckpointStore(NewMemoryCheckpointStore(m.retainedCheckpoints)))

	jobCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	for _, task := range m.tasks {
		m.futures = append(m.futures, m.taskManager.SubmitTask(&deployedTask{LogicTask: task, job: jobCtx}))
	}
	m.coordinator.Start()

	m.logger.Info("Job submitted",
		core.F("job", graph.Name),
		core.F("job-id", graph.ID.String()),
		core.F("tasks", len(m.tasks)),
		core.F("channels", len(m.channels)))
	return nil
}

// deploy creates one task per vertex instance and one channel per pair of
// connected instances. Every upstream instance broadcasts each record to
// all instances of each downstream vertex.
func (m *JobManager) deploy(graph *jobgraph.JobGraph) {
	type instanceKey struct {
		vertex   uuid.UUID
		instance int
	}
	inputs := make(map[instanceKey][]*stream.DataChannel)
	outputs := make(map[instanceKey][]*stream.DataChannel)

	for _, edge := range graph.Edges() {
		src, dst := graph.Vertex(edge.Source), graph.Vertex(edge.Target)
		for i := 0; i < src.Parallelism; i++ {
			for j := 0; j < dst.Parallelism; j++ {
				ch := stream.NewDataChannel(
					fmt.Sprintf("%s -> %s", src.TaskName(i), dst.TaskName(j)), m.channelCapacity)
				from := instanceKey{src.ID, i}
				to := instanceKey{dst.ID, j}
				outputs[from] = append(outputs[from], ch)
				inputs[to] = append(inputs[to], ch)
				m.channels = append(m.channels, ch)
			}
		}
	}

	opts := []stream.TaskOption{
		stream.WithTaskLogger(m.logger),
		stream.WithTaskMetrics(m.metrics),
	}
	if m.historyCapacity > 0 {
		opts = append(opts, stream.WithTaskHistoryCapacity(m.historyCapacity))
	}

	for _, v := range graph.Vertices() {
		for i := 0; i < v.Parallelism; i++ {
			key := instanceKey{v.ID, i}
			task := stream.NewLogicTask(
				v.TaskName(i),
				v.Instance(i),
				stream.NewInputGate(inputs[key]...),
				outputs[key],
				m,
				opts...,
			)
			m.tasks = append(m.tasks, task)
			if v.Kind() == stream.LogicSource {
				m.sources = append(m.sources, task)
			}
		}
	}
}

// TotalTasks implements CheckpointTarget.
func (m *JobManager) TotalTasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// InjectCheckpoint implements CheckpointTarget: every source snapshots and
// emits the barrier ahead of its next record.
func (m *JobManager) InjectCheckpoint(id int64) {
	m.mu.Lock()
	sources := m.sources
	m.mu.Unlock()
	for _, task := range sources {
		task.TriggerCheckpoint(id)
	}
}

// TriggerCheckpoint starts a checkpoint outside the periodic schedule.
func (m *JobManager) TriggerCheckpoint() (*PendingCheckpoint, error) {
	coordinator := m.Coordinator()
	if coordinator == nil {
		return nil, ErrCheckpointCoordinatorStopped.GenWithStackByArgs()
	}
	return coordinator.TriggerCheckpoint()
}

// AcknowledgeCheckpoint implements stream.CheckpointResponder.
func (m *JobManager) AcknowledgeCheckpoint(id int64, taskName string, snapshot map[string]any) {
	if coordinator := m.Coordinator(); coordinator != nil {
		coordinator.AcknowledgeCheckpoint(id, taskName, snapshot)
	}
}

// Coordinator returns the checkpoint coordinator of the running job.
func (m *JobManager) Coordinator() *CheckpointCoordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coordinator
}

// Graph returns the submitted graph, or nil.
func (m *JobManager) Graph() *jobgraph.JobGraph {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph
}

// Tasks returns the deployed tasks in vertex order.
func (m *JobManager) Tasks() []*stream.LogicTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*stream.LogicTask(nil), m.tasks...)
}

// Channels returns the deployed data channels.
func (m *JobManager) Channels() []*stream.DataChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*stream.DataChannel(nil), m.channels...)
}

// Task returns the deployed task named name, or nil.
func (m *JobManager) Task(name string) *stream.LogicTask {
	for _, task := range m.Tasks() {
		if task.Name() == name {
			return task
		}
	}
	return nil
}

// TaskStats returns the stats of every deployed task.
func (m *JobManager) TaskStats() []core.TaskStats {
	tasks := m.Tasks()
	out := make([]core.TaskStats, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.Stats())
	}
	return out
}

// CheckpointStats returns coordinator progress; zero before SubmitJob.
func (m *JobManager) CheckpointStats() core.CheckpointStats {
	if coordinator := m.Coordinator(); coordinator != nil {
		return coordinator.Stats()
	}
	return core.CheckpointStats{}
}

// Wait blocks until every task has exited and returns their combined errors.
func (m *JobManager) Wait(ctx context.Context) error {
	m.mu.Lock()
	futures := append([]*taskmanager.TaskFuture(nil), m.futures...)
	m.mu.Unlock()

	var errs error
	for _, f := range futures {
		if err := f.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return errors.Trace(ctx.Err())
			}
			errs = multierr.Append(errs, errors.Annotatef(err, "task %s", f.Name()))
		}
	}
	return errs
}

// Cancel stops checkpointing and ends every task. Tasks exit cleanly.
func (m *JobManager) Cancel() {
	m.mu.Lock()
	coordinator, cancel := m.coordinator, m.cancel
	m.mu.Unlock()

	if coordinator != nil {
		coordinator.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

// Shutdown cancels the job, waits for its tasks to exit and closes the
// channels between them. Tasks end on cancellation, so channels are only
// closed once nothing reads or writes them anymore.
func (m *JobManager) Shutdown() error {
	m.Cancel()
	err := m.Wait(context.Background())

	m.mu.Lock()
	channels := m.channels
	m.mu.Unlock()
	for _, ch := range channels {
		ch.Close()
	}
	m.logger.Info("Job manager stopped", core.F("error", err))
	return err
}

// deployedTask ties a task's lifetime to its job as well as to its slot.
type deployedTask struct {
	*stream.LogicTask
	job context.Context
}

func (t *deployedTask) Invoke(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.job, cancel)
	defer stop()
	return t.LogicTask.Invoke(ctx)
}
