package streamrunner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Swind/go-stream-runner/config"
	"github.com/Swind/go-stream-runner/core"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// rangeSource emits 0..limit-1.
type rangeSource struct {
	limit  int
	offset int
}

func (s *rangeSource) Next(ctx context.Context, out Collector) (bool, error) {
	if s.offset >= s.limit {
		return false, nil
	}
	if err := out.Collect(ctx, s.offset); err != nil {
		return false, err
	}
	s.offset++
	return true, nil
}

func (s *rangeSource) InitializeState(state map[string]any) {}
func (s *rangeSource) SnapshotState() map[string]any        { return map[string]any{"offset": s.offset} }

// collectingSink records everything it receives.
type collectingSink struct {
	mu      sync.Mutex
	records []any
}

func (s *collectingSink) Invoke(ctx context.Context, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *collectingSink) InitializeState(state map[string]any) {}

func (s *collectingSink) SnapshotState() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{"count": len(s.records)}
}

func (s *collectingSink) snapshot() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.records...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.TaskManager.Slots = 3
	cfg.JobManager.ChannelCapacity = 4
	cfg.JobManager.CheckpointInterval = config.NewDuration(0)
	return cfg
}

func doublingGraph(t *testing.T, records int, sink *collectingSink) *JobGraph {
	t.Helper()
	src, err := NewJobVertex("numbers", func(int) any { return &rangeSource{limit: records} }, 1)
	require.NoError(t, err)
	double, err := NewJobVertex("double", func(int) any {
		return OperatorFunc(func(ctx context.Context, record any, out Collector) error {
			return out.Collect(ctx, record.(int)*2)
		})
	}, 1)
	require.NoError(t, err)
	snk, err := NewJobVertex("collect", func(int) any { return sink }, 1)
	require.NoError(t, err)

	g := NewJobGraph("doubling")
	g.AddVertex(src)
	g.AddVertex(double)
	g.AddVertex(snk)
	g.AddEdge(src, double)
	g.AddEdge(double, snk)
	return g
}

// TestLocalCluster_RunsJob verifies a job runs end to end on a local cluster
// Given: numbers(1) -> double(1) -> collect(1) over 20 records
// When: the job is submitted and a checkpoint is triggered after the data drained
// Then: the sink sees every doubled record in order and the checkpoint covers all tasks
func TestLocalCluster_RunsJob(t *testing.T) {
	// Arrange
	cluster, err := NewLocalCluster(testConfig(), WithClusterLogger(core.NewNoOpLogger()))
	require.NoError(t, err)
	cluster.Start(context.Background())
	sink := &collectingSink{}

	// Act
	require.NoError(t, cluster.SubmitJob(context.Background(), doublingGraph(t, 20, sink)))
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 20 }, 5*time.Second, 5*time.Millisecond)

	pending, err := cluster.TriggerCheckpoint()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	completed, err := pending.Wait(ctx)

	// Assert
	require.NoError(t, err)
	require.Equal(t, 20, completed.Snapshots["numbers (1/1)"]["offset"])
	require.Equal(t, 20, completed.Snapshots["collect (1/1)"]["count"])
	latest, ok := cluster.LatestCheckpoint()
	require.True(t, ok)
	require.Equal(t, completed.ID, latest.ID)

	got := sink.snapshot()
	for i, record := range got {
		require.Equal(t, i*2, record)
	}

	require.NoError(t, cluster.Shutdown())
	require.NoError(t, cluster.Shutdown())
	require.False(t, cluster.TaskManager().IsRunning())
}

// TestLocalCluster_InvalidConfig verifies the config is validated up front
func TestLocalCluster_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.TaskManager.Slots = 0

	_, err := NewLocalCluster(cfg, WithClusterLogger(core.NewNoOpLogger()))

	require.True(t, config.ErrConfigInvalid.Equal(errors.Cause(err)))
}

// TestLocalCluster_ShutdownWithoutStart verifies queued tasks do not block shutdown
// Given: a job submitted to a cluster whose slots never started
// When: the cluster shuts down
// Then: Shutdown returns the task manager rejections instead of hanging
func TestLocalCluster_ShutdownWithoutStart(t *testing.T) {
	cluster, err := NewLocalCluster(testConfig(), WithClusterLogger(core.NewNoOpLogger()))
	require.NoError(t, err)
	require.NoError(t, cluster.SubmitJob(context.Background(), doublingGraph(t, 5, &collectingSink{})))

	err = cluster.Shutdown()

	require.Error(t, err)
	require.Contains(t, err.Error(), "numbers (1/1)")
}

// TestLocalCluster_DefaultConfig verifies a nil config falls back to defaults
func TestLocalCluster_DefaultConfig(t *testing.T) {
	cluster, err := NewLocalCluster(nil, WithClusterLogger(core.NewNoOpLogger()))
	require.NoError(t, err)
	require.Equal(t, config.Default(), cluster.Config())
	require.Equal(t, 4, cluster.TaskManager().Slots())

	_, ok := cluster.LatestCheckpoint()
	require.False(t, ok)
	require.NoError(t, cluster.Shutdown())
}
