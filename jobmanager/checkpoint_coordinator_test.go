package jobmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

// fakeTarget records injected checkpoints.
type fakeTarget struct {
	total int

	mu       sync.Mutex
	injected []int64
}

func (f *fakeTarget) TotalTasks() int { return f.total }

func (f *fakeTarget) InjectCheckpoint(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected = append(f.injected, id)
}

func (f *fakeTarget) injectedIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.injected...)
}

func newTestCoordinator(target CheckpointTarget, interval, timeout time.Duration) (*CheckpointCoordinator, *clock.Mock) {
	mock := clock.NewMock()
	c := NewCheckpointCoordinator(target, interval, timeout, WithCoordinatorClock(mock))
	return c, mock
}

// TestCheckpointCoordinator_AllAcksComplete verifies successful checkpoints
// Given: a target with three tasks
// When: a checkpoint is triggered and all three tasks acknowledge
// Then: the checkpoint completes with every snapshot and is retained
func TestCheckpointCoordinator_AllAcksComplete(t *testing.T) {
	// Arrange
	target := &fakeTarget{total: 3}
	c, mock := newTestCoordinator(target, 0, 10*time.Second)
	defer c.Stop()

	// Act
	pending, err := c.TriggerCheckpoint()
	require.NoError(t, err)
	require.Equal(t, []int64{1}, target.injectedIDs())

	mock.Add(time.Second)
	c.AcknowledgeCheckpoint(1, "a", map[string]any{"n": 1})
	c.AcknowledgeCheckpoint(1, "b", map[string]any{"n": 2})
	c.AcknowledgeCheckpoint(1, "c", map[string]any{})

	// Assert
	completed, err := pending.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), completed.ID)
	require.Len(t, completed.Snapshots, 3)
	require.Equal(t, 2, completed.Snapshots["b"]["n"])
	require.Equal(t, time.Second, completed.Duration())
	require.Equal(t, 0, c.PendingCount())

	latest, ok := c.LatestCompleted()
	require.True(t, ok)
	require.Equal(t, int64(1), latest.ID)

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Completed)
	require.Equal(t, int64(1), stats.LastCompletedID)
	require.Equal(t, int64(1), stats.LastTriggeredID)
}

// TestCheckpointCoordinator_Timeout verifies checkpoint expiry
// Given: a target with three tasks of which only two acknowledge
// When: the timeout elapses
// Then: the checkpoint fails with ErrCheckpointTimeout, the pending entry is gone and late acks are ignored
func TestCheckpointCoordinator_Timeout(t *testing.T) {
	target := &fakeTarget{total: 3}
	c, mock := newTestCoordinator(target, 0, 10*time.Second)
	defer c.Stop()

	pending, err := c.TriggerCheckpoint()
	require.NoError(t, err)
	c.AcknowledgeCheckpoint(1, "a", nil)
	c.AcknowledgeCheckpoint(1, "b", nil)

	mock.Add(9 * time.Second)
	require.Equal(t, 1, c.PendingCount())

	mock.Add(time.Second)
	_, err = pending.Wait(context.Background())
	require.True(t, ErrCheckpointTimeout.Equal(err))
	require.Equal(t, 0, c.PendingCount())

	_, err = c.Pending(1)
	require.True(t, ErrCheckpointUnknown.Equal(err))

	c.AcknowledgeCheckpoint(1, "c", nil)
	_, ok := c.LatestCompleted()
	require.False(t, ok)
	require.Equal(t, int64(1), c.Stats().TimedOut)
}

// TestCheckpointCoordinator_DuplicateAck verifies a task counts once
// Given: a target with two tasks
// When: the same task acknowledges twice
// Then: the checkpoint stays pending until the other task acknowledges
func TestCheckpointCoordinator_DuplicateAck(t *testing.T) {
	target := &fakeTarget{total: 2}
	c, _ := newTestCoordinator(target, 0, time.Minute)
	defer c.Stop()

	pending, err := c.TriggerCheckpoint()
	require.NoError(t, err)
	c.AcknowledgeCheckpoint(1, "a", nil)
	c.AcknowledgeCheckpoint(1, "a", nil)

	got, err := c.Pending(1)
	require.NoError(t, err)
	require.Same(t, pending, got)

	c.AcknowledgeCheckpoint(1, "b", nil)
	<-pending.Done()
	completed, err := pending.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, completed.Snapshots, 2)
}

// TestCheckpointCoordinator_IDsIncrease verifies monotonic ids per coordinator
func TestCheckpointCoordinator_IDsIncrease(t *testing.T) {
	target := &fakeTarget{total: 1}
	first, _ := newTestCoordinator(target, 0, time.Minute)
	second, _ := newTestCoordinator(&fakeTarget{total: 1}, 0, time.Minute)
	defer first.Stop()
	defer second.Stop()

	for i := 0; i < 3; i++ {
		_, err := first.TriggerCheckpoint()
		require.NoError(t, err)
	}
	p, err := second.TriggerCheckpoint()
	require.NoError(t, err)

	require.Equal(t, []int64{1, 2, 3}, target.injectedIDs())
	require.Equal(t, int64(1), p.ID())
}

// TestCheckpointCoordinator_PeriodicTrigger verifies the trigger schedule
// Given: a started coordinator with a five second interval
// When: the clock advances by two intervals
// Then: two checkpoints are injected
func TestCheckpointCoordinator_PeriodicTrigger(t *testing.T) {
	target := &fakeTarget{total: 1}
	c, mock := newTestCoordinator(target, 5*time.Second, time.Minute)
	c.Start()
	defer c.Stop()

	mock.Add(5 * time.Second)
	require.Eventually(t, func() bool { return len(target.injectedIDs()) == 1 }, time.Second, 5*time.Millisecond)
	c.AcknowledgeCheckpoint(1, "only", nil)

	// The next trigger is scheduled once the previous one has returned.
	require.Eventually(t, func() bool {
		mock.Add(5 * time.Second)
		return len(target.injectedIDs()) >= 2
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, int64(1), c.Stats().Completed)
}

// TestCheckpointCoordinator_StopAbortsPending verifies Stop semantics
func TestCheckpointCoordinator_StopAbortsPending(t *testing.T) {
	c, _ := newTestCoordinator(&fakeTarget{total: 2}, 0, time.Minute)
	pending, err := c.TriggerCheckpoint()
	require.NoError(t, err)

	c.Stop()
	c.Stop()

	_, err = pending.Wait(context.Background())
	require.True(t, ErrCheckpointCoordinatorStopped.Equal(err))
	_, err = c.TriggerCheckpoint()
	require.True(t, ErrCheckpointCoordinatorStopped.Equal(err))
}

// TestCheckpointCoordinator_NoTasks verifies an empty job completes immediately
func TestCheckpointCoordinator_NoTasks(t *testing.T) {
	target := &fakeTarget{}
	c, _ := newTestCoordinator(target, 0, time.Minute)
	defer c.Stop()

	pending, err := c.TriggerCheckpoint()
	require.NoError(t, err)
	completed, err := pending.Wait(context.Background())
	require.NoError(t, err)
	require.Empty(t, completed.Snapshots)
	require.Empty(t, target.injectedIDs())
}

// reentrantTarget consults the coordinator while answering TotalTasks, the
// way a job holding its own lock may.
type reentrantTarget struct {
	fakeTarget
	coordinator *CheckpointCoordinator
}

func (r *reentrantTarget) TotalTasks() int {
	r.coordinator.PendingCount()
	return r.total
}

// TestCheckpointCoordinator_TriggerDoesNotHoldLockOnTarget verifies lock order
// Given: a target whose TotalTasks calls back into the coordinator
// When: a checkpoint is triggered
// Then: the trigger returns instead of deadlocking
func TestCheckpointCoordinator_TriggerDoesNotHoldLockOnTarget(t *testing.T) {
	// Arrange
	target := &reentrantTarget{fakeTarget: fakeTarget{total: 1}}
	c, _ := newTestCoordinator(target, 0, time.Minute)
	target.coordinator = c
	defer c.Stop()

	// Act
	done := make(chan error, 1)
	go func() {
		_, err := c.TriggerCheckpoint()
		done <- err
	}()

	// Assert
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("TriggerCheckpoint blocked on the coordinator lock")
	}
	require.Equal(t, 1, c.PendingCount())
	require.Equal(t, []int64{1}, target.injectedIDs())
}
