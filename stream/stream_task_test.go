package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Swind/go-stream-runner/core"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// fakeInvokable suspends after every quantum and records checkpoint calls.
type fakeInvokable struct {
	quanta       atomic.Int64
	checkpointed chan core.OwnerToken
	failWith     error
}

func newFakeInvokable() *fakeInvokable {
	return &fakeInvokable{checkpointed: make(chan core.OwnerToken, 4)}
}

func (f *fakeInvokable) RunDefaultAction(ctx context.Context, c core.Controller) error {
	f.quanta.Inc()
	if f.failWith != nil {
		return f.failWith
	}
	c.SuspendDefaultAction()
	return nil
}

func (f *fakeInvokable) PerformCheckpoint(ctx context.Context, checkpointID int64) error {
	f.checkpointed <- core.OwnerFromContext(ctx)
	return nil
}

func invokeAsync(task *StreamTask, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- task.Invoke(ctx) }()
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("task did not exit")
		return nil
	}
}

// TestStreamTask_Lifecycle verifies state transitions
// Given: a constructed task
// When: it is invoked and later closed
// Then: it moves from constructed to running to closed and Invoke returns nil
func TestStreamTask_Lifecycle(t *testing.T) {
	impl := newFakeInvokable()
	task := NewStreamTask("lifecycle", impl)
	require.Equal(t, TaskConstructed, task.State())

	done := invokeAsync(task, context.Background())
	require.Eventually(t, func() bool { return task.State() == TaskRunning }, time.Second, 5*time.Millisecond)

	task.Close()

	require.NoError(t, waitErr(t, done))
	require.Equal(t, TaskClosed, task.State())
	require.Equal(t, core.MailboxClosed, task.Mailbox().State())
}

// TestStreamTask_InvokeTwice verifies a task runs at most once
func TestStreamTask_InvokeTwice(t *testing.T) {
	task := NewStreamTask("twice", newFakeInvokable())
	done := invokeAsync(task, context.Background())
	require.Eventually(t, func() bool { return task.State() == TaskRunning }, time.Second, 5*time.Millisecond)

	err := task.Invoke(context.Background())
	require.True(t, ErrTaskAlreadyInvoked.Equal(err))

	task.Close()
	require.NoError(t, waitErr(t, done))

	err = task.Invoke(context.Background())
	require.True(t, ErrTaskAlreadyInvoked.Equal(err))
}

// TestStreamTask_CancelIsCleanExit verifies context cancellation
// Given: a running task blocked waiting for mail
// When: its context is cancelled
// Then: Invoke returns nil and the mailbox is closed
func TestStreamTask_CancelIsCleanExit(t *testing.T) {
	impl := newFakeInvokable()
	task := NewStreamTask("cancel", impl)
	ctx, cancel := context.WithCancel(context.Background())

	done := invokeAsync(task, ctx)
	require.Eventually(t, func() bool { return impl.quanta.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	require.NoError(t, waitErr(t, done))
	require.Equal(t, core.MailboxClosed, task.Mailbox().State())
}

// TestStreamTask_FailurePropagates verifies a failing quantum ends the task
// Given: an invokable whose default action fails
// When: the task runs
// Then: Invoke returns the error and the mailbox is closed
func TestStreamTask_FailurePropagates(t *testing.T) {
	impl := newFakeInvokable()
	impl.failWith = errors.New("bad record")
	task := NewStreamTask("failing", impl)

	err := task.Invoke(context.Background())

	require.Error(t, err)
	require.Contains(t, err.Error(), "bad record")
	require.Equal(t, core.MailboxClosed, task.Mailbox().State())
	require.Equal(t, TaskClosed, task.State())

	// Mail submitted after the failure is dropped.
	task.TriggerCheckpoint(1)
	require.False(t, task.Mailbox().HasMail())
}

// TestStreamTask_TriggerCheckpointRunsOnOwner verifies checkpoint mail affinity
// Given: a running task
// When: a checkpoint is triggered from the test goroutine
// Then: PerformCheckpoint runs with the task's owner token in its context
func TestStreamTask_TriggerCheckpointRunsOnOwner(t *testing.T) {
	impl := newFakeInvokable()
	task := NewStreamTask("checkpoint", impl)
	done := invokeAsync(task, context.Background())

	task.TriggerCheckpoint(1)

	select {
	case owner := <-impl.checkpointed:
		require.Equal(t, task.Owner(), owner)
	case <-time.After(time.Second):
		t.Fatal("checkpoint mail did not run")
	}

	records := task.RecentMails(0)
	require.NotEmpty(t, records)
	require.Equal(t, "checkpoint 1", records[0].Description)
	require.Equal(t, core.ControlPriority, records[0].Priority)

	task.Close()
	require.NoError(t, waitErr(t, done))
}

// TestStreamTask_ResumeFromOtherGoroutine verifies cross-goroutine resumption
func TestStreamTask_ResumeFromOtherGoroutine(t *testing.T) {
	impl := newFakeInvokable()
	task := NewStreamTask("resume", impl)
	done := invokeAsync(task, context.Background())
	require.Eventually(t, func() bool { return impl.quanta.Load() == 1 }, time.Second, 5*time.Millisecond)

	go task.ResumeDefaultAction()

	require.Eventually(t, func() bool { return impl.quanta.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return task.Stats().Suspensions == 2 }, time.Second, 5*time.Millisecond)

	task.Close()
	require.NoError(t, waitErr(t, done))
}
