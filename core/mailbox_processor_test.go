package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type processorHarness struct {
	mailbox   *TaskMailbox
	processor *MailboxProcessor
	ctx       context.Context
	done      chan error
}

func startProcessor(t *testing.T, name string, action DefaultAction) *processorHarness {
	t.Helper()
	owner := NewOwnerToken()
	h := &processorHarness{
		mailbox: NewTaskMailbox(name, owner),
		ctx:     WithOwner(context.Background(), owner),
		done:    make(chan error, 1),
	}
	h.processor = NewMailboxProcessor(h.mailbox, action)
	return h
}

func (h *processorHarness) run() {
	go func() { h.done <- h.processor.RunMailboxLoop(h.ctx) }()
}

func (h *processorHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("mailbox loop did not exit")
		return nil
	}
}

// suspendingAction suspends itself on every quantum.
func suspendingAction(quanta *atomic.Int64) DefaultActionFunc {
	return func(ctx context.Context, c Controller) error {
		quanta.Inc()
		c.SuspendDefaultAction()
		return nil
	}
}

// TestMailboxProcessor_ControlBeforeDefault verifies execution order
// Given: a suspended processor with a default mail, a control mail and another default mail queued
// When: the mailbox loop runs
// Then: the control mail runs first, then the default mails in submission order
func TestMailboxProcessor_ControlBeforeDefault(t *testing.T) {
	// Arrange
	var quanta atomic.Int64
	h := startProcessor(t, "order", suspendingAction(&quanta))

	var mu sync.Mutex
	var order []string
	record := func(name string) MailAction {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			if name == "d2" {
				h.mailbox.Close()
			}
			return nil
		}
	}
	h.processor.DefaultExecutor().Execute(record("d1"), "d1")
	h.processor.ControlExecutor().Execute(record("c1"), "c1")
	h.processor.DefaultExecutor().Execute(record("d2"), "d2")

	// Act
	h.run()
	err := h.wait(t)

	// Assert
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "d1", "d2"}, order)
}

// TestMailboxProcessor_ControlPreemptsQuanta verifies control mail drains between quanta
// Given: a running default action that never suspends
// When: a control mail is submitted
// Then: it runs before the next quantum starts
func TestMailboxProcessor_ControlPreemptsQuanta(t *testing.T) {
	var quanta atomic.Int64
	var seenAt atomic.Int64
	ran := make(chan struct{})

	h := startProcessor(t, "preempt", DefaultActionFunc(func(ctx context.Context, c Controller) error {
		quanta.Inc()
		time.Sleep(time.Millisecond)
		return nil
	}))
	h.run()

	time.Sleep(10 * time.Millisecond)
	h.processor.ControlExecutor().Execute(func(ctx context.Context) error {
		seenAt.Store(quanta.Load())
		close(ran)
		return nil
	}, "control")

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("control mail was starved by the default action")
	}

	h.mailbox.Close()
	require.NoError(t, h.wait(t))
	require.Greater(t, seenAt.Load(), int64(0))
}

// TestMailboxProcessor_SuspendAndResume verifies default action suspension
// Given: a default action that suspends itself after every quantum
// When: ResumeDefaultAction is called from another goroutine
// Then: exactly one more quantum runs per resumption
func TestMailboxProcessor_SuspendAndResume(t *testing.T) {
	var quanta atomic.Int64
	h := startProcessor(t, "resume", suspendingAction(&quanta))
	h.run()

	require.Eventually(t, func() bool { return quanta.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(1), quanta.Load())

	h.processor.ResumeDefaultAction()
	require.Eventually(t, func() bool { return quanta.Load() == 2 }, time.Second, 5*time.Millisecond)

	h.mailbox.Close()
	require.NoError(t, h.wait(t))
	require.Equal(t, int64(2), h.processor.Stats().Suspensions)
}

// TestMailboxProcessor_ConcurrentResumes verifies resumptions coalesce
// Given: a suspended default action
// When: many goroutines resume it at once
// Then: the loop keeps working and at least one more quantum runs
func TestMailboxProcessor_ConcurrentResumes(t *testing.T) {
	var quanta atomic.Int64
	h := startProcessor(t, "concurrent-resume", suspendingAction(&quanta))
	h.run()
	require.Eventually(t, func() bool { return quanta.Load() == 1 }, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.processor.ResumeDefaultAction()
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return quanta.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.LessOrEqual(t, quanta.Load(), int64(51))

	h.mailbox.Close()
	require.NoError(t, h.wait(t))
}

// TestMailboxProcessor_MailErrorTerminates verifies error propagation
// Given: a control mail whose action fails
// When: the loop executes it
// Then: RunMailboxLoop returns that error
func TestMailboxProcessor_MailErrorTerminates(t *testing.T) {
	var quanta atomic.Int64
	h := startProcessor(t, "failing", suspendingAction(&quanta))
	boom := errors.New("boom")

	h.processor.ControlExecutor().Execute(func(ctx context.Context) error {
		return boom
	}, "explode")
	h.run()

	err := h.wait(t)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	require.Contains(t, err.Error(), "explode")

	records := h.processor.RecentMails(1)
	require.Len(t, records, 1)
	require.True(t, records[0].Failed)
}

// TestMailboxProcessor_PanicBecomesError verifies panic conversion
// Given: a default action that panics
// When: the loop runs it
// Then: RunMailboxLoop returns ErrDefaultActionPanicked instead of crashing
func TestMailboxProcessor_PanicBecomesError(t *testing.T) {
	h := startProcessor(t, "panicking", DefaultActionFunc(func(ctx context.Context, c Controller) error {
		panic("kaboom")
	}))
	h.run()

	err := h.wait(t)
	require.True(t, ErrDefaultActionPanicked.Equal(err))
}

// TestMailboxProcessor_MailPanicBecomesError verifies mail panic conversion
func TestMailboxProcessor_MailPanicBecomesError(t *testing.T) {
	var quanta atomic.Int64
	h := startProcessor(t, "mail-panic", suspendingAction(&quanta))
	h.processor.DefaultExecutor().Execute(func(ctx context.Context) error {
		panic("kaboom")
	}, "bad mail")
	h.run()

	err := h.wait(t)
	require.True(t, ErrMailPanicked.Equal(err))

	records := h.processor.RecentMails(0)
	require.Len(t, records, 1)
	require.True(t, records[0].Panicked)
}

// TestMailboxProcessor_CloseExitsCleanly verifies normal termination
// Given: a suspended processor blocked in Take
// When: the mailbox is closed
// Then: RunMailboxLoop returns nil
func TestMailboxProcessor_CloseExitsCleanly(t *testing.T) {
	var quanta atomic.Int64
	h := startProcessor(t, "close", suspendingAction(&quanta))
	h.run()
	require.Eventually(t, func() bool { return quanta.Load() == 1 }, time.Second, 5*time.Millisecond)

	h.mailbox.Close()

	require.NoError(t, h.wait(t))
	require.Equal(t, "closed", h.processor.Stats().State)
}

// TestMailboxProcessor_Stats verifies counters and last mail bookkeeping
func TestMailboxProcessor_Stats(t *testing.T) {
	var quanta atomic.Int64
	h := startProcessor(t, "stats", suspendingAction(&quanta))
	h.processor.DefaultExecutor().Execute(func(ctx context.Context) error { return nil }, "first")
	h.processor.DefaultExecutor().Execute(func(ctx context.Context) error {
		h.mailbox.Close()
		return nil
	}, "last")
	h.run()
	require.NoError(t, h.wait(t))

	stats := h.processor.Stats()
	require.Equal(t, "stats", stats.Name)
	require.Equal(t, int64(2), stats.MailsExecuted)
	require.Equal(t, int64(1), stats.Quanta)
	require.Equal(t, "last", stats.LastMail)
	require.False(t, stats.LastMailAt.IsZero())
}
