package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/Swind/go-stream-runner/core"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// CheckpointResponder receives the snapshot of a task once it has taken part
// in a checkpoint.
type CheckpointResponder interface {
	AcknowledgeCheckpoint(checkpointID int64, taskName string, snapshot map[string]any)
}

// LogicTask runs one instance of user logic: a source, an operator or a sink.
//
// Sources emit one record per quantum and take part in checkpoints through
// TriggerCheckpoint. Operators and sinks consume one element per quantum and
// take part in checkpoints when a barrier arrives on any input; the first
// barrier of a checkpoint wins and later copies are dropped.
type LogicTask struct {
	*StreamTask

	logic     Logic
	input     *InputGate
	outputs   []*DataChannel
	collector *broadcastCollector
	responder CheckpointResponder
	logger    core.Logger

	// Held for reading while user logic runs and for writing while its state
	// is copied out.
	stateLock sync.RWMutex

	lastCheckpointID atomic.Int64
	processed        atomic.Int64
	exhausted        atomic.Bool
}

// NewLogicTask creates the task for one logic instance. input may be nil for
// sources and outputs may be empty for sinks.
func NewLogicTask(
	name string,
	logic Logic,
	input *InputGate,
	outputs []*DataChannel,
	responder CheckpointResponder,
	opts ...TaskOption,
) *LogicTask {
	if input == nil {
		input = NewInputGate()
	}
	o := taskOptions{logger: core.NewNoOpLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	t := &LogicTask{
		logic:     logic,
		input:     input,
		outputs:   outputs,
		collector: &broadcastCollector{outputs: outputs},
		responder: responder,
		logger:    o.logger,
	}
	t.StreamTask = NewStreamTask(name, t, opts...)

	if stateful, ok := logic.Stateful(); ok {
		stateful.InitializeState(map[string]any{})
	}
	return t
}

// RunDefaultAction implements Invokable.
func (t *LogicTask) RunDefaultAction(ctx context.Context, controller core.Controller) error {
	if t.logic.Kind() == LogicSource {
		return t.runSource(ctx, controller)
	}
	return t.runInput(ctx, controller)
}

func (t *LogicTask) runSource(ctx context.Context, controller core.Controller) error {
	t.stateLock.RLock()
	more, err := t.logic.Source().Next(ctx, t.collector)
	t.stateLock.RUnlock()
	if err != nil {
		return errors.Trace(err)
	}
	if !more {
		// Nothing resumes an exhausted source; the task now only serves
		// control mail such as checkpoints.
		t.exhausted.Store(true)
		controller.SuspendDefaultAction()
		t.logger.Info("Source exhausted", core.F("task", t.Name()))
		return nil
	}
	t.processed.Inc()
	return nil
}

func (t *LogicTask) runInput(ctx context.Context, controller core.Controller) error {
	elem, ok := t.input.Poll()
	if !ok {
		controller.SuspendDefaultAction()
		t.input.OnAvailable(t.ResumeDefaultAction)
		return nil
	}

	if elem.IsBarrier() {
		t.onBarrier(elem.Barrier())
		return nil
	}

	t.stateLock.RLock()
	var err error
	switch t.logic.Kind() {
	case LogicOperator:
		err = t.logic.Operator().Process(ctx, elem.Record(), t.collector)
	case LogicSink:
		err = t.logic.Sink().Invoke(ctx, elem.Record())
	}
	t.stateLock.RUnlock()
	if err != nil {
		return errors.Trace(err)
	}
	t.processed.Inc()
	return nil
}

func (t *LogicTask) onBarrier(barrier CheckpointBarrier) {
	id := barrier.CheckpointID
	if id <= t.lastCheckpointID.Load() {
		t.logger.Debug("Dropping stale barrier",
			core.F("task", t.Name()), core.F("checkpoint-id", id))
		return
	}
	t.lastCheckpointID.Store(id)
	t.ControlMailboxExecutor().Execute(func(ctx context.Context) error {
		return t.PerformCheckpoint(ctx, id)
	}, fmt.Sprintf("checkpoint %d (barrier)", id))
}

// PerformCheckpoint implements Invokable: it copies the logic state,
// acknowledges it and forwards the barrier to every output behind the
// records already emitted.
func (t *LogicTask) PerformCheckpoint(ctx context.Context, checkpointID int64) error {
	if checkpointID > t.lastCheckpointID.Load() {
		t.lastCheckpointID.Store(checkpointID)
	}

	t.stateLock.Lock()
	snapshot := t.logic.snapshot()
	t.stateLock.Unlock()

	if t.responder != nil {
		t.responder.AcknowledgeCheckpoint(checkpointID, t.Name(), snapshot)
	}

	barrier := CheckpointBarrier{CheckpointID: checkpointID}
	for _, out := range t.outputs {
		if err := out.BroadcastBarrier(ctx, barrier); err != nil {
			return errors.Annotatef(err, "forward %s to %s", barrier, out.Name())
		}
	}
	t.logger.Debug("Checkpoint performed",
		core.F("task", t.Name()), core.F("checkpoint-id", checkpointID))
	return nil
}

// QueryState returns a copy of the logic state. It briefly pauses the
// task's processing.
func (t *LogicTask) QueryState() map[string]any {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()
	return t.logic.snapshot()
}

func (t *LogicTask) Logic() Logic            { return t.logic }
func (t *LogicTask) Outputs() []*DataChannel { return t.outputs }
func (t *LogicTask) RecordsProcessed() int64 { return t.processed.Load() }
func (t *LogicTask) RecordsEmitted() int64   { return t.collector.emitted.Load() }
func (t *LogicTask) LastCheckpointID() int64 { return t.lastCheckpointID.Load() }
func (t *LogicTask) Exhausted() bool         { return t.exhausted.Load() }
func (t *LogicTask) InputGate() *InputGate   { return t.input }

// Stats extends the mailbox counters with record counts.
func (t *LogicTask) Stats() core.TaskStats {
	stats := t.StreamTask.Stats()
	stats.RecordsProcessed = t.RecordsProcessed()
	stats.RecordsEmitted = t.RecordsEmitted()
	return stats
}

// broadcastCollector pushes every record to all outputs.
type broadcastCollector struct {
	outputs []*DataChannel
	emitted atomic.Int64
}

func (c *broadcastCollector) Collect(ctx context.Context, record any) error {
	for _, out := range c.outputs {
		if err := out.Push(ctx, record); err != nil {
			return errors.Annotatef(err, "emit to %s", out.Name())
		}
	}
	c.emitted.Inc()
	return nil
}
