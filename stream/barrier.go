package stream

import "fmt"

// CheckpointBarrier marks a consistent cut in a stream. Barriers travel
// through DataChannels in-line with records.
type CheckpointBarrier struct {
	CheckpointID int64
}

func (b CheckpointBarrier) String() string {
	return fmt.Sprintf("barrier(%d)", b.CheckpointID)
}

// Element is a single entry of a DataChannel: either a record or a barrier.
type Element struct {
	record  any
	barrier *CheckpointBarrier
}

// RecordElement wraps a user record.
func RecordElement(record any) Element {
	return Element{record: record}
}

// BarrierElement wraps a checkpoint barrier.
func BarrierElement(barrier CheckpointBarrier) Element {
	return Element{barrier: &barrier}
}

func (e Element) IsBarrier() bool { return e.barrier != nil }

// Record returns the wrapped record. It is nil for barriers.
func (e Element) Record() any { return e.record }

// Barrier returns the wrapped barrier. It is the zero barrier for records.
func (e Element) Barrier() CheckpointBarrier {
	if e.barrier == nil {
		return CheckpointBarrier{}
	}
	return *e.barrier
}
