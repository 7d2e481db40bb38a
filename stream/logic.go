package stream

import (
	"context"
	"maps"
)

// Collector receives the records a logic instance emits.
type Collector interface {
	Collect(ctx context.Context, record any) error
}

// Source produces records. Next emits at most one record and returns false
// once the source is exhausted.
type Source interface {
	Next(ctx context.Context, out Collector) (bool, error)
}

// Operator transforms one input record into zero or more output records.
type Operator interface {
	Process(ctx context.Context, record any, out Collector) error
}

// Sink consumes records without emitting any.
type Sink interface {
	Invoke(ctx context.Context, record any) error
}

// Stateful logic takes part in checkpoints.
type Stateful interface {
	InitializeState(state map[string]any)
	SnapshotState() map[string]any
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, out Collector) (bool, error)

func (f SourceFunc) Next(ctx context.Context, out Collector) (bool, error) { return f(ctx, out) }

// OperatorFunc adapts a function to Operator.
type OperatorFunc func(ctx context.Context, record any, out Collector) error

func (f OperatorFunc) Process(ctx context.Context, record any, out Collector) error {
	return f(ctx, record, out)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, record any) error

func (f SinkFunc) Invoke(ctx context.Context, record any) error { return f(ctx, record) }

// LogicKind tags the capability a Logic resolved to.
type LogicKind int

const (
	LogicSource LogicKind = iota + 1
	LogicOperator
	LogicSink
)

func (k LogicKind) String() string {
	switch k {
	case LogicSource:
		return "source"
	case LogicOperator:
		return "operator"
	case LogicSink:
		return "sink"
	default:
		return "unknown"
	}
}

// Logic is user logic resolved once into exactly one capability.
// A value implementing several capabilities resolves to the first of
// Source, Operator, Sink.
type Logic struct {
	kind     LogicKind
	value    any
	source   Source
	operator Operator
	sink     Sink
	stateful Stateful
}

// ResolveLogic classifies v. It fails with ErrInvalidLogic when v implements
// none of Source, Operator or Sink.
func ResolveLogic(v any) (Logic, error) {
	l := Logic{value: v}
	switch impl := v.(type) {
	case Source:
		l.kind, l.source = LogicSource, impl
	case Operator:
		l.kind, l.operator = LogicOperator, impl
	case Sink:
		l.kind, l.sink = LogicSink, impl
	default:
		return Logic{}, ErrInvalidLogic.GenWithStackByArgs(v)
	}
	l.stateful, _ = v.(Stateful)
	return l, nil
}

func (l Logic) Kind() LogicKind    { return l.kind }
func (l Logic) Value() any         { return l.value }
func (l Logic) Source() Source     { return l.source }
func (l Logic) Operator() Operator { return l.operator }
func (l Logic) Sink() Sink         { return l.sink }

// Stateful returns the checkpointing capability, if any.
func (l Logic) Stateful() (Stateful, bool) { return l.stateful, l.stateful != nil }

// snapshot copies the logic state. Stateless logic snapshots as an empty map.
func (l Logic) snapshot() map[string]any {
	if l.stateful == nil {
		return map[string]any{}
	}
	state := l.stateful.SnapshotState()
	if state == nil {
		return map[string]any{}
	}
	return maps.Clone(state)
}
