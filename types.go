package streamrunner

import (
	"github.com/Swind/go-stream-runner/jobgraph"
	"github.com/Swind/go-stream-runner/jobmanager"
	"github.com/Swind/go-stream-runner/stream"
)

// Re-export commonly used types so that most jobs only import this package.

// Collector receives records emitted by logic.
type Collector = stream.Collector

// Source produces records.
type Source = stream.Source

// Operator transforms records.
type Operator = stream.Operator

// Sink consumes records.
type Sink = stream.Sink

// Stateful logic takes part in checkpoints.
type Stateful = stream.Stateful

type (
	SourceFunc   = stream.SourceFunc
	OperatorFunc = stream.OperatorFunc
	SinkFunc     = stream.SinkFunc
)

// JobGraph is the logical description of a job.
type JobGraph = jobgraph.JobGraph

// JobVertex is one logical operator of a job with its parallelism.
type JobVertex = jobgraph.JobVertex

// LogicFactory creates the logic of one vertex instance.
type LogicFactory = jobgraph.LogicFactory

// CompletedCheckpoint is a checkpoint every task acknowledged.
type CompletedCheckpoint = jobmanager.CompletedCheckpoint

// PendingCheckpoint is a checkpoint waiting for acknowledgements.
type PendingCheckpoint = jobmanager.PendingCheckpoint

var (
	NewJobGraph  = jobgraph.NewJobGraph
	NewJobVertex = jobgraph.NewJobVertex
)
