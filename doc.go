// Package streamrunner is a miniature stream-processing runtime built on a
// per-task mailbox.
//
// Every task runs on one dedicated goroutine, locked to its OS thread by
// the slot that runs it. Other goroutines never touch task state directly:
// they submit mail to the task's mailbox, and control mail (checkpoints,
// resumptions) always runs before the task's next unit of default work.
//
// # Quick Start
//
// Build a job graph from sources, operators and sinks, then run it on a
// LocalCluster:
//
//	cluster, err := streamrunner.NewLocalCluster(config.Default())
//	if err != nil {
//		return err
//	}
//	cluster.Start(ctx)
//	defer cluster.Shutdown()
//
//	graph := streamrunner.NewJobGraph("numbers")
//	source, _ := streamrunner.NewJobVertex("source", newSource, 1)
//	sink, _ := streamrunner.NewJobVertex("sink", newSink, 1)
//	graph.AddEdge(source, sink)
//
//	if err := cluster.SubmitJob(ctx, graph); err != nil {
//		return err
//	}
//
// # Key Concepts
//
// Mailbox: a priority queue of mail owned by one task. Control mail has a
// higher priority than default mail; within a priority, mail runs in
// submission order.
//
// Logic: the user code of a task, resolved once into a Source, an Operator
// or a Sink. Logic that also implements Stateful takes part in checkpoints.
//
// Checkpoint: the coordinator injects a barrier into every source. Each
// task snapshots its state when the first barrier reaches it, acknowledges,
// and forwards the barrier in-line with its records. A checkpoint completes
// when every task has acknowledged, or fails after a timeout.
//
// # Thread Safety
//
// Logic methods run on the owning task's goroutine only, so logic state
// needs no locks. Snapshots are taken under the task's state lock.
package streamrunner
