// Package jobgraph describes a streaming job as a DAG of vertices connected
// by broadcast edges.
package jobgraph

import (
	"fmt"
	"slices"

	"github.com/Swind/go-stream-runner/core"
	"github.com/Swind/go-stream-runner/stream"
	"github.com/google/uuid"
)

// ErrInvalidJobGraph is returned by Validate and the graph builders.
var ErrInvalidJobGraph = core.ErrInvalidJobGraph

// LogicFactory creates the logic of one parallel instance. subtask is the
// zero-based instance index.
type LogicFactory func(subtask int) any

// JobVertex is one logical operation of a job. Each of its Parallelism
// instances owns a separate logic value.
type JobVertex struct {
	ID          uuid.UUID
	Name        string
	Parallelism int

	instances []stream.Logic
}

// NewJobVertex materialises parallelism logic instances from factory and
// resolves each of them once.
func NewJobVertex(name string, factory LogicFactory, parallelism int) (*JobVertex, error) {
	if parallelism < 1 {
		return nil, ErrInvalidJobGraph.GenWithStackByArgs(
			fmt.Sprintf("vertex %q has parallelism %d", name, parallelism))
	}
	if factory == nil {
		return nil, ErrInvalidJobGraph.GenWithStackByArgs(
			fmt.Sprintf("vertex %q has no logic factory", name))
	}

	v := &JobVertex{
		ID:          uuid.New(),
		Name:        name,
		Parallelism: parallelism,
		instances:   make([]stream.Logic, 0, parallelism),
	}
	for i := 0; i < parallelism; i++ {
		logic, err := stream.ResolveLogic(factory(i))
		if err != nil {
			return nil, err
		}
		if i > 0 && logic.Kind() != v.instances[0].Kind() {
			return nil, ErrInvalidJobGraph.GenWithStackByArgs(
				fmt.Sprintf("vertex %q mixes %s and %s instances", name, v.instances[0].Kind(), logic.Kind()))
		}
		v.instances = append(v.instances, logic)
	}
	return v, nil
}

// Kind is the capability shared by all instances.
func (v *JobVertex) Kind() stream.LogicKind { return v.instances[0].Kind() }

// Instance returns the logic of subtask i.
func (v *JobVertex) Instance(i int) stream.Logic { return v.instances[i] }

// TaskName is the display name of instance i, e.g. "Splitter (2/4)".
func (v *JobVertex) TaskName(i int) string {
	return fmt.Sprintf("%s (%d/%d)", v.Name, i+1, v.Parallelism)
}

// JobEdge connects every instance of Source to every instance of Target.
type JobEdge struct {
	Source uuid.UUID
	Target uuid.UUID
}

// JobGraph is a DAG of vertices. It must not be modified once submitted.
type JobGraph struct {
	ID   uuid.UUID
	Name string

	vertices map[uuid.UUID]*JobVertex
	order    []uuid.UUID
	edges    []JobEdge
}

// NewJobGraph creates an empty graph.
func NewJobGraph(name string) *JobGraph {
	return &JobGraph{
		ID:       uuid.New(),
		Name:     name,
		vertices: make(map[uuid.UUID]*JobVertex),
	}
}

// AddVertex adds v. Adding the same vertex twice is a no-op.
func (g *JobGraph) AddVertex(v *JobVertex) {
	if _, ok := g.vertices[v.ID]; ok {
		return
	}
	g.vertices[v.ID] = v
	g.order = append(g.order, v.ID)
}

// AddEdge connects source to target. Unknown vertices and duplicate edges are
// reported by Validate.
func (g *JobGraph) AddEdge(source, target *JobVertex) {
	g.edges = append(g.edges, JobEdge{Source: source.ID, Target: target.ID})
}

// Vertices returns the vertices in insertion order.
func (g *JobGraph) Vertices() []*JobVertex {
	out := make([]*JobVertex, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.vertices[id])
	}
	return out
}

// Vertex returns the vertex with id, or nil.
func (g *JobGraph) Vertex(id uuid.UUID) *JobVertex {
	return g.vertices[id]
}

// Edges returns a copy of the edge list.
func (g *JobGraph) Edges() []JobEdge {
	return slices.Clone(g.edges)
}

// DownstreamIDs returns the direct successors of id in edge order.
func (g *JobGraph) DownstreamIDs(id uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, e := range g.edges {
		if e.Source == id {
			out = append(out, e.Target)
		}
	}
	return out
}

// UpstreamIDs returns the direct predecessors of id in edge order.
func (g *JobGraph) UpstreamIDs(id uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, e := range g.edges {
		if e.Target == id {
			out = append(out, e.Source)
		}
	}
	return out
}

// Sources returns the vertices without incoming edges, in insertion order.
func (g *JobGraph) Sources() []*JobVertex {
	var out []*JobVertex
	for _, id := range g.order {
		if len(g.UpstreamIDs(id)) == 0 {
			out = append(out, g.vertices[id])
		}
	}
	return out
}

// TotalTasks is the number of task instances a deployment creates.
func (g *JobGraph) TotalTasks() int {
	n := 0
	for _, v := range g.vertices {
		n += v.Parallelism
	}
	return n
}

// Validate checks that the graph can be deployed:
//   - it has at least one vertex;
//   - vertex names are unique, so every task name is;
//   - every edge connects known vertices, without self loops or duplicates;
//   - vertices without inputs are sources, and sources have no inputs;
//   - sinks have no outputs;
//   - the graph is acyclic.
func (g *JobGraph) Validate() error {
	if len(g.vertices) == 0 {
		return ErrInvalidJobGraph.GenWithStackByArgs("graph has no vertices")
	}

	names := make(map[string]struct{}, len(g.vertices))
	for _, id := range g.order {
		name := g.vertices[id].Name
		if _, dup := names[name]; dup {
			return ErrInvalidJobGraph.GenWithStackByArgs(
				fmt.Sprintf("duplicate vertex name %q", name))
		}
		names[name] = struct{}{}
	}

	seen := make(map[JobEdge]struct{}, len(g.edges))
	for _, e := range g.edges {
		src, dst := g.vertices[e.Source], g.vertices[e.Target]
		if src == nil || dst == nil {
			return ErrInvalidJobGraph.GenWithStackByArgs(
				fmt.Sprintf("edge %s -> %s references an unknown vertex", e.Source, e.Target))
		}
		if e.Source == e.Target {
			return ErrInvalidJobGraph.GenWithStackByArgs(
				fmt.Sprintf("vertex %q is connected to itself", src.Name))
		}
		if _, dup := seen[e]; dup {
			return ErrInvalidJobGraph.GenWithStackByArgs(
				fmt.Sprintf("duplicate edge %q -> %q", src.Name, dst.Name))
		}
		seen[e] = struct{}{}
		if dst.Kind() == stream.LogicSource {
			return ErrInvalidJobGraph.GenWithStackByArgs(
				fmt.Sprintf("source %q has an input from %q", dst.Name, src.Name))
		}
		if src.Kind() == stream.LogicSink {
			return ErrInvalidJobGraph.GenWithStackByArgs(
				fmt.Sprintf("sink %q has an output to %q", src.Name, dst.Name))
		}
	}

	for _, id := range g.order {
		v := g.vertices[id]
		if v.Kind() != stream.LogicSource && len(g.UpstreamIDs(id)) == 0 {
			return ErrInvalidJobGraph.GenWithStackByArgs(
				fmt.Sprintf("%s %q has no input", v.Kind(), v.Name))
		}
	}

	return g.checkAcyclic()
}

// checkAcyclic runs Kahn's algorithm over the edge list.
func (g *JobGraph) checkAcyclic() error {
	indegree := make(map[uuid.UUID]int, len(g.vertices))
	for _, e := range g.edges {
		indegree[e.Target]++
	}
	var ready []uuid.UUID
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	visited := 0
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		visited++
		for _, next := range g.DownstreamIDs(id) {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if visited != len(g.vertices) {
		return ErrInvalidJobGraph.GenWithStackByArgs("graph contains a cycle")
	}
	return nil
}
