package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	streamrunner "github.com/Swind/go-stream-runner"
	"github.com/benbjohnson/clock"
	"github.com/pingcap/errors"
)

var sentences = []string{
	"the quick brown fox jumps over the lazy dog",
	"the lazy cat sleeps in the sun",
	"a quick brown rabbit hops away",
}

// SentenceSource emits random sentences, one per interval.
type SentenceSource struct {
	limit    int64
	interval time.Duration
	clock    clock.Clock
	rnd      *rand.Rand

	emitted int64
	ticker  *clock.Ticker
}

// NewSentenceSource creates a source emitting limit sentences, or an
// unbounded stream when limit is 0.
func NewSentenceSource(seed uint64, limit int64, interval time.Duration, clk clock.Clock) *SentenceSource {
	if clk == nil {
		clk = clock.New()
	}
	return &SentenceSource{
		limit:    limit,
		interval: interval,
		clock:    clk,
		rnd:      rand.New(rand.NewPCG(seed, 0)),
	}
}

func (s *SentenceSource) Next(ctx context.Context, out streamrunner.Collector) (bool, error) {
	if s.limit > 0 && s.emitted >= s.limit {
		if s.ticker != nil {
			s.ticker.Stop()
			s.ticker = nil
		}
		return false, nil
	}
	if s.interval > 0 {
		if s.ticker == nil {
			s.ticker = s.clock.Ticker(s.interval)
		}
		select {
		case <-ctx.Done():
			return false, errors.Trace(ctx.Err())
		case <-s.ticker.C:
		}
	}
	if err := out.Collect(ctx, sentences[s.rnd.IntN(len(sentences))]); err != nil {
		return false, err
	}
	s.emitted++
	return true, nil
}

func (s *SentenceSource) InitializeState(state map[string]any) {
	if v, ok := state["emitted"].(int64); ok {
		s.emitted = v
	}
}

func (s *SentenceSource) SnapshotState() map[string]any {
	return map[string]any{"emitted": s.emitted}
}

// Splitter lower-cases a sentence and emits its words.
type Splitter struct{}

func (Splitter) Process(ctx context.Context, record any, out streamrunner.Collector) error {
	sentence, ok := record.(string)
	if !ok {
		return errors.Errorf("splitter expects a string, got %T", record)
	}
	for _, word := range strings.Fields(strings.ToLower(sentence)) {
		if err := out.Collect(ctx, word); err != nil {
			return err
		}
	}
	return nil
}

// WordCounter keeps a running count per word and emits "word: count".
type WordCounter struct {
	counts map[string]any
}

func (c *WordCounter) InitializeState(state map[string]any) {
	c.counts = maps.Clone(state)
	if c.counts == nil {
		c.counts = make(map[string]any)
	}
}

func (c *WordCounter) SnapshotState() map[string]any {
	return maps.Clone(c.counts)
}

func (c *WordCounter) Process(ctx context.Context, record any, out streamrunner.Collector) error {
	word, ok := record.(string)
	if !ok {
		return errors.Errorf("word counter expects a string, got %T", record)
	}
	count, _ := c.counts[word].(int)
	count++
	c.counts[word] = count
	return out.Collect(ctx, fmt.Sprintf("%s: %d", word, count))
}

// ConsoleSink prints every record.
type ConsoleSink struct {
	mu      sync.Mutex
	w       io.Writer
	printed int
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

func (s *ConsoleSink) Invoke(ctx context.Context, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "Sink > %v\n", record); err != nil {
		return errors.Trace(err)
	}
	s.printed++
	return nil
}

func (s *ConsoleSink) InitializeState(state map[string]any) {}

func (s *ConsoleSink) SnapshotState() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{"printed": s.printed}
}

// jobOptions shape the word-count graph.
type jobOptions struct {
	sentences int64
	interval  time.Duration
	splitters int
	counters  int
	seed      uint64
}

// buildWordCountGraph builds SentenceSource -> Splitter -> WordCounter -> ConsoleSink.
func buildWordCountGraph(o jobOptions, out io.Writer) (*streamrunner.JobGraph, error) {
	source, err := streamrunner.NewJobVertex("SentenceSource", func(i int) any {
		return NewSentenceSource(o.seed+uint64(i), o.sentences, o.interval, nil)
	}, 1)
	if err != nil {
		return nil, err
	}
	splitter, err := streamrunner.NewJobVertex("Splitter", func(int) any { return Splitter{} }, o.splitters)
	if err != nil {
		return nil, err
	}
	counter, err := streamrunner.NewJobVertex("WordCounter", func(int) any { return &WordCounter{} }, o.counters)
	if err != nil {
		return nil, err
	}
	sink := NewConsoleSink(out)
	printer, err := streamrunner.NewJobVertex("ConsoleSink", func(int) any { return sink }, 1)
	if err != nil {
		return nil, err
	}

	graph := streamrunner.NewJobGraph("WordCount Job")
	graph.AddVertex(source)
	graph.AddVertex(splitter)
	graph.AddVertex(counter)
	graph.AddVertex(printer)
	graph.AddEdge(source, splitter)
	graph.AddEdge(splitter, counter)
	graph.AddEdge(counter, printer)
	return graph, nil
}
