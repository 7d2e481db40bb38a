package jobmanager

import (
	"maps"
	"sort"
	"sync"
	"time"
)

// CompletedCheckpoint is a checkpoint every task has acknowledged.
type CompletedCheckpoint struct {
	ID          int64
	TriggeredAt time.Time
	CompletedAt time.Time
	// Snapshots maps task name to the state that task acknowledged.
	Snapshots map[string]map[string]any
}

// Duration is the time between trigger and the last acknowledgement.
func (c *CompletedCheckpoint) Duration() time.Duration {
	return c.CompletedAt.Sub(c.TriggeredAt)
}

func cloneCompletedCheckpoint(c *CompletedCheckpoint) *CompletedCheckpoint {
	snapshots := make(map[string]map[string]any, len(c.Snapshots))
	for task, state := range c.Snapshots {
		snapshots[task] = maps.Clone(state)
	}
	return &CompletedCheckpoint{
		ID:          c.ID,
		TriggeredAt: c.TriggeredAt,
		CompletedAt: c.CompletedAt,
		Snapshots:   snapshots,
	}
}

// CheckpointStore keeps completed checkpoints.
type CheckpointStore interface {
	// Add stores a completed checkpoint, possibly evicting older ones.
	Add(checkpoint *CompletedCheckpoint)

	// Get returns the checkpoint with id, if it is still retained.
	Get(id int64) (*CompletedCheckpoint, bool)

	// Latest returns the most recent checkpoint.
	Latest() (*CompletedCheckpoint, bool)

	// List returns the retained checkpoints, oldest first.
	List() []*CompletedCheckpoint
}

// MemoryCheckpointStore retains the most recent completed checkpoints in
// memory. Callers get copies and may modify them freely.
type MemoryCheckpointStore struct {
	mu       sync.RWMutex
	retained int
	byID     map[int64]*CompletedCheckpoint
	ids      []int64
}

// NewMemoryCheckpointStore creates a store that keeps at most retained
// checkpoints. retained below 1 is raised to 1.
func NewMemoryCheckpointStore(retained int) *MemoryCheckpointStore {
	if retained < 1 {
		retained = 1
	}
	return &MemoryCheckpointStore{
		retained: retained,
		byID:     make(map[int64]*CompletedCheckpoint),
	}
}

func (s *MemoryCheckpointStore) Add(checkpoint *CompletedCheckpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[checkpoint.ID]; !ok {
		s.ids = append(s.ids, checkpoint.ID)
		sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })
	}
	s.byID[checkpoint.ID] = cloneCompletedCheckpoint(checkpoint)

	for len(s.ids) > s.retained {
		delete(s.byID, s.ids[0])
		s.ids = s.ids[1:]
	}
}

func (s *MemoryCheckpointStore) Get(id int64) (*CompletedCheckpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return cloneCompletedCheckpoint(c), true
}

func (s *MemoryCheckpointStore) Latest() (*CompletedCheckpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ids) == 0 {
		return nil, false
	}
	return cloneCompletedCheckpoint(s.byID[s.ids[len(s.ids)-1]]), true
}

func (s *MemoryCheckpointStore) List() []*CompletedCheckpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*CompletedCheckpoint, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, cloneCompletedCheckpoint(s.byID[id]))
	}
	return out
}
