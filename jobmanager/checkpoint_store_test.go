package jobmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func completedAt(id int64) *CompletedCheckpoint {
	now := time.Unix(1000, 0)
	return &CompletedCheckpoint{
		ID:          id,
		TriggeredAt: now,
		CompletedAt: now.Add(time.Duration(id) * time.Millisecond),
		Snapshots:   map[string]map[string]any{"task": {"id": id}},
	}
}

// TestMemoryCheckpointStore_Retention verifies bounded retention
// Given: a store retaining two checkpoints
// When: three checkpoints are added
// Then: the oldest one is evicted and the newest is the latest
func TestMemoryCheckpointStore_Retention(t *testing.T) {
	store := NewMemoryCheckpointStore(2)

	store.Add(completedAt(1))
	store.Add(completedAt(2))
	store.Add(completedAt(3))

	_, ok := store.Get(1)
	require.False(t, ok)
	latest, ok := store.Latest()
	require.True(t, ok)
	require.Equal(t, int64(3), latest.ID)

	list := store.List()
	require.Len(t, list, 2)
	require.Equal(t, int64(2), list[0].ID)
	require.Equal(t, int64(3), list[1].ID)
}

// TestMemoryCheckpointStore_ReturnsCopies verifies callers cannot mutate stored state
func TestMemoryCheckpointStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryCheckpointStore(0)
	original := completedAt(1)
	store.Add(original)
	original.Snapshots["task"]["id"] = "mutated"

	got, ok := store.Get(1)
	require.True(t, ok)
	require.Equal(t, int64(1), got.Snapshots["task"]["id"])

	got.Snapshots["task"]["id"] = "mutated again"
	again, _ := store.Get(1)
	require.Equal(t, int64(1), again.Snapshots["task"]["id"])
	require.Equal(t, time.Millisecond, again.Duration())
}

// TestMemoryCheckpointStore_Empty verifies lookups on an empty store
func TestMemoryCheckpointStore_Empty(t *testing.T) {
	store := NewMemoryCheckpointStore(3)
	_, ok := store.Latest()
	require.False(t, ok)
	require.Empty(t, store.List())
}
