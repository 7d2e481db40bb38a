package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMailQueue_Stability verifies priority-based mail ordering
// Given: a mail queue with mixed-priority mail
// When: mail is popped with the most permissive threshold
// Then: control mail comes first, and equal-priority mail keeps FIFO order
func TestMailQueue_Stability(t *testing.T) {
	// Arrange
	q := newMailQueue()
	q.push(NewMail(nil, DefaultPriority, "d1"))
	q.push(NewMail(nil, ControlPriority, "c1"))
	q.push(NewMail(nil, DefaultPriority, "d2"))
	q.push(NewMail(nil, ControlPriority, "c2"))
	q.push(NewMail(nil, DefaultPriority, "d3"))

	// Act
	var got []string
	for {
		mail, ok := q.popUpTo(DefaultPriority)
		if !ok {
			break
		}
		got = append(got, mail.Description())
	}

	// Assert
	require.Equal(t, []string{"c1", "c2", "d1", "d2", "d3"}, got)
}

// TestMailQueue_PopUpToThreshold verifies the priority filter
// Given: a queue holding only default-priority mail
// When: popUpTo is called with the control threshold
// Then: nothing is returned and the mail stays queued
func TestMailQueue_PopUpToThreshold(t *testing.T) {
	q := newMailQueue()
	q.push(NewMail(nil, DefaultPriority, "d1"))

	_, ok := q.popUpTo(ControlPriority)
	require.False(t, ok)
	require.Equal(t, 1, q.len())

	mail, ok := q.popUpTo(DefaultPriority)
	require.True(t, ok)
	require.Equal(t, "d1", mail.Description())
}

// TestMailQueue_SequenceSurvivesClear verifies sequences stay monotonic
// Given: a queue that was cleared after two pushes
// When: another mail is pushed
// Then: its sequence continues from the previous counter
func TestMailQueue_SequenceSurvivesClear(t *testing.T) {
	q := newMailQueue()
	q.push(NewMail(nil, DefaultPriority, "a"))
	q.push(NewMail(nil, DefaultPriority, "b"))
	q.clear()

	m := NewMail(nil, DefaultPriority, "c")
	q.push(m)

	require.Equal(t, uint64(2), m.Sequence())
	require.Equal(t, 1, q.len())
}

// TestMailQueue_Compaction verifies capacity shrinks after a burst
func TestMailQueue_Compaction(t *testing.T) {
	q := newMailQueue()
	for i := 0; i < 256; i++ {
		q.push(NewMail(nil, DefaultPriority, "burst"))
	}
	for i := 0; i < 250; i++ {
		_, ok := q.popUpTo(DefaultPriority)
		require.True(t, ok)
	}

	require.Equal(t, 6, q.len())
	require.Less(t, cap(q.pq), 256)
}
