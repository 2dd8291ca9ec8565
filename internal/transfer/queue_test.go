package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOWithinPriority(t *testing.T) {
	t.Parallel()

	q := newQueue()

	q.push("a", 0)
	q.push("b", 0)
	q.push("c", 0)

	for _, want := range []string{"a", "b", "c"} {
		id, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, want, id)
	}

	_, ok := q.pop()
	assert.False(t, ok)
}

func TestQueue_PriorityOverridesAge(t *testing.T) {
	t.Parallel()

	q := newQueue()

	q.push("old-low", 0)
	q.push("urgent", 5)
	q.push("new-low", 0)

	id, _ := q.pop()
	assert.Equal(t, "urgent", id)

	id, _ = q.pop()
	assert.Equal(t, "old-low", id)
}

func TestQueue_Remove(t *testing.T) {
	t.Parallel()

	q := newQueue()

	q.push("a", 0)
	q.push("b", 0)

	assert.True(t, q.remove("a"))
	assert.False(t, q.remove("a"))
	assert.Equal(t, 1, q.len())

	id, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "b", id)
}

func TestQueue_PushWakes(t *testing.T) {
	t.Parallel()

	q := newQueue()

	q.push("a", 0)

	select {
	case <-q.wakeCh():
	default:
		t.Fatal("push did not signal the wake channel")
	}
}

func TestJobStateTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, canTransition(StateQueued, StateActive))
	assert.True(t, canTransition(StateQueued, StateCancelled))
	assert.True(t, canTransition(StateActive, StatePaused))
	assert.True(t, canTransition(StatePaused, StateActive))
	assert.True(t, canTransition(StateActive, StateCompleted))
	assert.True(t, canTransition(StateActive, StateFailed))

	assert.False(t, canTransition(StateQueued, StateCompleted))
	assert.False(t, canTransition(StateCompleted, StateActive))
	assert.False(t, canTransition(StatePaused, StateCompleted))
	assert.False(t, canTransition(StateCancelled, StateQueued))
}

func TestJobStateTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []JobState{StateCompleted, StateFailed, StateCancelled} {
		assert.True(t, s.Terminal(), string(s))
	}

	for _, s := range []JobState{StateQueued, StateActive, StatePaused} {
		assert.False(t, s.Terminal(), string(s))
	}
}
