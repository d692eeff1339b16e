package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := newTaskQueue(8)

	require.NoError(t, q.Enqueue(taskRef{InstanceID: "i-1", TaskID: "a"}))
	require.NoError(t, q.Enqueue(taskRef{InstanceID: "i-1", TaskID: "b"}))
	require.NoError(t, q.Enqueue(taskRef{InstanceID: "i-2", TaskID: "a"}))

	assert.Equal(t, 3, q.Len())

	first, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, taskRef{InstanceID: "i-1", TaskID: "a"}, first)

	second, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, taskRef{InstanceID: "i-1", TaskID: "b"}, second)

	third, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, taskRef{InstanceID: "i-2", TaskID: "a"}, third)

	_, ok = q.Dequeue()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestTaskQueue_CapacityLimit(t *testing.T) {
	t.Parallel()

	q := newTaskQueue(2)

	require.NoError(t, q.Enqueue(taskRef{InstanceID: "i-1", TaskID: "a"}))
	require.NoError(t, q.Enqueue(taskRef{InstanceID: "i-1", TaskID: "b"}))

	err := q.Enqueue(taskRef{InstanceID: "i-1", TaskID: "c"})
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	// Draining one slot makes room again.
	_, ok := q.Dequeue()
	require.True(t, ok)
	require.NoError(t, q.Enqueue(taskRef{InstanceID: "i-1", TaskID: "c"}))
}

func TestTaskQueue_EnqueueAllAtomic(t *testing.T) {
	t.Parallel()

	q := newTaskQueue(3)

	require.NoError(t, q.Enqueue(taskRef{InstanceID: "i-1", TaskID: "a"}))

	refs := []taskRef{
		{InstanceID: "i-2", TaskID: "a"},
		{InstanceID: "i-2", TaskID: "b"},
		{InstanceID: "i-2", TaskID: "c"},
	}

	err := q.EnqueueAll(refs)
	require.ErrorIs(t, err, ErrQueueFull)
	// Nothing from the batch may have landed.
	assert.Equal(t, 1, q.Len())

	_, ok := q.Dequeue()
	require.True(t, ok)

	require.NoError(t, q.EnqueueAll(refs))
	assert.Equal(t, 3, q.Len())
}
