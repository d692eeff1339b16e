package workflow

import (
	"errors"
	"sync"
)

// ErrQueueFull is returned when enqueueing would exceed the queue capacity.
var ErrQueueFull = errors.New("task queue is full")

// taskRef points at one task of one instance. Tasks are queued by reference
// so retries observe the latest task state at dequeue time.
type taskRef struct {
	InstanceID string
	TaskID     string // raw (non-namespaced) task id
}

// taskQueue is the shared FIFO queue the processing loop drains, one entry
// per tick.
type taskQueue struct {
	mu       sync.Mutex
	items    []taskRef
	capacity int
}

func newTaskQueue(capacity int) *taskQueue {
	return &taskQueue{capacity: capacity}
}

// Enqueue appends one reference at the tail.
func (q *taskQueue) Enqueue(ref taskRef) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}

	q.items = append(q.items, ref)

	return nil
}

// EnqueueAll appends every reference, or none when they would not all fit.
func (q *taskQueue) EnqueueAll(refs []taskRef) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items)+len(refs) > q.capacity {
		return ErrQueueFull
	}

	q.items = append(q.items, refs...)

	return nil
}

// Dequeue pops the head, reporting false when the queue is empty.
func (q *taskQueue) Dequeue() (taskRef, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return taskRef{}, false
	}

	head := q.items[0]
	q.items = q.items[1:]

	return head, true
}

func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
