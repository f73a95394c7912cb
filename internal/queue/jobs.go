package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

var (
	// ErrClosed is returned by Dequeue once the queue is closed and drained.
	ErrClosed = errors.New("job queue closed")
	// ErrAlreadyQueued is returned by Enqueue for an id still waiting in the queue.
	ErrAlreadyQueued = errors.New("task already queued")
)

// JobQueue is an unbounded FIFO of task IDs. IDs rather than records are
// queued so workers always load the current state from the store.
type JobQueue struct {
	mu     sync.Mutex
	items  []string
	queued map[string]struct{}
	closed bool
	wake   chan struct{}
}

// NewJobQueue creates an empty open queue.
func NewJobQueue() *JobQueue {
	return &JobQueue{queued: make(map[string]struct{}), wake: make(chan struct{})}
}

// Enqueue appends id. It never blocks. It fails after Close, and with
// ErrAlreadyQueued while id has not been dequeued yet.
func (q *JobQueue) Enqueue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return task.ErrShuttingDown
	}
	if _, ok := q.queued[id]; ok {
		return ErrAlreadyQueued
	}
	q.queued[id] = struct{}{}
	q.items = append(q.items, id)
	q.broadcastLocked()
	return nil
}

// Dequeue pops the oldest id, waiting until one is available. It returns
// ctx.Err() when ctx ends and ErrClosed when the queue is closed and empty.
func (q *JobQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			delete(q.queued, id)
			q.mu.Unlock()
			return id, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", ErrClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wake:
		}
	}
}

// Close stops accepting new IDs. Queued IDs can still be dequeued.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

// Len reports the number of queued IDs.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the queued IDs in dispatch order.
func (q *JobQueue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.items))
	copy(out, q.items)
	return out
}

func (q *JobQueue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}
