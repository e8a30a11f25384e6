// Package memory provides the bounded in-process task queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arkivist/mediavault/internal/vault"
)

// ErrClosed is returned by Dequeue once the queue is drained after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory FIFO queue with context-aware operations.
type Queue struct {
	ch      chan vault.TaskItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan vault.TaskItem, capacity),
	}
}

// Enqueue pushes a task into the queue or returns if the context ends.
// A full queue blocks the caller, which is how submission backpressure
// reaches the API layer.
func (q *Queue) Enqueue(ctx context.Context, item vault.TaskItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// TryEnqueue pushes a task without blocking; it reports false when the
// queue is at capacity so callers can reject instead of queueing forever.
func (q *Queue) TryEnqueue(item vault.TaskItem) bool {
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Dequeue pops the next task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (vault.TaskItem, error) {
	select {
	case <-ctx.Done():
		return vault.TaskItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return vault.TaskItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports the current backlog.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
