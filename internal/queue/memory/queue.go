// Package memory provides the in-process crawl queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quantfeed/newswire/internal/metrics"
	"github.com/quantfeed/newswire/internal/newswire"
)

// ErrClosed is returned by Push after Close, and by Pop once the queue is
// closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory FIFO with context-aware operations. Push
// blocks while the queue is full; Pop blocks while it is empty.
//
// Close uses a signal channel rather than closing the task channel, so a
// late Push from a retrying worker returns ErrClosed instead of panicking.
type Queue struct {
	ch        chan newswire.CrawlTask
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue holding at most capacity tasks.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:   make(chan newswire.CrawlTask, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues a task, blocking until space frees up, the queue closes, or
// the context ends.
func (q *Queue) Push(ctx context.Context, task newswire.CrawlTask) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("push canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- task:
		metrics.SetQueueDepth(len(q.ch))
		return nil
	}
}

// Pop dequeues the next task, respecting context cancellation. Once the
// queue is closed and empty it returns ErrClosed so workers can exit.
func (q *Queue) Pop(ctx context.Context) (newswire.CrawlTask, error) {
	select {
	case <-ctx.Done():
		return newswire.CrawlTask{}, fmt.Errorf("pop canceled: %w", ctx.Err())
	case task := <-q.ch:
		metrics.SetQueueDepth(len(q.ch))
		return task, nil
	case <-q.done:
		// Closed: hand out whatever is still buffered before reporting
		// the close to the caller.
		select {
		case task := <-q.ch:
			metrics.SetQueueDepth(len(q.ch))
			return task, nil
		default:
			return newswire.CrawlTask{}, ErrClosed
		}
	}
}

// Len reports the number of tasks currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting tasks. Buffered tasks remain poppable until the
// queue drains. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
