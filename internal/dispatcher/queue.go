// Package dispatcher implements the Task Dispatcher (§4.3): a
// single-threaded cooperative loop that routes submitted tasks either to
// an explicitly pinned robot's queue or to the next robot that signals
// availability, plus one Task Worker goroutine per registered robot that
// drains its queue through the Task Engine.
package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"biopatrol/internal/task"
)

// taskQueue is a bounded, context-aware FIFO of tasks, grounded on the
// teacher's messaging.queue: a buffered channel guarded against
// send-after-close and blocking-with-cancellation on both ends.
type taskQueue struct {
	items  chan *task.Task
	closed atomic.Bool
}

func newTaskQueue(capacity int) *taskQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &taskQueue{items: make(chan *task.Task, capacity)}
}

func (q *taskQueue) enqueue(t *task.Task) error {
	if q.closed.Load() {
		return fmt.Errorf("dispatcher: queue is closed")
	}
	select {
	case q.items <- t:
		return nil
	default:
		return fmt.Errorf("dispatcher: queue is full")
	}
}

func (q *taskQueue) dequeue(ctx context.Context) (*task.Task, error) {
	select {
	case t, ok := <-q.items:
		if !ok {
			return nil, fmt.Errorf("dispatcher: queue is closed")
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *taskQueue) len() int {
	return len(q.items)
}

func (q *taskQueue) close() {
	if q.closed.Swap(true) {
		return
	}
	close(q.items)
}

// availabilitySignal is the "available_robots" set-like channel: a robot
// id is pushed onto it once whenever that robot becomes free, and popped
// by the dispatch loop when it needs to route an unpinned task. The
// dispatch loop is the only consumer and re-signals a busy robot before
// pulling again. Workers signal after every task they finish, pinned ones
// included, so one robot can have several outstanding signals; signal
// drops any signal that does not fit the channel's capacity.
type availabilitySignal struct {
	ch chan string
}

func newAvailabilitySignal(capacity int) *availabilitySignal {
	if capacity <= 0 {
		capacity = 256
	}
	return &availabilitySignal{ch: make(chan string, capacity)}
}

func (a *availabilitySignal) signal(robotID string) {
	select {
	case a.ch <- robotID:
	default:
		// Capacity exhausted; drop rather than block the caller.
	}
}

func (a *availabilitySignal) wait(ctx context.Context) (string, error) {
	select {
	case robotID := <-a.ch:
		return robotID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
