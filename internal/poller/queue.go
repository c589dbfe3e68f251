// internal/poller/queue.go
package poller

import (
	"context"
	"sync"
	"time"
)

// queue is the bounded on-demand request queue.
// Producers are external goroutines; the only consumer is the arbiter.
type queue struct {
	mu      sync.Mutex
	items   []*task
	slots   chan struct{}
	wake    chan struct{}
	closed  chan struct{}
	closeMu sync.Once
}

func newQueue(size int, wake chan struct{}) *queue {
	return &queue{
		slots:  make(chan struct{}, size),
		wake:   wake,
		closed: make(chan struct{}),
	}
}

// push enqueues t. With failFast a full queue returns ErrBusy,
// otherwise push blocks until a slot frees, ctx ends or the queue closes.
func (q *queue) push(ctx context.Context, t *task, failFast bool) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	if failFast {
		select {
		case q.slots <- struct{}{}:
		default:
			return ErrBusy
		}
	} else {
		select {
		case q.slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return ErrClosed
		}
	}

	q.mu.Lock()
	select {
	case <-q.closed:
		q.mu.Unlock()
		<-q.slots
		return ErrClosed
	default:
	}
	q.items = append(q.items, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// pop removes the oldest request.
func (q *queue) pop() *task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	<-q.slots
	return t
}

// expire removes every request whose deadline has passed.
func (q *queue) expire(now time.Time) []*task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var gone []*task
	kept := q.items[:0]
	for _, t := range q.items {
		if !t.req.Deadline.IsZero() && now.After(t.req.Deadline) {
			gone = append(gone, t)
			<-q.slots
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	return gone
}

// earliestDeadline reports the nearest pending deadline, zero if none.
func (q *queue) earliestDeadline() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	var d time.Time
	for _, t := range q.items {
		if t.req.Deadline.IsZero() {
			continue
		}
		if d.IsZero() || t.req.Deadline.Before(d) {
			d = t.req.Deadline
		}
	}
	return d
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close rejects further pushes and returns whatever was still queued.
func (q *queue) close() []*task {
	q.closeMu.Do(func() { close(q.closed) })

	q.mu.Lock()
	defer q.mu.Unlock()
	rest := q.items
	for range rest {
		<-q.slots
	}
	q.items = nil
	return rest
}
