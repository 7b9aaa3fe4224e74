package session

import (
	"context"
	"errors"
	"sync"
)

// QueueCapacity is the number of events buffered between a reply and its
// consumer.
const QueueCapacity = 100

// ErrQueueClosed is returned by Send once the consumer has gone away.
var ErrQueueClosed = errors.New("session: event queue closed")

// Queue is a bounded single-producer event queue. The producer blocks while
// it is full.
type Queue struct {
	events     chan Event
	closed     chan struct{}
	closeOnce  sync.Once
	finishOnce sync.Once
}

// NewQueue creates a queue holding up to capacity events.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = QueueCapacity
	}
	return &Queue{
		events: make(chan Event, capacity),
		closed: make(chan struct{}),
	}
}

// Send enqueues ev, waiting for room. It fails with ErrQueueClosed when the
// consumer has closed the queue.
func (q *Queue) Send(ctx context.Context, ev Event) error {
	if q.Closed() {
		return ErrQueueClosed
	}
	select {
	case q.events <- ev:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events yields queued events and is closed after the last one.
func (q *Queue) Events() <-chan Event { return q.events }

// Close tells the producer the consumer is gone. Safe to call repeatedly.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Closed reports whether the consumer has closed the queue.
func (q *Queue) Closed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// finish marks the end of the stream. Only the producer calls it.
func (q *Queue) finish() {
	q.finishOnce.Do(func() { close(q.events) })
}
