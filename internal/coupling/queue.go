package coupling

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO with a non-blocking Send and a blocking Receive.
// Ownership of a value passes to the consumer when it is received; senders
// must not keep references into values they have sent.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	sent     uint64
	received uint64

	// ready holds one token while items may be available.
	ready chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Send appends v. It always succeeds and never blocks.
func (q *Queue[T]) Send(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.sent++
	q.mu.Unlock()
	q.notify()
}

// Receive removes and returns the oldest value, blocking until one is
// available or ctx is done.
func (q *Queue[T]) Receive(ctx context.Context) (T, error) {
	for {
		if v, ok := q.pop(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *Queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head == len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	q.received++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head > 64 && q.head*2 >= len(q.items):
		// Compact once the consumed prefix dominates.
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	if q.head < len(q.items) {
		// More left; pass the wakeup on in case another receiver is parked.
		q.notify()
	}
	return v, true
}

func (q *Queue[T]) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of pending values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Stats reports sent/received counts and queue depth.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Sent:     q.sent,
		Received: q.received,
		Pending:  len(q.items) - q.head,
	}
}
