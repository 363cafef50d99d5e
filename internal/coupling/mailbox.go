package coupling

import (
	"context"
	"sync"
)

// Mailbox is a single-slot hand-off guarded by a binary signal.
//
// Publish stores the value and raises the signal in one critical section;
// raising an already raised signal does not accumulate. Take waits for the
// signal, then reads and clears the slot in one critical section. A consumer
// only ever sees the slot as it is when it wakes: values published twice
// before a Take are overwritten and counted, never reread or fabricated.
type Mailbox[T any] struct {
	mu          sync.Mutex
	value       T
	full        bool
	sent        uint64
	received    uint64
	overwritten uint64

	// signal holds one token iff full, except between a consumer's wakeup
	// and its critical section.
	signal chan struct{}
}

// NewMailbox creates an empty mailbox (signal count 0, max 1).
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{signal: make(chan struct{}, 1)}
}

// Publish replaces the slot contents with v and raises the signal.
func (m *Mailbox[T]) Publish(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.full {
		m.overwritten++
	}
	m.value = v
	m.full = true
	m.sent++

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Take blocks until the signal is raised or ctx is done, then returns the
// current slot value and clears it.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	for {
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-m.signal:
		}

		if v, ok := m.take(); ok {
			return v, nil
		}
	}
}

func (m *Mailbox[T]) take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	if !m.full {
		return zero, false
	}
	v := m.value
	m.value = zero
	m.full = false
	m.received++

	// A publish that landed between our wakeup and the lock re-raised the
	// signal for a value we have just taken.
	select {
	case <-m.signal:
	default:
	}
	return v, true
}

// Send is Publish; it lets a Mailbox stand in as a Coupling.
func (m *Mailbox[T]) Send(v T) { m.Publish(v) }

// Receive is Take.
func (m *Mailbox[T]) Receive(ctx context.Context) (T, error) { return m.Take(ctx) }

// Stats reports publish/take counts and overwritten values.
func (m *Mailbox[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Sent:        m.sent,
		Received:    m.received,
		Overwritten: m.overwritten,
	}
	if m.full {
		s.Pending = 1
	}
	return s
}
