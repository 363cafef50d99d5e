// Package coupling provides the two hand-off disciplines between pipeline
// stages: an unbounded FIFO Queue (every item delivered exactly once, in
// order) and a single-slot Mailbox (freshest value wins, older unread values
// are overwritten).
package coupling

import (
	"context"
	"fmt"
)

// Coupling is the producer/consumer pair for one hand-off.
type Coupling[T any] interface {
	// Send hands v to the consumer side. It never blocks.
	Send(v T)
	// Receive blocks until a value is available or ctx is done.
	Receive(ctx context.Context) (T, error)
	// Stats reports delivery counters.
	Stats() Stats
}

// Stats are the delivery counters of a coupling.
type Stats struct {
	Sent     uint64
	Received uint64
	// Overwritten counts values replaced before the consumer read them.
	// Always zero for a Queue.
	Overwritten uint64
	// Pending is the number of values waiting for the consumer.
	Pending int
}

// Kind selects a coupling discipline.
type Kind string

const (
	KindChannel Kind = "channel"
	KindSignal  Kind = "signal"
)

// ParseKind validates a config string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindChannel, KindSignal:
		return k, nil
	}
	return "", fmt.Errorf("unknown coupling %q (want %q or %q)", s, KindChannel, KindSignal)
}

// New creates a coupling of the given kind. Unknown kinds panic; validate
// with ParseKind first.
func New[T any](kind Kind) Coupling[T] {
	switch kind {
	case KindChannel:
		return NewQueue[T]()
	case KindSignal:
		return NewMailbox[T]()
	}
	panic(fmt.Sprintf("coupling: unknown kind %q", kind))
}
