// Package adc provides analog input sampling with hardware abstraction.
// The IIO implementation reads the Linux industrial-I/O sysfs interface.
// The fake implementation allows testing without hardware.
package adc

import (
	"errors"
	"fmt"
)

var (
	// ErrNotBound is returned by every call on a reader whose device could
	// not be bound or configured.
	ErrNotBound = errors.New("adc: device not bound")
	// ErrRead wraps transient acquisition failures.
	ErrRead = errors.New("adc: read failed")
)

// Reader acquires raw conversion codes.
type Reader interface {
	// Read returns one raw code in [0, 2^bits-1] for the configured channel.
	Read() (uint16, error)

	// Close releases the device.
	Close() error
}

// Unbound is the reader used when binding failed. The sampler keeps running
// against it in a degraded state, logging every failed read.
type Unbound struct {
	Cause error
}

// Read always fails with ErrNotBound.
func (u Unbound) Read() (uint16, error) {
	if u.Cause != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotBound, u.Cause)
	}
	return 0, ErrNotBound
}

// Close is a no-op.
func (u Unbound) Close() error { return nil }
