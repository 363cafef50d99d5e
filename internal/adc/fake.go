package adc

import (
	"errors"
	"sync"
)

// FakeReader is a test double that returns scripted raw codes.
type FakeReader struct {
	mu sync.Mutex

	// Samples contains scripted raw codes. Each call to Read consumes the
	// next one; once exhausted the last code is repeated.
	Samples []uint16

	// FailAt maps a zero-based read index to the error returned by that
	// read. A failing read still consumes its scripted sample.
	FailAt map[int]error

	// ReadError, if set, is returned by every Read.
	ReadError error

	// Closed tracks if Close was called.
	Closed bool

	index int
	reads int
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples []uint16) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted code or the scripted failure.
func (f *FakeReader) Read() (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.reads
	f.reads++

	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Samples) == 0 {
		return 0, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	if err, ok := f.FailAt[n]; ok {
		return 0, err
	}
	return sample, nil
}

// Reads returns how many times Read was called.
func (f *FakeReader) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset rewinds the reader to the first sample.
func (f *FakeReader) Reset() {
	f.mu.Lock()
	f.index = 0
	f.reads = 0
	f.Closed = false
	f.mu.Unlock()
}
