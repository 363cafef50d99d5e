package pipeline

import "sync/atomic"

// Latest holds the sampler's most recent Sample. Only the sampler stores;
// any other task reads a consistent copy through Load.
type Latest struct {
	p atomic.Pointer[Sample]
}

// Store publishes s as the latest sample.
func (l *Latest) Store(s Sample) {
	l.p.Store(&s)
}

// Load returns a copy of the latest sample, or false before the first store.
func (l *Latest) Load() (Sample, bool) {
	s := l.p.Load()
	if s == nil {
		return Sample{}, false
	}
	return *s, true
}
