package adc

import "sync"

// SimReader produces a triangle wave sweeping the full code range. It lets
// the daemon run on machines without an ADC.
type SimReader struct {
	mu      sync.Mutex
	value   int
	step    int
	maxCode int
}

// NewSimReader creates a SimReader for the given resolution, moving step
// codes per read.
func NewSimReader(resolutionBits, step int) *SimReader {
	if step <= 0 {
		step = 1
	}
	return &SimReader{step: step, maxCode: 1<<uint(resolutionBits) - 1}
}

// Read returns the next point of the wave.
func (s *SimReader) Read() (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.value
	s.value += s.step
	if s.value > s.maxCode {
		s.value = s.maxCode
		s.step = -s.step
	} else if s.value < 0 {
		s.value = 0
		s.step = -s.step
	}
	return uint16(v), nil
}

// Close is a no-op.
func (s *SimReader) Close() error { return nil }
