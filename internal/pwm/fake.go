package pwm

import "sync"

// Command is one recorded SetDuty call.
type Command struct {
	PeriodUs    uint32
	DutyPercent uint32
	Polarity    Polarity
}

// FakeDriver is a test double that records duty commands.
type FakeDriver struct {
	mu sync.Mutex

	commands []Command

	// FailAt maps a zero-based SetDuty call index to the error it returns.
	// Failed calls are still recorded.
	FailAt map[int]error

	// WriteError, if set, is returned by every SetDuty.
	WriteError error

	closed bool
}

// NewFakeDriver creates a FakeDriver for testing.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{}
}

// SetDuty records the command.
func (f *FakeDriver) SetDuty(periodUs, dutyPercent uint32, polarity Polarity) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.commands)
	f.commands = append(f.commands, Command{PeriodUs: periodUs, DutyPercent: dutyPercent, Polarity: polarity})

	if f.WriteError != nil {
		return f.WriteError
	}
	if err, ok := f.FailAt[n]; ok {
		return err
	}
	return nil
}

// Commands returns a copy of every recorded command.
func (f *FakeDriver) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.commands))
	copy(out, f.commands)
	return out
}

// Len returns the number of recorded commands.
func (f *FakeDriver) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeDriver) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
