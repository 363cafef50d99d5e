package mqtt

import (
	"sync"

	"github.com/sweeney/adc-pwm-pipeline/internal/pipeline"
)

// FakePublisher records published telemetry for test assertions.
// Read the exported fields only once publishing has stopped; use the
// accessor methods while a Forwarder is still running.
type FakePublisher struct {
	mu sync.Mutex

	// Samples contains all samples that were published.
	Samples []pipeline.Sample

	// Duties contains all duty commands that were published.
	Duties []pipeline.DutyCommand

	// Payloads contains the JSON payloads of samples and duties, in order.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishSample and PublishDuty.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishSample records the sample.
func (f *FakePublisher) PublishSample(s pipeline.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatSamplePayload(s)
	if err != nil {
		return err
	}
	f.Samples = append(f.Samples, s)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishDuty records the duty command.
func (f *FakePublisher) PublishDuty(cmd pipeline.DutyCommand, writeErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatDutyPayload(cmd, writeErr)
	if err != nil {
		return err
	}
	f.Duties = append(f.Duties, cmd)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// SampleCount returns the number of samples recorded so far.
func (f *FakePublisher) SampleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Samples)
}

// DutyCount returns the number of duty commands recorded so far.
func (f *FakePublisher) DutyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Duties)
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded telemetry.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Samples = nil
	f.Duties = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
