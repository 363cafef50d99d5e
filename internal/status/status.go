// Package status provides a thread-safe status tracker for the pipeline
// daemon. It is fed as a pipeline observer and read by HTTP handlers and
// lifecycle telemetry.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/adc-pwm-pipeline/internal/pipeline"
	"github.com/sweeney/adc-pwm-pipeline/internal/schedule"
)

// Config contains daemon configuration for display.
type Config struct {
	RunID          string
	Coupling       string
	PeriodMs       int64
	OverrunPolicy  string
	ActuatorSource string
	ADCBackend     string
	PWMBackend     string
	PWMPeriodUs    uint32
	HeartbeatMs    int64
	Broker         string
	HTTPAddr       string
}

// Counts are per-stage activity counters.
type Counts struct {
	Samples     uint64
	Filtered    uint64
	Actuations  uint64
	ReadErrors  uint64
	WriteErrors uint64
	OutOfRange  uint64
	Overruns    uint64
	Missed      uint64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	LastSample    pipeline.Sample
	HasSample     bool
	LastDuty      pipeline.DutyCommand
	HasDuty       bool
	LastError     string
	Counts        Counts
	Coupling      pipeline.Stats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex. It implements
// pipeline.Observer.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot

	coupling func() pipeline.Stats
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetCouplingSource makes Snapshot include the hand-off counters returned
// by fn, typically (*pipeline.Pipeline).Stats.
func (t *Tracker) SetCouplingSource(fn func() pipeline.Stats) {
	t.mu.Lock()
	t.coupling = fn
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

func (t *Tracker) Sampled(s pipeline.Sample) {
	t.mu.Lock()
	t.snap.LastSample = s
	t.snap.HasSample = true
	t.snap.Counts.Samples++
	if s.OutOfRange {
		t.snap.Counts.OutOfRange++
	}
	t.mu.Unlock()
}

func (t *Tracker) Filtered(pipeline.FilteredValue) {
	t.mu.Lock()
	t.snap.Counts.Filtered++
	t.mu.Unlock()
}

func (t *Tracker) Actuated(cmd pipeline.DutyCommand, err error) {
	t.mu.Lock()
	t.snap.Counts.Actuations++
	if err != nil {
		t.snap.Counts.WriteErrors++
		t.snap.LastError = err.Error()
	} else {
		t.snap.LastDuty = cmd
		t.snap.HasDuty = true
	}
	t.mu.Unlock()
}

func (t *Tracker) ReadFailed(_ uint64, err error) {
	t.mu.Lock()
	t.snap.Counts.ReadErrors++
	t.snap.LastError = err.Error()
	t.mu.Unlock()
}

func (t *Tracker) Overrun(_ uint64, d schedule.Decision) {
	t.mu.Lock()
	t.snap.Counts.Overruns++
	t.snap.Counts.Missed += uint64(d.Missed)
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	fn := t.coupling
	t.mu.RUnlock()
	if fn != nil {
		s.Coupling = fn()
	}
	s.Now = time.Now()
	return s
}
