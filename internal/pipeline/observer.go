package pipeline

import "github.com/sweeney/adc-pwm-pipeline/internal/schedule"

// Observer is told about every pipeline event. Implementations are called
// from the task goroutines and must not block.
type Observer interface {
	Sampled(s Sample)
	Filtered(v FilteredValue)
	// Actuated reports a duty command and the driver's result.
	Actuated(cmd DutyCommand, err error)
	// ReadFailed reports a failed acquisition for the sample seq.
	ReadFailed(seq uint64, err error)
	Overrun(iteration uint64, d schedule.Decision)
}

// NopObserver ignores everything. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) Sampled(Sample)                    {}
func (NopObserver) Filtered(FilteredValue)            {}
func (NopObserver) Actuated(DutyCommand, error)       {}
func (NopObserver) ReadFailed(uint64, error)          {}
func (NopObserver) Overrun(uint64, schedule.Decision) {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) Sampled(s Sample) {
	for _, x := range o {
		x.Sampled(s)
	}
}

func (o Observers) Filtered(v FilteredValue) {
	for _, x := range o {
		x.Filtered(v)
	}
}

func (o Observers) Actuated(cmd DutyCommand, err error) {
	for _, x := range o {
		x.Actuated(cmd, err)
	}
}

func (o Observers) ReadFailed(seq uint64, err error) {
	for _, x := range o {
		x.ReadFailed(seq, err)
	}
}

func (o Observers) Overrun(iteration uint64, d schedule.Decision) {
	for _, x := range o {
		x.Overrun(iteration, d)
	}
}
