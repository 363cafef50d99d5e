package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sweeney/adc-pwm-pipeline/internal/coupling"
)

// FilterFunc derives a FilteredValue from a Sample.
type FilterFunc func(Sample) FilteredValue

// Identity passes the sample's value through unchanged.
func Identity(s Sample) FilteredValue {
	return FilteredValue{Seq: s.Seq, Millivolts: s.Millivolts, Time: s.Time}
}

// Filter is the sporadic middle stage: one FilteredValue per Sample received.
type Filter struct {
	fn  FilterFunc
	in  coupling.Coupling[Sample]
	out coupling.Coupling[FilteredValue]
	obs Observer
	log zerolog.Logger

	count uint64
}

// NewFilter creates a filter stage. A nil fn means Identity.
func NewFilter(fn FilterFunc, in coupling.Coupling[Sample], out coupling.Coupling[FilteredValue], obs Observer, log zerolog.Logger) *Filter {
	if fn == nil {
		fn = Identity
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Filter{fn: fn, in: in, out: out, obs: obs, log: log}
}

// Process filters one sample and publishes the result.
func (f *Filter) Process(s Sample) FilteredValue {
	f.count++
	v := f.fn(s)
	f.out.Send(v)

	f.log.Info().Uint64("instance", f.count).Uint64("seq", v.Seq).Int("mv", v.Millivolts).Msg("filtered")
	f.obs.Filtered(v)
	return v
}

// Run processes samples until ctx is done.
func (f *Filter) Run(ctx context.Context) error {
	for {
		s, err := f.in.Receive(ctx)
		if err != nil {
			return err
		}
		f.Process(s)
	}
}
