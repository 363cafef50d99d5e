package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/adc-pwm-pipeline/internal/adc"
	"github.com/sweeney/adc-pwm-pipeline/internal/coupling"
)

// Sampler acquires one reading per release and hands it to the filter.
// It is the only writer of the shared Latest snapshot.
type Sampler struct {
	reader adc.Reader
	conv   Converter
	out    coupling.Coupling[Sample]
	latest *Latest
	obs    Observer
	log    zerolog.Logger

	seq     uint64
	lastRaw uint16
}

// NewSampler creates a sampler publishing to out.
func NewSampler(reader adc.Reader, conv Converter, out coupling.Coupling[Sample], latest *Latest, obs Observer, log zerolog.Logger) *Sampler {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Sampler{
		reader: reader,
		conv:   conv,
		out:    out,
		latest: latest,
		obs:    obs,
		log:    log,
	}
}

// Step performs one iteration at time now. A failed read does not skip the
// iteration: the last good raw code is reused so downstream cadence is kept.
func (s *Sampler) Step(now time.Time) Sample {
	s.seq++
	sample := Sample{Seq: s.seq, Time: now}

	raw, err := s.reader.Read()
	switch {
	case err != nil:
		sample.Raw = s.lastRaw
		sample.Stale = true
		s.log.Warn().Err(err).Uint64("seq", s.seq).Uint16("reuse_raw", s.lastRaw).Msg("adc read failed")
		s.obs.ReadFailed(s.seq, err)
	default:
		clamped, over := s.conv.Clamp(raw)
		if over {
			sample.OutOfRange = true
			s.log.Warn().Err(ErrOutOfRange).Uint64("seq", s.seq).Uint16("raw", raw).Uint16("clamped", clamped).Msg("adc reading out of range")
		}
		sample.Raw = clamped
		s.lastRaw = clamped
	}
	sample.Millivolts = s.conv.Millivolts(sample.Raw)

	s.latest.Store(sample)
	s.log.Info().
		Uint64("seq", sample.Seq).
		Uint16("raw", sample.Raw).
		Int("mv", sample.Millivolts).
		Time("released_at", now).
		Msg("sample")

	// Observers hear about the sample before the filter can see it.
	s.obs.Sampled(sample)
	s.out.Send(sample)
	return sample
}
