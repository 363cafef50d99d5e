package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/adc-pwm-pipeline/internal/coupling"
	"github.com/sweeney/adc-pwm-pipeline/internal/pwm"
)

// Actuator is the sporadic last stage: one duty command per FilteredValue.
type Actuator struct {
	driver   pwm.Driver
	conv     Converter
	periodUs uint32
	polarity pwm.Polarity
	source   Source
	latest   *Latest
	in       coupling.Coupling[FilteredValue]
	obs      Observer
	log      zerolog.Logger
	now      func() time.Time

	count uint64
}

// NewActuator creates an actuator stage. latest is only read when the
// source is SourceLatest.
func NewActuator(driver pwm.Driver, cfg Config, latest *Latest, in coupling.Coupling[FilteredValue], obs Observer, log zerolog.Logger) *Actuator {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Actuator{
		driver:   driver,
		conv:     cfg.Converter,
		periodUs: cfg.PWMPeriodUs,
		polarity: cfg.Polarity,
		source:   cfg.ActuatorSource,
		latest:   latest,
		in:       in,
		obs:      obs,
		log:      log,
		now:      time.Now,
	}
}

// Apply converts v to a duty command and issues it. Driver failures are
// logged and reported, never returned.
func (a *Actuator) Apply(v FilteredValue) DutyCommand {
	a.count++
	seq, mv := v.Seq, v.Millivolts
	if a.source == SourceLatest {
		if s, ok := a.latest.Load(); ok {
			seq, mv = s.Seq, s.Millivolts
		}
	}

	cmd := DutyCommand{
		Seq:      seq,
		PeriodUs: a.periodUs,
		Percent:  a.conv.DutyPercent(mv),
		Polarity: a.polarity,
		Time:     a.now(),
	}

	err := a.driver.SetDuty(cmd.PeriodUs, cmd.Percent, cmd.Polarity)
	if err != nil {
		a.log.Error().Err(err).Uint64("seq", seq).Uint32("duty", cmd.Percent).Msg("pwm set failed")
	} else {
		a.log.Info().
			Uint64("instance", a.count).
			Uint64("seq", seq).
			Uint32("duty", cmd.Percent).
			Uint32("period_us", cmd.PeriodUs).
			Msg("duty set")
	}
	a.obs.Actuated(cmd, err)
	return cmd
}

// Run actuates filtered values until ctx is done.
func (a *Actuator) Run(ctx context.Context) error {
	for {
		v, err := a.in.Receive(ctx)
		if err != nil {
			return err
		}
		a.Apply(v)
	}
}
