package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/adc-pwm-pipeline/internal/adc"
	"github.com/sweeney/adc-pwm-pipeline/internal/coupling"
	"github.com/sweeney/adc-pwm-pipeline/internal/logging"
	"github.com/sweeney/adc-pwm-pipeline/internal/pwm"
	"github.com/sweeney/adc-pwm-pipeline/internal/schedule"
)

// Pipeline wires Sampler → Filter → Actuator through two couplings of the
// configured kind.
type Pipeline struct {
	cfg      Config
	clock    schedule.Clock
	obs      Observer
	log      zerolog.Logger
	maxCount uint64

	samples  coupling.Coupling[Sample]
	filtered coupling.Coupling[FilteredValue]
	latest   *Latest

	sampler  *Sampler
	filter   *Filter
	actuator *Actuator
}

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	clock      schedule.Clock
	filter     FilterFunc
	obs        Observer
	log        zerolog.Logger
	maxSamples uint64
}

// WithClock replaces the wall clock, e.g. with a schedule.VirtualClock.
func WithClock(c schedule.Clock) Option { return func(o *options) { o.clock = c } }

// WithFilter replaces the identity filter.
func WithFilter(fn FilterFunc) Option { return func(o *options) { o.filter = fn } }

// WithObserver attaches an observer to all three tasks.
func WithObserver(obs Observer) Option { return func(o *options) { o.obs = obs } }

// WithLogger sets the logger; each task logs with its own component tag.
func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.log = l } }

// WithMaxSamples stops the sampler after n iterations. The filter and
// actuator keep draining until the context ends.
func WithMaxSamples(n uint64) Option { return func(o *options) { o.maxSamples = n } }

// New builds a pipeline around the given drivers.
func New(cfg Config, reader adc.Reader, driver pwm.Driver, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}

	o := options{clock: schedule.RealClock{}, log: zerolog.Nop(), obs: NopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pipeline{
		cfg:      cfg,
		clock:    o.clock,
		obs:      o.obs,
		log:      o.log,
		maxCount: o.maxSamples,
		samples:  coupling.New[Sample](cfg.Coupling),
		filtered: coupling.New[FilteredValue](cfg.Coupling),
		latest:   &Latest{},
	}
	p.sampler = NewSampler(reader, cfg.Converter, p.samples, p.latest, o.obs, logging.Component(o.log, "sampler"))
	p.filter = NewFilter(o.filter, p.samples, p.filtered, o.obs, logging.Component(o.log, "filter"))
	p.actuator = NewActuator(driver, cfg, p.latest, p.filtered, o.obs, logging.Component(o.log, "actuator"))
	p.actuator.now = o.clock.Now
	return p, nil
}

// Run starts the three tasks and blocks until ctx is cancelled. A clean
// cancellation returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info().
		Str("coupling", string(p.cfg.Coupling)).
		Dur("period", p.cfg.Period).
		Str("overrun", p.cfg.Overrun.String()).
		Str("actuator_source", string(p.cfg.ActuatorSource)).
		Msg("pipeline starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.runSampler(gctx) })
	g.Go(func() error { return p.filter.Run(gctx) })
	g.Go(func() error { return p.actuator.Run(gctx) })

	err := g.Wait()
	if ctx.Err() != nil {
		p.log.Info().Msg("pipeline stopped")
		return nil
	}
	return err
}

func (p *Pipeline) runSampler(ctx context.Context) error {
	sched := schedule.NewSchedule(p.clock.Now(), p.cfg.Period, p.cfg.Overrun)
	log := logging.Component(p.log, "sampler")

	body := func(_ context.Context, i uint64, _ time.Time) error {
		if p.maxCount > 0 && i >= p.maxCount {
			return schedule.ErrStop
		}
		p.sampler.Step(p.clock.Now())
		return nil
	}
	onOverrun := func(i uint64, d schedule.Decision) {
		ev := log.Debug()
		if d.Alarm {
			ev = log.Warn()
		}
		ev.Uint64("iteration", i).Dur("late", d.Lateness).Int("missed", d.Missed).Msg("release overrun")
		p.obs.Overrun(i, d)
	}

	// A nil return means the sample budget ran out; the other tasks keep
	// draining until the caller cancels.
	return schedule.RunPeriodic(ctx, p.clock, sched, body, onOverrun)
}

// Stats are the delivery counters of both hand-offs.
type Stats struct {
	Samples  coupling.Stats
	Filtered coupling.Stats
}

// Stats returns a point-in-time copy of the coupling counters.
func (p *Pipeline) Stats() Stats {
	return Stats{Samples: p.samples.Stats(), Filtered: p.filtered.Stats()}
}

// Latest returns the most recent sample.
func (p *Pipeline) Latest() (Sample, bool) {
	return p.latest.Load()
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config { return p.cfg }
