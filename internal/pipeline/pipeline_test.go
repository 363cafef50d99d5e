package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/adc-pwm-pipeline/internal/adc"
	"github.com/sweeney/adc-pwm-pipeline/internal/coupling"
	"github.com/sweeney/adc-pwm-pipeline/internal/pwm"
	"github.com/sweeney/adc-pwm-pipeline/internal/schedule"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// recorder is a thread-safe Observer that keeps everything it sees.
type recorder struct {
	mu         sync.Mutex
	samples    []Sample
	filtered   []FilteredValue
	commands   []DutyCommand
	writeErrs  []error
	readFailed []uint64
	overruns   []schedule.Decision
}

func (r *recorder) Sampled(s Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *recorder) Filtered(v FilteredValue) {
	r.mu.Lock()
	r.filtered = append(r.filtered, v)
	r.mu.Unlock()
}

func (r *recorder) Actuated(cmd DutyCommand, err error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.writeErrs = append(r.writeErrs, err)
	r.mu.Unlock()
}

func (r *recorder) ReadFailed(seq uint64, err error) {
	r.mu.Lock()
	r.readFailed = append(r.readFailed, seq)
	r.mu.Unlock()
}

func (r *recorder) Overrun(_ uint64, d schedule.Decision) {
	r.mu.Lock()
	r.overruns = append(r.overruns, d)
	r.mu.Unlock()
}

func (r *recorder) actuated() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commands)
}

var conv = Converter{FullScaleMV: 3000, ResolutionBits: 10}

func TestConverterScenarios(t *testing.T) {
	mv := conv.Millivolts(341)
	assert.InDelta(t, 1000, mv, 1)
	assert.Equal(t, uint32(33), conv.DutyPercent(mv))

	assert.Equal(t, 3000, conv.Millivolts(1023))
	assert.Equal(t, uint32(100), conv.DutyPercent(3000))

	assert.Equal(t, 0, conv.Millivolts(0))
	assert.Equal(t, uint32(0), conv.DutyPercent(0))
}

func TestConverterRoundTrip(t *testing.T) {
	for raw := 0; raw <= 1023; raw++ {
		got := int(conv.DutyPercent(conv.Millivolts(uint16(raw))))
		want := raw * 100 / 1023
		require.InDelta(t, want, got, 1, "raw=%d", raw)
	}
}

func TestConverterClamps(t *testing.T) {
	assert.Equal(t, uint16(1023), conv.MaxCode())

	raw, over := conv.Clamp(4000)
	assert.True(t, over)
	assert.Equal(t, uint16(1023), raw)
	assert.Equal(t, 3000, conv.Millivolts(4000))

	assert.Equal(t, uint32(0), conv.DutyPercent(-5))
	assert.Equal(t, uint32(100), conv.DutyPercent(3500))

	assert.Equal(t, uint16(65535), Converter{FullScaleMV: 1, ResolutionBits: 16}.MaxCode())
}

func TestConverterValidate(t *testing.T) {
	assert.NoError(t, conv.Validate())
	assert.Error(t, Converter{FullScaleMV: 3000, ResolutionBits: 0}.Validate())
	assert.Error(t, Converter{FullScaleMV: 3000, ResolutionBits: 17}.Validate())
	assert.Error(t, Converter{FullScaleMV: 0, ResolutionBits: 10}.Validate())
}

func TestSamplerReadFailureReusesPreviousRaw(t *testing.T) {
	reader := adc.NewFakeReader([]uint16{100, 200, 300, 400, 500, 600})
	reader.FailAt = map[int]error{4: errors.New("conversion timeout")}
	q := coupling.NewQueue[Sample]()
	latest := &Latest{}
	rec := &recorder{}
	s := NewSampler(reader, conv, q, latest, rec, zerolog.Nop())

	var got []Sample
	for i := 0; i < 6; i++ {
		got = append(got, s.Step(t0.Add(time.Duration(i)*time.Second)))
	}

	// Iteration 5 (seq 5) failed: it still produced a sample with
	// iteration 4's raw code.
	assert.True(t, got[4].Stale)
	assert.Equal(t, uint64(5), got[4].Seq)
	assert.Equal(t, uint16(400), got[4].Raw)
	assert.Equal(t, got[3].Millivolts, got[4].Millivolts)

	// Iteration 6 proceeds normally.
	assert.False(t, got[5].Stale)
	assert.Equal(t, uint16(600), got[5].Raw)

	assert.Equal(t, []uint64{5}, rec.readFailed)
	assert.Equal(t, 6, q.Len())

	last, ok := latest.Load()
	require.True(t, ok)
	assert.Equal(t, got[5], last)
}

func TestSamplerFirstReadFailsUsesZero(t *testing.T) {
	s := NewSampler(adc.Unbound{}, conv, coupling.NewQueue[Sample](), &Latest{}, nil, zerolog.Nop())
	got := s.Step(t0)
	assert.True(t, got.Stale)
	assert.Zero(t, got.Raw)
	assert.Equal(t, uint64(1), got.Seq)
}

func TestSamplerOutOfRangeIsClamped(t *testing.T) {
	s := NewSampler(adc.NewFakeReader([]uint16{2000}), conv, coupling.NewQueue[Sample](), &Latest{}, nil, zerolog.Nop())
	got := s.Step(t0)
	assert.True(t, got.OutOfRange)
	assert.Equal(t, uint16(1023), got.Raw)
	assert.Equal(t, 3000, got.Millivolts)
}

func TestFilterIdentity(t *testing.T) {
	in := coupling.NewQueue[Sample]()
	out := coupling.NewQueue[FilteredValue]()
	f := NewFilter(nil, in, out, nil, zerolog.Nop())

	v := f.Process(Sample{Seq: 4, Raw: 341, Millivolts: 1000, Time: t0})
	assert.Equal(t, FilteredValue{Seq: 4, Millivolts: 1000, Time: t0}, v)
	assert.Equal(t, 1, out.Len())
}

func TestFilterCustomFunc(t *testing.T) {
	out := coupling.NewQueue[FilteredValue]()
	halve := func(s Sample) FilteredValue {
		return FilteredValue{Seq: s.Seq, Millivolts: s.Millivolts / 2, Time: s.Time}
	}
	f := NewFilter(halve, coupling.NewQueue[Sample](), out, nil, zerolog.Nop())
	assert.Equal(t, 500, f.Process(Sample{Seq: 1, Millivolts: 1000}).Millivolts)
}

func TestActuatorApply(t *testing.T) {
	driver := pwm.NewFakeDriver()
	rec := &recorder{}
	a := NewActuator(driver, DefaultConfig(), &Latest{}, coupling.NewQueue[FilteredValue](), rec, zerolog.Nop())

	cmd := a.Apply(FilteredValue{Seq: 9, Millivolts: 1000})
	assert.Equal(t, uint64(9), cmd.Seq)
	assert.Equal(t, uint32(33), cmd.Percent)
	assert.Equal(t, uint32(1000), cmd.PeriodUs)
	assert.Equal(t, []pwm.Command{{PeriodUs: 1000, DutyPercent: 33}}, driver.Commands())
	assert.Nil(t, rec.writeErrs[0])
}

func TestActuatorDriverFailureIsNonFatal(t *testing.T) {
	driver := pwm.NewFakeDriver()
	driver.WriteError = errors.New("bus error")
	rec := &recorder{}
	a := NewActuator(driver, DefaultConfig(), &Latest{}, coupling.NewQueue[FilteredValue](), rec, zerolog.Nop())

	a.Apply(FilteredValue{Seq: 1, Millivolts: 3000})
	a.Apply(FilteredValue{Seq: 2, Millivolts: 1500})
	assert.Equal(t, 2, driver.Len())
	require.Len(t, rec.writeErrs, 2)
	assert.Error(t, rec.writeErrs[1])
}

func TestActuatorSourceLatest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ActuatorSource = SourceLatest
	latest := &Latest{}
	driver := pwm.NewFakeDriver()
	a := NewActuator(driver, cfg, latest, coupling.NewQueue[FilteredValue](), nil, zerolog.Nop())

	// Before any sample exists the delivered value is used.
	cmd := a.Apply(FilteredValue{Seq: 1, Millivolts: 1500})
	assert.Equal(t, uint32(50), cmd.Percent)

	latest.Store(Sample{Seq: 7, Raw: 1023, Millivolts: 3000})
	cmd = a.Apply(FilteredValue{Seq: 2, Millivolts: 1500})
	assert.Equal(t, uint64(7), cmd.Seq)
	assert.Equal(t, uint32(100), cmd.Percent)
}

func rampSamples(n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = uint16(i * 50)
	}
	return out
}

func runPipeline(t *testing.T, cfg Config, reader adc.Reader, driver pwm.Driver, rec *recorder, n int, wantActuations int) {
	t.Helper()
	p, err := New(cfg, reader, driver,
		WithClock(schedule.NewVirtualClock(t0)),
		WithObserver(rec),
		WithMaxSamples(uint64(n)),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return rec.actuated() >= wantActuations }, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after cancel")
	}
}

// N periods, no failures: exactly N samples filtered and N values actuated,
// in production order.
func TestPipelineChannelExactlyOnceInOrder(t *testing.T) {
	const n = 20
	reader := adc.NewFakeReader(rampSamples(n))
	driver := pwm.NewFakeDriver()
	rec := &recorder{}

	runPipeline(t, DefaultConfig(), reader, driver, rec, n, n)

	require.Len(t, rec.samples, n)
	require.Len(t, rec.filtered, n)
	require.Len(t, rec.commands, n)
	for i := 0; i < n; i++ {
		seq := uint64(i + 1)
		assert.Equal(t, seq, rec.samples[i].Seq)
		assert.Equal(t, seq, rec.filtered[i].Seq)
		assert.Equal(t, seq, rec.commands[i].Seq)

		wantDuty := conv.DutyPercent(conv.Millivolts(uint16(i * 50)))
		assert.Equal(t, wantDuty, driver.Commands()[i].DutyPercent, "command %d", i)
	}
	assert.Empty(t, rec.readFailed)
	assert.Equal(t, n, reader.Reads())
}

// orderObserver counts Filtered and Actuated events for a seq whose Sampled
// event has not been delivered yet. Sampled is slow on purpose.
type orderObserver struct {
	NopObserver
	mu         sync.Mutex
	sampled    map[uint64]bool
	early      int
	actuations int
}

func (o *orderObserver) Sampled(s Sample) {
	time.Sleep(200 * time.Microsecond)
	o.mu.Lock()
	o.sampled[s.Seq] = true
	o.mu.Unlock()
}

func (o *orderObserver) Filtered(v FilteredValue) {
	o.mu.Lock()
	if !o.sampled[v.Seq] {
		o.early++
	}
	o.mu.Unlock()
}

func (o *orderObserver) Actuated(cmd DutyCommand, _ error) {
	o.mu.Lock()
	if !o.sampled[cmd.Seq] {
		o.early++
	}
	o.actuations++
	o.mu.Unlock()
}

func TestPipelineObserversSeeSampleBeforeDownstream(t *testing.T) {
	const n = 50
	obs := &orderObserver{sampled: map[uint64]bool{}}
	p, err := New(DefaultConfig(), adc.NewFakeReader(rampSamples(n)), pwm.NewFakeDriver(),
		WithClock(schedule.NewVirtualClock(t0)),
		WithObserver(obs),
		WithMaxSamples(n),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.actuations == n
	}, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Zero(t, obs.early, "downstream events reported before their sample")
}

func TestSamplerNotifiesBeforeHandOff(t *testing.T) {
	q := coupling.NewQueue[Sample]()
	var pendingAtNotify []int
	obs := observerFunc(func(Sample) { pendingAtNotify = append(pendingAtNotify, q.Len()) })
	s := NewSampler(adc.NewFakeReader([]uint16{1, 2, 3}), conv, q, &Latest{}, obs, zerolog.Nop())

	for i := 0; i < 3; i++ {
		s.Step(t0)
	}
	assert.Equal(t, []int{0, 1, 2}, pendingAtNotify)
	assert.Equal(t, 3, q.Len())
}

// observerFunc adapts a Sampled callback to Observer.
type observerFunc func(Sample)

func (f observerFunc) Sampled(s Sample)                { f(s) }
func (observerFunc) Filtered(FilteredValue)            {}
func (observerFunc) Actuated(DutyCommand, error)       {}
func (observerFunc) ReadFailed(uint64, error)          {}
func (observerFunc) Overrun(uint64, schedule.Decision) {}

// Sample timestamps of on-time iterations sit on the T0 + k*P grid.
func TestPipelineSamplerPhaseLocked(t *testing.T) {
	const n = 5
	rec := &recorder{}
	runPipeline(t, DefaultConfig(), adc.NewFakeReader([]uint16{1}), pwm.NewFakeDriver(), rec, n, n)

	for k, s := range rec.samples {
		assert.Equal(t, t0.Add(time.Duration(k)*time.Second), s.Time)
	}
	assert.Empty(t, rec.overruns)
}

// Signal coupling may lose values but never fabricates or reorders them.
func TestPipelineSignalNoFabrication(t *testing.T) {
	const n = 200
	cfg := DefaultConfig()
	cfg.Coupling = coupling.KindSignal
	reader := adc.NewFakeReader(rampSamples(n))
	rec := &recorder{}

	p, err := New(cfg, reader, pwm.NewFakeDriver(),
		WithClock(schedule.NewVirtualClock(t0)),
		WithObserver(rec),
		WithMaxSamples(n),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// The final sample is always delivered: nothing can overwrite it.
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.commands) > 0 && rec.commands[len(rec.commands)-1].Seq == n
	}, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.samples, n)

	published := make(map[uint64]int, n)
	for _, s := range rec.samples {
		published[s.Seq] = s.Millivolts
	}
	var last uint64
	for _, v := range rec.filtered {
		mv, ok := published[v.Seq]
		require.True(t, ok, "filtered seq %d never published", v.Seq)
		require.Equal(t, mv, v.Millivolts)
		require.Greater(t, v.Seq, last, "seq reread or reordered")
		last = v.Seq
	}
	last = 0
	for _, c := range rec.commands {
		require.Greater(t, c.Seq, last)
		last = c.Seq
	}

	st := p.Stats()
	assert.Equal(t, uint64(n), st.Samples.Sent)
	assert.Equal(t, st.Samples.Sent, st.Samples.Received+st.Samples.Overwritten)
}

// An unbound ADC degrades the sampler but the pipeline keeps its cadence.
func TestPipelineUnboundReaderKeepsRunning(t *testing.T) {
	const n = 4
	rec := &recorder{}
	driver := pwm.NewFakeDriver()
	runPipeline(t, DefaultConfig(), adc.Unbound{}, driver, rec, n, n)

	assert.Len(t, rec.readFailed, n)
	for _, c := range driver.Commands() {
		assert.Zero(t, c.DutyPercent)
	}
}

func TestPipelineUnboundDriverKeepsRunning(t *testing.T) {
	const n = 3
	rec := &recorder{}
	runPipeline(t, DefaultConfig(), adc.NewFakeReader([]uint16{341}), pwm.Unbound{}, rec, n, n)

	for _, err := range rec.writeErrs {
		assert.ErrorIs(t, err, pwm.ErrNotBound)
	}
}

func TestPipelineLatestSourceUsesSnapshot(t *testing.T) {
	const n = 10
	cfg := DefaultConfig()
	cfg.ActuatorSource = SourceLatest
	rec := &recorder{}
	runPipeline(t, cfg, adc.NewFakeReader(rampSamples(n)), pwm.NewFakeDriver(), rec, n, n)

	published := map[uint64]bool{}
	for _, s := range rec.samples {
		published[s.Seq] = true
	}
	for _, c := range rec.commands {
		assert.True(t, published[c.Seq], "duty derived from unknown sample %d", c.Seq)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Period = 0
	_, err := New(cfg, adc.Unbound{}, pwm.Unbound{})
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Coupling = "pipe"
	_, err = New(cfg, adc.Unbound{}, pwm.Unbound{})
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.ActuatorSource = "raw"
	_, err = New(cfg, adc.Unbound{}, pwm.Unbound{})
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.PWMPeriodUs = 0
	_, err = New(cfg, adc.Unbound{}, pwm.Unbound{})
	assert.Error(t, err)
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource("latest")
	require.NoError(t, err)
	assert.Equal(t, SourceLatest, s)
	_, err = ParseSource("nope")
	assert.Error(t, err)
}

func TestObserversFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	obs := Observers{a, NopObserver{}, b}
	obs.Sampled(Sample{Seq: 1})
	obs.Filtered(FilteredValue{Seq: 1})
	obs.Actuated(DutyCommand{Seq: 1}, nil)
	obs.ReadFailed(2, errors.New("x"))
	obs.Overrun(3, schedule.Decision{Overrun: true})

	for _, r := range []*recorder{a, b} {
		assert.Len(t, r.samples, 1)
		assert.Len(t, r.filtered, 1)
		assert.Len(t, r.commands, 1)
		assert.Equal(t, []uint64{2}, r.readFailed)
		assert.Len(t, r.overruns, 1)
	}
}
