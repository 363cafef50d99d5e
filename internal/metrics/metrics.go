// Package metrics exposes pipeline activity as Prometheus collectors.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/adc-pwm-pipeline/internal/pipeline"
	"github.com/sweeney/adc-pwm-pipeline/internal/schedule"
)

const namespace = "adc_pwm"

// Recorder is a pipeline.Observer that updates Prometheus collectors.
// Each Recorder owns its registry so tests and multiple pipelines do not
// collide on the global one.
type Recorder struct {
	registry *prometheus.Registry

	samples     prometheus.Counter
	filtered    prometheus.Counter
	actuations  prometheus.Counter
	readErrors  prometheus.Counter
	writeErrors prometheus.Counter
	outOfRange  prometheus.Counter
	overruns    *prometheus.CounterVec
	missed      prometheus.Counter

	lastRaw        prometheus.Gauge
	lastMillivolts prometheus.Gauge
	dutyPercent    prometheus.Gauge
}

// NewRecorder creates a Recorder with all collectors registered.
func NewRecorder() *Recorder {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	r := &Recorder{
		registry:    prometheus.NewRegistry(),
		samples:     counter("samples_total", "Samples acquired by the sampler."),
		filtered:    counter("filtered_total", "Values produced by the filter."),
		actuations:  counter("actuations_total", "Duty commands issued by the actuator."),
		readErrors:  counter("read_errors_total", "Failed ADC reads."),
		writeErrors: counter("write_errors_total", "Failed PWM writes."),
		outOfRange:  counter("out_of_range_total", "Raw readings above the maximum code."),
		overruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overruns_total",
			Help:      "Sampler iterations that finished at or after their next release.",
		}, []string{"alarm"}),
		missed:         counter("missed_releases_total", "Releases dropped by skip_to_next_slot."),
		lastRaw:        gauge("last_raw", "Raw code of the latest sample."),
		lastMillivolts: gauge("last_millivolts", "Engineering value of the latest sample."),
		dutyPercent:    gauge("duty_percent", "Duty cycle of the latest command."),
	}

	r.registry.MustRegister(
		r.samples, r.filtered, r.actuations,
		r.readErrors, r.writeErrors, r.outOfRange,
		r.overruns, r.missed,
		r.lastRaw, r.lastMillivolts, r.dutyPercent,
	)
	return r
}

// Registry returns the registry holding this recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// RegisterCoupling exposes the hand-off counters of a running pipeline.
func (r *Recorder) RegisterCoupling(stats func() pipeline.Stats) error {
	stage := func(name string, pick func(pipeline.Stats) float64, help string, counter bool) prometheus.Collector {
		if counter {
			return prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "coupling", Name: name, Help: help,
			}, func() float64 { return pick(stats()) })
		}
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "coupling", Name: name, Help: help,
		}, func() float64 { return pick(stats()) })
	}

	return errors.Join(
		r.registry.Register(stage("samples_overwritten_total",
			func(s pipeline.Stats) float64 { return float64(s.Samples.Overwritten) },
			"Samples lost to a newer publish before the filter took them.", true)),
		r.registry.Register(stage("filtered_overwritten_total",
			func(s pipeline.Stats) float64 { return float64(s.Filtered.Overwritten) },
			"Filtered values lost to a newer publish before the actuator took them.", true)),
		r.registry.Register(stage("samples_pending",
			func(s pipeline.Stats) float64 { return float64(s.Samples.Pending) },
			"Samples waiting for the filter.", false)),
		r.registry.Register(stage("filtered_pending",
			func(s pipeline.Stats) float64 { return float64(s.Filtered.Pending) },
			"Filtered values waiting for the actuator.", false)),
	)
}

// RegisterTelemetry exposes the MQTT offline buffer: messages waiting for
// the broker and messages lost to buffer overflow.
func (r *Recorder) RegisterTelemetry(buffered func() int, dropped func() uint64) error {
	return errors.Join(
		r.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "buffered",
			Help: "Telemetry messages held while the broker is unreachable.",
		}, func() float64 { return float64(buffered()) })),
		r.registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "dropped_total",
			Help: "Buffered telemetry messages displaced by newer ones.",
		}, func() float64 { return float64(dropped()) })),
	)
}

func (r *Recorder) Sampled(s pipeline.Sample) {
	r.samples.Inc()
	if s.OutOfRange {
		r.outOfRange.Inc()
	}
	r.lastRaw.Set(float64(s.Raw))
	r.lastMillivolts.Set(float64(s.Millivolts))
}

func (r *Recorder) Filtered(pipeline.FilteredValue) {
	r.filtered.Inc()
}

func (r *Recorder) Actuated(cmd pipeline.DutyCommand, err error) {
	r.actuations.Inc()
	if err != nil {
		r.writeErrors.Inc()
		return
	}
	r.dutyPercent.Set(float64(cmd.Percent))
}

func (r *Recorder) ReadFailed(uint64, error) {
	r.readErrors.Inc()
}

func (r *Recorder) Overrun(_ uint64, d schedule.Decision) {
	alarm := "false"
	if d.Alarm {
		alarm = "true"
	}
	r.overruns.WithLabelValues(alarm).Inc()
	r.missed.Add(float64(d.Missed))
}
