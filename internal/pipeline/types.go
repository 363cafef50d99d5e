// Package pipeline contains the sense → filter → actuate tasks and their
// wiring. The Sampler runs periodically; the Filter and Actuator are
// sporadic, released once per item delivered by the stage before them.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/adc-pwm-pipeline/internal/coupling"
	"github.com/sweeney/adc-pwm-pipeline/internal/pwm"
	"github.com/sweeney/adc-pwm-pipeline/internal/schedule"
)

// ErrOutOfRange marks a raw reading above the converter's maximum code.
var ErrOutOfRange = errors.New("reading out of range")

// Sample is one raw reading with its engineering value. Immutable once
// created.
type Sample struct {
	// Seq is the sampler's instance counter, starting at 1.
	Seq        uint64
	Raw        uint16
	Millivolts int
	Time       time.Time
	// Stale is set when the read failed and Raw repeats the last good code.
	Stale bool
	// OutOfRange is set when the driver returned a code above the maximum;
	// Raw holds the clamped code.
	OutOfRange bool
}

// FilteredValue is the filter's output for one Sample.
type FilteredValue struct {
	Seq        uint64
	Millivolts int
	Time       time.Time
}

// DutyCommand is what the actuator hands to the PWM driver. Not retained.
type DutyCommand struct {
	Seq      uint64
	PeriodUs uint32
	Percent  uint32
	Polarity pwm.Polarity
	Time     time.Time
}

// Source selects what the actuator derives its duty cycle from.
type Source string

const (
	// SourceValue uses the FilteredValue delivered through the coupling.
	SourceValue Source = "value"
	// SourceLatest re-derives the duty from the sampler's latest reading,
	// read through a synchronized snapshot.
	SourceLatest Source = "latest"
)

// ParseSource validates a config string.
func ParseSource(s string) (Source, error) {
	switch src := Source(s); src {
	case SourceValue, SourceLatest:
		return src, nil
	}
	return "", fmt.Errorf("unknown actuator source %q", s)
}

// Config is the construction-time configuration of a Pipeline.
type Config struct {
	Period         time.Duration
	Overrun        schedule.OverrunPolicy
	Coupling       coupling.Kind
	Converter      Converter
	PWMPeriodUs    uint32
	Polarity       pwm.Polarity
	ActuatorSource Source
}

// DefaultConfig matches the reference board: 1 s period, 10-bit ADC with a
// 3000 mV full scale, 1000 µs PWM period.
func DefaultConfig() Config {
	return Config{
		Period:         time.Second,
		Overrun:        schedule.AccumulateDrift,
		Coupling:       coupling.KindChannel,
		Converter:      Converter{FullScaleMV: 3000, ResolutionBits: 10},
		PWMPeriodUs:    1000,
		Polarity:       pwm.PolarityNormal,
		ActuatorSource: SourceValue,
	}
}

// Validate checks the configuration for values the tasks cannot run with.
func (c Config) Validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("period must be positive, got %v", c.Period)
	}
	if _, err := coupling.ParseKind(string(c.Coupling)); err != nil {
		return err
	}
	if err := c.Converter.Validate(); err != nil {
		return err
	}
	if c.PWMPeriodUs == 0 {
		return errors.New("pwm period must be positive")
	}
	if _, err := ParseSource(string(c.ActuatorSource)); err != nil {
		return err
	}
	return nil
}
