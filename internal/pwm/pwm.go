// Package pwm drives a duty-cycle output with hardware abstraction.
// Real implementations use the Linux PWM sysfs class or a software PWM on a
// GPIO character-device line. The fake implementation allows testing
// without hardware.
package pwm

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotBound is returned by every call on a driver whose device could
	// not be bound.
	ErrNotBound = errors.New("pwm: device not bound")
	// ErrWrite wraps failures to apply a duty cycle.
	ErrWrite = errors.New("pwm: write failed")
)

// Polarity selects which output level is the active part of the period.
type Polarity int

const (
	PolarityNormal Polarity = iota
	PolarityInversed
)

func (p Polarity) String() string {
	if p == PolarityInversed {
		return "inversed"
	}
	return "normal"
}

// ParsePolarity converts a config string into a Polarity.
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "normal", "":
		return PolarityNormal, nil
	case "inversed", "inverted":
		return PolarityInversed, nil
	}
	return 0, fmt.Errorf("unknown polarity %q", s)
}

// Driver applies duty-cycle commands to an output.
type Driver interface {
	// SetDuty sets the PWM period in microseconds and the active share of
	// each period in percent (0..100).
	SetDuty(periodUs, dutyPercent uint32, polarity Polarity) error

	// Close disables the output and releases the device.
	Close() error
}

// PulseWidth converts a duty percentage to the active time of one period.
func PulseWidth(periodUs, dutyPercent uint32) time.Duration {
	if dutyPercent > 100 {
		dutyPercent = 100
	}
	return time.Duration(periodUs) * time.Microsecond * time.Duration(dutyPercent) / 100
}

// Unbound is the driver used when binding failed. The actuator keeps
// running against it, logging every failed write.
type Unbound struct {
	Cause error
}

// SetDuty always fails with ErrNotBound.
func (u Unbound) SetDuty(uint32, uint32, Polarity) error {
	if u.Cause != nil {
		return fmt.Errorf("%w: %v", ErrNotBound, u.Cause)
	}
	return ErrNotBound
}

// Close is a no-op.
func (u Unbound) Close() error { return nil }
