//go:build linux

package pwm

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// SoftDriver generates PWM in software on a GPIO output line using the Linux
// GPIO character device. Timing jitter is that of the Go scheduler, which is
// adequate for LEDs and slow loads.
type SoftDriver struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line

	mu       sync.Mutex
	periodUs uint32
	duty     uint32
	polarity Polarity

	stop chan struct{}
	done chan struct{}
}

// OpenSoft requests offset on chip (e.g. "gpiochip0") as an output driven
// low and starts the PWM loop with a 0% duty cycle.
func OpenSoft(chip string, offset int) (*SoftDriver, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("%w: open gpio chip: %v", ErrNotBound, err)
	}

	line, err := c.RequestLine(offset, gpiocdev.AsOutput(0))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: request line %d: %v", ErrNotBound, offset, err)
	}

	d := &SoftDriver{
		chip:     c,
		line:     line,
		periodUs: 1000,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d, nil
}

// SetDuty updates the waveform; it takes effect from the next period.
func (d *SoftDriver) SetDuty(periodUs, dutyPercent uint32, polarity Polarity) error {
	if periodUs == 0 {
		return fmt.Errorf("%w: zero period", ErrWrite)
	}
	if dutyPercent > 100 {
		dutyPercent = 100
	}
	d.mu.Lock()
	d.periodUs = periodUs
	d.duty = dutyPercent
	d.polarity = polarity
	d.mu.Unlock()
	return nil
}

func (d *SoftDriver) waveform() (period, active time.Duration, on, off int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	on, off = 1, 0
	if d.polarity == PolarityInversed {
		on, off = 0, 1
	}
	return time.Duration(d.periodUs) * time.Microsecond, PulseWidth(d.periodUs, d.duty), on, off
}

func (d *SoftDriver) loop() {
	defer close(d.done)
	for {
		period, active, on, off := d.waveform()
		if active > 0 {
			d.line.SetValue(on)
			if !d.sleep(active) {
				return
			}
		}
		if active < period {
			d.line.SetValue(off)
			if !d.sleep(period - active) {
				return
			}
		}
	}
}

func (d *SoftDriver) sleep(dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-d.stop:
		return false
	case <-t.C:
		return true
	}
}

// Close stops the PWM loop and returns the line to an input with pull-down
// (the Raspberry Pi boot default) before releasing it.
func (d *SoftDriver) Close() error {
	close(d.stop)
	<-d.done

	var errs []error
	if err := d.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
	}
	if err := d.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line: %w", err))
	}
	if err := d.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
