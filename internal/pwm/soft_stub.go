//go:build !linux

package pwm

import "fmt"

// SoftDriver is not available on non-Linux platforms.
type SoftDriver struct{}

// OpenSoft returns ErrNotBound on non-Linux platforms.
func OpenSoft(chip string, offset int) (*SoftDriver, error) {
	return nil, fmt.Errorf("%w: gpio software pwm requires Linux", ErrNotBound)
}

// SetDuty is not implemented on non-Linux platforms.
func (d *SoftDriver) SetDuty(uint32, uint32, Polarity) error {
	return ErrNotBound
}

// Close is not implemented on non-Linux platforms.
func (d *SoftDriver) Close() error {
	return nil
}
