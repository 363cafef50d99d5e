package pipeline

import "fmt"

// Converter maps raw ADC codes to millivolts and millivolts to duty cycle.
//
//	mv   = raw * FullScaleMV / (2^ResolutionBits - 1)
//	duty = mv * 100 / FullScaleMV
//
// Raw codes above the maximum and duty outside [0,100] are clamped.
type Converter struct {
	FullScaleMV    int
	ResolutionBits int
}

// Validate rejects scales the integer arithmetic cannot handle.
func (c Converter) Validate() error {
	if c.ResolutionBits < 1 || c.ResolutionBits > 16 {
		return fmt.Errorf("resolution must be 1..16 bits, got %d", c.ResolutionBits)
	}
	if c.FullScaleMV <= 0 {
		return fmt.Errorf("full scale must be positive, got %d mV", c.FullScaleMV)
	}
	return nil
}

// MaxCode is the largest valid raw code.
func (c Converter) MaxCode() uint16 {
	return uint16(1<<uint(c.ResolutionBits) - 1)
}

// Clamp limits raw to MaxCode, reporting whether it had to.
func (c Converter) Clamp(raw uint16) (uint16, bool) {
	if top := c.MaxCode(); raw > top {
		return top, true
	}
	return raw, false
}

// Millivolts converts a raw code, truncating toward zero.
func (c Converter) Millivolts(raw uint16) int {
	raw, _ = c.Clamp(raw)
	return int(raw) * c.FullScaleMV / int(c.MaxCode())
}

// DutyPercent converts millivolts to a duty cycle in [0,100].
func (c Converter) DutyPercent(mv int) uint32 {
	switch {
	case mv <= 0:
		return 0
	case mv >= c.FullScaleMV:
		return 100
	}
	return uint32(mv * 100 / c.FullScaleMV)
}
