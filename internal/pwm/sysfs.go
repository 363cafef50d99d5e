package pwm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultSysfsRoot is where the kernel exposes PWM chips.
const DefaultSysfsRoot = "/sys/class/pwm"

// SysfsDriver drives one channel of a Linux PWM chip through sysfs.
type SysfsDriver struct {
	chipDir string
	dir     string
	channel int

	periodNs int64
	polarity Polarity
	enabled  bool
}

// OpenSysfs exports channel on chip (e.g. "pwmchip0") under root and returns
// a driver for it. Binding fails with ErrNotBound if the chip is missing or
// the channel cannot be exported.
func OpenSysfs(root, chip string, channel int) (*SysfsDriver, error) {
	chipDir := filepath.Join(root, chip)
	if _, err := os.Stat(chipDir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotBound, err)
	}

	dir := filepath.Join(chipDir, fmt.Sprintf("pwm%d", channel))
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := writeAttr(filepath.Join(chipDir, "export"), strconv.Itoa(channel)); err != nil {
			return nil, fmt.Errorf("%w: export channel %d: %v", ErrNotBound, channel, err)
		}
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("%w: channel %d not exported: %v", ErrNotBound, channel, err)
		}
	}

	return &SysfsDriver{chipDir: chipDir, dir: dir, channel: channel, periodNs: -1}, nil
}

// SetDuty programs period, polarity and duty cycle, enabling the output on
// first use. The kernel rejects a duty cycle longer than the period, so the
// duty cycle is zeroed before the period changes.
func (d *SysfsDriver) SetDuty(periodUs, dutyPercent uint32, polarity Polarity) error {
	periodNs := int64(periodUs) * 1000
	dutyNs := PulseWidth(periodUs, dutyPercent).Nanoseconds()

	if periodNs != d.periodNs || polarity != d.polarity || !d.enabled {
		if d.enabled && polarity != d.polarity {
			// Polarity can only change while disabled.
			if err := d.write("enable", "0"); err != nil {
				return err
			}
			d.enabled = false
		}
		if err := d.write("duty_cycle", "0"); err != nil {
			return err
		}
		if err := d.write("period", strconv.FormatInt(periodNs, 10)); err != nil {
			return err
		}
		d.periodNs = periodNs
		if !d.enabled {
			if err := d.write("polarity", polarity.String()); err != nil {
				return err
			}
			d.polarity = polarity
		}
	}

	if err := d.write("duty_cycle", strconv.FormatInt(dutyNs, 10)); err != nil {
		return err
	}
	if !d.enabled {
		if err := d.write("enable", "1"); err != nil {
			return err
		}
		d.enabled = true
	}
	return nil
}

// Close disables the output and unexports the channel.
func (d *SysfsDriver) Close() error {
	var errs []error
	if err := d.write("enable", "0"); err != nil {
		errs = append(errs, err)
	}
	if err := writeAttr(filepath.Join(d.chipDir, "unexport"), strconv.Itoa(d.channel)); err != nil {
		errs = append(errs, fmt.Errorf("unexport: %w", err))
	}
	return errors.Join(errs...)
}

func (d *SysfsDriver) write(attr, value string) error {
	if err := writeAttr(filepath.Join(d.dir, attr), value); err != nil {
		return fmt.Errorf("%w: %s=%s: %v", ErrWrite, attr, value, err)
	}
	return nil
}

func writeAttr(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}
