package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks every field for values the daemon cannot start with.
// All problems are reported together.
func (c Config) Validate() error {
	var errs []error

	if c.SamplePeriodMS <= 0 {
		errs = append(errs, fmt.Errorf("sample_period_ms must be positive, got %d", c.SamplePeriodMS))
	}
	if c.ResolutionBits < 1 || c.ResolutionBits > 16 {
		errs = append(errs, fmt.Errorf("resolution_bits must be 1..16, got %d", c.ResolutionBits))
	}
	if c.FullScaleMV <= 0 {
		errs = append(errs, fmt.Errorf("full_scale_mv must be positive, got %d", c.FullScaleMV))
	}
	if c.PWMPeriodUS <= 0 || c.PWMPeriodUS > MaxPWMPeriodUS {
		errs = append(errs, fmt.Errorf("pwm_period_us must be in 1..%d, got %d", MaxPWMPeriodUS, c.PWMPeriodUS))
	}
	if c.HeartbeatMS < 0 {
		errs = append(errs, fmt.Errorf("heartbeat_ms must not be negative, got %d", c.HeartbeatMS))
	}

	if !oneOf(c.ADC.Backend, ADCBackendIIO, ADCBackendSim) {
		errs = append(errs, fmt.Errorf("adc.backend must be one of iio, sim, got %q", c.ADC.Backend))
	}
	if c.ADC.Channel < 0 {
		errs = append(errs, fmt.Errorf("adc.channel must not be negative, got %d", c.ADC.Channel))
	}
	if !oneOf(c.PWM.Backend, PWMBackendSysfs, PWMBackendGPIO, PWMBackendFake) {
		errs = append(errs, fmt.Errorf("pwm.backend must be one of sysfs, gpio, fake, got %q", c.PWM.Backend))
	}
	if c.PWM.Channel < 0 {
		errs = append(errs, fmt.Errorf("pwm.channel must not be negative, got %d", c.PWM.Channel))
	}

	if c.MQTT.Broker != "" {
		if c.MQTT.BufferSize <= 0 {
			errs = append(errs, fmt.Errorf("mqtt.buffer_size must be positive, got %d", c.MQTT.BufferSize))
		}
		if strings.TrimSpace(c.MQTT.TopicPrefix) == "" {
			errs = append(errs, errors.New("mqtt.topic_prefix is required when a broker is set"))
		}
	}

	// Enum strings are checked by the conversion itself.
	if len(errs) == 0 {
		if _, err := c.Pipeline(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
