// Package config holds the daemon configuration: documented defaults,
// YAML file loading and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/adc-pwm-pipeline/internal/adc"
	"github.com/sweeney/adc-pwm-pipeline/internal/coupling"
	"github.com/sweeney/adc-pwm-pipeline/internal/pipeline"
	"github.com/sweeney/adc-pwm-pipeline/internal/pwm"
	"github.com/sweeney/adc-pwm-pipeline/internal/schedule"
)

// ADC backends.
const (
	ADCBackendIIO = "iio"
	ADCBackendSim = "sim"
)

// MaxPWMPeriodUS is the longest PWM period accepted, one second.
const MaxPWMPeriodUS = 1_000_000

// PWM backends.
const (
	PWMBackendSysfs = "sysfs"
	PWMBackendGPIO  = "gpio"
	PWMBackendFake  = "fake"
)

// Config is the complete daemon configuration.
type Config struct {
	Coupling       string `yaml:"coupling"`         // channel, signal
	SamplePeriodMS int    `yaml:"sample_period_ms"` // sampler period P
	OverrunPolicy  string `yaml:"overrun_policy"`   // accumulate_drift, skip_to_next_slot, catch_up_immediately
	FullScaleMV    int    `yaml:"full_scale_mv"`
	ResolutionBits int    `yaml:"resolution_bits"`
	PWMPeriodUS    int    `yaml:"pwm_period_us"`
	ActuatorSource string `yaml:"actuator_source"` // value, latest

	ADC  ADCConfig  `yaml:"adc"`
	PWM  PWMConfig  `yaml:"pwm"`
	MQTT MQTTConfig `yaml:"mqtt"`

	HeartbeatMS int    `yaml:"heartbeat_ms"` // 0 disables
	HTTPAddr    string `yaml:"http_addr"`    // empty disables
	LogLevel    string `yaml:"log_level"`
}

// ADCConfig selects and configures the sensor driver.
type ADCConfig struct {
	Backend string `yaml:"backend"` // iio, sim
	Device  string `yaml:"device"`  // IIO device directory
	Channel int    `yaml:"channel"`
}

// PWMConfig selects and configures the actuation driver.
type PWMConfig struct {
	Backend  string `yaml:"backend"`  // sysfs, gpio, fake
	Chip     string `yaml:"chip"`     // pwmchipN or gpiochipN; empty picks the backend default
	Channel  int    `yaml:"channel"`  // PWM channel or GPIO line offset
	Polarity string `yaml:"polarity"` // normal, inversed
}

// MQTTConfig contains telemetry broker settings.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // empty disables telemetry
	TopicPrefix string `yaml:"topic_prefix"`
	BufferSize  int    `yaml:"buffer_size"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Coupling:       string(coupling.KindChannel),
		SamplePeriodMS: 1000,
		OverrunPolicy:  schedule.AccumulateDrift.String(),
		FullScaleMV:    3000,
		ResolutionBits: 10,
		PWMPeriodUS:    1000,
		ActuatorSource: string(pipeline.SourceValue),
		ADC: ADCConfig{
			Backend: ADCBackendSim,
			Device:  adc.DefaultIIODevice,
			Channel: 1,
		},
		PWM: PWMConfig{
			Backend:  PWMBackendFake,
			Polarity: pwm.PolarityNormal.String(),
		},
		MQTT: MQTTConfig{
			TopicPrefix: "pipeline/adc-pwm",
			BufferSize:  100,
		},
		HeartbeatMS: 900000,
		HTTPAddr:    ":8080",
		LogLevel:    "info",
	}
}

// Load reads path and decodes it over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. Unknown keys are an error.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SamplePeriod returns the sampler period as a duration.
func (c Config) SamplePeriod() time.Duration {
	return time.Duration(c.SamplePeriodMS) * time.Millisecond
}

// Heartbeat returns the heartbeat interval; zero means disabled.
func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMS) * time.Millisecond
}

// ChipName returns the configured chip, or the backend's usual first chip.
func (p PWMConfig) ChipName() string {
	switch {
	case p.Chip != "":
		return p.Chip
	case p.Backend == PWMBackendGPIO:
		return "gpiochip0"
	}
	return "pwmchip0"
}

// Pipeline converts the file-level settings into a pipeline.Config.
func (c Config) Pipeline() (pipeline.Config, error) {
	kind, err := coupling.ParseKind(c.Coupling)
	if err != nil {
		return pipeline.Config{}, err
	}
	policy, err := schedule.ParseOverrunPolicy(c.OverrunPolicy)
	if err != nil {
		return pipeline.Config{}, err
	}
	polarity, err := pwm.ParsePolarity(c.PWM.Polarity)
	if err != nil {
		return pipeline.Config{}, err
	}
	source, err := pipeline.ParseSource(c.ActuatorSource)
	if err != nil {
		return pipeline.Config{}, err
	}
	if c.PWMPeriodUS <= 0 || c.PWMPeriodUS > MaxPWMPeriodUS {
		return pipeline.Config{}, fmt.Errorf("pwm_period_us must be in 1..%d, got %d", MaxPWMPeriodUS, c.PWMPeriodUS)
	}

	pc := pipeline.Config{
		Period:   c.SamplePeriod(),
		Overrun:  policy,
		Coupling: kind,
		Converter: pipeline.Converter{
			FullScaleMV:    c.FullScaleMV,
			ResolutionBits: c.ResolutionBits,
		},
		PWMPeriodUs:    uint32(c.PWMPeriodUS),
		Polarity:       polarity,
		ActuatorSource: source,
	}
	return pc, pc.Validate()
}
