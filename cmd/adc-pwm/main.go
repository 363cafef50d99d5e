// Command adc-pwm samples an analog input periodically, filters it and drives
// a PWM output from the result.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/adc-pwm-pipeline/internal/adc"
	"github.com/sweeney/adc-pwm-pipeline/internal/config"
	"github.com/sweeney/adc-pwm-pipeline/internal/logging"
	"github.com/sweeney/adc-pwm-pipeline/internal/metrics"
	"github.com/sweeney/adc-pwm-pipeline/internal/mqtt"
	"github.com/sweeney/adc-pwm-pipeline/internal/pipeline"
	"github.com/sweeney/adc-pwm-pipeline/internal/pwm"
	"github.com/sweeney/adc-pwm-pipeline/internal/schedule"
	"github.com/sweeney/adc-pwm-pipeline/internal/status"
	"github.com/sweeney/adc-pwm-pipeline/internal/web"
)

// simStep is how far the simulated input moves per sample.
const simStep = 31

func main() {
	cfg, printSample, err := loadConfig(os.Args[1:])
	if err != nil {
		// No configured logger yet.
		l := logging.Default()
		l.Error().Err(err).Msg("startup failed")
		os.Exit(2)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, isatty.IsTerminal(os.Stderr.Fd()))
	if err := run(cfg, printSample, logger, os.Stdout); err != nil {
		logger.Fatal().Err(err).Msg("fatal")
	}
}

// loadConfig reads the optional config file and applies the flags the user
// actually set on top of it.
func loadConfig(args []string) (config.Config, bool, error) {
	fs := flag.NewFlagSet("adc-pwm", flag.ContinueOnError)
	path := fs.String("config", "", "YAML config file (defaults apply when empty)")
	coupling := fs.String("coupling", "", "Stage coupling: channel or signal")
	period := fs.Duration("period", 0, "Sampler period")
	overrun := fs.String("overrun", "", "Overrun policy: accumulate_drift, skip_to_next_slot, catch_up_immediately")
	adcBackend := fs.String("adc", "", "ADC backend: iio or sim")
	pwmBackend := fs.String("pwm", "", "PWM backend: sysfs, gpio or fake")
	broker := fs.String("broker", "", `MQTT broker address ("off" disables)`)
	httpAddr := fs.String("http", "", `HTTP status address ("off" disables)`)
	logLevel := fs.String("log-level", "", "Log level: trace, debug, info, warn, error")
	printSample := fs.Bool("print-sample", false, "Print one sample and the duty it maps to, then exit")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, false, err
	}

	cfg := config.Default()
	if *path != "" {
		var err error
		if cfg, err = config.Load(*path); err != nil {
			return config.Config{}, false, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "coupling":
			cfg.Coupling = *coupling
		case "period":
			cfg.SamplePeriodMS = int(period.Milliseconds())
		case "overrun":
			cfg.OverrunPolicy = *overrun
		case "adc":
			cfg.ADC.Backend = *adcBackend
		case "pwm":
			cfg.PWM.Backend = *pwmBackend
		case "broker":
			cfg.MQTT.Broker = offToEmpty(*broker)
		case "http":
			cfg.HTTPAddr = offToEmpty(*httpAddr)
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, false, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, *printSample, nil
}

func offToEmpty(s string) string {
	if s == "off" {
		return ""
	}
	return s
}

func run(cfg config.Config, printSample bool, logger zerolog.Logger, stdout io.Writer) error {
	pcfg, err := cfg.Pipeline()
	if err != nil {
		return err
	}

	reader := openReader(cfg, logger)
	defer reader.Close()

	// Print sample mode
	if printSample {
		return printOneSample(reader, pcfg.Converter, stdout)
	}

	driver := openDriver(cfg, logger)
	defer driver.Close()

	runID := uuid.NewString()
	logger = logger.With().Str("run_id", runID).Logger()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		RunID:          runID,
		Coupling:       cfg.Coupling,
		PeriodMs:       int64(cfg.SamplePeriodMS),
		OverrunPolicy:  cfg.OverrunPolicy,
		ActuatorSource: cfg.ActuatorSource,
		ADCBackend:     cfg.ADC.Backend,
		PWMBackend:     cfg.PWM.Backend,
		PWMPeriodUs:    pcfg.PWMPeriodUs,
		HeartbeatMs:    int64(cfg.HeartbeatMS),
		Broker:         cfg.MQTT.Broker,
		HTTPAddr:       cfg.HTTPAddr,
	})
	recorder := metrics.NewRecorder()

	// Initialize MQTT
	var publisher mqtt.Publisher
	var connStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.MQTT.Broker,
			ClientID:           "adc-pwm-" + runID[:8],
			Topics:             mqtt.NewTopics(cfg.MQTT.TopicPrefix),
			BufferSize:         cfg.MQTT.BufferSize,
			Logger:             logging.Component(logger, "mqtt"),
			OnConnectionChange: tracker.SetMQTTConnected,
		})
		if err != nil {
			// Telemetry is optional; the control loop runs without it.
			logger.Error().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt unavailable, telemetry disabled")
		} else {
			defer rp.Close()
			publisher, connStatus = rp, rp
			if err := recorder.RegisterTelemetry(rp.Buffered, rp.Dropped); err != nil {
				logger.Warn().Err(err).Msg("telemetry metrics not registered")
			}
		}
	}

	// Start HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, recorder.Registry())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http status server listening")
	}

	var heartbeat <-chan time.Time
	if hb := cfg.Heartbeat(); hb > 0 {
		ticker := time.NewTicker(hb)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return runLoop(context.Background(), daemon{
		cfg:        pcfg,
		reader:     reader,
		driver:     driver,
		publisher:  publisher,
		connStatus: connStatus,
		tracker:    tracker,
		recorder:   recorder,
		log:        logger,
		now:        time.Now,
		heartbeat:  heartbeat,
		sig:        sigCh,
	})
}

func openReader(cfg config.Config, logger zerolog.Logger) adc.Reader {
	if cfg.ADC.Backend != config.ADCBackendIIO {
		logger.Info().Msg("using simulated adc")
		return adc.NewSimReader(cfg.ResolutionBits, simStep)
	}
	r, err := adc.OpenIIO(cfg.ADC.Device, cfg.ADC.Channel)
	if err != nil {
		logger.Error().Err(err).Str("device", cfg.ADC.Device).Int("channel", cfg.ADC.Channel).Msg("adc bind failed, sampling degraded")
		return adc.Unbound{Cause: err}
	}
	logger.Info().Str("device", cfg.ADC.Device).Int("channel", cfg.ADC.Channel).Msg("adc bound")
	return r
}

func openDriver(cfg config.Config, logger zerolog.Logger) pwm.Driver {
	chip := cfg.PWM.ChipName()
	var (
		d   pwm.Driver
		err error
	)
	switch cfg.PWM.Backend {
	case config.PWMBackendSysfs:
		d, err = pwm.OpenSysfs(pwm.DefaultSysfsRoot, chip, cfg.PWM.Channel)
	case config.PWMBackendGPIO:
		d, err = pwm.OpenSoft(chip, cfg.PWM.Channel)
	default:
		logger.Info().Msg("using fake pwm driver")
		return pwm.NewFakeDriver()
	}
	if err != nil {
		logger.Error().Err(err).Str("chip", chip).Int("channel", cfg.PWM.Channel).Msg("pwm bind failed, actuation degraded")
		return pwm.Unbound{Cause: err}
	}
	logger.Info().Str("backend", cfg.PWM.Backend).Str("chip", chip).Int("channel", cfg.PWM.Channel).Msg("pwm bound")
	return d
}

func printOneSample(reader adc.Reader, conv pipeline.Converter, w io.Writer) error {
	raw, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read adc: %w", err)
	}
	raw, over := conv.Clamp(raw)
	mv := conv.Millivolts(raw)
	fmt.Fprintf(w, "raw: %d, mv: %d, duty: %d%%", raw, mv, conv.DutyPercent(mv))
	if over {
		fmt.Fprint(w, " (out of range, clamped)")
	}
	fmt.Fprintln(w)
	return nil
}

// daemon holds everything runLoop needs. Channels are injected so tests
// can drive heartbeats and signals.
type daemon struct {
	cfg        pipeline.Config
	reader     adc.Reader
	driver     pwm.Driver
	publisher  mqtt.Publisher        // nil disables telemetry
	connStatus mqtt.ConnectionStatus // may be nil
	tracker    *status.Tracker
	recorder   *metrics.Recorder // may be nil
	log        zerolog.Logger
	now        func() time.Time
	clock      schedule.Clock // nil means the wall clock
	maxSamples uint64         // 0 is unbounded
	heartbeat  <-chan time.Time
	sig        <-chan os.Signal
}

// runLoop runs the pipeline and lifecycle telemetry until a signal arrives
// or ctx ends. It publishes STARTUP before the first sample, HEARTBEAT on
// every tick and SHUTDOWN after the tasks have stopped.
func runLoop(ctx context.Context, d daemon) error {
	observers := pipeline.Observers{d.tracker}
	if d.recorder != nil {
		observers = append(observers, d.recorder)
	}
	var forwarder *mqtt.Forwarder
	if d.publisher != nil {
		forwarder = mqtt.NewForwarder(d.publisher, logging.Component(d.log, "telemetry"))
		observers = append(observers, forwarder)
	}

	opts := []pipeline.Option{
		pipeline.WithObserver(observers),
		pipeline.WithLogger(d.log),
	}
	if d.clock != nil {
		opts = append(opts, pipeline.WithClock(d.clock))
	}
	if d.maxSamples > 0 {
		opts = append(opts, pipeline.WithMaxSamples(d.maxSamples))
	}
	p, err := pipeline.New(d.cfg, d.reader, d.driver, opts...)
	if err != nil {
		return err
	}
	d.tracker.SetCouplingSource(p.Stats)
	if d.recorder != nil {
		if err := d.recorder.RegisterCoupling(p.Stats); err != nil {
			d.log.Warn().Err(err).Msg("coupling metrics not registered")
		}
	}

	publishSystem(d, "STARTUP", "", true)

	pctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(pctx)
	g.Go(func() error { return p.Run(gctx) })
	if forwarder != nil {
		g.Go(func() error { return forwarder.Run(gctx) })
	}

	reason := ""
loop:
	for {
		select {
		case s := <-d.sig:
			reason = signalName(s)
			d.log.Info().Str("signal", reason).Msg("shutting down")
			break loop

		case <-ctx.Done():
			reason = "CONTEXT"
			break loop

		case <-gctx.Done():
			// A task failed; its error is returned by Wait below.
			reason = "ERROR"
			break loop

		case <-d.heartbeat:
			snap := d.tracker.Snapshot()
			d.log.Info().
				Dur("uptime", snap.Uptime()).
				Uint64("samples", snap.Counts.Samples).
				Uint64("actuations", snap.Counts.Actuations).
				Uint64("read_errors", snap.Counts.ReadErrors).
				Uint64("write_errors", snap.Counts.WriteErrors).
				Uint64("overruns", snap.Counts.Overruns).
				Msg("heartbeat")
			publishSystem(d, "HEARTBEAT", "", false)
		}
	}

	stop()
	err = g.Wait()

	st := p.Stats()
	d.log.Info().
		Uint64("samples", st.Samples.Sent).
		Uint64("overwritten", st.Samples.Overwritten+st.Filtered.Overwritten).
		Msg("pipeline stopped")
	publishSystem(d, "SHUTDOWN", reason, true)
	return err
}

func publishSystem(d daemon, event, reason string, retained bool) {
	if d.publisher == nil {
		return
	}
	if d.connStatus != nil {
		d.tracker.SetMQTTConnected(d.connStatus.IsConnected())
	}
	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		d.log.Warn().Err(err).Str("event", event).Msg("failed to publish system event")
		return
	}
	d.log.Debug().Str("event", event).Msg("published system event")
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
