package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"motorprofiler/host/mcu"
	"motorprofiler/host/report"
	"motorprofiler/host/serial"
	"motorprofiler/profiler/config"
)

var (
	configPath = flag.String("config", "", "Profiler configuration file (JSON)")
	device     = flag.String("device", "", "Serial device path, overrides the configuration")
	baud       = flag.Int("baud", 0, "Baud rate (ignored for USB CDC)")
	broker     = flag.String("mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	topic      = flag.String("topic", "", "MQTT topic for profiles")
	simulate   = flag.Bool("sim", false, "Run against the built-in motor model instead of a board")
	ppDetect   = flag.Bool("pp", false, "Count pole pairs with the encoder after commissioning")
	tune       = flag.Bool("tune", false, "Tune the speed loop after commissioning")
	driveRPM   = flag.Int("drive", 0, "Spin at this speed after profiling (rpm, 0 = no)")
	verbose    = flag.Bool("verbose", false, "Debug logging and print the firmware dictionary")
)

func main() {
	flag.Parse()
	logger := newLogger(*verbose)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalw("bad configuration", "error", err)
	}

	sinks := report.Multi{report.NewWriter(os.Stdout)}
	if cfg.Host.MQTTBroker != "" {
		p, err := report.NewMQTT(cfg.Host, logger)
		if err != nil {
			logger.Fatalw("mqtt unavailable", "error", err)
		}
		sinks = append(sinks, p)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job := job{ppDetect: *ppDetect, tune: *tune, driveRPM: int32(*driveRPM)}
	var closers []func() error
	if *simulate || cfg.Host.Simulate {
		err = runSim(ctx, cfg, job, sinks, logger)
	} else {
		m := mcu.NewMCU(logger)
		if err = m.Connect(serial.FromHostConfig(cfg.Host)); err == nil {
			closers = append(closers, m.Close)
			err = runBoard(ctx, m, cfg, job, sinks, logger)
		}
	}

	closers = append(closers, sinks.Close)
	for _, c := range closers {
		err = multierr.Append(err, c())
	}
	if err != nil {
		logger.Errorw("profiling failed", "error", err)
		os.Exit(1)
	}
}

// newLogger builds a development logger, at info level unless verbose.
func newLogger(verbose bool) golog.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return golog.NewDevelopmentLogger("profiler-host")
	}
	return l.Sugar().Named("profiler-host")
}

// loadConfig reads the configuration file, if any, and applies the flags
// on top of it.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfigFile(*configPath); err != nil {
			return nil, fmt.Errorf("%s: %w", *configPath, err)
		}
	}
	if *device != "" {
		cfg.Host.SerialDevice = *device
	}
	if *baud != 0 {
		cfg.Host.Baud = *baud
	}
	if *broker != "" {
		cfg.Host.MQTTBroker = *broker
	}
	if *topic != "" {
		cfg.Host.MQTTTopic = *topic
	}
	return cfg, nil
}

// job is what to do after commissioning.
type job struct {
	ppDetect bool
	tune     bool
	driveRPM int32
}
