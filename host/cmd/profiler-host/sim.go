package main

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"motorprofiler/host/report"
	"motorprofiler/motorsim"
	"motorprofiler/profiler"
	"motorprofiler/profiler/config"
	"motorprofiler/profiler/ott"
)

const (
	simCommissionMs = 60000
	simTuneMs       = 60000
	simDriveMs      = 3000
)

// simRunner ticks a session against the motor model as fast as the host
// can, simulated time only.
type simRunner struct {
	s     *profiler.Session
	m     *motorsim.Motor
	ratio int
}

// runWhile ticks until cond is false, ms of simulated time pass or ctx is
// cancelled.
func (r *simRunner) runWhile(ctx context.Context, ms int, cond func() bool) error {
	for i := 0; i < ms && cond(); i++ {
		if i%100 == 0 && ctx.Err() != nil {
			r.s.Stop()
			return ctx.Err()
		}
		for k := 0; k < r.ratio; k++ {
			r.s.FastTick()
		}
		r.s.MediumTick()
	}
	return nil
}

func runSim(ctx context.Context, cfg *config.Config, j job, sink report.Sink, logger golog.Logger) error {
	p := motorsim.DefaultParams()
	p.ControlFreqHz = int(cfg.FOCFrequencyHz())
	m, err := motorsim.New(p)
	if err != nil {
		return err
	}
	hw := profiler.Hardware{Sampler: m, Actuator: m, Faults: m, Temperature: m}
	if cfg.Encoder.Enabled || j.ppDetect {
		cfg.Encoder.Enabled = true
		cfg.Encoder.PulseNumber = uint32(p.EncoderPulses)
		hw.Encoder = m
	}
	s, err := profiler.NewSession(cfg, hw)
	if err != nil {
		return errors.Wrap(err, "session")
	}
	s.SetLogger(logger)
	r := &simRunner{s: s, m: m, ratio: int(cfg.FOCFrequencyHz() / cfg.Board.MFFreqHz)}

	logger.Infow("simulated motor", "rs", p.Rs, "ls", p.Ls, "ke", p.Ke(), "pole_pairs", p.PolePairs)
	if err := s.StartCommissioning(); err != nil {
		return errors.Wrap(err, "commissioning")
	}
	busy := func() bool { return s.Mode() == profiler.ModeCommissioning }
	if err := r.runWhile(ctx, simCommissionMs, busy); err != nil {
		return err
	}
	if err := sink.Publish(s.Result()); err != nil {
		return err
	}
	if s.Mode() == profiler.ModeFault {
		return errors.Errorf("commissioning stopped: %s", s.Fault())
	}

	if j.ppDetect {
		if err := s.StartPolePairDetection(); err != nil {
			return errors.Wrap(err, "pole pair detection")
		}
		if err := r.runWhile(ctx, simCommissionMs, busy); err != nil {
			return err
		}
		if err := sink.Publish(s.Result()); err != nil {
			return err
		}
	}

	if j.tune {
		if err := s.StartTuning(); err != nil {
			return errors.Wrap(err, "tuning")
		}
		err := r.runWhile(ctx, simTuneMs, func() bool {
			return s.Mode() == profiler.ModeDrive && s.OTT().State() != ott.StateEnd
		})
		s.Stop()
		if err != nil {
			return err
		}
		if err := sink.Publish(s.Result()); err != nil {
			return err
		}
	}

	if j.driveRPM != 0 {
		if err := s.StartDrive(j.driveRPM); err != nil {
			return errors.Wrap(err, "drive")
		}
		err := r.runWhile(ctx, simDriveMs, func() bool { return s.Mode() == profiler.ModeDrive })
		logger.Infow("drive", "target_rpm", j.driveRPM, "model_rpm", m.SpeedRPM(),
			"measured_rpm", s.SpeedRPM(), "mode", s.Mode().String())
		s.Stop()
		if err != nil {
			return err
		}
	}
	return nil
}
