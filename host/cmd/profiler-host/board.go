package main

import (
	"context"
	"os"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"motorprofiler/host/mcu"
	"motorprofiler/host/report"
	"motorprofiler/profiler"
	"motorprofiler/profiler/config"
	"motorprofiler/profiler/ott"
	"motorprofiler/profiler/scc"
	"motorprofiler/protocol"
)

const pollInterval = 200 * time.Millisecond

func runBoard(ctx context.Context, m *mcu.MCU, cfg *config.Config, j job, sink report.Sink, logger golog.Logger) error {
	if err := m.RetrieveDictionary(); err != nil {
		return err
	}
	if *verbose {
		m.PrintDictionary(os.Stdout)
	}

	mp := protocol.MotorParams{
		PolePairs:      cfg.Motor.PolePairs,
		NominalCurrent: uint32(cfg.Motor.NominalCurrentA * 1000),
		NominalSpeed:   cfg.Motor.NominalSpeedRPM,
		LdLq:           uint32(cfg.Motor.LdLqRatio * 1000),
		Bandwidth:      uint32(cfg.SCC.CurrentBandwidth * 1000),
	}
	if err := m.SetMotorParams(mp); err != nil {
		return err
	}

	state, err := m.SCCCommand(scc.CmdSCStart)
	if err != nil {
		return err
	}
	logger.Infow("commissioning started", "state", state.String())
	p, err := waitIdle(ctx, m)
	if err != nil {
		return err
	}
	r := profiler.ResultFromProfile(p)
	if err := sink.Publish(r); err != nil {
		return err
	}
	if profiler.Mode(p.Mode) == profiler.ModeFault {
		return errors.Errorf("commissioning stopped: %s", r.Fault)
	}

	if j.ppDetect {
		if _, err := m.SCCCommand(scc.CmdPPDStart); err != nil {
			return err
		}
		if p, err = waitIdle(ctx, m); err != nil {
			return err
		}
		if err := sink.Publish(profiler.ResultFromProfile(p)); err != nil {
			return err
		}
	}

	if j.tune {
		if err := tuneBoard(ctx, m, logger); err != nil {
			return err
		}
		if p, err = m.QueryProfile(); err != nil {
			return err
		}
		if err := sink.Publish(profiler.ResultFromProfile(p)); err != nil {
			return err
		}
	}

	if j.driveRPM != 0 {
		if err := m.StartDrive(j.driveRPM); err != nil {
			return err
		}
		logger.Infow("driving, interrupt to stop", "rpm", j.driveRPM)
		<-ctx.Done()
		return m.StopDrive()
	}
	return nil
}

// waitIdle polls the profile until the firmware leaves commissioning.
func waitIdle(ctx context.Context, m *mcu.MCU) (protocol.ProfileResult, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.SCCCommand(scc.CmdSCStop)
			return protocol.ProfileResult{}, ctx.Err()
		case <-ticker.C:
		}
		p, err := m.QueryProfile()
		if err != nil {
			return p, err
		}
		if profiler.Mode(p.Mode) != profiler.ModeCommissioning {
			return p, nil
		}
	}
}

func tuneBoard(ctx context.Context, m *mcu.MCU, logger golog.Logger) error {
	ts, err := m.StartTuning()
	if err != nil {
		return err
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	last := ott.State(ts.State)
	for !ts.Tuned {
		select {
		case <-ctx.Done():
			m.StopDrive()
			return ctx.Err()
		case <-ticker.C:
		}
		if ts, err = m.QueryTuning(); err != nil {
			return err
		}
		if s := ott.State(ts.State); s != last {
			logger.Infow("tuning", "state", s.String(), "nominal_rpm", ts.NominalSpeed)
			last = s
		}
		if ts.Tuned {
			break
		}
		p, err := m.QueryProfile()
		if err != nil {
			return err
		}
		if profiler.Mode(p.Mode) != profiler.ModeDrive {
			return errors.Errorf("tuning stopped in %s: %s", last, profiler.ResultFromProfile(p).Fault)
		}
	}
	return m.StopDrive()
}
