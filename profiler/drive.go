package profiler

import (
	"motorprofiler/core"
	"motorprofiler/mc"
	"motorprofiler/mc/fixp"
	"motorprofiler/mc/revup"
	"motorprofiler/mc/stc"
)

// driveStage is the step of a closed-loop start.
type driveStage uint8

const (
	stageOff driveStage = iota
	stageAlign
	stageRevUp
	stageTransition
	stageRun
)

const (
	revupAlignMs      = 300
	revupRampMs       = 1000
	startSpeedDivisor = 4 // open-loop speed as a fraction of nominal
	obsStableTicks    = 20
	startTimeoutMs    = 3000
	unreliableTicks   = 200
	speedRampMs       = 1000
	startSpeedMargin  = 0.15
)

type driveState struct {
	stage    driveStage
	fb       mc.SpeedPosFeedback
	target   int16 // SpeedUnit
	torque   int16 // Iq reference, current digits
	angle    int16
	cnt      uint32
	stable   uint16
	badSpeed uint16
	tuning   bool
}

// StartDrive spins the motor in speed control to rpm. With an encoder the
// rotor is aligned first, otherwise it is started open loop and handed over
// to the observer.
func (s *Session) StartDrive(rpm int32) error {
	return s.startDrive(rpm, false)
}

// StartTuning spins the motor and runs the speed loop tuning. It forces a
// new tuning when one was already published.
func (s *Session) StartTuning() error {
	if !s.commissioned {
		return ErrNotCommissioned
	}
	s.ott.ForceTuning()
	s.lastOTT = s.ott.State()
	return s.startDrive(s.cfg.Motor.NominalSpeedRPM, true)
}

func (s *Session) startDrive(rpm int32, tuning bool) error {
	if !s.commissioned {
		return ErrNotCommissioned
	}
	if err := s.ready(); err != nil {
		return err
	}
	limit := s.cfg.Motor.NominalSpeedRPM * 3 / 2
	if rpm == 0 || rpm > limit || rpm < -limit {
		return ErrSpeedOutOfRange
	}

	d := &s.drive
	*d = driveState{target: mc.RPMToMecSpeedUnit(rpm), tuning: tuning}
	s.stc.Clear()
	s.pidIq.SetIntegralTerm(0)
	s.pidId.SetIntegralTerm(0)
	s.vss.Clear()

	if s.enc != nil {
		d.fb = s.enc
		d.stage = stageAlign
		s.align.SetFinalReference(s.cfg.MaxTorqueDigits() / 2)
		s.align.StartAlignment()
	} else {
		d.fb = s.vss
		d.stage = stageRevUp
		dir := int16(1)
		if rpm < 0 {
			dir = -1
		}
		start := mc.RPMToMecSpeedUnit(max(s.cfg.Motor.NominalSpeedRPM/startSpeedDivisor, 1))
		torque := s.cfg.MaxTorqueDigits() / 2
		s.revup.SetPhases([]revup.Phase{
			{DurationMs: revupAlignMs, FinalTorque: torque},
			{DurationMs: revupRampMs, FinalMecSpeedUnit: start, FinalTorque: torque},
		})
		s.revup.Clear(dir)
		s.obs.Clear()
	}
	s.enterMode(ModeDrive)
	return nil
}

// driveFast runs the current loops for one FOC period.
func (s *Session) driveFast() mc.AlphaBeta {
	d := &s.drive
	var ref mc.Qd
	switch d.stage {
	case stageAlign:
		d.angle = s.align.ElAngle()
		ref.D = s.align.Reference()
	case stageRevUp, stageTransition:
		d.angle = s.vss.CalcElAngle(s.obs.ElAngle())
		ref.Q = d.torque
	case stageRun:
		if s.enc != nil {
			d.angle = s.enc.CalcAngle()
		} else {
			d.angle = s.obs.ElAngle()
		}
		ref.Q = d.torque
	default:
		return mc.AlphaBeta{}
	}

	s.iqd = mc.Park(s.iab, d.angle)
	v := mc.Qd{
		Q: s.pidIq.PI(int32(ref.Q) - int32(s.iqd.Q)),
		D: s.pidId.PI(int32(ref.D) - int32(s.iqd.D)),
	}
	s.vqd = s.clm.Limit(v)
	vab := mc.RevPark(s.vqd, d.angle+d.fb.ElSpeedDpp()/2)
	if s.enc == nil {
		s.obs.CalcElAngle(s.iab, vab, s.bus.AvBusVoltageV())
	}
	return vab
}

// driveMF runs the start sequence and the speed loop for one medium tick.
func (s *Session) driveMF() {
	d := &s.drive
	d.cnt++
	switch d.stage {
	case stageAlign:
		if s.align.Exec() {
			s.closeSpeedLoop()
		}
	case stageRevUp:
		s.revupMF()
	case stageTransition:
		s.obs.CalcAvrgMecSpeedUnit()
		d.torque = s.revup.Torque()
		if !s.vss.TransitionEnded() {
			return
		}
		if !s.vss.TransitionLocked() {
			s.stopOutputs()
			s.enterFault(mc.FaultSpeedFdbk)
			return
		}
		d.fb = s.obs
		s.closeSpeedLoop()
	case stageRun:
		s.runMF()
	}
}

func (s *Session) revupMF() {
	d := &s.drive
	running := s.revup.Exec()
	d.torque = s.revup.Torque()
	obs, reliable := s.obs.CalcAvrgMecSpeedUnit()
	if running {
		return
	}
	ref := s.vss.AvrgMecSpeedUnit()
	if reliable && withinMargin(obs, ref, startSpeedMargin) {
		d.stable++
	} else {
		d.stable = 0
	}
	switch {
	case d.stable >= obsStableTicks:
		s.vss.SetStartTransition(true)
		d.stage = stageTransition
	case d.cnt > s.msToMF(startTimeoutMs):
		s.stopOutputs()
		s.enterFault(mc.FaultStartUp)
	}
}

// closeSpeedLoop switches from the start sequence to speed control without
// a torque step.
func (s *Session) closeSpeedLoop() {
	d := &s.drive
	d.stage = stageRun
	d.cnt = 0
	s.stc.SetControlMode(stc.ModeTorque)
	s.stc.SetTorqueRef(d.torque)
	s.stc.SetControlMode(stc.ModeSpeed)
	if d.tuning {
		s.ott.SR()
	} else {
		s.stc.ExecRamp(d.target, speedRampMs)
	}
	core.RecordEvent(core.EvtDriveMode, s.oid, s.ticks, uint32(ModeDrive), uint32(d.stage))
	s.log.Infow("speed loop closed", "rpm", mc.MecSpeedUnitToRPM(d.target), "tuning", d.tuning)
}

func (s *Session) runMF() {
	d := &s.drive
	if s.enc != nil {
		s.enc.CalcAvrgMecSpeedUnit()
	} else if _, reliable := s.obs.CalcAvrgMecSpeedUnit(); !reliable {
		d.badSpeed++
		if d.badSpeed > unreliableTicks {
			s.stopOutputs()
			s.enterFault(mc.FaultSpeedFdbk)
			return
		}
	} else {
		d.badSpeed = 0
	}
	d.torque = s.stc.CalcTorqueReference()
	if d.tuning {
		s.ott.MF()
	}
}

// SetSpeed ramps a running drive to rpm.
func (s *Session) SetSpeed(rpm int32, rampMs uint16) error {
	if s.mode != ModeDrive || s.drive.stage != stageRun || s.drive.tuning {
		return ErrBusy
	}
	target := mc.RPMToMecSpeedUnit(rpm)
	if !s.stc.ExecRamp(target, rampMs) {
		return ErrSpeedOutOfRange
	}
	s.drive.target = target
	return nil
}

// IsRunning reports whether the drive regulates speed.
func (s *Session) IsRunning() bool {
	return s.mode == ModeDrive && s.drive.stage == stageRun
}

func (s *Session) msToMF(ms uint32) uint32 {
	return max(ms*s.cfg.Board.MFFreqHz/1000, 1)
}

func withinMargin(v, ref int16, margin float32) bool {
	if ref == 0 {
		return false
	}
	diff := fixp.Abs(int32(v) - int32(ref))
	return float32(diff) <= margin*float32(fixp.Abs(int32(ref)))
}
