// Package profiler owns every motor-control object of one motor and runs
// them from two tick entry points: FastTick at the FOC rate and MediumTick at
// the medium frequency. A Session commissions the motor, tunes its speed loop
// and drives it in closed loop with the measured parameters.
package profiler

import (
	"errors"

	"motorprofiler/core"
	"motorprofiler/mc"
	"motorprofiler/mc/busvoltage"
	"motorprofiler/mc/circlelimit"
	"motorprofiler/mc/encoder"
	"motorprofiler/mc/ntc"
	"motorprofiler/mc/observer"
	"motorprofiler/mc/pid"
	"motorprofiler/mc/revup"
	"motorprofiler/mc/stc"
	"motorprofiler/mc/vss"
	"motorprofiler/profiler/config"
	"motorprofiler/profiler/ott"
	"motorprofiler/profiler/rsest"
	"motorprofiler/profiler/scc"
)

var (
	ErrNoHardware       = errors.New("profiler: sampler and actuator are required")
	ErrBusy             = errors.New("profiler: session is busy")
	ErrNotCommissioned  = errors.New("profiler: motor parameters unknown")
	ErrInvalidMotor     = errors.New("profiler: invalid motor parameters")
	ErrNoEncoder        = errors.New("profiler: no encoder")
	ErrSpeedOutOfRange  = errors.New("profiler: speed out of range")
	ErrFaultNotCleared  = errors.New("profiler: fault still active")
	ErrInvalidPolePairs = errors.New("profiler: invalid pole pairs")
)

// Mode is what the session is doing.
type Mode uint8

const (
	ModeIdle Mode = iota
	ModeCommissioning
	ModeDrive
	ModeFault
)

var modeNames = [...]string{"idle", "commissioning", "drive", "fault"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

// Hardware is the board the session runs on. Sampler and Actuator are
// required; a nil Faults, Encoder or Temperature means the board has none.
type Hardware struct {
	Sampler     mc.PhaseSampler
	Actuator    mc.VoltageActuator
	Faults      mc.FaultSource
	Encoder     mc.CounterSource
	Temperature mc.TemperatureSource
}

// faultClearer is implemented by fault sources that latch.
type faultClearer interface {
	ClearFaults()
}

// Session is the arena holding every component of one motor.
type Session struct {
	cfg *config.Config
	hw  Hardware
	log Logger
	oid uint8

	vss    *vss.Sensor
	clm    *circlelimit.Limiter
	pidIq  *pid.Regulator
	pidId  *pid.Regulator
	pidSpd *pid.Regulator
	revup  *revup.Controller
	obs    *observer.Observer
	enc    *encoder.Sensor
	align  *encoder.Aligner
	bus    *busvoltage.Sensor
	temp   *ntc.Sensor
	stc    *stc.Controller
	ott    *ott.Tuner
	rsest  *rsest.Estimator
	scc    *scc.Controller

	mode   Mode
	fault  mc.FaultCode
	ticks  uint32
	sample mc.PhaseSample
	iab    mc.AlphaBeta
	iqd    mc.Qd
	vqd    mc.Qd
	vab    mc.AlphaBeta

	// commissioning
	ppd     bool
	lastSCC scc.State
	lastOTT ott.State

	// measured or applied motor parameters
	commissioned bool
	rsOhm        float32
	lsHenry      float32

	drive driveState
}

// NewSession builds every component from cfg.
func NewSession(cfg *config.Config, hw Hardware) (*Session, error) {
	if hw.Sampler == nil || hw.Actuator == nil {
		return nil, ErrNoHardware
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{cfg: cfg, hw: hw, log: debugLogger{}}
	mfHz := cfg.Board.MFFreqHz
	maxTorque := cfg.MaxTorqueDigits()

	s.vss = vss.New(cfg.VSSParams())
	s.clm = circlelimit.New(cfg.Board.MaxModule, cfg.Board.MaxVd)
	s.pidIq = pid.New(pid.Params{})
	s.pidId = pid.New(pid.Params{})
	s.pidSpd = pid.New(pid.Params{})
	s.pidSpd.SetFloatGains(cfg.OTT.SpdKp, cfg.OTT.SpdKi)
	s.revup = revup.New(mfHz, s.vss)
	s.obs = observer.New(cfg.ObserverParams())
	s.bus = busvoltage.New(cfg.BusVoltageParams())
	s.temp = ntc.New(cfg.NTCParams())
	if hw.Encoder != nil && cfg.Encoder.Enabled {
		s.enc = encoder.New(cfg.EncoderParams(), hw.Encoder)
		s.align = encoder.NewAligner(cfg.AlignParams(), s.enc, s.vss)
	}

	maxSpeed := mc.RPMToMecSpeedUnit(cfg.Motor.NominalSpeedRPM * 3 / 2)
	s.stc = stc.New(stc.Params{
		FrequencyHz:         mfHz,
		MaxAppPositiveSpeed: maxSpeed,
		MinAppNegativeSpeed: -maxSpeed,
		MaxPositiveTorque:   maxTorque,
		MinNegativeTorque:   -maxTorque,
		DefaultMode:         stc.ModeSpeed,
	}, s.pidSpd, s)
	s.ott = ott.New(cfg.OTTParams(), s, s.stc, s)

	sccDeps := scc.Deps{
		VSS:        s.vss,
		CLM:        s.clm,
		PIDIq:      s.pidIq,
		PIDId:      s.pidId,
		RevUp:      s.revup,
		Observer:   s.obs,
		OTT:        s.ott,
		BusVoltage: s.bus,
	}
	if s.enc != nil {
		sccDeps.Encoder = s.enc
		sccDeps.Aligner = s.align
	}
	var err error
	if s.scc, err = scc.New(cfg.SCCParams(), sccDeps); err != nil {
		return nil, err
	}
	if cfg.Motor.RsRatedOhm > 0 {
		if s.rsest, err = rsest.New(cfg.RSESTParams(0)); err != nil {
			return nil, err
		}
	}
	s.drive.fb = s.vss
	return s, nil
}

// SetLogger replaces the logger. nil restores the debug channel logger.
func (s *Session) SetLogger(l Logger) {
	if l == nil {
		l = debugLogger{}
	}
	s.log = l
}

// SetOID sets the object id tagged on recorded events.
func (s *Session) SetOID(oid uint8) { s.oid = oid }

// Config returns the configuration in use.
func (s *Session) Config() *config.Config { return s.cfg }

// Mode returns what the session is doing.
func (s *Session) Mode() Mode { return s.mode }

// Fault returns the faults that stopped the session.
func (s *Session) Fault() mc.FaultCode { return s.fault }

// SCC returns the commissioning controller.
func (s *Session) SCC() *scc.Controller { return s.scc }

// OTT returns the speed loop tuner.
func (s *Session) OTT() *ott.Tuner { return s.ott }

// RSEST returns the resistance estimator, nil until the motor resistance is
// known.
func (s *Session) RSEST() *rsest.Estimator { return s.rsest }

// BusVoltage returns the bus voltage sensor.
func (s *Session) BusVoltage() *busvoltage.Sensor { return s.bus }

// Temperature returns the temperature sensor.
func (s *Session) Temperature() *ntc.Sensor { return s.temp }

// Speed returns the speed controller.
func (s *Session) Speed() *stc.Controller { return s.stc }

// FastTick runs one FOC period: sample, compute, apply. It must not run
// concurrently with MediumTick.
func (s *Session) FastTick() {
	s.ticks++
	s.sample = s.hw.Sampler.Sample()
	s.iab = mc.Clarke(s.sample.Currents())
	active := s.mode == ModeCommissioning || s.mode == ModeDrive

	if f := s.hardwareFaults(); f != mc.NoError && active {
		s.hw.Actuator.Disable()
		if !s.retryOverCurrent(f) {
			s.stopOutputs()
			s.enterFault(f | s.scc.Fault())
			return
		}
	}

	// the commissioning controller also checks the sample sequence when idle
	v, f := s.scc.SetPhaseVoltage(s.sample)
	if f != mc.NoError && active {
		s.stopOutputs()
		s.enterFault(f)
		return
	}
	switch s.mode {
	case ModeCommissioning:
	case ModeDrive:
		v = s.driveFast()
		if s.rsest != nil {
			s.rsest.Run(q30(s.iab), q30(v))
		}
	default:
		s.hw.Actuator.Disable()
		return
	}
	s.vab = v
	s.hw.Actuator.Apply(v)
}

// retryOverCurrent lets commissioning retry at a lower current. It reports
// false when the fault must stop the session.
func (s *Session) retryOverCurrent(f mc.FaultCode) bool {
	if f != mc.FaultOverCurr || s.mode != ModeCommissioning {
		return false
	}
	s.clearHardwareFaults()
	retried, _ := s.scc.CheckOCRL()
	if retried {
		core.RecordEvent(core.EvtOverCurrent, s.oid, s.ticks, uint32(s.scc.State()), 0)
		s.log.Infow("over-current, retrying at lower current", "state", s.scc.State().String(), "target_a", s.scc.TargetCurrent())
	}
	return retried
}

// MediumTick runs the medium-frequency tasks: sensors, state machines and
// background estimators.
func (s *Session) MediumTick() {
	if f := s.bus.CalcAvVbus(s.sample.Vbus); f != mc.NoError && s.mode != ModeIdle && s.mode != ModeFault {
		s.stopOutputs()
		s.enterFault(f)
	}
	if s.hw.Temperature != nil {
		if f := s.temp.CalcAvTemp(s.hw.Temperature.ReadRaw()); f != mc.NoError && s.mode != ModeIdle && s.mode != ModeFault {
			s.stopOutputs()
			s.enterFault(f)
		}
	}

	switch s.mode {
	case ModeCommissioning:
		s.scc.MF()
		s.watchSCC()
	case ModeDrive:
		s.driveMF()
		s.watchOTT()
	}

	if s.rsest != nil {
		if s.hw.Temperature != nil {
			s.rsest.SetAmbientCelsius(float32(s.temp.AvTempC()))
		}
		if s.rsest.DoBackground() {
			s.rsest.RunBackground()
		}
		s.rsest.RunBackSlowed(false, 0, 0)
	}
}

// watchSCC reports state changes and takes the results when a run ends.
func (s *Session) watchSCC() {
	st := s.scc.State()
	if st != s.lastSCC {
		core.RecordEvent(core.EvtSCCState, s.oid, s.ticks, uint32(st), uint32(s.lastSCC))
		s.log.Infow("commissioning step", "state", st.String())
		s.lastSCC = st
	}
	if s.scc.IsRunning() {
		return
	}
	switch st {
	case scc.StateCalibrationEnd:
		s.hw.Actuator.Disable()
		s.mode = ModeIdle
		if s.ppd {
			s.applyPolePairs(s.scc.PolePairs())
			core.RecordEvent(core.EvtPolePairs, s.oid, s.ticks, uint32(s.scc.PolePairs()), 0)
			s.log.Infow("pole pairs detected", "pole_pairs", s.scc.PolePairs())
			return
		}
		if s.scc.LsHenry() > 0 {
			s.ApplyMotorParams(s.scc.RsOhm(), s.scc.LsHenry())
		}
		s.log.Infow("commissioning done",
			"rs_ohm", s.scc.RsOhm(), "ls_henry", s.scc.LsHenry(), "ke", s.scc.Ke(),
			"max_ol_rpm", s.scc.EstMaxOLSpeed())
	case scc.StatePhaseStop:
		s.hw.Actuator.Disable()
		s.enterFault(s.scc.Fault())
	default:
		// stopped from outside
		s.mode = ModeIdle
	}
}

func (s *Session) watchOTT() {
	st := s.ott.State()
	if st == s.lastOTT {
		return
	}
	core.RecordEvent(core.EvtOTTState, s.oid, s.ticks, uint32(st), uint32(s.lastOTT))
	s.log.Infow("tuning step", "state", st.String())
	if st == ott.StateEnd {
		kp, ki := s.ott.Kp(), s.ott.Ki()
		s.log.Infow("speed loop tuned", "j", s.ott.J(), "f", s.ott.F(), "kp", kp, "ki", ki)
	}
	s.lastOTT = st
}

func (s *Session) hardwareFaults() mc.FaultCode {
	if s.hw.Faults == nil {
		return mc.NoError
	}
	return mc.FaultCode(s.hw.Faults.Faults())
}

func (s *Session) clearHardwareFaults() {
	if c, ok := s.hw.Faults.(faultClearer); ok {
		c.ClearFaults()
	}
}

func (s *Session) enterFault(f mc.FaultCode) {
	if f == mc.NoError {
		f = mc.FaultSWError
	}
	s.fault |= f
	s.mode = ModeFault
	s.drive.stage = stageOff
	core.RecordEvent(core.EvtFault, s.oid, s.ticks, uint32(f), 0)
	s.log.Errorw("session stopped on fault", "fault", f.String())
}

// stopOutputs stops whatever runs and turns the bridge off.
func (s *Session) stopOutputs() {
	if s.scc.IsRunning() {
		s.scc.Stop()
	}
	if s.mode == ModeDrive {
		s.ott.Stop()
	}
	s.drive.stage = stageOff
	s.hw.Actuator.Disable()
}

// StartCommissioning measures Rs, Ls and Ke from scratch.
func (s *Session) StartCommissioning() error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.scc.Start(); err != nil {
		return err
	}
	s.ppd = false
	s.commissioned = false
	s.enterMode(ModeCommissioning)
	return nil
}

// StartPolePairDetection counts the pole pairs with the encoder. It needs the
// duty cycle found by a previous commissioning run.
func (s *Session) StartPolePairDetection() error {
	if s.enc == nil {
		return ErrNoEncoder
	}
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.scc.StartPolePairDetection(); err != nil {
		return err
	}
	s.ppd = true
	s.enterMode(ModeCommissioning)
	return nil
}

// ready checks that nothing runs and clears a previous fault when the
// hardware no longer reports it.
func (s *Session) ready() error {
	switch s.mode {
	case ModeCommissioning, ModeDrive:
		return ErrBusy
	case ModeFault:
		s.clearHardwareFaults()
		if s.hardwareFaults() != mc.NoError {
			return ErrFaultNotCleared
		}
		s.bus.Clear()
		s.temp.Clear()
		s.fault = mc.NoError
		s.mode = ModeIdle
	}
	return nil
}

func (s *Session) enterMode(m Mode) {
	s.mode = m
	s.lastSCC = s.scc.State()
	core.RecordEvent(core.EvtDriveMode, s.oid, s.ticks, uint32(m), 0)
	s.log.Infow("session mode", "mode", m.String())
}

// Stop ends any procedure and turns the bridge off. A fault stays latched.
func (s *Session) Stop() {
	s.scc.Stop()
	s.ott.Stop()
	s.stc.Clear()
	s.pidIq.SetIntegralTerm(0)
	s.pidId.SetIntegralTerm(0)
	s.drive.stage = stageOff
	s.hw.Actuator.Disable()
	if s.mode != ModeFault {
		s.mode = ModeIdle
	}
}

// ApplyMotorParams programs the current loops and the observer for a motor
// with resistance rs and inductance ls, as commissioning does at its end.
func (s *Session) ApplyMotorParams(rs, ls float32) error {
	if rs <= 0 || ls <= 0 {
		return ErrInvalidMotor
	}
	cfg := s.cfg
	vbus := s.bus.AvBusVoltageV()
	if vbus <= 0 {
		vbus = cfg.Board.NominalVbus
	}
	kp, ki := scc.CurrentPIGains(rs+cfg.Board.RVNK, ls, cfg.SCC.CurrentBandwidth,
		1/float32(cfg.FOCFrequencyHz()), mc.VoltDigitsPerVolt(vbus), cfg.CurrentDigitsPerAmp())
	lim := int16(cfg.Board.MaxModule)
	for _, pi := range []*pid.Regulator{s.pidIq, s.pidId} {
		pi.SetFloatGains(kp, ki)
		pi.SetOutputLimits(-lim, lim)
		pi.SetIntegralTerm(0)
	}
	s.obs.SetMotorParams(rs+cfg.Board.RVNK, ls)
	if s.rsest == nil {
		e, err := rsest.New(cfg.RSESTParams(rs))
		if err != nil {
			return err
		}
		s.rsest = e
	} else if cfg.Motor.RsRatedOhm <= 0 {
		s.rsest.SetRsRatedOhm(rs)
		s.rsest.SetRsToRated()
	}
	s.rsOhm, s.lsHenry = rs, ls
	s.commissioned = true
	return nil
}

// IsCommissioned reports whether the current loops have motor parameters.
func (s *Session) IsCommissioned() bool { return s.commissioned }

// SetMotor changes the motor ratings used by the next procedures.
func (s *Session) SetMotor(pp uint8, nominalCurrentA float32, nominalRPM int32, ldlq, bw float32) error {
	if s.mode == ModeCommissioning || s.mode == ModeDrive {
		return ErrBusy
	}
	if pp == 0 {
		return ErrInvalidPolePairs
	}
	if nominalCurrentA <= 0 || nominalRPM <= 0 {
		return ErrInvalidMotor
	}
	s.cfg.Motor.NominalCurrentA = nominalCurrentA
	s.cfg.Motor.NominalSpeedRPM = nominalRPM
	s.scc.SetNominalCurrent(nominalCurrentA)
	s.scc.SetNominalSpeed(nominalRPM)
	s.ott.SetNominalSpeed(nominalRPM)
	s.ott.SetNominalCurrent(uint16(s.cfg.MaxTorqueDigits()))
	if ldlq > 0 {
		s.cfg.Motor.LdLqRatio = ldlq
		s.scc.SetLdLqRatio(ldlq)
	}
	if bw > 0 {
		s.cfg.SCC.CurrentBandwidth = bw
		s.scc.SetCurrentBandwidth(bw)
	}
	s.applyPolePairs(pp)
	return nil
}

func (s *Session) applyPolePairs(pp uint8) {
	if pp == 0 {
		return
	}
	s.cfg.Motor.PolePairs = pp
	s.vss.SetPolePairs(pp)
	s.obs.SetParams(s.cfg.ObserverParams())
	s.obs.SetMotorParams(s.rsOhm+s.cfg.Board.RVNK, s.lsHenry)
	s.ott.SetPolesPairs(pp)
	s.scc.SetPolesPairs(pp)
	if s.enc != nil {
		s.enc.SetPolePairs(pp)
		s.align.SetPolePairs(pp)
	}
}

// Iqd implements mc.CurrentFeedback for the tuner.
func (s *Session) Iqd() mc.Qd { return s.iqd }

// Vqd returns the last rotating-frame voltage command of the drive.
func (s *Session) Vqd() mc.Qd { return s.vqd }

// ElAngle implements mc.SpeedPosFeedback with the active speed sensor.
func (s *Session) ElAngle() int16 { return s.drive.fb.ElAngle() }

// MecAngle implements mc.SpeedPosFeedback.
func (s *Session) MecAngle() int16 { return s.drive.fb.MecAngle() }

// AvrgMecSpeedUnit implements mc.SpeedPosFeedback.
func (s *Session) AvrgMecSpeedUnit() int16 { return s.drive.fb.AvrgMecSpeedUnit() }

// ElSpeedDpp implements mc.SpeedPosFeedback.
func (s *Session) ElSpeedDpp() int16 { return s.drive.fb.ElSpeedDpp() }

// SpeedRPM returns the measured speed.
func (s *Session) SpeedRPM() int32 { return mc.MecSpeedUnitToRPM(s.AvrgMecSpeedUnit()) }

// q30 scales 16-bit digits, full scale 32768, to Q30 per unit.
func q30(v mc.AlphaBeta) rsest.Vector30 {
	return rsest.Vector30{Alpha: int32(v.Alpha) << 15, Beta: int32(v.Beta) << 15}
}
