// Package scc is the self-commissioning controller. It identifies stator
// resistance, inductance, BEMF constant, pole pairs and a safe open-loop
// start-up acceleration by injecting test voltages into a stationary or
// spinning motor.
//
// The controller has two entry points: SetPhaseVoltage, called once per FOC
// period with the latest sample and returning the stationary-frame voltage
// to apply, and MF, called at the medium frequency to sequence the states.
// Both must be called from the same goroutine.
package scc

import (
	"errors"
	"math"

	"motorprofiler/mc"
	"motorprofiler/mc/busvoltage"
	"motorprofiler/mc/circlelimit"
	"motorprofiler/mc/encoder"
	"motorprofiler/mc/observer"
	"motorprofiler/mc/pid"
	"motorprofiler/mc/ramp"
	"motorprofiler/mc/revup"
	"motorprofiler/mc/vss"
	"motorprofiler/profiler/ott"
)

// State is the commissioning step.
type State uint8

const (
	StateIdle State = iota
	StateDutyDetecting
	StateAlign
	StateRSDetectingRamp
	StateRSDetecting
	StateLSDetecting
	StateWaitRestart
	StateRestartSCC
	StateKEDetecting
	StatePhaseStop
	StateCalibrationEnd
	StatePPDetectionRamp
	StatePPDetectionPhaseRamp
	StatePPDetectionPhase
)

var stateNames = [...]string{
	"idle", "duty_detecting", "align", "rs_detecting_ramp", "rs_detecting",
	"ls_detecting", "wait_restart", "restart_scc", "ke_detecting", "phase_stop",
	"calibration_end", "pp_detection_ramp", "pp_detection_phase_ramp", "pp_detection_phase",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// LSState is the sub-state of inductance detection.
type LSState uint8

const (
	LSDecay LSState = iota
	LSHold
	LSRise
)

// KEState is the sub-state of BEMF constant detection.
type KEState uint8

const (
	KERevup KEState = iota
	KEDetection
	KESetObsParams
	KEStabilizePLL
	KERun
	KERestart
)

// AccResult classifies the outcome of an open-loop acceleration ramp.
type AccResult uint8

const (
	RampIdle AccResult = iota
	RampOngoing
	RampSuccess
	MotorStill
	LoseControl
)

func (r AccResult) String() string {
	switch r {
	case RampIdle:
		return "idle"
	case RampOngoing:
		return "ongoing"
	case RampSuccess:
		return "success"
	case MotorStill:
		return "motor_still"
	case LoseControl:
		return "lose_control"
	}
	return "unknown"
}

const (
	// RSCurrLevelNum is the number of DC levels of the resistance staircase.
	RSCurrLevelNum = 4
	// EMFBuffVal is the length of the rolling BEMF regression buffer.
	EMFBuffVal = 5
	// LSBuffSize is the length of the current rise record.
	LSBuffSize = 256

	lsTests          = 4
	lsDecayStable    = 10 // FOC periods below the decay threshold
	lsHoldTicks      = 20 // FOC periods at zero voltage before the rise
	lsMaxDecimation  = 64
	lsPlateauSamples = 8

	maxOCRetries     = 3
	maxAccRetries    = 3
	maxAccSteps      = 3 // doublings of the start acceleration
	coolDownMs       = 500
	restartWaitMs    = 1000
	waitRestartMs    = 200
	rsRampMs         = 100
	revupAlignMs     = 300
	keWindowMs       = 50
	pllStabTicks     = 20
	pllTimeoutMs     = 2000
	runValidateMs    = 50
	speedTolerance   = 0.1
	stillEMFRatio    = 0.1 // BEMF below this share of |V| means the rotor did not move
	minRSquared      = 0.9
	maxKSpread       = 1.25
	ppdElTurns       = 8
	ppdElSpeedHz     = 5
	ppdRampMs        = 200
	keFactor         = 128.25 // peak phase V·s/rad per pole pair to Vrms line-line per kRPM
	maxOverVoltDigit = 65000
)

var (
	ErrInvalidHandle = errors.New("scc: invalid handle")
	ErrBusy          = errors.New("scc: procedure already running")
	ErrNoEncoder     = errors.New("scc: pole pair detection needs an encoder")
	ErrNoDuty        = errors.New("scc: pole pair detection needs a completed duty detection")
	ErrNoHallTuner   = errors.New("scc: no hall tuner")
	ErrShortRSLevel  = errors.New("scc: resistance detection too short, each level needs two MF ticks")
)

// Params is the per-motor commissioning configuration.
type Params struct {
	RampFrequencyHz        uint32 // MF rate, ramps are executed at this rate
	RShunt                 float32
	AmplificationGain      float32
	VbusConvFactor         float32
	VbusPartitioningFactor float32
	RVNK                   float32 // power stage resistance, ohm
	RSMeasCurrLevelMax     float32 // amps
	DutyRampDurationMs     uint16
	AlignmentDurationMs    uint16
	RSDetectionDurationMs  uint16
	LdLqRatio              float32
	CurrentBW              float32 // rad/s
	PBCharacterization     bool
	NominalSpeedRPM        int32
	PWMFreqHz              uint16
	FOCRepRate             uint8
	MCUPowerSupply         float32
	IThreshold             float32 // LS decay threshold as a fraction of the test current
	PolePairs              uint8
	NominalCurrentA        float32
}

// HallTuner receives the hall sensor tuning commands.
type HallTuner interface {
	Start() error
	Restart() error
	Abort() error
	End() error
}

// Deps are the motor-control objects the controller drives. It borrows them
// and never outlives the session that owns them. Encoder, Aligner, OTT,
// BusVoltage and HallTuner are optional.
type Deps struct {
	VSS        *vss.Sensor
	CLM        *circlelimit.Limiter
	PIDIq      *pid.Regulator
	PIDId      *pid.Regulator
	RevUp      *revup.Controller
	Observer   *observer.Observer
	OTT        *ott.Tuner
	BusVoltage *busvoltage.Sensor
	Encoder    *encoder.Sensor
	Aligner    *encoder.Aligner
	HallTuner  HallTuner
}

// Controller is the commissioning state machine.
type Controller struct {
	params Params
	d      Deps

	state    State
	lsState  LSState
	keState  KEState
	res      AccResult
	fault    mc.FaultCode
	ongoing  bool
	coolDown uint16
	// step restarted when coolDown expires
	resumeState State

	mfHz  uint32
	focHz uint32
	tFOC  float32
	kis   float32 // current digits per amp
	kv    float32 // voltage digits per volt at busV
	busV  float32

	busSum uint32
	busCnt uint32
	seq    uint32
	seqOK  bool

	targetCurr     float32
	lastTargetCurr float32
	nominalCurr    float32
	ocRetries      uint8
	cnt            uint32

	// duty detection
	dutyMax   uint16
	dutyAcc   int32
	dutyInc   int32
	dutyFound bool
	vCmd      int16

	// resistance
	rsRamp     *ramp.Manager
	rsLevel    uint8
	acquire    bool
	iSum       int64
	vSum       int64
	sumCnt     uint32
	imaxArray  [RSCurrLevelNum]float64
	vmaxArray  [RSCurrLevelNum]float64
	rTotal     float32
	fRS        float32
	offset     float32
	offsetUser bool

	// inductance
	iaBuff    [LSBuffSize]int16
	lsIdx     int
	lsDecim   uint32
	lsTick    uint32
	lsStable  uint8
	lsReady   bool
	fItau     float32
	lsSum     float32
	lsTestCnt uint32
	lsValid   uint32
	lsAvg     float32 // measured d-axis inductance
	fLS       float32
	ldlq      float32

	// BEMF constant and start-up validation
	torqueRef      int16
	revupTarget    int16
	accRPMs        uint32
	accBest        uint32 // fastest ramp that succeeded
	accSteps       uint8
	accBounded     bool
	braking        bool
	accRetries     uint8
	rampMs         uint16
	rampTicks      uint32
	rampCnt        uint32
	detTicks       uint32
	vqSum, vdSum   int64
	iqSum, idSum   int64
	keSamples      uint32
	winW           float64
	winN, winTicks uint32
	lastEd, lastEq float64
	emVal          [EMFBuffVal]float64
	wVal           [EMFBuffVal]float64
	valCnt         uint16
	upperE, upperW []float64
	upperV         float64
	keSum          float64
	keN            uint32
	fKe            float32
	obsActive      bool
	stabCnt        uint16
	maxOLSpeed     int32
	currentBW      float32
	nominalSpeed   int32

	// pole pairs
	ppdAngle32 int32
	ppdSpeed32 int32
	ppdTarget  int32
	ppdInc     int32
	ppdElAcc   int64
	ppdCount0  int32
	fPP        float32
}

// New returns an idle controller. VSS, CLM, both current PIs, RevUp and
// Observer are required.
func New(p Params, d Deps) (*Controller, error) {
	if d.VSS == nil || d.CLM == nil || d.PIDIq == nil || d.PIDId == nil || d.RevUp == nil || d.Observer == nil {
		return nil, ErrInvalidHandle
	}
	c := &Controller{d: d}
	if err := c.Init(p); err != nil {
		return nil, err
	}
	return c, nil
}

// RSLevelTicks returns how many MF ticks each resistance level is held for
// a detection lasting durationMs. Levels shorter than two ticks cannot be
// measured.
func RSLevelTicks(durationMs uint16, mfHz uint32) uint32 {
	return uint32(durationMs) / RSCurrLevelNum * mfHz / 1000
}

// Init applies p and resets every result.
func (c *Controller) Init(p Params) error {
	if c == nil {
		return ErrInvalidHandle
	}
	if p.RampFrequencyHz == 0 {
		p.RampFrequencyHz = 1000
	}
	if p.FOCRepRate == 0 {
		p.FOCRepRate = 1
	}
	if p.LdLqRatio == 0 {
		p.LdLqRatio = 1
	}
	if p.IThreshold == 0 {
		p.IThreshold = 0.01
	}
	if RSLevelTicks(p.RSDetectionDurationMs, p.RampFrequencyHz) < 2 {
		return ErrShortRSLevel
	}
	c.params = p
	c.mfHz = p.RampFrequencyHz
	c.focHz = uint32(p.PWMFreqHz) / uint32(p.FOCRepRate)
	if c.focHz == 0 {
		c.focHz = 10000
	}
	c.tFOC = 1 / float32(c.focHz)
	c.kis = mc.CurrentDigitsPerAmp(p.RShunt, p.AmplificationGain, p.MCUPowerSupply)
	c.rsRamp = ramp.New(c.mfHz)
	c.fPP = float32(p.PolePairs)
	c.ldlq = p.LdLqRatio
	c.currentBW = p.CurrentBW
	c.nominalSpeed = p.NominalSpeedRPM
	c.nominalCurr = p.NominalCurrentA
	c.lastTargetCurr = p.RSMeasCurrLevelMax
	c.fRS, c.fLS, c.fKe = 0, 0, 0
	c.dutyMax = 0
	c.maxOLSpeed, c.accRPMs = 0, 0
	c.resetAccSearch()
	c.upperE = make([]float64, 0, 2*EMFBuffVal)
	c.upperW = make([]float64, 0, 2*EMFBuffVal)
	c.state = StateIdle
	c.res = RampIdle
	c.fault = mc.NoError
	return nil
}

func (c *Controller) msToMF(ms uint32) uint32 {
	return max(ms*c.mfHz/1000, 1)
}

func (c *Controller) enter(s State) {
	c.state = s
	c.cnt = 0
	c.acquire = false
}

// Start begins a commissioning run from duty cycle detection.
func (c *Controller) Start() error {
	if c == nil {
		return ErrInvalidHandle
	}
	if c.ongoing {
		return ErrBusy
	}
	c.targetCurr = c.params.RSMeasCurrLevelMax
	if c.nominalCurr > 0 && c.nominalCurr < c.targetCurr {
		c.targetCurr = c.nominalCurr
	}
	c.lastTargetCurr = c.targetCurr
	c.fRS, c.fLS, c.fKe = 0, 0, 0
	c.lsSum, c.lsTestCnt = 0, 0
	c.keSum, c.keN = 0, 0
	c.ocRetries, c.accRetries = 0, 0
	c.maxOLSpeed, c.accRPMs = 0, 0
	c.resetAccSearch()
	c.res = RampIdle
	c.fault = mc.NoError
	c.coolDown = 0
	c.obsActive = false
	c.seqOK = false
	c.busSum, c.busCnt = 0, 0
	if !c.offsetUser {
		c.offset = 0
	}
	c.d.PIDIq.SetOutputLimits(-int16(c.d.CLM.MaxModule), int16(c.d.CLM.MaxModule))
	c.d.PIDId.SetOutputLimits(-int16(c.d.CLM.MaxModule), int16(c.d.CLM.MaxModule))
	c.ongoing = true
	c.startDuty()
	return nil
}

// Stop aborts the run. The next SetPhaseVoltage returns a zero vector.
func (c *Controller) Stop() error {
	if c == nil {
		return ErrInvalidHandle
	}
	c.ongoing = false
	c.obsActive = false
	c.coolDown = 0
	if c.state != StateCalibrationEnd {
		c.enter(StateIdle)
	}
	return nil
}

func (c *Controller) phaseStop(f mc.FaultCode) {
	c.fault |= f
	c.ongoing = false
	c.obsActive = false
	c.enter(StatePhaseStop)
}

func (c *Controller) calibrationEnd() {
	c.ongoing = false
	c.obsActive = false
	c.enter(StateCalibrationEnd)
}

// IsRunning reports whether a procedure is in progress.
func (c *Controller) IsRunning() bool { return c != nil && c.ongoing }

// State returns the commissioning step.
func (c *Controller) State() State {
	if c == nil {
		return StateIdle
	}
	return c.state
}

// LSState and KEState return the active sub-states.
func (c *Controller) LSState() LSState {
	if c == nil {
		return LSDecay
	}
	return c.lsState
}

func (c *Controller) KEState() KEState {
	if c == nil {
		return KERevup
	}
	return c.keState
}

// AccResult returns the classification of the last open-loop ramp.
func (c *Controller) AccResult() AccResult {
	if c == nil {
		return RampIdle
	}
	return c.res
}

// Fault returns the faults that stopped the run.
func (c *Controller) Fault() mc.FaultCode {
	if c == nil {
		return mc.NoError
	}
	return c.fault
}

// Steps returns the number of steps reported to the host.
func (c *Controller) Steps() uint8 { return 5 }

// RsOhm returns the estimated stator resistance.
func (c *Controller) RsOhm() float32 {
	if c == nil {
		return 0
	}
	return c.fRS
}

// LsHenry returns the estimated stator inductance.
func (c *Controller) LsHenry() float32 {
	if c == nil {
		return 0
	}
	return c.fLS
}

// Ke returns the BEMF constant in Vrms line-line per kRPM.
func (c *Controller) Ke() float32 {
	if c == nil {
		return 0
	}
	return c.fKe
}

// BusVoltage returns the average bus voltage seen during the run.
func (c *Controller) BusVoltage() float32 {
	if c == nil {
		return 0
	}
	return c.busV
}

// RsBits, LsBits, KeBits and VbusBits return the results as IEEE-754 bit
// patterns for the host protocol.
func (c *Controller) RsBits() uint32   { return mc.FloatToIntBit(c.RsOhm()) }
func (c *Controller) LsBits() uint32   { return mc.FloatToIntBit(c.LsHenry()) }
func (c *Controller) KeBits() uint32   { return mc.FloatToIntBit(c.Ke()) }
func (c *Controller) VbusBits() uint32 { return mc.FloatToIntBit(c.BusVoltage()) }

// ItauSeconds returns the last electrical time constant.
func (c *Controller) ItauSeconds() float32 {
	if c == nil {
		return 0
	}
	return c.fItau
}

// DutyMax returns the voltage that produced the test current, in digits.
func (c *Controller) DutyMax() uint16 {
	if c == nil {
		return 0
	}
	return c.dutyMax
}

// TargetCurrent returns the present test current in amps.
func (c *Controller) TargetCurrent() float32 {
	if c == nil {
		return 0
	}
	return c.targetCurr
}

// PolePairs returns the configured or detected pole pairs.
func (c *Controller) PolePairs() uint8 {
	if c == nil {
		return 0
	}
	return uint8(c.fPP + 0.5)
}

// SetPolesPairs sets the motor pole pairs.
func (c *Controller) SetPolesPairs(pp uint8) error {
	if c == nil {
		return ErrInvalidHandle
	}
	c.fPP = float32(pp)
	c.d.VSS.SetPolePairs(pp)
	return nil
}

// NominalCurrent returns the last test current in amps.
func (c *Controller) NominalCurrent() float32 {
	if c == nil {
		return 0
	}
	return c.lastTargetCurr
}

// StartupCurrentAmp returns the current used for the open-loop start-up.
func (c *Controller) StartupCurrentAmp() float32 { return c.NominalCurrent() }

// SetNominalCurrent sets the motor nominal current in amps.
func (c *Controller) SetNominalCurrent(a float32) error {
	if c == nil {
		return ErrInvalidHandle
	}
	c.nominalCurr = a
	return nil
}

// LdLqRatio returns the Ld/Lq ratio.
func (c *Controller) LdLqRatio() float32 {
	if c == nil {
		return 0
	}
	return c.ldlq
}

// SetLdLqRatio sets the Ld/Lq ratio.
func (c *Controller) SetLdLqRatio(r float32) error {
	if c == nil {
		return ErrInvalidHandle
	}
	if r > 0 {
		c.ldlq = r
	}
	return nil
}

// NominalSpeed returns the nominal speed in RPM.
func (c *Controller) NominalSpeed() int32 {
	if c == nil {
		return 0
	}
	return c.nominalSpeed
}

// SetNominalSpeed sets the nominal speed in RPM.
func (c *Controller) SetNominalSpeed(rpm int32) error {
	if c == nil {
		return ErrInvalidHandle
	}
	c.nominalSpeed = rpm
	return nil
}

// EstMaxOLSpeed returns the highest validated open-loop speed in RPM.
func (c *Controller) EstMaxOLSpeed() int32 {
	if c == nil {
		return 0
	}
	return c.maxOLSpeed
}

// EstMaxAcceleration returns the fastest open-loop acceleration, in RPM/s,
// that a validation ramp passed.
func (c *Controller) EstMaxAcceleration() uint32 {
	if c == nil {
		return 0
	}
	return c.accBest
}

// CurrentBandwidth returns the current loop bandwidth in rad/s.
func (c *Controller) CurrentBandwidth() float32 {
	if c == nil {
		return 0
	}
	return c.currentBW
}

// SetCurrentBandwidth sets the current loop bandwidth in rad/s.
func (c *Controller) SetCurrentBandwidth(bw float32) error {
	if c == nil {
		return ErrInvalidHandle
	}
	c.currentBW = bw
	return nil
}

// PWMFrequencyHz returns the PWM frequency used for the test.
func (c *Controller) PWMFrequencyHz() uint16 {
	if c == nil {
		return 0
	}
	return c.params.PWMFreqHz
}

// FOCRepRate returns the FOC repetition rate.
func (c *Controller) FOCRepRate() uint8 {
	if c == nil {
		return 0
	}
	return c.params.FOCRepRate
}

// FOCFrequencyHz returns the rate SetPhaseVoltage is expected at.
func (c *Controller) FOCFrequencyHz() uint32 {
	if c == nil {
		return 0
	}
	return c.focHz
}

// OverVoltageThreshold returns the bus over-voltage threshold in volts.
func (c *Controller) OverVoltageThreshold() uint16 {
	if c == nil || c.d.BusVoltage == nil {
		return 0
	}
	return c.thresholdVolts(c.d.BusVoltage.OverVoltageThreshold())
}

// UnderVoltageThreshold returns the bus under-voltage threshold in volts.
func (c *Controller) UnderVoltageThreshold() uint16 {
	if c == nil || c.d.BusVoltage == nil {
		return 0
	}
	return c.thresholdVolts(c.d.BusVoltage.UnderVoltageThreshold())
}

func (c *Controller) thresholdVolts(th uint16) uint16 {
	return uint16(math.Round(float64(th) * float64(c.d.BusVoltage.ConversionFactor()) / 65535))
}

func (c *Controller) thresholdDigits(v uint16) uint32 {
	conv := c.d.BusVoltage.ConversionFactor()
	if conv <= 0 {
		return 0
	}
	return uint32(float32(uint32(v)*65535) / conv)
}

// SetOverVoltageThreshold sets the over-voltage threshold in volts. The
// digit value is capped at 65000.
func (c *Controller) SetOverVoltageThreshold(v uint16) error {
	if c == nil || c.d.BusVoltage == nil {
		return ErrInvalidHandle
	}
	c.d.BusVoltage.SetOverVoltageThreshold(uint16(min(c.thresholdDigits(v), maxOverVoltDigit)))
	return nil
}

// SetUnderVoltageThreshold sets the under-voltage threshold in volts.
func (c *Controller) SetUnderVoltageThreshold(v uint16) error {
	if c == nil || c.d.BusVoltage == nil {
		return ErrInvalidHandle
	}
	c.d.BusVoltage.SetUnderVoltageThreshold(uint16(min(c.thresholdDigits(v), math.MaxUint16)))
	return nil
}

// SetPBCharacterization selects power board characterization: the run stops
// after the resistance staircase and reports the total circuit resistance.
func (c *Controller) SetPBCharacterization(on bool) error {
	if c == nil {
		return ErrInvalidHandle
	}
	c.params.PBCharacterization = on
	return nil
}

// ResistorOffset returns the voltage offset found by the resistance
// regression, in volts.
func (c *Controller) ResistorOffset() float32 {
	if c == nil {
		return 0
	}
	return c.offset
}

// SetResistorOffset forces the voltage offset used by the BEMF estimate.
func (c *Controller) SetResistorOffset(v float32) error {
	if c == nil {
		return ErrInvalidHandle
	}
	c.offset = v
	c.offsetUser = true
	return nil
}
