// Package ott implements One-Touch-Tuning: it measures the nominal operating
// point, mechanical time constant, friction and inertia of the running motor
// and programs a speed-loop PI gain set from them.
//
// All quantities stay in the controller's digit domain while tuning: Iq in
// current digits, speed in SpeedUnit, time in seconds. The mechanical model is
//
//	Iq = F·ω + J·dω/dt
//
// and J, F are converted to kg·m² and N·m·s only by the getters.
package ott

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"motorprofiler/mc"
	"motorprofiler/mc/fixp"
	"motorprofiler/mc/stc"
)

// State is the tuning step.
type State uint8

const (
	StateIdle State = iota
	StateNominalSpeedDet
	StateDynamicsDetRampDown
	StateDynamicsDetSetTorque
	StateDynamicsDetection
	StateRampDownHSpeed
	StateHSpeedTest
	StateRampDownLSpeed
	StateLSpeedTest
	StateTorqueStep
	StateEnd
)

var stateNames = [...]string{
	"idle", "nominal_speed_det", "dynamics_det_ramp_down", "dynamics_det_set_torque",
	"dynamics_detection", "ramp_down_h_speed", "h_speed_test", "ramp_down_l_speed",
	"l_speed_test", "torque_step", "end",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// digit·s/SpeedUnit to SI, scaled by Ke/(Rshunt·gain)
const physFactor = 5.88913e-7

// ticks the speed must stay in the margin after the final step
const torqueStepStabTicks = 20

var (
	ErrInvalidHandle = errors.New("ott: invalid handle")
	ErrDegenerate    = errors.New("ott: speed tests do not determine F and J")
)

// Params is the static tuning configuration.
type Params struct {
	MFFrequencyHz      uint32
	RampDurationMs     uint16  // speed ramps between set points
	BandwidthDef       float32 // rad/s
	MeasWinSec         float32
	PolePairs          uint8
	MaxPositiveTorque  int16
	CurrRegStabTimeSec float32
	LowSpeedPerc       float32
	HighSpeedPerc      float32
	SpeedStabTimeSec   float32
	TimeOutSec         float32
	SpeedMargin        float32
	NominalSpeedRPM    int32
	SpdKp              float32 // gains used while tuning
	SpdKi              float32
	RShunt             float32
	AmplificationGain  float32
}

// Tuner is the OTT state machine. It borrows the speed feedback, the
// speed/torque controller and the current feedback from its owner.
type Tuner struct {
	params  Params
	sensor  mc.SpeedPosFeedback
	stc     *stc.Controller
	current mc.CurrentFeedback

	state    State
	tuned    bool
	fDetIq   [2]float64
	fDetOmg  [2]float64
	fDetAcc  [2]float64
	f, j     float32
	tau      float32
	omegaTh  float32
	bw       float32
	ke       float32
	kp, ki   float32
	nominal  int16 // SpeedUnit
	targetH  int16
	targetL  int16
	iqNom    int16
	iqAcc    int16
	iqSteady int16

	measWinTicks   uint16
	curRegStabTks  uint16
	speedStabTks   uint16
	timeOutTks     uint16
	cnt            int32
	jDetCnt        int32
	stabCnt        int8
	measuring      bool
	iqSum          int32
	speedSum       int32
	iqCnt          uint16
	winT, winW     []float64
	estNominalRPM  float32
	polePairs      uint8
	maxTorque      int16
	nominalRPM     int32
	savedKp        int16
	savedKi        int16
	savedKpDiv     uint16
	savedKiDiv     uint16
	pubJ, pubF     float32
	pubKp, pubKi   float32
	pubNominalRPM  float32
	pubNominalCurr int16
}

// New returns a tuner in the idle state.
func New(p Params, sensor mc.SpeedPosFeedback, ctl *stc.Controller, current mc.CurrentFeedback) *Tuner {
	t := &Tuner{sensor: sensor, stc: ctl, current: current}
	t.Init(p)
	return t
}

// Init applies p and forgets any previous tuning.
func (t *Tuner) Init(p Params) {
	if t == nil {
		return
	}
	if p.MFFrequencyHz == 0 {
		p.MFFrequencyHz = 1000
	}
	t.params = p
	t.bw = p.BandwidthDef
	t.polePairs = p.PolePairs
	t.maxTorque = p.MaxPositiveTorque
	t.nominalRPM = p.NominalSpeedRPM
	t.measWinTicks = t.ticks(p.MeasWinSec, 2)
	t.curRegStabTks = t.ticks(p.CurrRegStabTimeSec, 1)
	t.speedStabTks = t.ticks(p.SpeedStabTimeSec, 1)
	t.timeOutTks = t.ticks(p.TimeOutSec, 1)
	t.winT = make([]float64, 0, t.measWinTicks)
	t.winW = make([]float64, 0, t.measWinTicks)
	t.tuned = false
	t.Clear()
}

func (t *Tuner) ticks(sec float32, lo uint16) uint16 {
	n := math.Round(float64(sec) * float64(t.params.MFFrequencyHz))
	return uint16(fixp.Clamp(n, float64(lo), math.MaxUint16))
}

// Clear resets the measurement state. It should be called before each motor
// restart.
func (t *Tuner) Clear() {
	if t == nil {
		return
	}
	t.state = StateIdle
	t.f, t.j, t.tau, t.omegaTh = 0, 0, 0, 0
	t.fDetIq, t.fDetOmg, t.fDetAcc = [2]float64{}, [2]float64{}, [2]float64{}
	t.resetCounters()
}

func (t *Tuner) resetCounters() {
	t.cnt = 0
	t.jDetCnt = 0
	t.stabCnt = 0
	t.measuring = false
	t.iqSum, t.speedSum, t.iqCnt = 0, 0, 0
	t.winT = t.winT[:0]
	t.winW = t.winW[:0]
}

func (t *Tuner) enter(s State) {
	t.state = s
	t.resetCounters()
}

// SR begins the procedure at motor start. It does nothing once the speed PI
// is tuned, until ForceTuning is called.
func (t *Tuner) SR() error {
	if t == nil || t.stc == nil {
		return ErrInvalidHandle
	}
	if t.tuned || t.state != StateIdle {
		return nil
	}
	pi := t.stc.SpeedPI()
	t.savedKp, t.savedKi = pi.KP(), pi.KI()
	t.savedKpDiv, t.savedKiDiv = pi.KPDivisorPow2(), pi.KIDivisorPow2()
	pi.SetFloatGains(t.params.SpdKp, t.params.SpdKi)

	t.nominal = mc.RPMToMecSpeedUnit(t.nominalRPM)
	t.stc.SetControlMode(stc.ModeSpeed)
	t.stc.ExecRamp(t.nominal, t.params.RampDurationMs)
	t.enter(StateNominalSpeedDet)
	return nil
}

// MF advances the active state by one medium-frequency tick.
func (t *Tuner) MF() error {
	if t == nil || t.stc == nil || t.sensor == nil || t.current == nil {
		return ErrInvalidHandle
	}
	speed := t.sensor.AvrgMecSpeedUnit()
	iq := t.current.Iqd().Q

	switch t.state {
	case StateNominalSpeedDet:
		if !t.measureSteady(t.nominal, speed, iq) {
			return nil
		}
		meanSpeed := float32(t.speedSum) / float32(t.iqCnt)
		t.iqNom = int16(t.iqSum / int32(t.iqCnt))
		t.estNominalRPM = meanSpeed * 60 / mc.SpeedUnit
		if meanSpeed != 0 {
			t.f = float32(t.iqNom) / meanSpeed
		}
		lim := int32(t.maxTorque)
		t.iqAcc = int16(fixp.Clamp(fixp.Abs(int32(t.iqNom))/2, lim/20, lim/2))
		t.targetH = int16(float32(t.nominal) * t.params.HighSpeedPerc)
		t.targetL = int16(float32(t.nominal) * t.params.LowSpeedPerc)
		t.stc.ExecRamp(t.targetH, t.params.RampDurationMs)
		t.enter(StateDynamicsDetRampDown)

	case StateDynamicsDetRampDown:
		if !t.settled(t.targetH, speed) {
			return nil
		}
		t.omegaTh = float32(speed) * float32(math.Exp(-1))
		t.enter(StateDynamicsDetSetTorque)

	case StateDynamicsDetSetTorque:
		// coast down with zero torque
		t.stc.SetControlMode(stc.ModeTorque)
		t.stc.SetTorqueRef(0)
		t.enter(StateDynamicsDetection)

	case StateDynamicsDetection:
		t.jDetCnt++
		if float32(speed) <= t.omegaTh {
			t.tau = float32(t.jDetCnt) / float32(t.params.MFFrequencyHz)
			t.j = t.tau * t.f
			t.stc.SetControlMode(stc.ModeSpeed)
			t.stc.ExecRamp(t.targetH, t.params.RampDurationMs)
			t.enter(StateRampDownHSpeed)
		} else if t.jDetCnt > int32(t.timeOutTks) {
			t.abort()
		}

	case StateRampDownHSpeed:
		if t.measureSteady(t.targetH, speed, iq) {
			t.startStepTest(-t.iqAcc, StateHSpeedTest)
		}

	case StateHSpeedTest:
		if t.stepTest(0, speed, iq) {
			t.stc.SetControlMode(stc.ModeSpeed)
			t.stc.ExecRamp(t.targetL, t.params.RampDurationMs)
			t.enter(StateRampDownLSpeed)
		}

	case StateRampDownLSpeed:
		if t.measureSteady(t.targetL, speed, iq) {
			t.startStepTest(t.iqAcc, StateLSpeedTest)
		}

	case StateLSpeedTest:
		if t.stepTest(1, speed, iq) {
			t.computeGains()
			t.stc.SetControlMode(stc.ModeSpeed)
			t.stc.ExecRamp(t.targetH, 0)
			t.enter(StateTorqueStep)
		}

	case StateTorqueStep:
		t.cnt++
		if t.within(t.targetH, speed) {
			t.stabCnt++
		} else {
			t.stabCnt = 0
		}
		if t.stabCnt >= torqueStepStabTicks {
			t.finish()
		} else if t.cnt > int32(t.timeOutTks) {
			t.abort()
		}
	}
	return nil
}

// settled reports when the speed ramp has completed, the stabilisation time
// has elapsed and the speed sits inside the margin. It aborts on timeout.
func (t *Tuner) settled(target, speed int16) bool {
	if !t.stc.RampCompleted() {
		return false
	}
	t.cnt++
	if t.cnt > int32(t.speedStabTks)+int32(t.timeOutTks) {
		t.abort()
		return false
	}
	return t.cnt >= int32(t.speedStabTks) && t.within(target, speed)
}

// measureSteady waits for the speed to settle at target and then averages Iq
// and speed over one measurement window. It returns true when the window is
// complete; the averages are left in iqSum/speedSum.
func (t *Tuner) measureSteady(target, speed, iq int16) bool {
	if !t.measuring {
		if !t.settled(target, speed) {
			return false
		}
		t.measuring = true
	}
	t.iqSum += int32(iq)
	t.speedSum += int32(speed)
	t.iqCnt++
	if t.iqCnt < t.measWinTicks {
		return false
	}
	t.iqSteady = int16(t.iqSum / int32(t.iqCnt))
	return true
}

func (t *Tuner) within(target, speed int16) bool {
	margin := fixp.Abs(float32(target)) * t.params.SpeedMargin
	return fixp.Abs(float32(speed)-float32(target)) <= margin
}

// startStepTest switches to torque control at the steady current plus delta.
func (t *Tuner) startStepTest(delta int16, next State) {
	t.stc.SetControlMode(stc.ModeTorque)
	ref := fixp.Clamp(int32(t.iqSteady)+int32(delta), int32(t.stc.MinNegativeTorque()), int32(t.stc.MaxPositiveTorque()))
	t.stc.SetTorqueRef(int16(ref))
	t.enter(next)
}

// stepTest skips the current settling time, then records speed against time
// for one window and stores the mean speed, mean Iq and fitted acceleration in
// row k of the two-point system.
func (t *Tuner) stepTest(k int, speed, iq int16) bool {
	t.cnt++
	if t.cnt <= int32(t.curRegStabTks) {
		return false
	}
	t.winT = append(t.winT, float64(len(t.winT))/float64(t.params.MFFrequencyHz))
	t.winW = append(t.winW, float64(speed))
	t.iqSum += int32(iq)
	t.iqCnt++
	if len(t.winT) < int(t.measWinTicks) {
		return false
	}
	_, slope := stat.LinearRegression(t.winT, t.winW, nil, false)
	t.fDetAcc[k] = slope
	t.fDetOmg[k] = stat.Mean(t.winW, nil)
	t.fDetIq[k] = float64(t.iqSum) / float64(t.iqCnt)
	return true
}

// computeGains solves for F and J and derives the speed PI gains for the
// configured bandwidth. The coast-down estimate is kept when the two step
// tests are degenerate.
func (t *Tuner) computeGains() {
	f, j, err := SolveFrictionInertia(t.fDetOmg, t.fDetAcc, t.fDetIq)
	if err == nil && j > 0 && f >= 0 {
		t.f, t.j = float32(f), float32(j)
	}
	t.kp = t.j * t.bw
	t.ki = t.j * t.bw * t.bw / 4 / float32(t.params.MFFrequencyHz)
	t.stc.SpeedPI().SetFloatGains(t.kp, t.ki)
}

// SolveFrictionInertia solves the two-equation system
//
//	iq[k] = F·omega[k] + J·accel[k],  k = 0, 1
//
// for F and J.
func SolveFrictionInertia(omega, accel, iq [2]float64) (f, j float64, err error) {
	a := mat.NewDense(2, 2, []float64{omega[0], accel[0], omega[1], accel[1]})
	if det := mat.Det(a); math.Abs(det) < 1e-12 || math.IsNaN(det) {
		return 0, 0, ErrDegenerate
	}
	b := mat.NewVecDense(2, []float64{iq[0], iq[1]})
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return 0, 0, ErrDegenerate
	}
	return x.AtVec(0), x.AtVec(1), nil
}

func (t *Tuner) finish() {
	t.tuned = true
	t.pubJ, t.pubF = t.j, t.f
	t.pubKp, t.pubKi = t.kp, t.ki
	t.pubNominalRPM = t.estNominalRPM
	t.pubNominalCurr = t.iqNom
	t.enter(StateEnd)
}

// abort restores the original speed gains and goes back to idle without
// publishing anything.
func (t *Tuner) abort() {
	t.stc.SpeedPI().SetGains(t.savedKp, t.savedKpDiv, t.savedKi, t.savedKiDiv)
	t.stc.SetControlMode(stc.ModeSpeed)
	t.enter(StateIdle)
}

// Stop should be called before each motor stop. An unfinished procedure is
// abandoned.
func (t *Tuner) Stop() error {
	if t == nil || t.stc == nil {
		return ErrInvalidHandle
	}
	if t.state != StateIdle && t.state != StateEnd {
		t.abort()
	}
	return nil
}

// ForceTuning makes the next SR run the procedure again.
func (t *Tuner) ForceTuning() {
	if t == nil {
		return
	}
	t.tuned = false
	t.Clear()
}

// State returns the tuning step.
func (t *Tuner) State() State {
	if t == nil {
		return StateIdle
	}
	return t.state
}

// Steps returns the number of tuning steps.
func (t *Tuner) Steps() uint8 { return uint8(StateEnd) + 1 }

// IsSpeedPITuned reports whether the procedure reached the end.
func (t *Tuner) IsSpeedPITuned() bool {
	return t != nil && t.state == StateEnd
}

// IsMotorAlreadyProfiled reports whether a tuning has been published.
func (t *Tuner) IsMotorAlreadyProfiled() bool {
	return t != nil && t.tuned
}

// NominalSpeedRPM returns the estimated nominal speed.
func (t *Tuner) NominalSpeedRPM() float32 {
	if t == nil {
		return 0
	}
	return t.pubNominalRPM
}

// NominalSpeedBits returns NominalSpeedRPM as an IEEE-754 bit pattern.
func (t *Tuner) NominalSpeedBits() uint32 { return mc.FloatToIntBit(t.NominalSpeedRPM()) }

// NominalCurrent returns the steady Iq measured at nominal speed, in digits.
func (t *Tuner) NominalCurrent() int16 {
	if t == nil {
		return 0
	}
	return t.pubNominalCurr
}

// SetPolesPairs sets the motor pole pairs.
func (t *Tuner) SetPolesPairs(pp uint8) {
	if t != nil {
		t.polePairs = pp
	}
}

// SetNominalCurrent sets the maximum Iq in digits used while tuning.
func (t *Tuner) SetNominalCurrent(i uint16) {
	if t != nil {
		t.maxTorque = int16(min(i, math.MaxInt16))
	}
}

// SetSpeedRegulatorBandwidth sets the target bandwidth in rad/s.
func (t *Tuner) SetSpeedRegulatorBandwidth(bw float32) {
	if t != nil {
		t.bw = bw
	}
}

// SpeedRegulatorBandwidth returns the target bandwidth in rad/s.
func (t *Tuner) SpeedRegulatorBandwidth() float32 {
	if t == nil {
		return 0
	}
	return t.bw
}

// SetNominalSpeed sets the datasheet nominal speed in RPM.
func (t *Tuner) SetNominalSpeed(rpm int32) {
	if t != nil {
		t.nominalRPM = rpm
	}
}

// SetKe sets the BEMF constant used by the physical conversions.
func (t *Tuner) SetKe(ke float32) {
	if t != nil {
		t.ke = ke
	}
}

func (t *Tuner) toPhysical(x float32) float32 {
	den := t.params.RShunt * t.params.AmplificationGain
	if den == 0 {
		return 0
	}
	return x * physFactor * t.ke / den
}

// J returns the measured inertia in kg·m².
func (t *Tuner) J() float32 {
	if t == nil {
		return 0
	}
	return t.toPhysical(t.pubJ)
}

// F returns the measured friction in N·m·s.
func (t *Tuner) F() float32 {
	if t == nil {
		return 0
	}
	return t.toPhysical(t.pubF)
}

// JDigits and FDigits return the published estimates in controller units.
func (t *Tuner) JDigits() float32 {
	if t == nil {
		return 0
	}
	return t.pubJ
}

func (t *Tuner) FDigits() float32 {
	if t == nil {
		return 0
	}
	return t.pubF
}

// Tau returns the coast-down time constant in seconds.
func (t *Tuner) Tau() float32 {
	if t == nil {
		return 0
	}
	return t.tau
}

// Kp and Ki return the published speed PI gains.
func (t *Tuner) Kp() float32 {
	if t == nil {
		return 0
	}
	return t.pubKp
}

func (t *Tuner) Ki() float32 {
	if t == nil {
		return 0
	}
	return t.pubKi
}
