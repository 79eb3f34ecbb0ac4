// Package rsest estimates the stator resistance. A power-based path divides
// the filtered terminal power by the filtered squared current; a thermal
// path scales the rated resistance with a first-order copper temperature
// model that the power-based path corrects while current is high enough to
// trust it.
//
// Run executes every control cycle on Q30 per-unit values and never loops.
// RunBackground and RunBackSlowed run at the medium rate on float32.
package rsest

import (
	"errors"

	"motorprofiler/mc/fixp"
)

var (
	ErrInvalidParams = errors.New("rsest: invalid parameters")
	ErrInvalidHandle = errors.New("rsest: invalid handle")
)

// Defaults applied by SetParams when the field is zero.
const (
	DefaultBackgroundHz    = 1000
	DefaultLPShiftI2t      = 10
	DefaultLPShiftVI       = 6
	DefaultLPShiftRs       = 4
	DefaultMaxRfactor      = 1.8
	DefaultHeatCoeff       = 0.00393 // copper, 1/K
	DefaultSpecificHeat    = 385     // copper, J/kg/K
	DefaultIncRateLimit    = 0.001
	DefaultCurrentLowRatio = 0.05
)

// slowedStages is the number of RunBackSlowed calls per thermal model step.
const slowedStages = 4

// Vector30 is a stationary-frame vector in Q30 per unit of full scale.
type Vector30 struct {
	Alpha int32
	Beta  int32
}

// Params is the estimator configuration.
type Params struct {
	FullScaleCurrentA float32
	FullScaleVoltageV float32
	RatedCelsius      float32 // temperature at RsRatedOhm
	AmbientCelsius    float32
	RsRatedOhm        float32
	MotorSkinFactor   float32 // Rac/Rdc at the injection frequency
	FCalculateHz      float32 // Run rate
	CopperMassKg      float32
	CoolingTauS       float32
	CorrectionGain    float32
	InjectGain        float32

	BackgroundHz    float32
	LPShiftI2t      uint16
	LPShiftVI       uint16
	LPShiftRs       uint16
	MaxRfactor      float32
	CurrentLowRatio float32 // of full-scale current
	HeatCoeff       float32
	SpecificHeat    float32
	IncRateLimit    float32 // largest TempRfactor step per thermal update
}

// Estimator is the RSEST state.
type Estimator struct {
	tBackground        float32
	tCalc              float32
	fullScaleCurrentA  float32
	fullScaleImpedance float32
	fullScalePower3ph  float32
	oneOverRsRated     float32

	isquaredLPt  fixp.LowPass
	powerLP      fixp.LowPass
	isquaredLP   fixp.LowPass
	rsAlpha      float32
	rsPowerOhm   float32
	lowI2        int32
	decimation   uint16
	decimCounter uint16
	doBackground bool
	enableUpdate bool
	currentLow   bool

	rsRatedOhm  float32
	rsOhm       float32
	rsPU        int32
	rsInjectOhm float32
	rsInjectPur float32

	correctionGain float32
	injectGain     float32
	skinFactor     float32
	incRateLimit   float32

	terminalPowerW float32
	i2Amps         float32

	ratedCelsius   float32
	ambientCelsius float32
	deltaRfactor   float32
	maxRfactor     float32
	tempRfactor    float32
	tempCelsius    float32
	thermalK       float32
	thermalLeak    float32
	copperMassKg   float32
	coolingTauS    float32
	heatCoeff      float32
	specificHeat   float32
	injectTerm     float32
	powerTerm      float32
	leakTerm       float32
	stage          uint8

	tuningCounter     uint32
	tuningEnabled     bool
	tuningSync        bool
	tuningCelsius     float32
	tuningDeltaR      float32
	tuningTempRfactor float32
}

// New returns an estimator configured with p.
func New(p Params) (*Estimator, error) {
	e := &Estimator{}
	if err := e.SetParams(p); err != nil {
		return nil, err
	}
	return e, nil
}

// SetParams applies p and resets the estimate to the rated resistance.
func (e *Estimator) SetParams(p Params) error {
	if e == nil {
		return ErrInvalidHandle
	}
	if p.FullScaleCurrentA <= 0 || p.FullScaleVoltageV <= 0 || p.RsRatedOhm <= 0 || p.FCalculateHz <= 0 {
		return ErrInvalidParams
	}
	if p.BackgroundHz <= 0 {
		p.BackgroundHz = DefaultBackgroundHz
	}
	if p.LPShiftI2t == 0 {
		p.LPShiftI2t = DefaultLPShiftI2t
	}
	if p.LPShiftVI == 0 {
		p.LPShiftVI = DefaultLPShiftVI
	}
	if p.LPShiftRs == 0 {
		p.LPShiftRs = DefaultLPShiftRs
	}
	if p.MaxRfactor <= 1 {
		p.MaxRfactor = DefaultMaxRfactor
	}
	if p.CurrentLowRatio <= 0 {
		p.CurrentLowRatio = DefaultCurrentLowRatio
	}
	if p.HeatCoeff <= 0 {
		p.HeatCoeff = DefaultHeatCoeff
	}
	if p.SpecificHeat <= 0 {
		p.SpecificHeat = DefaultSpecificHeat
	}
	if p.IncRateLimit <= 0 {
		p.IncRateLimit = DefaultIncRateLimit
	}
	if p.MotorSkinFactor <= 0 {
		p.MotorSkinFactor = 1
	}

	*e = Estimator{}
	e.tBackground = 1 / p.BackgroundHz
	e.tCalc = slowedStages * e.tBackground
	e.fullScaleCurrentA = p.FullScaleCurrentA
	e.fullScaleImpedance = p.FullScaleVoltageV / p.FullScaleCurrentA
	e.fullScalePower3ph = 1.5 * p.FullScaleCurrentA * p.FullScaleVoltageV

	e.isquaredLPt = fixp.NewLowPass(p.LPShiftI2t)
	e.powerLP = fixp.NewLowPass(p.LPShiftVI)
	e.isquaredLP = fixp.NewLowPass(p.LPShiftVI)
	e.rsAlpha = 1 / float32(int32(1)<<p.LPShiftRs)
	e.lowI2 = fixp.FromFloatQ30(p.CurrentLowRatio * p.CurrentLowRatio)
	e.decimation = uint16(p.FCalculateHz/p.BackgroundHz + 0.5)
	if e.decimation == 0 {
		e.decimation = 1
	}
	e.enableUpdate = true
	e.currentLow = true

	e.correctionGain = p.CorrectionGain
	e.injectGain = p.InjectGain
	e.skinFactor = p.MotorSkinFactor
	e.incRateLimit = p.IncRateLimit
	e.ratedCelsius = p.RatedCelsius
	e.ambientCelsius = p.AmbientCelsius
	e.maxRfactor = p.MaxRfactor
	e.heatCoeff = p.HeatCoeff
	e.specificHeat = p.SpecificHeat
	e.rsInjectPur = 1

	e.SetRsRatedOhm(p.RsRatedOhm)
	e.SetCopperMassKg(p.CopperMassKg)
	e.SetCoolingTauS(p.CoolingTauS)
	e.SetRsToRated()
	e.rsPowerOhm = e.rsRatedOhm
	e.tuningCelsius = e.tempCelsius
	e.tuningTempRfactor = e.tempRfactor
	return nil
}

// Run accumulates one control cycle of current and voltage, both Q30 per
// unit of full scale.
func (e *Estimator) Run(iab, uab Vector30) error {
	if e == nil {
		return ErrInvalidHandle
	}
	i2 := fixp.AddSat32(fixp.MulQ30(iab.Alpha, iab.Alpha), fixp.MulQ30(iab.Beta, iab.Beta))
	p := fixp.AddSat32(fixp.MulQ30(uab.Alpha, iab.Alpha), fixp.MulQ30(uab.Beta, iab.Beta))

	e.isquaredLPt.Update(i2)
	e.powerLP.Update(p)
	e.isquaredLP.Update(i2)

	e.decimCounter++
	if e.decimCounter >= e.decimation {
		e.decimCounter = 0
		e.doBackground = true
	}
	return nil
}

// RunBackground updates the power-based resistance. It is meant to be called
// whenever DoBackground reports true.
func (e *Estimator) RunBackground() error {
	if e == nil {
		return ErrInvalidHandle
	}
	e.doBackground = false
	i2 := fixp.ToFloatQ30(e.isquaredLP.Out())
	pw := fixp.ToFloatQ30(e.powerLP.Out())
	e.terminalPowerW = pw * e.fullScalePower3ph
	e.i2Amps = i2 * e.fullScaleCurrentA * e.fullScaleCurrentA
	e.currentLow = e.isquaredLPt.Out() < e.lowI2

	if e.currentLow || !e.enableUpdate || i2 <= 0 {
		return nil
	}
	meas := pw / i2 * e.fullScaleImpedance
	e.rsPowerOhm += (meas - e.rsPowerOhm) * e.rsAlpha
	return nil
}

// RunBackSlowed executes one stage of the thermal model. Four calls make one
// model step. injectActive enables the injection correction, checkRs is the
// injection-measured resistance relative to rated (Q30), rsDelta, when
// positive, overrides the TempRfactor rate limit.
func (e *Estimator) RunBackSlowed(injectActive bool, checkRs int32, rsDelta float32) error {
	if e == nil {
		return ErrInvalidHandle
	}
	switch e.stage {
	case 0:
		// copper losses of all three phases, I is the peak phase current
		e.powerTerm = e.thermalK * 1.5 * e.i2Amps * e.rsOhm
	case 1:
		e.leakTerm = e.thermalLeak * (e.tempCelsius - e.ambientCelsius)
	case 2:
		e.stepThermal(injectActive, checkRs, rsDelta)
	case 3:
		e.publish()
	}
	e.stage = (e.stage + 1) % slowedStages
	return nil
}

func (e *Estimator) stepThermal(injectActive bool, checkRs int32, rsDelta float32) {
	if !e.enableUpdate {
		return
	}
	e.tempCelsius += e.powerTerm - e.leakTerm
	e.deltaRfactor = e.heatCoeff * (e.tempCelsius - e.ratedCelsius)
	e.tempRfactor = 1 + e.deltaRfactor

	if !e.currentLow && e.correctionGain > 0 {
		limit := e.incRateLimit
		if rsDelta > 0 {
			limit = rsDelta
		}
		inc := e.correctionGain * (e.rsPowerOhm*e.oneOverRsRated - e.tempRfactor)
		inc = fixp.Clamp(inc, -limit, limit)
		e.tempRfactor += inc
	}
	e.tempRfactor = fixp.Clamp(e.tempRfactor, 1/e.maxRfactor, e.maxRfactor)
	e.deltaRfactor = e.tempRfactor - 1
	e.tempCelsius = e.ratedCelsius + e.deltaRfactor/e.heatCoeff

	if injectActive && e.injectGain > 0 {
		target := fixp.ToFloatQ30(checkRs) / e.tempRfactor
		e.injectTerm = e.injectGain * (target - e.rsInjectPur)
		e.rsInjectPur = fixp.Clamp(e.rsInjectPur+e.injectTerm, 1/e.maxRfactor, e.maxRfactor)
	}

	if e.tuningEnabled {
		if e.tuningSync {
			e.tuningCelsius = e.tempCelsius
			e.tuningSync = false
		}
		leak := e.thermalLeak * (e.tuningCelsius - e.ambientCelsius)
		e.tuningCelsius += e.powerTerm - leak
		e.tuningDeltaR = e.heatCoeff * (e.tuningCelsius - e.ratedCelsius)
		e.tuningTempRfactor = fixp.Clamp(1+e.tuningDeltaR, 1/e.maxRfactor, e.maxRfactor)
		e.tuningCounter += slowedStages
	}
}

func (e *Estimator) publish() {
	if e.currentLow {
		return
	}
	e.rsOhm = e.rsRatedOhm * e.tempRfactor
	e.rsInjectOhm = e.rsOhm * e.rsInjectPur
	e.rsPU = fixp.FromFloatQ30(e.rsOhm / e.fullScaleImpedance)
}

// CurrentIsLow reports whether the current is below the detectability floor.
func (e *Estimator) CurrentIsLow() bool {
	if e == nil {
		return false
	}
	return e.currentLow
}

// DoBackground reports whether RunBackground is due.
func (e *Estimator) DoBackground() bool {
	if e == nil {
		return false
	}
	return e.doBackground
}

func (e *Estimator) CopperMassKg() float32 {
	if e == nil {
		return 0
	}
	return e.copperMassKg
}

func (e *Estimator) CoolingTauS() float32 {
	if e == nil {
		return 0
	}
	return e.coolingTauS
}

func (e *Estimator) DeltaRFactor() float32 {
	if e == nil {
		return 0
	}
	return e.deltaRfactor
}

func (e *Estimator) HeatCoeff() float32 {
	if e == nil {
		return 0
	}
	return e.heatCoeff
}

func (e *Estimator) InjectGain() float32 {
	if e == nil {
		return 0
	}
	return e.injectGain
}

func (e *Estimator) RsInjectOhm() float32 {
	if e == nil {
		return 0
	}
	return e.rsInjectOhm
}

func (e *Estimator) RsOhm() float32 {
	if e == nil {
		return 0
	}
	return e.rsOhm
}

func (e *Estimator) RsPowerOhm() float32 {
	if e == nil {
		return 0
	}
	return e.rsPowerOhm
}

func (e *Estimator) RsRatedOhm() float32 {
	if e == nil {
		return 0
	}
	return e.rsRatedOhm
}

func (e *Estimator) RsPU() int32 {
	if e == nil {
		return 0
	}
	return e.rsPU
}

func (e *Estimator) SkinFactor() float32 {
	if e == nil {
		return 0
	}
	return e.skinFactor
}

func (e *Estimator) SpecificHeat() float32 {
	if e == nil {
		return 0
	}
	return e.specificHeat
}

func (e *Estimator) TempCelsius() float32 {
	if e == nil {
		return 0
	}
	return e.tempCelsius
}

func (e *Estimator) TempRfactor() float32 {
	if e == nil {
		return 0
	}
	return e.tempRfactor
}

func (e *Estimator) TerminalPowerW() float32 {
	if e == nil {
		return 0
	}
	return e.terminalPowerW
}

func (e *Estimator) TuningCelsius() float32 {
	if e == nil {
		return 0
	}
	return e.tuningCelsius
}

func (e *Estimator) TuningState() bool {
	if e == nil {
		return false
	}
	return e.tuningEnabled
}

func (e *Estimator) TuningSync() bool {
	if e == nil {
		return false
	}
	return e.tuningSync
}

func (e *Estimator) TuningCounter() uint32 {
	if e == nil {
		return 0
	}
	return e.tuningCounter
}

func (e *Estimator) RsInjectPerUnit() float32 {
	if e == nil {
		return 0
	}
	return e.rsInjectPur
}

// SetAmbientCelsius changes the ambient temperature of the thermal model.
func (e *Estimator) SetAmbientCelsius(c float32) {
	if e != nil {
		e.ambientCelsius = c
	}
}

// SetCopperMassKg changes the thermal mass.
func (e *Estimator) SetCopperMassKg(kg float32) {
	if e == nil {
		return
	}
	e.copperMassKg = kg
	if kg > 0 {
		e.thermalK = e.tCalc / (kg * e.specificHeat)
	} else {
		e.thermalK = 0
	}
}

// SetCoolingTauS changes the cooling time constant.
func (e *Estimator) SetCoolingTauS(tau float32) {
	if e == nil {
		return
	}
	e.coolingTauS = tau
	if tau > 0 {
		e.thermalLeak = e.tCalc / tau
	} else {
		e.thermalLeak = 0
	}
}

// SetHeatCoeff changes the resistance temperature coefficient.
func (e *Estimator) SetHeatCoeff(v float32) {
	if e == nil {
		return
	}
	if v > 0 {
		e.heatCoeff = v
	}
}

// SetSpecificHeat changes the specific heat capacity and the derived gain.
func (e *Estimator) SetSpecificHeat(v float32) {
	if e == nil {
		return
	}
	if v > 0 {
		e.specificHeat = v
		e.SetCopperMassKg(e.copperMassKg)
	}
}

func (e *Estimator) SetInjectGain(v float32) {
	if e != nil {
		e.injectGain = v
	}
}

func (e *Estimator) SetSkinFactor(v float32) {
	if e == nil {
		return
	}
	if v > 0 {
		e.skinFactor = v
	}
}

// SetRsOhm forces the estimate; the temperature follows.
func (e *Estimator) SetRsOhm(rs float32) {
	if e == nil {
		return
	}
	e.SetTempRfactor(rs * e.oneOverRsRated)
	e.rsOhm = e.rsRatedOhm * e.tempRfactor
	e.rsInjectOhm = e.rsOhm * e.rsInjectPur
	e.rsPU = fixp.FromFloatQ30(e.rsOhm / e.fullScaleImpedance)
}

// SetRsRatedOhm changes the rated resistance.
func (e *Estimator) SetRsRatedOhm(rs float32) {
	if e == nil {
		return
	}
	if rs <= 0 {
		return
	}
	e.rsRatedOhm = rs
	e.oneOverRsRated = 1 / rs
}

// SetRsToRated resets the estimate to the rated resistance at the rated
// temperature.
func (e *Estimator) SetRsToRated() {
	if e == nil {
		return
	}
	e.SetRsOhm(e.rsRatedOhm)
}

// SetRsPU forces the estimate from a Q30 per-unit impedance.
func (e *Estimator) SetRsPU(v int32) {
	if e == nil {
		return
	}
	e.SetRsOhm(fixp.ToFloatQ30(v) * e.fullScaleImpedance)
}

// SetTempRfactor forces Rs/Rrated, clamped to the allowed range.
func (e *Estimator) SetTempRfactor(v float32) {
	if e == nil {
		return
	}
	e.tempRfactor = fixp.Clamp(v, 1/e.maxRfactor, e.maxRfactor)
	e.deltaRfactor = e.tempRfactor - 1
	e.tempCelsius = e.ratedCelsius + e.deltaRfactor/e.heatCoeff
}

// SetTuning enables the free-running tuning model.
func (e *Estimator) SetTuning(on bool) {
	if e != nil {
		e.tuningEnabled = on
	}
}

// SetTuningSync requests the tuning model to restart from the corrected
// temperature.
func (e *Estimator) SetTuningSync(on bool) {
	if e != nil {
		e.tuningSync = on
	}
}

// SetUpdate enables or freezes all estimate updates.
func (e *Estimator) SetUpdate(on bool) {
	if e != nil {
		e.enableUpdate = on
	}
}
