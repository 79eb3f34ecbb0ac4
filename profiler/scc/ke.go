package scc

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"motorprofiler/mc"
	"motorprofiler/mc/fixp"
	"motorprofiler/mc/revup"
)

// startKE aligns the rotor under the test current and programs an open-loop
// ramp to half the nominal speed at the present acceleration.
func (c *Controller) startKE() {
	c.enter(StateKEDetecting)
	c.keState = KERevup
	c.res = RampOngoing
	c.obsActive = false
	c.torqueRef = 0
	c.braking = false
	if c.accRPMs == 0 {
		c.accRPMs = uint32(max(c.nominalSpeed, 1))
	}

	// the current vector starts on the rotor d axis
	c.d.VSS.Clear()
	c.d.VSS.SetElAngle(-16384)
	c.d.PIDIq.SetIntegralTerm(0)
	c.d.PIDId.SetIntegralTerm(0)

	half := max(c.nominalSpeed/2, 1)
	c.revupTarget = mc.RPMToMecSpeedUnit(half)
	c.rampMs = uint16(min(uint32(half)*1000/c.accRPMs, math.MaxUint16))
	torque := fixp.Sat16(int32(c.lastTargetCurr * c.kis))
	c.d.RevUp.SetPhases([]revup.Phase{
		{DurationMs: revupAlignMs, FinalTorque: torque},
		{DurationMs: c.rampMs, FinalMecSpeedUnit: c.revupTarget, FinalTorque: torque},
	})
	c.d.RevUp.Clear(1)

	c.rampTicks = c.msToMF(uint32(c.rampMs))
	c.rampCnt = 0
	c.winTicks = max(c.rampTicks/2/EMFBuffVal, 1)
	c.upperE = c.upperE[:0]
	c.upperW = c.upperW[:0]
	c.upperV = 0
	c.resetWindow()
}

func (c *Controller) resetWindow() {
	c.vqSum, c.vdSum, c.iqSum, c.idSum, c.keSamples = 0, 0, 0, 0, 0
	c.winW, c.winN = 0, 0
}

// sampleWindow adds the open-loop speed to the running window and reports
// whether the window is complete.
func (c *Controller) sampleWindow() bool {
	dpp := float32(c.d.VSS.ElSpeedDpp32()) / 65536
	c.winW += float64(mc.DppToElRadPerSec(dpp, c.focHz))
	c.winN++
	return c.winN >= c.winTicks
}

// closeWindow estimates the BEMF magnitude over the window from the mean
// rotating-frame voltage and current:
//
//	Ed = Vd - R*Id + w*L*Iq
//	Eq = Vq - R*Iq - w*L*Id
//
// minus the resistive offset along the current. It returns the magnitude,
// the electrical speed in rad/s and the mean voltage magnitude.
func (c *Controller) closeWindow() (e, w, vmag float64, ok bool) {
	defer c.resetWindow()
	if c.keSamples == 0 || c.winN == 0 || c.kv <= 0 || c.kis <= 0 {
		return 0, 0, 0, false
	}
	n := float64(c.keSamples)
	kv, kis := float64(c.kv), float64(c.kis)
	vq, vd := float64(c.vqSum)/n/kv, float64(c.vdSum)/n/kv
	iq, id := float64(c.iqSum)/n/kis, float64(c.idSum)/n/kis
	w = c.winW / float64(c.winN)
	r, l := float64(c.rTotal), float64(c.lsAvg)

	ed := vd - r*id + w*l*iq
	eq := vq - r*iq - w*l*id
	if im := math.Hypot(id, iq); im > 0 {
		ed -= float64(c.offset) * id / im
		eq -= float64(c.offset) * iq / im
	}
	c.lastEd, c.lastEq = ed, eq
	return math.Hypot(ed, eq), w, math.Hypot(vd, vq), true
}

func (c *Controller) keMF() {
	switch c.keState {
	case KERevup:
		c.keRevup()
	case KEDetection:
		c.keDetection()
	case KESetObsParams:
		c.d.Observer.SetMotorParams(c.rTotal, c.lsAvg)
		c.d.Observer.Clear()
		// the BEMF leads the rotor d axis by a quarter turn
		rotor := c.d.VSS.ElAngle() + mc.RadToAngle(float32(math.Atan2(c.lastEq, c.lastEd))) - 16384
		c.d.Observer.Init(rotor, c.d.VSS.AvrgMecSpeedUnit())
		c.obsActive = true
		c.keState = KEStabilizePLL
		c.stabCnt = 0
		c.cnt = 0
	case KEStabilizePLL:
		obs, _ := c.d.Observer.CalcAvrgMecSpeedUnit()
		if speedWithin(obs, c.d.VSS.AvrgMecSpeedUnit()) {
			c.stabCnt++
		} else {
			c.stabCnt = 0
		}
		switch {
		case c.stabCnt >= pllStabTicks:
			c.d.VSS.SetStartTransition(true)
			c.keState = KERun
			c.stabCnt = 0
			c.cnt = 0
		case c.cnt > c.msToMF(pllTimeoutMs):
			c.phaseStop(mc.FaultSpeedFdbk)
		}
	case KERun:
		c.keRun()
	case KERestart:
		c.torqueRef = 0
		c.calibrationEnd()
	}
}

func (c *Controller) keRevup() {
	if c.braking {
		// the rotor follows the vector down to standstill, then the next
		// ramp starts from a fresh alignment
		if c.d.VSS.RampCompleted() {
			c.startKE()
		}
		return
	}
	running := c.d.RevUp.Exec()
	c.torqueRef = c.d.RevUp.Torque()

	if running && c.d.RevUp.Phase() == 2 {
		c.rampCnt++
		switch upper := c.rampTicks - min(EMFBuffVal*c.winTicks, c.rampTicks); {
		case c.rampCnt == upper+1:
			c.resetWindow()
			fallthrough
		case c.rampCnt > upper:
			if c.sampleWindow() {
				if e, w, v, ok := c.closeWindow(); ok {
					c.upperE = append(c.upperE, e)
					c.upperW = append(c.upperW, w)
					c.upperV += v
				}
			}
		}
	}
	if running {
		return
	}

	var meanV float64
	if len(c.upperE) > 0 {
		meanV = c.upperV / float64(len(c.upperE))
	}
	c.res = ClassifyRamp(c.upperE, c.upperW, meanV)
	switch c.nextAcc(c.res) {
	case accDetect:
		c.startDetection()
	case accRaise:
		c.braking = true
		c.d.VSS.SetMecAcceleration(0, c.rampMs)
	case accRetry:
		c.torqueRef = 0
		c.obsActive = false
		c.resumeState = StateKEDetecting
		c.coolDown = uint16(c.msToMF(restartWaitMs))
	case accGiveUp:
		c.torqueRef = 0
		c.phaseStop(mc.FaultStartUp)
	}
}

// ClassifyRamp judges an open-loop ramp from BEMF magnitudes e measured at
// electrical speeds w. The rotor did not follow when the BEMF stays small
// against the applied voltage meanV, and control was lost when e is not
// proportional to w.
func ClassifyRamp(e, w []float64, meanV float64) AccResult {
	if len(e) < 2 || len(e) != len(w) {
		return LoseControl
	}
	if stat.Mean(e, nil) < stillEMFRatio*meanV {
		return MotorStill
	}
	k := make([]float64, len(e))
	for i := range e {
		if w[i] <= 0 {
			return LoseControl
		}
		k[i] = e[i] / w[i]
	}
	if floats.Min(k) <= 0 || floats.Max(k)/floats.Min(k) > maxKSpread {
		return LoseControl
	}
	alpha, beta := stat.LinearRegression(w, e, nil, false)
	if stat.RSquared(w, e, nil, alpha, beta) < minRSquared {
		return LoseControl
	}
	return RampSuccess
}

type accAction uint8

const (
	accDetect accAction = iota // bound found, go on with the BEMF fit
	accRaise                   // brake, then ramp at the doubled rate
	accRetry                   // pause, then ramp at a lower rate
	accGiveUp
)

func (c *Controller) resetAccSearch() {
	c.accBest, c.accSteps = 0, 0
	c.accBounded, c.braking = false, false
}

// nextAcc feeds the outcome of one validation ramp to the acceleration
// search. The rate doubles while ramps succeed, up to maxAccSteps times. The
// first failure bounds the search and the next ramp runs at the last rate
// that succeeded, or at half the rate when none has.
func (c *Controller) nextAcc(res AccResult) accAction {
	if res == RampSuccess {
		c.accBest = c.accRPMs
		if c.accBounded || c.accSteps >= maxAccSteps {
			return accDetect
		}
		c.accSteps++
		c.accRPMs *= 2
		return accRaise
	}
	c.accBounded = true
	c.accRetries++
	if c.accRetries > maxAccRetries {
		return accGiveUp
	}
	if c.accBest > 0 {
		c.accRPMs = c.accBest
	} else {
		c.accRPMs = max(c.accRPMs/2, 1)
	}
	return accRetry
}

// startDetection continues the ramp to the nominal speed and fits the BEMF
// constant over a rolling buffer of windows.
func (c *Controller) startDetection() {
	c.keState = KEDetection
	c.cnt = 0
	c.valCnt = 0
	c.keSum, c.keN = 0, 0
	durMs := uint16(min(uint32(max(c.nominalSpeed-c.nominalSpeed/2, 1))*1000/c.accRPMs, math.MaxUint16))
	c.d.VSS.SetMecAcceleration(mc.RPMToMecSpeedUnit(c.nominalSpeed), durMs)
	c.detTicks = c.msToMF(uint32(durMs))
	c.winTicks = c.msToMF(keWindowMs)
	c.resetWindow()
}

func (c *Controller) keDetection() {
	if c.sampleWindow() {
		if e, w, _, ok := c.closeWindow(); ok && w > 0 {
			c.emVal[c.valCnt%EMFBuffVal] = e
			c.wVal[c.valCnt%EMFBuffVal] = w
			c.valCnt++
			if c.valCnt >= EMFBuffVal {
				// least squares through the origin: e = lambda*w
				c.keSum += floats.Dot(c.emVal[:], c.wVal[:]) / floats.Dot(c.wVal[:], c.wVal[:])
				c.keN++
			}
		}
	}
	if c.cnt < c.detTicks || !c.d.VSS.RampCompleted() || c.keN == 0 {
		if c.cnt > c.detTicks+c.msToMF(pllTimeoutMs) {
			c.phaseStop(mc.FaultSpeedFdbk)
		}
		return
	}
	lambda := c.keSum / float64(c.keN)
	c.fKe = float32(lambda) * c.fPP * keFactor
	if c.d.OTT != nil {
		c.d.OTT.SetKe(c.fKe)
	}
	c.keState = KESetObsParams
}

// keRun hands the angle over to the observer and checks that it keeps
// tracking the open-loop speed.
func (c *Controller) keRun() {
	obs, _ := c.d.Observer.CalcAvrgMecSpeedUnit()
	if !c.d.VSS.TransitionEnded() {
		if c.cnt > c.msToMF(pllTimeoutMs) {
			c.phaseStop(mc.FaultSpeedFdbk)
		}
		return
	}
	if !c.d.VSS.TransitionLocked() || !speedWithin(obs, c.d.VSS.AvrgMecSpeedUnit()) {
		c.phaseStop(mc.FaultSpeedFdbk)
		return
	}
	c.stabCnt++
	if uint32(c.stabCnt) < c.msToMF(runValidateMs) {
		return
	}
	c.maxOLSpeed = mc.MecSpeedUnitToRPM(c.d.VSS.LastRampFinalSpeed())
	c.res = RampSuccess
	c.keState = KERestart
}

func speedWithin(v, ref int16) bool {
	if ref == 0 {
		return false
	}
	d := fixp.Abs(int32(v) - int32(ref))
	return float32(d) <= speedTolerance*float32(fixp.Abs(int32(ref)))
}
