package scc

import (
	"gonum.org/v1/gonum/stat"

	"motorprofiler/mc"
	"motorprofiler/mc/pid"
)

// MF advances the state machine one medium-frequency tick.
func (c *Controller) MF() error {
	if c == nil {
		return ErrInvalidHandle
	}
	c.updateBus()
	if !c.ongoing {
		return nil
	}
	if c.coolDown > 0 {
		c.coolDown--
		if c.coolDown == 0 {
			c.resume()
		}
		return nil
	}

	c.cnt++
	switch c.state {
	case StateDutyDetecting:
		if c.dutyFound {
			c.startAlign()
		}
	case StateAlign:
		if c.cnt >= c.msToMF(uint32(c.params.AlignmentDurationMs)) {
			c.startRSRamp()
		}
	case StateRSDetectingRamp:
		c.vCmd = int16(c.rsRamp.Calc())
		if c.rsRamp.Completed() {
			c.startRS()
		}
	case StateRSDetecting:
		c.rsMF()
	case StateLSDetecting:
		c.lsMF()
	case StateWaitRestart:
		if c.cnt >= c.msToMF(waitRestartMs) {
			c.enter(StateRestartSCC)
		}
	case StateRestartSCC:
		c.restartSCC()
	case StateKEDetecting:
		c.keMF()
	case StatePPDetectionRamp, StatePPDetectionPhaseRamp, StatePPDetectionPhase:
		c.ppdMF()
	}
	return nil
}

func (c *Controller) busConv() float32 {
	switch {
	case c.params.VbusConvFactor > 0:
		return c.params.VbusConvFactor
	case c.params.VbusPartitioningFactor > 0:
		return c.params.MCUPowerSupply / c.params.VbusPartitioningFactor
	}
	return 0
}

func (c *Controller) updateBus() {
	if c.busCnt == 0 {
		return
	}
	mean := float32(c.busSum) / float32(c.busCnt)
	c.busSum, c.busCnt = 0, 0
	c.busV = mean * c.busConv() / 65536
	c.kv = mc.VoltDigitsPerVolt(c.busV)
}

func (c *Controller) resume() {
	switch c.resumeState {
	case StateDutyDetecting:
		c.startDuty()
	case StateAlign:
		c.startAlign()
	case StateRSDetectingRamp:
		c.startRSRamp()
	case StateRSDetecting:
		c.startRS()
	case StateLSDetecting:
		c.startLS()
	case StateKEDetecting:
		c.startKE()
	}
}

func (c *Controller) startDuty() {
	c.enter(StateDutyDetecting)
	c.dutyAcc, c.dutyMax, c.dutyFound = 0, 0, false
	steps := max(uint32(c.params.DutyRampDurationMs)*c.focHz/1000, 1)
	c.dutyInc = int32((uint32(c.d.CLM.MaxModule) << 16) / steps)
}

func (c *Controller) startAlign() {
	c.enter(StateAlign)
	c.vCmd = int16(c.dutyMax)
}

func (c *Controller) startRSRamp() {
	c.enter(StateRSDetectingRamp)
	c.vCmd = int16(c.dutyMax)
	c.rsRamp.SetValue(int32(c.dutyMax))
	c.rsRamp.ExecRamp(int32(c.rsLevelVoltage(0)), rsRampMs)
}

func (c *Controller) startRS() {
	c.enter(StateRSDetecting)
	c.rsLevel = 0
	c.vCmd = c.rsLevelVoltage(0)
	c.resetRSSums()
}

func (c *Controller) rsLevelVoltage(k uint8) int16 {
	return int16(uint32(c.dutyMax) * uint32(k+1) / RSCurrLevelNum)
}

func (c *Controller) resetRSSums() {
	c.iSum, c.vSum, c.sumCnt = 0, 0, 0
}

// rsMF holds each level for RSDetectionDurationMs/RSCurrLevelNum and averages
// current and voltage over the second half of it.
func (c *Controller) rsMF() {
	level := c.msToMF(uint32(c.params.RSDetectionDurationMs) / RSCurrLevelNum)
	if !c.acquire && c.cnt >= level/2 {
		c.resetRSSums()
		c.acquire = true
	}
	if c.cnt < level {
		return
	}
	c.acquire = false
	if c.sumCnt == 0 || c.kv <= 0 || c.kis <= 0 {
		c.phaseStop(mc.FaultSWError)
		return
	}
	k := c.rsLevel
	c.imaxArray[k] = float64(c.iSum) / float64(c.sumCnt) / float64(c.kis)
	c.vmaxArray[k] = float64(c.vSum) / float64(c.sumCnt) / float64(c.kv)
	c.resetRSSums()
	c.rsLevel++
	if c.rsLevel < RSCurrLevelNum {
		c.vCmd = c.rsLevelVoltage(c.rsLevel)
		c.cnt = 0
		return
	}
	c.finishRS()
}

func (c *Controller) finishRS() {
	offset, slope := stat.LinearRegression(c.imaxArray[:], c.vmaxArray[:], nil, false)
	if slope <= 0 {
		c.phaseStop(mc.FaultSWError)
		return
	}
	c.rTotal = float32(slope)
	if !c.offsetUser {
		c.offset = float32(offset)
	}
	if c.params.PBCharacterization {
		c.fRS = c.rTotal
		c.calibrationEnd()
		return
	}
	c.fRS = c.rTotal - c.params.RVNK
	c.startLS()
}

// restartSCC sets the current regulators from the measured R and L for the
// configured bandwidth, then starts the BEMF detection.
func (c *Controller) restartSCC() {
	if c.kv <= 0 || c.kis <= 0 {
		c.phaseStop(mc.FaultSWError)
		return
	}
	kp, ki := CurrentPIGains(c.rTotal, c.lsAvg, c.currentBW, c.tFOC, c.kv, c.kis)
	lim := int16(c.d.CLM.MaxModule)
	for _, pi := range []*pid.Regulator{c.d.PIDIq, c.d.PIDId} {
		pi.SetFloatGains(kp, ki)
		pi.SetOutputLimits(-lim, lim)
		pi.SetIntegralTerm(0)
	}
	c.startKE()
}

// CurrentPIGains places the zero of a current PI on the R/L pole for a
// closed-loop bandwidth of bw rad/s. tFOC is the control period, kv and kis
// the voltage and current digit scales. The gains map current digits to
// voltage digits.
func CurrentPIGains(r, l, bw, tFOC, kv, kis float32) (kp, ki float32) {
	if kis <= 0 {
		return 0, 0
	}
	return l * bw * kv / kis, r * bw * tFOC * kv / kis
}

// CheckOCRL handles an over-current event. During duty, alignment,
// resistance and inductance detection it halves the test current and the
// test voltage and restarts the running step after a cool-down, at most
// three times per run. Otherwise the run stops with FaultOverCurr. It
// reports whether the run goes on.
func (c *Controller) CheckOCRL() (bool, error) {
	if c == nil {
		return false, ErrInvalidHandle
	}
	if !c.ongoing {
		return false, nil
	}
	switch c.state {
	case StateDutyDetecting, StateAlign, StateRSDetectingRamp, StateRSDetecting, StateLSDetecting:
		if c.ocRetries < maxOCRetries {
			c.ocRetries++
			c.targetCurr /= 2
			c.lastTargetCurr = c.targetCurr
			c.dutyMax /= 2
			c.acquire = false
			c.resumeState = c.state
			c.coolDown = uint16(c.msToMF(coolDownMs))
			return true, nil
		}
	}
	c.phaseStop(mc.FaultOverCurr)
	return false, nil
}
