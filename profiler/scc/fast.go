package scc

import (
	"motorprofiler/mc"
	"motorprofiler/mc/fixp"
)

// SetPhaseVoltage runs one FOC period. It returns the stationary-frame
// voltage to apply until the next sample and mc.FaultDuration when the
// sample sequence shows that a period was missed. It never blocks and does
// a bounded amount of work in every state.
func (c *Controller) SetPhaseVoltage(s mc.PhaseSample) (mc.AlphaBeta, mc.FaultCode) {
	if c == nil {
		return mc.AlphaBeta{}, mc.FaultSWError
	}
	fault := mc.NoError
	if c.seqOK && s.Seq != c.seq+1 {
		fault = mc.FaultDuration
	}
	c.seq, c.seqOK = s.Seq, true

	if !c.ongoing {
		return mc.AlphaBeta{}, fault
	}
	i := mc.Clarke(s.Currents())
	c.busSum += uint32(s.Vbus)
	c.busCnt++
	if c.coolDown > 0 {
		return mc.AlphaBeta{}, fault
	}

	var v mc.AlphaBeta
	switch c.state {
	case StateDutyDetecting:
		v = c.dutyFast(i)
	case StateAlign, StateRSDetectingRamp, StateRSDetecting:
		v = c.rsFast(i)
	case StateLSDetecting:
		v = c.lsFast(i)
	case StateKEDetecting:
		v = c.keFast(i)
	case StatePPDetectionRamp, StatePPDetectionPhaseRamp, StatePPDetectionPhase:
		v = c.ppdFast()
	}
	return v, fault
}

func (c *Controller) targetDigits() int16 {
	return fixp.Sat16(int32(c.targetCurr * c.kis))
}

func (c *Controller) dutyFast(i mc.AlphaBeta) mc.AlphaBeta {
	if !c.dutyFound {
		limit := int32(c.d.CLM.MaxModule) << 16
		switch {
		case fixp.Abs(int32(i.Alpha)) >= int32(c.targetDigits()):
			c.dutyFound = true
		case c.dutyAcc >= limit-c.dutyInc:
			c.dutyAcc = limit
			c.dutyFound = true
		default:
			c.dutyAcc += c.dutyInc
		}
		if c.dutyFound {
			c.dutyMax = uint16(c.dutyAcc >> 16)
		}
	}
	return mc.AlphaBeta{Alpha: int16(c.dutyAcc >> 16)}
}

func (c *Controller) rsFast(i mc.AlphaBeta) mc.AlphaBeta {
	if c.acquire {
		c.iSum += int64(i.Alpha)
		c.vSum += int64(c.vCmd)
		c.sumCnt++
	}
	return mc.AlphaBeta{Alpha: c.vCmd}
}

func (c *Controller) lsFast(i mc.AlphaBeta) mc.AlphaBeta {
	if c.lsReady {
		return mc.AlphaBeta{}
	}
	switch c.lsState {
	case LSDecay:
		th := int32(c.params.IThreshold * float32(c.targetDigits()))
		if fixp.Abs(int32(i.Alpha)) <= th {
			c.lsStable++
			if c.lsStable >= lsDecayStable {
				c.lsState = LSHold
				c.lsTick = 0
			}
		} else {
			c.lsStable = 0
		}
		return mc.AlphaBeta{}
	case LSHold:
		c.lsTick++
		if c.lsTick >= lsHoldTicks {
			c.lsState = LSRise
			c.lsTick = 0
			c.lsIdx = 0
			c.lsDecim = 1
		}
		return mc.AlphaBeta{}
	}

	// sample k holds the current k*lsDecim periods after the step
	if c.lsTick%c.lsDecim == 0 {
		c.iaBuff[c.lsIdx] = i.Alpha
		c.lsIdx++
		if c.lsIdx == LSBuffSize {
			if c.lsSettled() || c.lsDecim >= lsMaxDecimation {
				c.lsReady = true
				return mc.AlphaBeta{}
			}
			for k := 0; k < LSBuffSize/2; k++ {
				c.iaBuff[k] = c.iaBuff[2*k]
			}
			c.lsIdx = LSBuffSize / 2
			c.lsDecim *= 2
		}
	}
	c.lsTick++
	return mc.AlphaBeta{Alpha: int16(c.dutyMax)}
}

// lsSettled compares the mean of the last two eighths of the record.
func (c *Controller) lsSettled() bool {
	const n = LSBuffSize / 8
	var a, b int32
	for k := LSBuffSize - 2*n; k < LSBuffSize-n; k++ {
		a += int32(c.iaBuff[k])
	}
	for k := LSBuffSize - n; k < LSBuffSize; k++ {
		b += int32(c.iaBuff[k])
	}
	return fixp.Abs(b-a)*100 < fixp.Abs(b)
}

func (c *Controller) keFast(i mc.AlphaBeta) mc.AlphaBeta {
	obs := c.d.Observer.ElAngle()
	angle := c.d.VSS.CalcElAngle(obs)
	if c.d.VSS.TransitionEnded() && c.d.VSS.TransitionLocked() {
		angle = obs
	}
	// the current vector stays fixed in the open-loop frame
	delta := angle - c.d.VSS.OpenLoopAngle()
	sin, cos := mc.SinCos(delta)
	ref := mc.Qd{Q: fixp.MulQ15(c.torqueRef, cos), D: fixp.MulQ15(c.torqueRef, sin)}

	iqd := mc.Park(i, angle)
	v := mc.Qd{
		Q: c.d.PIDIq.PI(int32(ref.Q) - int32(iqd.Q)),
		D: c.d.PIDId.PI(int32(ref.D) - int32(iqd.D)),
	}
	v = c.d.CLM.Limit(v)

	c.vqSum += int64(v.Q)
	c.vdSum += int64(v.D)
	c.iqSum += int64(iqd.Q)
	c.idSum += int64(iqd.D)
	c.keSamples++

	// the vector is applied over the coming period, rotate it half a step ahead
	vab := mc.RevPark(v, angle+c.d.VSS.ElSpeedDpp()/2)
	if c.obsActive {
		c.d.Observer.CalcElAngle(i, vab, c.busV)
	}
	return vab
}

func (c *Controller) ppdFast() mc.AlphaBeta {
	switch c.state {
	case StatePPDetectionRamp:
		return mc.RevPark(mc.Qd{D: c.d.Aligner.Reference()}, c.d.Aligner.ElAngle())
	case StatePPDetectionPhaseRamp:
		if c.ppdSpeed32+c.ppdInc < c.ppdTarget {
			c.ppdSpeed32 += c.ppdInc
		} else {
			c.ppdSpeed32 = c.ppdTarget
		}
	}
	c.ppdAngle32 += c.ppdSpeed32
	c.ppdElAcc += int64(c.ppdSpeed32)
	return mc.RevPark(mc.Qd{D: int16(c.dutyMax)}, int16(c.ppdAngle32>>16))
}
