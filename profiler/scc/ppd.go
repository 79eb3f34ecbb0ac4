package scc

import (
	"math"

	"motorprofiler/mc"
)

// StartPolePairDetection aligns the rotor with the duty found by the last
// run, then turns a voltage vector ppdElTurns electrical turns and compares
// them with the mechanical turns the encoder saw.
func (c *Controller) StartPolePairDetection() error {
	if c == nil {
		return ErrInvalidHandle
	}
	if c.ongoing {
		return ErrBusy
	}
	if c.d.Encoder == nil || c.d.Aligner == nil {
		return ErrNoEncoder
	}
	if c.dutyMax == 0 {
		return ErrNoDuty
	}
	c.fault = mc.NoError
	c.coolDown = 0
	c.ongoing = true
	c.enter(StatePPDetectionRamp)
	c.d.Aligner.SetFinalReference(int16(c.dutyMax))
	c.d.Aligner.StartAlignment()
	return nil
}

func (c *Controller) ppdMF() {
	switch c.state {
	case StatePPDetectionRamp:
		if !c.d.Aligner.Exec() {
			return
		}
		c.enter(StatePPDetectionPhaseRamp)
		c.ppdCount0 = c.d.Encoder.Counts()
		c.ppdAngle32 = int32(c.d.Aligner.ElAngle()) << 16
		c.ppdSpeed32 = 0
		c.ppdElAcc = 0
		c.ppdTarget = int32(int64(ppdElSpeedHz) << 32 / int64(c.focHz))
		c.ppdInc = max(c.ppdTarget/int32(max(ppdRampMs*c.focHz/1000, 1)), 1)
	case StatePPDetectionPhaseRamp:
		if c.ppdSpeed32 >= c.ppdTarget {
			c.state = StatePPDetectionPhase
		}
	case StatePPDetectionPhase:
		if c.ppdElAcc >= ppdElTurns<<32 {
			c.finishPPD()
		}
	}
}

func (c *Controller) finishPPD() {
	pulses := c.d.Encoder.Params().PulseNumber
	if pulses == 0 {
		c.phaseStop(mc.FaultSpeedFdbk)
		return
	}
	mech := math.Abs(float64(c.d.Encoder.Counts()-c.ppdCount0)) / float64(pulses)
	el := float64(c.ppdElAcc) / (1 << 32)
	if mech < 1.0/256 {
		c.phaseStop(mc.FaultSpeedFdbk)
		return
	}
	pp := math.Round(el / mech)
	if pp < 1 || pp > math.MaxUint8 {
		c.phaseStop(mc.FaultSpeedFdbk)
		return
	}
	c.SetPolesPairs(uint8(pp))
	c.d.Encoder.SetPolePairs(uint8(pp))
	c.calibrationEnd()
}
