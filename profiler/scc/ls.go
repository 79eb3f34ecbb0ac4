package scc

import (
	"math"

	"motorprofiler/mc"
)

// oneTau is the share of a first-order step reached after one time constant.
const oneTau = 1 - 1/math.E

func (c *Controller) startLS() {
	c.enter(StateLSDetecting)
	c.lsState = LSDecay
	c.lsStable = 0
	c.lsReady = false
	c.lsSum, c.lsTestCnt, c.lsValid = 0, 0, 0
}

// lsMF consumes a finished current rise record and arms the next test.
func (c *Controller) lsMF() {
	if !c.lsReady {
		return
	}
	if tau := c.lsTau(); tau > 0 {
		c.fItau = tau
		c.lsSum += tau * c.rTotal
		c.lsValid++
	}
	c.lsTestCnt++
	c.lsState = LSDecay
	c.lsStable = 0
	c.lsReady = false
	if c.lsTestCnt < lsTests {
		return
	}
	if c.lsValid == 0 {
		c.phaseStop(mc.FaultSWError)
		return
	}
	c.lsAvg = c.lsSum / float32(c.lsValid)
	c.fLS = c.lsAvg / c.ldlq
	c.enter(StateWaitRestart)
}

// lsTau returns the time the recorded rise took to cover 63.2% of the way
// from its first sample to its plateau, interpolated between samples.
func (c *Controller) lsTau() float32 {
	n := c.lsIdx
	if n <= lsPlateauSamples {
		return 0
	}
	var plateau float32
	for _, v := range c.iaBuff[n-lsPlateauSamples : n] {
		plateau += float32(v)
	}
	plateau /= lsPlateauSamples
	i0 := float32(c.iaBuff[0])
	if plateau <= i0 {
		return 0
	}
	th := i0 + oneTau*(plateau-i0)
	for k := 1; k < n; k++ {
		cur := float32(c.iaBuff[k])
		if cur < th {
			continue
		}
		prev := float32(c.iaBuff[k-1])
		frac := float32(1)
		if cur > prev {
			frac = (th - prev) / (cur - prev)
		}
		return (float32(k-1) + frac) * float32(c.lsDecim) * c.tFOC
	}
	return 0
}
