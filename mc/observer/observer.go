// Package observer estimates rotor angle and speed from the back-EMF of a
// surface permanent magnet motor. A voltage model reconstructs the EMF in the
// stationary frame and a type-2 PLL locks on its angle.
package observer

import (
	"math"

	"motorprofiler/mc"
)

const speedBufferSize = 16

// Params configures the observer.
type Params struct {
	PolePairs           uint8
	ControlFreqHz       uint32
	CurrentDigitsPerAmp float32
	RsOhm               float32
	LsHenry             float32
	PLLBandwidthHz      float32 // natural frequency of the PLL
	PLLDamping          float32
	// Speed estimates whose spread over the buffer stays below this fraction
	// of the mean are reported as reliable.
	VarianceFraction float32
	// Below this EMF magnitude (volts) the angle error is not used.
	MinEMFVolt float32
}

// Observer is the EMF + PLL state.
type Observer struct {
	params Params
	ts     float32
	k1, k2 float32

	prevI  [2]float32 // amps
	prevV  [2]float32 // volts, applied during the coming period
	primed bool

	emf   [2]float32
	theta float32 // electrical rad
	omega float32 // electrical rad/s

	speedBuf  [speedBufferSize]int16
	speedIdx  int
	speedFill int
	avrSpeed  int16
	reliable  bool
}

// New returns an observer with gains derived from p.
func New(p Params) *Observer {
	o := &Observer{}
	o.SetParams(p)
	return o
}

// SetParams changes the machine parameters and recomputes the PLL gains.
func (o *Observer) SetParams(p Params) {
	if p.PLLDamping == 0 {
		p.PLLDamping = 0.7
	}
	if p.VarianceFraction == 0 {
		p.VarianceFraction = 0.1
	}
	o.params = p
	if p.ControlFreqHz > 0 {
		o.ts = 1 / float32(p.ControlFreqHz)
	}
	wn := 2 * math.Pi * p.PLLBandwidthHz
	o.k1 = 2 * p.PLLDamping * float32(wn)
	o.k2 = float32(wn * wn)
}

// SetMotorParams updates the resistance and inductance used by the EMF model.
func (o *Observer) SetMotorParams(rs, ls float32) {
	o.params.RsOhm = rs
	o.params.LsHenry = ls
}

// Params returns the active configuration.
func (o *Observer) Params() Params { return o.params }

// Clear resets the estimates.
func (o *Observer) Clear() {
	p := o.params
	ts, k1, k2 := o.ts, o.k1, o.k2
	*o = Observer{params: p, ts: ts, k1: k1, k2: k2}
}

// Init seeds angle and speed, typically from the virtual speed sensor.
func (o *Observer) Init(angle int16, mecSpeedUnit int16) {
	o.theta = mc.AngleToRad(angle)
	o.omega = mc.MecSpeedUnitToRadPerSec(float32(mecSpeedUnit)) * float32(o.params.PolePairs)
	for i := range o.speedBuf {
		o.speedBuf[i] = mecSpeedUnit
	}
	o.speedFill = speedBufferSize
	o.avrSpeed = mecSpeedUnit
	o.primed = false
}

// CalcElAngle runs one control period. i is the measured current, v the
// voltage that will be applied until the next sample, vbusVolt the bus
// voltage used to scale it.
func (o *Observer) CalcElAngle(i mc.AlphaBeta, v mc.AlphaBeta, vbusVolt float32) int16 {
	p := o.params
	ia := float32(i.Alpha) / p.CurrentDigitsPerAmp
	ib := float32(i.Beta) / p.CurrentDigitsPerAmp

	if o.primed {
		// L di/dt = v - R i - e over the previous period
		o.emf[0] = o.prevV[0] - p.RsOhm*(ia+o.prevI[0])/2 - p.LsHenry*(ia-o.prevI[0])/o.ts
		o.emf[1] = o.prevV[1] - p.RsOhm*(ib+o.prevI[1])/2 - p.LsHenry*(ib-o.prevI[1])/o.ts
	}
	o.prevI = [2]float32{ia, ib}
	kv := mc.VoltDigitsPerVolt(vbusVolt)
	if kv > 0 {
		o.prevV = [2]float32{float32(v.Alpha) / kv, float32(v.Beta) / kv}
	}
	o.primed = true

	mag := float32(math.Hypot(float64(o.emf[0]), float64(o.emf[1])))
	var perr float32
	if mag > p.MinEMFVolt && mag > 0 {
		s, c := math.Sincos(float64(o.theta))
		// e = w*lambda*(-sin, cos): the error is sin(theta - thetaHat)
		perr = (-o.emf[0]*float32(c) - o.emf[1]*float32(s)) / mag
		if o.omega < 0 {
			perr = -perr
		}
	}
	o.omega += o.k2 * perr * o.ts
	o.theta += (o.omega + o.k1*perr) * o.ts
	for o.theta >= math.Pi {
		o.theta -= 2 * math.Pi
	}
	for o.theta < -math.Pi {
		o.theta += 2 * math.Pi
	}
	return o.ElAngle()
}

// CalcAvrgMecSpeedUnit is called at the medium frequency. It averages the
// speed estimate and returns it with the reliability flag.
func (o *Observer) CalcAvrgMecSpeedUnit() (int16, bool) {
	speed := o.instantMecSpeedUnit()
	o.speedBuf[o.speedIdx] = speed
	o.speedIdx = (o.speedIdx + 1) % speedBufferSize
	if o.speedFill < speedBufferSize {
		o.speedFill++
	}
	var sum, sumSq float64
	for _, s := range o.speedBuf[:o.speedFill] {
		sum += float64(s)
		sumSq += float64(s) * float64(s)
	}
	n := float64(o.speedFill)
	mean := sum / n
	variance := sumSq/n - mean*mean
	o.avrSpeed = int16(math.Round(mean))
	limit := float64(o.params.VarianceFraction) * mean
	o.reliable = o.speedFill == speedBufferSize && variance <= limit*limit && mean != 0
	return o.avrSpeed, o.reliable
}

func (o *Observer) instantMecSpeedUnit() int16 {
	if o.params.PolePairs == 0 {
		return 0
	}
	v := float64(o.omega) / (2 * math.Pi * float64(o.params.PolePairs)) * mc.SpeedUnit
	v = math.Max(math.Min(v, math.MaxInt16), math.MinInt16)
	return int16(math.Round(v))
}

// IsReliable returns the last reliability verdict.
func (o *Observer) IsReliable() bool { return o.reliable }

// EMF returns the last back-EMF estimate in volts.
func (o *Observer) EMF() (alpha, beta float32) { return o.emf[0], o.emf[1] }

// ElSpeedRadPerSec returns the electrical speed estimate.
func (o *Observer) ElSpeedRadPerSec() float32 { return o.omega }

// ElAngle implements mc.SpeedPosFeedback.
func (o *Observer) ElAngle() int16 { return mc.RadToAngle(o.theta) }

// MecAngle implements mc.SpeedPosFeedback. The observer cannot tell which
// pole pair the rotor is under, so this is the angle within one pole pair.
func (o *Observer) MecAngle() int16 {
	if o.params.PolePairs == 0 {
		return 0
	}
	return o.ElAngle() / int16(o.params.PolePairs)
}

// AvrgMecSpeedUnit implements mc.SpeedPosFeedback.
func (o *Observer) AvrgMecSpeedUnit() int16 { return o.avrSpeed }

// ElSpeedDpp implements mc.SpeedPosFeedback.
func (o *Observer) ElSpeedDpp() int16 {
	if o.params.ControlFreqHz == 0 {
		return 0
	}
	return int16(o.omega * 65536 / (2 * math.Pi * float32(o.params.ControlFreqHz)))
}
