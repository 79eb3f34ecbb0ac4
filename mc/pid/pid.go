// Package pid implements the integer PI regulator used by the current and
// speed loops. Gains are integers scaled down by power-of-two divisors.
package pid

import (
	"math"

	"motorprofiler/mc/fixp"
)

// MaxDivisorPow2 bounds the divisors produced by GainFromFloat.
const MaxDivisorPow2 = 20

// Params is the static regulator configuration.
type Params struct {
	KpGain        int16
	KiGain        int16
	KpDivisorPow2 uint16
	KiDivisorPow2 uint16
	// Integral limits are in the undivided integral domain; zero selects the
	// output limits shifted by KiDivisorPow2.
	UpperIntegralLimit int64
	LowerIntegralLimit int64
	UpperOutputLimit   int16
	LowerOutputLimit   int16
}

// Regulator is a PI controller with conditional integration anti-windup.
type Regulator struct {
	params   Params
	kp, ki   int16
	integral int64
}

// New returns a regulator with the default gains from p.
func New(p Params) *Regulator {
	r := &Regulator{}
	r.Init(p)
	return r
}

// Init applies p and clears the integral term.
func (r *Regulator) Init(p Params) {
	if p.UpperOutputLimit == 0 && p.LowerOutputLimit == 0 {
		p.UpperOutputLimit = math.MaxInt16
		p.LowerOutputLimit = -math.MaxInt16
	}
	r.params = p
	r.kp = p.KpGain
	r.ki = p.KiGain
	r.updateIntegralLimits()
	r.integral = 0
}

func (r *Regulator) updateIntegralLimits() {
	p := &r.params
	if p.UpperIntegralLimit == 0 && p.LowerIntegralLimit == 0 {
		p.UpperIntegralLimit = int64(p.UpperOutputLimit) << p.KiDivisorPow2
		p.LowerIntegralLimit = int64(p.LowerOutputLimit) << p.KiDivisorPow2
	}
}

// SetKP sets the proportional gain.
func (r *Regulator) SetKP(kp int16) { r.kp = kp }

// SetKI sets the integral gain.
func (r *Regulator) SetKI(ki int16) { r.ki = ki }

// KP returns the proportional gain.
func (r *Regulator) KP() int16 { return r.kp }

// KI returns the integral gain.
func (r *Regulator) KI() int16 { return r.ki }

// KPDivisorPow2 returns the proportional divisor exponent.
func (r *Regulator) KPDivisorPow2() uint16 { return r.params.KpDivisorPow2 }

// KIDivisorPow2 returns the integral divisor exponent.
func (r *Regulator) KIDivisorPow2() uint16 { return r.params.KiDivisorPow2 }

// SetGains replaces both gains and divisors and rescales the integral term so
// the output does not jump.
func (r *Regulator) SetGains(kp int16, kpDiv uint16, ki int16, kiDiv uint16) {
	old := r.params.KiDivisorPow2
	r.kp, r.ki = kp, ki
	r.params.KpDivisorPow2 = kpDiv
	r.params.KiDivisorPow2 = kiDiv
	r.params.UpperIntegralLimit = int64(r.params.UpperOutputLimit) << kiDiv
	r.params.LowerIntegralLimit = int64(r.params.LowerOutputLimit) << kiDiv
	if kiDiv >= old {
		r.integral <<= kiDiv - old
	} else {
		r.integral >>= old - kiDiv
	}
}

// SetFloatGains converts real-valued gains with GainFromFloat and applies them.
func (r *Regulator) SetFloatGains(kp, ki float32) {
	kpg, kpd := GainFromFloat(kp)
	kig, kid := GainFromFloat(ki)
	r.SetGains(kpg, kpd, kig, kid)
}

// FloatGains returns the effective real-valued gains.
func (r *Regulator) FloatGains() (kp, ki float32) {
	return float32(r.kp) / float32(int64(1)<<r.params.KpDivisorPow2),
		float32(r.ki) / float32(int64(1)<<r.params.KiDivisorPow2)
}

// SetIntegralTerm loads the undivided integral accumulator.
func (r *Regulator) SetIntegralTerm(v int64) { r.integral = v }

// IntegralTerm returns the undivided integral accumulator.
func (r *Regulator) IntegralTerm() int64 { return r.integral }

// Preload sets the integral so that a zero error yields output.
func (r *Regulator) Preload(output int16) {
	r.integral = int64(output) << r.params.KiDivisorPow2
}

// SetOutputLimits changes the output saturation and the derived integral
// limits.
func (r *Regulator) SetOutputLimits(lower, upper int16) {
	r.params.UpperOutputLimit = upper
	r.params.LowerOutputLimit = lower
	r.params.UpperIntegralLimit = int64(upper) << r.params.KiDivisorPow2
	r.params.LowerIntegralLimit = int64(lower) << r.params.KiDivisorPow2
}

// PI runs one regulator step on the process error and returns the saturated
// output. The integral is frozen while the output is saturated in the
// direction the error pushes.
func (r *Regulator) PI(err int32) int16 {
	p := &r.params
	prop := int64(r.kp) * int64(err)

	integral := r.integral
	if r.ki == 0 {
		integral = 0
	} else {
		integral = fixp.Clamp(integral+int64(r.ki)*int64(err), p.LowerIntegralLimit, p.UpperIntegralLimit)
	}

	out := prop>>p.KpDivisorPow2 + integral>>p.KiDivisorPow2
	switch {
	case out > int64(p.UpperOutputLimit):
		out = int64(p.UpperOutputLimit)
		if err > 0 {
			integral = min(r.integral, integral)
		}
	case out < int64(p.LowerOutputLimit):
		out = int64(p.LowerOutputLimit)
		if err < 0 {
			integral = max(r.integral, integral)
		}
	}
	r.integral = integral
	return int16(out)
}

// GainFromFloat returns the integer gain and the largest power-of-two divisor
// (up to MaxDivisorPow2) that represent k without overflowing int16.
func GainFromFloat(k float32) (int16, uint16) {
	if k == 0 {
		return 0, 0
	}
	abs := math.Abs(float64(k))
	var div uint16
	for div < MaxDivisorPow2 && abs*float64(int64(2)<<div) <= math.MaxInt16 {
		div++
	}
	g := math.Round(float64(k) * float64(int64(1)<<div))
	return int16(fixp.Clamp(g, -math.MaxInt16, math.MaxInt16)), div
}
