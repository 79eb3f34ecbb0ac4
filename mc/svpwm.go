package mc

// Duties holds the compare values for the three inverter legs.
type Duties struct {
	A, B, C uint32
}

// sqrt3Scale is sqrt(3)*32768 rounded, the digit span of the full bus.
const sqrt3Scale = 56756

// SVPWM converts a stationary voltage command into leg duties for a PWM
// period of `period` counts using min-max (zero-sequence) injection. An
// AlphaBeta modulus of 32767 is the largest linear amplitude.
func SVPWM(v AlphaBeta, period uint32) Duties {
	a, b, c := InvClarke(v)
	hi, lo := a, a
	for _, x := range [2]int32{b, c} {
		if x > hi {
			hi = x
		}
		if x < lo {
			lo = x
		}
	}
	off := (hi + lo) / 2
	return Duties{
		A: legDuty(a-off, period),
		B: legDuty(b-off, period),
		C: legDuty(c-off, period),
	}
}

func legDuty(v int32, period uint32) uint32 {
	d := int64(period)/2 + int64(v)*int64(period)/sqrt3Scale
	if d < 0 {
		return 0
	}
	if d > int64(period) {
		return period
	}
	return uint32(d)
}
