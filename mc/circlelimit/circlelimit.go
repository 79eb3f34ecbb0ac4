// Package circlelimit saturates a rotating-frame voltage command to the
// circle the inverter can produce.
package circlelimit

import (
	"motorprofiler/mc"
	"motorprofiler/mc/fixp"
)

// Limiter holds the voltage circle radius and the largest d-axis component
// allowed once the circle is exceeded.
type Limiter struct {
	MaxModule uint16
	MaxVd     uint16
}

// New returns a limiter with MaxVd clamped to MaxModule and MaxModule clamped
// to the int16 range.
func New(maxModule, maxVd uint16) *Limiter {
	if maxModule > 32767 {
		maxModule = 32767
	}
	if maxVd > maxModule {
		maxVd = maxModule
	}
	return &Limiter{MaxModule: maxModule, MaxVd: maxVd}
}

// Limit returns v unchanged when it lies inside the circle. Otherwise Vd is
// clamped to +-MaxVd and Vq takes the remaining magnitude, keeping its sign.
// The floor square root never overshoots, so the result modulus is in
// (MaxModule-1, MaxModule] measured on Vq. A nil limiter outputs zero volts.
func (l *Limiter) Limit(v mc.Qd) mc.Qd {
	if l == nil {
		return mc.Qd{}
	}
	q := int32(v.Q)
	d := int32(v.D)
	maxModule := uint32(l.MaxModule)
	maxSq := maxModule * maxModule
	if uint32(q*q)+uint32(d*d) <= maxSq {
		return v
	}

	maxVd := int32(l.MaxVd)
	if maxVd > int32(l.MaxModule) {
		maxVd = int32(l.MaxModule)
	}
	d = fixp.Clamp(d, -maxVd, maxVd)

	qMag := int32(fixp.Isqrt32(maxSq - uint32(d*d)))
	if q < 0 {
		q = -qMag
	} else {
		q = qMag
	}
	return mc.Qd{Q: fixp.Sat16(q), D: fixp.Sat16(d)}
}
