package circlelimit

import (
	"testing"

	"motorprofiler/mc"
)

func modSq(v mc.Qd) uint32 {
	q := int32(v.Q)
	d := int32(v.D)
	return uint32(q*q) + uint32(d*d)
}

func TestInsideCircleUnchanged(t *testing.T) {
	l := New(30000, 10000)
	in := []mc.Qd{{Q: 0, D: 0}, {Q: 20000, D: 20000}, {Q: -30000, D: 0}, {Q: 0, D: -30000}}
	for _, v := range in {
		if out := l.Limit(v); out != v {
			t.Errorf("Expected %+v unchanged, got %+v", v, out)
		}
	}
}

func TestOutsideCircle(t *testing.T) {
	l := New(30000, 10000)
	max := uint32(30000) * 30000
	inputs := []mc.Qd{
		{Q: 32767, D: 32767},
		{Q: -32768, D: -32768},
		{Q: 32767, D: 0},
		{Q: -25000, D: 20000},
		{Q: 100, D: 32000},
	}
	for _, v := range inputs {
		out := l.Limit(v)
		if modSq(out) > max {
			t.Errorf("%+v: modulus of %+v exceeds MaxModule", v, out)
		}
		if out.D > 10000 || out.D < -10000 {
			t.Errorf("%+v: Vd %d exceeds MaxVd", v, out.D)
		}
		if (out.Q < 0) != (v.Q < 0) {
			t.Errorf("%+v: sign of Vq not preserved, got %d", v, out.Q)
		}
		// within one digit of the circle on Vq
		q1 := int32(out.Q)
		if q1 < 0 {
			q1 = -q1
		}
		q1++
		d := int32(out.D)
		if uint32(q1*q1)+uint32(d*d) <= max {
			t.Errorf("%+v: %+v undershoots the circle by more than 1 digit", v, out)
		}
	}
}

func TestConstructorClamps(t *testing.T) {
	l := New(40000, 50000)
	if l.MaxModule != 32767 || l.MaxVd != 32767 {
		t.Errorf("Expected 32767/32767, got %d/%d", l.MaxModule, l.MaxVd)
	}
	l = New(20000, 30000)
	if l.MaxVd != 20000 {
		t.Errorf("Expected MaxVd clamped to 20000, got %d", l.MaxVd)
	}
}

func TestNilLimiter(t *testing.T) {
	var l *Limiter
	if got := l.Limit(mc.Qd{Q: 30000, D: -30000}); got != (mc.Qd{}) {
		t.Errorf("Expected zero volts from a nil limiter, got %+v", got)
	}
}
