package mc

import "motorprofiler/mc/fixp"

const (
	oneOverSqrt3Q15 = 18919 // 1/sqrt(3)
	twoOverSqrt3Q15 = 37838 // 2/sqrt(3)
	sqrt3Over2Q15   = 28378 // sqrt(3)/2
)

// Clarke converts two phase currents to the stationary frame, amplitude
// invariant: alpha = a, beta = (a + 2b)/sqrt(3).
func Clarke(in ABC) AlphaBeta {
	a := int32(in.A)
	b := int32(in.B)
	beta := fixp.ShiftRound(int64(a)*oneOverSqrt3Q15+int64(b)*twoOverSqrt3Q15, 15)
	return AlphaBeta{Alpha: in.A, Beta: fixp.Sat16(fixp.Sat32(beta))}
}

// InvClarke returns the three phase values of a stationary vector.
func InvClarke(v AlphaBeta) (a, b, c int32) {
	alpha := int64(v.Alpha)
	beta := int64(v.Beta)
	a = int32(alpha)
	half := -alpha << 14 // -alpha/2 in Q15
	b = int32(fixp.ShiftRound(half+beta*sqrt3Over2Q15, 15))
	c = int32(fixp.ShiftRound(half-beta*sqrt3Over2Q15, 15))
	return a, b, c
}

// Park rotates a stationary vector into the frame at angle.
func Park(v AlphaBeta, angle int16) Qd {
	s, c := SinCos(angle)
	alpha := int64(v.Alpha)
	beta := int64(v.Beta)
	d := fixp.ShiftRound(alpha*int64(c)+beta*int64(s), 15)
	q := fixp.ShiftRound(-alpha*int64(s)+beta*int64(c), 15)
	return Qd{Q: fixp.Sat16(fixp.Sat32(q)), D: fixp.Sat16(fixp.Sat32(d))}
}

// RevPark rotates a rotating-frame vector back to the stationary frame.
func RevPark(v Qd, angle int16) AlphaBeta {
	s, c := SinCos(angle)
	d := int64(v.D)
	q := int64(v.Q)
	alpha := fixp.ShiftRound(d*int64(c)-q*int64(s), 15)
	beta := fixp.ShiftRound(d*int64(s)+q*int64(c), 15)
	return AlphaBeta{Alpha: fixp.Sat16(fixp.Sat32(alpha)), Beta: fixp.Sat16(fixp.Sat32(beta))}
}

// Modulus returns the vector magnitude using the exact floor square root.
func (v Qd) Modulus() uint16 {
	q := int32(v.Q)
	d := int32(v.D)
	return fixp.Isqrt32(uint32(q*q) + uint32(d*d))
}

// Modulus returns the vector magnitude using the exact floor square root.
func (v AlphaBeta) Modulus() uint16 {
	a := int32(v.Alpha)
	b := int32(v.Beta)
	return fixp.Isqrt32(uint32(a*a) + uint32(b*b))
}
