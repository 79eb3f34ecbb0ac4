// Package mc holds the types and transforms shared by the motor-control
// components: digit-scale vectors, Clarke/Park, the sine table, SVPWM,
// speed unit conversions, fault codes and the hardware-facing interfaces.
package mc

// Qd is a vector in the rotating frame, digit scale.
type Qd struct {
	Q int16
	D int16
}

// AlphaBeta is a vector in the stationary two-axis frame, digit scale.
type AlphaBeta struct {
	Alpha int16
	Beta  int16
}

// ABC holds two of the three phase quantities; the third is -(A+B).
type ABC struct {
	A int16
	B int16
}

// PhaseSample is one synchronized acquisition taken at the PWM centre.
type PhaseSample struct {
	Seq  uint32 // increments once per control cycle
	Ia   int16  // current digits
	Ib   int16
	Vbus uint16 // bus voltage digits, full scale = ConversionFactor volts
}

// Currents returns the phase currents as an ABC vector.
func (s PhaseSample) Currents() ABC {
	return ABC{A: s.Ia, B: s.Ib}
}
