package core

import "motorprofiler/mc"

// InverterDriver is the three-leg center-aligned PWM the FOC loop writes to.
// Platform-specific implementations handle the timer hardware.
type InverterDriver interface {
	// Configure sets the switching frequency and returns the PWM period in
	// counts (the duty value of a leg held high).
	Configure(freqHz uint32) (period uint32, err error)

	// SetDuties latches new compare values at the next period boundary.
	SetDuties(d mc.Duties)

	// Enable switches the gate drivers on or off. Off leaves all legs open.
	Enable(on bool)
}

// PhaseADC reads the two shunt amplifiers and the bus divider, triggered at
// the PWM center. Readings are 16-bit left aligned.
type PhaseADC interface {
	ReadPhases() (ia, ib, vbus uint16, err error)
}
