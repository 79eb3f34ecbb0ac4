package mc

// PhaseSampler delivers one synchronized current and bus voltage sample per
// PWM cycle.
type PhaseSampler interface {
	Sample() PhaseSample
}

// VoltageActuator applies a stationary-frame voltage command until the next
// cycle. Disable turns all legs off.
type VoltageActuator interface {
	Apply(v AlphaBeta)
	Disable()
}

// FaultSource reports latched hardware protection flags as a FaultCode mask.
type FaultSource interface {
	Faults() uint16
}

// CounterSource is a free-running quadrature counter.
type CounterSource interface {
	Count() int32
}

// TemperatureSource returns the raw temperature sensor reading, 16-bit
// left-aligned.
type TemperatureSource interface {
	ReadRaw() uint16
}
