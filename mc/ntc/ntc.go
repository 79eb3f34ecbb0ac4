// Package ntc converts a linearised NTC reading into a temperature and
// raises an over-temperature fault with hysteresis.
package ntc

import "motorprofiler/mc"

// SensorType selects between a real sensor and a fixed virtual reading.
type SensorType uint8

const (
	RealSensor SensorType = iota
	VirtualSensor
)

// Params configures the sensor. Temperatures in digits follow
// T[C] = (digit - V0) * Sensitivity / 65536 + T0.
type Params struct {
	Type                   SensorType
	LowPassFilterBW        uint16
	OverTempThreshold      uint16 // digits
	OverTempDeactThreshold uint16 // digits, fault clears below
	Sensitivity            int32
	V0                     uint32
	T0                     int16
	ExpectedTempDigit      uint16 // virtual sensor reading
	ExpectedTempC          int16
}

// Sensor holds the filtered temperature.
type Sensor struct {
	params Params
	avg    uint16
	fault  mc.FaultCode
}

// New returns an initialised sensor.
func New(p Params) *Sensor {
	if p.LowPassFilterBW == 0 {
		p.LowPassFilterBW = 1
	}
	s := &Sensor{params: p}
	s.Clear()
	return s
}

// Clear resets the filter.
func (s *Sensor) Clear() {
	if s.params.Type == VirtualSensor {
		s.avg = s.params.ExpectedTempDigit
	} else {
		s.avg = 0
	}
	s.fault = mc.NoError
}

// CalcAvTemp feeds one raw reading and returns the fault state. 0xFFFF is an
// invalid conversion and is ignored.
func (s *Sensor) CalcAvTemp(raw uint16) mc.FaultCode {
	if s.params.Type == VirtualSensor {
		s.fault = mc.NoError
		return s.fault
	}
	if raw != 0xFFFF {
		bw := uint32(s.params.LowPassFilterBW)
		s.avg = uint16((uint32(s.avg)*(bw-1) + uint32(raw)) / bw)
	}
	switch {
	case s.avg > s.params.OverTempThreshold:
		s.fault = mc.FaultOverTemp
	case s.avg < s.params.OverTempDeactThreshold:
		s.fault = mc.NoError
	}
	return s.fault
}

// AvTempDigit returns the filtered reading.
func (s *Sensor) AvTempDigit() uint16 { return s.avg }

// AvTempC returns the filtered temperature in degrees Celsius.
func (s *Sensor) AvTempC() int16 {
	if s.params.Type == VirtualSensor {
		return s.params.ExpectedTempC
	}
	t := (int32(s.avg) - int32(s.params.V0)) * s.params.Sensitivity
	return int16(t/65536) + s.params.T0
}

// DigitFromCelsius is the inverse of AvTempC, used by sources that measure
// temperature directly.
func (s *Sensor) DigitFromCelsius(c float32) uint16 {
	if s.params.Sensitivity == 0 {
		return 0
	}
	d := (c-float32(s.params.T0))*65536/float32(s.params.Sensitivity) + float32(s.params.V0)
	if d < 0 {
		return 0
	}
	if d > 0xFFFE {
		return 0xFFFE
	}
	return uint16(d + 0.5)
}

// FaultState returns the last fault state.
func (s *Sensor) FaultState() mc.FaultCode { return s.fault }
