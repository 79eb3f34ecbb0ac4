// Package busvoltage implements the resistor-divider DC bus voltage sensor
// with over- and under-voltage detection.
package busvoltage

import "motorprofiler/mc"

// Params configures a Sensor. Thresholds are in bus voltage digits.
type Params struct {
	// ConversionFactor is the bus voltage, in volts, read as full scale.
	ConversionFactor        float32
	LowPassFilterBW         uint16
	OverVoltageThreshold    uint16
	OverVoltageThresholdLow uint16 // fault clears below this
	UnderVoltageThreshold   uint16
}

// Sensor filters raw readings and latches the voltage fault state.
type Sensor struct {
	params   Params
	avg      uint32
	latest   uint16
	primed   bool
	overHeld bool
	fault    mc.FaultCode
}

// New returns a cleared sensor.
func New(p Params) *Sensor {
	if p.LowPassFilterBW == 0 {
		p.LowPassFilterBW = 1
	}
	if p.OverVoltageThresholdLow == 0 || p.OverVoltageThresholdLow > p.OverVoltageThreshold {
		p.OverVoltageThresholdLow = p.OverVoltageThreshold
	}
	return &Sensor{params: p}
}

// Clear forgets the filtered value and the fault state.
func (s *Sensor) Clear() {
	s.avg, s.latest, s.primed, s.overHeld = 0, 0, false, false
	s.fault = mc.NoError
}

// CalcAvVbus feeds one raw reading and returns the resulting fault state.
func (s *Sensor) CalcAvVbus(raw uint16) mc.FaultCode {
	s.latest = raw
	if !s.primed {
		s.avg = uint32(raw)
		s.primed = true
	} else {
		bw := uint32(s.params.LowPassFilterBW)
		s.avg = (s.avg*(bw-1) + uint32(raw)) / bw
	}
	s.fault = s.checkVbus()
	return s.fault
}

func (s *Sensor) checkVbus() mc.FaultCode {
	v := uint16(s.avg)
	th := s.params.OverVoltageThreshold
	if s.overHeld {
		th = s.params.OverVoltageThresholdLow
	}
	switch {
	case v > th:
		s.overHeld = true
		return mc.FaultOverVolt
	case v < s.params.UnderVoltageThreshold:
		s.overHeld = false
		return mc.FaultUnderVolt
	}
	s.overHeld = false
	return mc.NoError
}

// FaultState returns the fault state of the last reading.
func (s *Sensor) FaultState() mc.FaultCode { return s.fault }

// AvBusVoltageDigit returns the filtered bus voltage in digits.
func (s *Sensor) AvBusVoltageDigit() uint16 { return uint16(s.avg) }

// BusVoltageDigit returns the last raw reading.
func (s *Sensor) BusVoltageDigit() uint16 { return s.latest }

// AvBusVoltageV returns the filtered bus voltage in volts.
func (s *Sensor) AvBusVoltageV() float32 {
	return mc.BusDigitToVolt(uint16(s.avg), s.params.ConversionFactor)
}

// ConversionFactor returns the full-scale voltage.
func (s *Sensor) ConversionFactor() float32 { return s.params.ConversionFactor }

// OverVoltageThreshold returns the over-voltage threshold in digits.
func (s *Sensor) OverVoltageThreshold() uint16 { return s.params.OverVoltageThreshold }

// UnderVoltageThreshold returns the under-voltage threshold in digits.
func (s *Sensor) UnderVoltageThreshold() uint16 { return s.params.UnderVoltageThreshold }

// SetOverVoltageThreshold changes the over-voltage threshold. The release
// threshold keeps its distance below it.
func (s *Sensor) SetOverVoltageThreshold(th uint16) {
	hyst := s.params.OverVoltageThreshold - s.params.OverVoltageThresholdLow
	s.params.OverVoltageThreshold = th
	if hyst > th {
		hyst = th
	}
	s.params.OverVoltageThresholdLow = th - hyst
}

// SetUnderVoltageThreshold changes the under-voltage threshold.
func (s *Sensor) SetUnderVoltageThreshold(th uint16) {
	s.params.UnderVoltageThreshold = th
}
