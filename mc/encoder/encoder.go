// Package encoder turns a quadrature counter into speed and position
// feedback, and aligns the counter to the rotor electrical angle.
package encoder

import (
	"motorprofiler/mc"
)

// Params configures a Sensor.
type Params struct {
	PulseNumber         uint32 // counts per mechanical turn, after x4 decoding
	PolePairs           uint8
	ControlFreqHz       uint32
	SpeedSamplingFreqHz uint32
	Inverted            bool
}

// Sensor is encoder feedback over a CounterSource.
type Sensor struct {
	params     Params
	src        mc.CounterSource
	offset     int32
	speedCount int32
	primed     bool
	mecAngle   int16
	elAngle    int16
	avrSpeed   int16
	elSpeedDpp int16
}

// New returns a sensor reading src.
func New(p Params, src mc.CounterSource) *Sensor {
	return &Sensor{params: p, src: src}
}

// Params returns the configuration.
func (s *Sensor) Params() Params { return s.params }

// SetPolePairs changes the electrical to mechanical ratio.
func (s *Sensor) SetPolePairs(pp uint8) { s.params.PolePairs = pp }

// Counts returns the raw counter, sign-corrected.
func (s *Sensor) Counts() int32 {
	c := s.src.Count()
	if s.params.Inverted {
		c = -c
	}
	return c
}

// Clear restarts speed measurement from the present count.
func (s *Sensor) Clear() {
	s.speedCount = s.Counts()
	s.primed = true
	s.avrSpeed = 0
	s.elSpeedDpp = 0
}

// CalcAngle samples the counter and returns the electrical angle.
func (s *Sensor) CalcAngle() int16 {
	pulses := int64(s.params.PulseNumber)
	if pulses == 0 {
		return 0
	}
	pos := (int64(s.Counts()) - int64(s.offset)) % pulses
	if pos < 0 {
		pos += pulses
	}
	s.mecAngle = int16(uint16(pos * 65536 / pulses))
	s.elAngle = int16(int32(s.mecAngle) * int32(s.params.PolePairs))
	return s.elAngle
}

// CalcAvrgMecSpeedUnit measures the count delta since the previous call,
// made at SpeedSamplingFreqHz, and returns the speed. The reading is always
// reliable.
func (s *Sensor) CalcAvrgMecSpeedUnit() (int16, bool) {
	c := s.Counts()
	if !s.primed {
		s.speedCount = c
		s.primed = true
		return 0, true
	}
	delta := int64(c - s.speedCount)
	s.speedCount = c
	if s.params.PulseNumber == 0 {
		return 0, true
	}
	v := delta * int64(s.params.SpeedSamplingFreqHz) * mc.SpeedUnit / int64(s.params.PulseNumber)
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	s.avrSpeed = int16(v)
	s.elSpeedDpp = int16(mc.MecSpeedUnitToDpp32(s.avrSpeed, s.params.PolePairs, s.params.ControlFreqHz) >> 16)
	return s.avrSpeed, true
}

// SetMecAngle redefines the present count as mechanical angle.
func (s *Sensor) SetMecAngle(angle int16) {
	pos := int64(uint16(angle)) * int64(s.params.PulseNumber) / 65536
	s.offset = int32(int64(s.Counts()) - pos)
	s.CalcAngle()
}

// ElAngle implements mc.SpeedPosFeedback.
func (s *Sensor) ElAngle() int16 { return s.elAngle }

// MecAngle implements mc.SpeedPosFeedback.
func (s *Sensor) MecAngle() int16 { return s.mecAngle }

// AvrgMecSpeedUnit implements mc.SpeedPosFeedback.
func (s *Sensor) AvrgMecSpeedUnit() int16 { return s.avrSpeed }

// ElSpeedDpp implements mc.SpeedPosFeedback.
func (s *Sensor) ElSpeedDpp() int16 { return s.elSpeedDpp }
