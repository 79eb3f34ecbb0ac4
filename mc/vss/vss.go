// Package vss implements the virtual speed sensor: an open-loop angle and
// speed generator used to drag the rotor along a commanded trajectory before
// any real feedback is trusted.
package vss

import (
	"motorprofiler/mc"
	"motorprofiler/mc/fixp"
)

// DefaultLockRange is the largest observer/virtual angle difference (90
// electrical degrees) accepted when a transition starts.
const DefaultLockRange = 16384

// Params configures a Sensor.
type Params struct {
	PolePairs       uint8
	ControlFreqHz   uint32 // rate CalcElAngle is called at
	TransitionSteps int16
	LockRange       uint16 // 0 selects DefaultLockRange
}

// Sensor is the virtual speed sensor state. A nil *Sensor ignores setters
// and reads as zero.
type Sensor struct {
	params Params

	angleAcc32  int32 // 16.16 electrical angle accumulator
	mecAcc32    int32
	elSpeed32   int32 // 16.16 electrical speed, digits per period
	elAccel32   int32 // 16.16 speed increment per step
	remaining   uint32
	finalSpeed  int16
	finalDpp32  int32
	justEnded   bool
	elAngle     int16
	mecAngle    int16
	mecSpeed    int16
	copyObs     bool
	started     bool
	ended       bool
	locked      bool
	transRemain int16
}

// New returns a cleared sensor.
func New(p Params) *Sensor {
	s := &Sensor{}
	s.Init(p)
	return s
}

// Init applies the parameters and clears the state.
func (s *Sensor) Init(p Params) {
	if s == nil {
		return
	}
	if p.LockRange == 0 {
		p.LockRange = DefaultLockRange
	}
	if p.TransitionSteps < 0 {
		p.TransitionSteps = 0
	}
	s.params = p
	s.Clear()
}

// Clear zeroes speed, angle, ramp and transition state.
func (s *Sensor) Clear() {
	if s == nil {
		return
	}
	p := s.params
	*s = Sensor{params: p}
}

// SetPolePairs changes the electrical to mechanical ratio.
func (s *Sensor) SetPolePairs(pp uint8) {
	if s == nil {
		return
	}
	s.params.PolePairs = pp
}

// CalcElAngle advances the angle by one control period and returns the
// electrical angle to use. observerAngle is only consulted while a
// transition is running or the copy-observer mode is set.
func (s *Sensor) CalcElAngle(observerAngle int16) int16 {
	if s == nil {
		return 0
	}
	if s.copyObs {
		s.elAngle = observerAngle
		s.angleAcc32 = int32(observerAngle) << 16
		return s.elAngle
	}

	s.stepRamp()
	s.angleAcc32 += s.elSpeed32
	acc := int16(s.angleAcc32 >> 16)
	s.mecAcc32 += s.elSpeed32 / int32(max(s.params.PolePairs, 1))
	s.mecAngle = int16(s.mecAcc32 >> 16)

	if s.started && !s.ended {
		diff := observerAngle - acc
		if !s.locked {
			if uint16(fixp.Abs(int32(diff))) > s.params.LockRange {
				s.ended = true
				s.elAngle = acc
				return s.elAngle
			}
			s.locked = true
		}
		if s.transRemain > 0 {
			s.transRemain--
		}
		if s.transRemain == 0 || s.params.TransitionSteps == 0 {
			s.ended = true
			s.elAngle = observerAngle
			return s.elAngle
		}
		s.elAngle = observerAngle - int16(int32(diff)*int32(s.transRemain)/int32(s.params.TransitionSteps))
		return s.elAngle
	}

	s.elAngle = acc
	return s.elAngle
}

func (s *Sensor) stepRamp() {
	switch {
	case s.remaining > 1:
		s.elSpeed32 += s.elAccel32
		s.remaining--
		s.mecSpeed = mc.Dpp32ToMecSpeedUnit(s.elSpeed32, s.params.PolePairs, s.params.ControlFreqHz)
	case s.remaining == 1:
		s.elSpeed32 = s.finalDpp32
		s.mecSpeed = s.finalSpeed
		s.remaining = 0
		s.justEnded = true
	}
}

// CalcAvrgMecSpeedUnit returns the mechanical speed and whether a ramp has
// completed since the previous call.
func (s *Sensor) CalcAvrgMecSpeedUnit() (int16, bool) {
	if s == nil {
		return 0, false
	}
	ended := s.justEnded
	s.justEnded = false
	return s.mecSpeed, ended
}

// SetMecAcceleration starts a linear ramp to target (SpeedUnit) lasting
// durationMs. A zero duration, or a duration shorter than one control
// period, applies the target at once.
func (s *Sensor) SetMecAcceleration(target int16, durationMs uint16) {
	if s == nil {
		return
	}
	if s.started {
		return
	}
	s.finalSpeed = target
	s.finalDpp32 = mc.MecSpeedUnitToDpp32(target, s.params.PolePairs, s.params.ControlFreqHz)
	steps := uint32(durationMs) * s.params.ControlFreqHz / 1000
	if steps == 0 {
		s.elSpeed32 = s.finalDpp32
		s.mecSpeed = target
		s.remaining = 0
		s.elAccel32 = 0
		return
	}
	s.elAccel32 = int32((int64(s.finalDpp32) - int64(s.elSpeed32)) / int64(steps))
	s.remaining = steps
}

// RampCompleted reports whether no ramp is in progress.
func (s *Sensor) RampCompleted() bool {
	if s == nil {
		return false
	}
	return s.remaining == 0
}

// LastRampFinalSpeed returns the target of the last SetMecAcceleration.
func (s *Sensor) LastRampFinalSpeed() int16 {
	if s == nil {
		return 0
	}
	return s.finalSpeed
}

// SetStartTransition requests the hand-over to the observer angle. It returns
// false when the speed is zero, in which case the transition is skipped and
// reported as ended.
func (s *Sensor) SetStartTransition(start bool) bool {
	if s == nil {
		return false
	}
	if !start {
		return true
	}
	if s.elSpeed32 == 0 {
		s.started = true
		s.ended = true
		return false
	}
	s.started = true
	s.ended = false
	s.locked = false
	s.transRemain = s.params.TransitionSteps
	return true
}

// IsTransitionOngoing reports a started, unfinished transition.
func (s *Sensor) IsTransitionOngoing() bool {
	if s == nil {
		return false
	}
	return s.started && !s.ended
}

// TransitionEnded reports whether the transition has finished.
func (s *Sensor) TransitionEnded() bool {
	if s == nil {
		return false
	}
	return s.ended
}

// TransitionLocked reports whether the observer was within the lock range
// when the transition started blending.
func (s *Sensor) TransitionLocked() bool {
	if s == nil {
		return false
	}
	return s.locked
}

// SetElAngle forces the electrical angle.
func (s *Sensor) SetElAngle(angle int16) {
	if s == nil {
		return
	}
	s.elAngle = angle
	s.angleAcc32 = int32(angle) << 16
}

// SetMecAngle forces the mechanical angle and the matching electrical angle.
func (s *Sensor) SetMecAngle(angle int16) {
	if s == nil {
		return
	}
	s.mecAngle = angle
	s.mecAcc32 = int32(angle) << 16
	s.SetElAngle(int16(int32(angle) * int32(s.params.PolePairs)))
}

// SetCopyObserver makes CalcElAngle return the observer angle verbatim.
func (s *Sensor) SetCopyObserver() {
	if s == nil {
		return
	}
	s.copyObs = true
}

// ElAngle implements mc.SpeedPosFeedback.
func (s *Sensor) ElAngle() int16 {
	if s == nil {
		return 0
	}
	return s.elAngle
}

// MecAngle implements mc.SpeedPosFeedback.
func (s *Sensor) MecAngle() int16 {
	if s == nil {
		return 0
	}
	return s.mecAngle
}

// AvrgMecSpeedUnit implements mc.SpeedPosFeedback.
func (s *Sensor) AvrgMecSpeedUnit() int16 {
	if s == nil {
		return 0
	}
	return s.mecSpeed
}

// ElSpeedDpp implements mc.SpeedPosFeedback.
func (s *Sensor) ElSpeedDpp() int16 {
	if s == nil {
		return 0
	}
	return int16(s.elSpeed32 >> 16)
}

// ElSpeedDpp32 returns the electrical speed in 16.16 digits per period.
func (s *Sensor) ElSpeedDpp32() int32 {
	if s == nil {
		return 0
	}
	return s.elSpeed32
}

// OpenLoopAngle returns the integrated open-loop angle, unaffected by a
// transition or the copy-observer mode.
func (s *Sensor) OpenLoopAngle() int16 {
	if s == nil {
		return 0
	}
	return int16(s.angleAcc32 >> 16)
}
