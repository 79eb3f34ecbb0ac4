// Package stc is the speed and torque controller. Run at the medium
// frequency, it turns a speed or torque target into the Iq reference.
package stc

import (
	"motorprofiler/mc"
	"motorprofiler/mc/fixp"
	"motorprofiler/mc/pid"
	"motorprofiler/mc/ramp"
)

// Mode selects what the controller regulates.
type Mode uint8

const (
	ModeTorque Mode = iota
	ModeSpeed
)

// Params bounds the references.
type Params struct {
	FrequencyHz         uint32
	MaxAppPositiveSpeed int16 // SpeedUnit
	MinAppNegativeSpeed int16
	MaxPositiveTorque   int16 // current digits
	MinNegativeTorque   int16
	DefaultMode         Mode
	DefaultTorqueRef    int16
	DefaultSpeedRef     int16
}

// Controller owns the speed and torque ramps and borrows the speed PI.
type Controller struct {
	params    Params
	mode      Mode
	pi        *pid.Regulator
	sensor    mc.SpeedPosFeedback
	speedRamp *ramp.Manager
	torqRamp  *ramp.Manager
	torqueRef int16
}

// New returns a controller using pi for speed regulation.
func New(p Params, pi *pid.Regulator, sensor mc.SpeedPosFeedback) *Controller {
	c := &Controller{
		params:    p,
		pi:        pi,
		sensor:    sensor,
		speedRamp: ramp.New(p.FrequencyHz),
		torqRamp:  ramp.New(p.FrequencyHz),
	}
	c.pi.SetOutputLimits(p.MinNegativeTorque, p.MaxPositiveTorque)
	c.Clear()
	return c
}

// Clear restores the default mode and references and resets the PI.
func (c *Controller) Clear() {
	c.mode = c.params.DefaultMode
	c.speedRamp.SetValue(int32(c.params.DefaultSpeedRef))
	c.torqRamp.SetValue(int32(c.params.DefaultTorqueRef))
	c.torqueRef = c.params.DefaultTorqueRef
	c.pi.SetIntegralTerm(0)
}

// SetSpeedSensor replaces the speed feedback.
func (c *Controller) SetSpeedSensor(s mc.SpeedPosFeedback) { c.sensor = s }

// SpeedSensor returns the speed feedback in use.
func (c *Controller) SpeedSensor() mc.SpeedPosFeedback { return c.sensor }

// SpeedPI returns the speed regulator.
func (c *Controller) SpeedPI() *pid.Regulator { return c.pi }

// Mode returns the control mode.
func (c *Controller) Mode() Mode { return c.mode }

// SetControlMode switches mode without a jump in the torque reference: going
// to speed mode starts from the measured speed with the PI preloaded with the
// present torque, going to torque mode starts from the present torque.
func (c *Controller) SetControlMode(m Mode) {
	if m == c.mode {
		return
	}
	c.mode = m
	if m == ModeSpeed {
		speed := int16(0)
		if c.sensor != nil {
			speed = c.sensor.AvrgMecSpeedUnit()
		}
		c.speedRamp.SetValue(int32(speed))
		c.pi.Preload(c.torqueRef)
	} else {
		c.torqRamp.SetValue(int32(c.torqueRef))
	}
}

// ExecRamp ramps the reference of the current mode to target over
// durationMs. It returns false when target is outside the allowed range.
func (c *Controller) ExecRamp(target int16, durationMs uint16) bool {
	if c.mode == ModeSpeed {
		if target > c.params.MaxAppPositiveSpeed || target < c.params.MinAppNegativeSpeed {
			return false
		}
		c.speedRamp.ExecRamp(int32(target), uint32(durationMs))
		return true
	}
	if target > c.params.MaxPositiveTorque || target < c.params.MinNegativeTorque {
		return false
	}
	c.torqRamp.ExecRamp(int32(target), uint32(durationMs))
	return true
}

// StopRamp freezes the reference of the current mode.
func (c *Controller) StopRamp() {
	c.speedRamp.Stop()
	c.torqRamp.Stop()
}

// RampCompleted reports whether the active ramp has finished.
func (c *Controller) RampCompleted() bool {
	if c.mode == ModeSpeed {
		return c.speedRamp.Completed()
	}
	return c.torqRamp.Completed()
}

// CalcTorqueReference advances the ramps one tick and returns the Iq
// reference.
func (c *Controller) CalcTorqueReference() int16 {
	var ref int32
	if c.mode == ModeSpeed {
		speedRef := c.speedRamp.Calc()
		measured := int32(0)
		if c.sensor != nil {
			measured = int32(c.sensor.AvrgMecSpeedUnit())
		}
		ref = int32(c.pi.PI(speedRef - measured))
	} else {
		ref = c.torqRamp.Calc()
	}
	c.torqueRef = fixp.Sat16(fixp.Clamp(ref, int32(c.params.MinNegativeTorque), int32(c.params.MaxPositiveTorque)))
	return c.torqueRef
}

// MecSpeedRefUnit returns the present speed reference.
func (c *Controller) MecSpeedRefUnit() int16 {
	return int16(c.speedRamp.Value())
}

// TorqueRef returns the last Iq reference.
func (c *Controller) TorqueRef() int16 {
	return c.torqueRef
}

// SetTorqueRef forces the torque reference in torque mode.
func (c *Controller) SetTorqueRef(v int16) {
	c.torqRamp.SetValue(int32(v))
	c.torqueRef = v
}

// MaxPositiveTorque returns the upper torque bound.
func (c *Controller) MaxPositiveTorque() int16 { return c.params.MaxPositiveTorque }

// MinNegativeTorque returns the lower torque bound.
func (c *Controller) MinNegativeTorque() int16 { return c.params.MinNegativeTorque }
