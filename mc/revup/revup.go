// Package revup sequences the open-loop start-up phases: each phase ramps the
// virtual speed sensor and the torque reference to new targets.
package revup

import (
	"errors"

	"motorprofiler/mc/ramp"
	"motorprofiler/mc/vss"
)

// MaxPhases is the size of the phase table.
const MaxPhases = 5

var ErrTooManyPhases = errors.New("revup: too many phases")

// Phase is one entry of the start-up table.
type Phase struct {
	DurationMs        uint16
	FinalMecSpeedUnit int16
	FinalTorque       int16
}

// Controller executes a phase table at the medium frequency.
type Controller struct {
	freqHz    uint32
	phases    [MaxPhases]Phase
	count     int
	vss       *vss.Sensor
	torque    *ramp.Manager
	index     int
	remaining uint32
	direction int16
	running   bool
}

// New returns a controller driving sensor, ticked at freqHz.
func New(freqHz uint32, sensor *vss.Sensor) *Controller {
	return &Controller{freqHz: freqHz, vss: sensor, torque: ramp.New(freqHz)}
}

// SetPhases replaces the phase table.
func (c *Controller) SetPhases(phases []Phase) error {
	if len(phases) > MaxPhases {
		return ErrTooManyPhases
	}
	c.count = copy(c.phases[:], phases)
	return nil
}

// Phases returns a copy of the phase table.
func (c *Controller) Phases() []Phase {
	return append([]Phase(nil), c.phases[:c.count]...)
}

// Clear restarts the sequence from phase zero. direction is +1 or -1.
func (c *Controller) Clear(direction int16) {
	if direction < 0 {
		c.direction = -1
	} else {
		c.direction = 1
	}
	c.index = 0
	c.remaining = 0
	c.running = c.count > 0
	c.torque.SetValue(0)
}

// Exec advances one tick. It returns false once the last phase has elapsed.
func (c *Controller) Exec() bool {
	if !c.running {
		return false
	}
	if c.remaining == 0 {
		if c.index >= c.count {
			c.running = false
			return false
		}
		p := c.phases[c.index]
		c.vss.SetMecAcceleration(p.FinalMecSpeedUnit*c.direction, p.DurationMs)
		c.torque.ExecRamp(int32(p.FinalTorque)*int32(c.direction), uint32(p.DurationMs))
		c.remaining = uint32(p.DurationMs) * c.freqHz / 1000
		c.index++
		if c.remaining == 0 {
			return true
		}
	}
	c.remaining--
	c.torque.Calc()
	return true
}

// Completed reports whether every phase has elapsed.
func (c *Controller) Completed() bool {
	return !c.running
}

// Phase returns the 1-based index of the running phase, 0 before the start.
func (c *Controller) Phase() int {
	return c.index
}

// Torque returns the present torque reference.
func (c *Controller) Torque() int16 {
	return int16(c.torque.Value())
}
