package stc

import (
	"testing"

	"motorprofiler/mc/pid"
)

// plant is a first order inertia in SpeedUnit: speed += iq/gain per tick.
type plant struct {
	speed float32
}

func (p *plant) ElAngle() int16          { return 0 }
func (p *plant) MecAngle() int16         { return 0 }
func (p *plant) AvrgMecSpeedUnit() int16 { return int16(p.speed) }
func (p *plant) ElSpeedDpp() int16       { return 0 }

func newController(p *plant) *Controller {
	pi := pid.New(pid.Params{KpGain: 8, KiGain: 1, KiDivisorPow2: 2})
	return New(Params{
		FrequencyHz:         1000,
		MaxAppPositiveSpeed: 3000,
		MinAppNegativeSpeed: -3000,
		MaxPositiveTorque:   2000,
		MinNegativeTorque:   -2000,
		DefaultMode:         ModeTorque,
	}, pi, p)
}

func TestTorqueRamp(t *testing.T) {
	c := newController(&plant{})
	if !c.ExecRamp(1000, 10) {
		t.Fatal("Expected ramp accepted")
	}
	var ref int16
	for i := 0; i < 10; i++ {
		ref = c.CalcTorqueReference()
	}
	if ref != 1000 || !c.RampCompleted() {
		t.Errorf("Expected torque 1000, got %d", ref)
	}
	if c.ExecRamp(5000, 10) {
		t.Error("Expected out-of-range torque to be rejected")
	}
}

func TestSpeedLoopTracks(t *testing.T) {
	p := &plant{}
	c := newController(p)
	c.SetControlMode(ModeSpeed)
	c.ExecRamp(500, 200)
	for i := 0; i < 3000; i++ {
		iq := c.CalcTorqueReference()
		p.speed += float32(iq)/200 - p.speed*0.001
	}
	if d := int(p.speed) - 500; d > 5 || d < -5 {
		t.Errorf("Expected speed near 500, got %f", p.speed)
	}
	if c.MecSpeedRefUnit() != 500 {
		t.Errorf("Expected reference 500, got %d", c.MecSpeedRefUnit())
	}
}

func TestBumplessModeSwitch(t *testing.T) {
	p := &plant{speed: 300}
	c := newController(p)
	c.SetTorqueRef(700)
	c.SetControlMode(ModeSpeed)
	if c.MecSpeedRefUnit() != 300 {
		t.Errorf("Expected speed reference seeded with 300, got %d", c.MecSpeedRefUnit())
	}
	if ref := c.CalcTorqueReference(); ref != 700 {
		t.Errorf("Expected torque kept at 700, got %d", ref)
	}
	c.SetControlMode(ModeTorque)
	if ref := c.CalcTorqueReference(); ref != 700 {
		t.Errorf("Expected torque kept at 700 in torque mode, got %d", ref)
	}
}
