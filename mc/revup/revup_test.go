package revup

import (
	"testing"

	"motorprofiler/mc/vss"
)

func TestPhaseSequencing(t *testing.T) {
	s := vss.New(vss.Params{PolePairs: 2, ControlFreqHz: 1000})
	c := New(1000, s)
	err := c.SetPhases([]Phase{
		{DurationMs: 10, FinalMecSpeedUnit: 0, FinalTorque: 500},
		{DurationMs: 20, FinalMecSpeedUnit: 100, FinalTorque: 800},
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Clear(1)
	ticks := 0
	for c.Exec() {
		s.CalcElAngle(0)
		ticks++
		if ticks == 10 && c.Torque() != 500 {
			t.Errorf("Expected torque 500 after phase 1, got %d", c.Torque())
		}
		if ticks > 100 {
			t.Fatal("rev-up never completed")
		}
	}
	if ticks != 30 {
		t.Errorf("Expected 30 ticks, got %d", ticks)
	}
	if !c.Completed() || c.Torque() != 800 {
		t.Errorf("Expected completed with torque 800, got %d", c.Torque())
	}
	if s.AvrgMecSpeedUnit() != 100 {
		t.Errorf("Expected virtual speed 100, got %d", s.AvrgMecSpeedUnit())
	}
}

func TestReverseDirection(t *testing.T) {
	s := vss.New(vss.Params{PolePairs: 2, ControlFreqHz: 1000})
	c := New(1000, s)
	c.SetPhases([]Phase{{DurationMs: 5, FinalMecSpeedUnit: 50, FinalTorque: 300}})
	c.Clear(-1)
	for c.Exec() {
		s.CalcElAngle(0)
	}
	if c.Torque() != -300 || s.AvrgMecSpeedUnit() != -50 {
		t.Errorf("Expected -300/-50, got %d/%d", c.Torque(), s.AvrgMecSpeedUnit())
	}
}

func TestTooManyPhases(t *testing.T) {
	c := New(1000, vss.New(vss.Params{}))
	if err := c.SetPhases(make([]Phase, MaxPhases+1)); err != ErrTooManyPhases {
		t.Errorf("Expected ErrTooManyPhases, got %v", err)
	}
}
