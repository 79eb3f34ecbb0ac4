package encoder

import (
	"testing"

	"motorprofiler/mc/vss"
)

type counter struct{ n int32 }

func (c *counter) Count() int32 { return c.n }

func TestAngleAndSpeed(t *testing.T) {
	c := &counter{}
	s := New(Params{PulseNumber: 4000, PolePairs: 4, ControlFreqHz: 10000, SpeedSamplingFreqHz: 1000}, c)
	s.Clear()
	c.n = 1000 // a quarter turn
	if el := s.CalcAngle(); s.MecAngle() != 16384 || el != 0 {
		t.Errorf("Expected mec 16384 el 0, got %d/%d", s.MecAngle(), el)
	}
	c.n = 1010 // 10 counts per ms = 2.5 turns/s
	speed, ok := s.CalcAvrgMecSpeedUnit()
	if !ok || speed != 25 {
		t.Errorf("Expected 25, got %d", speed)
	}
	c.n = -500
	s.CalcAngle()
	want := uint16(3500 * 65536 / 4000)
	if s.MecAngle() != int16(want) {
		t.Errorf("Expected wrapped angle, got %d", s.MecAngle())
	}
}

func TestInverted(t *testing.T) {
	c := &counter{}
	s := New(Params{PulseNumber: 1000, PolePairs: 1, SpeedSamplingFreqHz: 100, Inverted: true}, c)
	s.Clear()
	c.n = 10
	if speed, _ := s.CalcAvrgMecSpeedUnit(); speed != -10 {
		t.Errorf("Expected -10, got %d", speed)
	}
}

func TestAlignment(t *testing.T) {
	c := &counter{n: 777}
	enc := New(Params{PulseNumber: 4096, PolePairs: 2, SpeedSamplingFreqHz: 1000}, c)
	v := vss.New(vss.Params{PolePairs: 2, ControlFreqHz: 10000})
	a := NewAligner(AlignParams{FreqHz: 1000, DurationMs: 20, FinalReference: 3000, ElAngle: 16384, PolePairs: 2}, enc, v)
	a.StartAlignment()
	if v.ElAngle() != 16384 {
		t.Errorf("Expected virtual angle parked at 16384, got %d", v.ElAngle())
	}
	ticks := 0
	for !a.Exec() {
		ticks++
		if ticks > 100 {
			t.Fatal("alignment never completed")
		}
	}
	if ticks != 19 {
		t.Errorf("Expected 20 ticks, got %d", ticks+1)
	}
	if a.Reference() != 3000 {
		t.Errorf("Expected reference 3000, got %d", a.Reference())
	}
	if enc.MecAngle() != 8192 || enc.ElAngle() != 16384 {
		t.Errorf("Expected mec 8192 el 16384, got %d/%d", enc.MecAngle(), enc.ElAngle())
	}
}
