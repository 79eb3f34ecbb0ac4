package ramp

import "testing"

func TestRampLandsOnTarget(t *testing.T) {
	m := New(1000)
	m.ExecRamp(1000, 10)
	var v int32
	for i := 0; i < 10; i++ {
		if m.Completed() {
			t.Fatalf("completed early at tick %d", i)
		}
		v = m.Calc()
	}
	if !m.Completed() || v != 1000 {
		t.Errorf("Expected completed at 1000, got %d", v)
	}
	if m.Calc() != 1000 {
		t.Error("Expected value held after completion")
	}
}

func TestRampDownAndNegative(t *testing.T) {
	m := New(2000)
	m.SetValue(500)
	m.ExecRamp(-700, 3)
	prev := m.Value()
	for !m.Completed() {
		v := m.Calc()
		if v > prev {
			t.Fatalf("ramp went up from %d to %d", prev, v)
		}
		prev = v
	}
	if prev != -700 {
		t.Errorf("Expected -700, got %d", prev)
	}
}

func TestZeroDurationAndStop(t *testing.T) {
	m := New(1000)
	m.ExecRamp(42, 0)
	if m.Value() != 42 || !m.Completed() {
		t.Errorf("Expected immediate 42, got %d", m.Value())
	}
	m.ExecRamp(1042, 100)
	for i := 0; i < 50; i++ {
		m.Calc()
	}
	m.Stop()
	held := m.Value()
	m.Calc()
	if m.Value() != held || m.Target() != held {
		t.Errorf("Expected value held at %d, got %d", held, m.Value())
	}
}
