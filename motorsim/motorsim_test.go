package motorsim

import (
	"math"
	"testing"

	"motorprofiler/mc"
)

func TestInvalidParams(t *testing.T) {
	p := DefaultParams()
	p.Ls = 0
	if _, err := New(p); err != ErrInvalidParams {
		t.Errorf("Expected ErrInvalidParams, got %v", err)
	}
}

func TestStepResponseOnDAxis(t *testing.T) {
	p := DefaultParams()
	p.DeadTimeVolt = 0
	m, err := New(p)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// 1 V along alpha with the rotor at zero makes no torque
	v := mc.AlphaBeta{Alpha: int16(math.Round(float64(mc.VoltDigitsPerVolt(24))))}
	steps := int(math.Round(p.Ls / p.Rs * float64(p.ControlFreqHz)))
	for i := 0; i < steps; i++ {
		m.Apply(v)
	}
	ia, _ := m.Currents()
	want := 2 * (1 - math.Exp(-1))
	if math.Abs(ia-want)/want > 0.01 {
		t.Errorf("Expected %f A after one time constant, got %f", want, ia)
	}
	for i := 0; i < 10*steps; i++ {
		m.Apply(v)
	}
	ia, _ = m.Currents()
	if math.Abs(ia-2) > 0.01 {
		t.Errorf("Expected 2 A steady state, got %f", ia)
	}
	if math.Abs(m.MechSpeed()) > 1e-6 {
		t.Errorf("Expected the rotor to stay still, got %f rad/s", m.MechSpeed())
	}

	s := m.Sample()
	if d := float64(s.Ia) - 2*m.currentScale(); math.Abs(d) > 1 {
		t.Errorf("Expected Ia digits %f, got %d", 2*m.currentScale(), s.Ia)
	}
	if got := mc.Clarke(s.Currents()); math.Abs(float64(got.Beta)) > 2 {
		t.Errorf("Expected no beta current, got %d", got.Beta)
	}
	if s.Seq != 1 {
		t.Errorf("Expected first sample sequence 1, got %d", s.Seq)
	}
}

func TestQAxisCurrentSpinsRotor(t *testing.T) {
	p := DefaultParams()
	p.DeadTimeVolt = 0
	m, _ := New(p)
	tr := &Trace{Every: 100}

	// hold 1 A on beta: rotor at zero sees pure q current
	for i := 0; i < p.ControlFreqHz/100; i++ {
		ia, ib := m.Currents()
		th := float64(p.PolePairs) * m.thetaMech
		// crude current loop in the rotor frame
		s, c := math.Sincos(th)
		iq := -s*ia + c*ib
		id := c*ia + s*ib
		we := float64(p.PolePairs) * m.omegaMech
		vq := p.Rs*1 + we*p.Flux + 5*(1-iq)
		vd := -5 * id
		kv := float64(mc.VoltDigitsPerVolt(24))
		m.Apply(mc.AlphaBeta{
			Alpha: int16((vd*c - vq*s) * kv),
			Beta:  int16((vd*s + vq*c) * kv),
		})
		tr.Record(m)
	}
	if m.MechSpeed() <= 0 {
		t.Fatalf("Expected forward rotation, got %f rad/s", m.MechSpeed())
	}
	if m.Count() <= 0 {
		t.Errorf("Expected the encoder to count up, got %d", m.Count())
	}
	turns := float64(m.Count()) / float64(p.EncoderPulses)
	if math.Abs(turns-m.MechTurns()) > 1.0/float64(p.EncoderPulses) {
		t.Errorf("Expected encoder turns %f, got %f", m.MechTurns(), turns)
	}
	if len(tr.T) != p.ControlFreqHz/100/100 {
		t.Errorf("Expected %d trace points, got %d", p.ControlFreqHz/100/100, len(tr.T))
	}
	if tr.PeakAmps() <= 0 {
		t.Error("Expected a recorded current")
	}
}

func TestOverCurrentLatches(t *testing.T) {
	p := DefaultParams()
	p.OverCurrentAmp = 1
	m, _ := New(p)
	v := mc.AlphaBeta{Alpha: int16(math.Round(float64(mc.VoltDigitsPerVolt(24))))}
	for i := 0; i < 1000; i++ {
		m.Apply(v)
	}
	if mc.FaultCode(m.Faults())&mc.FaultOverCurr == 0 {
		t.Fatal("Expected over-current to latch")
	}
	m.Disable()
	if mc.FaultCode(m.Faults())&mc.FaultOverCurr == 0 {
		t.Error("Expected the flag to stay latched")
	}
	m.ClearFaults()
	if m.Faults() != 0 {
		t.Errorf("Expected faults cleared, got %#x", m.Faults())
	}
}

func TestKe(t *testing.T) {
	if ke := DefaultParams().Ke(); math.Abs(ke-5.13) > 0.01 {
		t.Errorf("Expected Ke near 5.13, got %f", ke)
	}
}

func TestSpeedStats(t *testing.T) {
	tr := &Trace{T: []float64{0, 1, 2, 3}, RPM: []float64{0, 100, 100, 100}}
	mean, std := tr.SpeedStats(1)
	if mean != 100 || std != 0 {
		t.Errorf("Expected 100 rpm steady, got %f +- %f", mean, std)
	}
}
