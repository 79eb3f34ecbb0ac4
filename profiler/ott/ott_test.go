package ott

import (
	"math"
	"testing"

	"motorprofiler/mc"
	"motorprofiler/mc/pid"
	"motorprofiler/mc/stc"
)

// mechanical plant in controller units with an ideal current loop
type plant struct {
	j, f  float64
	omega float64
	iq    int16
}

func (p *plant) ElAngle() int16          { return 0 }
func (p *plant) MecAngle() int16         { return 0 }
func (p *plant) ElSpeedDpp() int16       { return 0 }
func (p *plant) AvrgMecSpeedUnit() int16 { return int16(math.Round(p.omega)) }
func (p *plant) Iqd() mc.Qd              { return mc.Qd{Q: p.iq} }

func (p *plant) step(iq int16, dt float64) {
	p.iq = iq
	h := dt / 10
	for i := 0; i < 10; i++ {
		p.omega += (float64(iq) - p.f*p.omega) / p.j * h
	}
}

func testParams() Params {
	return Params{
		MFFrequencyHz:      1000,
		RampDurationMs:     1000,
		BandwidthDef:       62.8,
		MeasWinSec:         0.05,
		PolePairs:          4,
		MaxPositiveTorque:  3000,
		CurrRegStabTimeSec: 0.01,
		LowSpeedPerc:       0.3,
		HighSpeedPerc:      0.6,
		SpeedStabTimeSec:   0.3,
		TimeOutSec:         2,
		SpeedMargin:        0.05,
		NominalSpeedRPM:    3000,
		SpdKp:              40,
		SpdKi:              0.4,
		RShunt:             0.05,
		AmplificationGain:  5,
	}
}

func newRig(p *plant) (*Tuner, *stc.Controller, *pid.Regulator) {
	pi := pid.New(pid.Params{KpGain: 100, KpDivisorPow2: 4, KiGain: 50, KiDivisorPow2: 8})
	ctl := stc.New(stc.Params{
		FrequencyHz:         1000,
		MaxAppPositiveSpeed: 1000,
		MinAppNegativeSpeed: -1000,
		MaxPositiveTorque:   3000,
		MinNegativeTorque:   -3000,
		DefaultMode:         stc.ModeSpeed,
	}, pi, p)
	return New(testParams(), p, ctl, p), ctl, pi
}

func run(tn *Tuner, ctl *stc.Controller, p *plant, ticks int) {
	for i := 0; i < ticks; i++ {
		tn.MF()
		if tn.State() == StateEnd || tn.State() == StateIdle {
			return
		}
		p.step(ctl.CalcTorqueReference(), 1e-3)
	}
}

func TestSolveFrictionInertia(t *testing.T) {
	const F, J = 2.0, 0.5
	omega := [2]float64{250, 200}
	accel := [2]float64{-800, 1200}
	iq := [2]float64{F*omega[0] + J*accel[0], F*omega[1] + J*accel[1]}

	f, j, err := SolveFrictionInertia(omega, accel, iq)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if math.Abs(f-F) > 1e-9 || math.Abs(j-J) > 1e-9 {
		t.Errorf("Expected F=%v J=%v, got F=%v J=%v", F, J, f, j)
	}

	if _, _, err := SolveFrictionInertia([2]float64{100, 200}, [2]float64{10, 20}, iq); err != ErrDegenerate {
		t.Errorf("Expected ErrDegenerate for parallel rows, got %v", err)
	}
}

func TestTuningOnMechanicalPlant(t *testing.T) {
	p := &plant{j: 0.5, f: 2}
	tn, ctl, pi := newRig(p)

	if err := tn.SR(); err != nil {
		t.Fatalf("SR failed: %v", err)
	}
	if tn.State() != StateNominalSpeedDet {
		t.Fatalf("Expected nominal speed detection, got %v", tn.State())
	}

	for i := 0; i < 20000 && tn.State() != StateEnd && tn.State() != StateIdle; i++ {
		if tn.IsSpeedPITuned() {
			t.Fatal("Tuned flag set before the end state")
		}
		tn.MF()
		p.step(ctl.CalcTorqueReference(), 1e-3)
	}

	if tn.State() != StateEnd {
		t.Fatalf("Expected end state, got %v", tn.State())
	}
	if !tn.IsSpeedPITuned() || !tn.IsMotorAlreadyProfiled() {
		t.Error("Expected tuned flags to be set")
	}
	if d := math.Abs(float64(tn.JDigits())-0.5) / 0.5; d > 0.05 {
		t.Errorf("Expected J near 0.5, got %f", tn.JDigits())
	}
	if d := math.Abs(float64(tn.FDigits())-2) / 2; d > 0.05 {
		t.Errorf("Expected F near 2, got %f", tn.FDigits())
	}
	if d := math.Abs(float64(tn.Tau())-0.25) / 0.25; d > 0.1 {
		t.Errorf("Expected coast-down tau near 0.25 s, got %f", tn.Tau())
	}
	if d := math.Abs(float64(tn.NominalSpeedRPM())-3000) / 3000; d > 0.05 {
		t.Errorf("Expected nominal speed near 3000 rpm, got %f", tn.NominalSpeedRPM())
	}

	wantKp := tn.JDigits() * 62.8
	if math.Abs(float64(tn.Kp()-wantKp)) > 1e-3 {
		t.Errorf("Expected Kp %f, got %f", wantKp, tn.Kp())
	}
	kp, _ := pi.FloatGains()
	if math.Abs(float64(kp-tn.Kp())) > 0.01 {
		t.Errorf("Expected speed PI to carry the tuned Kp %f, got %f", tn.Kp(), kp)
	}

	// SR is a no-op once tuned
	tn.SR()
	if tn.State() != StateEnd {
		t.Errorf("Expected SR to keep the end state, got %v", tn.State())
	}
	tn.ForceTuning()
	if tn.IsMotorAlreadyProfiled() || tn.State() != StateIdle {
		t.Error("Expected ForceTuning to clear the tuned state")
	}
}

func TestTimeoutRestoresGains(t *testing.T) {
	// too much friction to ever reach the nominal speed
	p := &plant{j: 0.5, f: 100}
	tn, ctl, pi := newRig(p)

	tn.SR()
	run(tn, ctl, p, 10000)

	if tn.State() != StateIdle {
		t.Fatalf("Expected idle after timeout, got %v", tn.State())
	}
	if tn.IsSpeedPITuned() || tn.J() != 0 || tn.Kp() != 0 {
		t.Error("Expected nothing published after a timeout")
	}
	if pi.KP() != 100 || pi.KI() != 50 || pi.KPDivisorPow2() != 4 || pi.KIDivisorPow2() != 8 {
		t.Errorf("Expected original gains restored, got kp=%d/%d ki=%d/%d",
			pi.KP(), pi.KPDivisorPow2(), pi.KI(), pi.KIDivisorPow2())
	}
}

func TestPhysicalConversion(t *testing.T) {
	tn := &Tuner{params: testParams(), pubJ: 0.5, pubF: 2, ke: 10}
	want := float32(0.5 * 5.88913e-7 * 10 / (0.05 * 5))
	if got := tn.J(); math.Abs(float64(got-want)) > 1e-10 {
		t.Errorf("Expected J %g, got %g", want, got)
	}
	if tn.Steps() != 11 {
		t.Errorf("Expected 11 steps, got %d", tn.Steps())
	}
}

func TestNilHandle(t *testing.T) {
	var tn *Tuner
	if err := tn.SR(); err != ErrInvalidHandle {
		t.Errorf("Expected ErrInvalidHandle, got %v", err)
	}
	if err := tn.MF(); err != ErrInvalidHandle {
		t.Errorf("Expected ErrInvalidHandle, got %v", err)
	}
	if tn.IsSpeedPITuned() || tn.J() != 0 {
		t.Error("Expected zero values from a nil tuner")
	}
}
