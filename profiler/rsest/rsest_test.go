package rsest

import (
	"testing"

	"motorprofiler/mc/fixp"
)

func newEstimator(t *testing.T) *Estimator {
	e, err := New(Params{
		FullScaleCurrentA: 6.6,
		FullScaleVoltageV: 24,
		RatedCelsius:      25,
		AmbientCelsius:    25,
		RsRatedOhm:        0.4,
		FCalculateHz:      10000,
		CopperMassKg:      0.05,
		CoolingTauS:       60,
		CorrectionGain:    0.05,
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// drive runs one background period with a constant current through rsOhm.
func drive(e *Estimator, amps, rsOhm float32) {
	i := fixp.FromFloatQ30(amps / 6.6)
	u := fixp.FromFloatQ30(amps * rsOhm / 24)
	for k := 0; k < 10; k++ {
		e.Run(Vector30{Alpha: i}, Vector30{Alpha: u})
	}
	if e.DoBackground() {
		e.RunBackground()
	}
	e.RunBackSlowed(false, 0, 0)
}

func TestInvalidParams(t *testing.T) {
	if _, err := New(Params{}); err != ErrInvalidParams {
		t.Errorf("Expected ErrInvalidParams, got %v", err)
	}
}

func TestPowerEstimateConvergesMonotonically(t *testing.T) {
	e := newEstimator(t)
	prev := e.RsPowerOhm()
	if prev != 0.4 {
		t.Fatalf("Expected initial estimate 0.4, got %f", prev)
	}
	for k := 0; k < 2000; k++ {
		drive(e, 1.5, 0.5)
		rs := e.RsPowerOhm()
		if rs < prev-1e-6 {
			t.Fatalf("estimate decreased at step %d: %f -> %f", k, prev, rs)
		}
		prev = rs
	}
	if e.CurrentIsLow() {
		t.Error("Expected current above the low threshold")
	}
	if d := prev - 0.5; d > 0.005 || d < -0.005 {
		t.Errorf("Expected power estimate near 0.5, got %f", prev)
	}
	if p := e.TerminalPowerW(); p < 1.6 || p > 1.8 {
		t.Errorf("Expected terminal power near 1.69 W, got %f", p)
	}
}

func TestThermalPathFollowsCorrection(t *testing.T) {
	e := newEstimator(t)
	for k := 0; k < 20000; k++ {
		drive(e, 1.5, 0.5)
	}
	if rs := e.RsOhm(); rs < 0.47 || rs > 0.53 {
		t.Errorf("Expected corrected resistance near 0.5, got %f", rs)
	}
	if c := e.TempCelsius(); c < 70 || c > 95 {
		t.Errorf("Expected temperature near 88 C, got %f", c)
	}
	if e.RsInjectOhm() != e.RsOhm() {
		t.Errorf("Expected inject estimate equal without injection, got %f", e.RsInjectOhm())
	}
}

func TestLowCurrentFreezesPublishedValues(t *testing.T) {
	e := newEstimator(t)
	for k := 0; k < 3000; k++ {
		drive(e, 1.5, 0.5)
	}
	for k := 0; k < 3000; k++ {
		drive(e, 0, 0.5)
	}
	if !e.CurrentIsLow() {
		t.Fatal("Expected current_is_low with zero current")
	}
	rs, inj, pw := e.RsOhm(), e.RsInjectOhm(), e.RsPowerOhm()
	for k := 0; k < 100; k++ {
		drive(e, 0, 0.5)
		if e.RsOhm() != rs || e.RsInjectOhm() != inj || e.RsPowerOhm() != pw {
			t.Fatalf("published resistance changed while current is low")
		}
	}
}

func TestTempRfactorClamped(t *testing.T) {
	e := newEstimator(t)
	e.SetTempRfactor(5)
	if e.TempRfactor() != DefaultMaxRfactor {
		t.Errorf("Expected %f, got %f", DefaultMaxRfactor, e.TempRfactor())
	}
	e.SetTempRfactor(0.1)
	if e.TempRfactor() != 1/float32(DefaultMaxRfactor) {
		t.Errorf("Expected %f, got %f", 1/float32(DefaultMaxRfactor), e.TempRfactor())
	}
	e.SetRsOhm(0.44)
	if rs := e.RsOhm(); rs < 0.4399 || rs > 0.4401 {
		t.Errorf("Expected 0.44, got %f", rs)
	}
	if got := fixp.ToFloatQ30(e.RsPU()) * 24 / 6.6; got < 0.4399 || got > 0.4401 {
		t.Errorf("Expected per-unit value of 0.44 ohm, got %f", got)
	}
}

func TestInjectionCorrection(t *testing.T) {
	e := newEstimator(t)
	check := fixp.FromFloatQ30(1.1)
	e.SetInjectGain(0.1)
	if e.RsInjectPerUnit() != 1 {
		t.Fatalf("Expected initial inject factor 1.0, got %f", e.RsInjectPerUnit())
	}
	e.SetUpdate(true)
	for k := 0; k < 4000; k++ {
		e.RunBackSlowed(true, check, 0)
	}
	if p := e.RsInjectPerUnit(); p < 1.09 || p > 1.11 {
		t.Errorf("Expected inject factor near 1.1, got %f", p)
	}
}

func TestTuningModelCounts(t *testing.T) {
	e := newEstimator(t)
	e.SetTuning(true)
	e.SetTuningSync(true)
	for k := 0; k < 8; k++ {
		e.RunBackSlowed(false, 0, 0)
	}
	if e.TuningCounter() != 8 {
		t.Errorf("Expected tuning counter 8, got %d", e.TuningCounter())
	}
	if e.TuningSync() {
		t.Error("Expected sync request consumed")
	}
}

func TestNilHandle(t *testing.T) {
	var e *Estimator
	if err := e.Run(Vector30{Alpha: 1 << 29}, Vector30{Alpha: 1 << 28}); err != ErrInvalidHandle {
		t.Errorf("Expected ErrInvalidHandle from Run, got %v", err)
	}
	if err := e.RunBackground(); err != ErrInvalidHandle {
		t.Errorf("Expected ErrInvalidHandle from RunBackground, got %v", err)
	}
	if err := e.RunBackSlowed(false, 0, 0); err != ErrInvalidHandle {
		t.Errorf("Expected ErrInvalidHandle from RunBackSlowed, got %v", err)
	}
	if err := e.SetParams(Params{}); err != ErrInvalidHandle {
		t.Errorf("Expected ErrInvalidHandle from SetParams, got %v", err)
	}
	e.SetRsOhm(1)
	e.SetRsToRated()
	e.SetTempRfactor(1.2)
	e.SetUpdate(false)
	if e.RsOhm() != 0 || e.TempCelsius() != 0 || e.CurrentIsLow() || e.DoBackground() {
		t.Error("Expected zero values from a nil estimator")
	}
}
