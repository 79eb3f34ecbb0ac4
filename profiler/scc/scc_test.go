package scc

import (
	"errors"
	"math"
	"testing"

	"motorprofiler/mc"
	"motorprofiler/mc/busvoltage"
	"motorprofiler/mc/circlelimit"
	"motorprofiler/mc/observer"
	"motorprofiler/mc/pid"
	"motorprofiler/mc/revup"
	"motorprofiler/mc/vss"
)

const (
	testFOCHz = 10000
	testMFHz  = 1000
	testVbus  = 24.0
	testConv  = 66.0
)

// locked-rotor RL load: no BEMF, one winding per axis
type rlPlant struct {
	r, l   float64
	ia, ib float64
	seq    uint32
	kis    float64
}

func (p *rlPlant) sample() mc.PhaseSample {
	p.seq++
	b := (-p.ia + math.Sqrt(3)*p.ib) / 2
	return mc.PhaseSample{
		Seq:  p.seq,
		Ia:   int16(math.Round(p.ia * p.kis)),
		Ib:   int16(math.Round(b * p.kis)),
		Vbus: uint16(math.Round(testVbus * 65536 / testConv)),
	}
}

func (p *rlPlant) apply(v mc.AlphaBeta) {
	kv := float64(mc.VoltDigitsPerVolt(testVbus))
	va, vb := float64(v.Alpha)/kv, float64(v.Beta)/kv
	h := 1.0 / testFOCHz / 10
	for i := 0; i < 10; i++ {
		p.ia += (va - p.r*p.ia) / p.l * h
		p.ib += (vb - p.r*p.ib) / p.l * h
	}
}

func testParams() Params {
	return Params{
		RampFrequencyHz:       testMFHz,
		RShunt:                0.05,
		AmplificationGain:     5,
		VbusConvFactor:        testConv,
		RSMeasCurrLevelMax:    2,
		DutyRampDurationMs:    2000,
		AlignmentDurationMs:   200,
		RSDetectionDurationMs: 400,
		LdLqRatio:             1,
		CurrentBW:             3000,
		NominalSpeedRPM:       2000,
		PWMFreqHz:             20000,
		FOCRepRate:            2,
		MCUPowerSupply:        3.3,
		IThreshold:            0.01,
		PolePairs:             4,
		NominalCurrentA:       2,
	}
}

func testDeps() Deps {
	sensor := vss.New(vss.Params{PolePairs: 4, ControlFreqHz: testFOCHz, TransitionSteps: 100, LockRange: 24576})
	return Deps{
		VSS:   sensor,
		CLM:   circlelimit.New(31000, 31000),
		PIDIq: pid.New(pid.Params{}),
		PIDId: pid.New(pid.Params{}),
		RevUp: revup.New(testMFHz, sensor),
		Observer: observer.New(observer.Params{
			PolePairs:           4,
			ControlFreqHz:       testFOCHz,
			CurrentDigitsPerAmp: mc.CurrentDigitsPerAmp(0.05, 5, 3.3),
			PLLBandwidthHz:      50,
		}),
		BusVoltage: busvoltage.New(busvoltage.Params{
			ConversionFactor:      testConv,
			OverVoltageThreshold:  30000,
			UnderVoltageThreshold: 8000,
		}),
	}
}

func newRig(t *testing.T, p Params) (*Controller, *rlPlant) {
	c, err := New(p, testDeps())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	plant := &rlPlant{r: 0.5, l: 2e-3, kis: float64(mc.CurrentDigitsPerAmp(0.05, 5, 3.3))}
	return c, plant
}

// runUntil drives the controller until done returns true or ms elapse. It
// returns false on timeout.
func runUntil(c *Controller, p *rlPlant, ms int, done func() bool) bool {
	for i := 0; i < ms; i++ {
		for k := 0; k < testFOCHz/testMFHz; k++ {
			v, _ := c.SetPhaseVoltage(p.sample())
			p.apply(v)
		}
		c.MF()
		if done() {
			return true
		}
	}
	return false
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(testParams(), Deps{}); err != ErrInvalidHandle {
		t.Errorf("Expected ErrInvalidHandle, got %v", err)
	}
}

func TestShortResistanceLevels(t *testing.T) {
	p := testParams()
	p.RSDetectionDurationMs = 4 // one MF tick per level
	if _, err := New(p, testDeps()); err != ErrShortRSLevel {
		t.Errorf("Expected ErrShortRSLevel, got %v", err)
	}

	// two ticks per level is enough to finish the staircase
	p.RSDetectionDurationMs = 8
	c, plant := newRig(t, p)
	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !runUntil(c, plant, 5000, func() bool { return c.State() == StateLSDetecting || !c.IsRunning() }) {
		t.Fatalf("Resistance detection never finished, state %v", c.State())
	}
	if c.State() != StateLSDetecting {
		t.Errorf("Expected inductance detection next, got %v (fault %v)", c.State(), c.Fault())
	}
}

func TestResistanceAndInductance(t *testing.T) {
	c, p := newRig(t, testParams())
	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if c.State() != StateDutyDetecting {
		t.Fatalf("Expected duty detection, got %v", c.State())
	}

	seen := map[State]bool{}
	ok := runUntil(c, p, 5000, func() bool {
		seen[c.State()] = true
		return c.State() == StateWaitRestart || !c.IsRunning()
	})
	if !ok || c.State() != StateWaitRestart {
		t.Fatalf("Expected wait restart, got %v (fault %v)", c.State(), c.Fault())
	}
	for _, s := range []State{StateAlign, StateRSDetectingRamp, StateRSDetecting, StateLSDetecting} {
		if !seen[s] {
			t.Errorf("Expected to pass through %v", s)
		}
	}

	if d := math.Abs(float64(c.RsOhm())-0.5) / 0.5; d > 0.02 {
		t.Errorf("Expected Rs near 0.5 ohm, got %f", c.RsOhm())
	}
	if d := math.Abs(float64(c.LsHenry())-2e-3) / 2e-3; d > 0.05 {
		t.Errorf("Expected Ls near 2 mH, got %g", c.LsHenry())
	}
	if d := math.Abs(float64(c.ItauSeconds())-4e-3) / 4e-3; d > 0.05 {
		t.Errorf("Expected tau near 4 ms, got %g", c.ItauSeconds())
	}
	if math.Abs(float64(c.ResistorOffset())) > 0.01 {
		t.Errorf("Expected no voltage offset on an ideal load, got %f", c.ResistorOffset())
	}
	if d := math.Abs(float64(c.BusVoltage())-testVbus) / testVbus; d > 0.01 {
		t.Errorf("Expected bus voltage near %v, got %f", testVbus, c.BusVoltage())
	}
	if got := mc.IntBitToFloat(c.RsBits()); got != c.RsOhm() {
		t.Errorf("Expected Rs bits to decode to %f, got %f", c.RsOhm(), got)
	}

	// the duty found drives the test current through R
	kv := mc.VoltDigitsPerVolt(testVbus)
	if got := float32(c.DutyMax()) / kv / 0.5; got < 2 || got > 2.2 {
		t.Errorf("Expected duty to produce about 2 A, got %f A", got)
	}
}

func TestDutyOpenCircuit(t *testing.T) {
	p := testParams()
	p.DutyRampDurationMs = 300
	d := testDeps()
	d.CLM = circlelimit.New(32767, 32767)
	c, err := New(p, d)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// open winding: the test current is never reached
	plant := &rlPlant{r: 1e4, l: 10, kis: float64(mc.CurrentDigitsPerAmp(0.05, 5, 3.3))}
	c.Start()

	maxSq := int64(32767) * 32767
	for i := 0; i < 1000 && c.State() == StateDutyDetecting; i++ {
		for k := 0; k < testFOCHz/testMFHz; k++ {
			v, _ := c.SetPhaseVoltage(plant.sample())
			if v.Alpha < 0 || int64(v.Alpha)*int64(v.Alpha)+int64(v.Beta)*int64(v.Beta) > maxSq {
				t.Fatalf("Expected the duty ramp inside the circle, got %+v", v)
			}
			plant.apply(v)
		}
		c.MF()
	}
	if c.State() == StateDutyDetecting {
		t.Fatal("Duty detection never finished on an open winding")
	}
	if c.DutyMax() != 32767 {
		t.Errorf("Expected the duty to stop at the circle, got %d", c.DutyMax())
	}
}

func TestOverCurrentRetriesSameStep(t *testing.T) {
	c, p := newRig(t, testParams())
	c.Start()
	if !runUntil(c, p, 5000, func() bool { return c.State() == StateRSDetecting }) {
		t.Fatalf("Never reached resistance detection, state %v", c.State())
	}
	duty := c.DutyMax()

	retried, err := c.CheckOCRL()
	if err != nil || !retried {
		t.Fatalf("Expected a retry, got %v %v", retried, err)
	}
	if c.State() != StateRSDetecting {
		t.Errorf("Expected to stay in resistance detection, got %v", c.State())
	}
	if c.TargetCurrent() != 1 {
		t.Errorf("Expected target current halved to 1 A, got %f", c.TargetCurrent())
	}
	if c.DutyMax() != duty/2 {
		t.Errorf("Expected duty %d, got %d", duty/2, c.DutyMax())
	}

	// zero voltage during the cool-down
	v, _ := c.SetPhaseVoltage(p.sample())
	if v != (mc.AlphaBeta{}) {
		t.Errorf("Expected zero voltage while cooling down, got %+v", v)
	}

	if !runUntil(c, p, 5000, func() bool { return c.State() != StateRSDetecting }) {
		t.Fatal("Resistance detection never finished after the retry")
	}
	if c.State() != StateLSDetecting {
		t.Fatalf("Expected inductance detection next, got %v", c.State())
	}
	if d := math.Abs(float64(c.RsOhm())-0.5) / 0.5; d > 0.03 {
		t.Errorf("Expected Rs near 0.5 ohm at half current, got %f", c.RsOhm())
	}
}

func TestOverCurrentRetriesExhausted(t *testing.T) {
	c, p := newRig(t, testParams())
	c.Start()
	runUntil(c, p, 5000, func() bool { return c.State() == StateLSDetecting })

	for i := 0; i < maxOCRetries; i++ {
		if retried, _ := c.CheckOCRL(); !retried {
			t.Fatalf("Expected retry %d", i+1)
		}
	}
	retried, err := c.CheckOCRL()
	if retried || err != nil {
		t.Errorf("Expected the run to stop, got %v %v", retried, err)
	}
	if c.State() != StatePhaseStop {
		t.Errorf("Expected phase stop, got %v", c.State())
	}
	if !c.Fault().Has(mc.FaultOverCurr) {
		t.Errorf("Expected over-current fault, got %v", c.Fault())
	}
	if c.IsRunning() {
		t.Error("Expected the run to be over")
	}
}

func TestPBCharacterization(t *testing.T) {
	p := testParams()
	p.RVNK = 0.1
	c, plant := newRig(t, p)
	c.SetPBCharacterization(true)
	c.Start()
	runUntil(c, plant, 5000, func() bool { return !c.IsRunning() })

	if c.State() != StateCalibrationEnd {
		t.Fatalf("Expected calibration end after the staircase, got %v", c.State())
	}
	if d := math.Abs(float64(c.RsOhm())-0.5) / 0.5; d > 0.02 {
		t.Errorf("Expected the total resistance 0.5 ohm, got %f", c.RsOhm())
	}
	if c.LsHenry() != 0 {
		t.Errorf("Expected no inductance measurement, got %g", c.LsHenry())
	}
}

func TestDurationFault(t *testing.T) {
	c, p := newRig(t, testParams())
	c.Start()
	if _, f := c.SetPhaseVoltage(p.sample()); f != mc.NoError {
		t.Errorf("Expected no fault, got %v", f)
	}
	p.seq++ // a period went by without a call
	if _, f := c.SetPhaseVoltage(p.sample()); f != mc.FaultDuration {
		t.Errorf("Expected duration fault, got %v", f)
	}
	if _, f := c.SetPhaseVoltage(p.sample()); f != mc.NoError {
		t.Errorf("Expected no fault once back in sequence, got %v", f)
	}
}

type fakeHallTuner struct {
	calls []string
	err   error
}

func (h *fakeHallTuner) Start() error   { h.calls = append(h.calls, "start"); return h.err }
func (h *fakeHallTuner) Restart() error { h.calls = append(h.calls, "restart"); return h.err }
func (h *fakeHallTuner) Abort() error   { h.calls = append(h.calls, "abort"); return h.err }
func (h *fakeHallTuner) End() error     { h.calls = append(h.calls, "end"); return h.err }

func TestCommand(t *testing.T) {
	c, _ := newRig(t, testParams())
	tx := make([]byte, 4)

	tests := []struct {
		name   string
		rx     []byte
		space  int
		status uint8
		n      int
	}{
		{"empty", nil, 4, CmdBadRawFormat, 0},
		{"too long", []byte{CmdSCStart, 0}, 4, CmdBadRawFormat, 0},
		{"no tx space", []byte{CmdSCStart}, 0, CmdNoTxSyncSpace, 0},
		{"unknown", []byte{0x42}, 4, CmdUnknown, 0},
		{"hall tuner missing", []byte{CmdHTStart}, 4, CmdNOK, 0},
		{"ppd without encoder", []byte{CmdPPDStart}, 4, CmdNOK, 1},
	}
	for _, tt := range tests {
		n, status := c.Command(tt.rx, tt.space, tx)
		if status != tt.status || n != tt.n {
			t.Errorf("%s: expected status %#x n=%d, got %#x n=%d", tt.name, tt.status, tt.n, status, n)
		}
		if c.IsRunning() || c.State() != StateIdle {
			t.Errorf("%s: expected no state change, got %v", tt.name, c.State())
		}
	}

	n, status := c.Command([]byte{CmdSCStart}, 1, tx)
	if status != CmdOK || n != 1 || tx[0] != byte(StateDutyDetecting) {
		t.Errorf("Expected start ok with state %d, got %#x n=%d state=%d", StateDutyDetecting, status, n, tx[0])
	}
	if _, status := c.Command([]byte{CmdSCStart}, 1, tx); status != CmdNOK {
		t.Errorf("Expected a second start to be refused, got %#x", status)
	}
	if _, status := c.Command([]byte{CmdSCStop}, 1, tx); status != CmdOK || tx[0] != byte(StateIdle) {
		t.Errorf("Expected stop ok in idle, got %#x state=%d", status, tx[0])
	}

	ht := &fakeHallTuner{}
	c.d.HallTuner = ht
	for _, id := range []byte{CmdHTStart, CmdHTRestart, CmdHTAbort, CmdHTEnd} {
		if n, status := c.Command([]byte{id}, 0, nil); status != CmdOK || n != 0 {
			t.Errorf("Expected hall command %d ok, got %#x n=%d", id, status, n)
		}
	}
	if len(ht.calls) != 4 || ht.calls[0] != "start" || ht.calls[3] != "end" {
		t.Errorf("Expected four forwarded calls, got %v", ht.calls)
	}
	ht.err = errors.New("busy")
	if _, status := c.Command([]byte{CmdHTAbort}, 0, nil); status != CmdNOK {
		t.Errorf("Expected NOK from a failing tuner, got %#x", status)
	}
}

func TestVoltageThresholds(t *testing.T) {
	c, _ := newRig(t, testParams())
	if got := c.OverVoltageThreshold(); got != uint16(math.Round(30000*testConv/65535)) {
		t.Errorf("Expected OV threshold %d V, got %d", uint16(math.Round(30000*testConv/65535)), got)
	}

	c.SetOverVoltageThreshold(30)
	if got := c.OverVoltageThreshold(); got != 30 {
		t.Errorf("Expected 30 V, got %d", got)
	}
	c.SetOverVoltageThreshold(70)
	if got := c.d.BusVoltage.OverVoltageThreshold(); got != 65000 {
		t.Errorf("Expected OV digits clamped to 65000, got %d", got)
	}
	c.SetUnderVoltageThreshold(10)
	if got := c.UnderVoltageThreshold(); got != 10 {
		t.Errorf("Expected 10 V, got %d", got)
	}
	if got := c.d.BusVoltage.UnderVoltageThreshold(); got != 9929 {
		t.Errorf("Expected 9929 digits, got %d", got)
	}
}

func TestClassifyRamp(t *testing.T) {
	w := []float64{200, 250, 300, 350, 400}
	e := make([]float64, len(w))
	for i := range w {
		e[i] = 0.01 * w[i]
	}
	if r := ClassifyRamp(e, w, 5); r != RampSuccess {
		t.Errorf("Expected success for a proportional BEMF, got %v", r)
	}
	if r := ClassifyRamp([]float64{0.01, 0.02, 0.01, 0.02, 0.01}, w, 5); r != MotorStill {
		t.Errorf("Expected motor still, got %v", r)
	}
	if r := ClassifyRamp([]float64{2, 1, 3, 0.8, 2.5}, w, 5); r != LoseControl {
		t.Errorf("Expected lose control, got %v", r)
	}
	if r := ClassifyRamp(e[:1], w[:1], 5); r != LoseControl {
		t.Errorf("Expected lose control with a single window, got %v", r)
	}
}

func TestGettersAndSetters(t *testing.T) {
	c, _ := newRig(t, testParams())
	if c.Steps() != 5 {
		t.Errorf("Expected 5 steps, got %d", c.Steps())
	}
	if c.FOCFrequencyHz() != testFOCHz || c.PWMFrequencyHz() != 20000 || c.FOCRepRate() != 2 {
		t.Errorf("Unexpected timing %d %d %d", c.FOCFrequencyHz(), c.PWMFrequencyHz(), c.FOCRepRate())
	}
	c.SetPolesPairs(7)
	if c.PolePairs() != 7 {
		t.Errorf("Expected 7 pole pairs, got %d", c.PolePairs())
	}
	c.SetLdLqRatio(1.5)
	c.SetLdLqRatio(0)
	if c.LdLqRatio() != 1.5 {
		t.Errorf("Expected Ld/Lq 1.5, got %f", c.LdLqRatio())
	}
	c.SetNominalSpeed(3000)
	c.SetCurrentBandwidth(2000)
	c.SetNominalCurrent(1.5)
	if c.NominalSpeed() != 3000 || c.CurrentBandwidth() != 2000 {
		t.Errorf("Unexpected speed %d or bandwidth %f", c.NominalSpeed(), c.CurrentBandwidth())
	}
	c.Start()
	if c.TargetCurrent() != 1.5 || c.StartupCurrentAmp() != 1.5 {
		t.Errorf("Expected the nominal current to cap the test current, got %f", c.TargetCurrent())
	}
	c.SetResistorOffset(0.2)
	if c.ResistorOffset() != 0.2 {
		t.Errorf("Expected offset 0.2, got %f", c.ResistorOffset())
	}
}

func TestNilHandle(t *testing.T) {
	var c *Controller
	if err := c.Start(); err != ErrInvalidHandle {
		t.Errorf("Expected ErrInvalidHandle, got %v", err)
	}
	if err := c.MF(); err != ErrInvalidHandle {
		t.Errorf("Expected ErrInvalidHandle, got %v", err)
	}
	if _, f := c.SetPhaseVoltage(mc.PhaseSample{}); f != mc.FaultSWError {
		t.Errorf("Expected SW error, got %v", f)
	}
	if _, err := c.CheckOCRL(); err != ErrInvalidHandle {
		t.Errorf("Expected ErrInvalidHandle, got %v", err)
	}
	if _, status := c.Command([]byte{CmdSCStart}, 1, make([]byte, 1)); status != CmdNOK {
		t.Errorf("Expected NOK, got %#x", status)
	}
	if err := c.SetOverVoltageThreshold(30); err != ErrInvalidHandle {
		t.Errorf("Expected ErrInvalidHandle, got %v", err)
	}
	if c.RsBits() != 0 || c.State() != StateIdle || c.Steps() != 5 {
		t.Error("Expected zero values from a nil controller")
	}
}

func TestAccelerationSearch(t *testing.T) {
	w := []float64{200, 250, 300, 350, 400}
	e := make([]float64, len(w))
	for i := range w {
		e[i] = 0.01 * w[i]
	}
	pass := ClassifyRamp(e, w, 5)
	still := ClassifyRamp([]float64{0.01, 0.02, 0.01, 0.02, 0.01}, w, 5)

	c, _ := newRig(t, testParams())
	c.accRPMs = 1000
	steps := []struct {
		res    AccResult
		action accAction
		next   uint32
	}{
		{pass, accRaise, 2000},
		{pass, accRaise, 4000},
		{still, accRetry, 2000}, // 4000 failed, back to the last success
		{pass, accDetect, 2000},
	}
	for i, s := range steps {
		if got := c.nextAcc(s.res); got != s.action {
			t.Fatalf("step %d: expected action %d, got %d", i, s.action, got)
		}
		if c.accRPMs != s.next {
			t.Errorf("step %d: expected %d RPM/s next, got %d", i, s.next, c.accRPMs)
		}
	}
	if c.EstMaxAcceleration() != 2000 {
		t.Errorf("Expected the bound at 2000 RPM/s, got %d", c.EstMaxAcceleration())
	}

	// every ramp passes: the search stops after maxAccSteps doublings
	c, _ = newRig(t, testParams())
	c.accRPMs = 1000
	n := 0
	for c.nextAcc(pass) == accRaise {
		n++
	}
	if n != maxAccSteps || c.EstMaxAcceleration() != 1000<<maxAccSteps {
		t.Errorf("Expected %d doublings up to %d RPM/s, got %d and %d", maxAccSteps, 1000<<maxAccSteps, n, c.EstMaxAcceleration())
	}

	// no ramp passes: the rate halves until the retries run out
	c, _ = newRig(t, testParams())
	c.accRPMs = 1000
	for i := 0; i < maxAccRetries; i++ {
		if got := c.nextAcc(still); got != accRetry {
			t.Fatalf("retry %d: expected accRetry, got %d", i, got)
		}
	}
	if c.accRPMs != 1000>>maxAccRetries {
		t.Errorf("Expected %d RPM/s after the retries, got %d", 1000>>maxAccRetries, c.accRPMs)
	}
	if got := c.nextAcc(still); got != accGiveUp {
		t.Errorf("Expected accGiveUp, got %d", got)
	}
	if c.EstMaxAcceleration() != 0 {
		t.Errorf("Expected no validated acceleration, got %d", c.EstMaxAcceleration())
	}
}
