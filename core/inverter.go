package core

import (
	"errors"

	"motorprofiler/mc"
	"motorprofiler/mc/fixp"
)

var ErrNoOffsetSamples = errors.New("core: offset calibration needs at least one sample")

// Inverter adapts an InverterDriver to mc.VoltageActuator.
type Inverter struct {
	drv     InverterDriver
	period  uint32
	enabled bool
}

// NewInverter configures drv for freqHz and leaves the gates off.
func NewInverter(drv InverterDriver, freqHz uint32) (*Inverter, error) {
	period, err := drv.Configure(freqHz)
	if err != nil {
		return nil, err
	}
	inv := &Inverter{drv: drv, period: period}
	inv.Disable()
	return inv, nil
}

// Period returns the PWM period in counts.
func (inv *Inverter) Period() uint32 { return inv.period }

// Apply implements mc.VoltageActuator.
func (inv *Inverter) Apply(v mc.AlphaBeta) {
	inv.drv.SetDuties(mc.SVPWM(v, inv.period))
	if !inv.enabled {
		inv.drv.Enable(true)
		inv.enabled = true
	}
}

// Disable implements mc.VoltageActuator. The legs are parked at 50% so the
// next Apply starts from zero voltage.
func (inv *Inverter) Disable() {
	half := inv.period / 2
	inv.drv.SetDuties(mc.Duties{A: half, B: half, C: half})
	inv.drv.Enable(false)
	inv.enabled = false
}

// ShuntSampler adapts a PhaseADC to mc.PhaseSampler. Phase currents are the
// offset minus the reading: a positive current into the motor pulls the
// amplifier output down.
type ShuntSampler struct {
	adc        PhaseADC
	offA, offB int32
	seq        uint32
	last       mc.PhaseSample
	errors     uint32
}

// NewShuntSampler returns a sampler with mid-scale offsets.
func NewShuntSampler(adc PhaseADC) *ShuntSampler {
	return &ShuntSampler{adc: adc, offA: 32768, offB: 32768}
}

// CalibrateOffsets averages n readings, taken with the gates off, as the zero
// current offsets.
func (s *ShuntSampler) CalibrateOffsets(n int) error {
	if n <= 0 {
		return ErrNoOffsetSamples
	}
	var sumA, sumB int64
	for i := 0; i < n; i++ {
		ia, ib, _, err := s.adc.ReadPhases()
		if err != nil {
			return err
		}
		sumA += int64(ia)
		sumB += int64(ib)
	}
	s.offA = int32(sumA / int64(n))
	s.offB = int32(sumB / int64(n))
	return nil
}

// Offsets returns the zero current readings.
func (s *ShuntSampler) Offsets() (a, b int32) { return s.offA, s.offB }

// Sample implements mc.PhaseSampler. A failed conversion repeats the last
// sample without advancing Seq, which the controllers see as a missed period.
func (s *ShuntSampler) Sample() mc.PhaseSample {
	ia, ib, vbus, err := s.adc.ReadPhases()
	if err != nil {
		s.errors++
		return s.last
	}
	s.seq++
	s.last = mc.PhaseSample{
		Seq:  s.seq,
		Ia:   fixp.Sat16(s.offA - int32(ia)),
		Ib:   fixp.Sat16(s.offB - int32(ib)),
		Vbus: vbus,
	}
	return s.last
}

// Errors returns the number of failed conversions.
func (s *ShuntSampler) Errors() uint32 { return s.errors }
