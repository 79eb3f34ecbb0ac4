//go:build rp2040 || rp2350

package main

import (
	"machine"

	"motorprofiler/core"
	"motorprofiler/mc"
	"motorprofiler/profiler"
	"motorprofiler/profiler/config"
	"motorprofiler/targets/pio"
)

// Power stage wiring. Each high-side gate sits on channel A of its own PWM
// slice; the driver's low sides are complementary in hardware.
const (
	pinLegU     = machine.GPIO0
	pinLegV     = machine.GPIO2
	pinLegW     = machine.GPIO4
	pinGateEn   = core.GPIOPin(6)
	pinNFault   = core.GPIOPin(7)
	pinEncoderA = 8 // B on GPIO9
	pinCurrentA = machine.ADC0
	pinCurrentB = machine.ADC1
	pinVbus     = machine.ADC2
	pinNTC      = machine.ADC3

	offsetSamples = 128
)

// setupBoard brings up the power stage and sensors for cfg.
func setupBoard(cfg *config.Config) (profiler.Hardware, error) {
	var hw profiler.Hardware
	gpio := NewRPGPIODriver()

	drv := NewRP2040Inverter(pinLegU, pinLegV, pinLegW, pinGateEn, gpio)
	inv, err := core.NewInverter(drv, uint32(cfg.Board.PWMFreqHz))
	if err != nil {
		return hw, err
	}

	adc, err := NewRpPhaseADC(pinCurrentA, pinCurrentB, pinVbus)
	if err != nil {
		return hw, err
	}
	sampler := core.NewShuntSampler(adc)
	// gates are off, so this is the amplifier zero
	if err := sampler.CalibrateOffsets(offsetSamples); err != nil {
		return hw, err
	}

	faults, err := core.NewFaultInput(gpio, pinNFault, mc.FaultOverCurr)
	if err != nil {
		return hw, err
	}

	hw = profiler.Hardware{
		Sampler:     sampler,
		Actuator:    inv,
		Faults:      faults,
		Temperature: newBoardNTC(pinNTC, cfg.NTCParams()),
	}
	if cfg.Encoder.Enabled {
		enc, err := pio.NewQuadratureEncoder(pinEncoderA)
		if err != nil {
			return hw, err
		}
		hw.Encoder = enc
	}
	return hw, nil
}

// scheduleSession runs the FOC task every current loop period and the
// medium frequency task at the speed loop rate.
func scheduleSession(s *profiler.Session, cfg *config.Config) {
	now := core.GetTime()
	fast := core.NewPeriodicTimer(now+clockFreq/cfg.FOCFrequencyHz(), clockFreq/cfg.FOCFrequencyHz(), s.FastTick)
	medium := core.NewPeriodicTimer(now+clockFreq/cfg.Board.MFFreqHz, clockFreq/cfg.Board.MFFreqHz, s.MediumTick)
	core.ScheduleTimer(fast)
	core.ScheduleTimer(medium)
}
