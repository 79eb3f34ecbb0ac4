//go:build rp2040 || rp2350

package main

import (
	"errors"
	"machine"

	"motorprofiler/core"
	"motorprofiler/mc"
)

var (
	ErrLegSlice = errors.New("inverter: leg pins must sit on PWM slices that can share one period")
	errBadPin   = errors.New("gpio: no such pin")
)

// pwmPeripheral is an interface for PWM hardware peripherals
// This abstracts over TinyGo's unexported *pwmGroup type
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// pwmLeg is one half bridge input.
type pwmLeg struct {
	pwm     pwmPeripheral
	channel uint8
}

// RP2040Inverter drives a three-input gate driver (DRV8313 style: one PWM
// per leg plus a common enable, dead time generated by the driver).
type RP2040Inverter struct {
	pins   [3]machine.Pin
	enable core.GPIOPin
	gpio   core.GPIODriver
	legs   [3]pwmLeg
	top    uint32
}

// NewRP2040Inverter creates the driver. Nothing is configured until
// Configure.
func NewRP2040Inverter(u, v, w machine.Pin, enable core.GPIOPin, gpio core.GPIODriver) *RP2040Inverter {
	return &RP2040Inverter{pins: [3]machine.Pin{u, v, w}, enable: enable, gpio: gpio}
}

// Configure implements core.InverterDriver.
func (d *RP2040Inverter) Configure(freqHz uint32) (uint32, error) {
	if err := d.gpio.ConfigureOutput(d.enable); err != nil {
		return 0, err
	}
	d.gpio.SetPin(d.enable, false)

	period := uint64(1000000000) / uint64(freqHz) // ns
	for i, pin := range d.pins {
		pwm := pwmForPin(pin)
		if err := pwm.Configure(machine.PWMConfig{Period: period}); err != nil {
			return 0, err
		}
		ch, err := pwm.Channel(pin)
		if err != nil {
			return 0, err
		}
		if i > 0 && pwm.Top() != d.top {
			return 0, ErrLegSlice
		}
		d.top = pwm.Top()
		d.legs[i] = pwmLeg{pwm: pwm, channel: ch}
	}
	return d.top, nil
}

// SetDuties implements core.InverterDriver.
func (d *RP2040Inverter) SetDuties(duty mc.Duties) {
	d.legs[0].pwm.Set(d.legs[0].channel, duty.A)
	d.legs[1].pwm.Set(d.legs[1].channel, duty.B)
	d.legs[2].pwm.Set(d.legs[2].channel, duty.C)
}

// Enable implements core.InverterDriver.
func (d *RP2040Inverter) Enable(on bool) {
	d.gpio.SetPin(d.enable, on)
}

// pwmForPin returns the PWM slice of a pin.
// RP2040 has 8 PWM slices: PWM0-PWM7, GPIO N is on slice (N >> 1) & 7
func pwmForPin(pin machine.Pin) pwmPeripheral {
	switch (uint8(pin) >> 1) & 0x7 {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}
