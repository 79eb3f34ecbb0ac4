//go:build rp2040 || rp2350

package main

import (
	"machine"

	"motorprofiler/core"
)

const numGPIO = 30

// RPGPIODriver implements core.GPIODriver on the RP2040 bank. Pin numbers
// are GPIO numbers.
type RPGPIODriver struct {
	configured [numGPIO]bool
}

func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{}
}

func (d *RPGPIODriver) configure(pin core.GPIOPin, mode machine.PinMode) error {
	if int(pin) >= numGPIO {
		return errBadPin
	}
	if !d.configured[pin] {
		machine.Pin(pin).Configure(machine.PinConfig{Mode: mode})
		d.configured[pin] = true
	}
	return nil
}

func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinOutput)
}

func (d *RPGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPullup)
}

// SetPin drives pin, configuring it as an output on first use.
func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	if err := d.configure(pin, machine.PinOutput); err != nil {
		return err
	}
	machine.Pin(pin).Set(value)
	return nil
}

// ReadPin reads pin. Unconfigured pins read low.
func (d *RPGPIODriver) ReadPin(pin core.GPIOPin) bool {
	if int(pin) >= numGPIO || !d.configured[pin] {
		return false
	}
	return machine.Pin(pin).Get()
}
