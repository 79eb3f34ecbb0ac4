//go:build rp2040 || rp2350

package main

import (
	"machine"

	"tinygo.org/x/drivers/thermistor"

	"motorprofiler/mc/ntc"
)

// boardNTC is the power stage thermistor. The driver solves the B-equation;
// the result is mapped back onto the linear digit scale the session's
// temperature sensor filters and compares against its thresholds.
type boardNTC struct {
	dev   thermistor.Device
	scale *ntc.Sensor
}

// newBoardNTC configures a 10k/3950 thermistor to ground behind a 10k pull-up.
func newBoardNTC(pin machine.Pin, p ntc.Params) *boardNTC {
	n := &boardNTC{dev: thermistor.New(pin), scale: ntc.New(p)}
	n.dev.HighSide = false
	n.dev.Configure()
	return n
}

// ReadRaw implements mc.TemperatureSource.
func (n *boardNTC) ReadRaw() uint16 {
	milliC, err := n.dev.ReadTemperature()
	if err != nil {
		return 0xFFFF // invalid, ignored by the filter
	}
	return n.scale.DigitFromCelsius(float32(milliC) / 1000)
}
