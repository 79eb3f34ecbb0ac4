//go:build rp2040 || rp2350

package main

import (
	"runtime/volatile"
	"unsafe"

	"motorprofiler/core"
)

// clockFreq is the rate of the hardware timer all scheduling uses.
const clockFreq = 1000000

// TIMERAWL, the low word of the free-running microsecond timer. Reading it
// does not latch the high word.
const timerRawLow = 0x40054000 + 0x0C

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerRawLow)))

// InitClock publishes the timer rate.
func InitClock() {
	core.RegisterConstant("MCU", "rp2040")
	core.SetClockFreq(clockFreq)
}

// UpdateSystemTime copies the hardware timer into the scheduler clock. The
// main loop calls it far more often than the 71 minute wrap.
func UpdateSystemTime() {
	core.SetTime(timerRAWL.Get())
}
