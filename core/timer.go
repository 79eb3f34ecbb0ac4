package core

import "sync/atomic"

// DefaultClockFreq is the timer rate until a target sets its own.
const DefaultClockFreq = 1000000

var (
	clockFreq uint32 = DefaultClockFreq

	// written by the target's main loop, read from handlers
	systemTicks uint32
	wraps       uint32
)

// SetClockFreq sets the rate of the ticks passed to SetTime and publishes it
// as CLOCK_FREQ.
func SetClockFreq(hz uint32) {
	atomic.StoreUint32(&clockFreq, hz)
	RegisterConstant("CLOCK_FREQ", hz)
}

// ClockFreq returns the timer rate in Hz.
func ClockFreq() uint32 { return atomic.LoadUint32(&clockFreq) }

// GetTime returns the current system time in timer ticks.
func GetTime() uint32 {
	return atomic.LoadUint32(&systemTicks)
}

// SetTime feeds the hardware timer in. Calls must be frequent enough to see
// every wrap of the 32-bit counter.
func SetTime(ticks uint32) {
	if ticks < atomic.LoadUint32(&systemTicks) {
		atomic.AddUint32(&wraps, 1)
	}
	atomic.StoreUint32(&systemTicks, ticks)
}

// GetUptime returns ticks since boot, 64-bit.
func GetUptime() uint64 {
	return uint64(atomic.LoadUint32(&wraps))<<32 | uint64(GetTime())
}

// TimerFromUS converts microseconds to timer ticks.
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * uint64(ClockFreq()) / 1000000)
}

// TimerInit starts uptime counting from the current time.
func TimerInit() {
	atomic.StoreUint32(&wraps, 0)
}

// ProcessTimers runs every timer that is due.
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
