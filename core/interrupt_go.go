//go:build !tinygo

package core

// State stands in for the interrupt state on the host, where timers and
// commands run on one goroutine.
type State uintptr

func disableInterrupts() State { return 0 }

func restoreInterrupts(State) {}
