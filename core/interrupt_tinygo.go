//go:build tinygo

package core

import "runtime/interrupt"

func disableInterrupts() interrupt.State { return interrupt.Disable() }

func restoreInterrupts(state interrupt.State) { interrupt.Restore(state) }
