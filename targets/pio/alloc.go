//go:build rp2040 || rp2350

package pio

import "errors"

var ErrNoStateMachine = errors.New("pio: all state machines in use")

// slot names one state machine: PIO block and index within it.
type slot struct {
	block, sm uint8
}

// inUse tracks the 2 blocks x 4 state machines of the chip.
var inUse [2][4]bool

// claimSlot returns the first free state machine, PIO0 first.
func claimSlot() (slot, error) {
	for b := range inUse {
		for sm, busy := range inUse[b] {
			if !busy {
				inUse[b][sm] = true
				return slot{uint8(b), uint8(sm)}, nil
			}
		}
	}
	return slot{}, ErrNoStateMachine
}

func releaseSlot(s slot) {
	inUse[s.block][s.sm] = false
}
