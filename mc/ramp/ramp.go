// Package ramp implements a linear ramp of an int32 quantity, advanced once
// per tick at a fixed frequency.
package ramp

// Manager ramps a value towards a target over a number of ticks.
type Manager struct {
	FrequencyHz uint32

	ext       int64 // 32.32 current value
	inc       int64
	target    int32
	remaining uint32
}

// New returns a ramp manager advanced at freqHz.
func New(freqHz uint32) *Manager {
	return &Manager{FrequencyHz: freqHz}
}

// Init clears the ramp and sets the value to zero.
func (m *Manager) Init() {
	m.ext, m.inc, m.target, m.remaining = 0, 0, 0, 0
}

// Calc advances the ramp one tick and returns the new value. The value lands
// exactly on the target at the last tick.
func (m *Manager) Calc() int32 {
	switch {
	case m.remaining > 1:
		m.ext += m.inc
		m.remaining--
	case m.remaining == 1:
		m.ext = int64(m.target) << 32
		m.remaining = 0
	}
	return m.Value()
}

// ExecRamp starts a ramp to target lasting durationMs. A zero duration jumps
// straight to the target.
func (m *Manager) ExecRamp(target int32, durationMs uint32) {
	steps := uint64(durationMs) * uint64(m.FrequencyHz) / 1000
	m.target = target
	if steps == 0 {
		m.ext = int64(target) << 32
		m.remaining = 0
		return
	}
	m.inc = ((int64(target) << 32) - m.ext) / int64(steps)
	m.remaining = uint32(steps)
}

// Value returns the current value.
func (m *Manager) Value() int32 {
	return int32(m.ext >> 32)
}

// SetValue forces the current value and stops any ramp.
func (m *Manager) SetValue(v int32) {
	m.ext = int64(v) << 32
	m.target = v
	m.remaining = 0
}

// Completed reports whether no ramp is in progress.
func (m *Manager) Completed() bool {
	return m.remaining == 0
}

// Stop freezes the value where it is.
func (m *Manager) Stop() {
	m.remaining = 0
	m.target = m.Value()
}

// Target returns the final value of the current ramp.
func (m *Manager) Target() int32 {
	return m.target
}
