package encoder

import (
	"motorprofiler/mc/ramp"
	"motorprofiler/mc/vss"
)

// AlignParams configures the alignment controller.
type AlignParams struct {
	FreqHz     uint32 // Exec rate
	DurationMs uint16
	// FinalReference is the alignment vector amplitude reached at the end of
	// the ramp, in the digit scale of whoever applies it.
	FinalReference int16
	ElAngle        int16
	PolePairs      uint8
}

// Aligner holds a fixed vector until the rotor settles, then aligns the
// encoder to it.
type Aligner struct {
	params    AlignParams
	enc       *Sensor
	vss       *vss.Sensor
	ref       *ramp.Manager
	remaining uint32
	running   bool
	aligned   bool
}

// NewAligner returns an aligner for enc. sensor may be nil; when set its
// angle is parked at the alignment angle.
func NewAligner(p AlignParams, enc *Sensor, sensor *vss.Sensor) *Aligner {
	return &Aligner{params: p, enc: enc, vss: sensor, ref: ramp.New(p.FreqHz)}
}

// SetFinalReference changes the alignment amplitude of the next run.
func (a *Aligner) SetFinalReference(v int16) { a.params.FinalReference = v }

// SetPolePairs changes the ratio used to set the mechanical angle.
func (a *Aligner) SetPolePairs(pp uint8) { a.params.PolePairs = pp }

// StartAlignment begins the reference ramp.
func (a *Aligner) StartAlignment() {
	if a.vss != nil {
		a.vss.SetMecAcceleration(0, 0)
		a.vss.SetElAngle(a.params.ElAngle)
	}
	a.ref.SetValue(0)
	a.ref.ExecRamp(int32(a.params.FinalReference), uint32(a.params.DurationMs))
	a.remaining = uint32(a.params.DurationMs) * a.params.FreqHz / 1000
	a.running = true
	a.aligned = false
}

// Exec advances one tick and returns true once aligned.
func (a *Aligner) Exec() bool {
	if !a.running {
		return a.aligned
	}
	a.ref.Calc()
	if a.remaining > 0 {
		a.remaining--
	}
	if a.remaining == 0 {
		pp := int32(a.params.PolePairs)
		if pp == 0 {
			pp = 1
		}
		a.enc.SetMecAngle(int16(int32(a.params.ElAngle) / pp))
		a.enc.Clear()
		a.running = false
		a.aligned = true
	}
	return a.aligned
}

// IsAligned reports whether the last alignment completed.
func (a *Aligner) IsAligned() bool { return a.aligned }

// Reference returns the present alignment amplitude.
func (a *Aligner) Reference() int16 { return int16(a.ref.Value()) }

// ElAngle returns the alignment angle.
func (a *Aligner) ElAngle() int16 { return a.params.ElAngle }
