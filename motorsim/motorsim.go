// Package motorsim models a surface permanent magnet motor behind a
// three-phase inverter with shunt current sensing, an incremental encoder
// and an NTC. It implements the hardware interfaces of package mc, so the
// commissioning session runs against it on a host exactly as it does on the
// board.
//
// Model, in the stationary frame with amplitude-invariant Clarke:
//
//	L di/dt = v - R i - w*lambda*(-sin th, cos th)
//	J dw/dt = 1.5*p*lambda*(cos th * ib - sin th * ia) - F w - Tload
//
// integrated with forward Euler in Substeps steps per control period.
package motorsim

import (
	"errors"
	"math"

	"motorprofiler/mc"
)

// Params describes the motor and the board around it.
type Params struct {
	Rs         float64 // ohm
	Ls         float64 // henry
	Flux       float64 // V*s/rad, peak phase flux linkage
	PolePairs  int
	J          float64 // kg*m^2
	F          float64 // N*m*s/rad
	LoadTorque float64 // N*m, opposes the motion

	Vbus         float64
	DeadTimeVolt float64 // voltage lost to dead time at full current
	DeadTimeAmp  float64 // current where the dead-time loss saturates

	RShunt            float64
	AmplificationGain float64
	Vdd               float64
	BusConvFactor     float64 // bus volts read as full scale

	ControlFreqHz  int
	Substeps       int
	EncoderPulses  int     // counts per mechanical turn after x4 decoding
	OverCurrentAmp float64 // 0 disables the comparator
	TempRaw        uint16  // constant NTC reading
	InitialElAngle float64 // rad
}

// DefaultParams is a 4 pole pair, 24 V hobby motor.
func DefaultParams() Params {
	return Params{
		Rs:                0.5,
		Ls:                2e-3,
		Flux:              0.01,
		PolePairs:         4,
		J:                 2e-5,
		F:                 1e-4,
		Vbus:              24,
		DeadTimeVolt:      0.02,
		DeadTimeAmp:       0.05,
		RShunt:            0.05,
		AmplificationGain: 5,
		Vdd:               3.3,
		BusConvFactor:     66,
		ControlFreqHz:     10000,
		Substeps:          10,
		EncoderPulses:     4096,
		OverCurrentAmp:    8,
		TempRaw:           20000,
	}
}

var ErrInvalidParams = errors.New("motorsim: invalid parameters")

// Motor is the simulation state. It is not safe for concurrent use.
type Motor struct {
	p Params

	ia, ib    float64
	thetaMech float64 // accumulated, not wrapped
	omegaMech float64
	va, vb    float64
	disabled  bool
	seq       uint32
	faults    uint16
	time      float64
}

// New returns a motor at rest.
func New(p Params) (*Motor, error) {
	if p.Rs <= 0 || p.Ls <= 0 || p.J <= 0 || p.PolePairs <= 0 || p.Vbus <= 0 ||
		p.ControlFreqHz <= 0 || p.Vdd <= 0 || p.BusConvFactor <= 0 {
		return nil, ErrInvalidParams
	}
	if p.Substeps <= 0 {
		p.Substeps = 1
	}
	if p.DeadTimeAmp <= 0 {
		p.DeadTimeAmp = 0.05
	}
	m := &Motor{p: p}
	m.thetaMech = p.InitialElAngle / float64(p.PolePairs)
	return m, nil
}

// Params returns the model parameters.
func (m *Motor) Params() Params { return m.p }

func (m *Motor) currentScale() float64 {
	return 65536 * m.p.RShunt * m.p.AmplificationGain / m.p.Vdd
}

// Sample implements mc.PhaseSampler.
func (m *Motor) Sample() mc.PhaseSample {
	m.seq++
	k := m.currentScale()
	b := (-m.ia + math.Sqrt(3)*m.ib) / 2
	return mc.PhaseSample{
		Seq:  m.seq,
		Ia:   sat16(m.ia * k),
		Ib:   sat16(b * k),
		Vbus: uint16(math.Min(m.p.Vbus*65536/m.p.BusConvFactor, math.MaxUint16)),
	}
}

// Apply implements mc.VoltageActuator. It holds v for one control period
// and advances the model by that period.
func (m *Motor) Apply(v mc.AlphaBeta) {
	kv := float64(mc.VoltDigitsPerVolt(float32(m.p.Vbus)))
	m.va, m.vb = float64(v.Alpha)/kv, float64(v.Beta)/kv
	m.disabled = false
	m.advance()
}

// Disable implements mc.VoltageActuator. With all legs off the windings
// carry no current.
func (m *Motor) Disable() {
	m.va, m.vb = 0, 0
	m.disabled = true
	m.advance()
}

func (m *Motor) advance() {
	p := m.p
	h := 1 / float64(p.ControlFreqHz) / float64(p.Substeps)
	pp := float64(p.PolePairs)
	for range p.Substeps {
		th := pp * m.thetaMech
		s, c := math.Sincos(th)
		we := pp * m.omegaMech
		ea, eb := -we*p.Flux*s, we*p.Flux*c

		if m.disabled {
			m.ia, m.ib = 0, 0
		} else {
			va := m.va - p.DeadTimeVolt*math.Tanh(m.ia/p.DeadTimeAmp)
			vb := m.vb - p.DeadTimeVolt*math.Tanh(m.ib/p.DeadTimeAmp)
			m.ia += (va - p.Rs*m.ia - ea) / p.Ls * h
			m.ib += (vb - p.Rs*m.ib - eb) / p.Ls * h
		}

		torque := 1.5 * pp * p.Flux * (c*m.ib - s*m.ia)
		load := p.F * m.omegaMech
		if m.omegaMech > 0 {
			load += p.LoadTorque
		} else if m.omegaMech < 0 {
			load -= p.LoadTorque
		}
		m.omegaMech += (torque - load) / p.J * h
		m.thetaMech += m.omegaMech * h
	}
	m.time += 1 / float64(p.ControlFreqHz)
	if p.OverCurrentAmp > 0 && math.Hypot(m.ia, m.ib) > p.OverCurrentAmp {
		m.faults |= uint16(mc.FaultOverCurr)
	}
}

// Faults implements mc.FaultSource. The over-current flag stays latched
// until ClearFaults.
func (m *Motor) Faults() uint16 { return m.faults }

// ClearFaults releases the latched flags.
func (m *Motor) ClearFaults() { m.faults = 0 }

// InjectFault latches f as if the hardware had raised it.
func (m *Motor) InjectFault(f mc.FaultCode) { m.faults |= uint16(f) }

// Count implements mc.CounterSource.
func (m *Motor) Count() int32 {
	return int32(math.Floor(m.thetaMech / (2 * math.Pi) * float64(m.p.EncoderPulses)))
}

// ReadRaw implements mc.TemperatureSource.
func (m *Motor) ReadRaw() uint16 { return m.p.TempRaw }

// SetLoadTorque changes the load torque.
func (m *Motor) SetLoadTorque(t float64) { m.p.LoadTorque = t }

// Currents returns the stationary-frame currents in amps.
func (m *Motor) Currents() (alpha, beta float64) { return m.ia, m.ib }

// MechSpeed returns the rotor speed in rad/s.
func (m *Motor) MechSpeed() float64 { return m.omegaMech }

// SpeedRPM returns the rotor speed in revolutions per minute.
func (m *Motor) SpeedRPM() float64 { return m.omegaMech * 60 / (2 * math.Pi) }

// MechTurns returns the turns made since the start.
func (m *Motor) MechTurns() float64 { return m.thetaMech / (2 * math.Pi) }

// Time returns the simulated time in seconds.
func (m *Motor) Time() float64 { return m.time }

// Ke returns the BEMF constant in Vrms line-to-line per kRPM.
func (p Params) Ke() float64 {
	return p.Flux * float64(p.PolePairs) * 2 * math.Pi / 60 * 1000 * math.Sqrt(3) / math.Sqrt(2)
}

func sat16(v float64) int16 {
	return int16(math.Max(math.Min(math.Round(v), math.MaxInt16), math.MinInt16))
}
