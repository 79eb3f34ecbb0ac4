package motorsim

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Trace records the rotor speed and current magnitude at a fixed decimation.
type Trace struct {
	Every int
	T     []float64
	RPM   []float64
	Amps  []float64
	n     int
}

// Record adds a point every Every calls.
func (tr *Trace) Record(m *Motor) {
	tr.n++
	if tr.Every > 1 && tr.n%tr.Every != 0 {
		return
	}
	ia, ib := m.Currents()
	tr.T = append(tr.T, m.Time())
	tr.RPM = append(tr.RPM, m.SpeedRPM())
	tr.Amps = append(tr.Amps, math.Hypot(ia, ib))
}

// SpeedStats returns the mean and standard deviation of the speed recorded
// at or after time from.
func (tr *Trace) SpeedStats(from float64) (mean, std float64) {
	i := 0
	for i < len(tr.T) && tr.T[i] < from {
		i++
	}
	if len(tr.RPM[i:]) < 2 {
		return 0, 0
	}
	return stat.MeanStdDev(tr.RPM[i:], nil)
}

// PeakAmps returns the largest current magnitude recorded.
func (tr *Trace) PeakAmps() float64 {
	var peak float64
	for _, a := range tr.Amps {
		peak = max(peak, a)
	}
	return peak
}
