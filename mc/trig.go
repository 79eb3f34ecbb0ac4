package mc

import "math"

const sinTableSize = 256

// sinTable covers one electrical turn plus a guard entry for interpolation.
var sinTable [sinTableSize + 1]int16

func init() {
	for i := range sinTable {
		v := math.Sin(2 * math.Pi * float64(i) / sinTableSize)
		sinTable[i] = int16(math.Round(v * 32767))
	}
}

// Sin returns sin(angle) in Q15 for an int16 angle (65536 per turn).
func Sin(angle int16) int16 {
	a := uint16(angle)
	i := a >> 8
	frac := int32(a & 0xFF)
	lo := int32(sinTable[i])
	hi := int32(sinTable[i+1])
	return int16(lo + ((hi-lo)*frac)>>8)
}

// Cos returns cos(angle) in Q15.
func Cos(angle int16) int16 {
	return Sin(angle + 16384)
}

// SinCos returns both components at once.
func SinCos(angle int16) (sin, cos int16) {
	return Sin(angle), Cos(angle)
}

// AngleToRad converts an int16 angle to radians in [-pi, pi).
func AngleToRad(angle int16) float32 {
	return float32(angle) * math.Pi / 32768
}

// RadToAngle wraps a radian angle into the int16 representation.
func RadToAngle(rad float32) int16 {
	turns := float64(rad) / (2 * math.Pi)
	turns -= math.Floor(turns)
	return int16(uint16(int64(math.Round(turns*65536)) & 0xFFFF))
}
