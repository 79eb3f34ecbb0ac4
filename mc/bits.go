package mc

import "math"

// FloatToIntBit returns the IEEE-754 bit pattern of f, the encoding used for
// float results on the command channel.
func FloatToIntBit(f float32) uint32 {
	return math.Float32bits(f)
}

// IntBitToFloat is the inverse of FloatToIntBit.
func IntBitToFloat(b uint32) float32 {
	return math.Float32frombits(b)
}
