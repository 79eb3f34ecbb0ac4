// Package fixp implements the saturating fixed-point helpers used on the fast
// control path.
//
// Formats:
//
//	Q15: int16, 1.0 == 1<<15 (not representable, saturates to 32767)
//	Q30: int32, 1.0 == 1<<30, range [-2, 2)
//
// Every multiply rounds half up (adds 1<<(n-1) before the shift) and every
// narrowing conversion saturates instead of wrapping.
package fixp

import (
	"math"

	"golang.org/x/exp/constraints"
)

const (
	Q15One = 1 << 15
	Q30One = 1 << 30
)

// Clamp bounds v to [lo, hi].
func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Abs returns |v|. For the most negative integer it returns the value unchanged,
// callers that care use Sat16/Sat32 on a widened value.
func Abs[T constraints.Signed | constraints.Float](v T) T {
	if v < 0 {
		return -v
	}
	return v
}

// Sat16 narrows to int16 with saturation.
func Sat16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Sat32 narrows to int32 with saturation.
func Sat32(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// ShiftRound is an arithmetic right shift with round-half-up.
func ShiftRound(v int64, n uint) int64 {
	if n == 0 {
		return v
	}
	return (v + int64(1)<<(n-1)) >> n
}

// AddSat16 adds two int16 values with saturation.
func AddSat16(a, b int16) int16 {
	return Sat16(int32(a) + int32(b))
}

// SubSat16 subtracts two int16 values with saturation.
func SubSat16(a, b int16) int16 {
	return Sat16(int32(a) - int32(b))
}

// AddSat32 adds two int32 values with saturation.
func AddSat32(a, b int32) int32 {
	return Sat32(int64(a) + int64(b))
}

// MulQ15 multiplies two Q15 values.
func MulQ15(a, b int16) int16 {
	return Sat16(int32(ShiftRound(int64(a)*int64(b), 15)))
}

// MulQ30 multiplies two Q30 values.
func MulQ30(a, b int32) int32 {
	return Sat32(ShiftRound(int64(a)*int64(b), 30))
}

// FromFloatQ30 converts a float to Q30, rounding half up and saturating.
func FromFloatQ30(f float32) int32 {
	v := math.Floor(float64(f)*Q30One + 0.5)
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	if v <= math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// ToFloatQ30 converts Q30 to float.
func ToFloatQ30(v int32) float32 {
	return float32(float64(v) / Q30One)
}

// FromFloatQ15 converts a float to Q15, rounding half up and saturating.
func FromFloatQ15(f float32) int16 {
	v := math.Floor(float64(f)*Q15One + 0.5)
	if v >= math.MaxInt16 {
		return math.MaxInt16
	}
	if v <= math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// LowPass is a first-order shift filter, out += (x-out) / 2^shift. The
// accumulator keeps shift fraction bits, so a constant input comes out
// exactly once the filter has settled.
type LowPass struct {
	acc   int64 // out << shift
	shift uint
}

// NewLowPass returns a filter at zero. Shifts above 31 are clamped.
func NewLowPass(shift uint16) LowPass {
	return LowPass{shift: uint(min(shift, 31))}
}

// Update feeds one sample and returns the new output.
func (f *LowPass) Update(x int32) int32 {
	f.acc += int64(x) - int64(f.Out())
	return f.Out()
}

// Out returns the filtered value, rounded half up.
func (f *LowPass) Out() int32 {
	return Sat32(ShiftRound(f.acc, f.shift))
}

// Isqrt32 returns floor(sqrt(x)).
//
// Restoring bit-by-bit method: one candidate bit per iteration, 16 iterations,
// no multiplications. The result r always satisfies r*r <= x < (r+1)*(r+1),
// so the error against the real root is in [0, 1).
func Isqrt32(x uint32) uint16 {
	var res uint32
	bit := uint32(1) << 30
	for bit > x {
		bit >>= 2
	}
	for bit != 0 {
		if x >= res+bit {
			x -= res + bit
			res = res>>1 + bit
		} else {
			res >>= 1
		}
		bit >>= 2
	}
	return uint16(res)
}

// Isqrt64 is Isqrt32 for 64-bit operands.
func Isqrt64(x uint64) uint32 {
	var res uint64
	bit := uint64(1) << 62
	for bit > x {
		bit >>= 2
	}
	for bit != 0 {
		if x >= res+bit {
			x -= res + bit
			res = res>>1 + bit
		} else {
			res >>= 1
		}
		bit >>= 2
	}
	return uint32(res)
}
