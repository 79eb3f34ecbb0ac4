package fixp

import (
	"math"
	"testing"
)

func TestSaturation(t *testing.T) {
	if v := Sat16(40000); v != math.MaxInt16 {
		t.Errorf("Expected %d, got %d", math.MaxInt16, v)
	}
	if v := Sat16(-40000); v != math.MinInt16 {
		t.Errorf("Expected %d, got %d", math.MinInt16, v)
	}
	if v := AddSat16(30000, 30000); v != math.MaxInt16 {
		t.Errorf("Expected saturated add, got %d", v)
	}
	if v := SubSat16(-30000, 30000); v != math.MinInt16 {
		t.Errorf("Expected saturated sub, got %d", v)
	}
	if v := AddSat32(math.MaxInt32, 1); v != math.MaxInt32 {
		t.Errorf("Expected saturated 32-bit add, got %d", v)
	}
	// -1.0 * -1.0 does not fit in Q15
	if v := MulQ15(math.MinInt16, math.MinInt16); v != math.MaxInt16 {
		t.Errorf("Expected Q15 product to saturate, got %d", v)
	}
}

func TestRounding(t *testing.T) {
	tests := []struct {
		v    int64
		n    uint
		want int64
	}{
		{5, 1, 3},   // 2.5 -> 3
		{-5, 1, -2}, // -2.5 -> -2 (half up)
		{4, 1, 2},
		{7, 2, 2}, // 1.75 -> 2
		{9, 0, 9},
	}
	for _, tt := range tests {
		if got := ShiftRound(tt.v, tt.n); got != tt.want {
			t.Errorf("ShiftRound(%d, %d): expected %d, got %d", tt.v, tt.n, tt.want, got)
		}
	}

	half := FromFloatQ30(0.5)
	if half != 1<<29 {
		t.Errorf("Expected 0.5 in Q30 to be %d, got %d", 1<<29, half)
	}
	if got := MulQ30(half, half); got != 1<<28 {
		t.Errorf("Expected 0.25 in Q30, got %d", got)
	}
	if got := ToFloatQ30(FromFloatQ30(-1.25)); got != -1.25 {
		t.Errorf("Expected -1.25 round trip, got %f", got)
	}
	if got := FromFloatQ30(3.0); got != math.MaxInt32 {
		t.Errorf("Expected 3.0 to saturate, got %d", got)
	}
	if got := FromFloatQ15(0.5); got != 16384 {
		t.Errorf("Expected 16384, got %d", got)
	}
}

func TestClampAbs(t *testing.T) {
	if Clamp(5, 0, 3) != 3 || Clamp(-1, 0, 3) != 0 || Clamp(2, 0, 3) != 2 {
		t.Error("Clamp returned wrong values for int")
	}
	if Clamp(float32(1.5), 0, 1) != 1 {
		t.Error("Clamp returned wrong value for float32")
	}
	if Abs(int32(-7)) != 7 || Abs(float32(-0.5)) != 0.5 {
		t.Error("Abs returned wrong value")
	}
}

func TestLowPassSettles(t *testing.T) {
	for _, target := range []int32{123456789, -987654321, 1, -1, math.MaxInt32} {
		f := NewLowPass(6)
		var out int32
		for i := 0; i < 4000; i++ {
			out = f.Update(target)
		}
		if out != target {
			t.Errorf("Expected filter to settle on %d, got %d", target, out)
		}
	}
}

func TestLowPassStep(t *testing.T) {
	f := NewLowPass(4)
	// first sample moves the output by x/16
	if got := f.Update(1600); got != 100 {
		t.Errorf("Expected 100 after one sample, got %d", got)
	}
	prev := int32(100)
	for i := 0; i < 200; i++ {
		out := f.Update(1600)
		if out < prev || out > 1600 {
			t.Fatalf("Expected a monotonic rise to 1600, got %d after %d", out, prev)
		}
		prev = out
	}
	if prev != 1600 {
		t.Errorf("Expected 1600, got %d", prev)
	}
}

func TestIsqrt(t *testing.T) {
	values := []uint32{0, 1, 2, 3, 4, 15, 16, 17, 99, 100, 65535, 65536, 1 << 30, math.MaxUint32}
	for _, x := range values {
		r := uint64(Isqrt32(x))
		if r*r > uint64(x) || (r+1)*(r+1) <= uint64(x) {
			t.Errorf("Isqrt32(%d) = %d is not the floor root", x, r)
		}
	}
	for x := uint32(0); x < 100000; x += 7 {
		r := uint64(Isqrt32(x))
		if r*r > uint64(x) || (r+1)*(r+1) <= uint64(x) {
			t.Fatalf("Isqrt32(%d) = %d is not the floor root", x, r)
		}
	}
	big := []uint64{0, 1, 1 << 40, 1<<62 + 12345, math.MaxUint64}
	for _, x := range big {
		r := uint64(Isqrt64(x))
		if r*r > x {
			t.Errorf("Isqrt64(%d) = %d overshoots", x, r)
		}
		if r < math.MaxUint32 && (r+1)*(r+1) <= x {
			t.Errorf("Isqrt64(%d) = %d is not the floor root", x, r)
		}
	}
}
