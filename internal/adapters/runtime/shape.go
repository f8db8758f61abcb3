package runtime

import (
	"github.com/pkg/errors"
)

// checkShape compares a shape declared by a model artifact with the shape the
// contract expects. Dynamic dimensions (-1 or 0) in the declared shape match
// any size.
func checkShape(declared, want []int64) error {
	if len(declared) != len(want) {
		return errors.Wrapf(ErrShapeMismatch, "rank %d, want %d (%v vs %v)", len(declared), len(want), declared, want)
	}
	for i := range declared {
		if declared[i] <= 0 {
			continue
		}
		if declared[i] != want[i] {
			return errors.Wrapf(ErrShapeMismatch, "dim %d is %d, want %d (%v vs %v)", i, declared[i], want[i], declared, want)
		}
	}
	return nil
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// quantize converts a float tensor holding 0..255 values into uint8.
func quantize(data []float32) []uint8 {
	out := make([]uint8, len(data))
	for i, v := range data {
		switch {
		case v <= 0:
			out[i] = 0
		case v >= 255:
			out[i] = 255
		default:
			out[i] = uint8(v + 0.5)
		}
	}
	return out
}

// dequantize maps uint8 scores into [0,1].
func dequantize(data []uint8) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 255
	}
	return out
}
