package model

import (
	"encoding/binary"
	"math"
)

// Tensor is a fixed-shape, row-major float32 array.
//
// Quantized (uint8) models still exchange Tensors: values are kept in the
// 0..255 range and the runtime casts them at the boundary.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape ...int64) Tensor {
	return Tensor{Shape: append([]int64(nil), shape...), Data: make([]float32, ShapeSize(shape))}
}

// ShapeSize returns the element count of shape. Non-positive dims count as zero.
func ShapeSize(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		if d <= 0 {
			return 0
		}
		n *= d
	}
	return int(n)
}

// Len returns the number of elements.
func (t Tensor) Len() int { return len(t.Data) }

// Valid reports whether Data matches Shape.
func (t Tensor) Valid() bool {
	return len(t.Data) > 0 && ShapeSize(t.Shape) == len(t.Data)
}

// Bytes returns the canonical encoding: rank, dims, then data, all little-endian.
// Two tensors are equal iff their Bytes are equal.
func (t Tensor) Bytes() []byte {
	buf := make([]byte, 0, 8+8*len(t.Shape)+4*len(t.Data))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(t.Shape)))
	for _, d := range t.Shape {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(d))
	}
	for _, v := range t.Data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

// Clone returns a deep copy.
func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: append([]int64(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}
