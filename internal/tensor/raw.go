package tensor

import (
	"fmt"
	"unsafe"

	"github.com/x448/float16"
)

// RawTensor is the low-level tensor representation: an owned byte buffer
// interpreted according to a shape and an element type.
type RawTensor struct {
	data  []byte   // Backing storage, row-major
	shape Shape    // Tensor dimensions
	dtype DataType // Runtime type information
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is zero-initialized.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("invalid data type: %d", dtype)
	}
	size, err := shape.ByteSize(dtype)
	if err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:  make([]byte, size),
		shape: shape.Clone(),
		dtype: dtype,
	}, nil
}

// FromBytes creates a RawTensor holding a copy of data.
// The length of data must match the shape and type exactly.
func FromBytes(shape Shape, dtype DataType, data []byte) (*RawTensor, error) {
	t, err := NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}
	if len(data) != len(t.data) {
		return nil, fmt.Errorf("data length %d does not match %s%v (%d bytes)", len(data), dtype, shape, len(t.data))
	}
	copy(t.data, data)
	return t, nil
}

// FromSlice creates a RawTensor from typed values.
func FromSlice[T DType](values []T, shape Shape) (*RawTensor, error) {
	t, err := NewRaw(shape, inferDataType[T]())
	if err != nil {
		return nil, err
	}
	if len(values) != t.NumElements() {
		return nil, fmt.Errorf("%d values do not fill shape %v", len(values), shape)
	}
	copy(View[T](t), values)
	return t, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return len(r.data)
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.data
}

// View interprets the data as []T without copying.
// Panics if T does not match the tensor's dtype.
func View[T DType](r *RawTensor) []T {
	if want := inferDataType[T](); r.dtype != want {
		panic(fmt.Sprintf("tensor dtype is %s, not %s", r.dtype, want))
	}
	if len(r.data) == 0 {
		return []T{}
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*T)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	return View[float32](r)
}

// AsFloat16 interprets the data as []float16.Float16.
// Panics if the tensor's dtype is not Float16.
func (r *RawTensor) AsFloat16() []float16.Float16 {
	return View[float16.Float16](r)
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	return View[float64](r)
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	return View[int32](r)
}

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (r *RawTensor) AsInt64() []int64 {
	return View[int64](r)
}

// AsUint8 interprets the data as []uint8.
// Panics if the tensor's dtype is not Uint8.
func (r *RawTensor) AsUint8() []uint8 {
	return View[uint8](r)
}

// AsInt8 interprets the data as []int8.
// Panics if the tensor's dtype is not Int8.
func (r *RawTensor) AsInt8() []int8 {
	return View[int8](r)
}

// AsBool interprets the data as []bool.
// Panics if the tensor's dtype is not Bool.
func (r *RawTensor) AsBool() []bool {
	return View[bool](r)
}

// Float64s returns a converted copy of the elements as float64.
// Bool elements become 0 or 1.
func (r *RawTensor) Float64s() []float64 {
	out := make([]float64, r.NumElements())
	switch r.dtype {
	case Float32:
		for i, v := range r.AsFloat32() {
			out[i] = float64(v)
		}
	case Float16:
		for i, v := range r.AsFloat16() {
			out[i] = float64(v.Float32())
		}
	case Float64:
		copy(out, r.AsFloat64())
	case Int32:
		for i, v := range r.AsInt32() {
			out[i] = float64(v)
		}
	case Int64:
		for i, v := range r.AsInt64() {
			out[i] = float64(v)
		}
	case Uint8:
		for i, v := range r.AsUint8() {
			out[i] = float64(v)
		}
	case Int8:
		for i, v := range r.AsInt8() {
			out[i] = float64(v)
		}
	case Bool:
		for i, v := range r.AsBool() {
			if v {
				out[i] = 1
			}
		}
	}
	return out
}

// SetFloat64s converts values to the tensor's dtype and stores them.
// Integer types truncate toward zero.
func (r *RawTensor) SetFloat64s(values []float64) error {
	if len(values) != r.NumElements() {
		return fmt.Errorf("got %d values for %d elements of shape %v", len(values), r.NumElements(), r.shape)
	}
	switch r.dtype {
	case Float32:
		dst := r.AsFloat32()
		for i, v := range values {
			dst[i] = float32(v)
		}
	case Float16:
		dst := r.AsFloat16()
		for i, v := range values {
			dst[i] = float16.Fromfloat32(float32(v))
		}
	case Float64:
		copy(r.AsFloat64(), values)
	case Int32:
		dst := r.AsInt32()
		for i, v := range values {
			dst[i] = int32(v)
		}
	case Int64:
		dst := r.AsInt64()
		for i, v := range values {
			dst[i] = int64(v)
		}
	case Uint8:
		dst := r.AsUint8()
		for i, v := range values {
			dst[i] = uint8(v)
		}
	case Int8:
		dst := r.AsInt8()
		for i, v := range values {
			dst[i] = int8(v)
		}
	case Bool:
		dst := r.AsBool()
		for i, v := range values {
			dst[i] = v != 0
		}
	default:
		return fmt.Errorf("unsupported dtype %s", r.dtype)
	}
	return nil
}

// Ints returns integer elements as []int. Only Int32 and Int64 are accepted.
func (r *RawTensor) Ints() ([]int, error) {
	switch r.dtype {
	case Int32:
		src := r.AsInt32()
		out := make([]int, len(src))
		for i, v := range src {
			out[i] = int(v)
		}
		return out, nil
	case Int64:
		src := r.AsInt64()
		out := make([]int, len(src))
		for i, v := range src {
			out[i] = int(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected int32 or int64 tensor, got %s", r.dtype)
	}
}
