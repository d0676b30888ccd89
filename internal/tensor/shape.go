package tensor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// UnknownDim marks a dimension whose size is not fixed until runtime.
const UnknownDim = -1

// MaxTensorBytes bounds the storage of a single tensor.
const MaxTensorBytes = 1 << 30

// ErrTooLarge is returned for shapes whose storage would exceed MaxTensorBytes.
var ErrTooLarge = errors.New("tensor too large")

// Shape represents the dimensions of a tensor.
// An empty shape is a scalar; a dimension equal to UnknownDim is unresolved.
type Shape []int

// IsResolved reports whether every dimension has a concrete size.
func (s Shape) IsResolved() bool {
	for _, dim := range s {
		if dim < 0 {
			return false
		}
	}
	return true
}

// NumElements returns the total number of elements in the tensor.
// The result is meaningless for unresolved shapes.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// NumElementsChecked is NumElements for shapes read from untrusted input:
// unresolved dimensions are an error and the product must fit in an int.
func (s Shape) NumElementsChecked() (int, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	for _, dim := range s {
		if dim == 0 {
			return 0, nil
		}
	}
	n := 1
	for _, dim := range s {
		if n > math.MaxInt/dim {
			return 0, fmt.Errorf("%w: element count of %v overflows", ErrTooLarge, s)
		}
		n *= dim
	}
	return n, nil
}

// ByteSize returns the storage size of a tensor of this shape and type.
// It fails with ErrTooLarge above MaxTensorBytes.
func (s Shape) ByteSize(dtype DataType) (int, error) {
	if !dtype.Valid() {
		return 0, fmt.Errorf("invalid data type: %d", dtype)
	}
	n, err := s.NumElementsChecked()
	if err != nil {
		return 0, err
	}
	size := dtype.Size()
	if n > MaxTensorBytes/size {
		return 0, fmt.Errorf("%w: %s%v needs more than %d bytes", ErrTooLarge, dtype, s, MaxTensorBytes)
	}
	return n * size, nil
}

// Validate checks that every dimension is a concrete, non-negative size.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim < 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be >= 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape. Clone of nil is an empty, non-nil shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// String formats the shape as [d0,d1,...].
func (s Shape) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, dim := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(dim))
	}
	b.WriteByte(']')
	return b.String()
}

// ComputeStrides calculates row-major strides for the shape.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// BroadcastShapes implements NumPy-style broadcasting rules.
//
// Rules:
// 1. Compare shapes element-wise from right to left
// 2. Dimensions are compatible if:
//   - They are equal, OR
//   - One of them is 1
//
// 3. Missing dimensions are treated as 1
//
// Returns the broadcasted shape, a flag indicating if broadcasting is needed, and an error if incompatible.
//
// Examples:
//
//	(3, 1) + (3, 5) → (3, 5), true, nil
//	(1, 5) + (3, 5) → (3, 5), true, nil
//	(3, 5) + (3, 5) → (3, 5), false, nil
//	(3, 4) + (3, 5) → nil, false, Error
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	maxLen := max(len(a), len(b))
	result := make(Shape, maxLen)
	needsBroadcast := len(a) != len(b)

	for i := 0; i < maxLen; i++ {
		aIdx := len(a) - 1 - i
		bIdx := len(b) - 1 - i

		aDim := 1
		if aIdx >= 0 {
			aDim = a[aIdx]
		}

		bDim := 1
		if bIdx >= 0 {
			bDim = b[bIdx]
		}

		switch {
		case aDim == bDim:
			result[maxLen-1-i] = aDim
		case aDim == 1:
			result[maxLen-1-i] = bDim
			needsBroadcast = true
		case bDim == 1:
			result[maxLen-1-i] = aDim
			needsBroadcast = true
		default:
			return nil, false, fmt.Errorf("shapes not compatible for broadcasting: %v vs %v (dimension %d: %d vs %d)",
				a, b, maxLen-1-i, aDim, bDim)
		}
	}

	return result, needsBroadcast, nil
}

// BroadcastIndex maps a flat index into the broadcast result shape back to
// the flat index of an operand with shape src.
func BroadcastIndex(flat int, result, src Shape) int {
	srcStrides := src.ComputeStrides()
	offset := len(result) - len(src)
	idx := 0
	for d := len(result) - 1; d >= 0; d-- {
		coord := flat % result[d]
		flat /= result[d]
		sd := d - offset
		if sd < 0 {
			continue
		}
		if src[sd] != 1 {
			idx += coord * srcStrides[sd]
		}
	}
	return idx
}
