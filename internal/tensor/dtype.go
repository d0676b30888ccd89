// Package tensor provides the tensor buffers, shapes and element types used by the interpreter.
package tensor

import "github.com/x448/float16"

// DType is a constraint for element types with a native Go representation.
type DType interface {
	~float32 | ~float64 | ~int32 | ~int64 | ~uint8 | ~int8 | ~bool | float16.Float16
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors.
const (
	Float32 DataType = iota
	Float64
	Int32
	Int64
	Uint8
	Bool
	Float16
	Int8
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Float16:
		return 2
	case Uint8, Int8, Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// Valid reports whether dt is one of the supported data types.
func (dt DataType) Valid() bool {
	return dt >= Float32 && dt <= Int8
}

// IsFloat reports whether dt holds floating point values.
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float64 || dt == Float16
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	case Float16:
		return "float16"
	case Int8:
		return "int8"
	default:
		return "unknown"
	}
}

// ParseDataType returns the DataType with the given name.
func ParseDataType(name string) (DataType, bool) {
	for dt := Float32; dt <= Int8; dt++ {
		if dt.String() == name {
			return dt, true
		}
	}
	return 0, false
}

// inferDataType infers DataType from a generic type T.
func inferDataType[T DType]() DataType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case int8:
		return Int8
	case bool:
		return Bool
	case float16.Float16:
		return Float16
	default:
		panic("unsupported type")
	}
}

// DataTypeOf returns the DataType matching T.
func DataTypeOf[T DType]() DataType {
	return inferDataType[T]()
}
