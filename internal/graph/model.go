// Package graph holds the format-neutral description of an inference graph.
//
// Loaders for the supported file formats (TFLite, ONNX) decode into a Model;
// the interpreter builds its execution plan from one. A Model is never
// mutated after it has been loaded.
package graph

import (
	"fmt"

	"github.com/born-ml/unknowndim/internal/tensor"
)

// Format identifies the serialized form a Model was read from.
type Format int

// Supported model formats.
const (
	FormatUnknown Format = iota
	FormatTFLite
	FormatONNX
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatTFLite:
		return "TFLite"
	case FormatONNX:
		return "ONNX"
	default:
		return "Unknown"
	}
}

// Model is an immutable computation graph.
type Model struct {
	Name      string
	Producer  string
	Format    Format
	Tensors   []Tensor
	Operators []Operator
	Inputs    []int // Graph input tensor indices
	Outputs   []int // Graph output tensor indices
}

// Tensor describes one tensor of the graph.
type Tensor struct {
	Name string
	Type tensor.DataType

	// Shape is the stored shape. Signature, when set, is the declared shape
	// and may contain tensor.UnknownDim; Shape then holds whatever the
	// producer wrote (often empty).
	Shape     tensor.Shape
	Signature tensor.Shape

	// Data is the constant content, nil for runtime tensors.
	Data []byte

	Quantization Quantization
}

// Quantization carries affine quantization parameters.
// They are kept for inspection only; no kernel applies them.
type Quantization struct {
	Scale     []float32
	ZeroPoint []int64
}

// DeclaredShape returns the shape the tensor was declared with, unknown
// dimensions included.
func (t *Tensor) DeclaredShape() tensor.Shape {
	if t.Signature != nil {
		return t.Signature
	}
	return t.Shape
}

// IsConstant reports whether the tensor has constant data.
func (t *Tensor) IsConstant() bool {
	return t.Data != nil
}

// Operator is a single node of the graph.
type Operator struct {
	OpType      string // Canonical operator type, e.g. "Reshape"
	BuiltinCode int32  // Format-specific opcode, -1 when not applicable
	CustomName  string
	Inputs      []int // Tensor indices; -1 marks an omitted optional input
	Outputs     []int
	Attributes  []Attribute
}

// Attribute is a named operator option.
type Attribute struct {
	Name   string
	Int    int64
	Float  float32
	Ints   []int64
	Floats []float32
	String string
}

// AttrInt returns an integer attribute or the default value.
func (o *Operator) AttrInt(name string, defaultVal int64) int64 {
	for i := range o.Attributes {
		if o.Attributes[i].Name == name {
			return o.Attributes[i].Int
		}
	}
	return defaultVal
}

// AttrInts returns an integer array attribute.
func (o *Operator) AttrInts(name string) ([]int64, bool) {
	for i := range o.Attributes {
		if o.Attributes[i].Name == name {
			return o.Attributes[i].Ints, true
		}
	}
	return nil, false
}

// AttrFloat returns a float attribute or the default value.
func (o *Operator) AttrFloat(name string, defaultVal float32) float32 {
	for i := range o.Attributes {
		if o.Attributes[i].Name == name {
			return o.Attributes[i].Float
		}
	}
	return defaultVal
}

// Validate checks that every index refers to an existing tensor, that
// every tensor is produced at most once and that constant data fills its
// shape exactly.
func (m *Model) Validate() error {
	n := len(m.Tensors)
	checkIndex := func(what string, idx int, optional bool) error {
		if optional && idx == -1 {
			return nil
		}
		if idx < 0 || idx >= n {
			return fmt.Errorf("%s references tensor %d, model has %d tensors", what, idx, n)
		}
		return nil
	}

	for _, idx := range m.Inputs {
		if err := checkIndex("graph input", idx, false); err != nil {
			return err
		}
	}
	for _, idx := range m.Outputs {
		if err := checkIndex("graph output", idx, false); err != nil {
			return err
		}
	}

	producer := make(map[int]int)
	for i := range m.Operators {
		op := &m.Operators[i]
		what := fmt.Sprintf("operator %d (%s)", i, op.OpType)
		for _, idx := range op.Inputs {
			if err := checkIndex(what+" input", idx, true); err != nil {
				return err
			}
		}
		for _, idx := range op.Outputs {
			if err := checkIndex(what+" output", idx, false); err != nil {
				return err
			}
			if prev, ok := producer[idx]; ok {
				return fmt.Errorf("tensor %d is produced by operators %d and %d", idx, prev, i)
			}
			if m.Tensors[idx].IsConstant() {
				return fmt.Errorf("%s writes constant tensor %d", what, idx)
			}
			producer[idx] = i
		}
	}

	for i := range m.Tensors {
		t := &m.Tensors[i]
		if !t.Type.Valid() {
			return fmt.Errorf("tensor %d (%s) has invalid type %d", i, t.Name, t.Type)
		}
		if t.IsConstant() {
			size, err := t.Shape.ByteSize(t.Type)
			if err != nil {
				return fmt.Errorf("constant tensor %d (%s): %w", i, t.Name, err)
			}
			if len(t.Data) != size {
				return fmt.Errorf("constant tensor %d (%s) has %d bytes of data, %s%v needs %d",
					i, t.Name, len(t.Data), t.Type, t.Shape, size)
			}
		}
	}
	return nil
}
