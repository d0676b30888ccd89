package interp

import (
	"fmt"

	"github.com/born-ml/unknowndim/internal/graph"
	"github.com/born-ml/unknowndim/internal/tensor"
)

// TensorInfo is a read-only snapshot of a tensor slot.
type TensorInfo struct {
	Index        int
	Name         string
	Type         tensor.DataType
	Shape        tensor.Shape // nil while the rank is unknown
	Kind         SlotKind
	Dynamic      bool
	Allocated    bool
	Bytes        int
	Quantization graph.Quantization
}

// Resolved reports whether the shape has a known rank and concrete dims.
func (ti TensorInfo) Resolved() bool {
	return ti.Shape != nil && ti.Shape.IsResolved()
}

func (s *slot) info() TensorInfo {
	ti := TensorInfo{
		Index:        s.index,
		Name:         s.name,
		Type:         s.dtype,
		Kind:         s.kind,
		Dynamic:      s.dynamic,
		Allocated:    s.raw != nil,
		Quantization: s.quantization,
	}
	if s.shape != nil {
		ti.Shape = s.shape.Clone()
	}
	if s.raw != nil {
		ti.Bytes = s.raw.ByteSize()
	}
	return ti
}

// SetTensorParameters declares the element type, name, shape and
// quantization of the slot at index. It only rewrites metadata; buffers are
// left untouched, but a previously allocated plan must be allocated again
// before Invoke. An empty name keeps the current name.
func (it *Interpreter) SetTensorParameters(index int, dtype tensor.DataType, name string,
	shape tensor.Shape, quant graph.Quantization) error {
	s, err := it.slot(index)
	if err != nil {
		return err
	}
	if s.isConstant() {
		return fmt.Errorf("%w: tensor %d (%s) is a constant", ErrReadOnly, index, s.name)
	}
	if !dtype.Valid() {
		return fmt.Errorf("%w: tensor %d: unknown data type %d", ErrTypeMismatch, index, dtype)
	}
	if shape == nil {
		shape = tensor.Shape{}
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("%w: tensor %d: %w", ErrInvalidShape, index, err)
	}

	s.dtype = dtype
	if name != "" {
		s.name = name
	}
	s.shape = shape.Clone()
	s.quantization = quant
	s.dynamic = false

	if it.allocated {
		it.log.V(1).Info("tensor parameters changed after allocation, re-allocation required", "index", index)
		it.allocated = false
	}
	return nil
}

// Tensor returns a snapshot of the slot at index.
func (it *Interpreter) Tensor(index int) (TensorInfo, error) {
	s, err := it.slot(index)
	if err != nil {
		return TensorInfo{}, err
	}
	return s.info(), nil
}

// Tensors returns snapshots of every slot in index order.
func (it *Interpreter) Tensors() []TensorInfo {
	infos := make([]TensorInfo, len(it.slots))
	for i, s := range it.slots {
		infos[i] = s.info()
	}
	return infos
}

// NodeInfo is a read-only description of a node.
type NodeInfo struct {
	Index       int
	OpType      string
	BuiltinCode int32
	CustomName  string
	Inputs      []int
	Outputs     []int
}

// Nodes returns every node in model order.
func (it *Interpreter) Nodes() []NodeInfo {
	infos := make([]NodeInfo, len(it.nodes))
	for i, n := range it.nodes {
		infos[i] = NodeInfo{
			Index:       n.Index,
			OpType:      n.OpType,
			BuiltinCode: n.BuiltinCode,
			CustomName:  n.CustomName,
			Inputs:      append([]int(nil), n.Inputs...),
			Outputs:     append([]int(nil), n.Outputs...),
		}
	}
	return infos
}

// ExecutionOrder returns node indices in the order Invoke runs them.
func (it *Interpreter) ExecutionOrder() []int {
	order := make([]int, len(it.order))
	for i, n := range it.order {
		order[i] = n.Index
	}
	return order
}

// raw returns the buffer of an allocated slot.
func (it *Interpreter) raw(index int) (*slot, *tensor.RawTensor, error) {
	s, err := it.slot(index)
	if err != nil {
		return nil, nil, err
	}
	if s.isConstant() {
		return s, s.raw, nil
	}
	if !it.allocated || s.raw == nil {
		return nil, nil, fmt.Errorf("%w: tensor %d (%s) has no storage, call AllocateTensors first",
			ErrAllocation, index, s.name)
	}
	return s, s.raw, nil
}

// TypedTensor returns a zero-copy view of the slot's buffer as []T.
func TypedTensor[T tensor.DType](it *Interpreter, index int) ([]T, error) {
	s, raw, err := it.raw(index)
	if err != nil {
		return nil, err
	}
	if want := tensor.DataTypeOf[T](); s.dtype != want {
		return nil, fmt.Errorf("%w: tensor %d (%s) is %s, not %s", ErrTypeMismatch, index, s.name, s.dtype, want)
	}
	return tensor.View[T](raw), nil
}

// ReadFloat64s returns the slot's values converted to float64.
func (it *Interpreter) ReadFloat64s(index int) ([]float64, error) {
	_, raw, err := it.raw(index)
	if err != nil {
		return nil, err
	}
	return raw.Float64s(), nil
}

// WriteFloat64s converts values to the slot's type and stores them.
// The number of values must match the slot's element count.
func (it *Interpreter) WriteFloat64s(index int, values []float64) error {
	s, raw, err := it.raw(index)
	if err != nil {
		return err
	}
	if s.isConstant() {
		return fmt.Errorf("%w: tensor %d (%s) is a constant", ErrReadOnly, index, s.name)
	}
	if err := raw.SetFloat64s(values); err != nil {
		return fmt.Errorf("%w: tensor %d (%s): %w", ErrInvalidShape, index, s.name, err)
	}
	return nil
}
