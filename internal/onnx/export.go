package onnx

import (
	"fmt"

	"github.com/born-ml/unknowndim/internal/graph"
	"github.com/born-ml/unknowndim/internal/tensor"
)

// FromGraph converts a graph.Model into an ONNX model.
//
// Constant tensors become initializers. Unknown dimensions are written
// without a value and tensors of unknown rank without a shape. Empty or
// repeated tensor names are replaced so that every value is addressable.
func FromGraph(m *graph.Model) (*ModelProto, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}

	names := uniqueNames(m.Tensors)
	g := &GraphProto{Name: m.Name}

	isInput := make(map[int]bool, len(m.Inputs))
	for _, idx := range m.Inputs {
		isInput[idx] = true
	}
	isOutput := make(map[int]bool, len(m.Outputs))
	for _, idx := range m.Outputs {
		isOutput[idx] = true
	}

	for i := range m.Tensors {
		t := &m.Tensors[i]
		if !t.IsConstant() {
			continue
		}
		dtype, err := tensorTypeToProtoType(t.Type)
		if err != nil {
			return nil, fmt.Errorf("tensor %d (%s): %w", i, t.Name, err)
		}
		dims := make([]int64, len(t.Shape))
		for d, dim := range t.Shape {
			dims[d] = int64(dim)
		}
		g.Initializers = append(g.Initializers, TensorProto{
			Name:     names[i],
			DataType: dtype,
			Dims:     dims,
			RawData:  t.Data,
		})
	}

	for _, idx := range m.Inputs {
		vi, err := valueInfo(&m.Tensors[idx], names[idx])
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", idx, err)
		}
		g.Inputs = append(g.Inputs, vi)
	}
	for _, idx := range m.Outputs {
		vi, err := valueInfo(&m.Tensors[idx], names[idx])
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", idx, err)
		}
		g.Outputs = append(g.Outputs, vi)
	}
	for i := range m.Tensors {
		if isInput[i] || isOutput[i] || m.Tensors[i].IsConstant() {
			continue
		}
		vi, err := valueInfo(&m.Tensors[i], names[i])
		if err != nil {
			return nil, fmt.Errorf("tensor %d: %w", i, err)
		}
		g.ValueInfo = append(g.ValueInfo, vi)
	}

	for i := range m.Operators {
		g.Nodes = append(g.Nodes, nodeProto(&m.Operators[i], i, names))
	}

	return &ModelProto{
		IRVersion:    irVersion,
		ProducerName: m.Producer,
		OpsetImport:  []OperatorSetID{{Version: DefaultOpsetVersion}},
		Graph:        g,
	}, nil
}

func uniqueNames(tensors []graph.Tensor) []string {
	names := make([]string, len(tensors))
	seen := make(map[string]bool, len(tensors))
	for i := range tensors {
		name := tensors[i].Name
		if name == "" || seen[name] {
			name = fmt.Sprintf("tensor_%d", i)
		}
		seen[name] = true
		names[i] = name
	}
	return names
}

func valueInfo(t *graph.Tensor, name string) (ValueInfoProto, error) {
	dtype, err := tensorTypeToProtoType(t.Type)
	if err != nil {
		return ValueInfoProto{}, err
	}
	tt := &TensorTypeProto{ElemType: dtype}
	if declared := t.DeclaredShape(); declared != nil {
		tt.Shape = &TensorShapeProto{Dims: make([]DimensionProto, len(declared))}
		for i, dim := range declared {
			if dim != tensor.UnknownDim {
				tt.Shape.Dims[i] = DimensionProto{DimValue: int64(dim), HasDimValue: true}
			}
		}
	}
	return ValueInfoProto{Name: name, Type: &TypeProto{TensorType: tt}}, nil
}

func nodeProto(op *graph.Operator, index int, names []string) NodeProto {
	node := NodeProto{
		Name:   fmt.Sprintf("%s_%d", op.OpType, index),
		OpType: op.OpType,
	}
	for _, idx := range op.Inputs {
		if idx < 0 {
			node.Inputs = append(node.Inputs, "")
			continue
		}
		node.Inputs = append(node.Inputs, names[idx])
	}
	for _, idx := range op.Outputs {
		node.Outputs = append(node.Outputs, names[idx])
	}
	for _, attr := range op.Attributes {
		node.Attributes = append(node.Attributes, attributeProto(attr))
	}
	// Reshape kernels treat a 0 in the target literally unless told otherwise.
	if op.OpType == "Reshape" && !hasAttr(op, "allowzero") {
		node.Attributes = append(node.Attributes, AttributeProto{
			Name: "allowzero", Type: AttributeProtoInt, I: 1,
		})
	}
	return node
}

// attributeProto picks the attribute type from the populated field.
func attributeProto(attr graph.Attribute) AttributeProto {
	a := AttributeProto{Name: attr.Name}
	switch {
	case attr.Ints != nil:
		a.Type, a.Ints = AttributeProtoInts, attr.Ints
	case attr.Floats != nil:
		a.Type, a.Floats = AttributeProtoFloats, attr.Floats
	case attr.String != "":
		a.Type, a.S = AttributeProtoString, []byte(attr.String)
	case attr.Float != 0:
		a.Type, a.F = AttributeProtoFloat, attr.Float
	default:
		a.Type, a.I = AttributeProtoInt, attr.Int
	}
	return a
}
