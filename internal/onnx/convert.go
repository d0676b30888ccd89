package onnx

import (
	"fmt"

	"github.com/x448/float16"

	"github.com/born-ml/unknowndim/internal/graph"
	"github.com/born-ml/unknowndim/internal/tensor"
)

const (
	// DefaultOpsetVersion is written into converted models. Reshape's
	// allowzero attribute needs at least 14.
	DefaultOpsetVersion = 14

	irVersion = 8
)

// OpsetVersion returns the version of the default operator set, 0 if the
// model does not import it.
func OpsetVersion(mp *ModelProto) int64 {
	for _, opset := range mp.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}

// ToGraph converts a parsed ONNX model into a graph.Model.
//
// Tensor slots are numbered in this order: graph inputs that are not
// initializers, initializers, Constant node outputs, then the remaining node
// outputs in node order. Dimensions without a static value become
// tensor.UnknownDim; a value without shape information has unknown rank.
func ToGraph(mp *ModelProto) (*graph.Model, error) {
	g := mp.Graph
	if g == nil {
		return nil, fmt.Errorf("%w: model has no graph", ErrInvalidModel)
	}

	c := &converter{
		model: &graph.Model{
			Name:     g.Name,
			Producer: producer(mp),
			Format:   graph.FormatONNX,
		},
		index: make(map[string]int),
		infos: make(map[string]*ValueInfoProto),
		opset: OpsetVersion(mp),
		inits: make(map[string]bool),
	}
	for _, list := range [][]ValueInfoProto{g.Inputs, g.Outputs, g.ValueInfo} {
		for i := range list {
			c.infos[list[i].Name] = &list[i]
		}
	}
	for i := range g.Initializers {
		c.inits[g.Initializers[i].Name] = true
	}

	for i := range g.Inputs {
		vi := &g.Inputs[i]
		if c.inits[vi.Name] {
			continue
		}
		t, err := tensorFromValueInfo(vi)
		if err != nil {
			return nil, fmt.Errorf("%w: input %q: %w", ErrInvalidModel, vi.Name, err)
		}
		c.model.Inputs = append(c.model.Inputs, c.add(t))
	}

	for i := range g.Initializers {
		t, err := tensorFromProto(&g.Initializers[i])
		if err != nil {
			return nil, fmt.Errorf("%w: initializer %q: %w", ErrInvalidModel, g.Initializers[i].Name, err)
		}
		c.add(t)
	}

	var nodes []*NodeProto
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.OpType == "Constant" && node.Domain == "" {
			t, err := constantNode(node)
			if err != nil {
				return nil, fmt.Errorf("%w: node %d (%s): %w", ErrInvalidModel, i, node.Name, err)
			}
			c.add(t)
			continue
		}
		nodes = append(nodes, node)
	}

	for _, node := range nodes {
		op, err := c.operator(node)
		if err != nil {
			return nil, fmt.Errorf("%w: node %q (%s): %w", ErrInvalidModel, node.Name, node.OpType, err)
		}
		c.model.Operators = append(c.model.Operators, op)
	}

	for i := range g.Outputs {
		idx, ok := c.index[g.Outputs[i].Name]
		if !ok {
			return nil, fmt.Errorf("%w: output %q is not produced by any node", ErrInvalidModel, g.Outputs[i].Name)
		}
		c.model.Outputs = append(c.model.Outputs, idx)
	}

	return c.model, nil
}

type converter struct {
	model *graph.Model
	index map[string]int // tensor name -> slot
	infos map[string]*ValueInfoProto
	opset int64
	inits map[string]bool
}

func (c *converter) add(t graph.Tensor) int {
	idx := len(c.model.Tensors)
	c.model.Tensors = append(c.model.Tensors, t)
	c.index[t.Name] = idx
	return idx
}

func (c *converter) operator(node *NodeProto) (graph.Operator, error) {
	op := graph.Operator{
		OpType:      node.OpType,
		BuiltinCode: -1,
	}
	if node.Domain != "" && node.Domain != "ai.onnx" {
		op.CustomName = node.Domain + "." + node.OpType
	}

	for _, name := range node.Inputs {
		if name == "" {
			op.Inputs = append(op.Inputs, -1)
			continue
		}
		idx, ok := c.index[name]
		if !ok {
			return op, fmt.Errorf("input %q is not defined before use", name)
		}
		op.Inputs = append(op.Inputs, idx)
	}

	for _, name := range node.Outputs {
		if _, ok := c.index[name]; ok {
			return op, fmt.Errorf("output %q is already defined", name)
		}
		t := graph.Tensor{Name: name, Type: tensor.Float32}
		if len(op.Inputs) > 0 && op.Inputs[0] >= 0 {
			t.Type = c.model.Tensors[op.Inputs[0]].Type
		}
		if vi, ok := c.infos[name]; ok {
			declared, err := tensorFromValueInfo(vi)
			if err != nil {
				return op, fmt.Errorf("output %q: %w", name, err)
			}
			t = declared
		}
		op.Outputs = append(op.Outputs, c.add(t))
	}

	for i := range node.Attributes {
		if attr, ok := attributeFromProto(&node.Attributes[i]); ok {
			op.Attributes = append(op.Attributes, attr)
		}
	}

	// Make ONNX defaults that differ from the kernel defaults explicit.
	switch op.OpType {
	case "Reshape":
		// A 0 in the target copies the input dimension unless allowzero is set.
		if !hasAttr(&op, "allowzero") {
			op.Attributes = append(op.Attributes, graph.Attribute{Name: "allowzero", Int: 0})
		}
	case "Softmax":
		// Before opset 13 Softmax flattens its input to 2-D at axis (default 1).
		if c.opset > 0 && c.opset < 13 {
			if !hasAttr(&op, "axis") {
				op.Attributes = append(op.Attributes, graph.Attribute{Name: "axis", Int: 1})
			}
			op.Attributes = append(op.Attributes, graph.Attribute{Name: "coerce_2d", Int: 1})
		}
	}
	return op, nil
}

func hasAttr(op *graph.Operator, name string) bool {
	for i := range op.Attributes {
		if op.Attributes[i].Name == name {
			return true
		}
	}
	return false
}

func attributeFromProto(a *AttributeProto) (graph.Attribute, bool) {
	attr := graph.Attribute{Name: a.Name}
	switch a.Type {
	case AttributeProtoFloat:
		attr.Float = a.F
	case AttributeProtoInt:
		attr.Int = a.I
	case AttributeProtoString:
		attr.String = string(a.S)
	case AttributeProtoFloats:
		attr.Floats = a.Floats
	case AttributeProtoInts:
		attr.Ints = a.Ints
	default:
		return attr, false
	}
	return attr, true
}

func producer(mp *ModelProto) string {
	if mp.ProducerVersion == "" {
		return mp.ProducerName
	}
	return mp.ProducerName + " " + mp.ProducerVersion
}

// tensorFromValueInfo describes a graph value from its declared type.
func tensorFromValueInfo(vi *ValueInfoProto) (graph.Tensor, error) {
	if vi.Type == nil || vi.Type.TensorType == nil {
		return graph.Tensor{}, fmt.Errorf("only tensor values are supported")
	}
	tt := vi.Type.TensorType
	dtype, err := protoTypeToTensorType(tt.ElemType)
	if err != nil {
		return graph.Tensor{}, err
	}

	t := graph.Tensor{Name: vi.Name, Type: dtype}
	if tt.Shape == nil {
		return t, nil
	}

	declared := make(tensor.Shape, len(tt.Shape.Dims))
	for i, dim := range tt.Shape.Dims {
		declared[i] = tensor.UnknownDim
		if dim.HasDimValue && dim.DimValue >= 0 {
			declared[i] = int(dim.DimValue)
		}
	}
	if declared.IsResolved() {
		t.Shape = declared
		return t, nil
	}

	// Store unknown dimensions as 1 and keep the declared form as the signature.
	t.Signature = declared
	t.Shape = make(tensor.Shape, len(declared))
	for i, dim := range declared {
		t.Shape[i] = max(dim, 1)
	}
	return t, nil
}

// tensorFromProto converts a TensorProto to a constant tensor.
func tensorFromProto(proto *TensorProto) (graph.Tensor, error) {
	shape := make(tensor.Shape, len(proto.Dims))
	for i, dim := range proto.Dims {
		shape[i] = int(dim)
	}

	dtype, err := protoTypeToTensorType(proto.DataType)
	if err != nil {
		return graph.Tensor{}, err
	}

	t, err := tensor.NewRaw(shape, dtype)
	if err != nil {
		return graph.Tensor{}, err
	}

	// Copy data - check which data field is populated (mutually exclusive).
	switch {
	case len(proto.RawData) > 0:
		if len(proto.RawData) != t.ByteSize() {
			return graph.Tensor{}, fmt.Errorf("raw data has %d bytes, %s%v needs %d",
				len(proto.RawData), dtype, shape, t.ByteSize())
		}
		copy(t.Data(), proto.RawData)
	case len(proto.FloatData) > 0:
		err = fillLegacy(t, proto.FloatData, tensor.Float32)
	case len(proto.DoubleData) > 0:
		err = fillLegacy(t, proto.DoubleData, tensor.Float64)
	case len(proto.Int64Data) > 0:
		err = fillLegacy(t, proto.Int64Data, tensor.Int64)
	case len(proto.Int32Data) > 0:
		values := make([]float64, len(proto.Int32Data))
		for i, v := range proto.Int32Data {
			values[i] = float64(v)
		}
		if dtype == tensor.Float16 {
			// float16 values are stored as their bit patterns.
			if len(values) != t.NumElements() {
				return graph.Tensor{}, fmt.Errorf("%d values do not fill shape %v", len(values), shape)
			}
			dst := t.AsFloat16()
			for i, v := range proto.Int32Data {
				dst[i] = float16.Frombits(uint16(v)) //nolint:gosec // G115: low 16 bits hold the value.
			}
			break
		}
		err = t.SetFloat64s(values)
	}
	if err != nil {
		return graph.Tensor{}, err
	}

	return graph.Tensor{
		Name:  proto.Name,
		Type:  dtype,
		Shape: shape,
		Data:  t.Data(),
	}, nil
}

func fillLegacy[T float32 | float64 | int64](t *tensor.RawTensor, values []T, want tensor.DataType) error {
	if t.DType() != want {
		return fmt.Errorf("%s data stored in the %s field", t.DType(), want)
	}
	if len(values) != t.NumElements() {
		return fmt.Errorf("%d values do not fill shape %v", len(values), t.Shape())
	}
	copy(tensor.View[T](t), values)
	return nil
}

// constantNode turns a Constant node into a constant tensor named after its output.
func constantNode(node *NodeProto) (graph.Tensor, error) {
	if len(node.Outputs) != 1 {
		return graph.Tensor{}, fmt.Errorf("constant has %d outputs", len(node.Outputs))
	}
	if len(node.Attributes) != 1 {
		return graph.Tensor{}, fmt.Errorf("constant has %d attributes, want 1", len(node.Attributes))
	}

	a := &node.Attributes[0]
	var (
		t   graph.Tensor
		err error
	)
	switch a.Name {
	case "value":
		if a.T == nil {
			return graph.Tensor{}, fmt.Errorf("constant value has no tensor")
		}
		t, err = tensorFromProto(a.T)
	case "value_float":
		t, err = constantFromSlice([]float32{a.F}, tensor.Shape{})
	case "value_floats":
		t, err = constantFromSlice(a.Floats, tensor.Shape{len(a.Floats)})
	case "value_int":
		t, err = constantFromSlice([]int64{a.I}, tensor.Shape{})
	case "value_ints":
		t, err = constantFromSlice(a.Ints, tensor.Shape{len(a.Ints)})
	default:
		return graph.Tensor{}, fmt.Errorf("unsupported constant attribute %q", a.Name)
	}
	if err != nil {
		return graph.Tensor{}, err
	}
	t.Name = node.Outputs[0]
	return t, nil
}

func constantFromSlice[T tensor.DType](values []T, shape tensor.Shape) (graph.Tensor, error) {
	raw, err := tensor.FromSlice(values, shape)
	if err != nil {
		return graph.Tensor{}, err
	}
	return graph.Tensor{Type: raw.DType(), Shape: raw.Shape(), Data: raw.Data()}, nil
}

// protoTypeToTensorType converts ONNX data type to tensor.DataType.
func protoTypeToTensorType(onnxType int32) (tensor.DataType, error) {
	switch onnxType {
	case TensorProtoFloat:
		return tensor.Float32, nil
	case TensorProtoDouble:
		return tensor.Float64, nil
	case TensorProtoFloat16:
		return tensor.Float16, nil
	case TensorProtoInt32:
		return tensor.Int32, nil
	case TensorProtoInt64:
		return tensor.Int64, nil
	case TensorProtoUint8:
		return tensor.Uint8, nil
	case TensorProtoInt8:
		return tensor.Int8, nil
	case TensorProtoBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported ONNX data type %d", onnxType)
	}
}

// tensorTypeToProtoType converts tensor.DataType to the ONNX data type.
func tensorTypeToProtoType(dt tensor.DataType) (int32, error) {
	switch dt {
	case tensor.Float32:
		return TensorProtoFloat, nil
	case tensor.Float64:
		return TensorProtoDouble, nil
	case tensor.Float16:
		return TensorProtoFloat16, nil
	case tensor.Int32:
		return TensorProtoInt32, nil
	case tensor.Int64:
		return TensorProtoInt64, nil
	case tensor.Uint8:
		return TensorProtoUint8, nil
	case tensor.Int8:
		return TensorProtoInt8, nil
	case tensor.Bool:
		return TensorProtoBool, nil
	default:
		return 0, fmt.Errorf("unsupported data type %s", dt)
	}
}
