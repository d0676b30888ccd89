package tflite

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/born-ml/unknowndim/internal/graph"
	"github.com/born-ml/unknowndim/internal/tensor"
)

// table wraps a flatbuffer table with slot-based accessors.
type table struct {
	flatbuffers.Table
}

func (t *table) field(slot int) flatbuffers.UOffsetT {
	return flatbuffers.UOffsetT(t.Offset(flatbuffers.VOffsetT(4 + 2*slot)))
}

func (t *table) int8Field(slot int, def int8) int8 {
	if o := t.field(slot); o != 0 {
		return t.GetInt8(o + t.Pos)
	}
	return def
}

func (t *table) uint8Field(slot int, def uint8) uint8 {
	if o := t.field(slot); o != 0 {
		return t.GetUint8(o + t.Pos)
	}
	return def
}

func (t *table) int32Field(slot int, def int32) int32 {
	if o := t.field(slot); o != 0 {
		return t.GetInt32(o + t.Pos)
	}
	return def
}

func (t *table) uint32Field(slot int, def uint32) uint32 {
	if o := t.field(slot); o != 0 {
		return t.GetUint32(o + t.Pos)
	}
	return def
}

func (t *table) float32Field(slot int, def float32) float32 {
	if o := t.field(slot); o != 0 {
		return t.GetFloat32(o + t.Pos)
	}
	return def
}

func (t *table) has(slot int) bool {
	return t.field(slot) != 0
}

func (t *table) stringField(slot int) string {
	if o := t.field(slot); o != 0 {
		return string(t.ByteVector(o + t.Pos))
	}
	return ""
}

func (t *table) bytesField(slot int) []byte {
	if o := t.field(slot); o != 0 {
		return t.ByteVector(o + t.Pos)
	}
	return nil
}

func (t *table) int32Vector(slot int) []int32 {
	o := t.field(slot)
	if o == 0 {
		return nil
	}
	start, n := t.Vector(o), t.VectorLen(o)
	values := make([]int32, n)
	for i := range values {
		values[i] = t.GetInt32(start + flatbuffers.UOffsetT(i*flatbuffers.SizeInt32))
	}
	return values
}

func (t *table) int64Vector(slot int) []int64 {
	o := t.field(slot)
	if o == 0 {
		return nil
	}
	start, n := t.Vector(o), t.VectorLen(o)
	values := make([]int64, n)
	for i := range values {
		values[i] = t.GetInt64(start + flatbuffers.UOffsetT(i*flatbuffers.SizeInt64))
	}
	return values
}

func (t *table) float32Vector(slot int) []float32 {
	o := t.field(slot)
	if o == 0 {
		return nil
	}
	start, n := t.Vector(o), t.VectorLen(o)
	values := make([]float32, n)
	for i := range values {
		values[i] = t.GetFloat32(start + flatbuffers.UOffsetT(i*flatbuffers.SizeFloat32))
	}
	return values
}

func (t *table) tableVector(slot int) []table {
	o := t.field(slot)
	if o == 0 {
		return nil
	}
	start, n := t.Vector(o), t.VectorLen(o)
	result := make([]table, n)
	for i := range result {
		x := start + flatbuffers.UOffsetT(i*flatbuffers.SizeUOffsetT)
		result[i] = table{flatbuffers.Table{Bytes: t.Bytes, Pos: t.Indirect(x)}}
	}
	return result
}

func (t *table) childTable(slot int) (table, bool) {
	o := t.field(slot)
	if o == 0 {
		return table{}, false
	}
	return table{flatbuffers.Table{Bytes: t.Bytes, Pos: t.Indirect(o + t.Pos)}}, true
}

func (t *table) unionTable(slot int) (table, bool) {
	o := t.field(slot)
	if o == 0 {
		return table{}, false
	}
	var u table
	t.Union(&u.Table, o)
	return u, true
}

// HasIdentifier reports whether data carries the TFLite file identifier.
func HasIdentifier(data []byte) bool {
	return len(data) >= 8 && string(data[4:8]) == FileIdentifier
}

// Read decodes the main subgraph of a TFLite model.
func Read(data []byte) (m *graph.Model, err error) {
	if !HasIdentifier(data) {
		return nil, fmt.Errorf("%w: missing %q file identifier", ErrInvalidModel, FileIdentifier)
	}

	// Offsets in a corrupt buffer point anywhere; the accessors panic on
	// out-of-range reads.
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("%w: malformed flatbuffer: %v", ErrInvalidModel, r)
		}
	}()

	root := table{flatbuffers.Table{Bytes: data, Pos: flatbuffers.GetUOffsetT(data)}}

	subgraphs := root.tableVector(modelSubgraphs)
	if len(subgraphs) == 0 {
		return nil, fmt.Errorf("%w: model has no subgraphs", ErrInvalidModel)
	}
	sg := subgraphs[0]

	buffers := root.tableVector(modelBuffers)
	opcodes := root.tableVector(modelOperatorCodes)

	m = &graph.Model{
		Name:     sg.stringField(subgraphName),
		Producer: root.stringField(modelDescription),
		Format:   graph.FormatTFLite,
		Inputs:   toInts(sg.int32Vector(subgraphInputs)),
		Outputs:  toInts(sg.int32Vector(subgraphOutputs)),
	}

	for i, tt := range sg.tableVector(subgraphTensors) {
		t, err := readTensor(&tt, buffers)
		if err != nil {
			return nil, fmt.Errorf("%w: tensor %d: %w", ErrInvalidModel, i, err)
		}
		m.Tensors = append(m.Tensors, t)
	}

	for i, ot := range sg.tableVector(subgraphOperators) {
		op, err := readOperator(&ot, opcodes)
		if err != nil {
			return nil, fmt.Errorf("%w: operator %d: %w", ErrInvalidModel, i, err)
		}
		m.Operators = append(m.Operators, op)
	}

	return m, nil
}

func readTensor(tt *table, buffers []table) (graph.Tensor, error) {
	dtype, err := fromTensorType(tt.int8Field(tensorType, typeFloat32))
	if err != nil {
		return graph.Tensor{}, err
	}

	t := graph.Tensor{
		Name:  tt.stringField(tensorName),
		Type:  dtype,
		Shape: toShape(tt.int32Vector(tensorShape)),
	}
	if tt.has(tensorShapeSignature) {
		t.Signature = toShape(tt.int32Vector(tensorShapeSignature))
	}

	if idx := int(tt.uint32Field(tensorBuffer, 0)); idx > 0 {
		if idx >= len(buffers) {
			return graph.Tensor{}, fmt.Errorf("buffer %d out of range (%d buffers)", idx, len(buffers))
		}
		if data := buffers[idx].bytesField(bufferData); len(data) > 0 {
			t.Data = append([]byte(nil), data...)
		}
	}

	if q, ok := tt.childTable(tensorQuantization); ok {
		t.Quantization = graph.Quantization{
			Scale:     q.float32Vector(quantScale),
			ZeroPoint: q.int64Vector(quantZeroPoint),
		}
	}
	return t, nil
}

func readOperator(ot *table, opcodes []table) (graph.Operator, error) {
	idx := int(ot.uint32Field(operatorOpcodeIndex, 0))
	if idx >= len(opcodes) {
		return graph.Operator{}, fmt.Errorf("opcode index %d out of range (%d codes)", idx, len(opcodes))
	}
	oc := opcodes[idx]

	// Newer files store the code in builtin_code and leave the deprecated
	// int8 field at the placeholder; older files only have the int8 field.
	code := max(int32(oc.int8Field(opcodeDeprecatedBuiltin, 0)), oc.int32Field(opcodeBuiltin, 0))

	op := graph.Operator{
		OpType:      OpType(code),
		BuiltinCode: code,
		Inputs:      toInts(ot.int32Vector(operatorInputs)),
		Outputs:     toInts(ot.int32Vector(operatorOutputs)),
	}
	if custom := oc.stringField(opcodeCustomCode); custom != "" {
		op.OpType = custom
		op.CustomName = custom
		op.BuiltinCode = -1
		return op, nil
	}

	optType := ot.uint8Field(operatorBuiltinOptionsType, optionsNone)
	if optType == optionsNone {
		return op, nil
	}
	opts, ok := ot.unionTable(operatorBuiltinOptions)
	if !ok {
		return op, nil
	}

	switch optType {
	case optionsReshape:
		if opts.has(0) {
			op.Attributes = append(op.Attributes, graph.Attribute{
				Name: "new_shape",
				Ints: toInt64s(opts.int32Vector(0)),
			})
		}
	case optionsSoftmax:
		op.Attributes = append(op.Attributes, graph.Attribute{
			Name:  "beta",
			Float: opts.float32Field(0, 0),
		})
	case optionsAdd, optionsSub, optionsMul, optionsDiv:
		if act := opts.int8Field(0, 0); act != 0 {
			op.Attributes = append(op.Attributes, graph.Attribute{
				Name: "fused_activation",
				Int:  int64(act),
			})
		}
	}
	return op, nil
}

func toInts(values []int32) []int {
	if values == nil {
		return nil
	}
	ints := make([]int, len(values))
	for i, v := range values {
		ints[i] = int(v)
	}
	return ints
}

func toInt64s(values []int32) []int64 {
	ints := make([]int64, len(values))
	for i, v := range values {
		ints[i] = int64(v)
	}
	return ints
}

func toShape(values []int32) tensor.Shape {
	shape := make(tensor.Shape, len(values))
	for i, v := range values {
		shape[i] = int(v)
	}
	return shape
}
