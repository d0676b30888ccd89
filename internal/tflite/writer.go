package tflite

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/born-ml/unknowndim/internal/graph"
)

// builtinCustom is the builtin code of operators identified by custom_code.
const builtinCustom int32 = 32

// binaryOptions maps element-wise builtins to their options union type.
var binaryOptions = map[int32]uint8{
	BuiltinAdd: optionsAdd,
	BuiltinSub: optionsSub,
	BuiltinMul: optionsMul,
	BuiltinDiv: optionsDiv,
}

type opcodeKey struct {
	code   int32
	custom string
}

// Write encodes m as a single-subgraph TFLite model.
//
// A nil tensor shape (unknown rank) is stored as an empty shape. Operators
// that are neither builtins nor carry a builtin code are stored as custom
// operators named after their type.
func Write(m *graph.Model) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}

	b := flatbuffers.NewBuilder(1024)

	// Buffer 0 is the conventional empty buffer.
	bufferOffsets := []flatbuffers.UOffsetT{writeBuffer(b, nil)}
	tensorBuffers := make([]uint32, len(m.Tensors))
	for i := range m.Tensors {
		if m.Tensors[i].IsConstant() {
			tensorBuffers[i] = uint32(len(bufferOffsets))
			bufferOffsets = append(bufferOffsets, writeBuffer(b, m.Tensors[i].Data))
		}
	}

	tensorOffsets := make([]flatbuffers.UOffsetT, len(m.Tensors))
	for i := range m.Tensors {
		off, err := writeTensor(b, &m.Tensors[i], tensorBuffers[i])
		if err != nil {
			return nil, fmt.Errorf("tensor %d (%s): %w", i, m.Tensors[i].Name, err)
		}
		tensorOffsets[i] = off
	}

	var opcodes []opcodeKey
	opcodeIndex := make(map[opcodeKey]uint32)
	operatorOffsets := make([]flatbuffers.UOffsetT, len(m.Operators))
	for i := range m.Operators {
		op := &m.Operators[i]
		key := operatorCode(op)
		idx, ok := opcodeIndex[key]
		if !ok {
			idx = uint32(len(opcodes))
			opcodeIndex[key] = idx
			opcodes = append(opcodes, key)
		}
		operatorOffsets[i] = writeOperator(b, op, key, idx)
	}

	opcodeOffsets := make([]flatbuffers.UOffsetT, len(opcodes))
	for i, key := range opcodes {
		opcodeOffsets[i] = writeOpcode(b, key)
	}

	subgraph := writeSubgraph(b, m, tensorOffsets, operatorOffsets)

	opcodesVec := offsetVector(b, opcodeOffsets)
	subgraphsVec := offsetVector(b, []flatbuffers.UOffsetT{subgraph})
	buffersVec := offsetVector(b, bufferOffsets)
	description := b.CreateString(m.Producer)

	b.StartObject(modelNumFields)
	b.PrependUint32Slot(modelVersion, SchemaVersion, 0)
	b.PrependUOffsetTSlot(modelOperatorCodes, opcodesVec, 0)
	b.PrependUOffsetTSlot(modelSubgraphs, subgraphsVec, 0)
	b.PrependUOffsetTSlot(modelDescription, description, 0)
	b.PrependUOffsetTSlot(modelBuffers, buffersVec, 0)
	root := b.EndObject()

	b.FinishWithFileIdentifier(root, []byte(FileIdentifier))
	return b.FinishedBytes(), nil
}

func writeBuffer(b *flatbuffers.Builder, data []byte) flatbuffers.UOffsetT {
	var dataOff flatbuffers.UOffsetT
	if len(data) > 0 {
		dataOff = b.CreateByteVector(data)
	}
	b.StartObject(bufferNumFields)
	if dataOff != 0 {
		b.PrependUOffsetTSlot(bufferData, dataOff, 0)
	}
	return b.EndObject()
}

func writeTensor(b *flatbuffers.Builder, t *graph.Tensor, buffer uint32) (flatbuffers.UOffsetT, error) {
	dtype, err := toTensorType(t.Type)
	if err != nil {
		return 0, err
	}

	name := b.CreateString(t.Name)
	shape := int32Vector(b, intsToInt32s(t.Shape))
	var signature flatbuffers.UOffsetT
	if t.Signature != nil {
		signature = int32Vector(b, intsToInt32s(t.Signature))
	}
	var quant flatbuffers.UOffsetT
	if len(t.Quantization.Scale) > 0 || len(t.Quantization.ZeroPoint) > 0 {
		scale := float32Vector(b, t.Quantization.Scale)
		zeroPoint := int64Vector(b, t.Quantization.ZeroPoint)
		b.StartObject(quantNumFields)
		b.PrependUOffsetTSlot(quantScale, scale, 0)
		b.PrependUOffsetTSlot(quantZeroPoint, zeroPoint, 0)
		quant = b.EndObject()
	}

	b.StartObject(tensorNumFields)
	b.PrependUOffsetTSlot(tensorShape, shape, 0)
	b.PrependInt8Slot(tensorType, dtype, typeFloat32)
	b.PrependUint32Slot(tensorBuffer, buffer, 0)
	b.PrependUOffsetTSlot(tensorName, name, 0)
	if quant != 0 {
		b.PrependUOffsetTSlot(tensorQuantization, quant, 0)
	}
	if signature != 0 {
		b.PrependUOffsetTSlot(tensorShapeSignature, signature, 0)
	}
	return b.EndObject(), nil
}

// operatorCode picks the opcode an operator is stored under.
func operatorCode(op *graph.Operator) opcodeKey {
	if op.CustomName != "" {
		return opcodeKey{code: builtinCustom, custom: op.CustomName}
	}
	if code, ok := BuiltinCode(op.OpType); ok {
		return opcodeKey{code: code}
	}
	if op.BuiltinCode >= 0 {
		return opcodeKey{code: op.BuiltinCode}
	}
	return opcodeKey{code: builtinCustom, custom: op.OpType}
}

func writeOpcode(b *flatbuffers.Builder, key opcodeKey) flatbuffers.UOffsetT {
	var custom flatbuffers.UOffsetT
	if key.custom != "" {
		custom = b.CreateString(key.custom)
	}
	b.StartObject(opcodeNumFields)
	b.PrependInt8Slot(opcodeDeprecatedBuiltin, int8(min(key.code, placeholderForGreaterOpCodes)), 0)
	if custom != 0 {
		b.PrependUOffsetTSlot(opcodeCustomCode, custom, 0)
	}
	b.PrependInt32Slot(opcodeVersion, 1, 1)
	b.PrependInt32Slot(opcodeBuiltin, key.code, 0)
	return b.EndObject()
}

func writeOperator(b *flatbuffers.Builder, op *graph.Operator, key opcodeKey, opcode uint32) flatbuffers.UOffsetT {
	inputs := int32Vector(b, intsToInt32s(op.Inputs))
	outputs := int32Vector(b, intsToInt32s(op.Outputs))

	var optType uint8
	var opts flatbuffers.UOffsetT
	if key.custom == "" {
		optType, opts = writeOptions(b, op, key.code)
	}

	b.StartObject(operatorNumFields)
	b.PrependUint32Slot(operatorOpcodeIndex, opcode, 0)
	b.PrependUOffsetTSlot(operatorInputs, inputs, 0)
	b.PrependUOffsetTSlot(operatorOutputs, outputs, 0)
	if opts != 0 {
		b.PrependUint8Slot(operatorBuiltinOptionsType, optType, optionsNone)
		b.PrependUOffsetTSlot(operatorBuiltinOptions, opts, 0)
	}
	return b.EndObject()
}

// writeOptions encodes the builtin options table of op, if it has one.
func writeOptions(b *flatbuffers.Builder, op *graph.Operator, code int32) (uint8, flatbuffers.UOffsetT) {
	switch code {
	case BuiltinReshape:
		newShape, ok := op.AttrInts("new_shape")
		if !ok {
			return optionsNone, 0
		}
		shape := make([]int32, len(newShape))
		for i, v := range newShape {
			shape[i] = int32(v)
		}
		vec := int32Vector(b, shape)
		b.StartObject(1)
		b.PrependUOffsetTSlot(0, vec, 0)
		return optionsReshape, b.EndObject()

	case BuiltinSoftmax:
		b.StartObject(1)
		b.PrependFloat32Slot(0, op.AttrFloat("beta", 1), 0)
		return optionsSoftmax, b.EndObject()

	case BuiltinAdd, BuiltinSub, BuiltinMul, BuiltinDiv:
		b.StartObject(1)
		b.PrependInt8Slot(0, int8(op.AttrInt("fused_activation", 0)), 0)
		return binaryOptions[code], b.EndObject()
	}
	return optionsNone, 0
}

func writeSubgraph(b *flatbuffers.Builder, m *graph.Model, tensors, operators []flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	tensorsVec := offsetVector(b, tensors)
	inputs := int32Vector(b, intsToInt32s(m.Inputs))
	outputs := int32Vector(b, intsToInt32s(m.Outputs))
	operatorsVec := offsetVector(b, operators)
	name := b.CreateString(m.Name)

	b.StartObject(subgraphNumFields)
	b.PrependUOffsetTSlot(subgraphTensors, tensorsVec, 0)
	b.PrependUOffsetTSlot(subgraphInputs, inputs, 0)
	b.PrependUOffsetTSlot(subgraphOutputs, outputs, 0)
	b.PrependUOffsetTSlot(subgraphOperators, operatorsVec, 0)
	b.PrependUOffsetTSlot(subgraphName, name, 0)
	return b.EndObject()
}

func int32Vector(b *flatbuffers.Builder, values []int32) flatbuffers.UOffsetT {
	b.StartVector(flatbuffers.SizeInt32, len(values), flatbuffers.SizeInt32)
	for i := len(values) - 1; i >= 0; i-- {
		b.PrependInt32(values[i])
	}
	return b.EndVector(len(values))
}

func int64Vector(b *flatbuffers.Builder, values []int64) flatbuffers.UOffsetT {
	b.StartVector(flatbuffers.SizeInt64, len(values), flatbuffers.SizeInt64)
	for i := len(values) - 1; i >= 0; i-- {
		b.PrependInt64(values[i])
	}
	return b.EndVector(len(values))
}

func float32Vector(b *flatbuffers.Builder, values []float32) flatbuffers.UOffsetT {
	b.StartVector(flatbuffers.SizeFloat32, len(values), flatbuffers.SizeFloat32)
	for i := len(values) - 1; i >= 0; i-- {
		b.PrependFloat32(values[i])
	}
	return b.EndVector(len(values))
}

func offsetVector(b *flatbuffers.Builder, offsets []flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	b.StartVector(flatbuffers.SizeUOffsetT, len(offsets), flatbuffers.SizeUOffsetT)
	for i := len(offsets) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offsets[i])
	}
	return b.EndVector(len(offsets))
}

func intsToInt32s(values []int) []int32 {
	ints := make([]int32, len(values))
	for i, v := range values {
		ints[i] = int32(v)
	}
	return ints
}
