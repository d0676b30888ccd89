// Package tflite reads and writes TensorFlow Lite flatbuffer models.
//
// Only the parts of the schema needed to describe an inference graph are
// decoded: tensors, buffers, operator codes and the operators of the main
// subgraph. Builtin options are decoded for the operators the interpreter
// implements and carried as graph.Operator attributes.
package tflite

import (
	"errors"
	"fmt"

	"github.com/born-ml/unknowndim/internal/tensor"
)

// FileIdentifier is stored at bytes 4..8 of every TFLite model.
const FileIdentifier = "TFL3"

// SchemaVersion is written into the model version field.
const SchemaVersion = 3

// ErrInvalidModel is returned for buffers that are not a readable TFLite model.
var ErrInvalidModel = errors.New("invalid TFLite model")

// Table field slots, numbered as in schema.fbs.
const (
	modelVersion       = 0
	modelOperatorCodes = 1
	modelSubgraphs     = 2
	modelDescription   = 3
	modelBuffers       = 4
	modelNumFields     = 5

	subgraphTensors   = 0
	subgraphInputs    = 1
	subgraphOutputs   = 2
	subgraphOperators = 3
	subgraphName      = 4
	subgraphNumFields = 5

	tensorShape          = 0
	tensorType           = 1
	tensorBuffer         = 2
	tensorName           = 3
	tensorQuantization   = 4
	tensorShapeSignature = 7
	tensorNumFields      = 8

	quantScale     = 2
	quantZeroPoint = 3
	quantNumFields = 4

	operatorOpcodeIndex        = 0
	operatorInputs             = 1
	operatorOutputs            = 2
	operatorBuiltinOptionsType = 3
	operatorBuiltinOptions     = 4
	operatorNumFields          = 5

	opcodeDeprecatedBuiltin = 0
	opcodeCustomCode        = 1
	opcodeVersion           = 2
	opcodeBuiltin           = 3
	opcodeNumFields         = 4

	bufferData      = 0
	bufferNumFields = 1
)

// Builtin operator codes.
const (
	BuiltinAdd      int32 = 0
	BuiltinLogistic int32 = 14
	BuiltinMul      int32 = 18
	BuiltinRelu     int32 = 19
	BuiltinRelu6    int32 = 21
	BuiltinReshape  int32 = 22
	BuiltinSoftmax  int32 = 25
	BuiltinTanh     int32 = 28
	BuiltinSub      int32 = 41
	BuiltinDiv      int32 = 42

	// placeholderForGreaterOpCodes marks a code that only fits the int32 field.
	placeholderForGreaterOpCodes int32 = 127
)

// Builtin options union types.
const (
	optionsNone    uint8 = 0
	optionsSoftmax uint8 = 9
	optionsAdd     uint8 = 11
	optionsReshape uint8 = 17
	optionsMul     uint8 = 21
	optionsSub     uint8 = 28
	optionsDiv     uint8 = 29
)

// builtinOps maps builtin codes to canonical operator types.
var builtinOps = map[int32]string{
	BuiltinAdd:      "Add",
	BuiltinLogistic: "Sigmoid",
	BuiltinMul:      "Mul",
	BuiltinRelu:     "Relu",
	BuiltinRelu6:    "Relu6",
	BuiltinReshape:  "Reshape",
	BuiltinSoftmax:  "Softmax",
	BuiltinTanh:     "Tanh",
	BuiltinSub:      "Sub",
	BuiltinDiv:      "Div",
}

// OpType returns the canonical operator type for a builtin code. Codes
// without a kernel keep a descriptive name so they can still be listed.
func OpType(code int32) string {
	if name, ok := builtinOps[code]; ok {
		return name
	}
	return fmt.Sprintf("TFLiteBuiltin%d", code)
}

// BuiltinCode returns the builtin code for a canonical operator type.
func BuiltinCode(opType string) (int32, bool) {
	for code, name := range builtinOps {
		if name == opType {
			return code, true
		}
	}
	return 0, false
}

// TensorType values.
const (
	typeFloat32 int8 = 0
	typeFloat16 int8 = 1
	typeInt32   int8 = 2
	typeUint8   int8 = 3
	typeInt64   int8 = 4
	typeBool    int8 = 6
	typeInt8    int8 = 9
	typeFloat64 int8 = 10
)

func fromTensorType(t int8) (tensor.DataType, error) {
	switch t {
	case typeFloat32:
		return tensor.Float32, nil
	case typeFloat16:
		return tensor.Float16, nil
	case typeInt32:
		return tensor.Int32, nil
	case typeUint8:
		return tensor.Uint8, nil
	case typeInt64:
		return tensor.Int64, nil
	case typeBool:
		return tensor.Bool, nil
	case typeInt8:
		return tensor.Int8, nil
	case typeFloat64:
		return tensor.Float64, nil
	default:
		return 0, fmt.Errorf("unsupported tensor type %d", t)
	}
}

func toTensorType(dt tensor.DataType) (int8, error) {
	switch dt {
	case tensor.Float32:
		return typeFloat32, nil
	case tensor.Float16:
		return typeFloat16, nil
	case tensor.Int32:
		return typeInt32, nil
	case tensor.Uint8:
		return typeUint8, nil
	case tensor.Int64:
		return typeInt64, nil
	case tensor.Bool:
		return typeBool, nil
	case tensor.Int8:
		return typeInt8, nil
	case tensor.Float64:
		return typeFloat64, nil
	default:
		return 0, fmt.Errorf("unsupported data type %s", dt)
	}
}
