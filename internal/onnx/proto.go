package onnx

// The message types below mirror onnx.proto3 closely enough for the parser
// and Marshal to share them. Only fields this package reads or writes are
// present; the trailing numbers are the protobuf field numbers.

// ModelProto is the top-level message of an .onnx file.
type ModelProto struct {
	IRVersion       int64               // 1
	ProducerName    string              // 2
	ProducerVersion string              // 3
	Domain          string              // 4
	ModelVersion    int64               // 5
	DocString       string              // 6
	Graph           *GraphProto         // 7, required by Parse
	OpsetImport     []OperatorSetID     // 8; the default-domain entry picks operator semantics
	MetadataProps   []StringStringEntry // 14
}

// GraphProto holds nodes in topological order plus the values they exchange.
type GraphProto struct {
	Nodes        []NodeProto      // 1
	Name         string           // 2
	Initializers []TensorProto    // 5, become constant tensors
	DocString    string           // 10
	Inputs       []ValueInfoProto // 11, may repeat initializer names
	Outputs      []ValueInfoProto // 12
	ValueInfo    []ValueInfoProto // 13, shapes of intermediate values
}

// NodeProto is one operator application. Tensors are referenced by name.
type NodeProto struct {
	Inputs     []string         // 1, "" skips an optional input
	Outputs    []string         // 2
	Name       string           // 3
	OpType     string           // 4
	Attributes []AttributeProto // 5
	DocString  string           // 6
	Domain     string           // 7, "" and "ai.onnx" are the builtin set
}

// TensorProto carries constant data. RawData takes precedence over the
// typed repeated fields.
type TensorProto struct {
	Dims       []int64   // 1
	DataType   int32     // 2, one of the TensorProto* constants
	FloatData  []float32 // 4
	Int32Data  []int32   // 5, also int8, uint8, bool and float16 bit patterns
	Int64Data  []int64   // 7
	Name       string    // 8
	RawData    []byte    // 9, little-endian
	DoubleData []float64 // 10
	DocString  string    // 12
}

// ValueInfoProto declares the type and shape of a named value.
type ValueInfoProto struct {
	Name      string     // 1
	Type      *TypeProto // 2, nil when undeclared
	DocString string     // 3
}

// TypeProto is a oneof in ONNX; sequences and maps are not read.
type TypeProto struct {
	TensorType *TensorTypeProto // 1
}

// TensorTypeProto pairs an element type with an optional shape.
type TensorTypeProto struct {
	ElemType int32             // 1
	Shape    *TensorShapeProto // 2, nil for unknown rank
}

// TensorShapeProto lists the dimensions of a value.
type TensorShapeProto struct {
	Dims []DimensionProto // 1
}

// DimensionProto is a fixed size, a named symbol, or neither. Only a fixed
// size resolves the dimension; the other two leave it unknown.
type DimensionProto struct {
	DimValue    int64  // 1
	DimParam    string // 2
	HasDimValue bool   // set when field 1 is on the wire, since 0 is a valid size
}

// AttributeProto is a named operator parameter. Type tells which value
// field is meaningful.
type AttributeProto struct {
	Name      string       // 1
	F         float32      // 2
	I         int64        // 3
	S         []byte       // 4
	T         *TensorProto // 5, used by Constant
	Floats    []float32    // 7
	Ints      []int64      // 8
	Strings   [][]byte     // 9
	DocString string       // 13
	Type      int32        // 20, one of the AttributeProto* constants
}

// OperatorSetID names the operator set version a model was written against.
type OperatorSetID struct {
	Domain  string // 1
	Version int64  // 2
}

// StringStringEntry is one metadata_props pair.
type StringStringEntry struct {
	Key   string // 1
	Value string // 2
}

// Element types (TensorProto.DataType, TensorTypeProto.ElemType) that map to
// tensor.DataType, plus string so it can be rejected by name.
const (
	TensorProtoFloat   = 1
	TensorProtoUint8   = 2
	TensorProtoInt8    = 3
	TensorProtoInt32   = 6
	TensorProtoInt64   = 7
	TensorProtoString  = 8
	TensorProtoBool    = 9
	TensorProtoFloat16 = 10
	TensorProtoDouble  = 11
)

// Attribute value kinds (AttributeProto.Type).
const (
	AttributeProtoFloat   = 1
	AttributeProtoInt     = 2
	AttributeProtoString  = 3
	AttributeProtoTensor  = 4
	AttributeProtoFloats  = 6
	AttributeProtoInts    = 7
	AttributeProtoStrings = 8
)
