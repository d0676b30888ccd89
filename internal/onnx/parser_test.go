package onnx

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// protoBuilder appends raw protobuf fields, packed or not, so tests can
// produce encodings Marshal never emits.
type protoBuilder []byte

func (b protoBuilder) varint(num protowire.Number, v int64) protoBuilder {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v)) //nolint:gosec // G115: two's complement on the wire.
}

func (b protoBuilder) fixed32(num protowire.Number, v float32) protoBuilder {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func (b protoBuilder) bytes(num protowire.Number, v []byte) protoBuilder {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func (b protoBuilder) str(num protowire.Number, s string) protoBuilder {
	return b.bytes(num, []byte(s))
}

// buildReshapeModel encodes Y = Reshape(X, shape) where X is [batch, 3]
// and shape is an int64 initializer [1, -1] written with unpacked fields.
func buildReshapeModel() []byte {
	dimBatch := protoBuilder{}.str(2, "batch")
	dim3 := protoBuilder{}.varint(1, 3)
	shapeX := protoBuilder{}.bytes(1, dimBatch).bytes(1, dim3)
	typeX := protoBuilder{}.bytes(1, protoBuilder{}.varint(1, TensorProtoFloat).bytes(2, shapeX))
	inputX := protoBuilder{}.str(1, "X").bytes(2, typeX)

	// No shape at all: unknown rank.
	typeY := protoBuilder{}.bytes(1, protoBuilder{}.varint(1, TensorProtoFloat))
	outputY := protoBuilder{}.str(1, "Y").bytes(2, typeY)

	initializer := protoBuilder{}.
		varint(1, 2).
		varint(2, TensorProtoInt64).
		varint(7, 1).
		varint(7, -1).
		str(8, "shape")

	node := protoBuilder{}.
		str(1, "X").
		str(1, "shape").
		str(2, "Y").
		str(3, "reshape_0").
		str(4, "Reshape")

	g := protoBuilder{}.
		bytes(1, node).
		str(2, "reshape_graph").
		bytes(5, initializer).
		bytes(11, inputX).
		bytes(12, outputY)

	opset := protoBuilder{}.str(1, "").varint(2, 13)

	return protoBuilder{}.
		varint(1, 7).
		str(2, "hand").
		str(3, "1.0").
		bytes(7, g).
		bytes(8, opset).
		bytes(14, protoBuilder{}.str(1, "author").str(2, "test"))
}

func TestParseModel(t *testing.T) {
	model, err := Parse(buildReshapeModel())
	require.NoError(t, err)

	assert.Equal(t, int64(7), model.IRVersion)
	assert.Equal(t, "hand", model.ProducerName)
	assert.Equal(t, int64(13), OpsetVersion(model))
	assert.Equal(t, []StringStringEntry{{Key: "author", Value: "test"}}, model.MetadataProps)

	g := model.Graph
	require.NotNil(t, g)
	assert.Equal(t, "reshape_graph", g.Name)

	require.Len(t, g.Nodes, 1)
	node := g.Nodes[0]
	assert.Equal(t, "Reshape", node.OpType)
	assert.Equal(t, []string{"X", "shape"}, node.Inputs)
	assert.Equal(t, []string{"Y"}, node.Outputs)

	require.Len(t, g.Initializers, 1)
	initializer := g.Initializers[0]
	assert.Equal(t, "shape", initializer.Name)
	assert.Equal(t, []int64{2}, initializer.Dims)
	assert.Equal(t, []int64{1, -1}, initializer.Int64Data)

	require.Len(t, g.Inputs, 1)
	tt := g.Inputs[0].Type.TensorType
	require.NotNil(t, tt)
	assert.Equal(t, int32(TensorProtoFloat), tt.ElemType)
	require.NotNil(t, tt.Shape)
	assert.Equal(t, []DimensionProto{
		{DimParam: "batch"},
		{DimValue: 3, HasDimValue: true},
	}, tt.Shape.Dims)

	require.Len(t, g.Outputs, 1)
	assert.Nil(t, g.Outputs[0].Type.TensorType.Shape)
}

func TestParseAttributeEncodings(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want AttributeProto
	}{
		{
			name: "unpacked ints",
			data: protoBuilder{}.str(1, "perm").varint(8, 1).varint(8, 0).varint(20, AttributeProtoInts),
			want: AttributeProto{Name: "perm", Type: AttributeProtoInts, Ints: []int64{1, 0}},
		},
		{
			name: "packed ints",
			data: protoBuilder{}.str(1, "shape").
				bytes(8, protowire.AppendVarint(protowire.AppendVarint(nil, 2), 3)).
				varint(20, AttributeProtoInts),
			want: AttributeProto{Name: "shape", Type: AttributeProtoInts, Ints: []int64{2, 3}},
		},
		{
			name: "unpacked floats",
			data: protoBuilder{}.str(1, "scales").fixed32(7, 0.5).fixed32(7, 2).varint(20, AttributeProtoFloats),
			want: AttributeProto{Name: "scales", Type: AttributeProtoFloats, Floats: []float32{0.5, 2}},
		},
		{
			name: "float",
			data: protoBuilder{}.str(1, "alpha").fixed32(2, 0.25).varint(20, AttributeProtoFloat),
			want: AttributeProto{Name: "alpha", Type: AttributeProtoFloat, F: 0.25},
		},
		{
			name: "string",
			data: protoBuilder{}.str(1, "mode").str(4, "constant").varint(20, AttributeProtoString),
			want: AttributeProto{Name: "mode", Type: AttributeProtoString, S: []byte("constant")},
		},
		{
			name: "negative int",
			data: protoBuilder{}.str(1, "axis").varint(3, -1).varint(20, AttributeProtoInt),
			want: AttributeProto{Name: "axis", Type: AttributeProtoInt, I: -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got AttributeProto
			require.NoError(t, readAttributeProto(tt.data, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLegacyDoubleData(t *testing.T) {
	packed := protowire.AppendFixed64(nil, math.Float64bits(1.5))
	packed = protowire.AppendFixed64(packed, math.Float64bits(-2))
	data := protoBuilder{}.varint(1, 2).varint(2, TensorProtoDouble).bytes(10, packed)

	var got TensorProto
	require.NoError(t, readTensorProto(data, &got))
	assert.Equal(t, []float64{1.5, -2}, got.DoubleData)

	var bad TensorProto
	err := readTensorProto(protoBuilder{}.bytes(10, []byte{1, 2, 3}), &bad)
	assert.ErrorContains(t, err, "packed double length")
}

func TestMarshalRoundTrip(t *testing.T) {
	want := &ModelProto{
		IRVersion:       8,
		OpsetImport:     []OperatorSetID{{Version: 14}, {Domain: "com.example", Version: 1}},
		ProducerName:    "unknowndim",
		ProducerVersion: "test",
		ModelVersion:    3,
		DocString:       "round trip",
		MetadataProps:   []StringStringEntry{{Key: "k", Value: "v"}},
		Graph: &GraphProto{
			Name: "g",
			Nodes: []NodeProto{
				{
					Name:    "n0",
					OpType:  "Reshape",
					Inputs:  []string{"x", "", "shape"},
					Outputs: []string{"y"},
					Attributes: []AttributeProto{
						{Name: "allowzero", Type: AttributeProtoInt, I: 1},
						{Name: "alpha", Type: AttributeProtoFloat, F: 0.5},
						{Name: "mode", Type: AttributeProtoString, S: []byte("m")},
						{Name: "ints", Type: AttributeProtoInts, Ints: []int64{-1, 0, 7}},
						{Name: "floats", Type: AttributeProtoFloats, Floats: []float32{1, 2.5}},
						{Name: "names", Type: AttributeProtoStrings, Strings: [][]byte{[]byte("a"), []byte("b")}},
						{Name: "value", Type: AttributeProtoTensor, T: &TensorProto{
							DataType: TensorProtoInt64, Dims: []int64{2}, Int64Data: []int64{1, -1},
						}},
					},
					Domain: "com.example",
				},
			},
			Initializers: []TensorProto{
				{Name: "w", DataType: TensorProtoFloat, Dims: []int64{2}, FloatData: []float32{1, -1}},
				{Name: "i", DataType: TensorProtoInt32, Dims: []int64{3}, Int32Data: []int32{-5, 0, 5}},
				{Name: "d", DataType: TensorProtoDouble, Dims: []int64{1}, DoubleData: []float64{0.125}},
				{Name: "r", DataType: TensorProtoUint8, Dims: []int64{2}, RawData: []byte{1, 2}},
			},
			Inputs: []ValueInfoProto{{
				Name: "x",
				Type: &TypeProto{TensorType: &TensorTypeProto{
					ElemType: TensorProtoFloat,
					Shape: &TensorShapeProto{Dims: []DimensionProto{
						{DimParam: "batch"}, {}, {DimValue: 0, HasDimValue: true}, {DimValue: 3, HasDimValue: true},
					}},
				}},
			}},
			Outputs: []ValueInfoProto{{
				Name: "y",
				Type: &TypeProto{TensorType: &TensorTypeProto{ElemType: TensorProtoFloat}},
			}},
			ValueInfo: []ValueInfoProto{{
				Name: "scalar",
				Type: &TypeProto{TensorType: &TensorTypeProto{
					ElemType: TensorProtoInt64,
					Shape:    &TensorShapeProto{},
				}},
			}},
		},
	}

	got, err := Parse(Marshal(want))
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("model mismatch (-want +got):\n%s", diff)
	}

	// A rank 0 shape must survive, it differs from an unknown rank.
	require.NotNil(t, got.Graph.ValueInfo[0].Type.TensorType.Shape)
	assert.Nil(t, got.Graph.Outputs[0].Type.TensorType.Shape)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		msg  string
	}{
		{name: "empty", data: nil, msg: "no graph"},
		{name: "truncated tag", data: []byte{0x80}, msg: ""},
		{name: "truncated graph", data: protoBuilder{}.bytes(7, []byte{0x0a, 0x05, 'X'}), msg: "field 7"},
		{name: "graph as varint", data: protoBuilder{}.varint(7, 1), msg: "expected a message"},
		{name: "bad packed floats", data: protoBuilder{}.bytes(7,
			protoBuilder{}.bytes(5, protoBuilder{}.bytes(4, []byte{1, 2, 3}))), msg: "packed float length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.ErrorIs(t, err, ErrInvalidModel)
			if tt.msg != "" {
				assert.ErrorContains(t, err, tt.msg)
			}
		})
	}
}
