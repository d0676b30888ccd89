package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes m in the protobuf wire format. Empty scalar fields are
// omitted, repeated numeric fields are packed.
func Marshal(m *ModelProto) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.IRVersion)) //nolint:gosec // G115: two's complement int64 on the wire.
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendVarint(b, 5, uint64(m.ModelVersion)) //nolint:gosec // G115: two's complement int64 on the wire.
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, marshalGraph(m.Graph))
	}
	for _, opset := range m.OpsetImport {
		var sub []byte
		sub = appendString(sub, 1, opset.Domain)
		sub = appendVarint(sub, 2, uint64(opset.Version)) //nolint:gosec // G115: two's complement int64 on the wire.
		b = appendMessage(b, 8, sub)
	}
	for _, entry := range m.MetadataProps {
		var sub []byte
		sub = appendString(sub, 1, entry.Key)
		sub = appendString(sub, 2, entry.Value)
		b = appendMessage(b, 14, sub)
	}
	return b
}

func marshalGraph(g *GraphProto) []byte {
	var b []byte
	for i := range g.Nodes {
		b = appendMessage(b, 1, marshalNode(&g.Nodes[i]))
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, marshalTensor(&g.Initializers[i]))
	}
	b = appendString(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendMessage(b, 11, marshalValueInfo(&g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, marshalValueInfo(&g.Outputs[i]))
	}
	for i := range g.ValueInfo {
		b = appendMessage(b, 13, marshalValueInfo(&g.ValueInfo[i]))
	}
	return b
}

func marshalNode(n *NodeProto) []byte {
	var b []byte
	// Inputs keep empty names: they mark omitted optional inputs.
	for _, name := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	for _, name := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, marshalAttribute(&n.Attributes[i]))
	}
	b = appendString(b, 6, n.DocString)
	b = appendString(b, 7, n.Domain)
	return b
}

func marshalTensor(t *TensorProto) []byte {
	var b []byte
	b = appendPackedVarints(b, 1, t.Dims)
	b = appendVarint(b, 2, uint64(t.DataType)) //nolint:gosec // G115: data types are small positive enums.
	b = appendPackedFloats(b, 4, t.FloatData)
	if len(t.Int32Data) > 0 {
		ints := make([]int64, len(t.Int32Data))
		for i, v := range t.Int32Data {
			ints[i] = int64(v)
		}
		b = appendPackedVarints(b, 5, ints)
	}
	b = appendPackedVarints(b, 7, t.Int64Data)
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawData)
	}
	if len(t.DoubleData) > 0 {
		var packed []byte
		for _, v := range t.DoubleData {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = appendMessage(b, 10, packed)
	}
	b = appendString(b, 12, t.DocString)
	return b
}

func marshalValueInfo(vi *ValueInfoProto) []byte {
	var b []byte
	b = appendString(b, 1, vi.Name)
	if vi.Type != nil && vi.Type.TensorType != nil {
		tt := vi.Type.TensorType
		var tensorType []byte
		tensorType = appendVarint(tensorType, 1, uint64(tt.ElemType)) //nolint:gosec // G115: data types are small positive enums.
		if tt.Shape != nil {
			var shape []byte
			for _, dim := range tt.Shape.Dims {
				var d []byte
				if dim.HasDimValue {
					d = protowire.AppendTag(d, 1, protowire.VarintType)
					d = protowire.AppendVarint(d, uint64(dim.DimValue)) //nolint:gosec // G115: two's complement int64 on the wire.
				}
				d = appendString(d, 2, dim.DimParam)
				shape = appendMessage(shape, 1, d)
			}
			// An empty shape message still marks a known rank of zero.
			tensorType = protowire.AppendTag(tensorType, 2, protowire.BytesType)
			tensorType = protowire.AppendBytes(tensorType, shape)
		}
		b = appendMessage(b, 2, appendMessage(nil, 1, tensorType))
	}
	b = appendString(b, 3, vi.DocString)
	return b
}

func marshalAttribute(a *AttributeProto) []byte {
	var b []byte
	b = appendString(b, 1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeProtoInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I)) //nolint:gosec // G115: two's complement int64 on the wire.
	case AttributeProtoString:
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	case AttributeProtoTensor:
		if a.T != nil {
			b = protowire.AppendTag(b, 5, protowire.BytesType)
			b = protowire.AppendBytes(b, marshalTensor(a.T))
		}
	case AttributeProtoFloats:
		b = appendPackedFloats(b, 7, a.Floats)
	case AttributeProtoInts:
		b = appendPackedVarints(b, 8, a.Ints)
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			b = protowire.AppendTag(b, 9, protowire.BytesType)
			b = protowire.AppendBytes(b, s)
		}
	}
	b = appendString(b, 13, a.DocString)
	b = appendVarint(b, 20, uint64(a.Type)) //nolint:gosec // G115: attribute types are small positive enums.
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendPackedVarints(b []byte, num protowire.Number, values []int64) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v)) //nolint:gosec // G115: two's complement int64 on the wire.
	}
	return appendMessage(b, num, packed)
}

func appendPackedFloats(b []byte, num protowire.Number, values []float32) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendMessage(b, num, packed)
}
