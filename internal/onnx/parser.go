package onnx

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidModel is returned for data that is not a readable ONNX model.
var ErrInvalidModel = errors.New("invalid ONNX model")

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*ModelProto, error) {
	model := &ModelProto{}
	if err := readModelProto(data, model); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	if model.Graph == nil {
		return nil, fmt.Errorf("%w: model has no graph", ErrInvalidModel)
	}
	return model, nil
}

// field is one decoded protobuf field. Scalars are held in v, length
// delimited payloads in b.
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	b   []byte
}

// eachField calls fn for every field of the message encoded in data.
func eachField(data []byte, fn func(f field) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(data)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(data)
			f.v = uint64(v)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) asInt64() int64 {
	return int64(f.v) //nolint:gosec // G115: two's complement int64 on the wire.
}

func (f field) asInt32() int32 {
	return int32(f.v) //nolint:gosec // G115: ONNX protobuf varint fits in int32.
}

func (f field) asString() string {
	return string(f.b)
}

func (f field) asFloat32() float32 {
	return math.Float32frombits(uint32(f.v))
}

// message checks that f is length delimited before decoding it with read.
func message[T any](f field, msg *T, read func([]byte, *T) error) error {
	if f.typ != protowire.BytesType {
		return fmt.Errorf("field %d: expected a message, got wire type %d", f.num, f.typ)
	}
	if err := read(f.b, msg); err != nil {
		return fmt.Errorf("field %d: %w", f.num, err)
	}
	return nil
}

// varints decodes a packed or unpacked repeated varint field.
func (f field) varints() ([]int64, error) {
	if f.typ == protowire.VarintType {
		return []int64{f.asInt64()}, nil
	}
	var values []int64
	data := f.b
	for len(data) > 0 {
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, fmt.Errorf("field %d: %w", f.num, protowire.ParseError(n))
		}
		values = append(values, int64(v)) //nolint:gosec // G115: two's complement int64 on the wire.
		data = data[n:]
	}
	return values, nil
}

// fixed32s decodes a packed or unpacked repeated float field.
func (f field) fixed32s() ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		return []float32{f.asFloat32()}, nil
	}
	if len(f.b)%4 != 0 {
		return nil, fmt.Errorf("field %d: packed float length %d", f.num, len(f.b))
	}
	var values []float32
	data := f.b
	for len(data) > 0 {
		v, n := protowire.ConsumeFixed32(data)
		values = append(values, math.Float32frombits(v))
		data = data[n:]
	}
	return values, nil
}

// fixed64s decodes a packed or unpacked repeated double field.
func (f field) fixed64s() ([]float64, error) {
	if f.typ == protowire.Fixed64Type {
		return []float64{math.Float64frombits(f.v)}, nil
	}
	if len(f.b)%8 != 0 {
		return nil, fmt.Errorf("field %d: packed double length %d", f.num, len(f.b))
	}
	var values []float64
	data := f.b
	for len(data) > 0 {
		v, n := protowire.ConsumeFixed64(data)
		values = append(values, math.Float64frombits(v))
		data = data[n:]
	}
	return values, nil
}

func readModelProto(data []byte, m *ModelProto) error {
	return eachField(data, func(f field) error {
		switch f.num {
		case 1: // ir_version
			m.IRVersion = f.asInt64()
		case 2: // producer_name
			m.ProducerName = f.asString()
		case 3: // producer_version
			m.ProducerVersion = f.asString()
		case 4: // domain
			m.Domain = f.asString()
		case 5: // model_version
			m.ModelVersion = f.asInt64()
		case 6: // doc_string
			m.DocString = f.asString()
		case 7: // graph
			m.Graph = &GraphProto{}
			return message(f, m.Graph, readGraphProto)
		case 8: // opset_import
			var opset OperatorSetID
			if err := message(f, &opset, readOperatorSetID); err != nil {
				return err
			}
			m.OpsetImport = append(m.OpsetImport, opset)
		case 14: // metadata_props
			var entry StringStringEntry
			if err := message(f, &entry, readStringStringEntry); err != nil {
				return err
			}
			m.MetadataProps = append(m.MetadataProps, entry)
		}
		return nil
	})
}

func readGraphProto(data []byte, m *GraphProto) error {
	return eachField(data, func(f field) error {
		switch f.num {
		case 1: // node
			var node NodeProto
			if err := message(f, &node, readNodeProto); err != nil {
				return err
			}
			m.Nodes = append(m.Nodes, node)
		case 2: // name
			m.Name = f.asString()
		case 5: // initializer
			var t TensorProto
			if err := message(f, &t, readTensorProto); err != nil {
				return err
			}
			m.Initializers = append(m.Initializers, t)
		case 10: // doc_string
			m.DocString = f.asString()
		case 11, 12, 13: // input, output, value_info
			var vi ValueInfoProto
			if err := message(f, &vi, readValueInfoProto); err != nil {
				return err
			}
			switch f.num {
			case 11:
				m.Inputs = append(m.Inputs, vi)
			case 12:
				m.Outputs = append(m.Outputs, vi)
			default:
				m.ValueInfo = append(m.ValueInfo, vi)
			}
		}
		return nil
	})
}

func readNodeProto(data []byte, m *NodeProto) error {
	return eachField(data, func(f field) error {
		switch f.num {
		case 1: // input
			m.Inputs = append(m.Inputs, f.asString())
		case 2: // output
			m.Outputs = append(m.Outputs, f.asString())
		case 3: // name
			m.Name = f.asString()
		case 4: // op_type
			m.OpType = f.asString()
		case 5: // attribute
			var attr AttributeProto
			if err := message(f, &attr, readAttributeProto); err != nil {
				return err
			}
			m.Attributes = append(m.Attributes, attr)
		case 6: // doc_string
			m.DocString = f.asString()
		case 7: // domain
			m.Domain = f.asString()
		}
		return nil
	})
}

func readTensorProto(data []byte, m *TensorProto) error {
	return eachField(data, func(f field) error {
		var err error
		switch f.num {
		case 1: // dims
			var dims []int64
			dims, err = f.varints()
			m.Dims = append(m.Dims, dims...)
		case 2: // data_type
			m.DataType = f.asInt32()
		case 4: // float_data
			var values []float32
			values, err = f.fixed32s()
			m.FloatData = append(m.FloatData, values...)
		case 5: // int32_data
			var values []int64
			values, err = f.varints()
			for _, v := range values {
				m.Int32Data = append(m.Int32Data, int32(v)) //nolint:gosec // G115: int32_data holds int32 values.
			}
		case 7: // int64_data
			var values []int64
			values, err = f.varints()
			m.Int64Data = append(m.Int64Data, values...)
		case 8: // name
			m.Name = f.asString()
		case 9: // raw_data
			m.RawData = f.b
		case 10: // double_data
			var values []float64
			values, err = f.fixed64s()
			m.DoubleData = append(m.DoubleData, values...)
		case 12: // doc_string
			m.DocString = f.asString()
		}
		return err
	})
}

func readValueInfoProto(data []byte, m *ValueInfoProto) error {
	return eachField(data, func(f field) error {
		switch f.num {
		case 1: // name
			m.Name = f.asString()
		case 2: // type
			m.Type = &TypeProto{}
			return message(f, m.Type, readTypeProto)
		case 3: // doc_string
			m.DocString = f.asString()
		}
		return nil
	})
}

func readTypeProto(data []byte, m *TypeProto) error {
	return eachField(data, func(f field) error {
		if f.num == 1 { // tensor_type
			m.TensorType = &TensorTypeProto{}
			return message(f, m.TensorType, readTensorTypeProto)
		}
		return nil
	})
}

func readTensorTypeProto(data []byte, m *TensorTypeProto) error {
	return eachField(data, func(f field) error {
		switch f.num {
		case 1: // elem_type
			m.ElemType = f.asInt32()
		case 2: // shape
			m.Shape = &TensorShapeProto{}
			return message(f, m.Shape, readTensorShapeProto)
		}
		return nil
	})
}

func readTensorShapeProto(data []byte, m *TensorShapeProto) error {
	return eachField(data, func(f field) error {
		if f.num == 1 { // dim
			var dim DimensionProto
			if err := message(f, &dim, readDimensionProto); err != nil {
				return err
			}
			m.Dims = append(m.Dims, dim)
		}
		return nil
	})
}

func readDimensionProto(data []byte, m *DimensionProto) error {
	return eachField(data, func(f field) error {
		switch f.num {
		case 1: // dim_value
			m.DimValue = f.asInt64()
			m.HasDimValue = true
		case 2: // dim_param
			m.DimParam = f.asString()
		}
		return nil
	})
}

func readAttributeProto(data []byte, m *AttributeProto) error {
	return eachField(data, func(f field) error {
		var err error
		switch f.num {
		case 1: // name
			m.Name = f.asString()
		case 2: // f
			m.F = f.asFloat32()
		case 3: // i
			m.I = f.asInt64()
		case 4: // s
			m.S = f.b
		case 5: // t
			m.T = &TensorProto{}
			return message(f, m.T, readTensorProto)
		case 7: // floats
			var values []float32
			values, err = f.fixed32s()
			m.Floats = append(m.Floats, values...)
		case 8: // ints
			var values []int64
			values, err = f.varints()
			m.Ints = append(m.Ints, values...)
		case 9: // strings
			m.Strings = append(m.Strings, f.b)
		case 13: // doc_string
			m.DocString = f.asString()
		case 20: // type
			m.Type = f.asInt32()
		}
		return err
	})
}

func readOperatorSetID(data []byte, m *OperatorSetID) error {
	return eachField(data, func(f field) error {
		switch f.num {
		case 1: // domain
			m.Domain = f.asString()
		case 2: // version
			m.Version = f.asInt64()
		}
		return nil
	})
}

func readStringStringEntry(data []byte, m *StringStringEntry) error {
	return eachField(data, func(f field) error {
		switch f.num {
		case 1: // key
			m.Key = f.asString()
		case 2: // value
			m.Value = f.asString()
		}
		return nil
	})
}
