// Package onnx reads and writes ONNX models.
//
// ONNX (Open Neural Network Exchange) models are protobuf messages. The
// wire format is handled with google.golang.org/protobuf/encoding/protowire,
// so no generated code is needed:
//   - Parse decodes a ModelProto
//   - Marshal encodes one
//   - ToGraph and FromGraph convert between ModelProto and graph.Model
//
// Dimensions declared without a value (dim_param or nothing at all) become
// tensor.UnknownDim, which the interpreter resolves at allocation time.
//
// Example usage:
//
//	data, err := os.ReadFile("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mp, err := onnx.Parse(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	m, err := onnx.ToGraph(mp)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Graph: %s with %d operators\n", m.Name, len(m.Operators))
package onnx
