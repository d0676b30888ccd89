// Package loader reads and writes model files in any supported format.
//
// Supported formats:
//   - TFLite: flatbuffer with the "TFL3" file identifier (.tflite)
//   - ONNX: protobuf ModelProto (.onnx)
//
// The format is detected from the content first and the extension second,
// so a TFLite model keeps loading after it has been renamed.
//
// Example:
//
//	model, err := loader.Load("unknown_dim.tflite")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Format: %s\n", model.Format)
package loader
