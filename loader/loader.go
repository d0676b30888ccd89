// Package loader reads and writes models with unknown input dimensions.
//
// This package wraps the internal loader and exports a small public API for
// TFLite (.tflite) and ONNX (.onnx) files.
//
// Example usage:
//
//	import "github.com/born-ml/unknowndim/loader"
//
//	// Write the demonstration model, then read it back
//	if err := loader.Save("unknown_dim.tflite", loader.DemoModel(false)); err != nil {
//	    log.Fatal(err)
//	}
//	model, err := loader.Load("unknown_dim.tflite")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Format: %s\n", model.Format)
package loader

import (
	"github.com/born-ml/unknowndim/internal/graph"
	"github.com/born-ml/unknowndim/internal/loader"
)

// Model is a format-neutral computation graph.
type Model = graph.Model

// Format identifies the serialized form of a model.
type Format = graph.Format

// Supported model formats.
const (
	FormatUnknown Format = graph.FormatUnknown
	FormatTFLite  Format = graph.FormatTFLite
	FormatONNX    Format = graph.FormatONNX
)

// Errors returned by Load and Save; match them with errors.Is.
var (
	ErrLoad              = loader.ErrLoad
	ErrSave              = loader.ErrSave
	ErrUnsupportedFormat = loader.ErrUnsupportedFormat
)

// Load reads the model at path. The format is detected from the content
// (TFLite file identifier) and then from the extension.
func Load(path string) (*Model, error) {
	return loader.Load(path)
}

// Save writes m to path in the format implied by the extension.
func Save(path string, m *Model) error {
	return loader.Save(path, m)
}

// DemoModel returns a graph whose float32 input of shape [-1,-1] is
// reshaped to the target held by an int32 [2] input, optionally followed by
// a Relu.
func DemoModel(relu bool) *Model {
	return graph.UnknownDimReshape(relu)
}
