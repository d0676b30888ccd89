package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/born-ml/unknowndim/internal/graph"
	"github.com/born-ml/unknowndim/internal/onnx"
	"github.com/born-ml/unknowndim/internal/tflite"
)

// Errors returned by Load and Save.
var (
	ErrLoad              = errors.New("failed to load model")
	ErrSave              = errors.New("failed to save model")
	ErrUnsupportedFormat = errors.New("unsupported model format")
)

// DetectFormat picks the model format from the file content, falling back
// to the extension. TFLite files carry the "TFL3" identifier; ONNX files
// have no magic number, so anything else named .onnx (or .pb) is treated
// as a protobuf.
func DetectFormat(path string, data []byte) graph.Format {
	if tflite.HasIdentifier(data) {
		return graph.FormatTFLite
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tflite":
		return graph.FormatTFLite
	case ".onnx", ".pb":
		return graph.FormatONNX
	default:
		return graph.FormatUnknown
	}
}

// Load reads the model at path. Every failure wraps ErrLoad.
//
//nolint:gosec // G304: Path is provided by user, file inclusion is intentional for model loading
func Load(path string) (*graph.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	m, err := Decode(path, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}
	return m, nil
}

// Decode decodes model bytes. path is only used to detect the format.
func Decode(path string, data []byte) (*graph.Model, error) {
	if len(data) == 0 {
		return nil, errors.New("file is empty")
	}

	var (
		m   *graph.Model
		err error
	)
	switch format := DetectFormat(path, data); format {
	case graph.FormatTFLite:
		m, err = tflite.Read(data)
	case graph.FormatONNX:
		var mp *onnx.ModelProto
		if mp, err = onnx.Parse(data); err == nil {
			m, err = onnx.ToGraph(mp)
		}
	default:
		return nil, fmt.Errorf("%w: %q (expected a TFLite flatbuffer or .onnx)", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	if len(m.Operators) == 0 {
		return nil, errors.New("model graph has no operators")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode serializes m in the given format.
func Encode(m *graph.Model, format graph.Format) ([]byte, error) {
	switch format {
	case graph.FormatTFLite:
		return tflite.Write(m)
	case graph.FormatONNX:
		mp, err := onnx.FromGraph(m)
		if err != nil {
			return nil, err
		}
		return onnx.Marshal(mp), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// Save writes m to path in the format implied by its extension (.tflite or
// .onnx). Every failure wraps ErrSave.
func Save(path string, m *graph.Model) error {
	var format graph.Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tflite":
		format = graph.FormatTFLite
	case ".onnx":
		format = graph.FormatONNX
	default:
		return fmt.Errorf("%w: %w: %q (expected .tflite or .onnx)", ErrSave, ErrUnsupportedFormat, filepath.Ext(path))
	}

	data, err := Encode(m, format)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSave, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", ErrSave, err)
	}
	return nil
}
