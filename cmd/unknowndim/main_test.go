package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unknowndim/internal/interp"
	"github.com/born-ml/unknowndim/internal/loader"
	"github.com/born-ml/unknowndim/internal/onnx"
	"github.com/born-ml/unknowndim/internal/tensor"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func genDemo(t *testing.T, name string, extra ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	out, _, err := execute(t, append([]string{"gen-model", path}, extra...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)
	return path
}

func TestRunDemoModel(t *testing.T) {
	for _, name := range []string{"unknown_dim.tflite", "unknown_dim.onnx"} {
		t.Run(name, func(t *testing.T) {
			path := genDemo(t, name)

			out, _, err := execute(t, path)
			require.NoError(t, err)

			assert.Contains(t, out, "=== Pre-invoke Interpreter State ===")
			assert.Contains(t, out, "=== Input value => -3.000000, -2.000000, -1.000000, 0.000000, 1.000000, 2.000000")
			assert.Contains(t, out, "=== new shape of RESHAPE op => 1, 6")
			assert.Contains(t, out, "=== Post-invoke Interpreter State ===")
			assert.Contains(t, out, "\t - tensor #0: [2,3]")
			assert.Contains(t, out, "\t - tensor #1: [2]")
			assert.Contains(t, out, "\t - tensor #2: [1,6]")
			assert.Contains(t, out, "=== Output value => -3.000000, -2.000000, -1.000000, 0.000000, 1.000000, 2.000000")
			assert.Contains(t, out, "Done.")
		})
	}
}

func TestRunReluModel(t *testing.T) {
	path := genDemo(t, "relu.tflite", "--relu")

	out, _, err := execute(t, path)
	require.NoError(t, err)
	assert.Contains(t, out, "\t - tensor #3: [1,6]")
	assert.Contains(t, out, "=== Output value => 0.000000, 0.000000, 0.000000, 0.000000, 1.000000, 2.000000")

	// The Reshape output can still be read directly.
	out, _, err = execute(t, "--output-index", "2", path)
	require.NoError(t, err)
	assert.Contains(t, out, "=== Output value => -3.000000, -2.000000")
}

func TestRunCustomShape(t *testing.T) {
	path := genDemo(t, "unknown_dim.tflite")

	out, _, err := execute(t,
		"--input-shape", "3,2",
		"--input-values", "1,2,3,4,5,6",
		"--new-shape", "6,1",
		path)
	require.NoError(t, err)
	assert.Contains(t, out, "\t - tensor #0: [3,2]")
	assert.Contains(t, out, "\t - tensor #2: [6,1]")
}

func TestRunUsage(t *testing.T) {
	tests := [][]string{
		{},
		{"a.tflite", "b.tflite"},
		{"gen-model"},
		{"inspect", "a", "b"},
		{"--no-such-flag", "a.tflite"},
	}
	for _, args := range tests {
		out, stderr, err := execute(t, args...)
		require.ErrorIs(t, err, ErrUsage, "args %q", args)
		assert.Contains(t, stderr, "Usage:", "args %q", args)
		assert.NotContains(t, out, "Interpreter State")
	}
}

// writeOversizedConstant writes an ONNX model whose initializer declares
// far more elements than it carries.
func writeOversizedConstant(t *testing.T) string {
	t.Helper()
	mp := &onnx.ModelProto{
		IRVersion:   8,
		OpsetImport: []onnx.OperatorSetID{{Version: 14}},
		Graph: &onnx.GraphProto{
			Name:  "oversized",
			Nodes: []onnx.NodeProto{{OpType: "Relu", Inputs: []string{"c"}, Outputs: []string{"y"}}},
			Initializers: []onnx.TensorProto{{
				Name:     "c",
				DataType: onnx.TensorProtoFloat,
				Dims:     []int64{1 << 20, 1 << 20, 1 << 20},
				RawData:  make([]byte, 8),
			}},
			Outputs: []onnx.ValueInfoProto{{Name: "y"}},
		},
	}
	path := filepath.Join(t.TempDir(), "oversized.onnx")
	require.NoError(t, os.WriteFile(path, onnx.Marshal(mp), 0o600))
	return path
}

func TestRunFailures(t *testing.T) {
	path := genDemo(t, "unknown_dim.tflite")

	tests := []struct {
		name   string
		args   []string
		target error
		step   string
	}{
		{
			name:   "missing model",
			args:   []string{filepath.Join(t.TempDir(), "missing.tflite")},
			target: loader.ErrLoad,
			step:   "load model",
		},
		{
			name:   "oversized constant",
			args:   []string{writeOversizedConstant(t)},
			target: tensor.ErrTooLarge,
			step:   "load model",
		},
		{
			name:   "oversized input shape",
			args:   []string{"--input-shape", "100000000,100000000", path},
			target: interp.ErrAllocation,
			step:   "allocate tensors",
		},
		{
			name:   "skipped resolution",
			args:   []string{"--skip-resolve", path},
			target: interp.ErrExecution,
			step:   "invoke",
		},
		{
			name:   "strict shapes",
			args:   []string{"--skip-resolve", "--strict-shapes", path},
			target: interp.ErrAllocation,
			step:   "allocate tensors",
		},
		{
			name:   "input index out of range",
			args:   []string{"--input-index", "5", path},
			target: interp.ErrInvalidIndex,
			step:   "resolve input shape",
		},
		{
			name:   "negative dimension",
			args:   []string{"--input-shape", "-2,3", path},
			target: interp.ErrInvalidShape,
			step:   "resolve input shape",
		},
		{
			name:   "element count mismatch",
			args:   []string{"--new-shape", "4,2", path},
			target: interp.ErrExecution,
			step:   "invoke",
		},
		{
			name:   "unknown input type",
			args:   []string{"--input-type", "complex64", path},
			target: ErrUsage,
			step:   "unknown input type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, tt.args...)
			require.ErrorIs(t, err, tt.target)
			assert.ErrorContains(t, err, tt.step)
			assert.NotContains(t, out, "Done.")
		})
	}
}

func TestInspect(t *testing.T) {
	path := genDemo(t, "unknown_dim.onnx", "--relu")

	out, _, err := execute(t, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Model: unknown_dim_reshape (ONNX, produced by unknowndim)")
	assert.Contains(t, out, "Interpreter has 4 tensors and 2 nodes")
	assert.Contains(t, out, "[-1,-1]")
	assert.Contains(t, out, "Relu")
}

func TestGenModelRejectsUnknownExtension(t *testing.T) {
	_, _, err := execute(t, "gen-model", filepath.Join(t.TempDir(), "model.txt"))
	require.ErrorIs(t, err, loader.ErrSave)
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "unknowndim "+version+"\n", out)
}
