package interp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unknowndim/internal/graph"
	"github.com/born-ml/unknowndim/internal/tensor"
)

func constData[T tensor.DType](t *testing.T, values []T) []byte {
	t.Helper()
	raw, err := tensor.FromSlice(values, tensor.Shape{len(values)})
	require.NoError(t, err)
	return raw.Data()
}

// reshapeConstModel reshapes a float32 [2,3] input to a constant target.
func reshapeConstModel(t *testing.T, target []int64) *graph.Model {
	t.Helper()
	return &graph.Model{
		Tensors: []graph.Tensor{
			{Name: "x", Type: tensor.Float32, Shape: tensor.Shape{2, 3}},
			{Name: "shape", Type: tensor.Int64, Shape: tensor.Shape{len(target)}, Data: constData(t, target)},
			{Name: "y", Type: tensor.Float32},
		},
		Operators: []graph.Operator{{OpType: "Reshape", Inputs: []int{0, 1}, Outputs: []int{2}}},
		Inputs:    []int{0},
		Outputs:   []int{2},
	}
}

// binaryModel applies op to two float32 inputs of the given shapes.
func binaryModel(op string, a, b tensor.Shape, attrs ...graph.Attribute) *graph.Model {
	return &graph.Model{
		Tensors: []graph.Tensor{
			{Name: "a", Type: tensor.Float32, Shape: a},
			{Name: "b", Type: tensor.Float32, Shape: b},
			{Name: "out", Type: tensor.Float32},
		},
		Operators: []graph.Operator{{OpType: op, Inputs: []int{0, 1}, Outputs: []int{2}, Attributes: attrs}},
		Inputs:    []int{0, 1},
		Outputs:   []int{2},
	}
}

// unaryModel applies op to one input of the given type and shape.
func unaryModel(op string, dtype tensor.DataType, shape tensor.Shape, attrs ...graph.Attribute) *graph.Model {
	return &graph.Model{
		Tensors: []graph.Tensor{
			{Name: "in", Type: dtype, Shape: shape},
			{Name: "out", Type: dtype},
		},
		Operators: []graph.Operator{{OpType: op, Inputs: []int{0}, Outputs: []int{1}, Attributes: attrs}},
		Inputs:    []int{0},
		Outputs:   []int{1},
	}
}

// run builds, allocates, fills the inputs in order and invokes m.
func run(t *testing.T, m *graph.Model, inputs ...[]float64) *Interpreter {
	t.Helper()
	it, err := New(m, NewResolver())
	require.NoError(t, err)
	require.NoError(t, it.AllocateTensors())
	for i, values := range inputs {
		require.NoError(t, it.WriteFloat64s(m.Inputs[i], values))
	}
	require.NoError(t, it.Invoke())
	return it
}

func TestReshapeConstantTarget(t *testing.T) {
	it, err := New(reshapeConstModel(t, []int64{3, -1}), NewResolver())
	require.NoError(t, err)
	require.NoError(t, it.AllocateTensors())

	// The constant target resolves the output during allocation.
	info, err := it.Tensor(2)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 2}, info.Shape)
	assert.False(t, info.Dynamic)

	require.NoError(t, it.WriteFloat64s(0, []float64{1, 2, 3, 4, 5, 6}))
	require.NoError(t, it.Invoke())

	out, err := it.ReadFloat64s(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, out)
}

func TestReshapeConstantTargetMismatch(t *testing.T) {
	it, err := New(reshapeConstModel(t, []int64{4, 2}), NewResolver())
	require.NoError(t, err)

	err = it.AllocateTensors()
	require.ErrorIs(t, err, ErrAllocation)
	assert.Contains(t, err.Error(), "cannot reshape 6 elements")
	assert.False(t, it.Allocated())
}

func TestReshapeAttributeTarget(t *testing.T) {
	m := unaryModel("Reshape", tensor.Float32, tensor.Shape{2, 3},
		graph.Attribute{Name: "new_shape", Ints: []int64{6}})
	it := run(t, m, []float64{1, 2, 3, 4, 5, 6})

	info, err := it.Tensor(1)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{6}, info.Shape)
}

func TestResolveTargetShape(t *testing.T) {
	tests := []struct {
		name      string
		target    []int
		in        tensor.Shape
		copyZeros bool
		want      tensor.Shape
		wantErr   bool
	}{
		{"exact", []int{1, 6}, tensor.Shape{2, 3}, false, tensor.Shape{1, 6}, false},
		{"infer", []int{-1, 2}, tensor.Shape{2, 3}, false, tensor.Shape{3, 2}, false},
		{"scalar", []int{}, tensor.Shape{}, false, tensor.Shape{}, false},
		{"copy zero", []int{0, -1}, tensor.Shape{2, 3}, true, tensor.Shape{2, 3}, false},
		{"literal zero", []int{0, 4}, tensor.Shape{0, 3}, false, tensor.Shape{0, 4}, false},
		{"count mismatch", []int{1, 6}, tensor.Shape{}, false, nil, true},
		{"two unknowns", []int{-1, -1}, tensor.Shape{2, 3}, false, nil, true},
		{"not divisible", []int{-1, 4}, tensor.Shape{2, 3}, false, nil, true},
		{"negative", []int{-2, 3}, tensor.Shape{2, 3}, false, nil, true},
		{"copy past rank", []int{1, 0, 6}, tensor.Shape{6}, true, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTargetShape(tt.target, tt.in, tt.copyZeros)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlatten(t *testing.T) {
	m := unaryModel("Flatten", tensor.Float32, tensor.Shape{2, 3, 4})
	it, err := New(m, NewResolver())
	require.NoError(t, err)
	require.NoError(t, it.AllocateTensors())

	info, err := it.Tensor(1)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 12}, info.Shape)
}

func TestIdentity(t *testing.T) {
	it := run(t, unaryModel("Identity", tensor.Float32, tensor.Shape{3}), []float64{1, -2, 3})
	out, err := it.ReadFloat64s(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -2, 3}, out)
}

func TestActivations(t *testing.T) {
	in := []float64{-8, -0.5, 0, 0.5, 8}
	tests := []struct {
		op   string
		want []float64
	}{
		{"Relu", []float64{0, 0, 0, 0.5, 8}},
		{"Relu6", []float64{0, 0, 0, 0.5, 6}},
		{"Sigmoid", []float64{1 / (1 + math.Exp(8)), 1 / (1 + math.Exp(0.5)), 0.5, 1 / (1 + math.Exp(-0.5)), 1 / (1 + math.Exp(-8))}},
		{"Tanh", []float64{math.Tanh(-8), math.Tanh(-0.5), 0, math.Tanh(0.5), math.Tanh(8)}},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			it := run(t, unaryModel(tt.op, tensor.Float64, tensor.Shape{5}), in)
			out, err := it.ReadFloat64s(1)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, out, 1e-12)
		})
	}
}

func TestActivationFloat16(t *testing.T) {
	it := run(t, unaryModel("Relu", tensor.Float16, tensor.Shape{4}), []float64{-1, 0.5, -0.25, 2})
	out, err := it.ReadFloat64s(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 0, 2}, out)
}

func TestActivationRejectsIntegers(t *testing.T) {
	it, err := New(unaryModel("Relu", tensor.Int32, tensor.Shape{4}), NewResolver())
	require.NoError(t, err)
	require.ErrorIs(t, it.AllocateTensors(), ErrAllocation)
}

func TestSoftmax(t *testing.T) {
	it := run(t, unaryModel("Softmax", tensor.Float32, tensor.Shape{2, 3}),
		[]float64{1, 2, 3, 0, 0, 0})
	out, err := it.ReadFloat64s(1)
	require.NoError(t, err)

	e1, e2, e3 := math.Exp(-2), math.Exp(-1), 1.0
	sum := e1 + e2 + e3
	want := []float64{e1 / sum, e2 / sum, e3 / sum, 1.0 / 3, 1.0 / 3, 1.0 / 3}
	assert.InDeltaSlice(t, want, out, 1e-6)
}

func TestSoftmaxAxisZero(t *testing.T) {
	it := run(t, unaryModel("Softmax", tensor.Float64, tensor.Shape{2, 2},
		graph.Attribute{Name: "axis", Int: 0}), []float64{0, 5, 0, 5})
	out, err := it.ReadFloat64s(1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0.5, 0.5}, out, 1e-12)
}

func TestSoftmaxCoerce2D(t *testing.T) {
	attrs := []graph.Attribute{{Name: "axis", Int: 1}, {Name: "coerce_2d", Int: 1}}
	it := run(t, unaryModel("Softmax", tensor.Float64, tensor.Shape{2, 2, 2}, attrs...),
		[]float64{0, 0, 0, 0, 1, 1, 1, 1})
	out, err := it.ReadFloat64s(1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.25, 0.25, 0.25, 0.25, 0.25, 0.25}, out, 1e-12)
}

func TestBinaryBroadcast(t *testing.T) {
	tests := []struct {
		op   string
		want []float64
	}{
		{"Add", []float64{11, 22, 33, 14, 25, 36}},
		{"Sub", []float64{-9, -18, -27, -6, -15, -24}},
		{"Mul", []float64{10, 40, 90, 40, 100, 180}},
		{"Div", []float64{0.1, 0.1, 0.1, 0.4, 0.25, 0.2}},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			it := run(t, binaryModel(tt.op, tensor.Shape{2, 3}, tensor.Shape{3}),
				[]float64{1, 2, 3, 4, 5, 6}, []float64{10, 20, 30})

			info, err := it.Tensor(2)
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{2, 3}, info.Shape)

			out, err := it.ReadFloat64s(2)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, out, 1e-6)
		})
	}
}

func TestBinaryFusedActivation(t *testing.T) {
	m := binaryModel("Sub", tensor.Shape{4}, tensor.Shape{1},
		graph.Attribute{Name: "fused_activation", Int: fusedRelu6})
	it := run(t, m, []float64{0, 2, 5, 20}, []float64{1})

	out, err := it.ReadFloat64s(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 4, 6}, out)
}

func TestBinaryRejectsIncompatibleShapes(t *testing.T) {
	it, err := New(binaryModel("Add", tensor.Shape{2, 3}, tensor.Shape{4}), NewResolver())
	require.NoError(t, err)
	require.ErrorIs(t, it.AllocateTensors(), ErrAllocation)
}

func TestIntegerDivisionByZero(t *testing.T) {
	m := binaryModel("Div", tensor.Shape{2}, tensor.Shape{2})
	m.Tensors[0].Type = tensor.Int32
	m.Tensors[1].Type = tensor.Int32
	m.Tensors[2].Type = tensor.Int32

	it, err := New(m, NewResolver())
	require.NoError(t, err)
	require.NoError(t, it.AllocateTensors())
	require.NoError(t, it.WriteFloat64s(0, []float64{4, 6}))
	require.NoError(t, it.WriteFloat64s(1, []float64{2, 0}))

	err = it.Invoke()
	require.ErrorIs(t, err, ErrExecution)
	assert.Contains(t, err.Error(), "division by zero")
}

func TestDynamicReshapeFeedsBinary(t *testing.T) {
	// Reshape with a runtime target followed by Add of a [1,6] bias.
	m := graph.UnknownDimReshape(false)
	m.Tensors = append(m.Tensors,
		graph.Tensor{Name: "bias", Type: tensor.Float32, Shape: tensor.Shape{1, 6},
			Data: constData(t, []float32{1, 1, 1, 1, 1, 1})},
		graph.Tensor{Name: "sum", Type: tensor.Float32},
	)
	m.Operators = append(m.Operators, graph.Operator{OpType: "Add", Inputs: []int{2, 3}, Outputs: []int{4}})
	m.Outputs = []int{4}

	it, err := New(m, NewResolver())
	require.NoError(t, err)
	resolveAndRun(t, it)

	info, err := it.Tensor(4)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 6}, info.Shape)

	out, err := TypedTensor[float32](it, 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{-2, -1, 0, 1, 2, 3}, out)
}

func TestResolverSupportedOps(t *testing.T) {
	r := NewResolver()
	ops := r.SupportedOps()
	assert.IsIncreasing(t, ops)
	for _, op := range []string{"Reshape", "Relu", "Add", "Softmax"} {
		assert.Contains(t, ops, op)
	}

	_, ok := r.Get("Conv")
	assert.False(t, ok)
	r.Register("Conv", Registration{Prepare: prepareIdentity, Eval: evalIdentity})
	_, ok = r.Get("Conv")
	assert.True(t, ok)
}
