package graph

import "github.com/born-ml/unknowndim/internal/tensor"

// Tensor names of the demonstration model.
const (
	DemoInputName  = "Placeholder"
	DemoShapeName  = "Placeholder_1"
	DemoOutputName = "Reshape"
	DemoReluName   = "Relu"
)

// UnknownDimReshape returns the demonstration model: a float32 input of
// shape [-1,-1] reshaped to the target held by an int32 [2] input.
//
//	0 Placeholder   float32 [-1,-1]  input
//	1 Placeholder_1 int32   [2]      input
//	2 Reshape       float32 [-1,-1]  Reshape(0, 1)
//
// With relu set, a Relu node is appended and its result (tensor 3) becomes
// the graph output.
func UnknownDimReshape(relu bool) *Model {
	unknown2D := tensor.Shape{tensor.UnknownDim, tensor.UnknownDim}

	m := &Model{
		Name:     "unknown_dim_reshape",
		Producer: "unknowndim",
		Tensors: []Tensor{
			{Name: DemoInputName, Type: tensor.Float32, Shape: tensor.Shape{}, Signature: unknown2D.Clone()},
			{Name: DemoShapeName, Type: tensor.Int32, Shape: tensor.Shape{2}},
			{Name: DemoOutputName, Type: tensor.Float32, Shape: tensor.Shape{}, Signature: unknown2D.Clone()},
		},
		Operators: []Operator{
			{OpType: "Reshape", BuiltinCode: -1, Inputs: []int{0, 1}, Outputs: []int{2}},
		},
		Inputs:  []int{0, 1},
		Outputs: []int{2},
	}

	if relu {
		m.Tensors = append(m.Tensors, Tensor{
			Name: DemoReluName, Type: tensor.Float32, Shape: tensor.Shape{}, Signature: unknown2D.Clone(),
		})
		m.Operators = append(m.Operators, Operator{
			OpType: "Relu", BuiltinCode: -1, Inputs: []int{2}, Outputs: []int{3},
		})
		m.Outputs = []int{3}
	}

	return m
}
