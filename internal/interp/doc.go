// Package interp executes a graph.Model on the CPU.
//
// An Interpreter owns a table of tensor slots, one per model tensor, and the
// model's operators in dependency order. Its lifecycle mirrors the usual
// mobile inference runtimes:
//
//	it, err := interp.New(model, interp.NewResolver())
//	// Declare a concrete shape for an input left unresolved by the model.
//	err = it.SetTensorParameters(0, tensor.Float32, "Placeholder", tensor.Shape{2, 3}, graph.Quantization{})
//	err = it.AllocateTensors()
//	in, err := interp.TypedTensor[float32](it, 0)
//	// fill in ...
//	err = it.Invoke()
//
// AllocateTensors propagates shapes through every node (each kernel's
// Prepare) before reserving buffers, so shape inconsistencies surface there
// when they can be computed statically. Outputs whose shape depends on
// runtime values are marked dynamic and resized during Invoke.
//
// The interpreter is not safe for concurrent use.
package interp
