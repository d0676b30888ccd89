package interp

import (
	"fmt"
	"math"

	"github.com/born-ml/unknowndim/internal/tensor"
)

// registerShapeOps adds shape manipulation kernels to the resolver.
func (r *Resolver) registerShapeOps() {
	r.Register("Reshape", Registration{Prepare: prepareReshape, Eval: evalReshape})
	r.Register("Flatten", Registration{Prepare: prepareFlatten, Eval: evalFlatten})
	r.Register("Identity", Registration{Prepare: prepareIdentity, Eval: evalIdentity})
}

// reshapeTarget returns the requested shape of a Reshape node. The target
// comes from the second input when present, else from the new_shape (TFLite)
// or shape attribute. known is false when the target input is only
// available at runtime and runtime is false.
func reshapeTarget(ctx *Context, runtime bool) (target []int, known bool, err error) {
	if ctx.HasInput(1) {
		if raw, ok := ctx.ConstantInput(1); ok {
			target, err = raw.Ints()
			return target, err == nil, err
		}
		if !runtime {
			return nil, false, nil
		}
		raw, err := ctx.InputData(1)
		if err != nil {
			return nil, false, err
		}
		target, err = raw.Ints()
		return target, err == nil, err
	}

	for _, name := range []string{"new_shape", "shape"} {
		if ints, ok := ctx.Operator().AttrInts(name); ok {
			target = make([]int, len(ints))
			for i, v := range ints {
				target[i] = int(v)
			}
			return target, true, nil
		}
	}
	return nil, false, fmt.Errorf("reshape requires a target shape input or attribute")
}

// resolveTargetShape fills in a single -1 entry of target so that the result
// holds as many elements as in, and checks the element count. With
// copyZeros, a 0 entry takes the input dimension at the same position.
func resolveTargetShape(target []int, in tensor.Shape, copyZeros bool) (tensor.Shape, error) {
	numElements := in.NumElements()
	shape := make(tensor.Shape, len(target))
	inferred := -1
	known := 1
	for i, dim := range target {
		switch {
		case dim == -1:
			if inferred >= 0 {
				return nil, fmt.Errorf("target shape %v has more than one -1", target)
			}
			inferred = i
			shape[i] = dim
			continue
		case dim < 0:
			return nil, fmt.Errorf("target shape %v has negative dimension %d", target, dim)
		case dim == 0 && copyZeros:
			if i >= len(in) {
				return nil, fmt.Errorf("target shape %v copies dimension %d of %v", target, i, in)
			}
			dim = in[i]
		}
		if dim > 0 && known > math.MaxInt/dim {
			return nil, fmt.Errorf("%w: target shape %v", tensor.ErrTooLarge, target)
		}
		known *= dim
		shape[i] = dim
	}

	if inferred >= 0 {
		if known == 0 || numElements%known != 0 {
			return nil, fmt.Errorf("cannot infer dimension %d of %v for %d elements", inferred, target, numElements)
		}
		shape[inferred] = numElements / known
	}

	if n := shape.NumElements(); n != numElements {
		return nil, fmt.Errorf("cannot reshape %d elements into %v (%d elements)", numElements, shape, n)
	}
	return shape, nil
}

// reshapeCopiesZeros reports whether 0 entries of a Reshape target copy the input
// dimension. Models that carry no allowzero attribute treat 0 literally.
func reshapeCopiesZeros(ctx *Context) bool {
	return ctx.Operator().AttrInt("allowzero", 1) == 0
}

func prepareReshape(ctx *Context) error {
	in, err := ctx.InputInfo(0)
	if err != nil {
		return err
	}
	if ctx.HasInput(1) {
		shapeIn, err := ctx.InputInfo(1)
		if err != nil {
			return err
		}
		if shapeIn.Type != tensor.Int32 && shapeIn.Type != tensor.Int64 {
			return fmt.Errorf("reshape target must be int32 or int64, got %s", shapeIn.Type)
		}
		if len(shapeIn.Shape) > 1 {
			return fmt.Errorf("reshape target must be 1-D, got shape %v", shapeIn.Shape)
		}
	}

	target, known, err := reshapeTarget(ctx, false)
	if err != nil {
		return err
	}
	if !known {
		// The target is a runtime input; keep the input shape until Invoke.
		return ctx.SetOutput(0, in.Type, in.Shape, true)
	}

	shape, err := resolveTargetShape(target, in.Shape, reshapeCopiesZeros(ctx))
	if in.Dynamic {
		if err != nil {
			shape = in.Shape
		}
		return ctx.SetOutput(0, in.Type, shape, true)
	}
	if err != nil {
		return err
	}
	return ctx.SetOutput(0, in.Type, shape, false)
}

func evalReshape(ctx *Context) error {
	in, err := ctx.InputData(0)
	if err != nil {
		return err
	}
	target, _, err := reshapeTarget(ctx, true)
	if err != nil {
		return err
	}
	shape, err := resolveTargetShape(target, in.Shape(), reshapeCopiesZeros(ctx))
	if err != nil {
		return err
	}
	out, err := ctx.Output(0, shape)
	if err != nil {
		return err
	}
	copy(out.Data(), in.Data())
	return nil
}

// flattenShape collapses shape into 2-D around axis.
func flattenShape(shape tensor.Shape, axis int) (tensor.Shape, error) {
	rank := len(shape)
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis > rank {
		return nil, fmt.Errorf("flatten axis %d out of range for rank %d", axis, rank)
	}
	outer, inner := 1, 1
	for i, dim := range shape {
		if i < axis {
			outer *= dim
		} else {
			inner *= dim
		}
	}
	return tensor.Shape{outer, inner}, nil
}

func prepareFlatten(ctx *Context) error {
	in, err := ctx.InputInfo(0)
	if err != nil {
		return err
	}
	shape, err := flattenShape(in.Shape, int(ctx.Operator().AttrInt("axis", 1)))
	if err != nil {
		return err
	}
	return ctx.SetOutput(0, in.Type, shape, in.Dynamic)
}

func evalFlatten(ctx *Context) error {
	in, err := ctx.InputData(0)
	if err != nil {
		return err
	}
	shape, err := flattenShape(in.Shape(), int(ctx.Operator().AttrInt("axis", 1)))
	if err != nil {
		return err
	}
	out, err := ctx.Output(0, shape)
	if err != nil {
		return err
	}
	copy(out.Data(), in.Data())
	return nil
}

func prepareIdentity(ctx *Context) error {
	in, err := ctx.InputInfo(0)
	if err != nil {
		return err
	}
	return ctx.SetOutput(0, in.Type, in.Shape, in.Dynamic)
}

func evalIdentity(ctx *Context) error {
	in, err := ctx.InputData(0)
	if err != nil {
		return err
	}
	out, err := ctx.Output(0, in.Shape())
	if err != nil {
		return err
	}
	copy(out.Data(), in.Data())
	return nil
}
