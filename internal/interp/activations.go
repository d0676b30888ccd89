package interp

import (
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/born-ml/unknowndim/internal/tensor"
)

// registerActivations adds activation kernels to the resolver.
func (r *Resolver) registerActivations() {
	r.Register("Relu", unaryFloatKernel(relu))
	r.Register("Relu6", unaryFloatKernel(relu6))
	r.Register("Sigmoid", unaryFloatKernel(sigmoid))
	r.Register("Tanh", unaryFloatKernel(math.Tanh))
	r.Register("Softmax", Registration{Prepare: prepareUnaryFloat, Eval: evalSoftmax})
}

func relu(v float64) float64 {
	return math.Max(v, 0)
}

func relu6(v float64) float64 {
	return math.Min(math.Max(v, 0), 6)
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// Fused activation codes, as stored in TFLite builtin options.
const (
	fusedNone      = 0
	fusedRelu      = 1
	fusedReluN1To1 = 2
	fusedRelu6     = 3
	fusedTanh      = 4
)

// fusedActivation returns the element function for a fused activation code.
func fusedActivation(code int64) (func(float64) float64, error) {
	switch code {
	case fusedNone:
		return nil, nil
	case fusedRelu:
		return relu, nil
	case fusedReluN1To1:
		return func(v float64) float64 { return math.Min(math.Max(v, -1), 1) }, nil
	case fusedRelu6:
		return relu6, nil
	case fusedTanh:
		return math.Tanh, nil
	default:
		return nil, fmt.Errorf("unsupported fused activation %d", code)
	}
}

func unaryFloatKernel(fn func(float64) float64) Registration {
	return Registration{
		Prepare: prepareUnaryFloat,
		Eval: func(ctx *Context) error {
			in, err := ctx.InputData(0)
			if err != nil {
				return err
			}
			out, err := ctx.Output(0, in.Shape())
			if err != nil {
				return err
			}
			return mapFloats(in, out, fn)
		},
	}
}

func prepareUnaryFloat(ctx *Context) error {
	in, err := ctx.InputInfo(0)
	if err != nil {
		return err
	}
	if !in.Type.IsFloat() {
		return fmt.Errorf("expected a floating point input, got %s", in.Type)
	}
	return ctx.SetOutput(0, in.Type, in.Shape, in.Dynamic)
}

// mapFloats applies fn to every element of in and stores the result in out.
// Both tensors must have the same floating point type and element count.
func mapFloats(in, out *tensor.RawTensor, fn func(float64) float64) error {
	switch in.DType() {
	case tensor.Float32:
		src, dst := in.AsFloat32(), out.AsFloat32()
		for i, v := range src {
			dst[i] = float32(fn(float64(v)))
		}
	case tensor.Float64:
		src, dst := in.AsFloat64(), out.AsFloat64()
		for i, v := range src {
			dst[i] = fn(v)
		}
	case tensor.Float16:
		src, dst := in.AsFloat16(), out.AsFloat16()
		for i, v := range src {
			dst[i] = float16.Fromfloat32(float32(fn(float64(v.Float32()))))
		}
	default:
		return fmt.Errorf("unsupported type %s", in.DType())
	}
	return nil
}

func evalSoftmax(ctx *Context) error {
	in, err := ctx.InputData(0)
	if err != nil {
		return err
	}
	out, err := ctx.Output(0, in.Shape())
	if err != nil {
		return err
	}

	shape := in.Shape()
	if len(shape) == 0 {
		return mapFloats(in, out, func(float64) float64 { return 1 })
	}
	axis := int(ctx.Operator().AttrInt("axis", -1))
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return fmt.Errorf("softmax axis %d out of range for rank %d", axis, len(shape))
	}
	beta := float64(ctx.Operator().AttrFloat("beta", 1))

	values := in.Float64s()
	axisLen := shape[axis]
	inner := 1
	for _, dim := range shape[axis+1:] {
		inner *= dim
	}
	if ctx.Operator().AttrInt("coerce_2d", 0) != 0 {
		// The input is viewed as 2-D at axis and normalised over each row.
		axisLen *= inner
		inner = 1
	}
	outer := len(values) / max(axisLen*inner, 1)

	for o := 0; o < outer; o++ {
		for j := 0; j < inner; j++ {
			base := o*axisLen*inner + j
			maxVal := math.Inf(-1)
			for k := 0; k < axisLen; k++ {
				maxVal = math.Max(maxVal, values[base+k*inner])
			}
			sum := 0.0
			for k := 0; k < axisLen; k++ {
				idx := base + k*inner
				values[idx] = math.Exp(beta * (values[idx] - maxVal))
				sum += values[idx]
			}
			for k := 0; k < axisLen; k++ {
				values[base+k*inner] /= sum
			}
		}
	}
	return out.SetFloat64s(values)
}
