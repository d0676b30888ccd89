package interp

import (
	"fmt"

	"github.com/x448/float16"

	"github.com/born-ml/unknowndim/internal/tensor"
)

// registerMathOps adds element-wise arithmetic kernels to the resolver.
// All of them broadcast their operands NumPy-style.
func (r *Resolver) registerMathOps() {
	r.Register("Add", binaryKernel(binaryAdd))
	r.Register("Sub", binaryKernel(binarySub))
	r.Register("Mul", binaryKernel(binaryMul))
	r.Register("Div", binaryKernel(binaryDiv))
}

type binaryOp int

const (
	binaryAdd binaryOp = iota
	binarySub
	binaryMul
	binaryDiv
)

type number interface {
	~int32 | ~int64 | ~float32 | ~float64
}

func apply[T number](op binaryOp, a, b T) T {
	switch op {
	case binarySub:
		return a - b
	case binaryMul:
		return a * b
	case binaryDiv:
		return a / b
	default:
		return a + b
	}
}

// broadcastBinary computes out = a op b over the broadcast shape.
func broadcastBinary[T number](op binaryOp, a, b, out []T, aShape, bShape, outShape tensor.Shape) {
	for i := range out {
		x := a[tensor.BroadcastIndex(i, outShape, aShape)]
		y := b[tensor.BroadcastIndex(i, outShape, bShape)]
		out[i] = apply(op, x, y)
	}
}

func binaryKernel(op binaryOp) Registration {
	return Registration{
		Prepare: func(ctx *Context) error {
			a, err := ctx.InputInfo(0)
			if err != nil {
				return err
			}
			b, err := ctx.InputInfo(1)
			if err != nil {
				return err
			}
			if a.Type != b.Type {
				return fmt.Errorf("operand types differ: %s vs %s", a.Type, b.Type)
			}
			switch a.Type {
			case tensor.Float32, tensor.Float64, tensor.Float16, tensor.Int32, tensor.Int64:
			default:
				return fmt.Errorf("unsupported type %s", a.Type)
			}
			if _, err := fusedActivation(ctx.Operator().AttrInt("fused_activation", fusedNone)); err != nil {
				return err
			}
			shape, _, err := tensor.BroadcastShapes(a.Shape, b.Shape)
			if err != nil {
				if a.Dynamic || b.Dynamic {
					// Provisional shapes may not broadcast yet; Invoke checks the real ones.
					return ctx.SetOutput(0, a.Type, a.Shape, true)
				}
				return err
			}
			return ctx.SetOutput(0, a.Type, shape, a.Dynamic || b.Dynamic)
		},
		Eval: func(ctx *Context) error {
			return evalBinary(ctx, op)
		},
	}
}

func evalBinary(ctx *Context, op binaryOp) error {
	a, err := ctx.InputData(0)
	if err != nil {
		return err
	}
	b, err := ctx.InputData(1)
	if err != nil {
		return err
	}
	shape, _, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return err
	}
	out, err := ctx.Output(0, shape)
	if err != nil {
		return err
	}

	switch a.DType() {
	case tensor.Float32:
		broadcastBinary(op, a.AsFloat32(), b.AsFloat32(), out.AsFloat32(), a.Shape(), b.Shape(), shape)
	case tensor.Float64:
		broadcastBinary(op, a.AsFloat64(), b.AsFloat64(), out.AsFloat64(), a.Shape(), b.Shape(), shape)
	case tensor.Float16:
		av, bv := float16To32(a.AsFloat16()), float16To32(b.AsFloat16())
		result := make([]float32, out.NumElements())
		broadcastBinary(op, av, bv, result, a.Shape(), b.Shape(), shape)
		dst := out.AsFloat16()
		for i, v := range result {
			dst[i] = float16.Fromfloat32(v)
		}
	case tensor.Int32:
		if op == binaryDiv && hasZero(b.AsInt32()) {
			return fmt.Errorf("integer division by zero")
		}
		broadcastBinary(op, a.AsInt32(), b.AsInt32(), out.AsInt32(), a.Shape(), b.Shape(), shape)
	case tensor.Int64:
		if op == binaryDiv && hasZero(b.AsInt64()) {
			return fmt.Errorf("integer division by zero")
		}
		broadcastBinary(op, a.AsInt64(), b.AsInt64(), out.AsInt64(), a.Shape(), b.Shape(), shape)
	default:
		return fmt.Errorf("unsupported type %s", a.DType())
	}

	act, err := fusedActivation(ctx.Operator().AttrInt("fused_activation", fusedNone))
	if err != nil {
		return err
	}
	if act != nil && out.DType().IsFloat() {
		return mapFloats(out, out, act)
	}
	return nil
}

func float16To32(src []float16.Float16) []float32 {
	dst := make([]float32, len(src))
	for i, v := range src {
		dst[i] = v.Float32()
	}
	return dst
}

func hasZero[T int32 | int64](values []T) bool {
	for _, v := range values {
		if v == 0 {
			return true
		}
	}
	return false
}
