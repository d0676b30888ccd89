package interp

import (
	"fmt"
	"sort"

	"k8s.io/klog/v2"

	"github.com/born-ml/unknowndim/internal/graph"
	"github.com/born-ml/unknowndim/internal/tensor"
)

// PrepareFunc propagates shapes: it validates a node's inputs and declares
// the type and shape of its outputs. It runs during AllocateTensors.
type PrepareFunc func(ctx *Context) error

// EvalFunc computes a node's outputs. It runs during Invoke.
type EvalFunc func(ctx *Context) error

// Registration is the kernel implementation of one operator type.
type Registration struct {
	Prepare PrepareFunc
	Eval    EvalFunc
}

// Resolver maps operator types to kernels.
type Resolver struct {
	kernels map[string]Registration
}

// NewResolver creates a resolver with all builtin kernels registered.
func NewResolver() *Resolver {
	r := &Resolver{
		kernels: make(map[string]Registration),
	}

	r.registerShapeOps()
	r.registerActivations()
	r.registerMathOps()

	return r
}

// Register adds or replaces the kernel for an operator type.
func (r *Resolver) Register(opType string, reg Registration) {
	r.kernels[opType] = reg
}

// Get returns the kernel for an operator type.
func (r *Resolver) Get(opType string) (Registration, bool) {
	reg, ok := r.kernels[opType]
	return reg, ok
}

// SupportedOps returns all registered operator types, sorted.
func (r *Resolver) SupportedOps() []string {
	ops := make([]string, 0, len(r.kernels))
	for op := range r.kernels {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Context gives a kernel access to the node it runs for.
type Context struct {
	it   *Interpreter
	node *Node
}

// Node returns the node being prepared or evaluated.
func (c *Context) Node() *Node {
	return c.node
}

// Operator returns the model operator, for attribute lookups.
func (c *Context) Operator() *graph.Operator {
	return c.node.op
}

// Logger returns the interpreter's logger.
func (c *Context) Logger() klog.Logger {
	return c.it.log
}

// NumInputs returns the number of input positions of the node.
func (c *Context) NumInputs() int {
	return len(c.node.Inputs)
}

// NumOutputs returns the number of outputs of the node.
func (c *Context) NumOutputs() int {
	return len(c.node.Outputs)
}

// HasInput reports whether input position i is present.
func (c *Context) HasInput(i int) bool {
	return i >= 0 && i < len(c.node.Inputs) && c.node.Inputs[i] >= 0
}

func (c *Context) inputSlot(i int) (*slot, error) {
	if !c.HasInput(i) {
		return nil, fmt.Errorf("missing input %d", i)
	}
	return c.it.slots[c.node.Inputs[i]], nil
}

func (c *Context) outputSlot(i int) (*slot, error) {
	if i < 0 || i >= len(c.node.Outputs) {
		return nil, fmt.Errorf("missing output %d", i)
	}
	return c.it.slots[c.node.Outputs[i]], nil
}

// InputInfo describes input i as currently known: during Prepare the shape
// is the propagated one, during Eval it is the shape of the actual buffer.
func (c *Context) InputInfo(i int) (TensorInfo, error) {
	s, err := c.inputSlot(i)
	if err != nil {
		return TensorInfo{}, err
	}
	if !s.resolved() {
		return TensorInfo{}, fmt.Errorf("input %d (tensor %d) has unresolved shape %v", i, s.index, s.shape)
	}
	return s.info(), nil
}

// ConstantInput returns the data of input i when it is a model constant.
func (c *Context) ConstantInput(i int) (*tensor.RawTensor, bool) {
	s, err := c.inputSlot(i)
	if err != nil || !s.isConstant() {
		return nil, false
	}
	return s.raw, true
}

// InputData returns the buffer of input i. Only valid during Eval, or for
// constants.
func (c *Context) InputData(i int) (*tensor.RawTensor, error) {
	s, err := c.inputSlot(i)
	if err != nil {
		return nil, err
	}
	if s.raw == nil {
		return nil, fmt.Errorf("input %d (tensor %d) has no storage", i, s.index)
	}
	return s.raw, nil
}

// SetOutput declares type and shape of output i during Prepare. A dynamic
// output may be resized during Eval; its shape here is provisional.
func (c *Context) SetOutput(i int, dtype tensor.DataType, shape tensor.Shape, dynamic bool) error {
	s, err := c.outputSlot(i)
	if err != nil {
		return err
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("output %d (tensor %d): %w", i, s.index, err)
	}
	s.dtype = dtype
	s.shape = shape.Clone()
	s.dynamic = dynamic
	return nil
}

// Output returns the buffer of output i for a result of the given shape.
// Dynamic outputs are resized as needed; for static outputs a shape that
// disagrees with the one computed during allocation is an error.
func (c *Context) Output(i int, shape tensor.Shape) (*tensor.RawTensor, error) {
	s, err := c.outputSlot(i)
	if err != nil {
		return nil, err
	}
	if s.raw != nil && s.raw.Shape().Equal(shape) {
		return s.raw, nil
	}
	if !s.dynamic {
		return nil, fmt.Errorf("output %d (tensor %d) has shape %v, allocated %v", i, s.index, shape, s.shape)
	}

	raw, err := tensor.NewRaw(shape, s.dtype)
	if err != nil {
		return nil, fmt.Errorf("output %d (tensor %d): %w", i, s.index, err)
	}
	c.it.log.V(2).Info("resized dynamic tensor", "index", s.index, "from", s.shape, "to", shape)
	s.shape = shape.Clone()
	s.raw = raw
	return raw, nil
}
