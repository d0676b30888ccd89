package interp

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/born-ml/unknowndim/internal/graph"
	"github.com/born-ml/unknowndim/internal/tensor"
)

// Options configures interpreter behavior.
type Options struct {
	// StrictShapes fails AllocateTensors when an input shape is still
	// unresolved (default: false = treat it as a scalar and warn).
	StrictShapes bool

	// Logger receives allocation warnings and per-node traces (V(2)).
	Logger klog.Logger
}

// DefaultOptions returns default interpreter options.
func DefaultOptions() Options {
	return Options{
		StrictShapes: false,
		Logger:       klog.Background(),
	}
}

// SlotKind classifies a tensor slot by its role in the graph.
type SlotKind int

// Slot kinds.
const (
	KindIntermediate SlotKind = iota
	KindInput
	KindOutput
	KindConstant
)

// String returns the kind name.
func (k SlotKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindOutput:
		return "output"
	case KindConstant:
		return "constant"
	default:
		return "intermediate"
	}
}

// slot is one entry of the tensor table.
type slot struct {
	index        int
	name         string
	dtype        tensor.DataType
	shape        tensor.Shape // nil while the rank is unknown
	kind         SlotKind
	quantization graph.Quantization
	dynamic      bool
	producer     int // node index, -1 when not produced by any node
	raw          *tensor.RawTensor
}

func (s *slot) isConstant() bool {
	return s.kind == KindConstant
}

// resolved reports whether the slot has a known rank and concrete dims.
func (s *slot) resolved() bool {
	return s.shape != nil && s.shape.IsResolved()
}

// Node is an operator of the execution plan.
type Node struct {
	Index       int
	OpType      string
	BuiltinCode int32
	CustomName  string
	Inputs      []int
	Outputs     []int

	op  *graph.Operator
	reg Registration
}

// Interpreter is the execution plan built from a model.
type Interpreter struct {
	model     *graph.Model
	resolver  *Resolver
	opts      Options
	log       klog.Logger
	slots     []*slot
	nodes     []*Node // model order
	order     []*Node // dependency order
	allocated bool
}

// New builds an interpreter for model using the kernels in resolver.
// Fails with ErrBuild when the model is inconsistent, uses an operator the
// resolver does not know, or contains a cycle.
func New(model *graph.Model, resolver *Resolver, opts ...Options) (*Interpreter, error) {
	opt := DefaultOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	if model == nil {
		return nil, fmt.Errorf("%w: model is nil", ErrBuild)
	}
	if resolver == nil {
		return nil, fmt.Errorf("%w: resolver is nil", ErrBuild)
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	it := &Interpreter{
		model:    model,
		resolver: resolver,
		opts:     opt,
		log:      opt.Logger,
	}

	if err := it.buildSlots(); err != nil {
		return nil, err
	}
	if err := it.buildNodes(); err != nil {
		return nil, err
	}

	order, err := topologicalSort(it.nodes, it.slots)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}
	it.order = order

	it.log.V(1).Info("built interpreter", "model", model.Name, "format", model.Format,
		"tensors", len(it.slots), "nodes", len(it.nodes))
	return it, nil
}

func (it *Interpreter) buildSlots() error {
	m := it.model
	it.slots = make([]*slot, len(m.Tensors))
	for i := range m.Tensors {
		t := &m.Tensors[i]
		s := &slot{
			index:        i,
			name:         t.Name,
			dtype:        t.Type,
			kind:         KindIntermediate,
			quantization: t.Quantization,
			producer:     -1,
		}
		if declared := t.DeclaredShape(); declared != nil {
			s.shape = declared.Clone()
		}

		if t.IsConstant() {
			raw, err := tensor.FromBytes(t.Shape, t.Type, t.Data)
			if err != nil {
				return fmt.Errorf("%w: constant tensor %d (%s): %w", ErrBuild, i, t.Name, err)
			}
			s.kind = KindConstant
			s.shape = t.Shape.Clone()
			s.raw = raw
		}
		it.slots[i] = s
	}

	for _, idx := range m.Outputs {
		if it.slots[idx].kind == KindIntermediate {
			it.slots[idx].kind = KindOutput
		}
	}
	for _, idx := range m.Inputs {
		if it.slots[idx].kind != KindConstant {
			it.slots[idx].kind = KindInput
		}
	}
	return nil
}

func (it *Interpreter) buildNodes() error {
	m := it.model
	it.nodes = make([]*Node, len(m.Operators))
	for i := range m.Operators {
		op := &m.Operators[i]
		reg, ok := it.resolver.Get(op.OpType)
		if !ok {
			return fmt.Errorf("%w: node %d: unsupported operator %q", ErrBuild, i, op.OpType)
		}
		n := &Node{
			Index:       i,
			OpType:      op.OpType,
			BuiltinCode: op.BuiltinCode,
			CustomName:  op.CustomName,
			Inputs:      append([]int(nil), op.Inputs...),
			Outputs:     append([]int(nil), op.Outputs...),
			op:          op,
			reg:         reg,
		}
		for _, out := range n.Outputs {
			it.slots[out].producer = i
		}
		it.nodes[i] = n
	}
	return nil
}

// topologicalSort orders nodes so that every producer runs before its
// consumers. Returns an error when the graph has a cycle.
func topologicalSort(nodes []*Node, slots []*slot) ([]*Node, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(nodes))
	result := make([]*Node, 0, len(nodes))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("graph has a cycle through node %d (%s)", i, nodes[i].OpType)
		}
		state[i] = visiting

		// Visit dependencies first
		for _, input := range nodes[i].Inputs {
			if input < 0 {
				continue
			}
			if dep := slots[input].producer; dep >= 0 {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		state[i] = done
		result = append(result, nodes[i])
		return nil
	}

	for i := range nodes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Model returns the model the interpreter was built from.
func (it *Interpreter) Model() *graph.Model {
	return it.model
}

// NumTensors returns the number of tensor slots.
func (it *Interpreter) NumTensors() int {
	return len(it.slots)
}

// Inputs returns the graph input slot indices.
func (it *Interpreter) Inputs() []int {
	return append([]int(nil), it.model.Inputs...)
}

// Outputs returns the graph output slot indices.
func (it *Interpreter) Outputs() []int {
	return append([]int(nil), it.model.Outputs...)
}

// Allocated reports whether storage is allocated and Invoke may run.
func (it *Interpreter) Allocated() bool {
	return it.allocated
}

func (it *Interpreter) slot(index int) (*slot, error) {
	if index < 0 || index >= len(it.slots) {
		return nil, fmt.Errorf("%w: tensor %d (interpreter has %d tensors)", ErrInvalidIndex, index, len(it.slots))
	}
	return it.slots[index], nil
}
