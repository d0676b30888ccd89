package interp

import (
	"fmt"

	"github.com/born-ml/unknowndim/internal/tensor"
)

// AllocateTensors resolves every slot shape, propagates shapes through the
// graph and allocates a zeroed buffer for each non-constant slot.
//
// An input slot whose shape is still unresolved is treated as a scalar
// unless Options.StrictShapes is set, in which case it is an error.
// Failures wrap ErrAllocation.
func (it *Interpreter) AllocateTensors() error {
	it.allocated = false

	for _, s := range it.slots {
		if s.isConstant() || s.producer >= 0 {
			continue
		}
		s.dynamic = false
		if s.resolved() {
			continue
		}
		if it.opts.StrictShapes {
			return fmt.Errorf("%w: tensor %d (%s) has unresolved shape %v", ErrAllocation, s.index, s.name, s.shape)
		}
		it.log.Info("Tensor shape is unresolved, treating it as a scalar",
			"index", s.index, "name", s.name, "shape", s.shape)
		s.shape = tensor.Shape{}
	}

	for _, n := range it.order {
		for _, out := range n.Outputs {
			it.slots[out].dynamic = false
		}
		if n.reg.Prepare == nil {
			continue
		}
		ctx := &Context{it: it, node: n}
		if err := n.reg.Prepare(ctx); err != nil {
			return fmt.Errorf("%w: node %d (%s): %w", ErrAllocation, n.Index, n.OpType, err)
		}
	}

	for _, s := range it.slots {
		if s.isConstant() {
			continue
		}
		if !s.resolved() {
			return fmt.Errorf("%w: tensor %d (%s) has unresolved shape %v", ErrAllocation, s.index, s.name, s.shape)
		}
		raw, err := tensor.NewRaw(s.shape, s.dtype)
		if err != nil {
			return fmt.Errorf("%w: tensor %d (%s): %w", ErrAllocation, s.index, s.name, err)
		}
		s.raw = raw
	}

	it.allocated = true
	it.log.V(1).Info("allocated tensors", "tensors", len(it.slots))
	return nil
}

// Invoke runs every node in dependency order.
// Failures wrap ErrExecution and name the failing node.
func (it *Interpreter) Invoke() error {
	if !it.allocated {
		return fmt.Errorf("%w: tensors are not allocated, call AllocateTensors first", ErrExecution)
	}

	for _, n := range it.order {
		ctx := &Context{it: it, node: n}
		if err := n.reg.Eval(ctx); err != nil {
			return fmt.Errorf("%w: node %d (%s): %w", ErrExecution, n.Index, n.OpType, err)
		}
		it.log.V(2).Info("evaluated node", "index", n.Index, "op", n.OpType,
			"inputs", n.Inputs, "outputs", n.Outputs)
	}
	return nil
}
