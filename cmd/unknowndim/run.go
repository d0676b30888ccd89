package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/born-ml/unknowndim/internal/graph"
	"github.com/born-ml/unknowndim/internal/interp"
	"github.com/born-ml/unknowndim/internal/loader"
	"github.com/born-ml/unknowndim/internal/tensor"
)

// runModel executes the load, resolve, allocate, fill, invoke and print
// sequence. Errors are prefixed with the step that failed.
func runModel(ctx context.Context, w io.Writer, path string, opts runOptions) error {
	log := klog.FromContext(ctx)

	dtype, ok := tensor.ParseDataType(opts.inputType)
	if !ok {
		return fmt.Errorf("%w: unknown input type %q", ErrUsage, opts.inputType)
	}

	model, err := loader.Load(path)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	log.Info("Loaded model", "path", path, "format", model.Format, "tensors", len(model.Tensors), "operators", len(model.Operators))

	it, err := interp.New(model, interp.NewResolver(), interp.Options{
		StrictShapes: opts.strictShapes,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("build interpreter: %w", err)
	}

	if opts.skipResolve {
		log.Info("Skipping input shape resolution", "index", opts.inputIndex)
	} else {
		err := it.SetTensorParameters(opts.inputIndex, dtype, opts.inputName, tensor.Shape(opts.inputShape), graph.Quantization{})
		if err != nil {
			return fmt.Errorf("resolve input shape: %w", err)
		}
	}

	if err := it.AllocateTensors(); err != nil {
		return fmt.Errorf("allocate tensors: %w", err)
	}
	fmt.Fprintln(w, "=== Pre-invoke Interpreter State ===")
	if err := interp.PrintState(w, it); err != nil {
		return err
	}

	values, err := fitValues(it, opts.inputIndex, opts.inputValues)
	if err != nil {
		return fmt.Errorf("fill input: %w", err)
	}
	if len(values) != len(opts.inputValues) {
		log.Info("Input value count does not match the tensor, values were truncated or padded", "index", opts.inputIndex,
			"values", len(opts.inputValues), "elements", len(values))
	}
	if err := it.WriteFloat64s(opts.inputIndex, values); err != nil {
		return fmt.Errorf("fill input: %w", err)
	}
	fmt.Fprintf(w, "=== Input value => %s\n", interp.FormatValues(values))

	if opts.shapeIndex >= 0 {
		target := make([]float64, len(opts.newShape))
		for i, dim := range opts.newShape {
			target[i] = float64(dim)
		}
		if err := it.WriteFloat64s(opts.shapeIndex, target); err != nil {
			return fmt.Errorf("fill reshape target: %w", err)
		}
		fmt.Fprintf(w, "=== new shape of RESHAPE op => %s\n", joinShape(opts.newShape))
	}

	if err := it.Invoke(); err != nil {
		return fmt.Errorf("invoke: %w", err)
	}
	fmt.Fprintln(w, "=== Post-invoke Interpreter State ===")
	if err := interp.PrintState(w, it); err != nil {
		return err
	}

	fmt.Fprintln(w, "=== tensor list:")
	for _, ti := range it.Tensors() {
		fmt.Fprintf(w, "\t - tensor #%d: %s\n", ti.Index, interp.FormatShape(ti))
	}

	outputIndex := opts.outputIndex
	if outputIndex < 0 {
		outputs := it.Outputs()
		if len(outputs) == 0 {
			return fmt.Errorf("read output: model has no outputs")
		}
		outputIndex = outputs[0]
	}
	out, err := it.ReadFloat64s(outputIndex)
	if err != nil {
		return fmt.Errorf("read output: %w", err)
	}
	fmt.Fprintf(w, "=== Output value => %s\n", interp.FormatValues(out))
	fmt.Fprintln(w, "\nDone.")
	return nil
}

// fitValues truncates or zero-pads values to the element count of the slot,
// the way a fixed-size copy into its buffer would.
func fitValues(it *interp.Interpreter, index int, values []float64) ([]float64, error) {
	ti, err := it.Tensor(index)
	if err != nil {
		return nil, err
	}
	n := ti.Shape.NumElements()
	if len(values) == n {
		return values, nil
	}
	fitted := make([]float64, n)
	copy(fitted, values)
	return fitted, nil
}

func joinShape(dims []int) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ", ")
}

func genModel(ctx context.Context, w io.Writer, path string, relu bool) error {
	log := klog.FromContext(ctx)

	m := graph.UnknownDimReshape(relu)
	if err := loader.Save(path, m); err != nil {
		return err
	}
	log.V(1).Info("Wrote model", "path", path, "relu", relu)
	fmt.Fprintf(w, "Wrote %s (%d tensors, %d operators)\n", path, len(m.Tensors), len(m.Operators))
	return nil
}

func inspectModel(ctx context.Context, w io.Writer, path string) error {
	log := klog.FromContext(ctx)

	m, err := loader.Load(path)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	it, err := interp.New(m, interp.NewResolver(), interp.Options{Logger: log})
	if err != nil {
		return fmt.Errorf("build interpreter: %w", err)
	}

	fmt.Fprintf(w, "Model: %s (%s", m.Name, m.Format)
	if m.Producer != "" {
		fmt.Fprintf(w, ", produced by %s", m.Producer)
	}
	fmt.Fprintln(w, ")")
	return interp.PrintState(w, it)
}
