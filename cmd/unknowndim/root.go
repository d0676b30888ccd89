package main

import (
	goflag "flag"
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// runOptions holds the flags of the root command.
type runOptions struct {
	inputIndex   int
	inputType    string
	inputName    string
	inputShape   []int
	inputValues  []float64
	shapeIndex   int
	newShape     []int
	outputIndex  int
	skipResolve  bool
	strictShapes bool
}

func defaultRunOptions() runOptions {
	return runOptions{
		inputIndex:  0,
		inputType:   "float32",
		inputName:   "Placeholder",
		inputShape:  []int{2, 3},
		inputValues: []float64{-3, -2, -1, 0, 1, 2},
		shapeIndex:  1,
		newShape:    []int{1, 6},
		outputIndex: -1,
	}
}

func newRootCmd() *cobra.Command {
	opts := defaultRunOptions()

	rootCmd := &cobra.Command{
		Use:   "unknowndim MODEL",
		Short: "Run a model whose input has unknown dimensions",
		Long: `Loads a TFLite or ONNX model whose input is declared with unknown
dimensions, resolves them to a concrete shape, allocates tensors, fills the
inputs, runs inference and prints the interpreter state before and after.`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModel(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	flags := rootCmd.Flags()
	flags.IntVar(&opts.inputIndex, "input-index", opts.inputIndex, "Tensor slot whose shape is resolved and filled")
	flags.StringVar(&opts.inputType, "input-type", opts.inputType, "Element type declared for the input slot")
	flags.StringVar(&opts.inputName, "input-name", opts.inputName, "Name declared for the input slot (empty keeps the model's)")
	flags.IntSliceVar(&opts.inputShape, "input-shape", opts.inputShape, "Concrete shape declared for the input slot")
	flags.Float64SliceVar(&opts.inputValues, "input-values", opts.inputValues, "Values written to the input slot")
	flags.IntVar(&opts.shapeIndex, "shape-index", opts.shapeIndex, "Tensor slot holding the reshape target (-1 to skip)")
	flags.IntSliceVar(&opts.newShape, "new-shape", opts.newShape, "Values written to the reshape target slot")
	flags.IntVar(&opts.outputIndex, "output-index", opts.outputIndex, "Tensor slot printed as output (-1 = first model output)")
	flags.BoolVar(&opts.skipResolve, "skip-resolve", false, "Do not declare the input shape (the input becomes a scalar)")
	flags.BoolVar(&opts.strictShapes, "strict-shapes", false, "Fail allocation when an input shape is still unknown")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	})

	klogFlags := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	rootCmd.AddCommand(
		newGenModelCmd(),
		newInspectCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// exactArgs is cobra.ExactArgs with errors that match ErrUsage.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: %s accepts %d arg(s), received %d", ErrUsage, cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

func newGenModelCmd() *cobra.Command {
	var relu bool
	cmd := &cobra.Command{
		Use:   "gen-model PATH",
		Short: "Write the demonstration model (.tflite or .onnx)",
		Long: `Writes a graph with a float32 input of shape [-1,-1] reshaped to the
target held by an int32 [2] input. The format follows the file extension.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return genModel(cmd.Context(), cmd.OutOrStdout(), args[0], relu)
		},
	}
	cmd.Flags().BoolVar(&relu, "relu", false, "Append a Relu node after the Reshape")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect MODEL",
		Short: "Print the tensor and node tables of a model",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectModel(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  exactArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "unknowndim %s\n", version)
		},
	}
}
