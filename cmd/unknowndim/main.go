// Package main provides the unknowndim CLI: it loads a model whose input
// has unknown dimensions, resolves them at runtime and runs inference.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

const version = "v0.1.0"

// ErrUsage is returned for malformed command lines.
var ErrUsage = errors.New("invalid usage")

func main() {
	ctx := context.Background()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if errors.Is(err, ErrUsage) {
		fmt.Fprint(stderr, cmd.UsageString())
	}
	return err
}
