package interp

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// PrintState writes the tensor table and the node table of the
// interpreter to w.
func PrintState(w io.Writer, it *Interpreter) error {
	if _, err := fmt.Fprintf(w, "Interpreter has %d tensors and %d nodes\n", it.NumTensors(), len(it.nodes)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Inputs: %s\nOutputs: %s\n\n", joinInts(it.Inputs()), joinInts(it.Outputs())); err != nil {
		return err
	}

	PrintTensors(w, it.Tensors())
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	PrintNodes(w, it.Nodes())
	return nil
}

// PrintTensors renders one row per tensor slot.
func PrintTensors(w io.Writer, tensors []TensorInfo) {
	data := make([][]string, 0, len(tensors))
	for _, ti := range tensors {
		storage := "-"
		if ti.Allocated {
			storage = strconv.Itoa(ti.Bytes) + " bytes"
		}
		data = append(data, []string{
			"Tensor " + strconv.Itoa(ti.Index),
			ti.Name,
			ti.Type.String(),
			ti.Kind.String(),
			FormatShape(ti),
			storage,
		})
	}

	table := newTable(w)
	table.SetHeader([]string{"TENSOR", "NAME", "TYPE", "KIND", "SHAPE", "STORAGE"})
	table.AppendBulk(data)
	table.Render()
}

// PrintNodes renders one row per node.
func PrintNodes(w io.Writer, nodes []NodeInfo) {
	data := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		op := n.OpType
		switch {
		case n.CustomName != "":
			op = "custom " + n.CustomName
		case n.BuiltinCode >= 0:
			op = fmt.Sprintf("%s (builtin %d)", n.OpType, n.BuiltinCode)
		}
		data = append(data, []string{
			"Node " + strconv.Itoa(n.Index),
			op,
			joinInts(n.Inputs),
			joinInts(n.Outputs),
		})
	}

	table := newTable(w)
	table.SetHeader([]string{"NODE", "OPERATOR", "INPUTS", "OUTPUTS"})
	table.AppendBulk(data)
	table.Render()
}

// FormatShape renders a slot shape, marking unknown ranks and dynamic slots.
func FormatShape(ti TensorInfo) string {
	if ti.Shape == nil {
		return "(unknown rank)"
	}
	s := ti.Shape.String()
	if ti.Dynamic {
		s += " dynamic"
	}
	return s
}

// FormatValues renders values with a fixed precision, comma separated.
func FormatValues(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return strings.Join(parts, ", ")
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func joinInts(values []int) string {
	if len(values) == 0 {
		return "(none)"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}
