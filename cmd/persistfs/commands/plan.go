package commands

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/persistfs/internal/cli/output"
)

var planOutput string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compute and display the operation order",
	Long: `Compute the full operation order for the current configuration
without touching the system: every directory to create, every bind mount and
symlink to apply, and the prerequisites of each step.

The JSON and YAML forms carry the complete dependency graph, so an external
scheduler can run the emitted commands itself.

Examples:
  # Show the order as a table
  persistfs plan

  # Emit the machine-readable order
  persistfs plan --output json`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(planOutput)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	order, _, err := computeOrder(cfg)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, order.Operations)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, order.Operations)
	}

	table := output.NewTableData("ID", "KIND", "TARGET", "SOURCE", "REQUIRES")
	for _, op := range order.Operations {
		table.AddRow(
			op.ID,
			string(op.Kind),
			op.Target,
			op.Source,
			strings.Join(op.Requires, "\n"),
		)
	}
	return output.PrintTable(os.Stdout, table)
}
