package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/persistfs/internal/cli/output"
	"github.com/marmos91/persistfs/pkg/mount"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every managed entry",
	Long: `Compare the computed plan against the live filesystem and report
the state of every mount and symlink: mounted from the wanted source,
present but not mounted, or not configured at all.

This command only inspects the system; nothing is mutated.

Examples:
  # Show entry states as a table
  persistfs status

  # Output as JSON
  persistfs status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	order, mounts, err := computeOrder(cfg)
	if err != nil {
		return err
	}

	executor := mount.NewExecutor(mount.NewMounter(), mounts, executorOptions(cfg))
	statuses := executor.Status(order)

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, statuses)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, statuses)
	}

	table := output.NewTableData("TARGET", "KIND", "SOURCE", "STATE")
	for _, s := range statuses {
		table.AddRow(s.Target, string(s.Kind), s.Source, string(s.State))
	}
	return output.PrintTable(os.Stdout, table)
}
