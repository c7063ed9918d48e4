package config

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/persistfs/internal/cli/output"
	"github.com/marmos91/persistfs/pkg/config"
	"github.com/marmos91/persistfs/pkg/plan"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and the computed plan",
	Long: `Load the configuration, check its structure, and normalize the
declared entries the way activate would. Every problem is reported in one
pass: duplicate declarations, unknown methods, unresolvable users, and
mismatched home directories.

Examples:
  # Validate the default config
  persistfs config validate

  # Validate a specific file
  persistfs config validate --config /etc/persistfs/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	printer := output.DefaultPrinter()

	if _, err := plan.Normalize(cfg, plan.NormalizeOptions{}); err != nil {
		var cerr *plan.ConfigError
		if errors.As(err, &cerr) {
			printer.Error(fmt.Sprintf("Configuration is invalid (%d issue(s)):", len(cerr.Issues)))
			for _, issue := range cerr.Issues {
				printer.Println("  -", issue.String())
			}
			return fmt.Errorf("configuration is invalid")
		}
		return err
	}

	printer.Success("Configuration is valid")
	return nil
}
