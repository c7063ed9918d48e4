package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/persistfs/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new configuration file",
	Long: `Create a new persistfs configuration file with a commented sample
declaration to start from.

By default the file is created at the default location
($XDG_CONFIG_HOME/persistfs/config.yaml). Use the global --config flag to
choose a different path.

Examples:
  # Create config at the default location
  persistfs init

  # Create config at a custom path
  persistfs init --config /etc/persistfs/config.yaml

  # Overwrite an existing config
  persistfs init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	if path := GetConfigFile(); path != "" {
		if err := config.InitConfigToPath(path, initForce); err != nil {
			return err
		}
		fmt.Printf("Configuration file created: %s\n", path)
		fmt.Println("\nEdit the file to declare your persistence roots, then run:")
		fmt.Printf("  persistfs plan --config %s\n", path)
		return nil
	}

	path, err := config.InitConfig(initForce)
	if err != nil {
		return err
	}

	fmt.Printf("Configuration file created: %s\n", path)
	fmt.Println("\nEdit the file to declare your persistence roots, then run:")
	fmt.Println("  persistfs plan")
	return nil
}
