// Package commands implements the persistfs CLI commands.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/persistfs/cmd/persistfs/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "persistfs",
	Short: "persistfs - Selective persistence for ephemeral root filesystems",
	Long: `persistfs relocates selected files and directories onto persistent
storage roots using bind mounts and symlinks, so systems with an ephemeral
(tmpfs or snapshot-reset) root keep exactly the state they declare.

Paths are declared once in a configuration file; persistfs computes the
directories to create, their ownership, and the order in which mounts must
happen relative to each other and to the underlying filesystems.

Use "persistfs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/persistfs/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(deactivateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(config.Cmd)

	// Keep completion available but out of the help listing
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
