package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/persistfs/internal/cli/prompt"
	"github.com/marmos91/persistfs/internal/logger"
	"github.com/marmos91/persistfs/pkg/mount"
)

var (
	deactivateUser string
	deactivateYes  bool
)

var deactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Unmount managed entries and remove created directories",
	Long: `Tear down everything activate set up, in reverse order: unmount
bind mounts, remove managed symlinks, and remove directories this tool
created if they are empty. Pre-existing directories and foreign mounts are
left alone.

Busy mounts are retried, then detached lazily as a last resort.

Examples:
  # Tear everything down (prompts for confirmation)
  persistfs deactivate

  # Tear down one user's entries without prompting
  persistfs deactivate --user alice --yes`,
	RunE: runDeactivate,
}

func init() {
	deactivateCmd.Flags().StringVar(&deactivateUser, "user", "", "Deactivate only this user's entries")
	deactivateCmd.Flags().BoolVarP(&deactivateYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runDeactivate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if deactivateUser != "" {
		if err := scopeToUser(cfg, deactivateUser); err != nil {
			return err
		}
	}

	order, mounts, err := computeOrder(cfg)
	if err != nil {
		return err
	}

	if !deactivateYes {
		label := "Unmount all managed entries"
		if deactivateUser != "" {
			label = fmt.Sprintf("Unmount managed entries of user %s", deactivateUser)
		}
		confirmed, err := prompt.Confirm(label, false)
		if err != nil {
			if errors.Is(err, prompt.ErrAborted) {
				return fmt.Errorf("aborted")
			}
			return err
		}
		if !confirmed {
			fmt.Println("Deactivation cancelled")
			return nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lc := logger.NewLogContext()
	if deactivateUser != "" {
		lc = lc.WithUser(deactivateUser)
	}
	ctx = logger.WithContext(ctx, lc)

	logger.InfoCtx(ctx, "Teardown started", logger.KeyEntries, len(order.Operations))

	executor := mount.NewExecutor(mount.NewMounter(), mounts, executorOptions(cfg))
	if err := executor.Teardown(ctx, order); err != nil {
		return fmt.Errorf("teardown incomplete: %w", err)
	}

	fmt.Println("Deactivated")
	return nil
}
