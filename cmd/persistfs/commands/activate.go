package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/persistfs/internal/logger"
	"github.com/marmos91/persistfs/pkg/mount"
)

var activateUser string

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Create directories and apply bind mounts and symlinks",
	Long: `Apply the computed operation order: create the missing directories
with their declared ownership, then bind-mount and symlink every declared
entry onto its persistent backing path.

A failed operation skips only the operations depending on it; independent
entries are still applied. The command exits non-zero if any operation
failed.

Examples:
  # Activate everything (run at boot, as root)
  persistfs activate

  # Activate a single user's entries (run at login)
  persistfs activate --user alice`,
	RunE: runActivate,
}

func init() {
	activateCmd.Flags().StringVar(&activateUser, "user", "", "Activate only this user's entries")
}

func runActivate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if activateUser != "" {
		if err := scopeToUser(cfg, activateUser); err != nil {
			return err
		}
	}

	order, mounts, err := computeOrder(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lc := logger.NewLogContext()
	if activateUser != "" {
		lc = lc.WithUser(activateUser)
	}
	ctx = logger.WithContext(ctx, lc)

	logger.InfoCtx(ctx, "Activation started", logger.KeyEntries, len(order.Operations))

	executor := mount.NewExecutor(mount.NewMounter(), mounts, executorOptions(cfg))

	start := time.Now()
	report, err := executor.Apply(ctx, order)
	if err != nil {
		return fmt.Errorf("activation interrupted: %w", err)
	}

	logger.InfoCtx(ctx, "Activation finished",
		logger.KeyEntries, len(report.Results),
		logger.KeyDurationMs, logger.Duration(start))

	if !report.OK() {
		failed := report.Failed()
		fmt.Fprintf(os.Stderr, "%d operation(s) failed:\n", len(failed))
		for _, res := range failed {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", res.ID, res.Error)
		}
		return fmt.Errorf("activation incomplete")
	}

	fmt.Printf("Applied %d operation(s)\n", len(report.Results))
	return nil
}
