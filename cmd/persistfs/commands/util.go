package commands

import (
	"fmt"

	"github.com/marmos91/persistfs/internal/logger"
	"github.com/marmos91/persistfs/pkg/config"
	"github.com/marmos91/persistfs/pkg/mount"
	"github.com/marmos91/persistfs/pkg/plan"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// loadConfig loads the configuration honoring the global --config flag and
// sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// scopeToUser trims the configuration down to a single user's scope, so a
// user session can activate or deactivate only its own entries. System-scope
// declarations and other users are dropped.
func scopeToUser(cfg *config.Config, name string) error {
	found := false
	kept := cfg.Roots[:0]
	for _, root := range cfg.Roots {
		userCfg, ok := root.Users[name]
		if !ok {
			continue
		}
		found = true
		root.Directories = nil
		root.Files = nil
		root.Users = map[string]config.UserConfig{name: userCfg}
		kept = append(kept, root)
	}
	cfg.Roots = kept
	if !found {
		return fmt.Errorf("user %q is not declared in any persistence root", name)
	}
	return nil
}

// computeOrder normalizes the configuration, reads the live mount table and
// derives the operation order. Configuration problems come back as a single
// error listing every issue.
func computeOrder(cfg *config.Config) (*plan.Order, []plan.MountPoint, error) {
	p, err := plan.Normalize(cfg, plan.NormalizeOptions{})
	if err != nil {
		return nil, nil, err
	}

	mounts, err := mount.LoadTable()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read mount table: %w", err)
	}

	return plan.BuildOrder(p, mounts), mounts, nil
}

// executorOptions maps unmount settings from configuration to the executor.
func executorOptions(cfg *config.Config) mount.Options {
	return mount.Options{
		UnmountRetries: cfg.Unmount.MaxRetries,
		UnmountDelay:   cfg.Unmount.RetryDelay,
	}
}
