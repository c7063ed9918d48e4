package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Called after loading configuration from file and environment variables.
// Zero values (0, "", nil) are replaced with defaults; explicit values are
// preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyUnmountDefaults(&cfg.Unmount)
	applyOwnerDefaults(&cfg.DefaultOwner)
	for i := range cfg.Roots {
		applyRootDefaults(&cfg.Roots[i])
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyUnmountDefaults sets teardown retry defaults.
func applyUnmountDefaults(cfg *UnmountConfig) {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
}

// applyOwnerDefaults sets the global ownership fallback: root-owned 0755.
func applyOwnerDefaults(cfg *OwnerConfig) {
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Group == "" {
		cfg.Group = "root"
	}
	if cfg.Mode == 0 {
		cfg.Mode = FileMode(0o755)
	}
}

// applyRootDefaults sets per-root defaults. User scopes keep their zero
// values here: an empty home is resolved from the OS user database during
// normalization, and unset ownership falls back scope by scope at the same
// time, so explicit and inherited values stay distinguishable.
func applyRootDefaults(cfg *RootConfig) {
	if cfg.Enabled == nil {
		enabled := true
		cfg.Enabled = &enabled
	}
}

// GetDefaultConfig returns a configuration with all defaults applied and no
// roots declared.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
