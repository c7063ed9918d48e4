// Package config loads, validates and persists the persistfs configuration.
package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the persistfs configuration.
//
// It declares the persistent roots and, per root, the files and directories
// to relocate from the ephemeral live tree onto persistent storage, plus
// optional per-user scopes with their own declarations.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (PERSISTFS_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Unmount controls teardown retry behavior before escalating to a lazy
	// unmount.
	Unmount UnmountConfig `mapstructure:"unmount" yaml:"unmount"`

	// DefaultOwner is the global fallback ownership for created directories.
	// Per-root, per-user and per-entry settings override it field by field.
	DefaultOwner OwnerConfig `mapstructure:"default_owner" yaml:"default_owner"`

	// Roots lists the persistent storage roots.
	Roots []RootConfig `mapstructure:"roots" validate:"dive" yaml:"roots"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// UnmountConfig controls how teardown unmounts behave.
type UnmountConfig struct {
	// MaxRetries is the number of normal unmount attempts before falling
	// back to a lazy (detach) unmount.
	// Default: 5
	MaxRetries int `mapstructure:"max_retries" validate:"min=0" yaml:"max_retries"`

	// RetryDelay is the pause between unmount attempts.
	// Default: 500ms
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// OwnerConfig declares ownership and permissions for created directories.
// Empty fields inherit from the enclosing scope.
type OwnerConfig struct {
	// User is the owning user name.
	User string `mapstructure:"user" yaml:"user,omitempty"`

	// Group is the owning group name.
	Group string `mapstructure:"group" yaml:"group,omitempty"`

	// Mode is the permission mode, written as an octal string ("0755").
	Mode FileMode `mapstructure:"mode" yaml:"mode,omitempty"`
}

// RootConfig declares one persistent storage root and its entries.
type RootConfig struct {
	// StoragePath is the absolute path of the backing storage tree.
	// Example: /persist
	StoragePath string `mapstructure:"storage_path" validate:"required,startswith=/" yaml:"storage_path"`

	// Enabled controls whether this root participates in planning.
	// Default: true
	Enabled *bool `mapstructure:"enabled" yaml:"enabled,omitempty"`

	// HideMounts mounts this root's entries through a FUSE bind without
	// allow-other, so other users cannot inspect what is persisted.
	HideMounts bool `mapstructure:"hide_mounts" yaml:"hide_mounts,omitempty"`

	// DefaultOwner overrides the global default ownership for this root.
	DefaultOwner OwnerConfig `mapstructure:"default_owner" yaml:"default_owner,omitempty"`

	// Directories are directories to relocate. Each item is either a bare
	// path string or a structured entry with per-entry overrides.
	Directories []EntryConfig `mapstructure:"directories" validate:"dive" yaml:"directories,omitempty"`

	// Files are files to relocate.
	Files []EntryConfig `mapstructure:"files" validate:"dive" yaml:"files,omitempty"`

	// Users holds per-user scopes, keyed by user name. Paths declared inside
	// a user scope are relative to that user's home directory.
	Users map[string]UserConfig `mapstructure:"users" validate:"dive" yaml:"users,omitempty"`
}

// IsEnabled reports whether the root participates in planning.
func (r *RootConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// UserConfig declares a per-user scope inside a root.
type UserConfig struct {
	// Home is the user's home directory. When empty, the home path is
	// resolved from the OS user database at normalization time.
	Home string `mapstructure:"home" validate:"omitempty,startswith=/" yaml:"home,omitempty"`

	// HomeMode is the permission mode applied to the home directory if this
	// tool creates it. The home's ownership stays at the root-owned default;
	// only the mode is user-suppliable here.
	// Default: the global default mode
	HomeMode FileMode `mapstructure:"home_mode" yaml:"home_mode,omitempty"`

	// DefaultOwner overrides ownership defaults for entries inside the home.
	// When empty, entries default to <name>:users with the global default
	// mode.
	DefaultOwner OwnerConfig `mapstructure:"default_owner" yaml:"default_owner,omitempty"`

	// Directories are directories to relocate, relative to Home.
	Directories []EntryConfig `mapstructure:"directories" validate:"dive" yaml:"directories,omitempty"`

	// Files are files to relocate, relative to Home.
	Files []EntryConfig `mapstructure:"files" validate:"dive" yaml:"files,omitempty"`
}

// EntryConfig declares a single file or directory. In YAML an entry is
// either a bare string (the path, everything else inherited) or a mapping
// with per-entry overrides.
type EntryConfig struct {
	// Path is the declared path. Absolute for system-scope entries, relative
	// to the user's home for user-scope entries. A trailing "/." denotes the
	// root of a persistent path itself.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// Method selects the linking strategy: bind or symlink.
	// Default: bind
	Method string `mapstructure:"method" validate:"omitempty,oneof=bind symlink" yaml:"method,omitempty"`

	// User overrides the owning user for created directories.
	User string `mapstructure:"user" yaml:"user,omitempty"`

	// Group overrides the owning group.
	Group string `mapstructure:"group" yaml:"group,omitempty"`

	// Mode overrides the permission mode.
	Mode FileMode `mapstructure:"mode" yaml:"mode,omitempty"`

	// HideMounts overrides the root-level hide_mounts for this entry.
	HideMounts *bool `mapstructure:"hide_mounts" yaml:"hide_mounts,omitempty"`

	// RemovePrefixDirectory drops the first path segment from the live-side
	// path while keeping it on the storage side, supporting a namespace
	// prefix convention inside the storage tree.
	RemovePrefixDirectory bool `mapstructure:"remove_prefix_directory" yaml:"remove_prefix_directory,omitempty"`
}

// FileMode is an fs.FileMode that (un)marshals as an octal string so config
// files can write "0700" instead of 448.
type FileMode fs.FileMode

// ParseFileMode parses an octal mode string like "0755" or "700".
func ParseFileMode(s string) (FileMode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode %q: %w", s, err)
	}
	if n > 0o7777 {
		return 0, fmt.Errorf("invalid file mode %q: out of range", s)
	}
	return FileMode(n), nil
}

// String renders the mode as a zero-padded octal string.
func (m FileMode) String() string {
	return fmt.Sprintf("%04o", uint32(m))
}

// FileMode converts to the standard library type.
func (m FileMode) FileMode() fs.FileMode {
	return fs.FileMode(m)
}

// MarshalYAML implements yaml.Marshaler.
func (m FileMode) MarshalYAML() (any, error) {
	return m.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *FileMode) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseFileMode(value.Value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m FileMode) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(m.String())), nil
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PERSISTFS_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// Without a config file there is nothing to persist; return the bare
	// defaults so commands like `config show` still work.
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the config
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  persistfs init\n\n"+
				"Or specify a custom config file:\n"+
				"  persistfs <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  persistfs init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use a PERSISTFS_ prefix and underscores.
	// Example: PERSISTFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("PERSISTFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types:
// bare-string entries, octal file modes and durations.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		entryDecodeHook(),
		fileModeDecodeHook(),
		durationDecodeHook(),
	)
}

// entryDecodeHook converts bare path strings into EntryConfig values so
// declaration lists may mix strings and structured entries:
//
//	files:
//	  - /etc/machine-id
//	  - path: /etc/ssh/ssh_host_ed25519_key
//	    method: symlink
func entryDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(EntryConfig{}) {
			return data, nil
		}
		if s, ok := data.(string); ok {
			return EntryConfig{Path: s}, nil
		}
		return data, nil
	}
}

// fileModeDecodeHook converts octal strings and integers to FileMode.
func fileModeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(FileMode(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return ParseFileMode(v)
		case int:
			// Raw integers in YAML are decimal; reinterpret the digits as
			// octal so `mode: 0755` and `mode: "0755"` agree.
			return ParseFileMode(strconv.Itoa(v))
		case float64:
			return ParseFileMode(strconv.Itoa(int(v)))
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "500ms" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "persistfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "persistfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
