package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented starter configuration written by
// `persistfs init`.
const sampleConfig = `# persistfs configuration
#
# Declares which paths of the otherwise-ephemeral live tree are relocated
# onto persistent storage. Every value can be overridden with PERSISTFS_*
# environment variables (PERSISTFS_LOGGING_LEVEL=DEBUG).

logging:
  level: INFO        # DEBUG, INFO, WARN, ERROR
  format: text       # text, json
  output: stderr     # stdout, stderr, or a file path

unmount:
  max_retries: 5
  retry_delay: 500ms

# Ownership applied to created directories unless a root, user or entry
# overrides it.
default_owner:
  user: root
  group: root
  mode: "0755"

roots:
  - storage_path: /persist
    # hide_mounts: true        # mount via FUSE bind without allow-other

    directories:
      - /var/log
      - /var/lib/systemd
      - path: /var/lib/private
        mode: "0700"

    files:
      - /etc/machine-id
      - path: /etc/ssh/ssh_host_ed25519_key
        method: symlink

    users:
      alice:
        # home: /home/alice    # resolved from the user database when omitted
        directories:
          - path: .ssh
            mode: "0700"
          - Documents
        files:
          - .bash_history
`

// InitConfig writes the sample configuration to the default location.
// Returns the path written.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the sample configuration to the given path.
// Refuses to overwrite an existing file unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
