package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the structural validity of the configuration: struct tags
// first (required fields, enum values, absolute paths), then cross-field
// rules the tags cannot express.
//
// Semantic validation of the declared entries themselves (duplicate live
// paths, unresolvable homes) happens during plan normalization, which
// collects every offending path instead of stopping at the first.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return errors.New(formatValidationErrors(verrs))
		}
		return err
	}

	// Storage paths must be unique across roots; two roots backing the same
	// tree would race against each other.
	seen := make(map[string]bool, len(cfg.Roots))
	for _, root := range cfg.Roots {
		if seen[root.StoragePath] {
			return fmt.Errorf("duplicate storage_path %q: each root must have a distinct backing path", root.StoragePath)
		}
		seen[root.StoragePath] = true

		for _, entry := range append(append([]EntryConfig{}, root.Directories...), root.Files...) {
			if !strings.HasPrefix(entry.Path, "/") {
				return fmt.Errorf("root %q: path %q must be absolute (user-relative paths belong in a user scope)", root.StoragePath, entry.Path)
			}
		}
		for name, user := range root.Users {
			for _, entry := range append(append([]EntryConfig{}, user.Directories...), user.Files...) {
				if strings.HasPrefix(entry.Path, "/") {
					return fmt.Errorf("user %q: path %q must be relative to the home directory", name, entry.Path)
				}
			}
		}
	}

	return nil
}

// formatValidationErrors renders validator errors with config-file field
// names instead of Go struct paths.
func formatValidationErrors(verrs validator.ValidationErrors) string {
	var b strings.Builder
	b.WriteString("invalid configuration:")
	for _, fe := range verrs {
		fmt.Fprintf(&b, "\n  - %s: failed %q constraint", strings.ToLower(fe.Namespace()), fe.Tag())
	}
	return b.String()
}
