package logger

import (
	"fmt"
	"io/fs"
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation
// and querying.
const (
	// ========================================================================
	// Run Identification
	// ========================================================================
	KeyRunID = "run_id" // Unique identifier of one activation/teardown run
	KeyScope = "scope"  // Run scope: system or user
	KeyUser  = "user"   // User name for user-scoped runs

	// ========================================================================
	// Filesystem Entries
	// ========================================================================
	KeyPath        = "path"         // Full live-tree path
	KeyTarget      = "target"       // Mount/link target in the live tree
	KeySource      = "source"       // Backing path on persistent storage
	KeyStoragePath = "storage_path" // Storage root of the owning persistence root
	KeyMethod      = "method"       // Linking strategy: bind or symlink
	KeyMode        = "mode"         // Directory permissions (octal)
	KeyOwner       = "owner"        // Ownership as user:group

	// ========================================================================
	// Operations
	// ========================================================================
	KeyOperation = "operation" // Operation identifier (mkdir:/..., bindmount:/...)
	KeyKind      = "kind"      // Operation kind: mkdir, bindmount, symlink
	KeyState     = "state"     // Entry state after the operation
	KeyRequires  = "requires"  // Prerequisite operation identifiers
	KeyEntries   = "entries"   // Number of entries/operations in a batch

	// ========================================================================
	// Retries & Timing
	// ========================================================================
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds

	// ========================================================================
	// Errors & Configuration
	// ========================================================================
	KeyError      = "error"       // Error message
	KeyConfigFile = "config_file" // Configuration file path
	KeyLevel      = "level"       // Log level
	KeyFormat     = "format"      // Output format
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// RunID returns a slog.Attr for the run identifier
func RunID(id string) slog.Attr {
	return slog.String(KeyRunID, id)
}

// Scope returns a slog.Attr for the run scope
func Scope(scope string) slog.Attr {
	return slog.String(KeyScope, scope)
}

// User returns a slog.Attr for a user name
func User(name string) slog.Attr {
	return slog.String(KeyUser, name)
}

// Path returns a slog.Attr for a live-tree path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Target returns a slog.Attr for a mount/link target
func Target(p string) slog.Attr {
	return slog.String(KeyTarget, p)
}

// Source returns a slog.Attr for a backing storage path
func Source(p string) slog.Attr {
	return slog.String(KeySource, p)
}

// StoragePath returns a slog.Attr for a persistence root's storage path
func StoragePath(p string) slog.Attr {
	return slog.String(KeyStoragePath, p)
}

// Method returns a slog.Attr for the linking strategy
func Method(m string) slog.Attr {
	return slog.String(KeyMethod, m)
}

// Mode returns a slog.Attr for directory permissions, formatted octal
func Mode(m fs.FileMode) slog.Attr {
	return slog.String(KeyMode, fmt.Sprintf("%04o", m.Perm()))
}

// Owner returns a slog.Attr for ownership as user:group
func Owner(user, group string) slog.Attr {
	return slog.String(KeyOwner, user+":"+group)
}

// Operation returns a slog.Attr for an operation identifier
func Operation(id string) slog.Attr {
	return slog.String(KeyOperation, id)
}

// Kind returns a slog.Attr for an operation kind
func Kind(kind string) slog.Attr {
	return slog.String(KeyKind, kind)
}

// State returns a slog.Attr for an entry state
func State(state string) slog.Attr {
	return slog.String(KeyState, state)
}

// Entries returns a slog.Attr for an entry/operation count
func Entries(n int) slog.Attr {
	return slog.Int(KeyEntries, n)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for the retry limit
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// DurationMs returns a slog.Attr for a duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error (nil-safe)
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// ConfigFile returns a slog.Attr for a configuration file path
func ConfigFile(p string) slog.Attr {
	return slog.String(KeyConfigFile, p)
}
