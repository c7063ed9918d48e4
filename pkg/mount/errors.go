package mount

import "fmt"

// MountConflictError is returned when a bind mount cannot be applied because
// another filesystem is mounted strictly below the target. Mounting over it
// would silently shadow the nested mount, so the operation is refused.
type MountConflictError struct {
	// Target is the refused mount target.
	Target string

	// Below is the conflicting mount point nested under the target.
	Below string
}

// Error implements the error interface.
func (e *MountConflictError) Error() string {
	return fmt.Sprintf("cannot mount over %s: %s is mounted below it", e.Target, e.Below)
}

// UnmountTimeoutError is returned when a target stays busy through every
// unmount retry and even the lazy detach fails.
type UnmountTimeoutError struct {
	// Target is the mount point that could not be unmounted.
	Target string

	// Attempts is the number of regular unmount attempts made.
	Attempts int

	// Err is the error from the final lazy detach.
	Err error
}

// Error implements the error interface.
func (e *UnmountTimeoutError) Error() string {
	return fmt.Sprintf("failed to unmount %s after %d attempts and a lazy detach: %v",
		e.Target, e.Attempts, e.Err)
}

// Unwrap returns the underlying detach error.
func (e *UnmountTimeoutError) Unwrap() error {
	return e.Err
}
