package mount

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Mounter abstracts the mount-related syscalls so the executor can be tested
// without touching the real mount table.
type Mounter interface {
	// BindMount bind-mounts source onto target.
	BindMount(source, target string) error

	// BindFS mounts source onto target through bindfs without allow-other,
	// so the mount is invisible to other users.
	BindFS(source, target string) error

	// Symlink creates a symbolic link at target pointing to source.
	Symlink(source, target string) error

	// Unmount detaches the filesystem mounted at target.
	Unmount(target string) error

	// LazyUnmount detaches target even while it is busy; the detach
	// completes once the last user goes away.
	LazyUnmount(target string) error
}

// unixMounter is the production Mounter backed by the mount syscalls and the
// bindfs binary.
type unixMounter struct{}

// NewMounter returns the production Mounter.
func NewMounter() Mounter {
	return unixMounter{}
}

func (unixMounter) BindMount(source, target string) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind mount %s onto %s: %w", source, target, err)
	}
	return nil
}

func (unixMounter) BindFS(source, target string) error {
	// bindfs runs as a FUSE daemon; without -o allow-other the mount is
	// only visible to the mounting user.
	cmd := exec.Command("bindfs",
		"-o", "no-allow-other",
		"-o", "fsname="+source,
		source, target,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("bindfs %s onto %s: %w: %s", source, target, err, out)
	}
	return nil
}

func (unixMounter) Symlink(source, target string) error {
	if err := os.Symlink(source, target); err != nil {
		return fmt.Errorf("symlink %s to %s: %w", target, source, err)
	}
	return nil
}

func (unixMounter) Unmount(target string) error {
	if err := unix.Unmount(target, 0); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	return nil
}

func (unixMounter) LazyUnmount(target string) error {
	if err := unix.Unmount(target, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("lazy unmount %s: %w", target, err)
	}
	return nil
}
