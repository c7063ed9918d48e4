// Package plan computes the ordered set of filesystem operations needed to
// relocate live paths onto persistent storage roots: which directories must
// exist, with what ownership, and in what order bind mounts and symlinks may
// be created relative to the underlying mount table.
package plan

import (
	"io/fs"

	"github.com/marmos91/persistfs/pkg/paths"
)

// Method selects how a persistent path is linked into the live tree.
type Method string

const (
	// MethodBind relocates a path with a bind mount.
	MethodBind Method = "bind"
	// MethodSymlink relocates a path with a symbolic link.
	MethodSymlink Method = "symlink"
)

// Valid reports whether m is one of the recognized linking strategies.
func (m Method) Valid() bool {
	return m == MethodBind || m == MethodSymlink
}

// Owner describes the ownership and permissions applied to a directory
// created by the executor. User and Group are names, resolved to uid/gid at
// execution time.
type Owner struct {
	User  string      `json:"user"  yaml:"user"`
	Group string      `json:"group" yaml:"group"`
	Mode  fs.FileMode `json:"mode"  yaml:"mode"`
}

// merge returns o with any zero fields filled in from fallback.
func (o Owner) merge(fallback Owner) Owner {
	if o.User == "" {
		o.User = fallback.User
	}
	if o.Group == "" {
		o.Group = fallback.Group
	}
	if o.Mode == 0 {
		o.Mode = fallback.Mode
	}
	return o
}

// Root identifies a persistent storage location. One Root exists per
// configured backing path; it is immutable after normalization.
type Root struct {
	// StoragePath is the absolute path of the backing storage tree.
	StoragePath string

	// DefaultOwner is applied to directories that carry no more specific
	// ownership.
	DefaultOwner Owner

	// HideMounts selects a FUSE bind (bindfs without allow-other) so other
	// users cannot see what is mounted under this root.
	HideMounts bool

	// Enabled roots participate in planning; disabled roots are skipped
	// entirely.
	Enabled bool
}

// DirectoryKind distinguishes regular directories from home-directory
// boundaries, which carry special ownership rules.
type DirectoryKind int

const (
	// KindRegular is an ordinary directory entry.
	KindRegular DirectoryKind = iota

	// KindHomeBoundary marks a user's home directory. The entry takes the
	// user-supplied (typically restrictive) home mode, its ancestors stay at
	// the root-owned default, and entries below it take the user's own
	// ownership, modelling the permission discontinuity at the edge of a
	// home directory.
	KindHomeBoundary
)

// DirectoryEntry is a directory to relocate, or an implied ancestor of some
// other entry. Entries are keyed by LivePath; the live path is unique
// system-wide.
type DirectoryEntry struct {
	// LivePath is the absolute path in the live tree.
	LivePath string

	// StorageRel is the path of the backing directory relative to the owning
	// root's storage path. May differ from the live-relative path when a
	// prefix directory is kept on the storage side only.
	StorageRel string

	// Root is the owning persistent root.
	Root *Root

	// Owner is the ownership applied if the executor creates this directory.
	Owner Owner

	// Kind tags home-boundary directories.
	Kind DirectoryKind

	// Method is how the directory is linked when it is an explicit
	// declaration (bind or symlink). Implied ancestors are only created,
	// never mounted.
	Method Method

	// Explicit is true for directories the user declared, false for implied
	// ancestors.
	Explicit bool

	// RootMarker is true for declarations carrying the "/." suffix, which
	// denote the root of a persistent path itself. Such entries are mounted
	// but never part of the directory-creation list.
	RootMarker bool

	// HideMounts is inherited from the root unless overridden per entry.
	HideMounts bool

	// declaredAt records the configuration site for duplicate reporting.
	declaredAt string

	// boundary is the home directory this entry lives under, or "" for
	// system-scope entries. Closure building generates implied ancestors
	// down from this boundary; ancestors above it belong to the home
	// boundary entry instead.
	boundary string

	// ancestorOwner is the ownership applied to implied ancestors between
	// the boundary and this entry.
	ancestorOwner Owner
}

// StoragePath returns the absolute path of the backing directory.
func (d *DirectoryEntry) StoragePath() string {
	return paths.Join(d.Root.StoragePath, d.StorageRel)
}

// Mount derives the bind-mount pairing for an explicit directory entry.
func (d *DirectoryEntry) Mount() BindMountSpec {
	return BindMountSpec{
		Source: d.StoragePath(),
		Target: d.LivePath,
		Method: d.Method,
		Hide:   d.HideMounts,
	}
}

// FileEntry is a single file to relocate. Its parent directory is implied
// into the closure; the file itself is linked, not created.
type FileEntry struct {
	// LivePath is the absolute path in the live tree.
	LivePath string

	// StorageRel is the backing path relative to the root's storage path.
	StorageRel string

	// Root is the owning persistent root.
	Root *Root

	// Method is bind or symlink.
	Method Method

	// HideMounts is inherited from the root unless overridden per entry.
	HideMounts bool

	// declaredAt records the configuration site for duplicate reporting.
	declaredAt string

	// boundary and ancestorOwner mirror the DirectoryEntry fields: they
	// control how implied parent directories are generated.
	boundary      string
	ancestorOwner Owner
}

// StoragePath returns the absolute path of the backing file.
func (f *FileEntry) StoragePath() string {
	return paths.Join(f.Root.StoragePath, f.StorageRel)
}

// Mount derives the bind-mount pairing for the file.
func (f *FileEntry) Mount() BindMountSpec {
	return BindMountSpec{
		Source: f.StoragePath(),
		Target: f.LivePath,
		Method: f.Method,
		Hide:   f.HideMounts,
	}
}

// BindMountSpec pairs a persistent source with a live target.
type BindMountSpec struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Method Method `json:"method" yaml:"method"`
	Hide   bool   `json:"hide"   yaml:"hide"`
}

// MountPoint is a known filesystem mount from the OS mount table.
type MountPoint struct {
	// Path is the mount point in the live tree.
	Path string

	// Root is the pathname of the directory within the filesystem that forms
	// the root of this mount. For bind mounts this is the bound source path.
	Root string

	// Device is the mount source (device, label, or fsname).
	Device string

	// FSType is the filesystem type.
	FSType string

	// Options are the per-mount options.
	Options string

	// NeededForBoot marks mounts that the initrd already provides; they are
	// assumed present before any persistence operation runs.
	NeededForBoot bool
}

// Plan is the normalized, validated model derived from configuration. It is
// read-only once built.
type Plan struct {
	Roots       []*Root
	Files       []*FileEntry
	Directories []*DirectoryEntry
}
