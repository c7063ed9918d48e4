package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marmos91/persistfs/pkg/paths"
)

// OperationKind identifies what an operation does.
type OperationKind string

const (
	// OpMkdir creates a directory with explicit ownership and mode.
	OpMkdir OperationKind = "mkdir"
	// OpBindMount bind-mounts a persistent source onto a live target.
	OpBindMount OperationKind = "bindmount"
	// OpSymlink links a live target to a persistent source.
	OpSymlink OperationKind = "symlink"
)

// MkdirID returns the operation identifier for creating path.
func MkdirID(path string) string { return "mkdir:" + path }

// MountID returns the synthetic identifier for an underlying OS mount.
// These operations are not emitted; they name prerequisites the boot
// process already satisfied.
func MountID(path string) string { return "mount:" + path }

// ParseMountID extracts the path from a synthetic mount identifier; ok is
// false for every other identifier kind.
func ParseMountID(id string) (path string, ok bool) {
	return strings.CutPrefix(id, "mount:")
}

// LinkID returns the operation identifier for mounting or linking target.
func LinkID(method Method, target string) string {
	if method == MethodSymlink {
		return string(OpSymlink) + ":" + target
	}
	return string(OpBindMount) + ":" + target
}

// Operation is one step of the computed order: what to do, where, and which
// operations must complete first. Command is the equivalent external
// invocation, carried as an opaque argv for schedulers that prefer to run
// steps themselves.
type Operation struct {
	ID       string        `json:"id"                 yaml:"id"`
	Kind     OperationKind `json:"kind"               yaml:"kind"`
	Target   string        `json:"target"             yaml:"target"`
	Source   string        `json:"source,omitempty"   yaml:"source,omitempty"`
	Owner    *Owner        `json:"owner,omitempty"    yaml:"owner,omitempty"`
	Hide     bool          `json:"hide,omitempty"     yaml:"hide,omitempty"`
	Requires []string      `json:"requires,omitempty" yaml:"requires,omitempty"`
	Command  []string      `json:"command"            yaml:"command"`
}

// Order is the total order over all operations of a plan. Executing the
// operations front to back satisfies every dependency edge; the Requires
// lists carry the full partial order for schedulers that parallelize
// independent subtrees.
type Order struct {
	Operations []Operation
}

// ByID returns the operation with the given identifier.
func (o *Order) ByID(id string) (Operation, bool) {
	for _, op := range o.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return Operation{}, false
}

// BuildOrder derives the executable operation order from a normalized plan
// and the known OS mount table.
//
// The order interleaves directory creation with mounts in a single
// lexicographic walk over live paths: a path's mkdir comes right before its
// mount, parents come before children, and an entry nested under another
// entry's mount point is created only after that mount is up. This is the
// minimal correct serial order; the dependency edges additionally reference
// underlying OS mounts so an external scheduler can verify them.
func BuildOrder(p *Plan, mounts []MountPoint) *Order {
	closure := BuildClosure(p)
	resolver := NewResolver(mounts)

	mkdirs := make(map[string]*DirectoryEntry, len(closure))
	for _, d := range closure {
		mkdirs[d.LivePath] = d
	}

	type mountable struct {
		spec BindMountSpec
	}
	mountsByTarget := make(map[string]mountable)
	for _, d := range p.Directories {
		if d.Explicit || d.RootMarker {
			spec := d.Mount()
			mountsByTarget[d.LivePath] = mountable{spec: spec}
			resolver.AddPlannedMount(d.LivePath, LinkID(spec.Method, d.LivePath))
		}
	}
	for _, f := range p.Files {
		spec := f.Mount()
		mountsByTarget[f.LivePath] = mountable{spec: spec}
		resolver.AddPlannedMount(f.LivePath, LinkID(spec.Method, f.LivePath))
	}

	// Merge mkdir and mount targets into one sorted walk.
	pathSet := make(map[string]bool, len(mkdirs)+len(mountsByTarget))
	for path := range mkdirs {
		pathSet[path] = true
	}
	for path := range mountsByTarget {
		pathSet[path] = true
	}
	walk := make([]string, 0, len(pathSet))
	for path := range pathSet {
		walk = append(walk, path)
	}
	sort.Strings(walk)

	order := &Order{Operations: make([]Operation, 0, len(walk))}

	for _, path := range walk {
		if d, ok := mkdirs[path]; ok {
			order.Operations = append(order.Operations, mkdirOperation(d, mkdirs, resolver))
		}
		if m, ok := mountsByTarget[path]; ok {
			order.Operations = append(order.Operations, mountOperation(m.spec, mkdirs, resolver))
		}
	}

	return order
}

// mkdirOperation builds the creation step for one closure directory. A
// mkdir only touches the live side, so it depends on its parent's creation
// and on whichever mount carries the parent, nothing storage-side.
func mkdirOperation(d *DirectoryEntry, mkdirs map[string]*DirectoryEntry, resolver *Resolver) Operation {
	owner := d.Owner
	parent := paths.Parent(d.LivePath)

	var requires []string
	if _, ok := mkdirs[parent]; ok {
		requires = append(requires, MkdirID(parent))
	}
	if op := resolver.opFor(parent); op != "" {
		requires = appendUnique(requires, op)
	}

	return Operation{
		ID:       MkdirID(d.LivePath),
		Kind:     OpMkdir,
		Target:   d.LivePath,
		Owner:    &owner,
		Requires: requires,
		Command: []string{
			"install", "-d",
			"-m", fmt.Sprintf("%04o", uint32(owner.Mode)),
			"-o", owner.User,
			"-g", owner.Group,
			d.LivePath,
		},
	}
}

// mountOperation builds the bind-mount or symlink step for one entry.
func mountOperation(spec BindMountSpec, mkdirs map[string]*DirectoryEntry, resolver *Resolver) Operation {
	var requires []string

	// The target directory itself (bind) or its parent (symlink, root
	// markers) must exist first.
	if _, ok := mkdirs[spec.Target]; ok && spec.Method == MethodBind {
		requires = append(requires, MkdirID(spec.Target))
	} else if _, ok := mkdirs[paths.Parent(spec.Target)]; ok {
		requires = append(requires, MkdirID(paths.Parent(spec.Target)))
	}

	dep := resolver.Resolve(spec.Target, spec.Source)
	for _, req := range dep.Requires {
		// The entry's own mkdir/mount must not depend on itself.
		if req == LinkID(spec.Method, spec.Target) {
			continue
		}
		requires = appendUnique(requires, req)
	}

	return Operation{
		ID:       LinkID(spec.Method, spec.Target),
		Kind:     kindOf(spec.Method),
		Target:   spec.Target,
		Source:   spec.Source,
		Hide:     spec.Hide,
		Requires: requires,
		Command:  commandFor(spec),
	}
}

func kindOf(m Method) OperationKind {
	if m == MethodSymlink {
		return OpSymlink
	}
	return OpBindMount
}

// commandFor constructs the external invocation equivalent to the
// operation: a plain bind mount, a FUSE bind via bindfs when the mount is
// hidden from other users, or a symlink.
func commandFor(spec BindMountSpec) []string {
	switch {
	case spec.Method == MethodSymlink:
		return []string{"ln", "-s", spec.Source, spec.Target}
	case spec.Hide:
		return []string{
			"bindfs",
			"-o", "no-allow-other",
			"-o", "fsname=" + spec.Source,
			spec.Source, spec.Target,
		}
	default:
		return []string{"mount", "-o", "bind,fsname=" + spec.Source, spec.Source, spec.Target}
	}
}

func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}
