package plan

import (
	"sort"

	"github.com/marmos91/persistfs/pkg/paths"
)

// Dependency names everything that must be in place before an entry can be
// created or mounted: the underlying mount carrying the storage-side parent,
// the mount carrying the live-side parent, and the identifiers of the
// operations that provide them.
type Dependency struct {
	// PersistentParentMount is the mount point with the longest path that is
	// a prefix of the storage-side parent directory. "/" when nothing more
	// specific matches.
	PersistentParentMount string

	// LiveParentMount is the mount point with the longest path that is a
	// prefix of the live-side parent directory. "/" when nothing more
	// specific matches.
	LiveParentMount string

	// Requires lists the operation identifiers that must complete first.
	Requires []string
}

// Resolver answers mount-dependency queries against a fixed set of known
// mount points: the OS mount table plus the bind mounts the plan itself will
// create. It is a pure function of its inputs; results are memoized by
// parent-directory pair because many entries share parents.
type Resolver struct {
	// opByPath maps a mount path to the identifier of the operation that
	// provides it; OS mounts map to a synthetic mount identifier, planned
	// bind mounts to their own operation identifier.
	opByPath   map[string]string
	mountPaths []string

	memo map[[2]string]Dependency
}

// NewResolver builds a resolver over the OS mount table. Planned bind
// mounts are registered afterwards with AddPlannedMount.
func NewResolver(mounts []MountPoint) *Resolver {
	r := &Resolver{
		opByPath: make(map[string]string, len(mounts)),
		memo:     make(map[[2]string]Dependency),
	}
	for _, m := range mounts {
		r.register(m.Path, MountID(m.Path))
	}
	return r
}

// AddPlannedMount registers a bind mount the plan will create, so entries
// nested under it are ordered after it.
func (r *Resolver) AddPlannedMount(target, opID string) {
	r.register(target, opID)
}

func (r *Resolver) register(path, opID string) {
	if _, ok := r.opByPath[path]; !ok {
		r.mountPaths = append(r.mountPaths, path)
	}
	r.opByPath[path] = opID
}

// Resolve computes the dependency for an operation whose live target is
// livePath and whose storage source is storagePath.
//
// When several known mount points are prefixes of a parent, the longest
// (most specific) one wins. When none is, the filesystem root is assumed
// pre-mounted and no operation is required for that side.
func (r *Resolver) Resolve(livePath, storagePath string) Dependency {
	liveParent := paths.Parent(livePath)
	storageParent := paths.Parent(storagePath)

	key := [2]string{liveParent, storageParent}
	if dep, ok := r.memo[key]; ok {
		return dep
	}

	dep := Dependency{
		LiveParentMount:       r.longestPrefix(liveParent),
		PersistentParentMount: r.longestPrefix(storageParent),
	}

	requires := make(map[string]bool, 2)
	if op := r.opFor(liveParent); op != "" {
		requires[op] = true
	}
	if op := r.opFor(storageParent); op != "" {
		requires[op] = true
	}
	for op := range requires {
		dep.Requires = append(dep.Requires, op)
	}
	sort.Strings(dep.Requires)

	r.memo[key] = dep
	return dep
}

// longestPrefix returns the most specific known mount path covering p,
// falling back to the implicitly mounted filesystem root.
func (r *Resolver) longestPrefix(p string) string {
	if best := paths.LongestPrefix(p, r.mountPaths); best != "" {
		return best
	}
	return "/"
}

// opFor returns the identifier of the operation providing the mount that
// covers p, or "" when only the implicit root covers it.
func (r *Resolver) opFor(p string) string {
	best := paths.LongestPrefix(p, r.mountPaths)
	if best == "" {
		return ""
	}
	return r.opByPath[best]
}
