package plan

import (
	"sort"

	"github.com/marmos91/persistfs/pkg/paths"
)

// BuildClosure computes the complete ordered list of directories that must
// exist before any mount or link operation runs: every explicit directory
// plus every ancestor of every declared file and directory, deduplicated by
// live path.
//
// The result is sorted lexicographically by live path. Because an
// ancestor's path is always a proper prefix of its descendants' paths and
// "/" sorts below every other path character, lexicographic order
// guarantees the ancestor-precedes-descendant invariant while breaking ties
// among unrelated paths deterministically.
//
// Directories declared with a trailing "/." denote the root of a persistent
// path itself; they are mounted, never created, so they are excluded here
// while their ancestors are still included.
func BuildClosure(p *Plan) []*DirectoryEntry {
	byPath := make(map[string]*DirectoryEntry)

	// add inserts a directory unless a stronger entry already holds the
	// path. Home boundaries always win over regular entries, and explicit
	// declarations win over implied ancestors; the first implied entry wins
	// among equals, which is deterministic because normalization order is.
	add := func(d *DirectoryEntry) {
		existing, ok := byPath[d.LivePath]
		if !ok {
			byPath[d.LivePath] = d
			return
		}
		if existing.Kind == KindHomeBoundary {
			return
		}
		if d.Kind == KindHomeBoundary || (d.Explicit && !existing.Explicit) {
			byPath[d.LivePath] = d
		}
	}

	// addAncestors generates implied entries for every directory strictly
	// between the entry's boundary (its home directory, or the filesystem
	// root) and the entry itself.
	addAncestors := func(root *Root, boundary, livePath string, owner Owner) {
		stop := boundary
		if stop == "" {
			stop = "/"
		}
		for _, ancestor := range chainToParent(stop, livePath) {
			add(&DirectoryEntry{
				LivePath:      ancestor,
				StorageRel:    storageRel(ancestor),
				Root:          root,
				Owner:         owner,
				Kind:          KindRegular,
				Method:        MethodBind,
				boundary:      boundary,
				ancestorOwner: owner,
			})
		}
	}

	for _, d := range p.Directories {
		if !d.RootMarker {
			add(d)
		}
		addAncestors(d.Root, d.boundary, d.LivePath, d.ancestorOwner)
	}
	for _, f := range p.Files {
		addAncestors(f.Root, f.boundary, f.LivePath, f.ancestorOwner)
	}

	closure := make([]*DirectoryEntry, 0, len(byPath))
	for _, d := range byPath {
		closure = append(closure, d)
	}
	sort.Slice(closure, func(i, j int) bool {
		return closure[i].LivePath < closure[j].LivePath
	})
	return closure
}

// chainToParent returns the ancestors of p strictly below stop, up to and
// including p's parent.
func chainToParent(stop, p string) []string {
	chain := paths.Chain(stop, p)
	if len(chain) == 0 {
		return nil
	}
	return chain[:len(chain)-1]
}
