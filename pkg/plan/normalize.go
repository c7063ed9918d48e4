package plan

import (
	"fmt"
	"os/user"
	"path"
	"sort"
	"strings"

	"github.com/marmos91/persistfs/pkg/config"
	"github.com/marmos91/persistfs/pkg/paths"
)

// NormalizeOptions tunes normalization.
type NormalizeOptions struct {
	// LookupHome resolves a user name to a home directory. Defaults to the
	// OS user database. Overridable in tests.
	LookupHome func(name string) (string, error)
}

// osLookupHome resolves a home directory from the OS user database.
func osLookupHome(name string) (string, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return "", err
	}
	if u.HomeDir == "" {
		return "", fmt.Errorf("user %q has no home directory", name)
	}
	return u.HomeDir, nil
}

// Normalize turns the raw configuration tree into a fully-populated Plan.
//
// Defaults propagate top-down: global default owner, then per-root default,
// then per-user default, then the explicit per-entry override; each layer
// overrides only the fields it sets. Every configuration problem is
// collected into a single ConfigError so all offending paths surface in one
// pass; a non-nil error means no entry of the returned plan may be executed.
func Normalize(cfg *config.Config, opts NormalizeOptions) (*Plan, error) {
	if opts.LookupHome == nil {
		opts.LookupHome = osLookupHome
	}

	cerr := &ConfigError{}
	p := &Plan{}

	// seen maps live path -> declaration site for duplicate detection.
	seen := make(map[string]string)

	claim := func(livePath, site string) bool {
		if previous, dup := seen[livePath]; dup {
			cerr.add(livePath, "declared twice: %s and %s", previous, site)
			return false
		}
		seen[livePath] = site
		return true
	}

	for ri := range cfg.Roots {
		rootCfg := &cfg.Roots[ri]
		if !rootCfg.IsEnabled() {
			continue
		}

		root := &Root{
			StoragePath:  path.Clean(rootCfg.StoragePath),
			DefaultOwner: ownerFromConfig(rootCfg.DefaultOwner).merge(ownerFromConfig(cfg.DefaultOwner)),
			HideMounts:   rootCfg.HideMounts,
			Enabled:      true,
		}
		p.Roots = append(p.Roots, root)

		for ei, entry := range rootCfg.Directories {
			site := fmt.Sprintf("root %s, directories[%d]", root.StoragePath, ei)
			normalizeDirectory(p, cerr, root, entry, site, "", root.DefaultOwner, root.DefaultOwner, claim)
		}
		for ei, entry := range rootCfg.Files {
			site := fmt.Sprintf("root %s, files[%d]", root.StoragePath, ei)
			normalizeFile(p, cerr, root, entry, site, "", root.DefaultOwner, claim)
		}

		// Map iteration order is randomized; sort user names so the plan is
		// deterministic across runs.
		names := make([]string, 0, len(rootCfg.Users))
		for name := range rootCfg.Users {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			normalizeUser(p, cerr, root, name, rootCfg.Users[name], opts, claim)
		}
	}

	return p, cerr.orNil()
}

// normalizeUser expands one per-user scope: the home boundary entry plus the
// user's declared files and directories, all anchored under the home.
func normalizeUser(
	p *Plan,
	cerr *ConfigError,
	root *Root,
	name string,
	userCfg config.UserConfig,
	opts NormalizeOptions,
	claim func(string, string) bool,
) {
	home := path.Clean(userCfg.Home)
	resolved, lookupErr := opts.LookupHome(name)

	switch {
	case userCfg.Home == "":
		if lookupErr != nil {
			cerr.add(name, "user has no resolvable home directory: %v", lookupErr)
			return
		}
		home = path.Clean(resolved)
	case lookupErr == nil && path.Clean(resolved) != home:
		cerr.add(home, "user %s: configured home does not match the user database home %s", name, resolved)
		return
	}

	// Entries inside the home default to the user's own ownership, layered
	// over the scope's explicit default_owner when one is configured.
	userOwner := ownerFromConfig(userCfg.DefaultOwner).merge(Owner{
		User:  name,
		Group: "users",
		Mode:  root.DefaultOwner.Mode,
	})

	// The home directory itself is the permission boundary. It keeps the
	// root-owned default ownership so user defaults never leak upward; only
	// its mode is user-suppliable via home_mode. Ancestors above the home
	// fall back to the root-owned default entirely.
	homeMode := userCfg.HomeMode.FileMode()
	if homeMode == 0 {
		homeMode = root.DefaultOwner.Mode
	}
	homeEntry := &DirectoryEntry{
		LivePath:   home,
		StorageRel: storageRel(home),
		Root:       root,
		Owner: Owner{
			User:  root.DefaultOwner.User,
			Group: root.DefaultOwner.Group,
			Mode:  homeMode,
		},
		Kind:       KindHomeBoundary,
		Method:     MethodBind,
		HideMounts: root.HideMounts,
		declaredAt:    fmt.Sprintf("root %s, user %s", root.StoragePath, name),
		ancestorOwner: root.DefaultOwner,
	}
	p.Directories = append(p.Directories, homeEntry)

	for ei, entry := range userCfg.Directories {
		site := fmt.Sprintf("root %s, user %s, directories[%d]", root.StoragePath, name, ei)
		normalizeDirectory(p, cerr, root, entry, site, home, userOwner, userOwner, claim)
	}
	for ei, entry := range userCfg.Files {
		site := fmt.Sprintf("root %s, user %s, files[%d]", root.StoragePath, name, ei)
		normalizeFile(p, cerr, root, entry, site, home, userOwner, claim)
	}
}

// normalizeDirectory resolves one declared directory into a DirectoryEntry.
// home is empty for system-scope entries.
func normalizeDirectory(
	p *Plan,
	cerr *ConfigError,
	root *Root,
	entry config.EntryConfig,
	site string,
	home string,
	defaultOwner Owner,
	ancestorOwner Owner,
	claim func(string, string) bool,
) {
	method, ok := resolveMethod(cerr, entry, site)
	if !ok {
		return
	}

	rootMarker := strings.HasSuffix(entry.Path, "/.")

	livePath, storage, ok := resolvePaths(cerr, entry, site, home)
	if !ok {
		return
	}
	if !claim(livePath, site) {
		return
	}

	owner := Owner{User: entry.User, Group: entry.Group, Mode: entry.Mode.FileMode()}.merge(defaultOwner)

	p.Directories = append(p.Directories, &DirectoryEntry{
		LivePath:      livePath,
		StorageRel:    storage,
		Root:          root,
		Owner:         owner,
		Kind:          KindRegular,
		Method:        method,
		Explicit:      true,
		RootMarker:    rootMarker,
		HideMounts:    hideMounts(root, entry),
		declaredAt:    site,
		boundary:      home,
		ancestorOwner: ancestorOwner,
	})
}

// normalizeFile resolves one declared file into a FileEntry.
func normalizeFile(
	p *Plan,
	cerr *ConfigError,
	root *Root,
	entry config.EntryConfig,
	site string,
	home string,
	ancestorOwner Owner,
	claim func(string, string) bool,
) {
	method, ok := resolveMethod(cerr, entry, site)
	if !ok {
		return
	}

	livePath, storage, ok := resolvePaths(cerr, entry, site, home)
	if !ok {
		return
	}
	if !claim(livePath, site) {
		return
	}

	p.Files = append(p.Files, &FileEntry{
		LivePath:      livePath,
		StorageRel:    storage,
		Root:          root,
		Method:        method,
		HideMounts:    hideMounts(root, entry),
		declaredAt:    site,
		boundary:      home,
		ancestorOwner: ancestorOwner,
	})
}

// resolvePaths computes the live-side absolute path and the storage-side
// relative path for a declared entry. The storage side always keeps the
// declared path in full; remove_prefix_directory drops the first segment on
// the live side only.
func resolvePaths(cerr *ConfigError, entry config.EntryConfig, site, home string) (livePath, storage string, ok bool) {
	declared := entry.Path

	if home == "" {
		livePath = path.Clean(declared)
		storage = storageRel(livePath)
		return livePath, storage, true
	}

	liveRel := declared
	if entry.RemovePrefixDirectory {
		liveRel = paths.StripFirstSegment(declared)
		if liveRel == "" {
			cerr.add(declared, "%s: remove_prefix_directory leaves no path", site)
			return "", "", false
		}
	}

	livePath = paths.Join(home, liveRel)
	storage = storageRel(paths.Join(home, declared))
	return livePath, storage, true
}

// resolveMethod validates the linking strategy, defaulting to bind.
func resolveMethod(cerr *ConfigError, entry config.EntryConfig, site string) (Method, bool) {
	if entry.Method == "" {
		return MethodBind, true
	}
	method := Method(entry.Method)
	if !method.Valid() {
		cerr.add(entry.Path, "%s: unknown method %q (expected bind or symlink)", site, entry.Method)
		return "", false
	}
	return method, true
}

func hideMounts(root *Root, entry config.EntryConfig) bool {
	if entry.HideMounts != nil {
		return *entry.HideMounts
	}
	return root.HideMounts
}

func ownerFromConfig(o config.OwnerConfig) Owner {
	return Owner{User: o.User, Group: o.Group, Mode: o.Mode.FileMode()}
}

// storageRel converts an absolute live path into the path relative to a
// storage root.
func storageRel(livePath string) string {
	return strings.TrimPrefix(path.Clean(livePath), "/")
}
