package plan

import (
	"io/fs"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/persistfs/pkg/config"
)

func closurePaths(closure []*DirectoryEntry) []string {
	out := make([]string, len(closure))
	for i, d := range closure {
		out[i] = d.LivePath
	}
	return out
}

func closureEntry(t *testing.T, closure []*DirectoryEntry, livePath string) *DirectoryEntry {
	t.Helper()
	for _, d := range closure {
		if d.LivePath == livePath {
			return d
		}
	}
	t.Fatalf("closure is missing %s: %v", livePath, closurePaths(closure))
	return nil
}

func TestBuildClosure_AncestorsPrecedeDescendants(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.RootConfig{
		StoragePath: "/persist",
		Directories: []config.EntryConfig{{Path: "/var/lib/docker"}},
		Files:       []config.EntryConfig{{Path: "/etc/machine-id"}},
	})
	p, err := Normalize(cfg, staticHomes(nil))
	require.NoError(t, err)

	closure := BuildClosure(p)
	got := closurePaths(closure)
	assert.Equal(t, []string{"/etc", "/var", "/var/lib", "/var/lib/docker"}, got)
	assert.True(t, sort.StringsAreSorted(got))

	implied := closureEntry(t, closure, "/var/lib")
	assert.False(t, implied.Explicit)
	assert.Equal(t, Owner{User: "root", Group: "root", Mode: fs.FileMode(0o755)}, implied.Owner)
	assert.True(t, closureEntry(t, closure, "/var/lib/docker").Explicit)
}

func TestBuildClosure_HomeBoundary(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.RootConfig{
		StoragePath: "/persist",
		Users: map[string]config.UserConfig{
			"alice": {
				Home:        "/home/alice",
				Directories: []config.EntryConfig{{Path: ".ssh", Mode: config.FileMode(0o700)}},
			},
		},
	})
	p, err := Normalize(cfg, staticHomes(map[string]string{"alice": "/home/alice"}))
	require.NoError(t, err)

	closure := BuildClosure(p)
	got := closurePaths(closure)
	assert.Equal(t, []string{"/home", "/home/alice", "/home/alice/.ssh"}, got)

	// Above the boundary everything is root-owned; the declared entry below
	// it carries the user's ownership and mode.
	parent := closureEntry(t, closure, "/home")
	assert.Equal(t, Owner{User: "root", Group: "root", Mode: fs.FileMode(0o755)}, parent.Owner)

	home := closureEntry(t, closure, "/home/alice")
	assert.Equal(t, KindHomeBoundary, home.Kind)
	assert.Equal(t, Owner{User: "root", Group: "root", Mode: fs.FileMode(0o755)}, home.Owner)

	ssh := closureEntry(t, closure, "/home/alice/.ssh")
	assert.Equal(t, Owner{User: "alice", Group: "users", Mode: fs.FileMode(0o700)}, ssh.Owner)
}

func TestBuildClosure_HomeBoundaryWinsOverImplied(t *testing.T) {
	t.Parallel()

	// A system-scope file below the home implies /home/alice as an ancestor;
	// the boundary entry from the user scope must still win.
	cfg := testConfig(config.RootConfig{
		StoragePath: "/persist",
		Files:       []config.EntryConfig{{Path: "/home/alice/.netrc"}},
		Users: map[string]config.UserConfig{
			"alice": {Home: "/home/alice", HomeMode: config.FileMode(0o700)},
		},
	})
	p, err := Normalize(cfg, staticHomes(map[string]string{"alice": "/home/alice"}))
	require.NoError(t, err)

	closure := BuildClosure(p)
	home := closureEntry(t, closure, "/home/alice")
	assert.Equal(t, KindHomeBoundary, home.Kind)
	assert.Equal(t, fs.FileMode(0o700), home.Owner.Mode)
}

func TestBuildClosure_ExplicitWinsOverImplied(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.RootConfig{
		StoragePath: "/persist",
		Directories: []config.EntryConfig{
			{Path: "/var/log/nginx"},
			{Path: "/var/log", User: "syslog", Group: "adm", Mode: config.FileMode(0o750)},
		},
	})
	p, err := Normalize(cfg, staticHomes(nil))
	require.NoError(t, err)

	closure := BuildClosure(p)
	log := closureEntry(t, closure, "/var/log")
	assert.True(t, log.Explicit)
	assert.Equal(t, Owner{User: "syslog", Group: "adm", Mode: fs.FileMode(0o750)}, log.Owner)
}

func TestBuildClosure_RootMarkerExcluded(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.RootConfig{
		StoragePath: "/persist",
		Directories: []config.EntryConfig{{Path: "/var/lib/docker/."}},
	})
	p, err := Normalize(cfg, staticHomes(nil))
	require.NoError(t, err)

	// The marked directory is mounted, never created, but its ancestors
	// still are.
	closure := BuildClosure(p)
	assert.Equal(t, []string{"/var", "/var/lib"}, closurePaths(closure))
}

func TestBuildClosure_Deduplicates(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.RootConfig{
		StoragePath: "/persist",
		Files: []config.EntryConfig{
			{Path: "/var/lib/tailscale/tailscaled.state"},
			{Path: "/var/lib/bluetooth/keys"},
		},
	})
	p, err := Normalize(cfg, staticHomes(nil))
	require.NoError(t, err)

	closure := BuildClosure(p)
	assert.Equal(t,
		[]string{"/var", "/var/lib", "/var/lib/bluetooth", "/var/lib/tailscale"},
		closurePaths(closure))
}
