package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/persistfs/pkg/config"
)

var testMounts = []MountPoint{
	{Path: "/", Device: "tmpfs", FSType: "tmpfs"},
	{Path: "/persist", Device: "/dev/disk/by-label/persist", FSType: "ext4", NeededForBoot: true},
}

func operationIDs(order *Order) []string {
	ids := make([]string, len(order.Operations))
	for i, op := range order.Operations {
		ids[i] = op.ID
	}
	return ids
}

func mustOp(t *testing.T, order *Order, id string) Operation {
	t.Helper()
	op, ok := order.ByID(id)
	require.True(t, ok, "no operation %s in %v", id, operationIDs(order))
	return op
}

func TestBuildOrder_MkdirBeforeMount(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.RootConfig{
		StoragePath: "/persist",
		Directories: []config.EntryConfig{{Path: "/var/log"}},
	})
	p, err := Normalize(cfg, staticHomes(nil))
	require.NoError(t, err)

	order := BuildOrder(p, testMounts)
	assert.Equal(t, []string{
		MkdirID("/var"),
		MkdirID("/var/log"),
		LinkID(MethodBind, "/var/log"),
	}, operationIDs(order))

	mount := mustOp(t, order, LinkID(MethodBind, "/var/log"))
	assert.Equal(t, OpBindMount, mount.Kind)
	assert.Equal(t, "/persist/var/log", mount.Source)
	assert.Contains(t, mount.Requires, MkdirID("/var/log"))
	assert.Contains(t, mount.Requires, MountID("/persist"))
	assert.Equal(t,
		[]string{"mount", "-o", "bind,fsname=/persist/var/log", "/persist/var/log", "/var/log"},
		mount.Command)

	mkdir := mustOp(t, order, MkdirID("/var/log"))
	require.NotNil(t, mkdir.Owner)
	assert.Equal(t,
		[]string{"install", "-d", "-m", "0755", "-o", "root", "-g", "root", "/var/log"},
		mkdir.Command)
}

func TestBuildOrder_NestedPersistentMounts(t *testing.T) {
	t.Parallel()

	// /var/log lives under /var, which is itself relocated. Its creation and
	// mount must come after /var is mounted, or they would write to the
	// obscured directory underneath.
	cfg := testConfig(config.RootConfig{
		StoragePath: "/persist",
		Directories: []config.EntryConfig{
			{Path: "/var/log"},
			{Path: "/var"},
		},
	})
	p, err := Normalize(cfg, staticHomes(nil))
	require.NoError(t, err)

	order := BuildOrder(p, testMounts)
	assert.Equal(t, []string{
		MkdirID("/var"),
		LinkID(MethodBind, "/var"),
		MkdirID("/var/log"),
		LinkID(MethodBind, "/var/log"),
	}, operationIDs(order))

	innerMkdir := mustOp(t, order, MkdirID("/var/log"))
	assert.Contains(t, innerMkdir.Requires, LinkID(MethodBind, "/var"))

	innerMount := mustOp(t, order, LinkID(MethodBind, "/var/log"))
	assert.Contains(t, innerMount.Requires, LinkID(MethodBind, "/var"))
	assert.NotContains(t, innerMount.Requires, LinkID(MethodBind, "/var/log"))
}

func TestBuildOrder_SymlinkFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.RootConfig{
		StoragePath: "/persist",
		Files:       []config.EntryConfig{{Path: "/etc/machine-id", Method: "symlink"}},
	})
	p, err := Normalize(cfg, staticHomes(nil))
	require.NoError(t, err)

	order := BuildOrder(p, testMounts)
	link := mustOp(t, order, LinkID(MethodSymlink, "/etc/machine-id"))
	assert.Equal(t, OpSymlink, link.Kind)
	assert.Contains(t, link.Requires, MkdirID("/etc"))
	assert.Equal(t,
		[]string{"ln", "-s", "/persist/etc/machine-id", "/etc/machine-id"},
		link.Command)
}

func TestBuildOrder_HiddenMountUsesBindfs(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.RootConfig{
		StoragePath: "/persist",
		HideMounts:  true,
		Directories: []config.EntryConfig{{Path: "/var/log"}},
	})
	p, err := Normalize(cfg, staticHomes(nil))
	require.NoError(t, err)

	order := BuildOrder(p, testMounts)
	mount := mustOp(t, order, LinkID(MethodBind, "/var/log"))
	assert.True(t, mount.Hide)
	assert.Equal(t, []string{
		"bindfs",
		"-o", "no-allow-other",
		"-o", "fsname=/persist/var/log",
		"/persist/var/log", "/var/log",
	}, mount.Command)
}

func TestBuildOrder_RootMarkerMountedNotCreated(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.RootConfig{
		StoragePath: "/persist",
		Directories: []config.EntryConfig{{Path: "/srv/."}},
	})
	p, err := Normalize(cfg, staticHomes(nil))
	require.NoError(t, err)

	order := BuildOrder(p, testMounts)
	assert.Equal(t, []string{LinkID(MethodBind, "/srv")}, operationIDs(order))

	mount := mustOp(t, order, LinkID(MethodBind, "/srv"))
	assert.NotContains(t, mount.Requires, MkdirID("/srv"))
}

func TestBuildOrder_Deterministic(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.RootConfig{
		StoragePath: "/persist",
		Directories: []config.EntryConfig{{Path: "/var/log"}, {Path: "/srv/git"}},
		Files:       []config.EntryConfig{{Path: "/etc/machine-id"}},
		Users: map[string]config.UserConfig{
			"alice": {Home: "/home/alice", Directories: []config.EntryConfig{{Path: ".ssh"}}},
			"bob":   {Home: "/home/bob", Files: []config.EntryConfig{{Path: ".bash_history"}}},
		},
	})
	homes := staticHomes(map[string]string{"alice": "/home/alice", "bob": "/home/bob"})

	p1, err := Normalize(cfg, homes)
	require.NoError(t, err)
	p2, err := Normalize(cfg, homes)
	require.NoError(t, err)

	assert.Equal(t, BuildOrder(p1, testMounts), BuildOrder(p2, testMounts))
}
