package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_LongestPrefixWins(t *testing.T) {
	t.Parallel()

	r := NewResolver([]MountPoint{
		{Path: "/", Device: "/dev/root", FSType: "tmpfs"},
		{Path: "/persist", Device: "/dev/disk/by-label/persist", FSType: "ext4"},
	})

	dep := r.Resolve("/var/log", "/persist/var/log")
	assert.Equal(t, "/persist", dep.PersistentParentMount)
	assert.Equal(t, "/", dep.LiveParentMount)
	assert.Equal(t, []string{MountID("/"), MountID("/persist")}, dep.Requires)
}

func TestResolve_ExactMountNotConfusedWithSibling(t *testing.T) {
	t.Parallel()

	// /persistent must not match as a prefix of /persist-backup.
	r := NewResolver([]MountPoint{
		{Path: "/persistent"},
	})

	dep := r.Resolve("/persist-backup/data", "/persistent/data/thing")
	assert.Equal(t, "/", dep.LiveParentMount)
	assert.Equal(t, "/persistent", dep.PersistentParentMount)
}

func TestResolve_RootFallback(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)

	// With no known mounts both sides fall back to the implicitly mounted
	// filesystem root, which requires no operation.
	dep := r.Resolve("/var/log", "/persist/var/log")
	assert.Equal(t, "/", dep.LiveParentMount)
	assert.Equal(t, "/", dep.PersistentParentMount)
	assert.Empty(t, dep.Requires)
}

func TestResolve_PlannedMount(t *testing.T) {
	t.Parallel()

	r := NewResolver([]MountPoint{{Path: "/persist"}})
	r.AddPlannedMount("/var/lib", LinkID(MethodBind, "/var/lib"))

	dep := r.Resolve("/var/lib/docker", "/persist/var/lib/docker")
	assert.Equal(t, "/var/lib", dep.LiveParentMount)
	assert.Equal(t, "/persist", dep.PersistentParentMount)
	assert.Equal(t, []string{
		LinkID(MethodBind, "/var/lib"),
		MountID("/persist"),
	}, dep.Requires)
}

func TestResolve_SharedParentCollapsesToOneRequirement(t *testing.T) {
	t.Parallel()

	r := NewResolver([]MountPoint{{Path: "/persist"}})

	// Both parents live under the same mount; the requirement appears once.
	dep := r.Resolve("/persist/live/a", "/persist/store/a")
	require.Len(t, dep.Requires, 1)
	assert.Equal(t, MountID("/persist"), dep.Requires[0])
}

func TestResolve_Memoized(t *testing.T) {
	t.Parallel()

	r := NewResolver([]MountPoint{{Path: "/persist"}})

	first := r.Resolve("/var/log/nginx", "/persist/var/log/nginx")
	second := r.Resolve("/var/log/audit", "/persist/var/log/audit")
	assert.Equal(t, first, second)
}
