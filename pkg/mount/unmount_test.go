package mount

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/persistfs/pkg/plan"
)

func TestUnmount_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	fm := newFakeMounter()
	fm.unmountFailures = 2
	e := newTestExecutor(fm, newFakeFS(), baseMounts)

	require.NoError(t, e.Unmount(context.Background(), "/var/log"))
	assert.Equal(t, 3, fm.unmountCalls)
	assert.Zero(t, fm.lazyCalls)
}

func TestUnmount_FallsBackToLazyDetach(t *testing.T) {
	t.Parallel()

	fm := newFakeMounter()
	fm.unmountFailures = 100
	e := newTestExecutor(fm, newFakeFS(), baseMounts)

	require.NoError(t, e.Unmount(context.Background(), "/var/log"))
	assert.Equal(t, 3, fm.unmountCalls)
	assert.Equal(t, 1, fm.lazyCalls)
}

func TestUnmount_TimeoutWhenLazyDetachFails(t *testing.T) {
	t.Parallel()

	fm := newFakeMounter()
	fm.unmountFailures = 100
	fm.lazyErr = errors.New("still busy")
	e := newTestExecutor(fm, newFakeFS(), baseMounts)

	err := e.Unmount(context.Background(), "/var/log")

	var timeout *UnmountTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "/var/log", timeout.Target)
	assert.Equal(t, 3, timeout.Attempts)
	assert.ErrorContains(t, timeout, "still busy")
}

func TestUnmount_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	fm := newFakeMounter()
	fm.unmountFailures = 100
	e := newTestExecutor(fm, newFakeFS(), baseMounts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Unmount(ctx, "/var/log")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fm.unmountCalls)
}

// applyOrder runs a small creation pass so teardown has something real to
// undo: created directories, a live mount view and entry states.
func applyOrder(t *testing.T, e *Executor, order *plan.Order) {
	t.Helper()
	report, err := e.Apply(context.Background(), order)
	require.NoError(t, err)
	require.True(t, report.OK(), "apply failed: %+v", report.Results)
}

func rootOwner() *plan.Owner {
	return &plan.Owner{User: "root", Group: "root", Mode: 0o755}
}

func TestTeardown_UndoesInReverse(t *testing.T) {
	t.Parallel()

	fm := newFakeMounter()
	fsys := newFakeFS()
	e := newTestExecutor(fm, fsys, baseMounts)

	order := &plan.Order{Operations: []plan.Operation{
		{ID: plan.MkdirID("/var"), Kind: plan.OpMkdir, Target: "/var", Owner: rootOwner()},
		{ID: plan.MkdirID("/var/log"), Kind: plan.OpMkdir, Target: "/var/log", Owner: rootOwner()},
		{
			ID:     plan.LinkID(plan.MethodBind, "/var/log"),
			Kind:   plan.OpBindMount,
			Target: "/var/log",
			Source: "/persist/var/log",
		},
	}}
	applyOrder(t, e, order)

	require.NoError(t, e.Teardown(context.Background(), order))

	assert.Equal(t, 1, fm.unmountCalls)
	assert.Equal(t, StateUnmounted, e.State("/var/log"))
	// Both directories were created by this run and are empty afterwards.
	assert.Equal(t, []string{"/var/log", "/var"}, fsys.removals)
}

func TestTeardown_KeepsPreexistingDirectories(t *testing.T) {
	t.Parallel()

	fm := newFakeMounter()
	fsys := newFakeFS()
	fsys.dirs["/var"] = 5 // existed before this run
	e := newTestExecutor(fm, fsys, baseMounts)

	order := &plan.Order{Operations: []plan.Operation{
		{ID: plan.MkdirID("/var"), Kind: plan.OpMkdir, Target: "/var", Owner: rootOwner()},
		{ID: plan.MkdirID("/var/log"), Kind: plan.OpMkdir, Target: "/var/log", Owner: rootOwner()},
		{
			ID:     plan.LinkID(plan.MethodBind, "/var/log"),
			Kind:   plan.OpBindMount,
			Target: "/var/log",
			Source: "/persist/var/log",
		},
	}}
	applyOrder(t, e, order)

	require.NoError(t, e.Teardown(context.Background(), order))
	assert.Equal(t, []string{"/var/log"}, fsys.removals)
	assert.Contains(t, fsys.dirs, "/var")
}

func TestTeardown_LeavesForeignMountsAlone(t *testing.T) {
	t.Parallel()

	mounts := append([]plan.MountPoint{}, baseMounts...)
	mounts = append(mounts, plan.MountPoint{Path: "/var/log", Device: "/other/var/log", FSType: "bind"})

	fm := newFakeMounter()
	e := newTestExecutor(fm, newFakeFS(), mounts)

	order := &plan.Order{Operations: []plan.Operation{
		{
			ID:     plan.LinkID(plan.MethodBind, "/var/log"),
			Kind:   plan.OpBindMount,
			Target: "/var/log",
			Source: "/persist/var/log",
		},
	}}

	require.NoError(t, e.Teardown(context.Background(), order))
	assert.Zero(t, fm.unmountCalls)
}

func TestTeardown_RemovesOwnSymlinksOnly(t *testing.T) {
	t.Parallel()

	fm := newFakeMounter()
	fsys := newFakeFS()
	fsys.links["/etc/machine-id"] = "/persist/etc/machine-id"
	fsys.links["/etc/hostname"] = "/somewhere/else"
	e := newTestExecutor(fm, fsys, baseMounts)

	order := &plan.Order{Operations: []plan.Operation{
		{
			ID:     plan.LinkID(plan.MethodSymlink, "/etc/machine-id"),
			Kind:   plan.OpSymlink,
			Target: "/etc/machine-id",
			Source: "/persist/etc/machine-id",
		},
		{
			ID:     plan.LinkID(plan.MethodSymlink, "/etc/hostname"),
			Kind:   plan.OpSymlink,
			Target: "/etc/hostname",
			Source: "/persist/etc/hostname",
		},
	}}

	require.NoError(t, e.Teardown(context.Background(), order))
	assert.Equal(t, []string{"/etc/machine-id"}, fsys.removals)
	assert.Contains(t, fsys.links, "/etc/hostname")
}

func TestTeardown_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	mounts := append([]plan.MountPoint{}, baseMounts...)
	mounts = append(mounts,
		plan.MountPoint{Path: "/var/log", Device: "/persist/var/log", FSType: "bind"},
		plan.MountPoint{Path: "/srv/git", Device: "/persist/srv/git", FSType: "bind"},
	)

	fm := newFakeMounter()
	fm.unmountFailures = 100
	fm.lazyErr = errors.New("still busy")
	e := newTestExecutor(fm, newFakeFS(), mounts)

	order := &plan.Order{Operations: []plan.Operation{
		{ID: plan.LinkID(plan.MethodBind, "/var/log"), Kind: plan.OpBindMount, Target: "/var/log", Source: "/persist/var/log"},
		{ID: plan.LinkID(plan.MethodBind, "/srv/git"), Kind: plan.OpBindMount, Target: "/srv/git", Source: "/persist/srv/git"},
	}}

	err := e.Teardown(context.Background(), order)
	require.Error(t, err)

	// One busy mount does not stop the other from being attempted.
	assert.ErrorContains(t, err, "/var/log")
	assert.ErrorContains(t, err, "/srv/git")
}
