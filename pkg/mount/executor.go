// Package mount applies and tears down the operations computed by the
// planner: directory creation with ownership, bind mounts, bindfs mounts and
// symlinks, tracked through a per-entry state machine against the live mount
// table.
package mount

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/marmos91/persistfs/internal/logger"
	"github.com/marmos91/persistfs/pkg/paths"
	"github.com/marmos91/persistfs/pkg/plan"
)

// Options tunes executor behavior.
type Options struct {
	// UnmountRetries is how many regular unmount attempts are made before
	// falling back to a lazy detach.
	UnmountRetries int

	// UnmountDelay is the pause between unmount attempts.
	UnmountDelay time.Duration
}

// sysOps collects the filesystem and user-database calls the executor makes,
// replaceable in tests.
type sysOps struct {
	stat      func(string) (fs.FileInfo, error)
	lstat     func(string) (fs.FileInfo, error)
	readLink  func(string) (string, error)
	mkdir     func(string, fs.FileMode) error
	chmod     func(string, fs.FileMode) error
	chown     func(string, int, int) error
	remove    func(string) error
	readDir   func(string) ([]fs.DirEntry, error)
	lookupUID func(string) (int, error)
	lookupGID func(string) (int, error)
}

func defaultSysOps() sysOps {
	return sysOps{
		stat:      os.Stat,
		lstat:     os.Lstat,
		readLink:  os.Readlink,
		mkdir:     os.Mkdir,
		chmod:     os.Chmod,
		chown:     os.Chown,
		remove:    os.Remove,
		readDir:   os.ReadDir,
		lookupUID: lookupUID,
		lookupGID: lookupGID,
	}
}

func lookupUID(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

func lookupGID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}

// Executor applies planned operations against the live filesystem. It keeps
// its own view of the mount table, updated as operations succeed, and the
// state of every entry it has touched.
//
// An Executor is single-run and not safe for concurrent use.
type Executor struct {
	mounter Mounter
	opts    Options
	sys     sysOps

	// mounts is the live view of the mount table: the snapshot taken at
	// construction plus every mount this run applied.
	mounts []plan.MountPoint

	// states maps a live path to the entry's current state.
	states map[string]EntryState

	// created marks directories this run created, the only ones teardown
	// may remove.
	created map[string]bool
}

// NewExecutor builds an executor over a mount-table snapshot.
func NewExecutor(m Mounter, mounts []plan.MountPoint, opts Options) *Executor {
	if opts.UnmountRetries <= 0 {
		opts.UnmountRetries = 5
	}
	if opts.UnmountDelay <= 0 {
		opts.UnmountDelay = 500 * time.Millisecond
	}
	return &Executor{
		mounter: m,
		opts:    opts,
		sys:     defaultSysOps(),
		mounts:  mounts,
		states:  make(map[string]EntryState),
		created: make(map[string]bool),
	}
}

// State returns the current state of the entry at target.
func (e *Executor) State(target string) EntryState {
	if s, ok := e.states[target]; ok {
		return s
	}
	return StateUnconfigured
}

func (e *Executor) setState(target string, next EntryState) {
	current := e.State(target)
	if !current.CanTransition(next) {
		logger.Warn("Illegal entry state transition",
			"target", target, "from", string(current), "to", string(next))
	}
	e.states[target] = next
}

// mountAt returns the top mount exactly at target, or nil.
func (e *Executor) mountAt(target string) *plan.MountPoint {
	for i := len(e.mounts) - 1; i >= 0; i-- {
		if e.mounts[i].Path == target {
			return &e.mounts[i]
		}
	}
	return nil
}

// mountBelow returns a mount point strictly below target, or nil.
func (e *Executor) mountBelow(target string) *plan.MountPoint {
	for i := range e.mounts {
		if paths.IsAncestor(target, e.mounts[i].Path) {
			return &e.mounts[i]
		}
	}
	return nil
}

// covered reports whether some mount is exactly at or above path, i.e. the
// path is reachable through the current table.
func (e *Executor) covered(path string) bool {
	for i := range e.mounts {
		if paths.Under(path, e.mounts[i].Path) {
			return true
		}
	}
	return path == "/"
}

// sourceMatches reports whether the mount at a target already carries the
// wanted backing source. Plain bind mounts expose the source as the mount
// root; bindfs mounts expose it as the fsname device.
func sourceMatches(m *plan.MountPoint, source string) bool {
	return m.Device == source || m.Root == source
}

// EnsureDirectory creates the directory at path with the given ownership if
// it does not exist. A pre-existing directory is left exactly as found;
// ownership and mode of directories this tool did not create are never
// corrected.
func (e *Executor) EnsureDirectory(ctx context.Context, path string, owner plan.Owner) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := e.sys.stat(path)
	switch {
	case err == nil:
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", path)
		}
		logger.DebugCtx(ctx, "Directory already exists, leaving untouched", "path", path)
		e.setState(path, StateCreated)
		return nil
	case !os.IsNotExist(err):
		return fmt.Errorf("stat %s: %w", path, err)
	}

	uid, err := e.sys.lookupUID(owner.User)
	if err != nil {
		return fmt.Errorf("resolve user %q for %s: %w", owner.User, path, err)
	}
	gid, err := e.sys.lookupGID(owner.Group)
	if err != nil {
		return fmt.Errorf("resolve group %q for %s: %w", owner.Group, path, err)
	}

	if err := e.sys.mkdir(path, owner.Mode); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	// mkdir is subject to the umask; restore the exact mode.
	if err := e.sys.chmod(path, owner.Mode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := e.sys.chown(path, uid, gid); err != nil {
		return fmt.Errorf("chown %s to %s:%s: %w", path, owner.User, owner.Group, err)
	}

	e.created[path] = true
	e.setState(path, StateCreated)
	logger.DebugCtx(ctx, "Directory created",
		"path", path, "owner", owner.User+":"+owner.Group, "mode", fmt.Sprintf("%04o", uint32(owner.Mode)))
	return nil
}

// BindMount applies one bind-mount spec. Already-mounted targets with the
// same source are a no-op; targets mounted from a different source are
// remounted; a mount strictly below the target is a conflict and refused.
func (e *Executor) BindMount(ctx context.Context, spec plan.BindMountSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if m := e.mountAt(spec.Target); m != nil {
		if sourceMatches(m, spec.Source) {
			logger.DebugCtx(ctx, "Already mounted from the wanted source",
				"target", spec.Target, "source", spec.Source)
			e.setState(spec.Target, StateMounted)
			return nil
		}

		logger.InfoCtx(ctx, "Target mounted from a different source, remounting",
			"target", spec.Target, "source", spec.Source, "current", m.Device)
		if e.State(spec.Target) == StateUnconfigured {
			// Mounted by an earlier run; adopt it before the remount detour.
			e.states[spec.Target] = StateMounted
		}
		e.setState(spec.Target, StateRemounting)
		if err := e.Unmount(ctx, spec.Target); err != nil {
			return err
		}
		e.removeMount(spec.Target)
	} else if below := e.mountBelow(spec.Target); below != nil {
		return &MountConflictError{Target: spec.Target, Below: below.Path}
	}

	var err error
	if spec.Hide {
		err = e.mounter.BindFS(spec.Source, spec.Target)
	} else {
		err = e.mounter.BindMount(spec.Source, spec.Target)
	}
	if err != nil {
		return err
	}

	e.mounts = append(e.mounts, plan.MountPoint{
		Path:   spec.Target,
		Root:   spec.Source,
		Device: spec.Source,
		FSType: fsTypeFor(spec.Hide),
	})
	e.setState(spec.Target, StateMounted)
	logger.InfoCtx(ctx, "Mounted",
		"target", spec.Target, "source", spec.Source, "hide", spec.Hide)
	return nil
}

func fsTypeFor(hide bool) string {
	if hide {
		return "fuse.bindfs"
	}
	return "bind"
}

// Symlink links target to source. An existing identical symlink is a no-op;
// an existing empty directory is replaced; anything else at the target is
// refused.
func (e *Executor) Symlink(ctx context.Context, source, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := e.sys.lstat(target)
	switch {
	case os.IsNotExist(err):
		// Nothing in the way.
	case err != nil:
		return fmt.Errorf("lstat %s: %w", target, err)
	case info.Mode()&fs.ModeSymlink != 0:
		existing, err := e.sys.readLink(target)
		if err != nil {
			return fmt.Errorf("readlink %s: %w", target, err)
		}
		if existing == source {
			logger.DebugCtx(ctx, "Symlink already in place", "target", target, "source", source)
			e.setState(target, StateMounted)
			return nil
		}
		return fmt.Errorf("%s is a symlink to %s, refusing to replace it with %s", target, existing, source)
	case info.IsDir():
		entries, err := e.sys.readDir(target)
		if err != nil {
			return fmt.Errorf("read %s: %w", target, err)
		}
		if len(entries) > 0 {
			return fmt.Errorf("%s is a non-empty directory, refusing to replace it with a symlink", target)
		}
		if err := e.sys.remove(target); err != nil {
			return fmt.Errorf("remove empty directory %s: %w", target, err)
		}
	default:
		return fmt.Errorf("%s exists and is not a symlink or empty directory", target)
	}

	if err := e.mounter.Symlink(source, target); err != nil {
		return err
	}
	e.created[target] = true
	e.setState(target, StateMounted)
	logger.InfoCtx(ctx, "Symlinked", "target", target, "source", source)
	return nil
}

func (e *Executor) removeMount(target string) {
	kept := e.mounts[:0]
	for _, m := range e.mounts {
		if m.Path != target {
			kept = append(kept, m)
		}
	}
	e.mounts = kept
}

// Outcome classifies what happened to one operation during a pass.
type Outcome string

const (
	// OutcomeApplied means the operation ran (or was already satisfied).
	OutcomeApplied Outcome = "applied"

	// OutcomeFailed means the operation itself errored.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped means a prerequisite failed, so the operation never ran.
	OutcomeSkipped Outcome = "skipped"
)

// Result records the outcome of one operation.
type Result struct {
	ID      string  `json:"id"              yaml:"id"`
	Outcome Outcome `json:"outcome"         yaml:"outcome"`
	Error   string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report collects the per-operation results of an Apply pass.
type Report struct {
	Results []Result `json:"results" yaml:"results"`
}

// OK reports whether every operation applied cleanly.
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if res.Outcome != OutcomeApplied {
			return false
		}
	}
	return true
}

// Failed returns the results of operations that errored.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Apply runs the creation pass over an operation order. A failed operation
// fails only its own dependency subtree: every operation requiring it is
// skipped, while independent subtrees keep going. The returned error is
// non-nil only when the context is cancelled; per-operation failures live in
// the report.
func (e *Executor) Apply(ctx context.Context, order *plan.Order) (*Report, error) {
	report := &Report{Results: make([]Result, 0, len(order.Operations))}

	// dead holds operations that failed or were skipped; anything requiring
	// them is skipped in turn.
	dead := make(map[string]bool)

	for _, op := range order.Operations {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if blocked := e.blockedBy(op, dead); blocked != "" {
			logger.WarnCtx(ctx, "Skipping operation, prerequisite failed",
				"operation", op.ID, "requires", blocked)
			dead[op.ID] = true
			report.Results = append(report.Results, Result{
				ID:      op.ID,
				Outcome: OutcomeSkipped,
				Error:   "prerequisite not satisfied: " + blocked,
			})
			continue
		}

		if err := e.applyOne(ctx, op); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			logger.ErrorCtx(ctx, "Operation failed", "operation", op.ID, "error", err.Error())
			dead[op.ID] = true
			report.Results = append(report.Results, Result{
				ID:      op.ID,
				Outcome: OutcomeFailed,
				Error:   err.Error(),
			})
			continue
		}

		report.Results = append(report.Results, Result{ID: op.ID, Outcome: OutcomeApplied})
	}

	return report, nil
}

// blockedBy returns the first prerequisite of op that cannot be satisfied:
// a failed or skipped operation, or an underlying OS mount that is absent
// from the table.
func (e *Executor) blockedBy(op plan.Operation, dead map[string]bool) string {
	for _, req := range op.Requires {
		if dead[req] {
			return req
		}
		if path, ok := plan.ParseMountID(req); ok && !e.covered(path) {
			return req
		}
	}
	return ""
}

func (e *Executor) applyOne(ctx context.Context, op plan.Operation) error {
	switch op.Kind {
	case plan.OpMkdir:
		var owner plan.Owner
		if op.Owner != nil {
			owner = *op.Owner
		}
		return e.EnsureDirectory(ctx, op.Target, owner)
	case plan.OpBindMount:
		return e.BindMount(ctx, plan.BindMountSpec{
			Source: op.Source,
			Target: op.Target,
			Method: plan.MethodBind,
			Hide:   op.Hide,
		})
	case plan.OpSymlink:
		return e.Symlink(ctx, op.Source, op.Target)
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// EntryStatus describes how one planned entry compares against the live
// filesystem.
type EntryStatus struct {
	ID     string             `json:"id"               yaml:"id"`
	Kind   plan.OperationKind `json:"kind"             yaml:"kind"`
	Target string             `json:"target"           yaml:"target"`
	Source string             `json:"source,omitempty" yaml:"source,omitempty"`
	State  EntryState         `json:"state"            yaml:"state"`
}

// Status inspects the live filesystem without mutating it and reports the
// state of every mount and link operation in the order.
func (e *Executor) Status(order *plan.Order) []EntryStatus {
	var statuses []EntryStatus
	for _, op := range order.Operations {
		if op.Kind == plan.OpMkdir {
			continue
		}
		statuses = append(statuses, EntryStatus{
			ID:     op.ID,
			Kind:   op.Kind,
			Target: op.Target,
			Source: op.Source,
			State:  e.observe(op),
		})
	}
	return statuses
}

// observe determines an entry's state from the mount table and filesystem.
func (e *Executor) observe(op plan.Operation) EntryState {
	if op.Kind == plan.OpSymlink {
		existing, err := e.sys.readLink(op.Target)
		if err == nil && existing == op.Source {
			return StateMounted
		}
		if _, statErr := e.sys.lstat(op.Target); statErr == nil {
			return StateCreated
		}
		return StateUnconfigured
	}

	if m := e.mountAt(op.Target); m != nil && sourceMatches(m, op.Source) {
		return StateMounted
	}
	if info, err := e.sys.stat(op.Target); err == nil && info.IsDir() {
		return StateCreated
	}
	return StateUnconfigured
}
