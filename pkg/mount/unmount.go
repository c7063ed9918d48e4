package mount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/persistfs/internal/logger"
	"github.com/marmos91/persistfs/pkg/plan"
)

// Unmount detaches the mount at target. Busy targets are retried with a
// pause between attempts; when every attempt fails the mount is lazily
// detached so it disappears from the tree immediately and the kernel
// finishes the detach once the last user exits. UnmountTimeoutError is
// returned only when even the lazy detach fails.
func (e *Executor) Unmount(ctx context.Context, target string) error {
	var lastErr error
	for attempt := 1; attempt <= e.opts.UnmountRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = e.mounter.Unmount(target)
		if lastErr == nil {
			logger.DebugCtx(ctx, "Unmounted", "target", target, "attempt", attempt)
			return nil
		}

		logger.WarnCtx(ctx, "Unmount failed, retrying",
			"target", target, "attempt", attempt,
			"max_retries", e.opts.UnmountRetries, "error", lastErr.Error())
		if err := sleepCtx(ctx, e.opts.UnmountDelay); err != nil {
			return err
		}
	}

	logger.InfoCtx(ctx, "Falling back to lazy detach", "target", target, "error", lastErr.Error())
	if err := e.mounter.LazyUnmount(target); err != nil {
		return &UnmountTimeoutError{
			Target:   target,
			Attempts: e.opts.UnmountRetries,
			Err:      err,
		}
	}
	return nil
}

// Teardown undoes an operation order: mounts are detached and symlinks
// removed in reverse order, and directories this run created are removed if
// still empty. Everything is best-effort; all errors are collected and
// joined so one busy mount never blocks the rest of the teardown.
func (e *Executor) Teardown(ctx context.Context, order *plan.Order) error {
	var errs []error

	for i := len(order.Operations) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		op := order.Operations[i]
		if err := e.teardownOne(ctx, op); err != nil {
			logger.ErrorCtx(ctx, "Teardown step failed", "operation", op.ID, "error", err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", op.ID, err))
		}
	}

	return errors.Join(errs...)
}

func (e *Executor) teardownOne(ctx context.Context, op plan.Operation) error {
	switch op.Kind {
	case plan.OpBindMount:
		m := e.mountAt(op.Target)
		if m == nil {
			logger.DebugCtx(ctx, "Not mounted, nothing to tear down", "target", op.Target)
			return nil
		}
		if !sourceMatches(m, op.Source) {
			logger.WarnCtx(ctx, "Target mounted from a foreign source, leaving it alone",
				"target", op.Target, "current", m.Device)
			return nil
		}

		e.adoptMounted(op.Target)
		e.setState(op.Target, StateUnmounting)
		if err := e.Unmount(ctx, op.Target); err != nil {
			return err
		}
		e.removeMount(op.Target)
		e.setState(op.Target, StateUnmounted)
		e.removeCreatedDir(ctx, op.Target)
		return nil

	case plan.OpSymlink:
		existing, err := e.sys.readLink(op.Target)
		if err != nil {
			// Absent or not a symlink; either way it is not ours to remove.
			return nil
		}
		if existing != op.Source {
			logger.WarnCtx(ctx, "Symlink points elsewhere, leaving it alone",
				"target", op.Target, "current", existing)
			return nil
		}
		if err := e.sys.remove(op.Target); err != nil {
			return fmt.Errorf("remove symlink: %w", err)
		}
		e.adoptMounted(op.Target)
		e.setState(op.Target, StateUnmounting)
		e.setState(op.Target, StateUnmounted)
		return nil

	case plan.OpMkdir:
		e.removeCreatedDir(ctx, op.Target)
		return nil

	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// adoptMounted seeds the state machine for entries mounted by an earlier
// run, which this executor never saw transition to Mounted.
func (e *Executor) adoptMounted(target string) {
	if e.State(target) == StateUnconfigured || e.State(target) == StateCreated {
		e.states[target] = StateMounted
	}
}

// removeCreatedDir removes a directory created by this run, provided it is
// still empty. Pre-existing directories are never removed.
func (e *Executor) removeCreatedDir(ctx context.Context, path string) {
	if !e.created[path] {
		return
	}
	entries, err := e.sys.readDir(path)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := e.sys.remove(path); err != nil {
		logger.WarnCtx(ctx, "Could not remove created directory", "path", path, "error", err.Error())
		return
	}
	delete(e.created, path)
	logger.DebugCtx(ctx, "Removed created directory", "path", path)
}

// sleepCtx pauses for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
