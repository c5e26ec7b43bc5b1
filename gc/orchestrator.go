package gc

import (
	"context"
	"fmt"
	"strings"

	"github.com/projecteru2/core/log"
)

// Orchestrator runs GC cycles over every registered module.
type Orchestrator struct {
	modules []runner
}

// New creates an empty Orchestrator.
func New() *Orchestrator { return &Orchestrator{} }

// Register adds a typed Module. A package-level function rather than a
// method because Go methods cannot carry type parameters.
func Register[S any](o *Orchestrator, m Module[S]) {
	o.modules = append(o.modules, m)
}

// Run executes one GC cycle. Every module lock is taken up front and held
// until the cycle ends, so snapshot, resolve, and collect all observe one
// consistent cross-module view. GC is rare and quick; the long hold is fine.
//
// The cycle is fail-closed: if any module's lock is busy the whole cycle
// aborts, because resolving against a partial snapshot could delete data
// the missing module still pins (image blobs referenced by live VMs).
func (o *Orchestrator) Run(ctx context.Context) error {
	locked, skipped := o.lockAll(ctx)
	defer func() {
		for _, m := range locked {
			m.getLocker().Unlock(ctx) //nolint:errcheck,gosec
		}
	}()
	if len(skipped) > 0 {
		return fmt.Errorf("gc aborted: modules skipped (lock busy): %s", strings.Join(skipped, ", "))
	}

	snapshots := make(map[string]any, len(locked))
	for _, m := range locked {
		snap, err := m.readSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("gc aborted: snapshot %s: %w", m.getName(), err)
		}
		snapshots[m.getName()] = snap
	}

	var errs []string
	for _, m := range locked {
		ids := m.resolveTargets(snapshots[m.getName()], snapshots)
		if len(ids) == 0 {
			continue
		}
		if err := m.collect(ctx, ids); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", m.getName(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("gc errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// lockAll try-locks every module, returning those acquired and the names of
// those skipped.
func (o *Orchestrator) lockAll(ctx context.Context) ([]runner, []string) {
	logger := log.WithFunc("gc.Run")
	var locked []runner
	var skipped []string
	for _, m := range o.modules {
		ok, err := m.getLocker().TryLock(ctx)
		switch {
		case err != nil:
			logger.Warnf(ctx, "skip %s: TryLock error: %v", m.getName(), err)
			skipped = append(skipped, m.getName())
		case !ok:
			logger.Warnf(ctx, "skip %s: lock held by another operation", m.getName())
			skipped = append(skipped, m.getName())
		default:
			locked = append(locked, m)
		}
	}
	return locked, skipped
}
