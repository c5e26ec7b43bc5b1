// Package gc coordinates garbage collection across storage modules.
//
// Each module registers a Module[S] describing how to snapshot its index
// state, resolve deletion targets, and collect them. The Orchestrator locks
// all modules, snapshots them, and lets each module resolve against the full
// cross-module view, so e.g. image GC can skip blobs pinned by live VMs.
package gc

import (
	"context"

	"github.com/projecteru2/pupa/lock"
)

// Module describes a storage module that participates in garbage collection.
// S is the module's typed snapshot.
type Module[S any] struct {
	Name string

	// Locker is used by GC to coordinate with active operations (e.g. pull).
	// TryLock returns false when another operation is in progress; GC aborts
	// the cycle and retries on the next run.
	Locker lock.Locker

	// ReadDB reads the module's current index state.
	// Called while the lock is held; must not re-acquire it.
	ReadDB func(ctx context.Context) (S, error)

	// Resolve returns the resource IDs to delete. It receives this module's
	// snapshot plus all snapshots keyed by module name for cross-module
	// analysis.
	Resolve func(snap S, others map[string]any) []string

	// Collect removes the given resource IDs.
	// Called while the lock is held; must not re-acquire it.
	Collect func(ctx context.Context, ids []string) error
}

// runner interface implementation; lets the Orchestrator hold heterogeneous
// Module[S] values.

func (m Module[S]) getName() string          { return m.Name }
func (m Module[S]) getLocker() lock.Locker   { return m.Locker }

func (m Module[S]) readSnapshot(ctx context.Context) (any, error) {
	return m.ReadDB(ctx)
}

func (m Module[S]) resolveTargets(snap any, others map[string]any) []string {
	return m.Resolve(snap.(S), others)
}

func (m Module[S]) collect(ctx context.Context, ids []string) error {
	return m.Collect(ctx, ids)
}
