package firecracker

import (
	"context"
	"errors"
	"time"

	"github.com/projecteru2/pupa/gc"
	"github.com/projecteru2/pupa/hypervisor"
	"github.com/projecteru2/pupa/types"
	"github.com/projecteru2/pupa/utils"
)

// creatingStateGCGrace shields fresh "creating" placeholder records from
// collection while another process may still be preparing them.
const creatingStateGCGrace = 24 * time.Hour

type fcSnapshot struct {
	blobIDs     map[string]struct{} // union of all VMs' ImageBlobIDs
	vmIDs       map[string]struct{} // all VM IDs in the DB
	staleCreate []string            // IDs stuck in "creating" past the grace period
	runDirs     []string            // subdirectory names under FCRunDir
	logDirs     []string            // subdirectory names under FCLogDir
	snapFiles   []string            // VM IDs with .snap files on disk
}

// UsedBlobIDs pins image blobs referenced by existing VMs for the image GC.
func (s fcSnapshot) UsedBlobIDs() map[string]struct{} { return s.blobIDs }

// VMIDs exposes live VM IDs so the TAP GC can spot orphaned devices.
func (s fcSnapshot) VMIDs() map[string]struct{} { return s.vmIDs }

// GCModule returns the GC module for the firecracker backend: orphaned
// runtime and log directories, dangling snapshot files, and stale creating
// placeholders.
func (fc *Firecracker) GCModule() gc.Module[fcSnapshot] {
	return gc.Module[fcSnapshot]{
		Name:   typ,
		Locker: fc.locker,
		ReadDB: func(_ context.Context) (fcSnapshot, error) {
			var snap fcSnapshot
			cutoff := time.Now().Add(-creatingStateGCGrace)
			if err := fc.store.Read(func(idx *hypervisor.VMIndex) error {
				snap.blobIDs = make(map[string]struct{})
				snap.vmIDs = make(map[string]struct{})
				for id, rec := range idx.VMs {
					if rec == nil {
						continue
					}
					snap.vmIDs[id] = struct{}{}
					for hex := range rec.ImageBlobIDs {
						snap.blobIDs[hex] = struct{}{}
					}
					if rec.State == types.VMStateCreating && rec.UpdatedAt.Before(cutoff) {
						snap.staleCreate = append(snap.staleCreate, id)
					}
				}
				return nil
			}); err != nil {
				return snap, err
			}
			snap.runDirs = utils.ScanSubdirs(fc.conf.FCRunDir())
			snap.logDirs = utils.ScanSubdirs(fc.conf.FCLogDir())
			snap.snapFiles = utils.ScanFileStems(fc.conf.FCSnapshotsDir(), ".snap")
			return snap, nil
		},
		Resolve: func(snap fcSnapshot, _ map[string]any) []string {
			// "db" and "snapshots" are system subdirectories. When RootDir
			// and RunDir coincide they sit alongside the per-VM dirs and
			// must be excluded from orphan detection.
			reserved := map[string]struct{}{"db": {}, "snapshots": {}}
			candidates := utils.FilterUnreferenced(snap.runDirs, snap.vmIDs, reserved)
			candidates = append(candidates, utils.FilterUnreferenced(snap.logDirs, snap.vmIDs, reserved)...)
			candidates = append(candidates, utils.FilterUnreferenced(snap.snapFiles, snap.vmIDs)...)
			candidates = append(candidates, snap.staleCreate...)

			seen := make(map[string]struct{}, len(candidates))
			var result []string
			for _, id := range candidates {
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				result = append(result, id)
			}
			return result
		},
		Collect: func(ctx context.Context, ids []string) error {
			var errs []error
			for _, id := range ids {
				if err := fc.removeVMDirs(ctx, id); err != nil {
					errs = append(errs, err)
				}
				fc.removeSnapshotFiles(id)
			}
			if err := fc.cleanStalePlaceholders(ids); err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		},
	}
}

// RegisterGC registers the firecracker GC module with the given Orchestrator.
func (fc *Firecracker) RegisterGC(orch *gc.Orchestrator) {
	gc.Register(orch, fc.GCModule())
}

// cleanStalePlaceholders removes the selected records still stuck in stale
// "creating" state. IDs not found, or no longer stale, are skipped.
func (fc *Firecracker) cleanStalePlaceholders(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	targets := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		targets[id] = struct{}{}
	}
	cutoff := time.Now().Add(-creatingStateGCGrace)
	return fc.store.Write(func(idx *hypervisor.VMIndex) error {
		for id := range targets {
			rec := idx.VMs[id]
			if rec == nil {
				continue
			}
			if rec.State != types.VMStateCreating || rec.UpdatedAt.After(cutoff) {
				continue
			}
			delete(idx.Names, rec.Config.Name)
			delete(idx.VMs, id)
		}
		return nil
	})
}
