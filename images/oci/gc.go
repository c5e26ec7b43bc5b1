package oci

import (
	"context"
	"errors"
	"os"

	"github.com/projecteru2/pupa/gc"
	"github.com/projecteru2/pupa/images"
	"github.com/projecteru2/pupa/utils"
)

// ociSnapshot is the typed GC snapshot for the OCI backend.
type ociSnapshot struct {
	refs     map[string]struct{} // digest hexes referenced by the index
	blobs    []string            // digest hexes of .ext4 blobs on disk
	bootDirs []string            // directory names under the boot base dir
}

// UsedBlobIDs exposes the referenced digests to other GC modules.
func (s ociSnapshot) UsedBlobIDs() map[string]struct{} { return s.refs }

// GCModule returns the typed GC module for the OCI backend. Blobs pinned by
// running VMs are protected via the hypervisor snapshot, deleting an image
// from the index never pulls storage out from under a live guest.
func (o *OCI) GCModule() gc.Module[ociSnapshot] {
	return gc.Module[ociSnapshot]{
		Name:   typ,
		Locker: o.locker,
		ReadDB: func(ctx context.Context) (ociSnapshot, error) {
			var snap ociSnapshot
			if err := o.store.Read(func(idx *imageIndex) error {
				snap.refs = idx.referencedDigests()
				return nil
			}); err != nil {
				return snap, err
			}
			snap.blobs = utils.ScanFileStems(o.conf.OCIBlobsDir(), ".ext4")
			snap.bootDirs = utils.ScanSubdirs(o.conf.OCIBootBaseDir())
			return snap, nil
		},
		Resolve: func(snap ociSnapshot, others map[string]any) []string {
			pinned := pinnedBlobIDs(others)
			seen := make(map[string]struct{})
			var unreferenced []string
			for _, hex := range utils.FilterUnreferenced(snap.blobs, snap.refs, pinned) {
				unreferenced = append(unreferenced, hex)
				seen[hex] = struct{}{}
			}
			for _, hex := range utils.FilterUnreferenced(snap.bootDirs, snap.refs, pinned) {
				if _, already := seen[hex]; !already {
					unreferenced = append(unreferenced, hex)
				}
			}
			return unreferenced
		},
		Collect: func(ctx context.Context, ids []string) error {
			var errs []error
			errs = append(errs, images.GCStaleTemp(ctx, o.conf.OCITempDir())...)
			for _, hex := range ids {
				if err := os.Remove(o.conf.BlobPath(hex)); err != nil && !os.IsNotExist(err) {
					errs = append(errs, err)
				}
				if err := os.RemoveAll(o.conf.BootDir(hex)); err != nil && !os.IsNotExist(err) {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}

// pinnedBlobIDs merges blob digests pinned by other modules' snapshots, the
// hypervisor reports the blobs backing existing VMs this way.
func pinnedBlobIDs(others map[string]any) map[string]struct{} {
	pinned := make(map[string]struct{})
	for _, snap := range others {
		if p, ok := snap.(interface{ UsedBlobIDs() map[string]struct{} }); ok {
			for id := range p.UsedBlobIDs() {
				pinned[id] = struct{}{}
			}
		}
	}
	return pinned
}

// RegisterGC registers the OCI GC module with the given Orchestrator.
func (o *OCI) RegisterGC(orch *gc.Orchestrator) {
	gc.Register(orch, o.GCModule())
}
