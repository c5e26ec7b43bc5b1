package firecracker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/pupa/hypervisor"
	"github.com/projecteru2/pupa/types"
)

// Create registers a new VM, prepares its writable disk and TAP devices,
// and persists the record. The VM is left in created state, Start launches
// it.
//
// To avoid a race with GC (which scans directories and removes those not in
// the DB), a placeholder record is written first; directories, disks and
// taps are prepared after; the record is finalized last.
func (fc *Firecracker) Create(ctx context.Context, vmCfg *types.VMConfig, storageConfigs []*types.StorageConfig, bootCfg *types.BootConfig) (*types.VM, error) {
	id := hypervisor.GenerateID()
	now := time.Now()

	blobIDs := extractBlobIDs(storageConfigs, bootCfg)

	// Step 1: reserve the record so GC won't treat our dirs as orphans.
	if err := fc.store.Update(ctx, func(idx *hypervisor.VMIndex) error {
		if idx.VMs[id] != nil {
			return fmt.Errorf("ID collision %q (retry)", id)
		}
		if dup, ok := idx.Names[vmCfg.Name]; ok {
			return fmt.Errorf("VM name %q already exists (id: %s)", vmCfg.Name, dup)
		}
		idx.VMs[id] = &hypervisor.VMRecord{
			VM: types.VM{
				ID: id, State: types.VMStateCreating,
				Config: *vmCfg, CreatedAt: now, UpdatedAt: now,
			},
			ImageBlobIDs: blobIDs,
		}
		idx.Names[vmCfg.Name] = id
		return nil
	}); err != nil {
		return nil, fmt.Errorf("reserve VM record: %w", err)
	}

	// Step 2: prepare directories, the COW disk, and TAP devices.
	if err := fc.conf.EnsureFCVMDirs(id); err != nil {
		fc.rollbackCreate(ctx, id, vmCfg.Name, false)
		return nil, fmt.Errorf("ensure dirs: %w", err)
	}

	sc, err := fc.prepareDisks(ctx, id, vmCfg, storageConfigs)
	if err != nil {
		fc.rollbackCreate(ctx, id, vmCfg.Name, false)
		return nil, err
	}

	ifaces, err := fc.net.Allocate(ctx, id, vmCfg.NICs)
	if err != nil {
		fc.rollbackCreate(ctx, id, vmCfg.Name, false)
		return nil, fmt.Errorf("allocate network: %w", err)
	}

	var bootCopy *types.BootConfig
	if bootCfg != nil {
		b := *bootCfg
		if b.Cmdline == "" {
			b.Cmdline = defaultCmdline(len(sc))
		}
		bootCopy = &b
	}

	// Step 3: finalize the record with full data and created state.
	info := types.VM{
		ID: id, State: types.VMStateCreated,
		Config: *vmCfg, CreatedAt: now, UpdatedAt: now,
	}
	rec := hypervisor.VMRecord{
		VM:                info,
		StorageConfigs:    sc,
		BootConfig:        bootCopy,
		NetworkInterfaces: ifaces,
		ImageBlobIDs:      blobIDs,
	}
	if err := fc.store.Update(ctx, func(idx *hypervisor.VMIndex) error {
		idx.VMs[id] = &rec
		return nil
	}); err != nil {
		fc.rollbackCreate(ctx, id, vmCfg.Name, true)
		return nil, fmt.Errorf("finalize VM record: %w", err)
	}

	return &info, nil
}

// prepareDisks creates the per-VM writable ext4 disk and appends it after
// the read-only image layer blobs.
func (fc *Firecracker) prepareDisks(ctx context.Context, vmID string, vmCfg *types.VMConfig, sc []*types.StorageConfig) ([]*types.StorageConfig, error) {
	if vmCfg.Storage <= 0 {
		return sc, nil
	}
	cowPath := fc.conf.FCVMCOWPath(vmID)

	// Sparse file, then mkfs.ext4.
	if err := createSparseFile(cowPath, vmCfg.Storage); err != nil {
		return nil, err
	}
	if out, err := exec.CommandContext(ctx, //nolint:gosec
		"mkfs.ext4", "-F", "-m", "0", "-q",
		"-E", "lazy_itable_init=1,lazy_journal_init=1,discard",
		cowPath,
	).CombinedOutput(); err != nil {
		return nil, fmt.Errorf("mkfs.ext4 COW: %s: %w", strings.TrimSpace(string(out)), err)
	}

	out := make([]*types.StorageConfig, 0, len(sc)+1)
	out = append(out, sc...)
	out = append(out, &types.StorageConfig{Path: cowPath, RO: false})
	return out, nil
}

// createSparseFile makes path a sparse file of exactly size bytes, creating
// it when absent.
func createSparseFile(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640) //nolint:gosec
	if err != nil {
		return fmt.Errorf("create COW: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return fmt.Errorf("truncate COW: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close COW: %w", err)
	}
	return nil
}

// rollbackCreate undoes a partial create: dirs, taps (when allocated), and
// the reserved record. Best effort, failures are logged.
func (fc *Firecracker) rollbackCreate(ctx context.Context, id, name string, releaseNet bool) {
	logger := log.WithFunc("firecracker.rollbackCreate")
	if releaseNet {
		if err := fc.net.Release(ctx, id); err != nil {
			logger.Warnf(ctx, "release network for %s: %v", id, err)
		}
	}
	if err := fc.removeVMDirs(ctx, id); err != nil {
		logger.Warnf(ctx, "remove dirs for %s: %v", id, err)
	}
	if err := fc.store.Update(ctx, func(idx *hypervisor.VMIndex) error {
		delete(idx.VMs, id)
		delete(idx.Names, name)
		return nil
	}); err != nil {
		logger.Warnf(ctx, "remove record for %s: %v", id, err)
	}
}

// extractBlobIDs collects the digest hexes of image blobs and boot dirs the
// VM depends on. Must run before prepareDisks appends the COW entry.
func extractBlobIDs(sc []*types.StorageConfig, boot *types.BootConfig) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, s := range sc {
		if s.RO {
			ids[blobHexFromPath(s.Path)] = struct{}{}
		}
	}
	if boot != nil && boot.KernelPath != "" {
		// boot/{hex}/vmlinux -> hex
		ids[bootHexFromPath(boot.KernelPath)] = struct{}{}
		if boot.InitrdPath != "" {
			ids[bootHexFromPath(boot.InitrdPath)] = struct{}{}
		}
	}
	return ids
}
