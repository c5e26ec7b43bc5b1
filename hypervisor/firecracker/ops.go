package firecracker

import (
	"context"
	"fmt"
	"time"

	"github.com/projecteru2/pupa/client"
	"github.com/projecteru2/pupa/hypervisor"
	"github.com/projecteru2/pupa/machine"
	"github.com/projecteru2/pupa/types"
	"github.com/projecteru2/pupa/utils"
)

// Pause freezes the vcpus of each referenced running VM.
func (fc *Firecracker) Pause(ctx context.Context, refs []string) ([]string, error) {
	return fc.forEachVM(ctx, refs, "Pause", true, func(ctx context.Context, id string) error {
		rec, err := fc.requireLive(ctx, id, types.VMStateRunning)
		if err != nil {
			return err
		}
		m, err := fc.attach(&rec, types.VMStateRunning)
		if err != nil {
			return err
		}
		defer m.Close() //nolint:errcheck
		if err := m.Pause(ctx); err != nil {
			return err
		}
		return fc.updateState(ctx, id, types.VMStatePaused)
	})
}

// Resume unfreezes each referenced paused VM.
func (fc *Firecracker) Resume(ctx context.Context, refs []string) ([]string, error) {
	return fc.forEachVM(ctx, refs, "Resume", true, func(ctx context.Context, id string) error {
		rec, err := fc.requireLive(ctx, id, types.VMStatePaused)
		if err != nil {
			return err
		}
		m, err := fc.attach(&rec, types.VMStatePaused)
		if err != nil {
			return err
		}
		defer m.Close() //nolint:errcheck
		if err := m.Resume(ctx); err != nil {
			return err
		}
		return fc.updateState(ctx, id, types.VMStateRunning)
	})
}

// Snapshot writes the VM state and guest memory to the configured snapshot
// paths. A running VM is paused for the duration and resumed after; a
// paused VM stays paused.
func (fc *Firecracker) Snapshot(ctx context.Context, ref string) error {
	id, err := fc.resolveRef(ctx, ref)
	if err != nil {
		return err
	}
	rec, err := fc.requireLive(ctx, id, types.VMStateRunning, types.VMStatePaused)
	if err != nil {
		return err
	}

	params, err := types.NewSnapshotCreateParams(
		fc.conf.FCVMSnapshotPath(id), fc.conf.FCVMMemPath(id), types.SnapshotTypeFull)
	if err != nil {
		return err
	}

	m, err := fc.attach(&rec, rec.State)
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck

	wasRunning := rec.State == types.VMStateRunning
	if wasRunning {
		if err := m.Pause(ctx); err != nil {
			return err
		}
	}
	snapErr := m.CreateSnapshot(ctx, params)
	if wasRunning {
		if err := m.Resume(ctx); err != nil {
			fc.markError(ctx, id)
			return fmt.Errorf("resume after snapshot: %w", err)
		}
	}
	if snapErr != nil {
		return snapErr
	}

	return fc.store.Update(ctx, func(idx *hypervisor.VMIndex) error {
		r := idx.VMs[id]
		if r == nil {
			return hypervisor.ErrNotFound
		}
		r.HasSnapshot = true
		r.UpdatedAt = time.Now()
		return nil
	})
}

// Restore boots a fresh firecracker process from the VM's snapshot pair.
// Valid only while the VM is not running. With resume the guest continues
// immediately; otherwise it is left paused.
func (fc *Firecracker) Restore(ctx context.Context, ref string, resume bool) error {
	id, err := fc.resolveRef(ctx, ref)
	if err != nil {
		return err
	}
	rec, err := fc.loadRecord(ctx, id)
	if err != nil {
		return err
	}
	if !rec.HasSnapshot {
		return fmt.Errorf("VM %s has no snapshot", id)
	}
	if pid, _ := utils.ReadPIDFile(fc.conf.FCVMPIDFile(id)); utils.IsProcessAlive(pid) {
		return fmt.Errorf("VM %s is running, stop it before restoring", id)
	}
	if !utils.ValidFile(fc.conf.FCVMSnapshotPath(id)) || !utils.ValidFile(fc.conf.FCVMMemPath(id)) {
		return fmt.Errorf("snapshot files for VM %s are missing or empty", id)
	}

	if err := fc.conf.EnsureFCVMDirs(id); err != nil {
		return fmt.Errorf("ensure dirs: %w", err)
	}
	fc.cleanupRuntimeFiles(id)

	pid, err := fc.launchProcess(ctx, id)
	if err != nil {
		return fmt.Errorf("launch firecracker: %w", err)
	}

	params, err := types.NewSnapshotLoadParams(
		fc.conf.FCVMSnapshotPath(id), fc.conf.FCVMMemPath(id), resume)
	if err != nil {
		fc.killProcess(id, pid)
		return err
	}

	cfg, err := buildMachineConfig(fc.conf, &rec)
	if err != nil {
		fc.killProcess(id, pid)
		return err
	}
	m, err := machine.New(rec.Config.Name, cfg, client.New(fc.conf.FCVMSocketPath(id)),
		machine.WithExitProbe(func() bool { return !utils.IsProcessAlive(pid) }),
	)
	if err != nil {
		fc.killProcess(id, pid)
		return err
	}
	defer m.Close() //nolint:errcheck

	if err := m.LoadSnapshot(ctx, params); err != nil {
		fc.killProcess(id, pid)
		return err
	}

	state := types.VMStatePaused
	if resume {
		state = types.VMStateRunning
	}
	return fc.updateState(ctx, id, state)
}

// requireLive loads the record, checks it is in one of the wanted states,
// and verifies the firecracker process is alive.
func (fc *Firecracker) requireLive(ctx context.Context, id string, states ...types.VMState) (hypervisor.VMRecord, error) {
	rec, err := fc.loadRecord(ctx, id)
	if err != nil {
		return rec, err
	}
	ok := false
	for _, s := range states {
		if rec.State == s {
			ok = true
			break
		}
	}
	if !ok {
		return rec, fmt.Errorf("invalid state %q", rec.State)
	}
	if pid, _ := utils.ReadPIDFile(fc.conf.FCVMPIDFile(id)); !utils.IsProcessAlive(pid) {
		return rec, fmt.Errorf("firecracker process for VM %s is gone", id)
	}
	return rec, nil
}
