package firecracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/projecteru2/core/log"
	"golang.org/x/sync/errgroup"

	"github.com/projecteru2/pupa/client"
	"github.com/projecteru2/pupa/hypervisor"
	"github.com/projecteru2/pupa/machine"
	"github.com/projecteru2/pupa/types"
	"github.com/projecteru2/pupa/utils"
)

// forEachVM resolves each reference and runs fn on the resolved ID,
// collecting successes. In bestEffort mode all refs are attempted and
// failures are logged and joined; otherwise the first error stops
// processing. The returned slice is valid even when err != nil.
func (fc *Firecracker) forEachVM(ctx context.Context, refs []string, op string, bestEffort bool, fn func(context.Context, string) error) ([]string, error) {
	logger := log.WithFunc("firecracker." + op)
	var succeeded []string
	var errs []error
	for _, ref := range refs {
		id, err := fc.resolveRef(ctx, ref)
		if err == nil {
			err = fn(ctx, id)
		}
		if err != nil {
			if !bestEffort {
				return succeeded, fmt.Errorf("%s VM %s: %w", op, ref, err)
			}
			logger.Warnf(ctx, "%s VM %s: %v", op, ref, err)
			errs = append(errs, fmt.Errorf("VM %s: %w", ref, err))
			continue
		}
		succeeded = append(succeeded, id)
	}
	return succeeded, errors.Join(errs...)
}

// forEachVMConcurrent is the parallel variant of forEachVM, bounded by the
// configured pool size. Always best-effort: every ref is attempted, failures
// are logged and joined. Used by the stop paths, where each VM may block for
// the full graceful shutdown window.
func (fc *Firecracker) forEachVMConcurrent(ctx context.Context, refs []string, op string, fn func(context.Context, string) error) ([]string, error) {
	logger := log.WithFunc("firecracker." + op)
	var (
		mu        sync.Mutex
		succeeded []string
		errs      []error
	)
	g := &errgroup.Group{}
	g.SetLimit(fc.conf.PoolSize)
	for _, ref := range refs {
		g.Go(func() error {
			id, err := fc.resolveRef(ctx, ref)
			if err == nil {
				err = fn(ctx, id)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warnf(ctx, "%s VM %s: %v", op, ref, err)
				errs = append(errs, fmt.Errorf("VM %s: %w", ref, err))
				return nil
			}
			succeeded = append(succeeded, id)
			return nil
		})
	}
	_ = g.Wait()
	return succeeded, errors.Join(errs...)
}

// resolveRef maps a user reference (ID, name, or ID prefix) to a VM ID.
func (fc *Firecracker) resolveRef(ctx context.Context, ref string) (string, error) {
	var id string
	err := fc.store.With(ctx, func(idx *hypervisor.VMIndex) error {
		var rerr error
		id, rerr = hypervisor.ResolveVMRef(idx, ref)
		return rerr
	})
	return id, err
}

// loadRecord returns a detached copy of the record for id.
func (fc *Firecracker) loadRecord(ctx context.Context, id string) (hypervisor.VMRecord, error) {
	var rec hypervisor.VMRecord
	err := fc.store.With(ctx, func(idx *hypervisor.VMIndex) error {
		r, err := utils.LookupCopy(idx.VMs, id)
		if err != nil {
			return hypervisor.ErrNotFound
		}
		rec = r
		return nil
	})
	return rec, err
}

// updateState persists a state change, stamping StartedAt and StoppedAt on
// the transitions into running and stopped.
func (fc *Firecracker) updateState(ctx context.Context, id string, state types.VMState) error {
	now := time.Now()
	return fc.store.Update(ctx, func(idx *hypervisor.VMIndex) error {
		rec := idx.VMs[id]
		if rec == nil {
			return hypervisor.ErrNotFound
		}
		rec.State = state
		rec.UpdatedAt = now
		switch state {
		case types.VMStateRunning:
			if rec.StartedAt == nil {
				rec.StartedAt = &now
			}
		case types.VMStateStopped:
			rec.StartedAt = nil
			rec.StoppedAt = &now
		}
		return nil
	})
}

// markError moves a record into the error state, best effort.
func (fc *Firecracker) markError(ctx context.Context, id string) {
	if err := fc.updateState(ctx, id, types.VMStateError); err != nil {
		log.WithFunc("firecracker.markError").Warnf(ctx, "mark VM %s error: %v", id, err)
	}
}

// attach builds a lifecycle controller for an already-launched VM, seeded
// with the persisted state and wired to the process liveness probe.
func (fc *Firecracker) attach(rec *hypervisor.VMRecord, state types.VMState) (*machine.Machine, error) {
	cfg, err := buildMachineConfig(fc.conf, rec)
	if err != nil {
		return nil, err
	}
	pid, _ := utils.ReadPIDFile(fc.conf.FCVMPIDFile(rec.ID))
	return machine.New(rec.Config.Name, cfg, client.New(fc.conf.FCVMSocketPath(rec.ID)),
		machine.WithInitialState(state),
		machine.WithStopTimeout(time.Duration(fc.conf.StopTimeoutSeconds)*time.Second),
		machine.WithExitProbe(func() bool { return !utils.IsProcessAlive(pid) }),
	)
}

// cleanupRuntimeFiles removes the socket, PID file and console FIFO left by
// a stopped process.
func (fc *Firecracker) cleanupRuntimeFiles(id string) {
	_ = os.Remove(fc.conf.FCVMSocketPath(id))
	_ = os.Remove(fc.conf.FCVMPIDFile(id))
	_ = os.Remove(fc.conf.FCVMConsoleIn(id))
	_ = os.Remove(fc.conf.FCVMVsockPath(id))
}

// removeVMDirs removes the per-VM runtime and log directories.
func (fc *Firecracker) removeVMDirs(ctx context.Context, id string) error {
	logger := log.WithFunc("firecracker.removeVMDirs")
	var errs []error
	for _, dir := range []string{fc.conf.FCVMRunDir(id), fc.conf.FCVMLogDir(id)} {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))
			continue
		}
		logger.Infof(ctx, "removed %s", dir)
	}
	return errors.Join(errs...)
}

// removeSnapshotFiles removes the snapshot state and memory files, if any.
func (fc *Firecracker) removeSnapshotFiles(id string) {
	_ = os.Remove(fc.conf.FCVMSnapshotPath(id))
	_ = os.Remove(fc.conf.FCVMMemPath(id))
}
