package firecracker

import (
	"context"
	"path/filepath"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/pupa/hypervisor"
	"github.com/projecteru2/pupa/types"
	"github.com/projecteru2/pupa/utils"
)

// terminateGracePeriod is the SIGTERM to SIGKILL window when signalling the
// firecracker process directly.
const terminateGracePeriod = 5 * time.Second

// Stop shuts down the firecracker process for each reference:
//  1. ctrl-alt-del through the API, wait for the guest to power off
//  2. InstanceStop through the API
//  3. SIGTERM, then SIGKILL
//
// VMs stop in parallel since each graceful shutdown may wait out the full
// stop timeout. Returns the IDs that were successfully stopped; failures
// are logged and collected.
func (fc *Firecracker) Stop(ctx context.Context, refs []string) ([]string, error) {
	return fc.forEachVMConcurrent(ctx, refs, "Stop", fc.stopOne)
}

func (fc *Firecracker) stopOne(ctx context.Context, id string) error {
	rec, err := fc.loadRecord(ctx, id)
	if err != nil {
		return err
	}
	defer fc.cleanupRuntimeFiles(id)

	pid, _ := utils.ReadPIDFile(fc.conf.FCVMPIDFile(id))
	// Fast path: no running process, just mark stopped.
	if !utils.IsProcessAlive(pid) {
		return fc.updateState(ctx, id, types.VMStateStopped)
	}

	if err := fc.shutdownGraceful(ctx, &rec); err != nil {
		if termErr := fc.forceTerminate(ctx, id, pid); termErr != nil {
			fc.markError(ctx, id)
			return termErr
		}
	}
	return fc.updateState(ctx, id, types.VMStateStopped)
}

// shutdownGraceful drives the API shutdown sequence: ctrl-alt-del with a
// bounded wait, then a forced InstanceStop. A paused guest cannot service
// ctrl-alt-del, so it is killed through the API directly.
func (fc *Firecracker) shutdownGraceful(ctx context.Context, rec *hypervisor.VMRecord) error {
	logger := log.WithFunc("firecracker.shutdownGraceful")

	state := rec.State
	if state != types.VMStateRunning && state != types.VMStatePaused {
		state = types.VMStateRunning
	}
	m, err := fc.attach(rec, state)
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck

	if state == types.VMStateRunning {
		if err := m.Stop(ctx); err == nil {
			return nil
		}
		logger.Warnf(ctx, "VM %s did not shut down gracefully, forcing", rec.ID)
	}

	// Kill is valid from running or starting; reattach fresh since a failed
	// Stop leaves the controller in the error state.
	k, err := fc.attach(rec, types.VMStateRunning)
	if err != nil {
		return err
	}
	defer k.Close() //nolint:errcheck
	return k.Kill(ctx)
}

// forceTerminate signals the process directly. The PID is verified to still
// belong to firecracker before signalling, a reused PID must not be killed.
func (fc *Firecracker) forceTerminate(ctx context.Context, vmID string, pid int) error {
	if !utils.VerifyProcess(pid, filepath.Base(fc.conf.FCBinary)) {
		return nil
	}
	log.WithFunc("firecracker.forceTerminate").Warnf(ctx, "terminating VM %s process %d", vmID, pid)
	return utils.TerminateProcess(ctx, pid, terminateGracePeriod)
}

// Kill forces each referenced VM off without a graceful wait.
func (fc *Firecracker) Kill(ctx context.Context, refs []string) ([]string, error) {
	return fc.forEachVMConcurrent(ctx, refs, "Kill", func(ctx context.Context, id string) error {
		rec, err := fc.loadRecord(ctx, id)
		if err != nil {
			return err
		}
		defer fc.cleanupRuntimeFiles(id)

		pid, _ := utils.ReadPIDFile(fc.conf.FCVMPIDFile(id))
		if utils.IsProcessAlive(pid) {
			m, err := fc.attach(&rec, types.VMStateRunning)
			if err != nil {
				return err
			}
			if err := m.Kill(ctx); err != nil {
				log.WithFunc("firecracker.Kill").Warnf(ctx, "API kill %s: %v", id, err)
			}
			_ = m.Close()
			if err := fc.forceTerminate(ctx, id, pid); err != nil {
				fc.markError(ctx, id)
				return err
			}
		}
		return fc.updateState(ctx, id, types.VMStateStopped)
	})
}
