// Package firecracker implements hypervisor.Hypervisor on the Firecracker
// VMM. Each VM is one firecracker process configured over its unix API
// socket; records live in a flock-guarded JSON index so concurrent CLI
// invocations and GC see a consistent view.
package firecracker

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/projecteru2/pupa/config"
	"github.com/projecteru2/pupa/hypervisor"
	"github.com/projecteru2/pupa/lock"
	"github.com/projecteru2/pupa/lock/flock"
	"github.com/projecteru2/pupa/network"
	"github.com/projecteru2/pupa/storage"
	storejson "github.com/projecteru2/pupa/storage/json"
	"github.com/projecteru2/pupa/types"
	"github.com/projecteru2/pupa/utils"
)

const typ = "firecracker"

var _ hypervisor.Hypervisor = (*Firecracker)(nil)

// Firecracker is the engine backend driving firecracker processes.
type Firecracker struct {
	conf   *config.Config
	store  storage.Store[hypervisor.VMIndex]
	locker lock.Locker
	net    network.Network
}

// New creates a Firecracker backend. The network provider hands out host
// TAP devices at create time and tears them down on delete.
func New(conf *config.Config, net network.Network) (*Firecracker, error) {
	if err := conf.EnsureFCDirs(); err != nil {
		return nil, fmt.Errorf("ensure dirs: %w", err)
	}
	locker := flock.New(conf.FCIndexLock())
	store := storejson.New[hypervisor.VMIndex](conf.FCIndexFile(), locker)
	return &Firecracker{conf: conf, store: store, locker: locker, net: net}, nil
}

func (fc *Firecracker) Type() string { return typ }

// Inspect returns the VM for a single reference (ID, name, or ID prefix).
// Runtime fields are populated from the PID file and derived paths.
func (fc *Firecracker) Inspect(ctx context.Context, ref string) (*types.VM, error) {
	var result *types.VM
	return result, fc.store.With(ctx, func(idx *hypervisor.VMIndex) error {
		id, err := hypervisor.ResolveVMRef(idx, ref)
		if err != nil {
			return err
		}
		vm := idx.VMs[id].VM // value copy, detached from the DB record
		fc.enrichRuntime(&vm)
		result = &vm
		return nil
	})
}

// List returns all known VMs with runtime fields populated.
func (fc *Firecracker) List(ctx context.Context) ([]*types.VM, error) {
	var result []*types.VM
	return result, fc.store.With(ctx, func(idx *hypervisor.VMIndex) error {
		for _, rec := range idx.VMs {
			if rec == nil {
				continue
			}
			vm := rec.VM
			fc.enrichRuntime(&vm)
			result = append(result, &vm)
		}
		return nil
	})
}

// Delete removes VM records and their resources, returning the IDs that
// were deleted. Running VMs are rejected unless force is true, in which
// case they are stopped first.
func (fc *Firecracker) Delete(ctx context.Context, refs []string, force bool) ([]string, error) {
	return fc.forEachVM(ctx, refs, "Delete", false, func(ctx context.Context, id string) error {
		pid, _ := utils.ReadPIDFile(fc.conf.FCVMPIDFile(id))
		if utils.VerifyProcess(pid, filepath.Base(fc.conf.FCBinary)) {
			if !force {
				return fmt.Errorf("running (force required)")
			}
			if err := fc.stopOne(ctx, id); err != nil {
				return fmt.Errorf("stop before delete: %w", err)
			}
		}

		if err := fc.net.Release(ctx, id); err != nil {
			return fmt.Errorf("release network: %w", err)
		}
		if err := fc.removeVMDirs(ctx, id); err != nil {
			return err
		}
		fc.removeSnapshotFiles(id)

		return fc.store.Update(ctx, func(idx *hypervisor.VMIndex) error {
			rec, ok := idx.VMs[id]
			if !ok {
				return hypervisor.ErrNotFound
			}
			if rec != nil {
				delete(idx.Names, rec.Config.Name)
			}
			delete(idx.VMs, id)
			return nil
		})
	})
}

// enrichRuntime fills the derived runtime fields on a detached VM copy.
// The PID is read from the PID file so a crash or reboot never yields a
// stale value; if the process is gone the runtime fields stay empty.
func (fc *Firecracker) enrichRuntime(vm *types.VM) {
	if vm.State != types.VMStateRunning && vm.State != types.VMStatePaused {
		return
	}
	pid, err := utils.ReadPIDFile(fc.conf.FCVMPIDFile(vm.ID))
	if err != nil || !utils.IsProcessAlive(pid) {
		return
	}
	vm.PID = pid
	vm.SocketPath = fc.conf.FCVMSocketPath(vm.ID)
	vm.ConsolePath = fc.conf.FCVMSerialLog(vm.ID)
}
