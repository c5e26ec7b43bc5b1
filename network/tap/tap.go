// Package tap provisions host TAP devices for firecracker VMs.
//
// Each VM gets one TAP per requested interface, named deterministically from
// the VM ID so names survive restarts. Allocations are recorded in a
// flock-guarded index so Release and GC can tear down devices even after a
// crash.
package tap

import (
	"context"
	"errors"
	"fmt"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/pupa/config"
	"github.com/projecteru2/pupa/gc"
	"github.com/projecteru2/pupa/lock"
	"github.com/projecteru2/pupa/lock/flock"
	"github.com/projecteru2/pupa/network"
	"github.com/projecteru2/pupa/storage"
	storejson "github.com/projecteru2/pupa/storage/json"
	"github.com/projecteru2/pupa/types"
	"github.com/projecteru2/pupa/utils"
)

const typ = "tap"

// compile-time interface check.
var _ network.Network = (*Tap)(nil)

// tapEntry records one allocated host device.
type tapEntry struct {
	IfaceID     string `json:"iface_id"`
	HostDevName string `json:"host_dev_name"`
	GuestMAC    string `json:"guest_mac"`
}

// tapIndex is the top-level structure of taps.json.
type tapIndex struct {
	Taps map[string][]tapEntry `json:"taps"` // VM ID → allocations
}

// Init implements storage.Initer.
func (idx *tapIndex) Init() {
	if idx.Taps == nil {
		idx.Taps = make(map[string][]tapEntry)
	}
}

// Tap implements network.Network using kernel TAP devices via netlink.
type Tap struct {
	conf   *config.Config
	store  storage.Store[tapIndex]
	locker lock.Locker
}

// New creates a TAP network provider.
func New(conf *config.Config) (*Tap, error) {
	if err := conf.EnsureTapDirs(); err != nil {
		return nil, fmt.Errorf("ensure tap dirs: %w", err)
	}
	locker := flock.New(conf.TapIndexLock())
	store := storejson.New[tapIndex](conf.TapIndexFile(), locker)
	return &Tap{conf: conf, store: store, locker: locker}, nil
}

func (t *Tap) Type() string { return typ }

// Allocate creates count TAP devices for vmID and records them in the index.
// Idempotent: an existing allocation of the same size is returned as-is.
// On a partial failure all devices created in this call are removed.
func (t *Tap) Allocate(ctx context.Context, vmID string, count int) ([]types.NetworkInterface, error) {
	logger := log.WithFunc("tap.Allocate")
	var out []types.NetworkInterface

	err := t.store.Update(ctx, func(idx *tapIndex) error {
		if existing := idx.Taps[vmID]; len(existing) == count {
			for _, e := range existing {
				iface, err := types.NewNetworkInterface(e.IfaceID, e.HostDevName, e.GuestMAC)
				if err != nil {
					return err
				}
				out = append(out, iface)
			}
			return nil
		}

		var created []tapEntry
		for i := 0; i < count; i++ {
			name := DeviceName(vmID, i)
			mac := GuestMAC(vmID, i)
			if err := createTap(name); err != nil {
				for _, c := range created {
					_ = deleteTap(c.HostDevName)
				}
				return fmt.Errorf("create tap %s: %w", name, err)
			}
			created = append(created, tapEntry{
				IfaceID:     fmt.Sprintf("eth%d", i),
				HostDevName: name,
				GuestMAC:    mac,
			})
		}

		idx.Taps[vmID] = created
		for _, e := range created {
			iface, err := types.NewNetworkInterface(e.IfaceID, e.HostDevName, e.GuestMAC)
			if err != nil {
				return err
			}
			out = append(out, iface)
			logger.Infof(ctx, "created tap %s for VM %s", e.HostDevName, vmID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Release removes all TAP devices for vmID and drops the index entry.
// Devices already gone are skipped.
func (t *Tap) Release(ctx context.Context, vmID string) error {
	return t.store.Update(ctx, func(idx *tapIndex) error {
		var errs []error
		for _, e := range idx.Taps[vmID] {
			if err := deleteTap(e.HostDevName); err != nil {
				errs = append(errs, fmt.Errorf("delete tap %s: %w", e.HostDevName, err))
			}
		}
		delete(idx.Taps, vmID)
		return errors.Join(errs...)
	})
}

// List returns allocated host device names per VM ID.
func (t *Tap) List(ctx context.Context) (map[string][]string, error) {
	result := make(map[string][]string)
	return result, t.store.With(ctx, func(idx *tapIndex) error {
		for vmID, entries := range idx.Taps {
			names := make([]string, len(entries))
			for i, e := range entries {
				names[i] = e.HostDevName
			}
			result[vmID] = names
		}
		return nil
	})
}

// tapSnapshot is the typed GC snapshot for the TAP provider.
type tapSnapshot struct {
	vms map[string]struct{} // VM IDs with allocations
}

// GCModule returns the GC module removing allocations for VMs that no longer
// exist. Cross-module: the firecracker snapshot exposes live VM IDs via a
// VMIDs method.
func (t *Tap) GCModule() gc.Module[tapSnapshot] {
	return gc.Module[tapSnapshot]{
		Name:   typ,
		Locker: t.locker,
		ReadDB: func(_ context.Context) (tapSnapshot, error) {
			var snap tapSnapshot
			err := t.store.Read(func(idx *tapIndex) error {
				snap.vms = make(map[string]struct{}, len(idx.Taps))
				for vmID := range idx.Taps {
					snap.vms[vmID] = struct{}{}
				}
				return nil
			})
			return snap, err
		},
		Resolve: func(snap tapSnapshot, others map[string]any) []string {
			live := liveVMIDs(others)
			var orphans []string
			for vmID := range snap.vms {
				if _, ok := live[vmID]; !ok {
					orphans = append(orphans, vmID)
				}
			}
			return orphans
		},
		Collect: func(ctx context.Context, vmIDs []string) error {
			var errs []error
			for _, vmID := range vmIDs {
				if err := t.releaseLocked(vmID); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}

// releaseLocked is Release without re-acquiring the store lock; used by GC
// which already holds it.
func (t *Tap) releaseLocked(vmID string) error {
	return t.store.Write(func(idx *tapIndex) error {
		var errs []error
		for _, e := range idx.Taps[vmID] {
			if err := deleteTap(e.HostDevName); err != nil {
				errs = append(errs, fmt.Errorf("delete tap %s: %w", e.HostDevName, err))
			}
		}
		delete(idx.Taps, vmID)
		return errors.Join(errs...)
	})
}

// liveVMIDs extracts the set of live VM IDs from the other modules'
// snapshots. Any snapshot exposing VMIDs() participates.
func liveVMIDs(others map[string]any) map[string]struct{} {
	live := make(map[string]struct{})
	for _, snap := range others {
		if p, ok := snap.(interface{ VMIDs() map[string]struct{} }); ok {
			for id := range p.VMIDs() {
				live[id] = struct{}{}
			}
		}
	}
	return live
}

// DeviceName returns the deterministic TAP name for the i-th interface of
// vmID. Kernel interface names are limited to 15 characters.
func DeviceName(vmID string, i int) string {
	return fmt.Sprintf("fc-%s%d", utils.ShortID(vmID), i)
}

// GuestMAC returns a deterministic locally-administered unicast MAC for the
// i-th interface of vmID.
func GuestMAC(vmID string, i int) string {
	u := utils.UUIDv5(fmt.Sprintf("%s/%d", vmID, i))
	// 02: locally administered, unicast.
	return fmt.Sprintf("02:fc:%s:%s:%s:%s", u[0:2], u[2:4], u[4:6], u[6:8])
}

// RegisterGC registers the TAP GC module with the given Orchestrator.
func (t *Tap) RegisterGC(orch *gc.Orchestrator) {
	gc.Register(orch, t.GCModule())
}
