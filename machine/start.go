package machine

import (
	"context"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/pupa/types"
)

// Start configures the VM over the control endpoint and boots it. The
// sequence is fail-fast and strictly ordered: machine sizing, boot source,
// drives (in list order), network interfaces (in list order), optional
// devices, then the start action. The first failing step aborts everything
// after it, the returned error names the failing resource, and the machine
// lands in the error state. On success the state is running.
//
// Valid from created or stopped.
func (m *Machine) Start(ctx context.Context) error {
	if err := m.checkState("start", types.VMStateCreated, types.VMStateStopped); err != nil {
		return err
	}
	m.state = types.VMStateStarting
	logger := log.WithFunc("machine.Start")

	if err := m.call(ctx, func() error {
		return m.client.Put(ctx, "/machine-config", m.cfg.Machine)
	}); err != nil {
		return m.fail("start: configure machine sizing", "", err)
	}

	if err := m.call(ctx, func() error {
		return m.client.Put(ctx, "/boot-source", m.cfg.Boot)
	}); err != nil {
		return m.fail("start: configure boot source", "", err)
	}

	for _, drive := range m.cfg.Drives {
		d := drive
		if err := m.call(ctx, func() error {
			return m.client.Put(ctx, "/drives/"+d.DriveID, d)
		}); err != nil {
			return m.fail("start: configure drive", d.DriveID, err)
		}
	}

	for _, iface := range m.cfg.NetworkInterfaces {
		n := iface
		if err := m.call(ctx, func() error {
			return m.client.Put(ctx, "/network-interfaces/"+n.IfaceID, n)
		}); err != nil {
			return m.fail("start: configure network interface", n.IfaceID, err)
		}
	}

	if m.cfg.MMDS != nil {
		if err := m.call(ctx, func() error {
			return m.client.Put(ctx, "/mmds/config", *m.cfg.MMDS)
		}); err != nil {
			return m.fail("start: configure metadata service", "", err)
		}
		if m.cfg.Metadata != nil {
			if err := m.call(ctx, func() error {
				return m.client.Put(ctx, "/mmds", m.cfg.Metadata)
			}); err != nil {
				return m.fail("start: populate metadata", "", err)
			}
		}
	}

	if m.cfg.Logger != nil {
		if err := m.call(ctx, func() error {
			return m.client.Put(ctx, "/logger", *m.cfg.Logger)
		}); err != nil {
			return m.fail("start: configure logger", "", err)
		}
	}
	if m.cfg.Metrics != nil {
		if err := m.call(ctx, func() error {
			return m.client.Put(ctx, "/metrics", *m.cfg.Metrics)
		}); err != nil {
			return m.fail("start: configure metrics", "", err)
		}
	}
	if m.cfg.Balloon != nil {
		if err := m.call(ctx, func() error {
			return m.client.Put(ctx, "/balloon", *m.cfg.Balloon)
		}); err != nil {
			return m.fail("start: configure balloon", "", err)
		}
	}
	if m.cfg.Vsock != nil {
		if err := m.call(ctx, func() error {
			return m.client.Put(ctx, "/vsock", *m.cfg.Vsock)
		}); err != nil {
			return m.fail("start: configure vsock", "", err)
		}
	}

	if err := m.action(ctx, types.ActionInstanceStart); err != nil {
		return m.fail("start: boot instance", "", err)
	}

	m.state = types.VMStateRunning
	logger.Infof(ctx, "VM %s is running", m.name)
	return nil
}
