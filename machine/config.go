package machine

import (
	"fmt"

	"github.com/projecteru2/pupa/errdefs"
	"github.com/projecteru2/pupa/types"
)

// Config is the full configuration snapshot applied during Start. It is
// built from validated value types; there is no mutating builder; changing
// a VM's configuration means creating a new Machine.
type Config struct {
	Machine           types.MachineConfig
	Boot              types.BootSource
	Drives            []types.Drive
	NetworkInterfaces []types.NetworkInterface

	// Optional devices, configured before the start action when present.
	Balloon *types.Balloon
	Vsock   *types.Vsock

	// Optional metadata service. MMDS selects the interfaces and protocol
	// version, Metadata is the document served to the guest.
	MMDS     *types.MMDSConfig
	Metadata map[string]any

	// Optional VMM-side logging and metrics sinks.
	Logger  *types.LoggerConfig
	Metrics *types.MetricsConfig
}

// Validate re-checks every component and cross-component invariants
// (unique drive and interface IDs, a single root device).
func (c Config) Validate() error {
	if err := c.Machine.Validate(); err != nil {
		return err
	}
	if err := c.Boot.Validate(); err != nil {
		return err
	}

	driveIDs := make(map[string]struct{}, len(c.Drives))
	roots := 0
	for _, d := range c.Drives {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := driveIDs[d.DriveID]; dup {
			return errdefs.InvalidConfiguration("drive_id", fmt.Sprintf("duplicate drive id %q", d.DriveID), "")
		}
		driveIDs[d.DriveID] = struct{}{}
		if d.IsRootDevice {
			roots++
		}
	}
	if roots > 1 {
		return errdefs.InvalidConfiguration("is_root_device", "more than one root device", "")
	}

	ifaceIDs := make(map[string]struct{}, len(c.NetworkInterfaces))
	for _, n := range c.NetworkInterfaces {
		if err := n.Validate(); err != nil {
			return err
		}
		if _, dup := ifaceIDs[n.IfaceID]; dup {
			return errdefs.InvalidConfiguration("iface_id", fmt.Sprintf("duplicate interface id %q", n.IfaceID), "")
		}
		ifaceIDs[n.IfaceID] = struct{}{}
	}

	if c.Balloon != nil {
		if err := c.Balloon.Validate(); err != nil {
			return err
		}
	}
	if c.MMDS != nil {
		if err := c.MMDS.Validate(); err != nil {
			return err
		}
		// The metadata service is only reachable through configured guest
		// interfaces.
		for _, id := range c.MMDS.NetworkInterfaces {
			if _, ok := ifaceIDs[id]; !ok {
				return errdefs.InvalidConfiguration("network_interfaces", fmt.Sprintf("mmds references unknown interface %q", id), "")
			}
		}
	}
	if c.Vsock != nil {
		if err := c.Vsock.Validate(); err != nil {
			return err
		}
	}
	if c.Logger != nil {
		if err := c.Logger.Validate(); err != nil {
			return err
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return err
		}
	}
	return nil
}
