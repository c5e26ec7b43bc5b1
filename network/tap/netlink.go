package tap

import (
	"errors"
	"fmt"

	"github.com/vishvananda/netlink"
)

// createTap creates the named TAP device and brings it up. Creating a device
// that already exists is treated as success so Allocate can resume after a
// partial run.
func createTap(name string) error {
	tap := &netlink.Tuntap{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		Mode:      netlink.TUNTAP_MODE_TAP,
	}
	if err := netlink.LinkAdd(tap); err != nil {
		// EEXIST from a previous partial run; reuse the device.
		if _, lerr := netlink.LinkByName(name); lerr != nil {
			return fmt.Errorf("add tap %s: %w", name, err)
		}
	}

	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("lookup tap %s: %w", name, err)
	}
	return netlink.LinkSetUp(link)
}

// deleteTap removes the named TAP device. A device that is already gone is
// not an error.
func deleteTap(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var lnf netlink.LinkNotFoundError
		if errors.As(err, &lnf) {
			return nil
		}
		return fmt.Errorf("lookup tap %s: %w", name, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("delete tap %s: %w", name, err)
	}
	return nil
}
