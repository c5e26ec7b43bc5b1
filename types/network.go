package types

import (
	"net"

	"github.com/projecteru2/pupa/errdefs"
)

// NetworkInterface is the /network-interfaces/{id} payload: one virtio-net
// device backed by a host TAP.
type NetworkInterface struct {
	IfaceID     string `json:"iface_id"`
	HostDevName string `json:"host_dev_name"`
	GuestMAC    string `json:"guest_mac,omitempty"`
}

// NewNetworkInterface validates and returns a network interface attachment.
func NewNetworkInterface(ifaceID, hostDevName, guestMAC string) (NetworkInterface, error) {
	n := NetworkInterface{IfaceID: ifaceID, HostDevName: hostDevName, GuestMAC: guestMAC}
	return n, n.Validate()
}

// Validate checks the interface invariants.
func (n NetworkInterface) Validate() error {
	switch {
	case n.IfaceID == "":
		return errdefs.MissingRequiredField("iface_id")
	case n.HostDevName == "":
		return errdefs.MissingRequiredField("host_dev_name")
	}
	if n.GuestMAC != "" {
		if _, err := net.ParseMAC(n.GuestMAC); err != nil {
			return errdefs.InvalidFormat("guest_mac", "not a MAC address")
		}
	}
	return nil
}
