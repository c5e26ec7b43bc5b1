package types

import "github.com/projecteru2/pupa/errdefs"

// Guest CIDs 0-2 are reserved (hypervisor, loopback, host).
const minGuestCID = 3

// Vsock is the /vsock payload: a virtio-vsock device bridged to a host
// unix socket.
type Vsock struct {
	GuestCID uint32 `json:"guest_cid"`
	UDSPath  string `json:"uds_path"`
}

// NewVsock validates and returns a vsock device config.
func NewVsock(guestCID uint32, udsPath string) (Vsock, error) {
	v := Vsock{GuestCID: guestCID, UDSPath: udsPath}
	return v, v.Validate()
}

// Validate checks the vsock invariants.
func (v Vsock) Validate() error {
	switch {
	case v.GuestCID < minGuestCID:
		return errdefs.InvalidRange("guest_cid", "must be >= 3")
	case v.UDSPath == "":
		return errdefs.MissingRequiredField("uds_path")
	}
	return nil
}
