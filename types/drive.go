package types

import "github.com/projecteru2/pupa/errdefs"

// Drive is the /drives/{id} payload: one block device attachment.
type Drive struct {
	DriveID      string `json:"drive_id"`
	PathOnHost   string `json:"path_on_host"`
	IsRootDevice bool   `json:"is_root_device"`
	IsReadOnly   bool   `json:"is_read_only"`
}

// NewDrive validates and returns a drive attachment.
func NewDrive(id, pathOnHost string, root, readOnly bool) (Drive, error) {
	d := Drive{DriveID: id, PathOnHost: pathOnHost, IsRootDevice: root, IsReadOnly: readOnly}
	return d, d.Validate()
}

// RootDrive is shorthand for the writable root block device.
func RootDrive(pathOnHost string, readOnly bool) (Drive, error) {
	return NewDrive("rootfs", pathOnHost, true, readOnly)
}

// Validate checks the drive invariants.
func (d Drive) Validate() error {
	switch {
	case d.DriveID == "":
		return errdefs.MissingRequiredField("drive_id")
	case d.PathOnHost == "":
		return errdefs.MissingRequiredField("path_on_host")
	}
	return nil
}
