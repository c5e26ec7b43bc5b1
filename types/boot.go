package types

import "github.com/projecteru2/pupa/errdefs"

// BootSource is the /boot-source payload: kernel image, optional initrd,
// and kernel command line.
type BootSource struct {
	KernelImagePath string `json:"kernel_image_path"`
	InitrdPath      string `json:"initrd_path,omitempty"`
	BootArgs        string `json:"boot_args,omitempty"`
}

// NewBootSource validates and returns a boot source.
func NewBootSource(kernelImagePath, initrdPath, bootArgs string) (BootSource, error) {
	b := BootSource{KernelImagePath: kernelImagePath, InitrdPath: initrdPath, BootArgs: bootArgs}
	return b, b.Validate()
}

// Validate checks that the mandatory kernel path is present.
func (b BootSource) Validate() error {
	if b.KernelImagePath == "" {
		return errdefs.MissingRequiredField("kernel_image_path")
	}
	return nil
}
