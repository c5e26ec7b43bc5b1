package config

import (
	"path/filepath"

	"github.com/projecteru2/pupa/utils"
)

// EnsureOCIDirs creates all directories required by the OCI image backend.
func (c *Config) EnsureOCIDirs() error {
	return utils.EnsureDirs(
		c.ociDBDir(),
		c.OCITempDir(),
		c.OCIBlobsDir(),
		c.OCIBootBaseDir(),
	)
}

// Derived path helpers. All OCI data lives under {RootDir}/oci/.

func (c *Config) ociDir() string   { return filepath.Join(c.RootDir, "oci") }
func (c *Config) ociDBDir() string { return filepath.Join(c.ociDir(), "db") }

func (c *Config) OCITempDir() string     { return filepath.Join(c.ociDir(), "temp") }
func (c *Config) OCIBlobsDir() string    { return filepath.Join(c.ociDir(), "blobs") }
func (c *Config) OCIBootBaseDir() string { return filepath.Join(c.ociDir(), "boot") }

// OCIIndexFile and OCIIndexLock are the image index store paths.
func (c *Config) OCIIndexFile() string { return filepath.Join(c.ociDBDir(), "images.json") }
func (c *Config) OCIIndexLock() string { return filepath.Join(c.ociDBDir(), "images.lock") }

// BlobPath returns the shared path for a rootfs layer blob.
func (c *Config) BlobPath(layerDigestHex string) string {
	return filepath.Join(c.OCIBlobsDir(), layerDigestHex+".ext4")
}

// BootDir returns the shared boot-file directory for a layer digest.
func (c *Config) BootDir(layerDigestHex string) string {
	return filepath.Join(c.OCIBootBaseDir(), layerDigestHex)
}

func (c *Config) KernelPath(layerDigestHex string) string {
	return filepath.Join(c.BootDir(layerDigestHex), "vmlinux")
}

func (c *Config) InitrdPath(layerDigestHex string) string {
	return filepath.Join(c.BootDir(layerDigestHex), "initrd.img")
}
