package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "/var/lib/pupa", c.RootDir)
	assert.Equal(t, DefaultFCBinary, c.FCBinary)
	assert.Positive(t, c.PoolSize)
	assert.Equal(t, DefaultStopTimeoutSeconds, c.StopTimeoutSeconds)
}

func TestLoadConfigMissingFileFallsBack(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/pupa", c.RootDir)
}

func TestLoadConfigOverridesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pupa.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"root_dir":"/data/pupa","pool_size":-1}`), 0o644))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/pupa", c.RootDir)
	assert.Positive(t, c.PoolSize, "negative pool size normalized")
	assert.Equal(t, DefaultFCBinary, c.FCBinary)
}

func TestDerivedPaths(t *testing.T) {
	c := DefaultConfig()
	c.RootDir = "/data"
	c.RunDir = "/run/p"
	c.LogDir = "/log/p"

	assert.Equal(t, "/run/p/firecracker/vm0/api.sock", c.FCVMSocketPath("vm0"))
	assert.Equal(t, "/run/p/firecracker/vm0/fc.pid", c.FCVMPIDFile("vm0"))
	assert.Equal(t, "/run/p/firecracker/vm0/cow.ext4", c.FCVMCOWPath("vm0"))
	assert.Equal(t, "/log/p/firecracker/vm0/serial.log", c.FCVMSerialLog("vm0"))
	assert.Equal(t, "/data/firecracker/db/vms.json", c.FCIndexFile())
	assert.Equal(t, "/data/oci/blobs/abc.ext4", c.BlobPath("abc"))
	assert.Equal(t, "/data/oci/boot/abc/vmlinux", c.KernelPath("abc"))
	assert.Equal(t, "/data/tap/db/taps.json", c.TapIndexFile())
}
