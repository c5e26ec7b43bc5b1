package config

import (
	"path/filepath"

	"github.com/projecteru2/pupa/utils"
)

// EnsureFCDirs creates all static directories required by the Firecracker backend.
// Per-VM runtime and log directories are created on demand via EnsureFCVMDirs.
func (c *Config) EnsureFCDirs() error {
	return utils.EnsureDirs(
		c.fcDBDir(),
		c.FCRunDir(),
		c.FCLogDir(),
		c.FCSnapshotsDir(),
	)
}

// EnsureFCVMDirs creates per-VM runtime and log directories.
// Called when a VM is created or started.
func (c *Config) EnsureFCVMDirs(vmID string) error {
	return utils.EnsureDirs(
		c.FCVMRunDir(vmID),
		c.FCVMLogDir(vmID),
	)
}

func (c *Config) fcDir() string   { return filepath.Join(c.RootDir, "firecracker") }
func (c *Config) fcDBDir() string { return filepath.Join(c.fcDir(), "db") }

// FCRunDir and FCLogDir are the per-backend parents of the per-VM dirs.
func (c *Config) FCRunDir() string { return filepath.Join(c.RunDir, "firecracker") }
func (c *Config) FCLogDir() string { return filepath.Join(c.LogDir, "firecracker") }

// FCIndexFile and FCIndexLock are the VM index store paths.
func (c *Config) FCIndexFile() string { return filepath.Join(c.fcDBDir(), "vms.json") }
func (c *Config) FCIndexLock() string { return filepath.Join(c.fcDBDir(), "vms.lock") }

func (c *Config) FCVMRunDir(vmID string) string {
	return filepath.Join(c.FCRunDir(), vmID)
}

func (c *Config) FCVMSocketPath(vmID string) string {
	return filepath.Join(c.FCVMRunDir(vmID), "api.sock")
}

func (c *Config) FCVMVsockPath(vmID string) string {
	return filepath.Join(c.FCVMRunDir(vmID), "vsock.sock")
}

func (c *Config) FCVMPIDFile(vmID string) string {
	return filepath.Join(c.FCVMRunDir(vmID), "fc.pid")
}

// FCVMConsoleIn is the FIFO feeding the guest serial console. Firecracker
// reads it as stdin; the console command writes keystrokes into it.
func (c *Config) FCVMConsoleIn(vmID string) string {
	return filepath.Join(c.FCVMRunDir(vmID), "console.in")
}

// FCVMCOWPath returns the path for the per-VM writable ext4 disk.
func (c *Config) FCVMCOWPath(vmID string) string {
	return filepath.Join(c.FCVMRunDir(vmID), "cow.ext4")
}

// FCSnapshotsDir holds the snapshot state and memory files for all VMs.
func (c *Config) FCSnapshotsDir() string {
	return filepath.Join(c.fcDir(), "snapshots")
}

// FCVMSnapshotPath and FCVMMemPath are the default snapshot target paths.
func (c *Config) FCVMSnapshotPath(vmID string) string {
	return filepath.Join(c.FCSnapshotsDir(), vmID+".snap")
}

func (c *Config) FCVMMemPath(vmID string) string {
	return filepath.Join(c.FCSnapshotsDir(), vmID+".mem")
}

func (c *Config) FCVMLogDir(vmID string) string {
	return filepath.Join(c.FCLogDir(), vmID)
}

// FCVMSerialLog is the file the guest serial console is written to.
func (c *Config) FCVMSerialLog(vmID string) string {
	return filepath.Join(c.FCVMLogDir(vmID), "serial.log")
}

// FCVMProcessLog and FCVMMetricsFile are the VMM's own log and metrics sinks.
func (c *Config) FCVMProcessLog(vmID string) string {
	return filepath.Join(c.FCVMLogDir(vmID), "fc.log")
}

func (c *Config) FCVMMetricsFile(vmID string) string {
	return filepath.Join(c.FCVMLogDir(vmID), "fc-metrics")
}
