package firecracker

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/projecteru2/pupa/config"
	"github.com/projecteru2/pupa/hypervisor"
	"github.com/projecteru2/pupa/machine"
	"github.com/projecteru2/pupa/metadata"
	"github.com/projecteru2/pupa/types"
)

// defaultCmdline is the kernel command line applied when the image does not
// carry one. Serial console on ttyS0 matches the stdio-backed serial log;
// the root device is the first attached drive.
func defaultCmdline(driveCount int) string {
	cmdline := "console=ttyS0 reboot=k panic=1 pci=off root=/dev/vda"
	if driveCount > 1 {
		// Layer blobs are read-only; the guest overlays the writable disk.
		cmdline += " ro"
	}
	return cmdline
}

// buildMachineConfig assembles the lifecycle controller configuration from
// a persisted record. Validation happens in machine.New.
func buildMachineConfig(conf *config.Config, rec *hypervisor.VMRecord) (machine.Config, error) {
	if rec.BootConfig == nil {
		return machine.Config{}, fmt.Errorf("VM %s has no boot configuration", rec.ID)
	}

	mc, err := types.NewMachineConfig(rec.Config.CPU, int(rec.Config.Memory>>20))
	if err != nil {
		return machine.Config{}, err
	}

	boot, err := types.NewBootSource(rec.BootConfig.KernelPath, rec.BootConfig.InitrdPath, rec.BootConfig.Cmdline)
	if err != nil {
		return machine.Config{}, err
	}

	drives := make([]types.Drive, 0, len(rec.StorageConfigs))
	for i, sc := range rec.StorageConfigs {
		d, err := types.NewDrive(fmt.Sprintf("drive%d", i), sc.Path, i == 0, sc.RO)
		if err != nil {
			return machine.Config{}, err
		}
		drives = append(drives, d)
	}

	ifaces := make([]types.NetworkInterface, 0, len(rec.NetworkInterfaces))
	ifaces = append(ifaces, rec.NetworkInterfaces...)

	logger, err := types.NewLoggerConfig(conf.FCVMProcessLog(rec.ID), "Info")
	if err != nil {
		return machine.Config{}, err
	}
	metrics, err := types.NewMetricsConfig(conf.FCVMMetricsFile(rec.ID))
	if err != nil {
		return machine.Config{}, err
	}

	out := machine.Config{
		Machine:           mc,
		Boot:              boot,
		Drives:            drives,
		NetworkInterfaces: ifaces,
		Logger:            &logger,
		Metrics:           &metrics,
	}

	// The metadata service needs at least one guest interface to be
	// reachable, so VMs without network skip it.
	if len(ifaces) > 0 {
		ifaceIDs := make([]string, 0, len(ifaces))
		for _, n := range ifaces {
			ifaceIDs = append(ifaceIDs, n.IfaceID)
		}
		mmds, err := types.NewMMDSConfig(types.MMDSVersionV2, ifaceIDs)
		if err != nil {
			return machine.Config{}, err
		}
		doc, err := metadata.Build(&metadata.Config{
			InstanceID: rec.ID,
			Hostname:   rec.Config.Name,
		})
		if err != nil {
			return machine.Config{}, err
		}
		out.MMDS = &mmds
		out.Metadata = doc
	}

	return out, nil
}

// PreviewConfig builds the controller configuration that a create followed
// by a start would apply for vmCfg, without persisting anything. The COW
// disk path is synthesized the same way Create does it.
func PreviewConfig(conf *config.Config, vmCfg *types.VMConfig, storageConfigs []*types.StorageConfig, bootCfg *types.BootConfig) (machine.Config, error) {
	disks := make([]*types.StorageConfig, 0, len(storageConfigs)+1)
	disks = append(disks, storageConfigs...)
	if vmCfg.Storage > 0 {
		disks = append(disks, &types.StorageConfig{Path: conf.FCVMCOWPath("preview"), RO: false})
	}

	var boot *types.BootConfig
	if bootCfg != nil {
		bc := *bootCfg
		if bc.Cmdline == "" {
			bc.Cmdline = defaultCmdline(len(disks))
		}
		boot = &bc
	}

	rec := &hypervisor.VMRecord{
		VM:             types.VM{ID: "preview", Config: *vmCfg},
		StorageConfigs: disks,
		BootConfig:     boot,
	}
	return buildMachineConfig(conf, rec)
}

// blobHexFromPath extracts the digest hex from a blob file path,
// "/var/lib/pupa/oci/blobs/abc123.ext4" -> "abc123".
func blobHexFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// bootHexFromPath extracts the digest hex from a boot file path,
// "/var/lib/pupa/oci/boot/abc123/vmlinux" -> "abc123".
func bootHexFromPath(path string) string {
	return filepath.Base(filepath.Dir(path))
}
