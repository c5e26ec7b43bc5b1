package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/pupa/errdefs"
)

func TestNewMachineConfig(t *testing.T) {
	cfg, err := NewMachineConfig(2, 512)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.VcpuCount)

	_, err = NewMachineConfig(0, 512)
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidRange))
	_, err = NewMachineConfig(33, 512)
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidRange))
	_, err = NewMachineConfig(2, 0)
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidRange))
}

func TestNewBootSource(t *testing.T) {
	b, err := NewBootSource("/boot/vmlinux", "", "console=ttyS0")
	require.NoError(t, err)
	assert.Equal(t, "/boot/vmlinux", b.KernelImagePath)

	_, err = NewBootSource("", "", "")
	assert.True(t, errdefs.IsKind(err, errdefs.KindMissingRequiredField))
}

func TestNewDrive(t *testing.T) {
	d, err := RootDrive("/images/rootfs.ext4", false)
	require.NoError(t, err)
	assert.Equal(t, "rootfs", d.DriveID)
	assert.True(t, d.IsRootDevice)

	_, err = NewDrive("", "/p", false, false)
	assert.True(t, errdefs.IsKind(err, errdefs.KindMissingRequiredField))
	_, err = NewDrive("data", "", false, false)
	assert.True(t, errdefs.IsKind(err, errdefs.KindMissingRequiredField))
}

func TestNewNetworkInterface(t *testing.T) {
	n, err := NewNetworkInterface("eth0", "tap-a1b2", "AA:BB:CC:00:11:22")
	require.NoError(t, err)
	assert.Equal(t, "tap-a1b2", n.HostDevName)

	_, err = NewNetworkInterface("", "tap0", "")
	assert.True(t, errdefs.IsKind(err, errdefs.KindMissingRequiredField))
	_, err = NewNetworkInterface("eth0", "", "")
	assert.True(t, errdefs.IsKind(err, errdefs.KindMissingRequiredField))
	_, err = NewNetworkInterface("eth0", "tap0", "not-a-mac")
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidFormat))
}

func TestNewVsock(t *testing.T) {
	_, err := NewVsock(3, "/run/vsock.sock")
	require.NoError(t, err)
	_, err = NewVsock(2, "/run/vsock.sock")
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidRange))
	_, err = NewVsock(3, "")
	assert.True(t, errdefs.IsKind(err, errdefs.KindMissingRequiredField))
}

func TestNewMMDSConfig(t *testing.T) {
	_, err := NewMMDSConfig(MMDSVersionV2, []string{"eth0"})
	require.NoError(t, err)
	_, err = NewMMDSConfig("", []string{"eth0"})
	require.NoError(t, err)
	_, err = NewMMDSConfig("V3", []string{"eth0"})
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidConfiguration))
	_, err = NewMMDSConfig(MMDSVersionV1, nil)
	assert.True(t, errdefs.IsKind(err, errdefs.KindMissingRequiredField))
}

func TestNewSnapshotParams(t *testing.T) {
	_, err := NewSnapshotCreateParams("/snap/vm.snap", "/snap/vm.mem", SnapshotTypeFull)
	require.NoError(t, err)
	_, err = NewSnapshotCreateParams("", "/snap/vm.mem", "")
	assert.True(t, errdefs.IsKind(err, errdefs.KindMissingRequiredField))
	_, err = NewSnapshotCreateParams("/snap/vm.snap", "/snap/vm.mem", "Incremental")
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidFormat))

	_, err = NewSnapshotLoadParams("/snap/vm.snap", "/snap/vm.mem", true)
	require.NoError(t, err)
	_, err = NewSnapshotLoadParams("/snap/vm.snap", "", false)
	assert.True(t, errdefs.IsKind(err, errdefs.KindMissingRequiredField))
}

func TestNewLoggerAndMetricsConfig(t *testing.T) {
	_, err := NewLoggerConfig("/log/fc.log", "Info")
	require.NoError(t, err)
	_, err = NewLoggerConfig("", "")
	assert.True(t, errdefs.IsKind(err, errdefs.KindMissingRequiredField))
	_, err = NewLoggerConfig("/log/fc.log", "Verbose")
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidFormat))

	_, err = NewMetricsConfig("/log/fc-metrics")
	require.NoError(t, err)
	_, err = NewMetricsConfig("")
	assert.True(t, errdefs.IsKind(err, errdefs.KindMissingRequiredField))
}

// The VMM's field names are fixed and case-sensitive; optional fields must
// vanish from the wire when unset.
func TestWireFieldNames(t *testing.T) {
	raw, err := json.Marshal(MachineConfig{VcpuCount: 2, MemSizeMib: 512})
	require.NoError(t, err)
	assert.JSONEq(t, `{"vcpu_count":2,"mem_size_mib":512}`, string(raw))

	raw, err = json.Marshal(BootSource{KernelImagePath: "/boot/vmlinux"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kernel_image_path":"/boot/vmlinux"}`, string(raw))

	raw, err = json.Marshal(InstanceAction{ActionType: ActionInstanceStart})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action_type":"InstanceStart"}`, string(raw))

	raw, err = json.Marshal(Drive{DriveID: "rootfs", PathOnHost: "/r.ext4", IsRootDevice: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"drive_id":"rootfs","path_on_host":"/r.ext4","is_root_device":true,"is_read_only":false}`, string(raw))
}
