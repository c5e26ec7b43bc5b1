package types

import "time"

// VMState represents the lifecycle state of a VM.
type VMState string

const (
	// VMStateCreating is used by the engine while a VM record is reserved
	// but its resources (dirs, disks, taps) are still being prepared. The
	// lifecycle controller itself never sees this state.
	VMStateCreating VMState = "creating"

	VMStateCreated  VMState = "created"  // registered, firecracker not yet started
	VMStateStarting VMState = "starting" // configuration calls in flight
	VMStateRunning  VMState = "running"  // guest is up
	VMStateStopping VMState = "stopping" // graceful shutdown in flight
	VMStateStopped  VMState = "stopped"  // guest has exited
	VMStatePaused   VMState = "paused"   // vcpus frozen, resumable
	// VMStateError is absorbing: no lifecycle operation recovers a VM from
	// it. Create a new VM instead.
	VMStateError VMState = "error"
)

// VMConfig describes the resources requested for a new VM. Set at creation
// and never mutated; changing the configuration requires a new VM.
type VMConfig struct {
	Name    string `json:"name"`
	CPU     int    `json:"cpu"`
	Memory  int64  `json:"memory"`  // bytes
	Storage int64  `json:"storage"` // COW disk size, bytes
	NICs    int    `json:"nics"`

	Image string `json:"image"`
}

// VM is the runtime record for a VM, persisted by the engine.
type VM struct {
	ID     string   `json:"id"`
	State  VMState  `json:"state"`
	Config VMConfig `json:"config"`

	// Runtime fields, populated only while State == VMStateRunning.
	PID         int    `json:"pid,omitempty"`
	SocketPath  string `json:"socket_path,omitempty"` // firecracker API socket
	ConsolePath string `json:"console_path,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// StorageConfig describes one disk attachment for a VM: image layer blobs
// first (read-only), then the writable COW disk.
type StorageConfig struct {
	Path string `json:"path"`
	RO   bool   `json:"ro"`
}

// BootConfig holds the kernel and initrd paths resolved from an image.
type BootConfig struct {
	KernelPath string `json:"kernel_path"`
	InitrdPath string `json:"initrd_path,omitempty"`
	Cmdline    string `json:"cmdline,omitempty"`
}

// Image is the engine-level view of a locally stored image.
type Image struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
