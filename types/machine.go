package types

import "github.com/projecteru2/pupa/errdefs"

// Firecracker accepts up to 32 vcpus per microVM.
const maxVcpus = 32

// MachineConfig is the /machine-config payload: vcpu and memory sizing.
// Field names are fixed and case-sensitive per the VMM schema.
type MachineConfig struct {
	VcpuCount  int  `json:"vcpu_count"`
	MemSizeMib int  `json:"mem_size_mib"`
	Smt        bool `json:"smt,omitempty"`
	// TrackDirtyPages enables dirty-page tracking, required for diff
	// snapshots.
	TrackDirtyPages bool `json:"track_dirty_pages,omitempty"`
}

// NewMachineConfig validates and returns a machine sizing config.
func NewMachineConfig(vcpus, memSizeMib int) (MachineConfig, error) {
	cfg := MachineConfig{VcpuCount: vcpus, MemSizeMib: memSizeMib}
	return cfg, cfg.Validate()
}

// Validate checks the sizing invariants.
func (m MachineConfig) Validate() error {
	switch {
	case m.VcpuCount < 1 || m.VcpuCount > maxVcpus:
		return errdefs.InvalidRange("vcpu_count", "must be in [1,32]")
	case m.MemSizeMib < 1:
		return errdefs.InvalidRange("mem_size_mib", "must be >= 1")
	}
	return nil
}
