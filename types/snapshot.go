package types

import "github.com/projecteru2/pupa/errdefs"

// Snapshot types accepted by the VMM.
const (
	SnapshotTypeFull = "Full"
	SnapshotTypeDiff = "Diff"
)

// SnapshotCreateParams is the PUT /snapshot/create payload.
type SnapshotCreateParams struct {
	SnapshotPath string `json:"snapshot_path"`
	MemFilePath  string `json:"mem_file_path"`
	SnapshotType string `json:"snapshot_type,omitempty"`
}

// NewSnapshotCreateParams validates and returns snapshot create parameters.
// An empty snapshotType defaults to Full on the VMM side.
func NewSnapshotCreateParams(snapshotPath, memFilePath, snapshotType string) (SnapshotCreateParams, error) {
	p := SnapshotCreateParams{SnapshotPath: snapshotPath, MemFilePath: memFilePath, SnapshotType: snapshotType}
	return p, p.Validate()
}

// Validate checks the create-parameter invariants.
func (p SnapshotCreateParams) Validate() error {
	switch {
	case p.SnapshotPath == "":
		return errdefs.MissingRequiredField("snapshot_path")
	case p.MemFilePath == "":
		return errdefs.MissingRequiredField("mem_file_path")
	}
	if p.SnapshotType != "" && p.SnapshotType != SnapshotTypeFull && p.SnapshotType != SnapshotTypeDiff {
		return errdefs.InvalidFormat("snapshot_type", "must be Full or Diff")
	}
	return nil
}

// SnapshotLoadParams is the PUT /snapshot/load payload.
type SnapshotLoadParams struct {
	SnapshotPath        string `json:"snapshot_path"`
	MemFilePath         string `json:"mem_file_path"`
	EnableDiffSnapshots bool   `json:"enable_diff_snapshots,omitempty"`
	ResumeVM            bool   `json:"resume_vm,omitempty"`
}

// NewSnapshotLoadParams validates and returns snapshot load parameters.
func NewSnapshotLoadParams(snapshotPath, memFilePath string, resume bool) (SnapshotLoadParams, error) {
	p := SnapshotLoadParams{SnapshotPath: snapshotPath, MemFilePath: memFilePath, ResumeVM: resume}
	return p, p.Validate()
}

// Validate checks the load-parameter invariants.
func (p SnapshotLoadParams) Validate() error {
	switch {
	case p.SnapshotPath == "":
		return errdefs.MissingRequiredField("snapshot_path")
	case p.MemFilePath == "":
		return errdefs.MissingRequiredField("mem_file_path")
	}
	return nil
}
