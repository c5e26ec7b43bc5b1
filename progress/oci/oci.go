// Package oci defines progress events emitted while pulling OCI images.
package oci

// Phase is a stage in the pull lifecycle.
type Phase int

const (
	PhasePull   Phase = iota // image resolved, layer count known
	PhaseLayer               // one layer finished processing
	PhaseCommit              // moving artifacts into shared paths
	PhaseDone                // pull completed
)

// Event describes a single pull progress update.
type Event struct {
	Phase  Phase
	Index  int    // layer index, -1 for non-layer phases
	Total  int    // total number of layers
	Digest string // short digest hex for layer events
}
