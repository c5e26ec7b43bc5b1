// Package images defines the image backend interface and helpers shared by
// its implementations.
package images

import (
	"context"

	"github.com/projecteru2/pupa/gc"
	"github.com/projecteru2/pupa/progress"
	"github.com/projecteru2/pupa/types"
)

// Images is an image backend. It materializes guest boot artifacts (kernel,
// initrd, root filesystems) on the host and hands out per-VM configuration
// derived from them.
type Images interface {
	Type() string

	Pull(context.Context, string, progress.Tracker) error
	List(context.Context) ([]*types.Image, error)
	Delete(context.Context, []string) ([]string, error)

	// Config resolves each VM's image reference into storage and boot
	// configuration. Paths are derived from digests at call time, never
	// stored, so they stay correct across root dir moves.
	Config(context.Context, []*types.VMConfig) ([][]*types.StorageConfig, []*types.BootConfig, error)

	RegisterGC(*gc.Orchestrator)
}
