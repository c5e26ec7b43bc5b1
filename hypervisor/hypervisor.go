package hypervisor

import (
	"context"
	"errors"
	"io"

	"github.com/projecteru2/pupa/gc"
	"github.com/projecteru2/pupa/types"
)

// ErrNotFound is returned when a VM reference does not resolve to a record.
var ErrNotFound = errors.New("VM not found")

// Hypervisor manages the lifecycle of microVM processes.
// Batch operations (Start, Stop, ...) take user references (ID, name, or ID
// prefix) and return the IDs that succeeded.
type Hypervisor interface {
	Type() string

	Create(context.Context, *types.VMConfig, []*types.StorageConfig, *types.BootConfig) (*types.VM, error)
	Start(ctx context.Context, refs []string) ([]string, error)
	Stop(ctx context.Context, refs []string) ([]string, error)
	Kill(ctx context.Context, refs []string) ([]string, error)
	Pause(ctx context.Context, refs []string) ([]string, error)
	Resume(ctx context.Context, refs []string) ([]string, error)
	Snapshot(ctx context.Context, ref string) error
	Restore(ctx context.Context, ref string, resume bool) error
	Inspect(ctx context.Context, ref string) (*types.VM, error)
	List(context.Context) ([]*types.VM, error)
	Delete(ctx context.Context, refs []string, force bool) ([]string, error)
	Console(ctx context.Context, ref string) (io.ReadWriteCloser, error)

	RegisterGC(*gc.Orchestrator)
}
