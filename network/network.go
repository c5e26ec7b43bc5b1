package network

import (
	"context"

	"github.com/projecteru2/pupa/gc"
	"github.com/projecteru2/pupa/types"
)

// Network provisions host-side interfaces for VMs.
type Network interface {
	Type() string

	// Allocate creates count host devices for vmID and returns the guest
	// interface bindings to attach at boot.
	Allocate(ctx context.Context, vmID string, count int) ([]types.NetworkInterface, error)
	// Release tears down all host devices allocated for vmID.
	Release(ctx context.Context, vmID string) error
	// List returns the allocated host device names per VM ID.
	List(ctx context.Context) (map[string][]string, error)

	RegisterGC(*gc.Orchestrator)
}
