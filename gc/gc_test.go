package gc

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/pupa/lock/flock"
)

type vmSnap struct {
	used map[string]struct{}
}

type blobSnap struct {
	onDisk []string
}

func newLocker(t *testing.T, name string) *flock.Lock {
	t.Helper()
	return flock.New(filepath.Join(t.TempDir(), name))
}

func TestRunCrossModulePinning(t *testing.T) {
	ctx := context.Background()
	var collected []string

	vms := Module[vmSnap]{
		Name:   "vm",
		Locker: newLocker(t, "vm.lock"),
		ReadDB: func(context.Context) (vmSnap, error) {
			return vmSnap{used: map[string]struct{}{"blob-a": {}}}, nil
		},
		Resolve: func(vmSnap, map[string]any) []string { return nil },
		Collect: func(context.Context, []string) error { return nil },
	}
	blobs := Module[blobSnap]{
		Name:   "blobs",
		Locker: newLocker(t, "blobs.lock"),
		ReadDB: func(context.Context) (blobSnap, error) {
			return blobSnap{onDisk: []string{"blob-a", "blob-b"}}, nil
		},
		Resolve: func(snap blobSnap, others map[string]any) []string {
			pinned := others["vm"].(vmSnap).used
			var ids []string
			for _, b := range snap.onDisk {
				if _, ok := pinned[b]; !ok {
					ids = append(ids, b)
				}
			}
			return ids
		},
		Collect: func(_ context.Context, ids []string) error {
			collected = append(collected, ids...)
			return nil
		},
	}

	o := New()
	Register(o, vms)
	Register(o, blobs)
	require.NoError(t, o.Run(ctx))
	assert.Equal(t, []string{"blob-b"}, collected)
}

func TestRunAbortsWhenModuleBusy(t *testing.T) {
	ctx := context.Background()
	busy := newLocker(t, "busy.lock")
	ok, err := busy.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	defer busy.Unlock(ctx) //nolint:errcheck

	collectRan := false
	m := Module[blobSnap]{
		Name:    "blobs",
		Locker:  busy,
		ReadDB:  func(context.Context) (blobSnap, error) { return blobSnap{}, nil },
		Resolve: func(blobSnap, map[string]any) []string { return []string{"x"} },
		Collect: func(context.Context, []string) error { collectRan = true; return nil },
	}

	o := New()
	Register(o, m)
	err = o.Run(ctx)
	assert.ErrorContains(t, err, "lock busy")
	assert.False(t, collectRan, "busy module must not be collected")
}

func TestRunAbortsOnSnapshotError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	collectRan := false

	m := Module[blobSnap]{
		Name:    "blobs",
		Locker:  newLocker(t, "b.lock"),
		ReadDB:  func(context.Context) (blobSnap, error) { return blobSnap{}, boom },
		Resolve: func(blobSnap, map[string]any) []string { return []string{"x"} },
		Collect: func(context.Context, []string) error { collectRan = true; return nil },
	}

	o := New()
	Register(o, m)
	err := o.Run(ctx)
	assert.ErrorIs(t, err, boom)
	assert.False(t, collectRan)

	// The lock was released: a second run can acquire it.
	err = o.Run(ctx)
	assert.ErrorIs(t, err, boom)
}
