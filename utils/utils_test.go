package utils

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")

	require.NoError(t, AtomicWriteJSON(path, map[string]int{"a": 1}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWritePIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fc.pid")
	require.NoError(t, WritePIDFile(path, 4242))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestIsProcessAlive(t *testing.T) {
	assert.True(t, IsProcessAlive(os.Getpid()))
	assert.False(t, IsProcessAlive(0))
	assert.False(t, IsProcessAlive(-1))
}

func TestWaitFor(t *testing.T) {
	ctx := context.Background()

	n := 0
	err := WaitFor(ctx, time.Second, time.Millisecond, func() (bool, error) {
		n++
		return n >= 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	err = WaitFor(ctx, 20*time.Millisecond, time.Millisecond, func() (bool, error) {
		return false, nil
	})
	assert.ErrorContains(t, err, "timeout")

	boom := errors.New("boom")
	err = WaitFor(ctx, time.Second, time.Millisecond, func() (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = WaitFor(cancelled, time.Second, time.Millisecond, func() (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFilterUnreferenced(t *testing.T) {
	refs := map[string]struct{}{"a": {}, "b": {}}
	reserved := map[string]struct{}{"db": {}}
	got := FilterUnreferenced([]string{"a", "c", "db", "d"}, refs, reserved)
	assert.Equal(t, []string{"c", "d"}, got)
}

func TestUUIDv5Deterministic(t *testing.T) {
	assert.Equal(t, UUIDv5("vm0"), UUIDv5("vm0"))
	assert.NotEqual(t, UUIDv5("vm0"), UUIDv5("vm1"))
	assert.Len(t, ShortID("vm0"), 8)
}
