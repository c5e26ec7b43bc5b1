package errdefs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleError builds a representative *Error for each Kind so the
// classification tests can exercise every variant.
func sampleError(k Kind) *Error {
	switch k {
	case KindInvalidStateTransition:
		return InvalidStateTransition("running", "start", "vm0")
	case KindInvalidConfiguration:
		return InvalidConfiguration("vcpus", "must be positive", "vm0")
	case KindResourceAllocationFailed:
		return ResourceAllocationFailed("tap0", "device busy", "vm0", errors.New("EBUSY"))
	case KindOperationTimeout:
		return OperationTimeout("stop", "vm0", 10*time.Second)
	case KindOperationFailed:
		return OperationFailed("start", "vm0", errors.New("boot failed"))
	case KindMissingRequiredField:
		return MissingRequiredField("kernel_image_path")
	case KindInvalidRange:
		return InvalidRange("mem_size_mib", "must be >= 128")
	case KindInvalidFormat:
		return InvalidFormat("guest_mac", "not a MAC address")
	case KindInvalidPath:
		return InvalidPath("/nope/vmlinux", "no such file")
	case KindResourceUnavailable:
		return ResourceUnavailable("index lock", "held by another operation")
	case KindResourceLimitExceeded:
		return ResourceLimitExceeded("memory", "host has 2GiB free")
	case KindFileSystemError:
		return FileSystemError("/var/lib/pupa", errors.New("read-only fs"))
	case KindHTTPError:
		return HTTPError(500, "PUT /actions", "internal error")
	case KindSerializationError:
		return SerializationError("PUT /machine-config", errors.New("bad payload"))
	case KindDeserializationError:
		return DeserializationError("GET /balloon/statistics", errors.New("bad json"))
	case KindConnectionFailed:
		return ConnectionFailed("/run/pupa/vm0/api.sock", errors.New("connection refused"))
	case KindTimeout:
		return Timeout("/run/pupa/vm0/api.sock", "PUT /boot-source", errors.New("deadline exceeded"))
	case KindUnknown:
		return Unknown("/run/pupa/vm0/api.sock", "GET /", errors.New("surprise"))
	case KindInvalidSnapshot:
		return InvalidSnapshot("/tmp/snap", "mem file missing")
	case KindSnapshotCreationFailed:
		return SnapshotCreationFailed("vm0", errors.New("disk full"))
	case KindSnapshotRestorationFailed:
		return SnapshotRestorationFailed("vm0", errors.New("version mismatch"))
	}
	return nil
}

// TestClassifiersExhaustive fails whenever a new Kind is added without
// updating sampleError and every classifier. This is the compile-time
// exhaustiveness check Go cannot give us.
func TestClassifiersExhaustive(t *testing.T) {
	for _, k := range Kinds() {
		t.Run(k.String(), func(t *testing.T) {
			e := sampleError(k)
			require.NotNil(t, e, "sampleError has no case for %s: new Kind not wired into classifiers", k)
			require.Equal(t, k, e.Kind)

			// Message must produce a variant-specific rendering, not the
			// raw Error() fallback used for unhandled kinds.
			assert.NotEmpty(t, Message(e))
			assert.NotEqual(t, e.Error(), Message(e), "Message does not handle kind %s", k)

			// Every variant must carry operator hints.
			assert.NotEmpty(t, RecoverySuggestions(e), "RecoverySuggestions does not handle kind %s", k)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{Timeout("/s", "PUT /actions", nil), true},
		{ConnectionFailed("/s", errors.New("refused")), true},
		{HTTPError(500, "PUT /actions", ""), true},
		{HTTPError(503, "PUT /actions", ""), true},
		{HTTPError(400, "PUT /actions", ""), false},
		{HTTPError(429, "PUT /actions", ""), false},
		{MissingRequiredField("kernel_image_path"), false},
		{InvalidRange("vcpus", "must be >= 1"), false},
		{InvalidStateTransition("running", "start", "vm0"), false},
		{SerializationError("PUT /drives/root", nil), false},
		{Unknown("/s", "GET /", nil), false},
		{errors.New("not a taxonomy error"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), "IsRetryable(%v)", tt.err)
	}
}

func TestIsTransient(t *testing.T) {
	// Everything retryable is transient.
	assert.True(t, IsTransient(Timeout("/s", "op", nil)))
	assert.True(t, IsTransient(HTTPError(502, "op", "")))

	// Throttling and temporary unavailability are transient but not retryable.
	for _, code := range []int{429, 503, 504} {
		e := HTTPError(code, "op", "")
		assert.True(t, IsTransient(e), "status %d", code)
	}
	assert.False(t, IsRetryable(HTTPError(429, "op", "")))
	assert.True(t, IsTransient(ResourceUnavailable("lock", "busy")))

	// Permanent failures are neither.
	assert.False(t, IsTransient(HTTPError(404, "op", "")))
	assert.False(t, IsTransient(InvalidFormat("guest_mac", "bad")))
	assert.False(t, IsTransient(errors.New("outside taxonomy")))
}

func TestRetryableSurvivesWrapping(t *testing.T) {
	inner := Timeout("/s", "PUT /boot-source", errors.New("deadline"))
	wrapped := fmt.Errorf("configure boot source: %w", inner)
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, KindTimeout, KindOf(wrapped))
}

func TestKindMatching(t *testing.T) {
	err := OperationFailed("start", "vm0", HTTPError(400, "PUT /drives/data", "bad drive"))

	assert.True(t, IsKind(err, KindOperationFailed))
	assert.Equal(t, KindOperationFailed, KindOf(err))

	// The chained cause stays reachable through errors.As.
	var e *Error
	require.True(t, errors.As(errors.Unwrap(err), &e))
	assert.Equal(t, KindHTTPError, e.Kind)
	assert.Equal(t, 400, e.StatusCode)

	// Sentinel-style matching via Is.
	assert.True(t, errors.Is(err, &Error{Kind: KindOperationFailed}))
	assert.False(t, errors.Is(err, &Error{Kind: KindTimeout}))
}

func TestErrorRendering(t *testing.T) {
	e := InvalidStateTransition("stopped", "pause", "web-1")
	msg := e.Error()
	assert.Contains(t, msg, "invalid state transition")
	assert.Contains(t, msg, "pause")
	assert.Contains(t, msg, "web-1")
	assert.Contains(t, msg, "stopped")

	// KindOf on foreign errors.
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
}
