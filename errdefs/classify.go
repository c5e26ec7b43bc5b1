package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// IsRetryable reports whether a failed call is worth repeating as-is:
// transport timeouts, connection-level I/O failures, and server-side (5xx)
// HTTP errors. Validation and business-state errors are never retryable.
// Errors from outside the taxonomy are not retried.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindTimeout, KindConnectionFailed:
		return true
	case KindHTTPError:
		return e.StatusCode >= 500
	case KindInvalidStateTransition, KindInvalidConfiguration,
		KindResourceAllocationFailed, KindOperationTimeout, KindOperationFailed,
		KindMissingRequiredField, KindInvalidRange, KindInvalidFormat, KindInvalidPath,
		KindResourceUnavailable, KindResourceLimitExceeded, KindFileSystemError,
		KindSerializationError, KindDeserializationError, KindUnknown,
		KindInvalidSnapshot, KindSnapshotCreationFailed, KindSnapshotRestorationFailed:
		return false
	}
	return false
}

// IsTransient reports whether the failure is expected to clear on its own.
// Superset of IsRetryable: also covers throttling (429) and temporary
// unavailability (503, 504), plus host resources that may free up.
func IsTransient(err error) bool {
	if IsRetryable(err) {
		return true
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindHTTPError:
		switch e.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	case KindResourceUnavailable:
		return true
	case KindInvalidStateTransition, KindInvalidConfiguration,
		KindResourceAllocationFailed, KindOperationTimeout, KindOperationFailed,
		KindMissingRequiredField, KindInvalidRange, KindInvalidFormat, KindInvalidPath,
		KindResourceLimitExceeded, KindFileSystemError,
		KindSerializationError, KindDeserializationError,
		KindConnectionFailed, KindTimeout, KindUnknown,
		KindInvalidSnapshot, KindSnapshotCreationFailed, KindSnapshotRestorationFailed:
		return false
	}
	return false
}

// Message returns a one-line human-readable description of the failure,
// suitable for CLI output. Falls back to err.Error() for errors from
// outside the taxonomy.
func Message(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch e.Kind {
	case KindInvalidStateTransition:
		return fmt.Sprintf("cannot %s VM %s while it is %s", e.Op, e.VM, e.State)
	case KindInvalidConfiguration:
		return fmt.Sprintf("configuration field %s rejected: %s", e.Field, e.Reason)
	case KindResourceAllocationFailed:
		return fmt.Sprintf("failed to allocate %s for VM %s: %s", e.Resource, e.VM, e.Reason)
	case KindOperationTimeout:
		return fmt.Sprintf("%s of VM %s did not complete within %s", e.Op, e.VM, e.Timeout)
	case KindOperationFailed:
		return fmt.Sprintf("%s of VM %s failed: %v", e.Op, e.VM, e.Cause)
	case KindMissingRequiredField:
		return fmt.Sprintf("required field %s is missing", e.Field)
	case KindInvalidRange:
		return fmt.Sprintf("field %s out of range: %s", e.Field, e.Reason)
	case KindInvalidFormat:
		return fmt.Sprintf("field %s malformed: %s", e.Field, e.Reason)
	case KindInvalidPath:
		return fmt.Sprintf("path %s: %s", e.Path, e.Reason)
	case KindResourceUnavailable:
		return fmt.Sprintf("resource %s unavailable: %s", e.Resource, e.Reason)
	case KindResourceLimitExceeded:
		return fmt.Sprintf("limit exceeded for %s: %s", e.Resource, e.Reason)
	case KindFileSystemError:
		return fmt.Sprintf("filesystem error at %s: %v", e.Path, e.Cause)
	case KindHTTPError:
		return fmt.Sprintf("control endpoint returned %d for %s", e.StatusCode, e.Op)
	case KindSerializationError:
		return fmt.Sprintf("could not encode request for %s: %v", e.Op, e.Cause)
	case KindDeserializationError:
		return fmt.Sprintf("could not decode response for %s: %v", e.Op, e.Cause)
	case KindConnectionFailed:
		return fmt.Sprintf("cannot reach control endpoint %s: %v", e.Endpoint, e.Cause)
	case KindTimeout:
		return fmt.Sprintf("control endpoint %s timed out during %s", e.Endpoint, e.Op)
	case KindUnknown:
		return fmt.Sprintf("unexpected failure during %s: %v", e.Op, e.Cause)
	case KindInvalidSnapshot:
		return fmt.Sprintf("snapshot %s is not usable: %s", e.Path, e.Reason)
	case KindSnapshotCreationFailed:
		return fmt.Sprintf("snapshot of VM %s could not be created: %v", e.VM, e.Cause)
	case KindSnapshotRestorationFailed:
		return fmt.Sprintf("VM %s could not be restored from snapshot: %v", e.VM, e.Cause)
	}
	return e.Error()
}

// RecoverySuggestions returns operator hints for the failure class.
// Empty for errors from outside the taxonomy.
func RecoverySuggestions(err error) []string {
	var e *Error
	if !errors.As(err, &e) {
		return nil
	}
	switch e.Kind {
	case KindInvalidStateTransition:
		return []string{
			"inspect the VM to confirm its current state",
			"a VM in the error state cannot be recovered; create a new one",
		}
	case KindInvalidConfiguration, KindMissingRequiredField, KindInvalidRange, KindInvalidFormat:
		return []string{"fix the configuration and create the VM again"}
	case KindInvalidPath:
		return []string{"verify the path exists and is readable by the engine"}
	case KindResourceAllocationFailed, KindResourceLimitExceeded:
		return []string{
			"free host resources or lower the VM's requested size",
			"run gc to reclaim orphaned runtime files",
		}
	case KindOperationTimeout:
		return []string{
			"the guest may be slow to respond; retry with a longer timeout",
			"kill the VM if it no longer responds",
		}
	case KindOperationFailed, KindUnknown:
		return []string{"check the VM's serial and process logs for details"}
	case KindResourceUnavailable:
		return []string{"wait and retry; the resource is held by another operation"}
	case KindFileSystemError:
		return []string{"check disk space and permissions under the data directory"}
	case KindHTTPError:
		if e.StatusCode >= 500 {
			return []string{"the VMM hit an internal error; retry or restart the VM"}
		}
		return []string{"the request was rejected by the VMM; check the configuration"}
	case KindSerializationError, KindDeserializationError:
		return []string{"verify the engine and firecracker binary versions are compatible"}
	case KindConnectionFailed, KindTimeout:
		return []string{
			"confirm the firecracker process is running",
			"confirm the API socket path is correct and accessible",
		}
	case KindInvalidSnapshot:
		return []string{"verify the snapshot and memory files exist and match"}
	case KindSnapshotCreationFailed:
		return []string{"ensure the VM is paused and the target directory is writable"}
	case KindSnapshotRestorationFailed:
		return []string{"ensure the snapshot was taken with a compatible firecracker version"}
	}
	return nil
}
