// Package errdefs defines the closed error taxonomy shared by every pupa
// component. All failures crossing a public boundary are represented as an
// *Error with a Kind from the closed set below plus structured context
// fields, chaining the originating cause when one exists.
//
// Go has no checked sum types, so exhaustiveness of the classifiers in
// classify.go is enforced by a test over Kinds() instead of the compiler.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies one variant of the closed error set.
type Kind int

const (
	// VM lifecycle errors.
	KindInvalidStateTransition Kind = iota
	KindInvalidConfiguration
	KindResourceAllocationFailed
	KindOperationTimeout
	KindOperationFailed

	// Validation errors. Never retryable.
	KindMissingRequiredField
	KindInvalidRange
	KindInvalidFormat
	KindInvalidPath

	// Host resource errors.
	KindResourceUnavailable
	KindResourceLimitExceeded
	KindFileSystemError

	// API / transport errors.
	KindHTTPError
	KindSerializationError
	KindDeserializationError
	KindConnectionFailed
	KindTimeout
	KindUnknown

	// Snapshot errors.
	KindInvalidSnapshot
	KindSnapshotCreationFailed
	KindSnapshotRestorationFailed

	// kindSentinel marks the end of the Kind space. Keep it last: Kinds()
	// and the exhaustiveness tests iterate up to it.
	kindSentinel
)

var kindNames = map[Kind]string{
	KindInvalidStateTransition:    "invalid state transition",
	KindInvalidConfiguration:      "invalid configuration",
	KindResourceAllocationFailed:  "resource allocation failed",
	KindOperationTimeout:          "operation timeout",
	KindOperationFailed:           "operation failed",
	KindMissingRequiredField:      "missing required field",
	KindInvalidRange:              "invalid range",
	KindInvalidFormat:             "invalid format",
	KindInvalidPath:               "invalid path",
	KindResourceUnavailable:       "resource unavailable",
	KindResourceLimitExceeded:     "resource limit exceeded",
	KindFileSystemError:           "filesystem error",
	KindHTTPError:                 "http error",
	KindSerializationError:        "serialization error",
	KindDeserializationError:      "deserialization error",
	KindConnectionFailed:          "connection failed",
	KindTimeout:                   "timeout",
	KindUnknown:                   "unknown error",
	KindInvalidSnapshot:           "invalid snapshot",
	KindSnapshotCreationFailed:    "snapshot creation failed",
	KindSnapshotRestorationFailed: "snapshot restoration failed",
}

// String returns the human-readable name of the Kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Kinds returns every Kind in the closed set, in declaration order.
// Classification tests iterate this to enforce exhaustive handling.
func Kinds() []Kind {
	kinds := make([]Kind, 0, int(kindSentinel))
	for k := Kind(0); k < kindSentinel; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Error is the single concrete error type of the taxonomy. Which context
// fields are populated depends on the Kind; constructors below set the
// fields each variant requires.
type Error struct {
	Kind Kind

	// Op is the logical operation being performed (e.g. "start", "PUT /drives/rootfs").
	Op string
	// VM is the name of the VM the operation targeted, when one is involved.
	VM string
	// Resource identifies the specific resource that failed (drive id,
	// interface id, tap name, image digest, ...).
	Resource string
	// Endpoint is the control-endpoint socket path for transport errors.
	Endpoint string
	// State is the current lifecycle state for invalid-transition errors.
	State string
	// Field and Reason describe configuration/validation failures.
	Field  string
	Reason string
	// Path is the offending filesystem path for path/filesystem errors.
	Path string
	// StatusCode and Body carry the server response for HTTP errors.
	StatusCode int
	Body       string
	// Timeout is the deadline that elapsed for timeout errors.
	Timeout time.Duration

	// Cause is the originating error, if any.
	Cause error
}

// Error renders the kind name plus whichever context fields are set.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		fmt.Fprintf(&b, ": %s", e.Op)
	}
	if e.VM != "" {
		fmt.Fprintf(&b, " (vm %s)", e.VM)
	}
	if e.Resource != "" {
		fmt.Fprintf(&b, " [%s]", e.Resource)
	}
	if e.State != "" {
		fmt.Fprintf(&b, ": current state %s", e.State)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %s", e.Field)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, ": %s", e.Path)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " (endpoint %s)", e.Endpoint)
	}
	if e.Timeout != 0 {
		fmt.Fprintf(&b, ": after %s", e.Timeout)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap exposes the chained cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind so callers can compare against sentinel-style values:
// errors.Is(err, &Error{Kind: KindTimeout}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the Kind of err if it is (or wraps) a taxonomy error.
// Errors from outside the taxonomy report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a taxonomy error of the given Kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// InvalidStateTransition reports an operation attempted from a state it is
// not valid in. Issued before any remote call is made.
func InvalidStateTransition(currentState, attemptedOp, vmName string) *Error {
	return &Error{Kind: KindInvalidStateTransition, State: currentState, Op: attemptedOp, VM: vmName}
}

// InvalidConfiguration reports a rejected configuration field.
func InvalidConfiguration(field, reason, vmName string) *Error {
	return &Error{Kind: KindInvalidConfiguration, Field: field, Reason: reason, VM: vmName}
}

// ResourceAllocationFailed reports a host resource that could not be set up
// for a VM (tap device, COW disk, ...).
func ResourceAllocationFailed(resource, details, vmName string, cause error) *Error {
	return &Error{Kind: KindResourceAllocationFailed, Resource: resource, Reason: details, VM: vmName, Cause: cause}
}

// OperationTimeout reports a lifecycle operation that did not complete in time.
func OperationTimeout(op, vmName string, timeout time.Duration) *Error {
	return &Error{Kind: KindOperationTimeout, Op: op, VM: vmName, Timeout: timeout}
}

// OperationFailed wraps any unrecovered failure of a lifecycle operation
// with the VM name and failing phase.
func OperationFailed(op, vmName string, cause error) *Error {
	return &Error{Kind: KindOperationFailed, Op: op, VM: vmName, Cause: cause}
}

// MissingRequiredField reports an absent mandatory field.
func MissingRequiredField(field string) *Error {
	return &Error{Kind: KindMissingRequiredField, Field: field}
}

// InvalidRange reports a field value outside its permitted range.
func InvalidRange(field, reason string) *Error {
	return &Error{Kind: KindInvalidRange, Field: field, Reason: reason}
}

// InvalidFormat reports a malformed field value.
func InvalidFormat(field, reason string) *Error {
	return &Error{Kind: KindInvalidFormat, Field: field, Reason: reason}
}

// InvalidPath reports a filesystem path that does not satisfy a precondition.
func InvalidPath(path, reason string) *Error {
	return &Error{Kind: KindInvalidPath, Path: path, Reason: reason}
}

// ResourceUnavailable reports a host resource that is currently not usable.
func ResourceUnavailable(resource, reason string) *Error {
	return &Error{Kind: KindResourceUnavailable, Resource: resource, Reason: reason}
}

// ResourceLimitExceeded reports a host limit being hit.
func ResourceLimitExceeded(resource, reason string) *Error {
	return &Error{Kind: KindResourceLimitExceeded, Resource: resource, Reason: reason}
}

// FileSystemError wraps a filesystem failure with the offending path.
func FileSystemError(path string, cause error) *Error {
	return &Error{Kind: KindFileSystemError, Path: path, Cause: cause}
}

// HTTPError reports a non-2xx response from the control endpoint.
func HTTPError(statusCode int, op, body string) *Error {
	return &Error{Kind: KindHTTPError, StatusCode: statusCode, Op: op, Body: body}
}

// SerializationError reports a request body that could not be encoded.
func SerializationError(op string, cause error) *Error {
	return &Error{Kind: KindSerializationError, Op: op, Cause: cause}
}

// DeserializationError reports a response body that could not be decoded.
func DeserializationError(op string, cause error) *Error {
	return &Error{Kind: KindDeserializationError, Op: op, Cause: cause}
}

// ConnectionFailed reports an I/O level failure talking to the endpoint.
func ConnectionFailed(endpoint string, cause error) *Error {
	return &Error{Kind: KindConnectionFailed, Endpoint: endpoint, Cause: cause}
}

// Timeout reports a transport-level timeout against the endpoint.
func Timeout(endpoint, op string, cause error) *Error {
	return &Error{Kind: KindTimeout, Endpoint: endpoint, Op: op, Cause: cause}
}

// Unknown wraps a failure that fits no other transport variant.
func Unknown(endpoint, op string, cause error) *Error {
	return &Error{Kind: KindUnknown, Endpoint: endpoint, Op: op, Cause: cause}
}

// InvalidSnapshot reports a snapshot file that failed validation.
func InvalidSnapshot(path, reason string) *Error {
	return &Error{Kind: KindInvalidSnapshot, Path: path, Reason: reason}
}

// SnapshotCreationFailed wraps a failed snapshot create.
func SnapshotCreationFailed(vmName string, cause error) *Error {
	return &Error{Kind: KindSnapshotCreationFailed, VM: vmName, Cause: cause}
}

// SnapshotRestorationFailed wraps a failed snapshot load.
func SnapshotRestorationFailed(vmName string, cause error) *Error {
	return &Error{Kind: KindSnapshotRestorationFailed, VM: vmName, Cause: cause}
}
