// Package machine implements the per-VM lifecycle controller: it owns one
// VM's in-memory state and configuration snapshot and sequences the control
// endpoint calls that move the VM through its lifecycle.
//
// A Machine is single-flight: it carries no internal locking, so invoking
// two lifecycle operations concurrently on the same instance corrupts the
// state machine. Callers that need concurrency must serialize externally
// (the engine does this with the per-index flock).
package machine

import (
	"context"
	"time"

	"github.com/projecteru2/pupa/errdefs"
	"github.com/projecteru2/pupa/retry"
	"github.com/projecteru2/pupa/types"
)

const (
	// waitPollInterval is how often WaitForState re-checks the cached state.
	waitPollInterval = 100 * time.Millisecond
	// defaultStopTimeout bounds the graceful shutdown wait in Stop.
	defaultStopTimeout = 10 * time.Second
)

// Client is the control endpoint surface the controller drives. Satisfied
// by *client.Client.
type Client interface {
	Get(ctx context.Context, path string, out any) error
	Put(ctx context.Context, path string, in any) error
	Patch(ctx context.Context, path string, in any) error
	Close() error
}

// Machine drives one VM instance. The configuration snapshot is immutable
// after New; the state field is mutated only by lifecycle operations.
type Machine struct {
	name   string
	cfg    Config
	client Client
	retry  retry.Config

	stopTimeout time.Duration

	// exited, when set, reports whether the VMM process has terminated.
	// WaitForState uses it to project a process exit into the cached state;
	// without it the wait is purely observational on in-memory state and
	// cannot detect external changes.
	exited func() bool

	state types.VMState
}

// Option customizes a Machine.
type Option func(*Machine)

// WithRetryConfig overrides the retry policy applied to control calls.
func WithRetryConfig(cfg retry.Config) Option {
	return func(m *Machine) { m.retry = cfg }
}

// WithStopTimeout overrides how long Stop waits for the guest to shut down.
func WithStopTimeout(d time.Duration) Option {
	return func(m *Machine) { m.stopTimeout = d }
}

// WithExitProbe supplies a process-liveness probe. When the probe reports
// the VMM process gone, WaitForState treats the VM as stopped.
func WithExitProbe(exited func() bool) Option {
	return func(m *Machine) { m.exited = exited }
}

// WithInitialState overrides the starting state. Used to reattach a
// controller to a VM that is already past created, e.g. stopping a VM
// launched by an earlier invocation.
func WithInitialState(s types.VMState) Option {
	return func(m *Machine) { m.state = s }
}

// New validates cfg and returns a controller in the created state.
func New(name string, cfg Config, c Client, opts ...Option) (*Machine, error) {
	if name == "" {
		return nil, errdefs.MissingRequiredField("name")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Machine{
		name:        name,
		cfg:         cfg,
		client:      c,
		retry:       retry.DefaultConfig,
		stopTimeout: defaultStopTimeout,
		state:       types.VMStateCreated,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.retry.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Name returns the VM name.
func (m *Machine) Name() string { return m.name }

// State returns the cached lifecycle state.
func (m *Machine) State() types.VMState { return m.state }

// Close releases the control endpoint connection. The Machine is unusable
// afterwards.
func (m *Machine) Close() error { return m.client.Close() }

// WaitForState polls the cached state every 100ms until it equals target or
// timeout elapses. This is observational only: it never issues a remote
// call, and on timeout or cancellation the VM state is left unchanged. With
// timeout zero exactly one check is made.
func (m *Machine) WaitForState(ctx context.Context, target types.VMState, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	op := "wait for state " + string(target)
	for {
		if m.exited != nil && m.exited() && m.state != types.VMStateError {
			m.state = types.VMStateStopped
		}
		if m.state == target {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errdefs.OperationTimeout(op, m.name, timeout)
		}
		select {
		case <-ctx.Done():
			return errdefs.OperationTimeout(op, m.name, timeout)
		case <-time.After(waitPollInterval):
		}
	}
}

// checkState validates that the current state is one of valid before any
// remote call is issued. On mismatch it returns an invalid-transition error
// with zero side effects.
func (m *Machine) checkState(op string, valid ...types.VMState) error {
	for _, s := range valid {
		if m.state == s {
			return nil
		}
	}
	return errdefs.InvalidStateTransition(string(m.state), op, m.name)
}

// call runs one control endpoint request under the retry policy.
func (m *Machine) call(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, m.retry, fn)
}

// action issues PUT /actions with the given action type under retry.
func (m *Machine) action(ctx context.Context, a types.ActionType) error {
	return m.call(ctx, func() error {
		return m.client.Put(ctx, "/actions", types.InstanceAction{ActionType: a})
	})
}

// fail transitions the machine into the absorbing error state and returns
// the failure wrapped with the VM name, the failing phase, and the specific
// resource when one is involved.
func (m *Machine) fail(op, resource string, cause error) error {
	m.state = types.VMStateError
	e := errdefs.OperationFailed(op, m.name, cause)
	e.Resource = resource
	return e
}
