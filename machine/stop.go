package machine

import (
	"context"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/pupa/types"
)

// Stop asks the guest to shut down gracefully (ctrl-alt-del) and waits up
// to the stop timeout for it to do so. On success the state is stopped; a
// failed action or an expired wait lands the machine in the error state.
//
// Valid only from running.
func (m *Machine) Stop(ctx context.Context) error {
	if err := m.checkState("stop", types.VMStateRunning); err != nil {
		return err
	}
	logger := log.WithFunc("machine.Stop")

	if err := m.action(ctx, types.ActionSendCtrlAltDel); err != nil {
		return m.fail("stop: send ctrl-alt-del", "", err)
	}
	m.state = types.VMStateStopping

	if err := m.WaitForState(ctx, types.VMStateStopped, m.stopTimeout); err != nil {
		logger.Warnf(ctx, "VM %s did not stop within %s", m.name, m.stopTimeout)
		return m.fail("stop: wait for shutdown", "", err)
	}

	m.state = types.VMStateStopped
	logger.Infof(ctx, "VM %s stopped", m.name)
	return nil
}

// Kill forces the instance off without waiting for confirmation. The state
// moves to stopped optimistically on a successful action.
//
// Valid from running or starting.
func (m *Machine) Kill(ctx context.Context) error {
	if err := m.checkState("kill", types.VMStateRunning, types.VMStateStarting); err != nil {
		return err
	}
	if err := m.action(ctx, types.ActionInstanceStop); err != nil {
		return m.fail("kill: force stop", "", err)
	}
	m.state = types.VMStateStopped
	return nil
}

// Pause freezes the vcpus. Valid only from running.
func (m *Machine) Pause(ctx context.Context) error {
	if err := m.checkState("pause", types.VMStateRunning); err != nil {
		return err
	}
	if err := m.action(ctx, types.ActionPause); err != nil {
		return m.fail("pause", "", err)
	}
	m.state = types.VMStatePaused
	return nil
}

// Resume unfreezes a paused VM. Valid only from paused.
func (m *Machine) Resume(ctx context.Context) error {
	if err := m.checkState("resume", types.VMStatePaused); err != nil {
		return err
	}
	if err := m.action(ctx, types.ActionResume); err != nil {
		return m.fail("resume", "", err)
	}
	m.state = types.VMStateRunning
	return nil
}
