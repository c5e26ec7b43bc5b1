package machine

import (
	"context"

	"github.com/projecteru2/pupa/errdefs"
	"github.com/projecteru2/pupa/types"
)

// CreateSnapshot writes the VM's state and guest memory to the given paths.
// The VMM requires the vcpus to be frozen, so this is valid only from
// paused; the state is unchanged by success or failure.
func (m *Machine) CreateSnapshot(ctx context.Context, params types.SnapshotCreateParams) error {
	if err := m.checkState("create snapshot", types.VMStatePaused); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if err := m.call(ctx, func() error {
		return m.client.Put(ctx, "/snapshot/create", params)
	}); err != nil {
		return errdefs.SnapshotCreationFailed(m.name, err)
	}
	return nil
}

// LoadSnapshot restores a fresh VM from a snapshot. Valid only from created
// (a booted VM cannot be re-seeded). On success the VM is paused, or
// running when params request an immediate resume.
func (m *Machine) LoadSnapshot(ctx context.Context, params types.SnapshotLoadParams) error {
	if err := m.checkState("load snapshot", types.VMStateCreated); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if err := m.call(ctx, func() error {
		return m.client.Put(ctx, "/snapshot/load", params)
	}); err != nil {
		m.state = types.VMStateError
		return errdefs.SnapshotRestorationFailed(m.name, err)
	}
	if params.ResumeVM {
		m.state = types.VMStateRunning
	} else {
		m.state = types.VMStatePaused
	}
	return nil
}

// UpdateBalloon resizes the memory balloon of a live VM.
func (m *Machine) UpdateBalloon(ctx context.Context, amountMib int) error {
	if err := m.checkState("update balloon", types.VMStateRunning, types.VMStatePaused); err != nil {
		return err
	}
	if amountMib < 0 {
		return errdefs.InvalidRange("amount_mib", "must be >= 0")
	}
	if err := m.call(ctx, func() error {
		return m.client.Patch(ctx, "/balloon", types.BalloonUpdate{AmountMib: amountMib})
	}); err != nil {
		return errdefs.OperationFailed("update balloon", m.name, err)
	}
	return nil
}

// BalloonStats fetches the balloon statistics of a running VM.
func (m *Machine) BalloonStats(ctx context.Context) (*types.BalloonStats, error) {
	if err := m.checkState("balloon statistics", types.VMStateRunning); err != nil {
		return nil, err
	}
	var stats types.BalloonStats
	if err := m.call(ctx, func() error {
		return m.client.Get(ctx, "/balloon/statistics", &stats)
	}); err != nil {
		return nil, errdefs.OperationFailed("balloon statistics", m.name, err)
	}
	return &stats, nil
}
