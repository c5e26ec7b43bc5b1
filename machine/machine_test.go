package machine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/pupa/errdefs"
	"github.com/projecteru2/pupa/retry"
	"github.com/projecteru2/pupa/types"
)

type recordedCall struct {
	Method string
	Path   string
	Body   any
}

// fakeClient records every control call and fails the ones listed in fail.
type fakeClient struct {
	calls  []recordedCall
	fail   map[string]error // "PUT /drives/data" → error
	getOut map[string]any   // "GET /balloon/statistics" → response object
	closed bool
}

func (f *fakeClient) record(method, path string, body any) error {
	f.calls = append(f.calls, recordedCall{Method: method, Path: path, Body: body})
	if err, ok := f.fail[method+" "+path]; ok {
		return err
	}
	return nil
}

func (f *fakeClient) Get(ctx context.Context, path string, out any) error {
	if err := f.record("GET", path, nil); err != nil {
		return err
	}
	if v, ok := f.getOut["GET "+path]; ok {
		if stats, ok := v.(types.BalloonStats); ok {
			*out.(*types.BalloonStats) = stats
		}
	}
	return nil
}

func (f *fakeClient) Put(ctx context.Context, path string, in any) error {
	return f.record("PUT", path, in)
}

func (f *fakeClient) Patch(ctx context.Context, path string, in any) error {
	return f.record("PATCH", path, in)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func (f *fakeClient) paths() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method+" "+c.Path)
	}
	return out
}

// fastRetry keeps test retries snappy.
var fastRetry = retry.Config{
	MaxAttempts:       3,
	InitialDelay:      time.Millisecond,
	MaxDelay:          5 * time.Millisecond,
	BackoffMultiplier: 2.0,
	JitterFactor:      0,
}

func testConfig(t *testing.T) Config {
	t.Helper()
	mc, err := types.NewMachineConfig(2, 512)
	require.NoError(t, err)
	boot, err := types.NewBootSource("/boot/vmlinux", "", "console=ttyS0 reboot=k")
	require.NoError(t, err)
	root, err := types.RootDrive("/images/rootfs.ext4", false)
	require.NoError(t, err)
	data, err := types.NewDrive("data", "/images/data.ext4", false, false)
	require.NoError(t, err)
	eth0, err := types.NewNetworkInterface("eth0", "tap-eth0", "")
	require.NoError(t, err)
	return Config{
		Machine:           mc,
		Boot:              boot,
		Drives:            []types.Drive{root, data},
		NetworkInterfaces: []types.NetworkInterface{eth0},
	}
}

func newTestMachine(t *testing.T, fc *fakeClient, opts ...Option) *Machine {
	t.Helper()
	opts = append([]Option{WithRetryConfig(fastRetry)}, opts...)
	m, err := New("vm0", testConfig(t), fc, opts...)
	require.NoError(t, err)
	return m
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig(t)
	_, err := New("", cfg, &fakeClient{})
	assert.True(t, errdefs.IsKind(err, errdefs.KindMissingRequiredField))

	bad := cfg
	bad.Drives = append(bad.Drives, bad.Drives[0]) // duplicate rootfs id
	_, err = New("vm0", bad, &fakeClient{})
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidConfiguration))

	tworoots := cfg
	extra, err2 := types.NewDrive("root2", "/images/r2.ext4", true, false)
	require.NoError(t, err2)
	tworoots.Drives = append(tworoots.Drives, extra)
	_, err = New("vm0", tworoots, &fakeClient{})
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidConfiguration))
}

func TestStartSequencesConfigurationCalls(t *testing.T) {
	fc := &fakeClient{}
	m := newTestMachine(t, fc)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, types.VMStateRunning, m.State())

	assert.Equal(t, []string{
		"PUT /machine-config",
		"PUT /boot-source",
		"PUT /drives/rootfs",
		"PUT /drives/data",
		"PUT /network-interfaces/eth0",
		"PUT /actions",
	}, fc.paths())

	last := fc.calls[len(fc.calls)-1]
	assert.Equal(t, types.InstanceAction{ActionType: types.ActionInstanceStart}, last.Body)
}

func TestStartFromRunningIssuesNoRemoteCalls(t *testing.T) {
	fc := &fakeClient{}
	m := newTestMachine(t, fc)
	require.NoError(t, m.Start(context.Background()))
	fc.calls = nil

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidStateTransition))
	assert.Empty(t, fc.calls, "invalid transition must have zero side effects")
	// The failed precondition does not corrupt the state either.
	assert.Equal(t, types.VMStateRunning, m.State())

	var e *errdefs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "start", e.Op)
	assert.Equal(t, "running", e.State)
	assert.Equal(t, "vm0", e.VM)
}

func TestStartFailsFastOnSecondDrive(t *testing.T) {
	fc := &fakeClient{fail: map[string]error{
		"PUT /drives/data": errdefs.HTTPError(400, "PUT /drives/data", "no such file"),
	}}
	m := newTestMachine(t, fc)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.VMStateError, m.State())

	// The error names the failing drive and wraps the VM name and phase.
	var e *errdefs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errdefs.KindOperationFailed, e.Kind)
	assert.Equal(t, "vm0", e.VM)
	assert.Equal(t, "data", e.Resource)
	assert.Contains(t, e.Op, "drive")
	assert.True(t, errdefs.IsKind(e.Cause, errdefs.KindHTTPError))

	// Subsequent steps were aborted: no interface was configured.
	for _, p := range fc.paths() {
		assert.NotContains(t, p, "/network-interfaces/")
		assert.NotEqual(t, "PUT /actions", p)
	}
}

func TestStartRetriesTransientFailures(t *testing.T) {
	// /machine-config answers 503 twice and then succeeds.
	attempts := 0
	fc := &fakeClient{}
	flaky := &flakyClient{inner: fc, failures: 2, path: "/machine-config", counter: &attempts}

	m, err := New("vm0", testConfig(t), flaky, WithRetryConfig(fastRetry))
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 3, attempts, "two transient failures then success")
	assert.Equal(t, types.VMStateRunning, m.State())
}

// flakyClient fails the first N PUTs to path with a retryable error.
type flakyClient struct {
	inner    Client
	path     string
	failures int
	counter  *int
}

func (f *flakyClient) Get(ctx context.Context, path string, out any) error {
	return f.inner.Get(ctx, path, out)
}

func (f *flakyClient) Put(ctx context.Context, path string, in any) error {
	if path == f.path {
		*f.counter++
		if f.failures > 0 {
			f.failures--
			return errdefs.HTTPError(503, "PUT "+path, "")
		}
	}
	return f.inner.Put(ctx, path, in)
}

func (f *flakyClient) Patch(ctx context.Context, path string, in any) error {
	return f.inner.Patch(ctx, path, in)
}

func (f *flakyClient) Close() error { return f.inner.Close() }

func TestStartGivesUpAfterRetryBudget(t *testing.T) {
	fc := &fakeClient{fail: map[string]error{
		"PUT /boot-source": errdefs.Timeout("/sock", "PUT /boot-source", nil),
	}}
	m := newTestMachine(t, fc)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.VMStateError, m.State())

	// machine-config once, boot-source retried MaxAttempts times, nothing after.
	assert.Equal(t, []string{
		"PUT /machine-config",
		"PUT /boot-source",
		"PUT /boot-source",
		"PUT /boot-source",
	}, fc.paths())
}

func TestStartConfiguresOptionalDevices(t *testing.T) {
	cfg := testConfig(t)
	balloon, err := types.NewBalloon(256, true, 0)
	require.NoError(t, err)
	vsock, err := types.NewVsock(3, "/run/vm0/vsock.sock")
	require.NoError(t, err)
	logCfg, err := types.NewLoggerConfig("/log/vm0/fc.log", "Info")
	require.NoError(t, err)
	metrics, err := types.NewMetricsConfig("/log/vm0/fc-metrics")
	require.NoError(t, err)
	cfg.Balloon = &balloon
	cfg.Vsock = &vsock
	cfg.Logger = &logCfg
	cfg.Metrics = &metrics

	fc := &fakeClient{}
	m, err := New("vm0", cfg, fc, WithRetryConfig(fastRetry))
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	assert.Equal(t, []string{
		"PUT /machine-config",
		"PUT /boot-source",
		"PUT /drives/rootfs",
		"PUT /drives/data",
		"PUT /network-interfaces/eth0",
		"PUT /logger",
		"PUT /metrics",
		"PUT /balloon",
		"PUT /vsock",
		"PUT /actions",
	}, fc.paths())
}

func TestStartConfiguresMetadataService(t *testing.T) {
	cfg := testConfig(t)
	mmds, err := types.NewMMDSConfig(types.MMDSVersionV2, []string{"eth0"})
	require.NoError(t, err)
	cfg.MMDS = &mmds
	cfg.Metadata = map[string]any{"latest": map[string]any{"meta-data": map[string]any{"instance-id": "vm0"}}}

	fc := &fakeClient{}
	m, err := New("vm0", cfg, fc, WithRetryConfig(fastRetry))
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	// Metadata is configured after the interfaces it is served through and
	// before the boot action.
	assert.Equal(t, []string{
		"PUT /machine-config",
		"PUT /boot-source",
		"PUT /drives/rootfs",
		"PUT /drives/data",
		"PUT /network-interfaces/eth0",
		"PUT /mmds/config",
		"PUT /mmds",
		"PUT /actions",
	}, fc.paths())
}

func TestMMDSRequiresConfiguredInterface(t *testing.T) {
	cfg := testConfig(t)
	mmds, err := types.NewMMDSConfig(types.MMDSVersionV2, []string{"eth9"})
	require.NoError(t, err)
	cfg.MMDS = &mmds

	_, err = New("vm0", cfg, &fakeClient{})
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidConfiguration))
}

func TestStopGracefulWithExitProbe(t *testing.T) {
	var exited atomic.Bool
	fc := &fakeClient{}
	m := newTestMachine(t, fc, WithExitProbe(exited.Load), WithStopTimeout(2*time.Second))
	require.NoError(t, m.Start(context.Background()))

	go func() {
		time.Sleep(150 * time.Millisecond)
		exited.Store(true)
	}()

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, types.VMStateStopped, m.State())

	last := fc.calls[len(fc.calls)-1]
	assert.Equal(t, types.InstanceAction{ActionType: types.ActionSendCtrlAltDel}, last.Body)
}

func TestStopTimesOutIntoErrorState(t *testing.T) {
	fc := &fakeClient{}
	m := newTestMachine(t, fc, WithStopTimeout(50*time.Millisecond))
	require.NoError(t, m.Start(context.Background()))

	err := m.Stop(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.VMStateError, m.State())

	var e *errdefs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errdefs.KindOperationFailed, e.Kind)
	assert.True(t, errdefs.IsKind(e.Cause, errdefs.KindOperationTimeout))
}

func TestStopOnlyValidFromRunning(t *testing.T) {
	fc := &fakeClient{}
	m := newTestMachine(t, fc)
	err := m.Stop(context.Background())
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidStateTransition))
	assert.Empty(t, fc.calls)
}

func TestKillIsOptimistic(t *testing.T) {
	fc := &fakeClient{}
	m := newTestMachine(t, fc)
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Kill(context.Background()))
	assert.Equal(t, types.VMStateStopped, m.State())

	last := fc.calls[len(fc.calls)-1]
	assert.Equal(t, types.InstanceAction{ActionType: types.ActionInstanceStop}, last.Body)
}

func TestKillFromErrorStateRejected(t *testing.T) {
	fc := &fakeClient{fail: map[string]error{
		"PUT /machine-config": errdefs.HTTPError(400, "PUT /machine-config", ""),
	}}
	m := newTestMachine(t, fc)
	require.Error(t, m.Start(context.Background()))
	require.Equal(t, types.VMStateError, m.State())

	err := m.Kill(context.Background())
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidStateTransition))
}

func TestPauseResumeCycle(t *testing.T) {
	fc := &fakeClient{}
	m := newTestMachine(t, fc)
	require.NoError(t, m.Start(context.Background()))

	// Pause requires running; resume requires paused.
	require.NoError(t, m.Pause(context.Background()))
	assert.Equal(t, types.VMStatePaused, m.State())

	err := m.Pause(context.Background())
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidStateTransition))

	require.NoError(t, m.Resume(context.Background()))
	assert.Equal(t, types.VMStateRunning, m.State())

	err = m.Resume(context.Background())
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidStateTransition))
}

func TestPauseFailureIsAbsorbing(t *testing.T) {
	fc := &fakeClient{fail: map[string]error{}}
	m := newTestMachine(t, fc)
	require.NoError(t, m.Start(context.Background()))

	fc.fail["PUT /actions"] = errdefs.HTTPError(400, "PUT /actions", "not supported")
	err := m.Pause(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.VMStateError, m.State())

	// Error is absorbing: nothing recovers the instance.
	assert.True(t, errdefs.IsKind(m.Resume(context.Background()), errdefs.KindInvalidStateTransition))
	assert.True(t, errdefs.IsKind(m.Start(context.Background()), errdefs.KindInvalidStateTransition))
}

func TestWaitForStateImmediateTimeout(t *testing.T) {
	fc := &fakeClient{}
	m := newTestMachine(t, fc)

	start := time.Now()
	err := m.WaitForState(context.Background(), types.VMStateRunning, 0)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindOperationTimeout))
	assert.Less(t, elapsed, waitPollInterval, "zero timeout must not poll beyond the first check")
	// The wait is observational: state is unchanged.
	assert.Equal(t, types.VMStateCreated, m.State())
}

func TestWaitForStateTargetAlreadyReached(t *testing.T) {
	fc := &fakeClient{}
	m := newTestMachine(t, fc)
	require.NoError(t, m.WaitForState(context.Background(), types.VMStateCreated, 0))
	assert.Empty(t, fc.calls, "wait never issues remote calls")
}

func TestWaitForStateHonorsContext(t *testing.T) {
	fc := &fakeClient{}
	m := newTestMachine(t, fc)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := m.WaitForState(ctx, types.VMStateRunning, time.Hour)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindOperationTimeout))
	assert.Equal(t, types.VMStateCreated, m.State())
}

func TestSnapshotLifecycle(t *testing.T) {
	fc := &fakeClient{}
	m := newTestMachine(t, fc)
	require.NoError(t, m.Start(context.Background()))

	params, err := types.NewSnapshotCreateParams("/snap/vm0.snap", "/snap/vm0.mem", types.SnapshotTypeFull)
	require.NoError(t, err)

	// Snapshot requires frozen vcpus.
	err = m.CreateSnapshot(context.Background(), params)
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidStateTransition))

	require.NoError(t, m.Pause(context.Background()))
	require.NoError(t, m.CreateSnapshot(context.Background(), params))
	assert.Equal(t, "PUT /snapshot/create", fc.paths()[len(fc.calls)-1])
	// Snapshot does not disturb the lifecycle state.
	assert.Equal(t, types.VMStatePaused, m.State())
}

func TestSnapshotCreateFailureWrapsCause(t *testing.T) {
	fc := &fakeClient{fail: map[string]error{
		"PUT /snapshot/create": errdefs.HTTPError(400, "PUT /snapshot/create", "disk full"),
	}}
	m := newTestMachine(t, fc)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Pause(context.Background()))

	params, err := types.NewSnapshotCreateParams("/snap/vm0.snap", "/snap/vm0.mem", "")
	require.NoError(t, err)
	err = m.CreateSnapshot(context.Background(), params)
	assert.True(t, errdefs.IsKind(err, errdefs.KindSnapshotCreationFailed))
}

func TestLoadSnapshot(t *testing.T) {
	fc := &fakeClient{}
	m := newTestMachine(t, fc)

	params, err := types.NewSnapshotLoadParams("/snap/vm0.snap", "/snap/vm0.mem", true)
	require.NoError(t, err)
	require.NoError(t, m.LoadSnapshot(context.Background(), params))
	assert.Equal(t, types.VMStateRunning, m.State())
	assert.Equal(t, []string{"PUT /snapshot/load"}, fc.paths())

	// Only a fresh VM can be seeded from a snapshot.
	err = m.LoadSnapshot(context.Background(), params)
	assert.True(t, errdefs.IsKind(err, errdefs.KindInvalidStateTransition))
}

func TestBalloonOperations(t *testing.T) {
	fc := &fakeClient{getOut: map[string]any{
		"GET /balloon/statistics": types.BalloonStats{TargetMib: 256, ActualMib: 200},
	}}
	m := newTestMachine(t, fc)
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.UpdateBalloon(context.Background(), 128))
	last := fc.calls[len(fc.calls)-1]
	assert.Equal(t, "PATCH", last.Method)
	assert.Equal(t, "/balloon", last.Path)

	stats, err := m.BalloonStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 256, stats.TargetMib)
	assert.Equal(t, 200, stats.ActualMib)

	assert.True(t, errdefs.IsKind(func() error {
		return m.UpdateBalloon(context.Background(), -1)
	}(), errdefs.KindInvalidRange))
}

func TestCloseReleasesClient(t *testing.T) {
	fc := &fakeClient{}
	m := newTestMachine(t, fc)
	require.NoError(t, m.Close())
	assert.True(t, fc.closed)
}
