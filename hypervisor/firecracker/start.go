package firecracker

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/projecteru2/pupa/client"
	"github.com/projecteru2/pupa/machine"
	"github.com/projecteru2/pupa/types"
	"github.com/projecteru2/pupa/utils"
)

const (
	socketWaitTimeout  = 5 * time.Second
	socketPollInterval = 100 * time.Millisecond
)

// Start launches the firecracker process for each reference and drives the
// configuration sequence over its API socket. Returns the IDs that were
// successfully started; failures are logged and skipped.
func (fc *Firecracker) Start(ctx context.Context, refs []string) ([]string, error) {
	return fc.forEachVM(ctx, refs, "Start", true, fc.startOne)
}

func (fc *Firecracker) startOne(ctx context.Context, id string) error {
	rec, err := fc.loadRecord(ctx, id)
	if err != nil {
		return err
	}

	switch rec.State {
	case types.VMStateCreated, types.VMStateStopped:
	case types.VMStateRunning:
		// Idempotent when the process is actually up.
		pid, _ := utils.ReadPIDFile(fc.conf.FCVMPIDFile(id))
		if utils.IsProcessAlive(pid) {
			return nil
		}
	default:
		return fmt.Errorf("cannot start from state %q", rec.State)
	}

	if err := fc.conf.EnsureFCVMDirs(id); err != nil {
		return fmt.Errorf("ensure dirs: %w", err)
	}

	// Clean up stale runtime files from any previous run.
	fc.cleanupRuntimeFiles(id)

	pid, err := fc.launchProcess(ctx, id)
	if err != nil {
		return fmt.Errorf("launch firecracker: %w", err)
	}

	cfg, err := buildMachineConfig(fc.conf, &rec)
	if err != nil {
		fc.killProcess(id, pid)
		return err
	}
	m, err := machine.New(rec.Config.Name, cfg, client.New(fc.conf.FCVMSocketPath(id)),
		machine.WithStopTimeout(time.Duration(fc.conf.StopTimeoutSeconds)*time.Second),
		machine.WithExitProbe(func() bool { return !utils.IsProcessAlive(pid) }),
	)
	if err != nil {
		fc.killProcess(id, pid)
		return err
	}
	defer m.Close() //nolint:errcheck

	if err := m.Start(ctx); err != nil {
		fc.killProcess(id, pid)
		return err
	}

	return fc.updateState(ctx, id, types.VMStateRunning)
}

// launchProcess starts the firecracker binary with its serial console on
// stdio: stdout and stderr stream to the serial log, stdin reads from a
// FIFO so the console command can inject keystrokes later. The PID file is
// written and the API socket awaited before the handle is released, leaving
// firecracker as an independent OS process.
func (fc *Firecracker) launchProcess(ctx context.Context, vmID string) (int, error) {
	socketPath := fc.conf.FCVMSocketPath(vmID)

	// The VMM-side logger refuses a missing log file.
	if f, err := os.OpenFile(fc.conf.FCVMProcessLog(vmID), os.O_CREATE|os.O_WRONLY, 0o640); err == nil {
		_ = f.Close()
	}

	fifoPath := fc.conf.FCVMConsoleIn(vmID)
	if err := unix.Mkfifo(fifoPath, 0o600); err != nil && !os.IsExist(err) {
		return 0, fmt.Errorf("create console fifo: %w", err)
	}
	// O_RDWR keeps the FIFO open without blocking and keeps a reader
	// present even when no console is attached.
	stdin, err := os.OpenFile(fifoPath, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open console fifo: %w", err)
	}

	serialLog, err := os.OpenFile(fc.conf.FCVMSerialLog(vmID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		_ = stdin.Close()
		return 0, fmt.Errorf("open serial log: %w", err)
	}

	cmd := exec.Command(fc.conf.FCBinary, "--api-sock", socketPath) //nolint:gosec
	// Detach from our process group so firecracker survives this process.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = stdin
	cmd.Stdout = serialLog
	cmd.Stderr = serialLog

	closeFiles := func() {
		_ = stdin.Close()
		_ = serialLog.Close()
	}

	if err := cmd.Start(); err != nil {
		closeFiles()
		return 0, fmt.Errorf("exec firecracker: %w", err)
	}
	pid := cmd.Process.Pid

	if err := utils.WritePIDFile(fc.conf.FCVMPIDFile(vmID), pid); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		closeFiles()
		return 0, fmt.Errorf("write PID file: %w", err)
	}

	if err := waitForSocket(ctx, socketPath, socketWaitTimeout, pid); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		closeFiles()
		_ = os.Remove(fc.conf.FCVMPIDFile(vmID))
		return 0, err
	}

	_ = cmd.Process.Release()
	closeFiles()
	return pid, nil
}

// waitForSocket polls until socketPath accepts connections, the process
// exits, or the timeout/context fires.
func waitForSocket(ctx context.Context, socketPath string, timeout time.Duration, pid int) error {
	return utils.WaitFor(ctx, timeout, socketPollInterval, func() (bool, error) {
		if checkSocket(socketPath) == nil {
			return true, nil
		}
		if !utils.IsProcessAlive(pid) {
			return false, fmt.Errorf("firecracker exited before socket %s was ready", socketPath)
		}
		return false, nil
	})
}

// checkSocket reports whether the unix socket accepts connections.
func checkSocket(socketPath string) error {
	conn, err := net.DialTimeout("unix", socketPath, socketPollInterval)
	if err != nil {
		return err
	}
	return conn.Close()
}

// killProcess tears down the firecracker process after a failed start.
func (fc *Firecracker) killProcess(vmID string, pid int) {
	fc.cleanupRuntimeFiles(vmID)
	if pid > 0 && utils.IsProcessAlive(pid) {
		if proc, err := os.FindProcess(pid); err == nil {
			_ = proc.Kill()
		}
	}
}
