package firecracker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/projecteru2/pupa/types"
	"github.com/projecteru2/pupa/utils"
)

// consolePollInterval paces the serial log tail when no new output is
// available.
const consolePollInterval = 100 * time.Millisecond

// Console returns a bidirectional stream for the VM's serial console.
// Output is tailed from the serial log; input is written into the stdin
// FIFO the firecracker process was launched with. The caller closes the
// returned stream.
func (fc *Firecracker) Console(ctx context.Context, ref string) (io.ReadWriteCloser, error) {
	id, err := fc.resolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if _, err := fc.requireLive(ctx, id, types.VMStateRunning, types.VMStatePaused); err != nil {
		return nil, err
	}

	out, err := os.Open(fc.conf.FCVMSerialLog(id))
	if err != nil {
		return nil, fmt.Errorf("open serial log: %w", err)
	}
	// O_WRONLY on the FIFO cannot block: the VMM holds the read side.
	in, err := os.OpenFile(fc.conf.FCVMConsoleIn(id), os.O_WRONLY, 0)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("open console input: %w", err)
	}

	pid, _ := utils.ReadPIDFile(fc.conf.FCVMPIDFile(id))
	return &serialConsole{
		ctx:    ctx,
		out:    out,
		in:     in,
		pid:    pid,
		closed: make(chan struct{}),
	}, nil
}

// serialConsole tails the serial log for reads and feeds the stdin FIFO for
// writes. Read follows the file: at end of log it waits for more output
// instead of returning io.EOF, and reports EOF only when the VMM process
// exits or the stream is closed.
type serialConsole struct {
	ctx       context.Context
	out       *os.File
	in        *os.File
	pid       int
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *serialConsole) Read(p []byte) (int, error) {
	for {
		n, err := c.out.Read(p)
		if n > 0 || (err != nil && err != io.EOF) {
			return n, err
		}
		if !utils.IsProcessAlive(c.pid) {
			return 0, io.EOF
		}
		select {
		case <-c.ctx.Done():
			return 0, c.ctx.Err()
		case <-c.closed:
			return 0, io.EOF
		case <-time.After(consolePollInterval):
		}
	}
}

func (c *serialConsole) Write(p []byte) (int, error) {
	return c.in.Write(p)
}

func (c *serialConsole) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	err := c.out.Close()
	if inErr := c.in.Close(); err == nil {
		err = inErr
	}
	return err
}
