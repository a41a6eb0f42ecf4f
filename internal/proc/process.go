// Package proc manages the external processes that produce raw PCM on stdout.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
	"github.com/oszuidwest/zwfm-ecoscan/internal/util"
)

// Process represents a running capture subprocess.
type Process struct {
	Cmd    *exec.Cmd
	Stdout io.ReadCloser

	cancel   context.CancelFunc
	stderr   *lockedBuffer
	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

// Start launches name with args and returns once the process is running.
// The process is stopped with a graceful signal, then killed after
// types.ShutdownTimeout.
func Start(name string, args []string) (*Process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	return &Process{
		Cmd:    cmd,
		Stdout: stdout,
		cancel: cancel,
		stderr: stderr,
		done:   make(chan struct{}),
	}, nil
}

// Wait waits for the process to exit. It may be called any number of times.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.Cmd.Wait()
		p.cancel()
		close(p.done)
	})
	<-p.done
	return p.waitErr
}

// Stop asks the process to exit and waits for it. A process that exits
// because it was stopped is not an error.
func (p *Process) Stop() error {
	p.cancel()
	err := p.Wait()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stderr returns everything the process has written to stderr so far.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// lockedBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
