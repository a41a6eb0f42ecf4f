package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-ecoscan/internal/proc"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
	"github.com/oszuidwest/zwfm-ecoscan/internal/util"
)

// DefaultStartupTimeout bounds how long Open waits for the first PCM bytes.
const DefaultStartupTimeout = 5 * time.Second

// Input opens live audio streams.
type Input interface {
	// Open acquires the device and returns a stream of raw PCM.
	// Errors wrap types.ErrPermissionDenied or types.ErrDeviceUnavailable.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// CommandInput captures audio through the platform capture command.
type CommandInput struct {
	Device         string
	FFmpegPath     string
	Format         Format
	StartupTimeout time.Duration
}

// NewCommandInput creates an input for device using the default PCM format.
func NewCommandInput(device, ffmpegPath string) *CommandInput {
	return &CommandInput{
		Device:         device,
		FFmpegPath:     ffmpegPath,
		Format:         DefaultFormat,
		StartupTimeout: DefaultStartupTimeout,
	}
}

// Open starts the capture command and waits until it produces audio.
func (in *CommandInput) Open(ctx context.Context) (io.ReadCloser, error) {
	name, args, err := BuildCaptureCommand(ctx, in.Device, in.FFmpegPath, in.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrDeviceUnavailable, err)
	}

	p, err := proc.Start(name, args)
	if err != nil {
		return nil, classifyStartError(err)
	}

	slog.Info("audio capture started", "command", name, "device", in.Device)

	r := bufio.NewReader(p.Stdout)
	peeked := make(chan error, 1)
	go func() {
		_, err := r.Peek(1)
		peeked <- err
	}()

	timeout := in.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-peeked:
		if err != nil {
			// No audio at all: the command exited before producing any.
			waitErr := p.Wait()
			return nil, classifyExit(p.Stderr(), errors.Join(err, waitErr))
		}
	case <-timer.C:
		stopQuietly(p)
		return nil, fmt.Errorf("%w: no audio within %s", types.ErrDeviceUnavailable, timeout)
	case <-ctx.Done():
		stopQuietly(p)
		return nil, fmt.Errorf("%w: %w", types.ErrDeviceUnavailable, ctx.Err())
	}

	return &captureStream{r: r, p: p}, nil
}

// captureStream owns a running capture process.
type captureStream struct {
	r    *bufio.Reader
	p    *proc.Process
	once sync.Once
	err  error
}

func (s *captureStream) Read(b []byte) (int, error) {
	return s.r.Read(b)
}

// Close stops the capture process. Only the first call has an effect.
func (s *captureStream) Close() error {
	s.once.Do(func() {
		s.err = s.p.Stop()
		slog.Info("audio capture stopped")
	})
	return s.err
}

func stopQuietly(p *proc.Process) {
	if err := p.Stop(); err != nil {
		slog.Warn("failed to stop capture process", "error", err)
	}
}

// classifyStartError maps a failure to launch the capture command.
func classifyStartError(err error) error {
	switch {
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %w", types.ErrPermissionDenied, err)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: capture command not installed: %w", types.ErrDeviceUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", types.ErrDeviceUnavailable, err)
	}
}

// permissionMarkers are stderr fragments capture tools print when the OS
// refuses microphone access.
var permissionMarkers = []string{
	"permission denied",
	"operation not permitted",
	"access denied",
	"not authorized",
}

// classifyExit maps an early exit of the capture command using its stderr.
func classifyExit(stderr string, err error) error {
	reason := util.ExtractLastError(stderr)
	if reason == "" && err != nil {
		reason = err.Error()
	}

	lower := strings.ToLower(stderr)
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", types.ErrPermissionDenied, reason)
		}
	}
	return fmt.Errorf("%w: %s", types.ErrDeviceUnavailable, reason)
}
