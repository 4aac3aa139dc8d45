// Package runner executes one external process to completion on behalf of a
// job. It streams output into the job's log artifact as it is produced,
// enforces the context deadline by killing the whole process group, and
// reports tool failure (non-zero exit) as a normal result rather than an error.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/strandlabs/strand/internal/spec"
)

// maxCaptureBytes bounds the stdout/stderr captured in a Result. The full
// stream still lands in the log file.
const maxCaptureBytes = 1 << 20

// killWaitDelay is how long Wait allows output pipes to drain after the
// process group has been killed.
const killWaitDelay = 5 * time.Second

// ErrStartFailed marks engine-internal faults: the process could not even be
// spawned. Callers use it to separate "the tool failed" from "the engine
// could not start the tool".
var ErrStartFailed = errors.New("process start failed")

// Result holds the outcome of a process that ran to completion, including
// non-zero exits.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes one job's external process synchronously.
// A nil error with a non-zero ExitCode means the tool itself failed.
// Errors are either ErrStartFailed or the context's error on timeout/cancel.
type Runner interface {
	Run(ctx context.Context, desc *spec.ExecDescription, logw io.Writer) (*Result, error)
}

// Exec is the Runner backed by os/exec.
type Exec struct{}

// NewExec creates a process runner.
func NewExec() *Exec {
	return &Exec{}
}

// Run executes the described command with its working directory set,
// multi-writing stdout and stderr to logw and to bounded capture buffers.
// On deadline expiry the process group is killed and the context error is
// returned.
func (e *Exec) Run(ctx context.Context, desc *spec.ExecDescription, logw io.Writer) (*Result, error) {
	if len(desc.Argv) == 0 {
		return nil, fmt.Errorf("%w: empty command line", ErrStartFailed)
	}

	cmd := exec.CommandContext(ctx, desc.Argv[0], desc.Argv[1:]...)
	cmd.Dir = desc.WorkDir

	// Run the child in its own process group so that timeout kills reach
	// any descendants it spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killWaitDelay

	log := &syncWriter{w: logw}
	stdout := &capBuffer{limit: maxCaptureBytes}
	stderr := &capBuffer{limit: maxCaptureBytes}
	cmd.Stdout = io.MultiWriter(stdout, log)
	cmd.Stderr = io.MultiWriter(stderr, log)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	err := cmd.Wait()
	duration := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	return result, nil
}

// syncWriter serializes the stdout and stderr streams onto one log writer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// capBuffer accumulates writes up to a byte limit, discarding the excess.
// Write never reports an error so the sibling log writer keeps receiving
// the full stream.
type capBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (c *capBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remaining := c.limit - len(c.buf); remaining > 0 {
		if len(p) > remaining {
			c.buf = append(c.buf, p[:remaining]...)
		} else {
			c.buf = append(c.buf, p...)
		}
	}
	return len(p), nil
}

func (c *capBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}
