package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
	"unicode/utf8"
)

// Compile-time interface satisfaction check.
var _ Executor = (*Process)(nil)

// waitDelay bounds how long Wait keeps draining output after the child was
// killed.
const waitDelay = time.Second

// Process runs modules as host child processes. The zero value is ready to
// use: the child inherits the parent's stdout and stderr and runs without a
// timeout.
type Process struct {
	// Stdout and Stderr receive the child's output. Nil means the parent's
	// own stdout/stderr.
	Stdout io.Writer
	Stderr io.Writer

	// Env is appended to the parent's environment.
	Env []string

	// Timeout kills the child and everything it spawned once exceeded. Zero
	// disables it.
	Timeout time.Duration
}

// Execute launches path with arg as its sole argument and waits for it.
func (p *Process) Execute(ctx context.Context, path string, arg []byte) error {
	if !utf8.Valid(arg) {
		return &ExecutionError{Path: path, Launch: true, ExitCode: -1, Err: errors.New("argument is not valid UTF-8")}
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, string(arg))
	cmd.Stdout = p.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = p.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return &ExecutionError{Path: path, Launch: true, ExitCode: -1, Err: err}
	}

	waitErr := cmd.Wait()
	if waitErr == nil {
		return nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return &ExecutionError{Path: path, ExitCode: -1, Err: fmt.Errorf("timed out after %s", p.Timeout)}
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return &ExecutionError{Path: path, ExitCode: exitErr.ExitCode()}
	}
	return &ExecutionError{Path: path, ExitCode: -1, Err: waitErr}
}
