package executor

import (
	"context"
	"errors"
	"fmt"
)

// Executor runs one module executable to completion.
type Executor interface {
	// Execute launches path with arg as its only argument and blocks until the
	// process exits. It returns nil on exit status 0 and an *ExecutionError
	// otherwise.
	Execute(ctx context.Context, path string, arg []byte) error
}

// ExecutorFunc adapts an ordinary function to the Executor interface.
type ExecutorFunc func(ctx context.Context, path string, arg []byte) error

// Execute calls f(ctx, path, arg).
func (f ExecutorFunc) Execute(ctx context.Context, path string, arg []byte) error {
	return f(ctx, path, arg)
}

// ExecutionError describes a task whose process could not be launched or
// exited with a non-zero status.
type ExecutionError struct {
	// Path is the executable that was run.
	Path string

	// Launch is true when the process never started (missing binary,
	// permission denied, invalid argument).
	Launch bool

	// ExitCode is the observed exit status. It is -1 when the process did not
	// start or was terminated by a signal.
	ExitCode int

	// Err is the underlying cause.
	Err error
}

func (e *ExecutionError) Error() string {
	if e.Launch {
		return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("execute %s: exit status %d: %v", e.Path, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("execute %s: exit status %d", e.Path, e.ExitCode)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsLaunchFailure reports whether err is an ExecutionError raised before the
// process started.
func IsLaunchFailure(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr) && execErr.Launch
}

// ExitCode extracts the exit status carried by err. ok is false when err is
// not an ExecutionError for a process that actually ran.
func ExitCode(err error) (code int, ok bool) {
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Launch {
		return 0, false
	}
	return execErr.ExitCode, true
}
