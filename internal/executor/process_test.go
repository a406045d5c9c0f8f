package executor_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/xxfunc/internal/executor"
	"github.com/seantiz/xxfunc/internal/testutil"
)

func TestProcessSuccessEchoesArgument(t *testing.T) {
	script := testutil.WriteScript(t, "echo.sh", `echo "$1"`)
	var out bytes.Buffer
	p := &executor.Process{Stdout: &out}

	err := p.Execute(context.Background(), script, []byte(`{"kind":"chain_committed"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"chain_committed"}`, strings.TrimSpace(out.String()))
}

func TestProcessNonZeroExit(t *testing.T) {
	script := testutil.WriteScript(t, "fail.sh", "exit 1")
	p := &executor.Process{}

	err := p.Execute(context.Background(), script, []byte("{}"))
	require.Error(t, err)

	var execErr *executor.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.False(t, execErr.Launch)
	assert.Equal(t, 1, execErr.ExitCode)
	assert.Equal(t, script, execErr.Path)
	assert.False(t, executor.IsLaunchFailure(err))

	code, ok := executor.ExitCode(err)
	assert.True(t, ok)
	assert.Equal(t, 1, code)
}

func TestProcessExitStatusPreserved(t *testing.T) {
	script := testutil.WriteScript(t, "exit42.sh", "exit 42")
	err := (&executor.Process{}).Execute(context.Background(), script, nil)

	code, ok := executor.ExitCode(err)
	require.True(t, ok)
	assert.Equal(t, 42, code)
	assert.Contains(t, err.Error(), "exit status 42")
}

func TestProcessMissingBinary(t *testing.T) {
	path := testutil.MissingPath(t)
	err := (&executor.Process{}).Execute(context.Background(), path, []byte("{}"))

	require.Error(t, err)
	assert.True(t, executor.IsLaunchFailure(err))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, ok := executor.ExitCode(err)
	assert.False(t, ok)
}

func TestProcessPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores execute permission bits")
	}
	path := filepath.Join(t.TempDir(), "noexec.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o644))

	err := (&executor.Process{}).Execute(context.Background(), path, nil)
	assert.True(t, executor.IsLaunchFailure(err))
}

func TestProcessRejectsInvalidUTF8(t *testing.T) {
	script := testutil.WriteScript(t, "ok.sh", "exit 0")
	err := (&executor.Process{}).Execute(context.Background(), script, []byte{0xff, 0xfe})

	assert.True(t, executor.IsLaunchFailure(err))
}

func TestProcessTimeout(t *testing.T) {
	script := testutil.WriteScript(t, "slow.sh", "sleep 5")
	p := &executor.Process{Timeout: 100 * time.Millisecond}

	start := time.Now()
	err := p.Execute(context.Background(), script, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Contains(t, err.Error(), "timed out")
	assert.False(t, executor.IsLaunchFailure(err))
}

func TestProcessTimeoutKillsSpawnedChildren(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	script := testutil.WriteScript(t, "spawn.sh",
		fmt.Sprintf("(sleep 1; touch %q) &\nsleep 5", marker))

	// A buffer makes the child's stdout a pipe that the background job
	// keeps open.
	var out bytes.Buffer
	p := &executor.Process{Stdout: &out, Timeout: 100 * time.Millisecond}

	start := time.Now()
	err := p.Execute(context.Background(), script, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)

	time.Sleep(1500 * time.Millisecond)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "background job outlived the timeout")
}

func TestProcessEnv(t *testing.T) {
	script := testutil.WriteScript(t, "env.sh", `echo "$XXFUNC_TEST_VALUE"`)
	var out bytes.Buffer
	p := &executor.Process{Stdout: &out, Env: []string{"XXFUNC_TEST_VALUE=hello"}}

	require.NoError(t, p.Execute(context.Background(), script, nil))
	assert.Equal(t, "hello", strings.TrimSpace(out.String()))
}

func TestExecutorFunc(t *testing.T) {
	var gotPath string
	var gotArg []byte
	var e executor.Executor = executor.ExecutorFunc(func(_ context.Context, path string, arg []byte) error {
		gotPath, gotArg = path, arg
		return nil
	})

	require.NoError(t, e.Execute(context.Background(), "/bin/true", []byte("x")))
	assert.Equal(t, "/bin/true", gotPath)
	assert.Equal(t, []byte("x"), gotArg)
}

func TestExecutionErrorMessages(t *testing.T) {
	launch := &executor.ExecutionError{Path: "/m", Launch: true, ExitCode: -1, Err: errors.New("boom")}
	assert.Equal(t, "launch /m: boom", launch.Error())

	exit := &executor.ExecutionError{Path: "/m", ExitCode: 3}
	assert.Equal(t, "execute /m: exit status 3", exit.Error())
}
