//go:build !unix

package executor

import "os/exec"

// killProcessGroup is a no-op where process groups are not available; only
// the direct child is killed.
func killProcessGroup(*exec.Cmd) {}
