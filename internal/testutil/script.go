// Package testutil holds helpers shared by package tests that need real
// module executables.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteScript writes an executable /bin/sh script with the given body into a
// fresh temporary directory and returns its path.
func WriteScript(t testing.TB, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write script %s: %v", name, err)
	}
	return path
}

// MissingPath returns a path inside a temporary directory that does not exist.
func MissingPath(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "does-not-exist")
}
