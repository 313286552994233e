package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteStub writes an executable /bin/sh script named name into dir and
// returns its path. The script body follows the shebang line verbatim.
func WriteStub(t testing.TB, dir, name, script string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}
