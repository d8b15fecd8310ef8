// Package testutil provides shared fixtures and skip helpers for tests.
//
// Skip helpers call tb.Skipf with a human-readable reason when the named
// prerequisite is absent, so ONNX Runtime tests stay runnable in partial
// environments.
//
// Typical usage:
//
//	func TestOnRuntime(t *testing.T) {
//	    lib := testutil.RequireONNXRuntime(t)
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// ORTEnvVars are checked in order for an ONNX Runtime library path.
var ORTEnvVars = []string{"GRAPHBRIDGE_ORT_LIB", "ORT_LIBRARY_PATH"}

var ortCandidates = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	"/opt/homebrew/lib/libonnxruntime.dylib",
}

// RequireONNXRuntime returns the ONNX Runtime shared library path, or skips
// the test when none can be found. An env var that is set but points at a
// missing file skips rather than falling through to system locations.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range ORTEnvVars {
		if p := os.Getenv(env); p != "" {
			if _, err := os.Stat(p); err == nil {
				return p
			}
			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
			return ""
		}
	}
	for _, p := range ortCandidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skipf("ONNX Runtime shared library not found; set %s", ORTEnvVars[0])
	return ""
}

// WriteFile writes body to name inside a fresh temp dir and returns the path.
func WriteFile(tb testing.TB, name, body string) string {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		tb.Fatalf("write %s: %v", name, err)
	}
	return path
}
