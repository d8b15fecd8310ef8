package ort

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/example/go-graphbridge/internal/config"
)

func resetRuntimeStateForTest() {
	bootOnce = sync.Once{}
	bootInfo = RuntimeInfo{}
	bootErr = nil
	closed.Store(false)
}

func fakeLib(t *testing.T, name string) string {
	t.Helper()
	lib := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(lib, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fake lib: %v", err)
	}
	return lib
}

func TestDetectRuntimePrefersGraphbridgeEnv(t *testing.T) {
	lib := fakeLib(t, "libonnxruntime.so")
	t.Setenv(LibraryEnv, lib)
	t.Setenv("ORT_LIBRARY_PATH", filepath.Join(t.TempDir(), "does-not-exist"))

	info, err := DetectRuntime(config.RuntimeConfig{})
	if err != nil {
		t.Fatalf("DetectRuntime failed: %v", err)
	}
	if info.LibraryPath != lib {
		t.Fatalf("expected %q, got %q", lib, info.LibraryPath)
	}
}

func TestDetectRuntimeConfigWins(t *testing.T) {
	lib := fakeLib(t, "libonnxruntime.so.1.22.0")
	t.Setenv(LibraryEnv, "")
	t.Setenv("ORT_VERSION", "")

	info, err := DetectRuntime(config.RuntimeConfig{ORTLibraryPath: lib})
	if err != nil {
		t.Fatalf("DetectRuntime failed: %v", err)
	}
	if info.Version != "1.22.0" {
		t.Fatalf("version = %q; want inferred 1.22.0", info.Version)
	}

	info, err = DetectRuntime(config.RuntimeConfig{ORTLibraryPath: lib, ORTVersion: "1.20.1"})
	if err != nil {
		t.Fatalf("DetectRuntime failed: %v", err)
	}
	if info.Version != "1.20.1" {
		t.Fatalf("version = %q; want configured 1.20.1", info.Version)
	}
}

func TestDetectRuntimeMissingPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.so")
	if _, err := DetectRuntime(config.RuntimeConfig{ORTLibraryPath: missing}); err == nil {
		t.Fatal("expected error for missing library")
	}
}

func TestBootstrapRunsOnce(t *testing.T) {
	resetRuntimeStateForTest()
	t.Cleanup(resetRuntimeStateForTest)
	t.Setenv(LibraryEnv, "")
	t.Setenv("ORT_VERSION", "")

	lib1 := fakeLib(t, "lib1.so")
	lib2 := fakeLib(t, "lib2.so")

	info1, err := Bootstrap(config.RuntimeConfig{ORTLibraryPath: lib1})
	if err != nil {
		t.Fatalf("first bootstrap failed: %v", err)
	}
	info2, err := Bootstrap(config.RuntimeConfig{ORTLibraryPath: lib2})
	if err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}

	if info1.LibraryPath != lib1 || info2.LibraryPath != lib1 {
		t.Fatalf("expected once semantics to keep %q, got %q then %q", lib1, info1.LibraryPath, info2.LibraryPath)
	}
	if !info2.Initialized {
		t.Fatal("bootstrap info should be initialized")
	}
	if info2.APIVersion != DefaultAPIVersion {
		t.Fatalf("APIVersion = %d; want default %d", info2.APIVersion, DefaultAPIVersion)
	}
	if got := os.Getenv(LibraryEnv); got != lib1 {
		t.Fatalf("%s = %q; want %q", LibraryEnv, got, lib1)
	}

	if err := Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if err := Shutdown(); err != nil {
		t.Fatalf("second shutdown failed: %v", err)
	}
}

func TestBootstrapKeepsError(t *testing.T) {
	resetRuntimeStateForTest()
	t.Cleanup(resetRuntimeStateForTest)

	missing := filepath.Join(t.TempDir(), "nope.so")
	if _, err := Bootstrap(config.RuntimeConfig{ORTLibraryPath: missing}); err == nil {
		t.Fatal("expected bootstrap error")
	}
	if _, err := Bootstrap(config.RuntimeConfig{ORTLibraryPath: fakeLib(t, "ok.so")}); err == nil {
		t.Fatal("bootstrap error should be sticky")
	}
}

func TestCheckAPIVersion(t *testing.T) {
	tests := []struct {
		version string
		api     uint32
		wantErr bool
	}{
		{"unknown", DefaultAPIVersion, false},
		{"1.23.0", DefaultAPIVersion, false},
		{"1.24.1", DefaultAPIVersion, false},
		{"v1.23.2", DefaultAPIVersion, false},
		{"1.22.0", DefaultAPIVersion, true},
		{"1.20.1", 18, false},
		{"2.0.0", DefaultAPIVersion, true},
		{"nightly", DefaultAPIVersion, true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := RuntimeInfo{Version: tt.version, APIVersion: tt.api}.CheckAPIVersion()
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedRuntime) {
					t.Fatalf("err = %v; want ErrUnsupportedRuntime", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDetectRuntimeReportsAPIVersion(t *testing.T) {
	lib := fakeLib(t, "libonnxruntime.so.1.22.0")
	t.Setenv("ORT_VERSION", "")

	info, err := DetectRuntime(config.RuntimeConfig{ORTLibraryPath: lib})
	if err != nil {
		t.Fatalf("DetectRuntime failed: %v", err)
	}
	if info.APIVersion != DefaultAPIVersion {
		t.Fatalf("APIVersion = %d; want %d", info.APIVersion, DefaultAPIVersion)
	}
	if err := info.CheckAPIVersion(); !errors.Is(err, ErrUnsupportedRuntime) {
		t.Fatalf("1.22.0 against API %d: err = %v", DefaultAPIVersion, err)
	}

	info, err = DetectRuntime(config.RuntimeConfig{ORTLibraryPath: lib, ORTAPIVersion: 20})
	if err != nil {
		t.Fatalf("DetectRuntime failed: %v", err)
	}
	if info.APIVersion != 20 {
		t.Fatalf("APIVersion = %d; want configured 20", info.APIVersion)
	}
	if err := info.CheckAPIVersion(); err != nil {
		t.Fatalf("1.22.0 against API 20: %v", err)
	}
}

func TestBootstrapRejectsOldRuntime(t *testing.T) {
	resetRuntimeStateForTest()
	t.Cleanup(resetRuntimeStateForTest)
	t.Setenv(LibraryEnv, "")

	lib := fakeLib(t, "libonnxruntime.so")
	_, err := Bootstrap(config.RuntimeConfig{ORTLibraryPath: lib, ORTVersion: "1.19.2"})
	if !errors.Is(err, ErrUnsupportedRuntime) {
		t.Fatalf("err = %v; want ErrUnsupportedRuntime", err)
	}
	if got := os.Getenv(LibraryEnv); got != "" {
		t.Fatalf("%s exported for a rejected runtime: %q", LibraryEnv, got)
	}
}
