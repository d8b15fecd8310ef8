package ort

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/example/go-graphbridge/internal/config"
)

// LibraryEnv names the process-wide ONNX Runtime library override.
const LibraryEnv = "GRAPHBRIDGE_ORT_LIB"

// ErrUnsupportedRuntime reports a library release that cannot serve the
// requested C API version.
var ErrUnsupportedRuntime = errors.New("unsupported onnx runtime")

// RuntimeInfo describes the ONNX Runtime library the ort backend binds to.
type RuntimeInfo struct {
	LibraryPath string
	// Version is the library release, "unknown" when neither the
	// configuration nor the file name carries it.
	Version string
	// APIVersion is the C API version sessions request from the library.
	APIVersion  uint32
	Initialized bool
}

// CheckAPIVersion reports whether the detected release provides APIVersion.
// ONNX Runtime 1.N ships C API version N. An unknown release passes and the
// mismatch, if any, surfaces when a runner binds the library.
func (i RuntimeInfo) CheckAPIVersion() error {
	if i.Version == "" || i.Version == "unknown" {
		return nil
	}
	m := releasePattern.FindStringSubmatch(i.Version)
	if m == nil {
		return fmt.Errorf("%w: cannot parse version %q", ErrUnsupportedRuntime, i.Version)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	if major != 1 {
		return fmt.Errorf("%w: need a 1.x release, found %s", ErrUnsupportedRuntime, i.Version)
	}
	if minor < int(i.APIVersion) {
		return fmt.Errorf("%w: C API version %d needs ONNX Runtime 1.%d or newer, found %s",
			ErrUnsupportedRuntime, i.APIVersion, i.APIVersion, i.Version)
	}
	return nil
}

var (
	fileVersionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)
	releasePattern     = regexp.MustCompile(`^v?([0-9]+)\.([0-9]+)`)
)

var libraryCandidates = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/opt/homebrew/lib/libonnxruntime.dylib",
	"C:/onnxruntime/lib/onnxruntime.dll",
}

var (
	bootOnce sync.Once
	bootInfo RuntimeInfo
	bootErr  error
	closed   atomic.Bool
)

// Bootstrap locates the ONNX Runtime library once per process, checks that
// its release serves the configured C API version and exports its path
// through LibraryEnv. Later calls return the first result regardless of cfg.
func Bootstrap(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	bootOnce.Do(func() {
		info, err := DetectRuntime(cfg)
		if err != nil {
			bootErr = err
			return
		}
		if err := info.CheckAPIVersion(); err != nil {
			bootErr = err
			return
		}
		if err := os.Setenv(LibraryEnv, info.LibraryPath); err != nil {
			bootErr = fmt.Errorf("set %s: %w", LibraryEnv, err)
			return
		}
		info.Initialized = true
		bootInfo = info
		closed.Store(false)
	})

	if bootErr != nil {
		return RuntimeInfo{}, bootErr
	}
	return bootInfo, nil
}

// Shutdown marks the bootstrapped runtime as released. It is safe to call
// more than once and without a prior Bootstrap.
func Shutdown() error {
	if !bootInfo.Initialized || closed.Swap(true) {
		return nil
	}
	bootInfo.Initialized = false
	return nil
}

// DetectRuntime resolves the library path from cfg, LibraryEnv,
// ORT_LIBRARY_PATH and the platform locations, in that order. The release
// comes from cfg, ORT_VERSION or the library file name.
func DetectRuntime(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	api := cfg.ORTAPIVersion
	if api == 0 {
		api = DefaultAPIVersion
	}

	path := firstNonEmpty(cfg.ORTLibraryPath, os.Getenv(LibraryEnv), os.Getenv("ORT_LIBRARY_PATH"))
	if path == "" {
		for _, c := range libraryCandidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}
	if path == "" {
		return RuntimeInfo{LibraryPath: "not found", Version: "unknown", APIVersion: api},
			errors.New("unable to detect ONNX Runtime library path")
	}
	if _, err := os.Stat(path); err != nil {
		return RuntimeInfo{LibraryPath: path, Version: "unknown", APIVersion: api},
			fmt.Errorf("onnx runtime library path check failed: %w", err)
	}

	version := firstNonEmpty(cfg.ORTVersion, os.Getenv("ORT_VERSION"), versionFromFile(path), "unknown")
	return RuntimeInfo{LibraryPath: path, Version: version, APIVersion: api}, nil
}

func versionFromFile(path string) string {
	if m := fileVersionPattern.FindStringSubmatch(filepath.Base(path)); len(m) == 2 {
		return m[1]
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
