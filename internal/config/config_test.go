package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"

	"github.com/example/go-graphbridge/internal/fact"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return &fakeBinder{fs: fs}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GRAPHBRIDGE_ORT_LIB",
		"ORT_LIBRARY_PATH",
		"GRAPHBRIDGE_MODEL_PATH",
		"GRAPHBRIDGE_RUNTIME_BACKEND",
		"GRAPHBRIDGE_SERVER_WORKERS",
		"GRAPHBRIDGE_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graphbridge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model.Path != "models/model.onnx" {
		t.Errorf("Model.Path = %q; want models/model.onnx", cfg.Model.Path)
	}
	if !cfg.Model.Optimize {
		t.Error("Model.Optimize = false; want true")
	}
	if cfg.Runtime.Backend != BackendReference {
		t.Errorf("Runtime.Backend = %q; want %q", cfg.Runtime.Backend, BackendReference)
	}
	if cfg.Runtime.ORTAPIVersion != 23 {
		t.Errorf("Runtime.ORTAPIVersion = %d; want 23", cfg.Runtime.ORTAPIVersion)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q; want :8080", cfg.Server.ListenAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want info", cfg.LogLevel)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{Cmd: newFlagBinder(defaults), Defaults: defaults})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(defaults, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFlagOverride(t *testing.T) {
	clearEnv(t)
	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)

	for name, value := range map[string]string{
		"model":        "net.yaml",
		"optimize":     "false",
		"input-names":  "x,y",
		"fact":         "0=float32[1,3]",
		"backend":      "onnxruntime",
		"workers":      "8",
		"log-level":    "debug",
		"output-names": "z",
	} {
		if err := binder.fs.Set(name, value); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}

	cfg, err := Load(LoadOptions{Cmd: binder, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Path != "net.yaml" {
		t.Errorf("Model.Path = %q; want net.yaml", cfg.Model.Path)
	}
	if cfg.Model.Optimize {
		t.Error("Model.Optimize = true; want false")
	}
	if diff := cmp.Diff([]string{"x", "y"}, cfg.Model.InputNames); diff != "" {
		t.Errorf("InputNames mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"z"}, cfg.Model.OutputNames); diff != "" {
		t.Errorf("OutputNames mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"0": "float32[1,3]"}, cfg.Model.Facts); diff != "" {
		t.Errorf("Facts mismatch (-want +got):\n%s", diff)
	}
	if cfg.Runtime.Backend != BackendORT {
		t.Errorf("Runtime.Backend = %q; want %q", cfg.Runtime.Backend, BackendORT)
	}
	if cfg.Server.Workers != 8 {
		t.Errorf("Server.Workers = %d; want 8", cfg.Server.Workers)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want debug", cfg.LogLevel)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("GRAPHBRIDGE_MODEL_PATH", "/env/model.onnx")
	t.Setenv("GRAPHBRIDGE_SERVER_WORKERS", "5")
	t.Setenv("ORT_LIBRARY_PATH", "/opt/ort/libonnxruntime.so")
	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{Cmd: newFlagBinder(defaults), Defaults: defaults})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Path != "/env/model.onnx" {
		t.Errorf("Model.Path = %q; want /env/model.onnx", cfg.Model.Path)
	}
	if cfg.Server.Workers != 5 {
		t.Errorf("Server.Workers = %d; want 5", cfg.Server.Workers)
	}
	if cfg.Runtime.ORTLibraryPath != "/opt/ort/libonnxruntime.so" {
		t.Errorf("ORTLibraryPath = %q", cfg.Runtime.ORTLibraryPath)
	}
}

func TestLoadFlagBeatsEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GRAPHBRIDGE_MODEL_PATH", "/env/model.onnx")
	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)
	if err := binder.fs.Set("model", "/flag/model.onnx"); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(LoadOptions{Cmd: binder, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Path != "/flag/model.onnx" {
		t.Errorf("Model.Path = %q; want /flag/model.onnx", cfg.Model.Path)
	}
}

func TestLoadORTLibAlias(t *testing.T) {
	clearEnv(t)
	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)
	if err := binder.fs.Set("ort-lib", "/alias/libonnxruntime.so"); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(LoadOptions{Cmd: binder, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.ORTLibraryPath != "/alias/libonnxruntime.so" {
		t.Errorf("ORTLibraryPath = %q; want /alias/libonnxruntime.so", cfg.Runtime.ORTLibraryPath)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
model:
  path: file.onnx
  optimize: false
  facts:
    "0": "float32[n,3]"
runtime:
  backend: ort
server:
  workers: 3
log_level: warn
`)
	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{Cmd: newFlagBinder(defaults), ConfigFile: path, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Path != "file.onnx" {
		t.Errorf("Model.Path = %q; want file.onnx", cfg.Model.Path)
	}
	if cfg.Model.Optimize {
		t.Error("Model.Optimize = true; want false")
	}
	if got := cfg.Model.Facts["0"]; got != "float32[n,3]" {
		t.Errorf("Facts[0] = %q; want float32[n,3]", got)
	}
	if cfg.Runtime.Backend != BackendORT {
		t.Errorf("Runtime.Backend = %q; want ort", cfg.Runtime.Backend)
	}
	if cfg.Server.Workers != 3 {
		t.Errorf("Server.Workers = %d; want 3", cfg.Server.Workers)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q; want default :8080", cfg.Server.ListenAddr)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want warn", cfg.LogLevel)
	}
}

func TestLoadFlagBeatsConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "model:\n  path: file.onnx\n")
	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)
	if err := binder.fs.Set("model", "flag.onnx"); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(LoadOptions{Cmd: binder, ConfigFile: path, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Path != "flag.onnx" {
		t.Errorf("Model.Path = %q; want flag.onnx", cfg.Model.Path)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	defaults := DefaultConfig()

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml"), Defaults: defaults})
		if err == nil {
			t.Fatal("expected error for missing config file")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfig(t, "model: [unterminated\n")
		_, err := Load(LoadOptions{ConfigFile: path, Defaults: defaults})
		if err == nil {
			t.Fatal("expected error for invalid config file")
		}
	})

	t.Run("invalid backend", func(t *testing.T) {
		path := writeConfig(t, "runtime:\n  backend: tpu\n")
		_, err := Load(LoadOptions{ConfigFile: path, Defaults: defaults})
		if err == nil {
			t.Fatal("expected error for invalid backend")
		}
	})
}

func TestNormalizeBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: BackendReference},
		{in: "reference", want: BackendReference},
		{in: " Native ", want: BackendReference},
		{in: "ort", want: BackendORT},
		{in: "ONNXRuntime", want: BackendORT},
		{in: "cuda", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeBackend(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeBackend(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeBackend(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeBackend(%q) = %q; want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseFacts(t *testing.T) {
	got, err := ParseFacts(map[string]string{"0": "float32[n,3]", "2": "int32"})
	if err != nil {
		t.Fatalf("ParseFacts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d; want 2", len(got))
	}
	if s := got[0].String(); s != "float32[n,3]" {
		t.Errorf("fact 0 = %q; want float32[n,3]", s)
	}

	if _, err := ParseFacts(map[string]string{"x": "float32"}); err == nil {
		t.Error("expected error for non-index key")
	}
	if _, err := ParseFacts(map[string]string{"0": "complex7[1]"}); !errors.Is(err, fact.ErrInvalidDimensionSpec) {
		t.Errorf("err = %v; want ErrInvalidDimensionSpec", err)
	}
}

func TestLoadRepeatedFactFlag(t *testing.T) {
	clearEnv(t)
	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)
	for _, v := range []string{"0=float32[1,3,224,224]", "1 = int32[n]"} {
		if err := binder.fs.Set("fact", v); err != nil {
			t.Fatalf("set fact: %v", err)
		}
	}

	cfg, err := Load(LoadOptions{Cmd: binder, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := map[string]string{"0": "float32[1,3,224,224]", "1": "int32[n]"}
	if diff := cmp.Diff(want, cfg.Model.Facts); diff != "" {
		t.Errorf("Facts mismatch (-want +got):\n%s", diff)
	}

	bad := newFlagBinder(defaults)
	if err := bad.fs.Set("fact", "float32[1]"); err != nil {
		t.Fatalf("set fact: %v", err)
	}
	if _, err := Load(LoadOptions{Cmd: bad, Defaults: defaults}); err == nil {
		t.Error("expected error for --fact without index")
	}
}
