package doctor_test

import (
	"context"
	"strings"
	"testing"

	"github.com/example/go-graphbridge/internal/doctor"
	"github.com/example/go-graphbridge/internal/testutil"
)

const reluModel = `
inputs:
  - name: x
    fact: "float32[n]"
nodes:
  - op: Relu
    inputs: [x]
    outputs: [y]
`

const convModel = `
inputs:
  - name: x
    fact: "float32[1,1,4,4]"
nodes:
  - op: Conv
    inputs: [x]
    outputs: [y]
`

func run(t *testing.T, cfg doctor.Config) (doctor.Result, string) {
	t.Helper()
	var out strings.Builder
	res := doctor.Run(context.Background(), cfg, &out)
	return res, out.String()
}

// ---------------------------------------------------------------------------
// all-pass scenarios
// ---------------------------------------------------------------------------

func TestRun_ReferenceBackendWithModel(t *testing.T) {
	res, out := run(t, doctor.Config{
		Backend:   "reference",
		SkipORT:   true,
		ModelPath: testutil.WriteFile(t, "relu.yaml", reluModel),
	})
	if res.Failed() {
		t.Fatalf("expected all checks to pass; failures: %v", res.Failures())
	}
	for _, want := range []string{"backend: reference", "onnx runtime: skipped", "(yaml, 1 nodes, 1 inputs, 1 outputs)", "reference operators: ok"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_ORTVersionInRange(t *testing.T) {
	for _, ver := range []string{"1.23.0", "1.24.1", "unknown"} {
		t.Run(ver, func(t *testing.T) {
			res, _ := run(t, doctor.Config{
				Backend:       "ort",
				ORTVersion:    func() (string, error) { return ver, nil },
				ORTAPIVersion: 23,
			})
			if res.Failed() {
				t.Errorf("ONNX Runtime %s should pass but got failures: %v", ver, res.Failures())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// failures
// ---------------------------------------------------------------------------

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name string
		cfg  doctor.Config
		want string
	}{
		{
			name: "invalid backend",
			cfg:  doctor.Config{Backend: "tpu", SkipORT: true},
			want: "backend",
		},
		{
			name: "runtime missing",
			cfg: doctor.Config{
				Backend:    "ort",
				ORTVersion: func() (string, error) { return "", errNotFound },
			},
			want: "onnx runtime",
		},
		{
			name: "runtime too old",
			cfg: doctor.Config{
				Backend:       "ort",
				ORTVersion:    func() (string, error) { return "1.16.3", nil },
				ORTAPIVersion: 23,
			},
			want: "1.16",
		},
		{
			name: "runtime major",
			cfg: doctor.Config{
				Backend:    "ort",
				ORTVersion: func() (string, error) { return "2.0.0", nil },
			},
			want: "1.x",
		},
		{
			name: "no detector",
			cfg:  doctor.Config{Backend: "ort"},
			want: "onnx runtime",
		},
		{
			name: "missing model",
			cfg:  doctor.Config{SkipORT: true, ModelPath: "/nonexistent/model.onnx"},
			want: "not found",
		},
		{
			name: "unknown extension",
			cfg:  doctor.Config{SkipORT: true, ModelPath: "/nonexistent/model.bin"},
			want: "format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, out := run(t, tt.cfg)
			if !res.Failed() {
				t.Fatalf("expected failure; output:\n%s", out)
			}
			if !hasFailureContaining(res.Failures(), tt.want) {
				t.Errorf("expected failure mentioning %q, got: %v", tt.want, res.Failures())
			}
		})
	}
}

func TestRun_UnsupportedReferenceOperator(t *testing.T) {
	res, _ := run(t, doctor.Config{SkipORT: true, ModelPath: testutil.WriteFile(t, "conv.yaml", convModel)})
	if !hasFailureContaining(res.Failures(), "Conv") {
		t.Fatalf("expected failure naming Conv, got: %v", res.Failures())
	}
}

func TestRun_ORTBackendSkipsOperatorCheck(t *testing.T) {
	res, out := run(t, doctor.Config{
		Backend:    "ort",
		ORTVersion: func() (string, error) { return "1.23.2", nil },
		ModelPath:  testutil.WriteFile(t, "conv.yaml", convModel),
	})
	if res.Failed() {
		t.Fatalf("ort backend should not check reference operators: %v", res.Failures())
	}
	if strings.Contains(out, "reference operators") {
		t.Errorf("unexpected operator check:\n%s", out)
	}
}

func TestRun_FormatOverride(t *testing.T) {
	path := testutil.WriteFile(t, "model.txt", reluModel)
	res, _ := run(t, doctor.Config{SkipORT: true, ModelPath: path, Format: "yaml"})
	if res.Failed() {
		t.Fatalf("format override should allow any extension: %v", res.Failures())
	}
}

func TestRun_OutputContainsPassAndFailMarkers(t *testing.T) {
	_, body := run(t, doctor.Config{
		Backend:    "ort",
		ORTVersion: func() (string, error) { return "", errNotFound },
	})
	if !strings.Contains(body, doctor.PassMark) {
		t.Errorf("output missing pass marker %q:\n%s", doctor.PassMark, body)
	}
	if !strings.Contains(body, doctor.FailMark) {
		t.Errorf("output missing fail marker %q:\n%s", doctor.FailMark, body)
	}
}

func TestResult_AddFailure(t *testing.T) {
	var res doctor.Result
	res.AddFailure("config: unreadable")
	got := res.Failures()
	got[0] = "mutated"
	if !res.Failed() || res.Failures()[0] != "config: unreadable" {
		t.Fatalf("Failures must return a copy, got %v", res.Failures())
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

var errNotFound = sentinelError("library not found")

func hasFailureContaining(failures []string, substr string) bool {
	substr = strings.ToLower(substr)
	for _, f := range failures {
		if strings.Contains(strings.ToLower(f), substr) {
			return true
		}
	}
	return false
}
