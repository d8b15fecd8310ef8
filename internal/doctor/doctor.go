// Package doctor provides environment preflight checks for graphbridge.
package doctor

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/example/go-graphbridge/internal/config"
	"github.com/example/go-graphbridge/internal/engine"
	"github.com/example/go-graphbridge/internal/fetch"
	"github.com/example/go-graphbridge/internal/graph"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// Backend is the configured execution backend name.
	Backend string
	// ORTVersion reports the detected ONNX Runtime version.
	ORTVersion VersionFunc
	// ORTAPIVersion is the C API version the runtime must provide.
	ORTAPIVersion uint32
	// SkipORT skips the runtime check (reference backend).
	SkipORT bool
	// ModelPath is the model locator. Empty skips the model checks.
	ModelPath string
	// Format overrides the format guessed from ModelPath.
	Format string
	// Fetcher retrieves the model bytes; nil means fetch.Auto{}.
	Fetcher fetch.Fetcher
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(w io.Writer, check string, err error) {
	r.failures = append(r.failures, fmt.Sprintf("%s: %v", check, err))
	fmt.Fprintf(w, "%s %s: %v\n", FailMark, check, err)
}

func pass(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "%s %s: %s\n", PassMark, check, detail)
}

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(ctx context.Context, cfg Config, w io.Writer) Result {
	var res Result

	// ---- backend ----------------------------------------------------------
	backend, err := config.NormalizeBackend(cfg.Backend)
	if err != nil {
		res.fail(w, "backend", err)
	} else {
		pass(w, "backend", backend)
	}

	// ---- ONNX Runtime -----------------------------------------------------
	switch {
	case cfg.SkipORT:
		pass(w, "onnx runtime", "skipped")
	case cfg.ORTVersion == nil:
		res.fail(w, "onnx runtime", fmt.Errorf("no detector configured"))
	default:
		ver, err := cfg.ORTVersion()
		if err != nil {
			res.fail(w, "onnx runtime", err)
		} else if ver == "" || ver == "unknown" {
			pass(w, "onnx runtime", "found (version unknown)")
		} else if verErr := checkORTVersion(ver, cfg.ORTAPIVersion); verErr != nil {
			res.fail(w, "onnx runtime "+ver, verErr)
		} else {
			pass(w, "onnx runtime", ver)
		}
	}

	// ---- model ------------------------------------------------------------
	if cfg.ModelPath == "" {
		pass(w, "model", "skipped (no path)")
		return res
	}
	g, err := readModel(ctx, cfg)
	if err != nil {
		res.fail(w, "model "+cfg.ModelPath, err)
		return res
	}
	pass(w, "model", fmt.Sprintf("%s (%s, %d nodes, %d inputs, %d outputs)",
		cfg.ModelPath, g.Format, len(g.Nodes), len(g.Inputs), len(g.Outputs)))

	if backend == config.BackendReference {
		if err := engine.NewReference().Check(g); err != nil {
			res.fail(w, "reference operators", err)
		} else {
			pass(w, "reference operators", "ok")
		}
	}

	return res
}

func readModel(ctx context.Context, cfg Config) (*graph.Graph, error) {
	var (
		format graph.Format
		err    error
	)
	if cfg.Format != "" {
		format, err = graph.ParseFormat(cfg.Format)
	} else {
		format, err = graph.FormatFromPath(cfg.ModelPath)
	}
	if err != nil {
		return nil, err
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = fetch.Auto{}
	}
	data, err := fetcher.Fetch(ctx, cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	return graph.Read(data, format)
}

// checkORTVersion returns an error unless ver is a 1.x release whose minor
// version provides C API apiVersion. ver is expected to look like "1.23.0".
func checkORTVersion(ver string, apiVersion uint32) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}
	if apiVersion > 0 && minor < int(apiVersion) {
		return fmt.Errorf("C API version %d requires ONNX Runtime >=1.%d, got 1.%d", apiVersion, apiVersion, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
