//go:build windows

package ort

import (
	"context"
	"fmt"

	"github.com/example/go-graphbridge/internal/tensor"
)

// Runner is unavailable on windows builds.
type Runner struct {
	name string
}

// NewRunner always returns an error on windows builds.
func NewRunner(name, _ string, _ RunnerConfig) (*Runner, error) {
	return nil, fmt.Errorf("native onnx runner is unavailable on windows for model %q", name)
}

func (r *Runner) Run(_ context.Context, _ map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	return nil, fmt.Errorf("native onnx runner is unavailable on windows for model %q", r.name)
}

func (r *Runner) Close() {}

func (r *Runner) Name() string {
	return r.name
}
