//go:build js && wasm

package ort

import (
	"context"
	"fmt"

	"github.com/example/go-graphbridge/internal/tensor"
)

// Runner is unavailable in js/wasm builds.
type Runner struct {
	name string
}

// NewRunner always returns an error in js/wasm builds.
func NewRunner(name, _ string, _ RunnerConfig) (*Runner, error) {
	return nil, fmt.Errorf("native onnx runner is unavailable in js/wasm for model %q", name)
}

func (r *Runner) Run(_ context.Context, _ map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	return nil, fmt.Errorf("native onnx runner is unavailable in js/wasm for model %q", r.name)
}

func (r *Runner) Close() {}

func (r *Runner) Name() string {
	return r.name
}
