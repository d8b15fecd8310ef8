// Package bridge is the host-facing surface: it opens a model in one call
// and runs it on host numeric arrays.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/example/go-graphbridge/internal/engine"
	"github.com/example/go-graphbridge/internal/fetch"
	"github.com/example/go-graphbridge/internal/graph"
	"github.com/example/go-graphbridge/internal/pipeline"
	"github.com/example/go-graphbridge/internal/tensor"
)

// Options describes where a model comes from and how to configure it.
// Data wins over Locator when both are set.
type Options struct {
	Locator string
	Data    []byte
	Fetcher fetch.Fetcher
	Config  pipeline.Config
	Backend engine.Backend
	Logger  *slog.Logger
}

// HostInput is one input array with its shape.
type HostInput struct {
	Data  tensor.HostArray
	Shape []int
}

// HostOutput is one output array, named after the graph value it holds.
type HostOutput struct {
	Name  string
	Data  tensor.HostArray
	Shape []int
}

// Model is an opened, resolved model. Run is safe for concurrent use.
type Model struct {
	plan     pipeline.Plan
	metadata map[string]string
	logger   *slog.Logger
	pipe     *pipeline.Pipeline
}

// Open fetches, loads, configures and resolves a model.
func Open(ctx context.Context, opts Options) (*Model, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pipeOpts := []pipeline.Option{pipeline.WithLogger(logger), pipeline.WithBackend(opts.Backend)}

	var (
		p   *pipeline.Pipeline
		err error
	)
	switch {
	case opts.Data != nil:
		format := opts.Config.Format
		if format == "" {
			if format, err = graph.FormatFromPath(opts.Locator); err != nil {
				return nil, err
			}
		}
		p, err = pipeline.Load(ctx, opts.Data, format, pipeOpts...)
	case opts.Locator != "":
		fetcher := opts.Fetcher
		if fetcher == nil {
			fetcher = fetch.Auto{}
		}
		p, err = pipeline.LoadFrom(ctx, fetcher, opts.Locator, opts.Config.Format, pipeOpts...)
	default:
		return nil, errors.New("open model: no data or locator given")
	}
	if err != nil {
		return nil, err
	}

	plan, err := p.Apply(ctx, opts.Config)
	if err != nil {
		return nil, err
	}
	return &Model{plan: plan, metadata: p.Metadata(), logger: logger, pipe: p}, nil
}

// Run converts inputs to tensors, runs the plan and converts the outputs
// back to host arrays.
func (m *Model) Run(ctx context.Context, inputs []HostInput) ([]HostOutput, error) {
	ts := make([]*tensor.Tensor, len(inputs))
	for i, in := range inputs {
		t, err := tensor.FromHost(in.Data, in.Shape)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		ts[i] = t
	}

	outs, err := m.plan.Run(ctx, ts)
	if err != nil {
		return nil, err
	}

	sigs := m.plan.Outputs()
	result := make([]HostOutput, len(outs))
	for i, t := range outs {
		arr, err := tensor.ToHost(t)
		if err != nil {
			return nil, fmt.Errorf("output %d (%s): %w", i, sigs[i].Name, err)
		}
		result[i] = HostOutput{Name: sigs[i].Name, Data: arr, Shape: t.Shape()}
	}
	return result, nil
}

// Metadata returns a copy of the model's metadata.
func (m *Model) Metadata() map[string]string {
	return maps.Clone(m.metadata)
}

func (m *Model) Inputs() []pipeline.Signature  { return m.plan.Inputs() }
func (m *Model) Outputs() []pipeline.Signature { return m.plan.Outputs() }

func (m *Model) PlanKind() pipeline.PlanKind { return m.plan.Kind() }

// InputNames returns the names of the plan inputs, in order.
func (m *Model) InputNames() []string {
	return names(m.plan.Inputs())
}

func (m *Model) OutputNames() []string {
	return names(m.plan.Outputs())
}

func names(sigs []pipeline.Signature) []string {
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = s.Name
	}
	return slices.Clip(out)
}

func (m *Model) Close() error {
	return m.pipe.Close()
}
