// Package ort runs graphs on ONNX Runtime through its C API, loaded at run
// time without cgo.
package ort

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/example/go-graphbridge/internal/engine"
	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/graph"
	"github.com/example/go-graphbridge/internal/tensor"
)

const (
	Name              = "ort"
	DefaultAPIVersion = 23
)

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// Backend delegates execution to ONNX Runtime. It does no rewriting of its
// own: Infer and Optimize work from the facts the model declares.
type Backend struct {
	cfg    RunnerConfig
	logger *slog.Logger

	// declared caches the graph as read from its source bytes, before any
	// facts were applied, keyed by the graph handed to the backend.
	declared sync.Map
}

func NewBackend(cfg RunnerConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{cfg: cfg, logger: logger}
}

func (b *Backend) Name() string { return Name }

// Infer binds the symbols of the declared input facts against inputs and
// substitutes them into every declared fact.
func (b *Backend) Infer(g *graph.Graph, inputs []fact.ShapeFact) (map[string]fact.ShapeFact, error) {
	if len(inputs) != len(g.Inputs) {
		return nil, fmt.Errorf("%w: %d input facts for %d inputs", graph.ErrInvalidGraph, len(inputs), len(g.Inputs))
	}

	decl := b.declaredGraph(g)
	bindings := map[rune]int64{}
	out := make(map[string]fact.ShapeFact, len(g.Values)+len(g.Outputs))

	for i, name := range g.Inputs {
		f, err := g.Fact(name).Unify(inputs[i])
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		out[name] = f

		shape, ok := f.Shape()
		if !ok {
			continue
		}
		kind, ok := f.DType()
		if !ok {
			kind, _ = decl.Fact(name).DType()
		}
		if err := decl.Fact(name).Check(kind, shape, bindings); err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
	}

	for name, f := range g.Values {
		if _, done := out[name]; !done {
			out[name] = f.Substitute(bindings)
		}
	}
	for name, f := range decl.Values {
		if cur, ok := out[name]; ok && !cur.HasUnresolvedSymbols() {
			continue
		}
		if resolved := f.Substitute(bindings); !resolved.HasUnresolvedSymbols() {
			if merged, err := out[name].Unify(resolved); err == nil {
				out[name] = merged
			}
		}
	}
	for _, name := range g.Outputs {
		if _, ok := out[name]; !ok {
			out[name] = fact.ShapeFact{}
		}
	}
	return out, nil
}

// Optimize requires concrete input facts and declared outputs that become
// concrete once the input symbols are bound.
func (b *Backend) Optimize(ctx context.Context, g *graph.Graph) (*graph.Graph, error) {
	inputs := make([]fact.ShapeFact, len(g.Inputs))
	for i, name := range g.Inputs {
		f := g.Values[name]
		if !f.IsConcrete() {
			return nil, fmt.Errorf("%w: input %q is %s", engine.ErrUndetermined, name, f)
		}
		inputs[i] = f
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	facts, err := b.Infer(g, inputs)
	if err != nil {
		return nil, err
	}

	out := g.Clone()
	out.Values = make(map[string]fact.ShapeFact, len(g.Inputs)+len(g.Outputs))
	for _, name := range slices.Concat(g.Inputs, g.Outputs) {
		f := facts[name]
		if !f.IsConcrete() {
			return nil, fmt.Errorf("%w: %q is %s", engine.ErrUndetermined, name, f)
		}
		out.Values[name] = f
	}
	b.declared.Store(out, b.declaredGraph(g))
	return out, nil
}

// Prepare hands the model to ONNX Runtime. The original ONNX bytes are used
// when the graph still has its declared inputs and outputs; otherwise the
// needed subgraph is re-encoded.
func (b *Backend) Prepare(g *graph.Graph) (engine.Program, error) {
	data, err := b.modelBytes(g)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp("", "graphbridge-*.onnx")
	if err != nil {
		return nil, fmt.Errorf("create model file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("write model file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write model file: %w", err)
	}

	name := g.Name
	if name == "" {
		name = "model"
	}
	runner, err := NewRunner(name, path, b.cfg)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("ort session ready", "model", name, "bytes", len(data))

	return &program{
		runner:  runner,
		inputs:  slices.Clone(g.Inputs),
		outputs: slices.Clone(g.Outputs),
	}, nil
}

func (b *Backend) modelBytes(g *graph.Graph) ([]byte, error) {
	decl := b.declaredGraph(g)
	if g.Format == graph.FormatONNX && len(g.Source) > 0 &&
		slices.Equal(decl.Inputs, g.Inputs) && slices.Equal(decl.Outputs, g.Outputs) {
		return g.Source, nil
	}

	order, err := g.Schedule()
	if err != nil {
		return nil, err
	}
	needed := g.Clone()
	needed.Nodes = needed.Nodes[:0]
	for _, idx := range order {
		needed.Nodes = append(needed.Nodes, g.Nodes[idx])
	}
	return graph.EncodeONNX(needed)
}

// declaredGraph returns g as its source declared it. Graphs without source
// bytes are their own declaration.
func (b *Backend) declaredGraph(g *graph.Graph) *graph.Graph {
	if cached, ok := b.declared.Load(g); ok {
		return cached.(*graph.Graph)
	}
	decl := g
	if len(g.Source) > 0 {
		if parsed, err := graph.Read(g.Source, g.Format); err == nil {
			decl = parsed
		} else {
			b.logger.Warn("re-reading model source failed", "error", err)
		}
	}
	b.declared.Store(g, decl)
	return decl
}

type program struct {
	runner  *Runner
	inputs  []string
	outputs []string
}

func (p *program) Run(ctx context.Context, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != len(p.inputs) {
		return nil, fmt.Errorf("program expects %d inputs, got %d", len(p.inputs), len(inputs))
	}
	named := make(map[string]*tensor.Tensor, len(inputs))
	for i, name := range p.inputs {
		named[name] = inputs[i]
	}

	results, err := p.runner.Run(ctx, named)
	if err != nil {
		return nil, err
	}

	out := make([]*tensor.Tensor, len(p.outputs))
	for i, name := range p.outputs {
		t, ok := results[name]
		if !ok {
			return nil, fmt.Errorf("onnxruntime did not return output %q", name)
		}
		out[i] = t
	}
	return out, nil
}

func (p *program) Close() error {
	p.runner.Close()
	return nil
}

var _ engine.Backend = (*Backend)(nil)
