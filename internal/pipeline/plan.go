package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/example/go-graphbridge/internal/engine"
	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/graph"
	"github.com/example/go-graphbridge/internal/tensor"
)

type PlanKind string

const (
	PlanPreInference PlanKind = "pre-inference"
	PlanOptimized    PlanKind = "optimized"
)

// Signature describes one plan input or output.
type Signature struct {
	Name string
	Fact fact.ShapeFact
}

// Plan is an immutable executable artifact. Run is safe for concurrent use.
// The two implementations are preInferencePlan and optimizedPlan.
type Plan interface {
	Kind() PlanKind
	Inputs() []Signature
	Outputs() []Signature
	Run(ctx context.Context, inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
	Close() error
	plan()
}

// base holds what both plans share: the graph they were built from, the
// prepared program and the boundary signature.
type base struct {
	backend engine.Backend
	graph   *graph.Graph
	program engine.Program
	inputs  []Signature
	outputs []Signature
	logger  *slog.Logger
}

func (b *base) plan() {}

func (b *base) Inputs() []Signature  { return slices.Clone(b.inputs) }
func (b *base) Outputs() []Signature { return slices.Clone(b.outputs) }

func (b *base) Close() error {
	return b.program.Close()
}

// check validates inputs against the input signature and returns the
// symbol bindings they establish.
func (b *base) check(inputs []*tensor.Tensor) (map[rune]int64, error) {
	if len(inputs) != len(b.inputs) {
		return nil, fmt.Errorf("%w: plan takes %d inputs, got %d", ErrArityMismatch, len(b.inputs), len(inputs))
	}
	bindings := map[rune]int64{}
	for i, t := range inputs {
		if t == nil {
			return nil, fmt.Errorf("input %d (%s): %w: nil tensor", i, b.inputs[i].Name, tensor.ErrShapeMismatch)
		}
		if err := b.inputs[i].Fact.Check(t.Kind(), t.Shape(), bindings); err != nil {
			return nil, fmt.Errorf("input %d (%s): %w", i, b.inputs[i].Name, err)
		}
	}
	return bindings, nil
}

func (b *base) execute(ctx context.Context, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	out, err := b.program.Run(ctx, inputs)
	if err != nil {
		return nil, b.engineError(ctx, "run", err)
	}
	return out, nil
}

func (b *base) engineError(ctx context.Context, stage string, err error) error {
	return wrapEngine(ctx, b.backend, stage, err)
}

// wrapEngine wraps err in an EngineError unless it is the caller's own
// cancellation.
func wrapEngine(ctx context.Context, backend engine.Backend, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return &EngineError{Backend: backend.Name(), Stage: stage, Err: err}
}

// preInferencePlan runs shape inference on every call with the concrete
// facts of the inputs it was given.
type preInferencePlan struct {
	base
}

func (p *preInferencePlan) Kind() PlanKind { return PlanPreInference }

func (p *preInferencePlan) Run(ctx context.Context, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if _, err := p.check(inputs); err != nil {
		return nil, err
	}

	concrete := make([]fact.ShapeFact, len(inputs))
	for i, t := range inputs {
		concrete[i] = fact.Concrete(t.Kind(), t.Shape())
	}
	facts, err := p.backend.Infer(p.graph, concrete)
	if err != nil {
		return nil, p.engineError(ctx, "infer", err)
	}

	out, err := p.execute(ctx, inputs)
	if err != nil {
		return nil, err
	}

	bindings := map[rune]int64{}
	for i, t := range out {
		name := p.outputs[i].Name
		if err := facts[name].Check(t.Kind(), t.Shape(), bindings); err != nil {
			return nil, p.engineError(ctx, "run", fmt.Errorf("output %q contradicts inferred %s: %w", name, facts[name], err))
		}
	}
	p.logger.Debug("pre-inference run", "inputs", len(inputs), "outputs", len(out))
	return out, nil
}

// optimizedPlan runs a graph whose facts were all resolved up front.
type optimizedPlan struct {
	base
}

func (p *optimizedPlan) Kind() PlanKind { return PlanOptimized }

func (p *optimizedPlan) Run(ctx context.Context, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if _, err := p.check(inputs); err != nil {
		return nil, err
	}
	return p.execute(ctx, inputs)
}

var (
	_ Plan = (*preInferencePlan)(nil)
	_ Plan = (*optimizedPlan)(nil)
)
