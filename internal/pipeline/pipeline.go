// Package pipeline drives a model from raw bytes to a runnable plan:
// Load, then Configure, then Resolve, then Run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/example/go-graphbridge/internal/engine"
	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/fetch"
	"github.com/example/go-graphbridge/internal/graph"
	"github.com/example/go-graphbridge/internal/tensor"
)

type State int

const (
	StateNone State = iota
	StateLoaded
	StateConfigured
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateConfigured:
		return "configured"
	case StateResolved:
		return "resolved"
	default:
		return "none"
	}
}

// Config is everything Configure and Resolve need, gathered in one place
// for callers that build a pipeline in a single step.
type Config struct {
	Format      graph.Format
	InputFacts  map[int]fact.ShapeFact
	InputNames  []string
	OutputNames []string
	Optimize    bool
}

// Pipeline owns a graph while it is configured and resolved. It is not
// safe for concurrent use; the Plan it produces is.
type Pipeline struct {
	state    State
	graph    *graph.Graph
	metadata map[string]string
	plan     Plan

	outputsNamed bool

	backend engine.Backend
	logger  *slog.Logger
}

type Option func(*Pipeline)

// WithBackend selects the engine. The default is the reference engine.
func WithBackend(b engine.Backend) Option {
	return func(p *Pipeline) {
		if b != nil {
			p.backend = b
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Load reads model bytes in the given format.
func Load(ctx context.Context, data []byte, format graph.Format, opts ...Option) (*Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := &Pipeline{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.backend == nil {
		p.backend = engine.NewReference(engine.WithLogger(p.logger))
	}

	g, err := graph.Read(data, format)
	if err != nil {
		return nil, fmt.Errorf("load %s model: %w", format, err)
	}

	p.graph = g
	p.metadata = maps.Clone(g.Metadata)
	if p.metadata == nil {
		p.metadata = map[string]string{}
	}
	p.state = StateLoaded

	p.logger.Info("model loaded",
		"format", string(format),
		"name", g.Name,
		"nodes", len(g.Nodes),
		"inputs", len(g.Inputs),
		"outputs", len(g.Outputs),
		"backend", p.backend.Name(),
	)
	return p, nil
}

// LoadFrom retrieves the model through f and loads it. An empty format is
// derived from the locator's extension. Cancelling ctx abandons the
// retrieval and yields no pipeline.
func LoadFrom(ctx context.Context, f fetch.Fetcher, locator string, format graph.Format, opts ...Option) (*Pipeline, error) {
	if format == "" {
		detected, err := graph.FormatFromPath(locator)
		if err != nil {
			return nil, err
		}
		format = detected
	}

	data, err := f.Fetch(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", locator, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Load(ctx, data, format, opts...)
}

func (p *Pipeline) State() State { return p.state }

// Metadata returns a copy of the metadata captured at load.
func (p *Pipeline) Metadata() map[string]string {
	return maps.Clone(p.metadata)
}

// Graph returns a copy of the graph in its current configuration.
func (p *Pipeline) Graph() (*graph.Graph, error) {
	if p.state == StateNone {
		return nil, fmt.Errorf("%w: no model loaded", ErrInvalidState)
	}
	return p.graph.Clone(), nil
}

// Configure applies input facts by input index and selects inputs and
// outputs by name. Names are applied first, so indices refer to the
// selected order. On failure the pipeline is left as it was.
func (p *Pipeline) Configure(facts map[int]fact.ShapeFact, inputNames, outputNames []string) error {
	if p.state != StateLoaded {
		return fmt.Errorf("%w: configure requires a loaded pipeline, state is %s", ErrInvalidState, p.state)
	}

	g := p.graph.Clone()
	if len(inputNames) > 0 {
		if err := g.SelectInputs(inputNames); err != nil {
			return err
		}
	}
	if len(outputNames) > 0 {
		if err := g.SelectOutputs(outputNames); err != nil {
			return err
		}
	}

	for idx, f := range facts {
		if idx < 0 || idx >= len(g.Inputs) {
			return fmt.Errorf("%w: fact for input %d, graph has %d inputs", ErrIndexOutOfRange, idx, len(g.Inputs))
		}
		name := g.Inputs[idx]
		merged, err := g.Fact(name).Unify(f)
		if err != nil {
			return fmt.Errorf("input %d (%s): %w", idx, name, err)
		}
		g.Values[name] = merged
	}

	p.graph = g
	p.outputsNamed = len(outputNames) > 0
	p.state = StateConfigured
	p.logger.Debug("pipeline configured", "facts", len(facts), "inputs", g.Inputs, "outputs", g.Outputs)
	return nil
}

// Apply runs Configure and Resolve with cfg.
func (p *Pipeline) Apply(ctx context.Context, cfg Config) (Plan, error) {
	if err := p.Configure(cfg.InputFacts, cfg.InputNames, cfg.OutputNames); err != nil {
		return nil, err
	}
	return p.Resolve(ctx, cfg.Optimize)
}

// Resolve produces the plan. With optimize the engine rewrites the graph
// once and every input fact must be free of symbols; without it, shape
// inference runs inside every Run. Without configured output names the plan
// exposes the graph's terminal outputs.
func (p *Pipeline) Resolve(ctx context.Context, optimize bool) (Plan, error) {
	if p.state != StateConfigured {
		return nil, fmt.Errorf("%w: resolve requires a configured pipeline, state is %s", ErrInvalidState, p.state)
	}

	g := p.graph.Clone()
	if !p.outputsNamed {
		g.Outputs = g.TerminalOutputs()
	}
	if len(g.Outputs) == 0 {
		return nil, fmt.Errorf("%w: graph has no outputs", graph.ErrInvalidGraph)
	}

	var (
		plan Plan
		err  error
	)
	if optimize {
		plan, err = p.resolveOptimized(ctx, g)
	} else {
		plan, err = p.resolvePreInference(ctx, g)
	}
	if err != nil {
		return nil, err
	}

	p.plan = plan
	p.state = StateResolved
	p.logger.Info("plan resolved",
		"kind", string(plan.Kind()),
		"backend", p.backend.Name(),
		"inputs", len(plan.Inputs()),
		"outputs", len(plan.Outputs()),
	)
	return plan, nil
}

func (p *Pipeline) resolveOptimized(ctx context.Context, g *graph.Graph) (Plan, error) {
	for _, name := range g.Inputs {
		if err := g.Fact(name).RequireResolved(); err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
	}

	opt, err := p.backend.Optimize(ctx, g)
	if err != nil {
		return nil, wrapEngine(ctx, p.backend, "optimize", err)
	}
	prog, err := p.backend.Prepare(opt)
	if err != nil {
		return nil, wrapEngine(ctx, p.backend, "prepare", err)
	}

	return &optimizedPlan{base: base{
		backend: p.backend,
		graph:   opt,
		program: prog,
		inputs:  signatures(opt, opt.Inputs, opt.Values),
		outputs: signatures(opt, opt.Outputs, opt.Values),
		logger:  p.logger,
	}}, nil
}

func (p *Pipeline) resolvePreInference(ctx context.Context, g *graph.Graph) (Plan, error) {
	declared := make([]fact.ShapeFact, len(g.Inputs))
	for i, name := range g.Inputs {
		declared[i] = g.Fact(name)
	}
	facts, err := p.backend.Infer(g, declared)
	if err != nil {
		return nil, wrapEngine(ctx, p.backend, "infer", err)
	}
	prog, err := p.backend.Prepare(g)
	if err != nil {
		return nil, wrapEngine(ctx, p.backend, "prepare", err)
	}

	return &preInferencePlan{base: base{
		backend: p.backend,
		graph:   g,
		program: prog,
		inputs:  signatures(g, g.Inputs, facts),
		outputs: signatures(g, g.Outputs, facts),
		logger:  p.logger,
	}}, nil
}

func signatures(g *graph.Graph, names []string, facts map[string]fact.ShapeFact) []Signature {
	out := make([]Signature, len(names))
	for i, name := range names {
		f, ok := facts[name]
		if !ok {
			f = g.Fact(name)
		}
		out[i] = Signature{Name: name, Fact: f}
	}
	return out
}

// Plan returns the resolved plan.
func (p *Pipeline) Plan() (Plan, error) {
	if p.state != StateResolved {
		return nil, fmt.Errorf("%w: no plan before resolve, state is %s", ErrInvalidState, p.state)
	}
	return p.plan, nil
}

// Run executes the resolved plan.
func (p *Pipeline) Run(ctx context.Context, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	plan, err := p.Plan()
	if err != nil {
		return nil, err
	}
	return plan.Run(ctx, inputs)
}

// Close releases the plan's engine resources.
func (p *Pipeline) Close() error {
	if p.plan == nil {
		return nil
	}
	err := p.plan.Close()
	p.plan = nil
	p.state = StateNone
	return err
}
