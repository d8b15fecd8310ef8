// Package engine defines the optimizer/executor contract the model pipeline
// drives, and a small reference engine that implements it in pure Go.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/graph"
	"github.com/example/go-graphbridge/internal/tensor"
)

var (
	ErrUnsupportedOp = errors.New("unsupported operator")
	ErrUndetermined  = errors.New("value not fully determined")
)

// Backend is an inference engine.
type Backend interface {
	Name() string
	// Infer propagates one fact per graph input through g and returns the
	// fact of every value it reaches. Facts it cannot derive stay partial.
	Infer(g *graph.Graph, inputs []fact.ShapeFact) (map[string]fact.ShapeFact, error)
	// Optimize rewrites a graph whose input facts are concrete into an
	// equivalent graph where every value is concrete.
	Optimize(ctx context.Context, g *graph.Graph) (*graph.Graph, error)
	// Prepare compiles g for execution.
	Prepare(g *graph.Graph) (Program, error)
}

// Program runs a prepared graph. Run must be safe for concurrent use and
// must not retain or mutate its inputs.
type Program interface {
	Run(ctx context.Context, inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
	Close() error
}

// Op is the reference implementation of one operator.
type Op struct {
	// Infer derives output facts. consts holds the value of every input
	// that is an initializer, nil otherwise.
	Infer func(n graph.Node, in []fact.ShapeFact, consts []*tensor.Tensor) ([]fact.ShapeFact, error)
	Eval  func(n graph.Node, in []*tensor.Tensor) ([]*tensor.Tensor, error)
}

// Registry maps operator names to implementations.
type Registry struct {
	ops map[string]Op
}

// NewRegistry returns a registry holding every built-in operator.
func NewRegistry() *Registry {
	r := &Registry{ops: make(map[string]Op)}
	r.registerElementwise()
	r.registerLinear()
	r.registerShape()
	return r
}

func (r *Registry) Register(name string, op Op) {
	r.ops[name] = op
}

func (r *Registry) Lookup(name string) (Op, error) {
	op, ok := r.ops[name]
	if !ok {
		return Op{}, fmt.Errorf("%w: %s", ErrUnsupportedOp, name)
	}
	return op, nil
}

// Supported returns the registered operator names, sorted.
func (r *Registry) Supported() []string {
	return slices.Sorted(maps.Keys(r.ops))
}

func expectInputs(n graph.Node, count int, got int) error {
	if got != count {
		return fmt.Errorf("%s %q expects %d inputs, got %d", n.Op, n.Name, count, got)
	}
	return nil
}
