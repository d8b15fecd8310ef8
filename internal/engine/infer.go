package engine

import (
	"fmt"

	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/graph"
	"github.com/example/go-graphbridge/internal/tensor"
)

// Infer propagates facts through the scheduled part of g. inputs holds one
// fact per graph input and overrides the declared fact of that input
// after unification. Declared facts of intermediate values refine what the
// operators derive.
func (r *Registry) Infer(g *graph.Graph, inputs []fact.ShapeFact) (map[string]fact.ShapeFact, error) {
	if len(inputs) != len(g.Inputs) {
		return nil, fmt.Errorf("infer: %d input facts for %d inputs", len(inputs), len(g.Inputs))
	}
	facts := make(map[string]fact.ShapeFact, len(g.Values)+len(g.Initializers))
	for name, t := range g.Initializers {
		facts[name] = fact.Concrete(t.Kind(), t.Shape())
	}
	for i, name := range g.Inputs {
		f, err := g.Values[name].Unify(inputs[i])
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		facts[name] = f
	}

	order, err := g.Schedule()
	if err != nil {
		return nil, err
	}
	for _, idx := range order {
		n := g.Nodes[idx]
		op, err := r.Lookup(n.Op)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		in := make([]fact.ShapeFact, 0, len(n.Inputs))
		consts := make([]*tensor.Tensor, 0, len(n.Inputs))
		for _, name := range n.Inputs {
			if name == "" {
				continue
			}
			in = append(in, facts[name])
			consts = append(consts, g.Initializers[name])
		}
		outs, err := op.Infer(n, in, consts)
		if err != nil {
			return nil, err
		}
		for i, name := range n.Outputs {
			if i >= len(outs) || name == "" {
				continue
			}
			f := outs[i]
			if declared, ok := g.Values[name]; ok {
				if f, err = f.Unify(declared); err != nil {
					return nil, fmt.Errorf("node %q output %q: %w", n.Name, name, err)
				}
			}
			facts[name] = f
		}
	}
	return facts, nil
}
