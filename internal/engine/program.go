package engine

import (
	"context"
	"fmt"

	"github.com/example/go-graphbridge/internal/graph"
	"github.com/example/go-graphbridge/internal/tensor"
)

type step struct {
	node graph.Node
	op   Op
}

// program executes a graph node by node. It holds no per-run state.
type program struct {
	inputs       []string
	outputs      []string
	initializers map[string]*tensor.Tensor
	steps        []step
}

// Prepare resolves the execution order and operator of every needed node.
func (r *Registry) Prepare(g *graph.Graph) (Program, error) {
	order, err := g.Schedule()
	if err != nil {
		return nil, err
	}
	p := &program{
		inputs:       append([]string(nil), g.Inputs...),
		outputs:      append([]string(nil), g.Outputs...),
		initializers: g.Initializers,
	}
	for _, idx := range order {
		n := g.Nodes[idx]
		op, err := r.Lookup(n.Op)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		p.steps = append(p.steps, step{node: n, op: op})
	}
	return p, nil
}

// Run evaluates the graph. Outputs are fresh row-major tensors that share no
// storage with the inputs, the initializers or any intermediate view.
func (p *program) Run(ctx context.Context, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != len(p.inputs) {
		return nil, fmt.Errorf("program expects %d inputs, got %d", len(p.inputs), len(inputs))
	}
	values := make(map[string]*tensor.Tensor, len(p.initializers)+len(p.steps))
	for name, t := range p.initializers {
		values[name] = t
	}
	for i, name := range p.inputs {
		values[name] = inputs[i]
	}

	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in := make([]*tensor.Tensor, 0, len(s.node.Inputs))
		for _, name := range s.node.Inputs {
			if name == "" {
				continue
			}
			t, ok := values[name]
			if !ok {
				return nil, fmt.Errorf("node %q: value %q not computed", s.node.Name, name)
			}
			in = append(in, t)
		}
		outs, err := s.op.Eval(s.node, in)
		if err != nil {
			return nil, err
		}
		if len(outs) < len(s.node.Outputs) {
			return nil, fmt.Errorf("node %q produced %d outputs, expected %d", s.node.Name, len(outs), len(s.node.Outputs))
		}
		for i, name := range s.node.Outputs {
			if name != "" {
				values[name] = outs[i]
			}
		}
	}

	out := make([]*tensor.Tensor, len(p.outputs))
	for i, name := range p.outputs {
		t, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("output %q not computed", name)
		}
		out[i] = t.Clone()
	}
	return out, nil
}

func (p *program) Close() error { return nil }
