package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/graph"
	"github.com/example/go-graphbridge/internal/tensor"
)

// Optimize requires concrete facts for every graph input. It infers every
// value, then folds constants, removes Identity nodes, fuses MatMul+Add
// into Gemm and drops nodes the outputs do not need. The result carries a
// concrete fact for every remaining value.
func (r *Registry) Optimize(ctx context.Context, g *graph.Graph) (*graph.Graph, error) {
	inputs := make([]fact.ShapeFact, len(g.Inputs))
	for i, name := range g.Inputs {
		f := g.Values[name]
		if !f.IsConcrete() {
			return nil, fmt.Errorf("%w: input %q is %s", ErrUndetermined, name, f)
		}
		inputs[i] = f
	}
	facts, err := r.Infer(g, inputs)
	if err != nil {
		return nil, err
	}

	out := g.Clone()
	passes := []func(*graph.Graph, map[string]fact.ShapeFact) error{
		r.foldConstants,
		eliminateIdentity,
		fuseMatMulAdd,
		pruneUnused,
	}
	for _, pass := range passes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := pass(out, facts); err != nil {
			return nil, err
		}
	}

	values := make(map[string]fact.ShapeFact)
	for _, name := range out.Inputs {
		values[name] = facts[name]
	}
	for _, n := range out.Nodes {
		for _, name := range n.Outputs {
			if name != "" {
				values[name] = facts[name]
			}
		}
	}
	for _, name := range out.Outputs {
		values[name] = facts[name]
	}
	for name, f := range values {
		if !f.IsConcrete() {
			return nil, fmt.Errorf("%w: %q is %s", ErrUndetermined, name, f)
		}
	}
	out.Values = values
	return out, nil
}

// foldConstants evaluates nodes whose inputs are all initializers and
// turns their outputs into initializers.
func (r *Registry) foldConstants(g *graph.Graph, facts map[string]fact.ShapeFact) error {
	order, err := g.Schedule()
	if err != nil {
		return err
	}
	folded := make(map[int]bool)
	for _, idx := range order {
		n := g.Nodes[idx]
		in := make([]*tensor.Tensor, 0, len(n.Inputs))
		constant := len(n.Inputs) > 0
		for _, name := range n.Inputs {
			if name == "" {
				continue
			}
			t, ok := g.Initializers[name]
			if !ok {
				constant = false
				break
			}
			in = append(in, t)
		}
		if !constant {
			continue
		}
		op, err := r.Lookup(n.Op)
		if err != nil {
			return err
		}
		outs, err := op.Eval(n, in)
		if err != nil {
			return fmt.Errorf("fold %q: %w", n.Name, err)
		}
		for i, name := range n.Outputs {
			if name == "" || i >= len(outs) {
				continue
			}
			t := outs[i].Contiguous()
			g.Initializers[name] = t
			facts[name] = fact.Concrete(t.Kind(), t.Shape())
		}
		folded[idx] = true
	}
	g.Nodes = removeNodes(g.Nodes, folded)
	return nil
}

// eliminateIdentity rewires consumers of an Identity to its input. An
// Identity feeding a graph output directly is kept.
func eliminateIdentity(g *graph.Graph, _ map[string]fact.ShapeFact) error {
	drop := make(map[int]bool)
	for i, n := range g.Nodes {
		if n.Op != "Identity" || len(n.Inputs) != 1 || len(n.Outputs) != 1 {
			continue
		}
		if slices.Contains(g.Outputs, n.Outputs[0]) {
			continue
		}
		renameInput(g, n.Outputs[0], n.Inputs[0])
		drop[i] = true
	}
	g.Nodes = removeNodes(g.Nodes, drop)
	return nil
}

// fuseMatMulAdd turns MatMul(A, B) followed by Add(_, C) into Gemm(A, B, C)
// when A and B have rank 2, C is a constant broadcastable to the product,
// and nothing else reads the MatMul result.
func fuseMatMulAdd(g *graph.Graph, facts map[string]fact.ShapeFact) error {
	consumers := make(map[string][]int)
	for i, n := range g.Nodes {
		for _, in := range n.Inputs {
			consumers[in] = append(consumers[in], i)
		}
	}
	rank := func(name string) int {
		r, _ := facts[name].Rank()
		return r
	}

	drop := make(map[int]bool)
	for i, mm := range g.Nodes {
		if mm.Op != "MatMul" || len(mm.Inputs) != 2 || len(mm.Outputs) != 1 {
			continue
		}
		prod := mm.Outputs[0]
		if rank(mm.Inputs[0]) != 2 || rank(mm.Inputs[1]) != 2 || slices.Contains(g.Outputs, prod) {
			continue
		}
		users := consumers[prod]
		if len(users) != 1 {
			continue
		}
		add := g.Nodes[users[0]]
		if add.Op != "Add" || len(add.Inputs) != 2 {
			continue
		}
		bias := add.Inputs[1]
		if bias == prod {
			bias = add.Inputs[0]
		}
		c, ok := g.Initializers[bias]
		if !ok || c.Rank() > 2 {
			continue
		}
		shape, _ := facts[prod].Shape()
		if got, err := broadcastShape(shape, c.Shape()); err != nil || !slices.Equal(got, shape) {
			continue
		}

		g.Nodes[users[0]] = graph.Node{
			Name:    mm.Name + "+" + add.Name,
			Op:      "Gemm",
			Inputs:  []string{mm.Inputs[0], mm.Inputs[1], bias},
			Outputs: add.Outputs,
			Attrs:   map[string]any{},
		}
		drop[i] = true
		delete(facts, prod)
	}
	g.Nodes = removeNodes(g.Nodes, drop)
	return nil
}

// pruneUnused drops nodes and initializers the outputs do not depend on.
func pruneUnused(g *graph.Graph, _ map[string]fact.ShapeFact) error {
	order, err := g.Schedule()
	if err != nil {
		return err
	}
	keep := make(map[int]bool, len(order))
	used := make(map[string]bool)
	for _, idx := range order {
		keep[idx] = true
		for _, in := range g.Nodes[idx].Inputs {
			used[in] = true
		}
	}
	for _, name := range g.Outputs {
		used[name] = true
	}
	drop := make(map[int]bool)
	for i := range g.Nodes {
		if !keep[i] {
			drop[i] = true
		}
	}
	g.Nodes = removeNodes(g.Nodes, drop)
	for name := range g.Initializers {
		if !used[name] {
			delete(g.Initializers, name)
		}
	}
	return nil
}

func renameInput(g *graph.Graph, from, to string) {
	for i := range g.Nodes {
		for j, in := range g.Nodes[i].Inputs {
			if in == from {
				g.Nodes[i].Inputs[j] = to
			}
		}
	}
}

func removeNodes(nodes []graph.Node, drop map[int]bool) []graph.Node {
	if len(drop) == 0 {
		return nodes
	}
	out := make([]graph.Node, 0, len(nodes)-len(drop))
	for i, n := range nodes {
		if !drop[i] {
			out = append(out, n)
		}
	}
	return out
}
