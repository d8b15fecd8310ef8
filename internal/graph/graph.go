// Package graph holds the in-memory computation graph shared by the format
// readers and the engines, and the readers themselves.
package graph

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/tensor"
)

var (
	ErrParse             = errors.New("model parse failure")
	ErrUnknownFormat     = errors.New("unknown model format")
	ErrUnknownTensorName = errors.New("unknown tensor name")
	ErrInvalidGraph      = errors.New("invalid graph")
)

// Node is one operator application. Attribute values are int64, float32,
// string, []int64, []float32 or *tensor.Tensor.
type Node struct {
	Name    string
	Op      string
	Inputs  []string
	Outputs []string
	Attrs   map[string]any
}

// Graph is a dataflow graph over named values. Values carries whatever
// facts the source format declared; entries may be partial.
type Graph struct {
	Format       Format
	Name         string
	Nodes        []Node
	Values       map[string]fact.ShapeFact
	Initializers map[string]*tensor.Tensor
	Inputs       []string
	Outputs      []string
	Metadata     map[string]string
	// SymbolNames maps symbols allocated for long dimension names back to
	// the name used in the source.
	SymbolNames map[fact.Symbol]string
	// Source is the raw model bytes, kept for engines that load the
	// original file themselves.
	Source []byte
}

func New(format Format) *Graph {
	return &Graph{
		Format:       format,
		Values:       map[string]fact.ShapeFact{},
		Initializers: map[string]*tensor.Tensor{},
		Metadata:     map[string]string{},
		SymbolNames:  map[fact.Symbol]string{},
	}
}

// Clone returns a copy whose slices and maps can be modified without
// affecting g. Tensors are immutable and shared.
func (g *Graph) Clone() *Graph {
	out := *g
	out.Nodes = make([]Node, len(g.Nodes))
	for i, n := range g.Nodes {
		out.Nodes[i] = Node{
			Name:    n.Name,
			Op:      n.Op,
			Inputs:  slices.Clone(n.Inputs),
			Outputs: slices.Clone(n.Outputs),
			Attrs:   maps.Clone(n.Attrs),
		}
	}
	out.Values = maps.Clone(g.Values)
	out.Initializers = maps.Clone(g.Initializers)
	out.Inputs = slices.Clone(g.Inputs)
	out.Outputs = slices.Clone(g.Outputs)
	out.Metadata = maps.Clone(g.Metadata)
	out.SymbolNames = maps.Clone(g.SymbolNames)
	return &out
}

// Fact returns the declared fact of a value, empty when none is known.
func (g *Graph) Fact(name string) fact.ShapeFact {
	if f, ok := g.Values[name]; ok {
		return f
	}
	if t, ok := g.Initializers[name]; ok {
		return fact.Concrete(t.Kind(), t.Shape())
	}
	return fact.ShapeFact{}
}

// Producers maps each node output to the index of the node producing it.
func (g *Graph) Producers() map[string]int {
	out := make(map[string]int)
	for i, n := range g.Nodes {
		for _, o := range n.Outputs {
			if o != "" {
				out[o] = i
			}
		}
	}
	return out
}

// HasValue reports whether name is a graph input, an initializer or a node
// output.
func (g *Graph) HasValue(name string) bool {
	if slices.Contains(g.Inputs, name) {
		return true
	}
	if _, ok := g.Initializers[name]; ok {
		return true
	}
	_, ok := g.Producers()[name]
	return ok
}

// TerminalOutputs lists node outputs no other node consumes, in node order.
func (g *Graph) TerminalOutputs() []string {
	consumed := make(map[string]bool)
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			consumed[in] = true
		}
	}
	var out []string
	for _, n := range g.Nodes {
		for _, o := range n.Outputs {
			if o != "" && !consumed[o] {
				out = append(out, o)
			}
		}
	}
	return out
}

// SelectInputs makes names the graph inputs, in that order. A name may be
// an existing input or any intermediate value, which cuts the graph there.
func (g *Graph) SelectInputs(names []string) error {
	for _, name := range names {
		if !g.HasValue(name) {
			return fmt.Errorf("%w: input %q", ErrUnknownTensorName, name)
		}
		if _, ok := g.Initializers[name]; ok && !slices.Contains(g.Inputs, name) {
			return fmt.Errorf("%w: %q is a constant", ErrUnknownTensorName, name)
		}
	}
	g.Inputs = slices.Clone(names)
	return nil
}

// SelectOutputs makes names the graph outputs, in that order.
func (g *Graph) SelectOutputs(names []string) error {
	for _, name := range names {
		if !g.HasValue(name) {
			return fmt.Errorf("%w: output %q", ErrUnknownTensorName, name)
		}
	}
	g.Outputs = slices.Clone(names)
	return nil
}

// Schedule returns the indices of the nodes needed to compute the graph
// outputs from its inputs and initializers, in dependency order. Nodes
// whose outputs are all fed as inputs are skipped.
func (g *Graph) Schedule() ([]int, error) {
	producers := g.Producers()
	fed := make(map[string]bool, len(g.Inputs)+len(g.Initializers))
	for _, in := range g.Inputs {
		fed[in] = true
	}
	for name := range g.Initializers {
		fed[name] = true
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(g.Nodes))
	var order []int

	var visit func(value string) error
	visit = func(value string) error {
		if value == "" || fed[value] {
			return nil
		}
		idx, ok := producers[value]
		if !ok {
			return fmt.Errorf("%w: value %q has no producer and is not an input", ErrInvalidGraph, value)
		}
		switch state[idx] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: cycle through %q", ErrInvalidGraph, value)
		}
		state[idx] = visiting
		for _, in := range g.Nodes[idx].Inputs {
			if err := visit(in); err != nil {
				return err
			}
		}
		state[idx] = done
		order = append(order, idx)
		return nil
	}

	for _, out := range g.Outputs {
		if err := visit(out); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Validate checks that every consumed value has a source and every output
// exists.
func (g *Graph) Validate() error {
	producers := g.Producers()
	known := func(name string) bool {
		if name == "" || slices.Contains(g.Inputs, name) {
			return true
		}
		if _, ok := g.Initializers[name]; ok {
			return true
		}
		_, ok := producers[name]
		return ok
	}
	for _, n := range g.Nodes {
		if n.Op == "" {
			return fmt.Errorf("%w: node %q has no op", ErrInvalidGraph, n.Name)
		}
		for _, in := range n.Inputs {
			if !known(in) {
				return fmt.Errorf("%w: node %q reads undefined value %q", ErrInvalidGraph, n.Name, in)
			}
		}
	}
	for _, out := range g.Outputs {
		if !known(out) {
			return fmt.Errorf("%w: undefined output %q", ErrInvalidGraph, out)
		}
	}
	_, err := g.Schedule()
	return err
}

// AttrInt returns an integer attribute or def.
func (n Node) AttrInt(name string, def int64) int64 {
	if v, ok := n.Attrs[name].(int64); ok {
		return v
	}
	return def
}

// AttrFloat returns a float attribute or def. Integer values are accepted
// since textual formats cannot tell 1.0 from 1.
func (n Node) AttrFloat(name string, def float32) float32 {
	switch v := n.Attrs[name].(type) {
	case float32:
		return v
	case int64:
		return float32(v)
	}
	return def
}

// AttrInts returns an integer-list attribute.
func (n Node) AttrInts(name string) ([]int64, bool) {
	v, ok := n.Attrs[name].([]int64)
	return v, ok
}

// AttrTensor returns a tensor attribute.
func (n Node) AttrTensor(name string) (*tensor.Tensor, bool) {
	v, ok := n.Attrs[name].(*tensor.Tensor)
	return v, ok && v != nil
}
