package graph

import (
	"fmt"
	"math"

	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/tensor"
)

// document is the textual graph description shared by the yaml and typed
// formats.
type document struct {
	Name         string            `yaml:"name" json:"name"`
	Metadata     map[string]string `yaml:"metadata" json:"metadata"`
	Inputs       []valueDoc        `yaml:"inputs" json:"inputs"`
	Outputs      []valueDoc        `yaml:"outputs" json:"outputs"`
	Values       []valueDoc        `yaml:"values" json:"values"`
	Initializers []initDoc         `yaml:"initializers" json:"initializers"`
	Nodes        []nodeDoc         `yaml:"nodes" json:"nodes"`
}

type valueDoc struct {
	Name string `yaml:"name" json:"name"`
	Fact string `yaml:"fact" json:"fact"`
}

type initDoc struct {
	Name  string    `yaml:"name" json:"name"`
	DType string    `yaml:"dtype" json:"dtype"`
	Shape []int     `yaml:"shape" json:"shape"`
	Data  []float64 `yaml:"data" json:"data"`
}

type nodeDoc struct {
	Name    string         `yaml:"name" json:"name"`
	Op      string         `yaml:"op" json:"op"`
	Inputs  []string       `yaml:"inputs" json:"inputs"`
	Outputs []string       `yaml:"outputs" json:"outputs"`
	Attrs   map[string]any `yaml:"attrs" json:"attrs"`
}

func (d *document) build(format Format) (*Graph, error) {
	g := New(format)
	g.Name = d.Name
	for k, v := range d.Metadata {
		g.Metadata[k] = v
	}

	for _, in := range d.Initializers {
		if in.Name == "" {
			return nil, fmt.Errorf("initializer without name")
		}
		kind, err := tensor.ParseKind(in.DType)
		if err != nil {
			return nil, fmt.Errorf("initializer %q: %w", in.Name, err)
		}
		shape := in.Shape
		if shape == nil {
			shape = []int{len(in.Data)}
		}
		t, err := tensor.FromFloat64s(kind, in.Data, shape)
		if err != nil {
			return nil, fmt.Errorf("initializer %q: %w", in.Name, err)
		}
		g.Initializers[in.Name] = t
	}

	declare := func(v valueDoc) error {
		if v.Name == "" {
			return fmt.Errorf("value without name")
		}
		if v.Fact == "" {
			return nil
		}
		f, err := fact.ParseEngine(v.Fact)
		if err != nil {
			return fmt.Errorf("value %q: %w", v.Name, err)
		}
		g.Values[v.Name] = f
		return nil
	}
	for _, v := range d.Inputs {
		if err := declare(v); err != nil {
			return nil, err
		}
		g.Inputs = append(g.Inputs, v.Name)
	}
	for _, v := range d.Outputs {
		if err := declare(v); err != nil {
			return nil, err
		}
		g.Outputs = append(g.Outputs, v.Name)
	}
	for _, v := range d.Values {
		if err := declare(v); err != nil {
			return nil, err
		}
	}

	for i, nd := range d.Nodes {
		n := Node{
			Name:    nd.Name,
			Op:      nd.Op,
			Inputs:  nd.Inputs,
			Outputs: nd.Outputs,
			Attrs:   make(map[string]any, len(nd.Attrs)),
		}
		if n.Name == "" {
			n.Name = fmt.Sprintf("%s_%d", nd.Op, i)
		}
		for k, raw := range nd.Attrs {
			v, err := normalizeAttr(raw)
			if err != nil {
				return nil, fmt.Errorf("node %q attribute %q: %w", n.Name, k, err)
			}
			n.Attrs[k] = v
		}
		g.Nodes = append(g.Nodes, n)
	}

	if len(g.Outputs) == 0 {
		g.Outputs = g.TerminalOutputs()
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// normalizeAttr maps decoded attribute values onto the Node attribute
// types. Whole numbers become int64 and lists of whole numbers []int64;
// any fractional element turns a list into []float32.
func normalizeAttr(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []any:
		allInts := true
		nums := make([]float64, len(v))
		for i, e := range v {
			n, ok := toFloat(e)
			if !ok {
				return nil, fmt.Errorf("list element %v is not a number", e)
			}
			nums[i] = n
			allInts = allInts && isWhole(e)
		}
		if allInts {
			out := make([]int64, len(nums))
			for i, n := range nums {
				out[i] = int64(n)
			}
			return out, nil
		}
		out := make([]float32, len(nums))
		for i, n := range nums {
			out[i] = float32(n)
		}
		return out, nil
	default:
		n, ok := toFloat(raw)
		if !ok {
			return nil, fmt.Errorf("unsupported value %T", raw)
		}
		if isWhole(raw) {
			return int64(n), nil
		}
		return float32(n), nil
	}
}

func isWhole(v any) bool {
	switch n := v.(type) {
	case int, int64, uint64:
		return true
	case float64:
		return n == math.Trunc(n) && !math.IsInf(n, 0)
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
