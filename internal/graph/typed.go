package graph

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// ReadTyped decodes the fully resolved JSON graph format. It has the same
// structure as the yaml format, but every input, output and node output
// must be declared with a concrete fact in inputs, outputs or values.
func ReadTyped(data []byte) (*Graph, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: typed: %v", ErrParse, err)
	}
	g, err := doc.build(FormatTyped)
	if err != nil {
		return nil, fmt.Errorf("%w: typed: %v", ErrParse, err)
	}

	check := func(name string) error {
		f, ok := g.Values[name]
		if !ok {
			return fmt.Errorf("%w: typed: value %q has no fact", ErrParse, name)
		}
		if !f.IsConcrete() {
			return fmt.Errorf("%w: typed: value %q is not fully resolved: %s", ErrParse, name, f)
		}
		return nil
	}
	for _, name := range g.Inputs {
		if err := check(name); err != nil {
			return nil, err
		}
	}
	for _, n := range g.Nodes {
		for _, o := range n.Outputs {
			if err := check(o); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}
