package graph

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ReadYAML decodes a human-authored graph description:
//
//	name: tiny
//	metadata: {author: me}
//	inputs:  [{name: x, fact: "float32[n,4]"}]
//	outputs: [{name: y}]
//	initializers:
//	  - {name: w, dtype: float32, shape: [4, 2], data: [1, 2, 3, 4, 5, 6, 7, 8]}
//	nodes:
//	  - {op: MatMul, inputs: [x, w], outputs: [y]}
//
// Facts are optional and may be partial. Without outputs the terminal node
// outputs are used.
func ReadYAML(data []byte) (*Graph, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: yaml: %v", ErrParse, err)
	}
	g, err := doc.build(FormatYAML)
	if err != nil {
		return nil, fmt.Errorf("%w: yaml: %v", ErrParse, err)
	}
	return g, nil
}
