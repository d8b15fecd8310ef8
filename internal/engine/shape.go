package engine

import (
	"fmt"
	"slices"

	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/graph"
	"github.com/example/go-graphbridge/internal/tensor"
)

func (r *Registry) registerShape() {
	r.Register("Flatten", Op{Infer: inferFlatten, Eval: evalFlatten})
	r.Register("Reshape", Op{Infer: inferReshape, Eval: evalReshape})
	r.Register("Transpose", Op{Infer: inferTranspose, Eval: evalTranspose})
	r.Register("Cast", Op{Infer: inferCast, Eval: evalCast})
}

func normAxis(axis int64, rank int) (int, error) {
	if axis < 0 {
		axis += int64(rank)
	}
	if axis < 0 || axis > int64(rank) {
		return 0, fmt.Errorf("axis %d out of range for rank %d", axis, rank)
	}
	return int(axis), nil
}

func inferFlatten(n graph.Node, in []fact.ShapeFact, _ []*tensor.Tensor) ([]fact.ShapeFact, error) {
	if err := expectInputs(n, 1, len(in)); err != nil {
		return nil, err
	}
	dtype, _ := in[0].DType()
	dims, ok := in[0].Dims()
	if !ok {
		return []fact.ShapeFact{fact.New(dtype, nil)}, nil
	}
	axis, err := normAxis(n.AttrInt("axis", 1), len(dims))
	if err != nil {
		return nil, fmt.Errorf("Flatten %q: %w", n.Name, err)
	}
	outer, ok1 := product(dims[:axis])
	inner, ok2 := product(dims[axis:])
	if !ok1 || !ok2 {
		return []fact.ShapeFact{fact.New(dtype, nil)}, nil
	}
	return []fact.ShapeFact{fact.New(dtype, []fact.Dim{outer, inner})}, nil
}

func evalFlatten(n graph.Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs(n, 1, len(in)); err != nil {
		return nil, err
	}
	shape := in[0].Shape()
	axis, err := normAxis(n.AttrInt("axis", 1), len(shape))
	if err != nil {
		return nil, fmt.Errorf("Flatten %q: %w", n.Name, err)
	}
	outer := 1
	for _, d := range shape[:axis] {
		outer *= d
	}
	inner := 1
	for _, d := range shape[axis:] {
		inner *= d
	}
	t, err := in[0].Reshape([]int{outer, inner})
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{t}, nil
}

func shapeOperand(t *tensor.Tensor) ([]int64, error) {
	if t.Kind() != tensor.Int64 || t.Rank() != 1 {
		return nil, fmt.Errorf("shape operand must be a 1-D int64 tensor, got %s", t)
	}
	return tensor.Values[int64](t)
}

func inferReshape(n graph.Node, in []fact.ShapeFact, consts []*tensor.Tensor) ([]fact.ShapeFact, error) {
	if err := expectInputs(n, 2, len(in)); err != nil {
		return nil, err
	}
	dtype, _ := in[0].DType()
	src, ranked := in[0].Dims()
	if consts[1] == nil {
		return []fact.ShapeFact{fact.New(dtype, nil)}, nil
	}
	target, err := shapeOperand(consts[1])
	if err != nil {
		return nil, fmt.Errorf("Reshape %q: %w", n.Name, err)
	}

	dims := make([]fact.Dim, len(target))
	wildcard := -1
	known := int64(1)
	for i, v := range target {
		switch {
		case v == -1:
			if wildcard >= 0 {
				return nil, fmt.Errorf("Reshape %q: more than one -1 in %v", n.Name, target)
			}
			wildcard = i
		case v == 0:
			if !ranked || i >= len(src) {
				return []fact.ShapeFact{fact.New(dtype, nil)}, nil
			}
			dims[i] = src[i]
		case v < -1:
			return nil, fmt.Errorf("Reshape %q: invalid extent %d", n.Name, v)
		default:
			dims[i] = fact.Fixed(v)
		}
	}
	if wildcard < 0 {
		return []fact.ShapeFact{fact.New(dtype, dims)}, nil
	}
	if !ranked {
		return []fact.ShapeFact{fact.New(dtype, nil)}, nil
	}

	// symbolic target dims must cancel against an equal source dim
	remaining := slices.Clone(src)
	for i, d := range dims {
		if i == wildcard {
			continue
		}
		if f, ok := d.(fact.Fixed); ok {
			known *= int64(f)
			continue
		}
		j := slices.IndexFunc(remaining, func(r fact.Dim) bool { return equalDims(r, d) })
		if j < 0 {
			return []fact.ShapeFact{fact.New(dtype, nil)}, nil
		}
		remaining = slices.Delete(remaining, j, j+1)
	}
	total, ok := product(remaining)
	if !ok {
		return []fact.ShapeFact{fact.New(dtype, nil)}, nil
	}
	rest, ok := divDim(total, known)
	if !ok {
		if _, fixed := total.(fact.Fixed); fixed {
			return nil, fmt.Errorf("Reshape %q: cannot reshape %s into %v", n.Name, in[0], target)
		}
		return []fact.ShapeFact{fact.New(dtype, nil)}, nil
	}
	dims[wildcard] = rest
	return []fact.ShapeFact{fact.New(dtype, dims)}, nil
}

func evalReshape(n graph.Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs(n, 2, len(in)); err != nil {
		return nil, err
	}
	target, err := shapeOperand(in[1])
	if err != nil {
		return nil, fmt.Errorf("Reshape %q: %w", n.Name, err)
	}
	src := in[0].Shape()
	shape := make([]int, len(target))
	wildcard := -1
	known := 1
	for i, v := range target {
		switch {
		case v == -1:
			if wildcard >= 0 {
				return nil, fmt.Errorf("Reshape %q: more than one -1 in %v", n.Name, target)
			}
			wildcard = i
			continue
		case v == 0:
			if i >= len(src) {
				return nil, fmt.Errorf("Reshape %q: 0 at axis %d of rank-%d input", n.Name, i, len(src))
			}
			shape[i] = src[i]
		case v < -1:
			return nil, fmt.Errorf("Reshape %q: invalid extent %d", n.Name, v)
		default:
			shape[i] = int(v)
		}
		known *= shape[i]
	}
	if wildcard >= 0 {
		if known == 0 || in[0].Len()%known != 0 {
			return nil, fmt.Errorf("Reshape %q: cannot reshape %v into %v", n.Name, src, target)
		}
		shape[wildcard] = in[0].Len() / known
	}
	t, err := in[0].Reshape(shape)
	if err != nil {
		return nil, fmt.Errorf("Reshape %q: %w", n.Name, err)
	}
	return []*tensor.Tensor{t}, nil
}

func permutation(n graph.Node, rank int) ([]int, error) {
	perm, ok := n.AttrInts("perm")
	out := make([]int, rank)
	if !ok {
		for i := range out {
			out[i] = rank - 1 - i
		}
		return out, nil
	}
	if len(perm) != rank {
		return nil, fmt.Errorf("Transpose %q: perm %v for rank %d", n.Name, perm, rank)
	}
	for i, p := range perm {
		out[i] = int(p)
	}
	return out, nil
}

func inferTranspose(n graph.Node, in []fact.ShapeFact, _ []*tensor.Tensor) ([]fact.ShapeFact, error) {
	if err := expectInputs(n, 1, len(in)); err != nil {
		return nil, err
	}
	dtype, _ := in[0].DType()
	dims, ok := in[0].Dims()
	if !ok {
		return []fact.ShapeFact{fact.New(dtype, nil)}, nil
	}
	perm, err := permutation(n, len(dims))
	if err != nil {
		return nil, err
	}
	out := make([]fact.Dim, len(dims))
	seen := make([]bool, len(dims))
	for i, p := range perm {
		if p < 0 || p >= len(dims) || seen[p] {
			return nil, fmt.Errorf("Transpose %q: invalid perm %v", n.Name, perm)
		}
		seen[p] = true
		out[i] = dims[p]
	}
	return []fact.ShapeFact{fact.New(dtype, out)}, nil
}

// evalTranspose returns a strided view of its input.
func evalTranspose(n graph.Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs(n, 1, len(in)); err != nil {
		return nil, err
	}
	perm, err := permutation(n, in[0].Rank())
	if err != nil {
		return nil, err
	}
	t, err := in[0].Permute(perm)
	if err != nil {
		return nil, fmt.Errorf("Transpose %q: %w", n.Name, err)
	}
	return []*tensor.Tensor{t}, nil
}

// castTarget reads the "to" attribute: an ONNX data type code or a kind
// name.
func castTarget(n graph.Node) (tensor.Kind, error) {
	switch v := n.Attrs["to"].(type) {
	case int64:
		if k, ok := graph.KindFromONNX(v); ok {
			return k, nil
		}
		return 0, fmt.Errorf("Cast %q: unknown data type %d", n.Name, v)
	case string:
		k, err := tensor.ParseKind(v)
		if err != nil {
			return 0, fmt.Errorf("Cast %q: %w", n.Name, err)
		}
		return k, nil
	default:
		return 0, fmt.Errorf("Cast %q: missing \"to\" attribute", n.Name)
	}
}

func inferCast(n graph.Node, in []fact.ShapeFact, _ []*tensor.Tensor) ([]fact.ShapeFact, error) {
	if err := expectInputs(n, 1, len(in)); err != nil {
		return nil, err
	}
	to, err := castTarget(n)
	if err != nil {
		return nil, err
	}
	dims, _ := in[0].Dims()
	return []fact.ShapeFact{fact.New(to, dims)}, nil
}

func evalCast(n graph.Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs(n, 1, len(in)); err != nil {
		return nil, err
	}
	to, err := castTarget(n)
	if err != nil {
		return nil, err
	}
	if in[0].Kind() == to {
		return []*tensor.Tensor{in[0]}, nil
	}
	vals, err := tensor.Float64s(in[0])
	if err != nil {
		return nil, fmt.Errorf("Cast %q: %w", n.Name, err)
	}
	t, err := tensor.FromFloat64s(to, vals, in[0].Shape())
	if err != nil {
		return nil, fmt.Errorf("Cast %q: %w", n.Name, err)
	}
	return []*tensor.Tensor{t}, nil
}
