package engine

import (
	"fmt"
	"math"

	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/graph"
	"github.com/example/go-graphbridge/internal/tensor"
)

func (r *Registry) registerElementwise() {
	r.Register("Identity", Op{Infer: inferSame, Eval: evalIdentity})
	r.Register("Relu", Op{Infer: inferSame, Eval: unary(false, func(_ graph.Node, x float64) float64 {
		return max(x, 0)
	})})
	r.Register("LeakyRelu", Op{Infer: inferSame, Eval: unary(true, func(n graph.Node, x float64) float64 {
		if x < 0 {
			return float64(n.AttrFloat("alpha", 0.01)) * x
		}
		return x
	})})
	r.Register("Sigmoid", Op{Infer: inferSame, Eval: unary(true, func(_ graph.Node, x float64) float64 {
		return 1 / (1 + math.Exp(-x))
	})})
	r.Register("Add", Op{Infer: inferBroadcast, Eval: binary(func(a, b float64) float64 { return a + b })})
	r.Register("Mul", Op{Infer: inferBroadcast, Eval: binary(func(a, b float64) float64 { return a * b })})
}

func inferSame(n graph.Node, in []fact.ShapeFact, _ []*tensor.Tensor) ([]fact.ShapeFact, error) {
	if err := expectInputs(n, 1, len(in)); err != nil {
		return nil, err
	}
	return []fact.ShapeFact{in[0]}, nil
}

func evalIdentity(n graph.Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs(n, 1, len(in)); err != nil {
		return nil, err
	}
	return []*tensor.Tensor{in[0]}, nil
}

func unary(floatOnly bool, fn func(n graph.Node, x float64) float64) func(graph.Node, []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return func(n graph.Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if err := expectInputs(n, 1, len(in)); err != nil {
			return nil, err
		}
		x := in[0]
		if floatOnly && !x.Kind().IsFloat() {
			return nil, fmt.Errorf("%s expects a float tensor, got %s", n.Op, x.Kind())
		}
		vals, err := tensor.Float64s(x)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Op, err)
		}
		for i, v := range vals {
			vals[i] = fn(n, v)
		}
		out, err := tensor.FromFloat64s(x.Kind(), vals, x.Shape())
		if err != nil {
			return nil, err
		}
		return []*tensor.Tensor{out}, nil
	}
}

func inferBroadcast(n graph.Node, in []fact.ShapeFact, _ []*tensor.Tensor) ([]fact.ShapeFact, error) {
	if err := expectInputs(n, 2, len(in)); err != nil {
		return nil, err
	}
	a, b := in[0], in[1]
	dtype := tensor.Invalid
	ak, aok := a.DType()
	bk, bok := b.DType()
	switch {
	case aok && bok && ak != bk:
		return nil, fmt.Errorf("%s %q: operand types %s and %s differ", n.Op, n.Name, ak, bk)
	case aok:
		dtype = ak
	case bok:
		dtype = bk
	}

	ad, aRanked := a.Dims()
	bd, bRanked := b.Dims()
	if !aRanked || !bRanked {
		return []fact.ShapeFact{fact.New(dtype, nil)}, nil
	}
	dims, err := broadcastDims(ad, bd)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", n.Op, n.Name, err)
	}
	return []fact.ShapeFact{fact.New(dtype, dims)}, nil
}

func binary(fn func(a, b float64) float64) func(graph.Node, []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return func(n graph.Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if err := expectInputs(n, 2, len(in)); err != nil {
			return nil, err
		}
		a, b := in[0], in[1]
		if a.Kind() != b.Kind() {
			return nil, fmt.Errorf("%s %q: operand types %s and %s differ", n.Op, n.Name, a.Kind(), b.Kind())
		}
		shape, err := broadcastShape(a.Shape(), b.Shape())
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", n.Op, n.Name, err)
		}
		av, err := tensor.Float64s(a)
		if err != nil {
			return nil, err
		}
		bv, err := tensor.Float64s(b)
		if err != nil {
			return nil, err
		}

		ai := broadcastIndex(a.Shape(), shape)
		bi := broadcastIndex(b.Shape(), shape)
		out := make([]float64, len(ai))
		for i := range out {
			out[i] = fn(av[ai[i]], bv[bi[i]])
		}
		t, err := tensor.FromFloat64s(a.Kind(), out, shape)
		if err != nil {
			return nil, err
		}
		return []*tensor.Tensor{t}, nil
	}
}

// broadcastIndex maps every row-major position of out to the position of
// the element of a row-major operand of shape src that broadcasts onto it.
func broadcastIndex(src, out []int) []int {
	n := 1
	for _, d := range out {
		n *= d
	}
	strides := make([]int, len(out))
	stride := 1
	for i := len(src) - 1; i >= 0; i-- {
		j := i + len(out) - len(src)
		if src[i] != 1 {
			strides[j] = stride
		}
		stride *= src[i]
	}

	idx := make([]int, n)
	coord := make([]int, len(out))
	for i := range n {
		off := 0
		for d, c := range coord {
			off += c * strides[d]
		}
		idx[i] = off
		for d := len(coord) - 1; d >= 0; d-- {
			coord[d]++
			if coord[d] < out[d] {
				break
			}
			coord[d] = 0
		}
	}
	return idx
}
