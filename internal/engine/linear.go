package engine

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/graph"
	"github.com/example/go-graphbridge/internal/tensor"
)

func (r *Registry) registerLinear() {
	r.Register("MatMul", Op{Infer: inferMatMul, Eval: evalMatMul})
	r.Register("Gemm", Op{Infer: inferGemm, Eval: evalGemm})
}

func floatOperands(n graph.Node, in []*tensor.Tensor) (tensor.Kind, error) {
	k := in[0].Kind()
	for _, t := range in[1:] {
		if t != nil && t.Kind() != k {
			return 0, fmt.Errorf("%s %q: operand types %s and %s differ", n.Op, n.Name, k, t.Kind())
		}
	}
	if k != tensor.Float32 && k != tensor.Float64 {
		return 0, fmt.Errorf("%s %q: unsupported operand type %s", n.Op, n.Name, k)
	}
	return k, nil
}

func operandType(n graph.Node, in []fact.ShapeFact) (tensor.Kind, error) {
	dtype := tensor.Invalid
	for _, f := range in {
		k, ok := f.DType()
		if !ok {
			continue
		}
		if dtype != tensor.Invalid && k != dtype {
			return 0, fmt.Errorf("%s %q: operand types %s and %s differ", n.Op, n.Name, dtype, k)
		}
		dtype = k
	}
	return dtype, nil
}

// checkInner fails when two fixed contraction extents differ.
func checkInner(n graph.Node, a, b fact.Dim) error {
	af, aok := a.(fact.Fixed)
	bf, bok := b.(fact.Fixed)
	if aok && bok && af != bf {
		return fmt.Errorf("%s %q: inner dimensions %d and %d differ", n.Op, n.Name, af, bf)
	}
	return nil
}

func inferMatMul(n graph.Node, in []fact.ShapeFact, _ []*tensor.Tensor) ([]fact.ShapeFact, error) {
	if err := expectInputs(n, 2, len(in)); err != nil {
		return nil, err
	}
	dtype, err := operandType(n, in)
	if err != nil {
		return nil, err
	}
	ad, aRanked := in[0].Dims()
	bd, bRanked := in[1].Dims()
	if !aRanked || !bRanked {
		return []fact.ShapeFact{fact.New(dtype, nil)}, nil
	}
	if len(ad) < 2 || len(bd) < 2 {
		return nil, fmt.Errorf("MatMul %q: operands need rank >= 2, got %d and %d", n.Name, len(ad), len(bd))
	}
	if err := checkInner(n, ad[len(ad)-1], bd[len(bd)-2]); err != nil {
		return nil, err
	}
	batch, err := broadcastDims(ad[:len(ad)-2], bd[:len(bd)-2])
	if err != nil {
		return nil, fmt.Errorf("MatMul %q: batch %w", n.Name, err)
	}
	dims := append(batch, ad[len(ad)-2], bd[len(bd)-1])
	return []fact.ShapeFact{fact.New(dtype, dims)}, nil
}

func denseOf(t *tensor.Tensor) (*mat.Dense, error) {
	vals, err := tensor.Float64s(t)
	if err != nil {
		return nil, err
	}
	shape := t.Shape()
	return mat.NewDense(shape[0], shape[1], vals), nil
}

func evalMatMul(n graph.Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs(n, 2, len(in)); err != nil {
		return nil, err
	}
	kind, err := floatOperands(n, in)
	if err != nil {
		return nil, err
	}
	a, b := in[0], in[1]
	as, bs := a.Shape(), b.Shape()
	if len(as) < 2 || len(bs) < 2 {
		return nil, fmt.Errorf("MatMul %q: operands need rank >= 2, got %d and %d", n.Name, len(as), len(bs))
	}
	m, k := as[len(as)-2], as[len(as)-1]
	k2, cols := bs[len(bs)-2], bs[len(bs)-1]
	if k != k2 {
		return nil, fmt.Errorf("MatMul %q: inner dimensions %d and %d differ", n.Name, k, k2)
	}
	batch, err := broadcastShape(as[:len(as)-2], bs[:len(bs)-2])
	if err != nil {
		return nil, fmt.Errorf("MatMul %q: batch %w", n.Name, err)
	}

	av, err := tensor.Float64s(a)
	if err != nil {
		return nil, err
	}
	bv, err := tensor.Float64s(b)
	if err != nil {
		return nil, err
	}
	aIdx := broadcastIndex(as[:len(as)-2], batch)
	bIdx := broadcastIndex(bs[:len(bs)-2], batch)

	out := make([]float64, len(aIdx)*m*cols)
	if m*k*cols == 0 {
		// gonum rejects empty matrices; the product is all zeros or empty
		aIdx = nil
	}
	for i := range aIdx {
		am := mat.NewDense(m, k, av[aIdx[i]*m*k:(aIdx[i]+1)*m*k])
		bm := mat.NewDense(k, cols, bv[bIdx[i]*k*cols:(bIdx[i]+1)*k*cols])
		dst := mat.NewDense(m, cols, out[i*m*cols:(i+1)*m*cols])
		dst.Mul(am, bm)
	}
	t, err := tensor.FromFloat64s(kind, out, append(batch, m, cols))
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{t}, nil
}

func gemmOperands(n graph.Node, count int) error {
	if count != 2 && count != 3 {
		return fmt.Errorf("Gemm %q expects 2 or 3 inputs, got %d", n.Name, count)
	}
	return nil
}

func inferGemm(n graph.Node, in []fact.ShapeFact, _ []*tensor.Tensor) ([]fact.ShapeFact, error) {
	if err := gemmOperands(n, len(in)); err != nil {
		return nil, err
	}
	dtype, err := operandType(n, in)
	if err != nil {
		return nil, err
	}
	ad, aRanked := in[0].Dims()
	bd, bRanked := in[1].Dims()
	if !aRanked || !bRanked {
		return []fact.ShapeFact{fact.New(dtype, nil)}, nil
	}
	if len(ad) != 2 || len(bd) != 2 {
		return nil, fmt.Errorf("Gemm %q: operands need rank 2, got %d and %d", n.Name, len(ad), len(bd))
	}
	m, ka := ad[0], ad[1]
	if n.AttrInt("transA", 0) != 0 {
		m, ka = ka, m
	}
	kb, cols := bd[0], bd[1]
	if n.AttrInt("transB", 0) != 0 {
		kb, cols = cols, kb
	}
	if err := checkInner(n, ka, kb); err != nil {
		return nil, err
	}
	dims := []fact.Dim{m, cols}
	if len(in) == 3 {
		if cd, ok := in[2].Dims(); ok {
			if _, err := broadcastDims(dims, cd); err != nil {
				return nil, fmt.Errorf("Gemm %q: bias %w", n.Name, err)
			}
		}
	}
	return []fact.ShapeFact{fact.New(dtype, dims)}, nil
}

func evalGemm(n graph.Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(in) == 3 && in[2] == nil {
		in = in[:2]
	}
	if err := gemmOperands(n, len(in)); err != nil {
		return nil, err
	}
	kind, err := floatOperands(n, in)
	if err != nil {
		return nil, err
	}
	if in[0].Rank() != 2 || in[1].Rank() != 2 {
		return nil, fmt.Errorf("Gemm %q: operands need rank 2, got %d and %d", n.Name, in[0].Rank(), in[1].Rank())
	}
	if in[0].Len() == 0 || in[1].Len() == 0 {
		return nil, fmt.Errorf("Gemm %q: empty operand", n.Name)
	}

	am, err := denseOf(in[0])
	if err != nil {
		return nil, err
	}
	bm, err := denseOf(in[1])
	if err != nil {
		return nil, err
	}
	var a, b mat.Matrix = am, bm
	if n.AttrInt("transA", 0) != 0 {
		a = am.T()
	}
	if n.AttrInt("transB", 0) != 0 {
		b = bm.T()
	}
	m, ka := a.Dims()
	kb, cols := b.Dims()
	if ka != kb {
		return nil, fmt.Errorf("Gemm %q: inner dimensions %d and %d differ", n.Name, ka, kb)
	}

	var dst mat.Dense
	dst.Mul(a, b)
	dst.Scale(float64(n.AttrFloat("alpha", 1)), &dst)
	out := dst.RawMatrix().Data

	if len(in) == 3 {
		beta := float64(n.AttrFloat("beta", 1))
		cv, err := tensor.Float64s(in[2])
		if err != nil {
			return nil, err
		}
		shape := []int{m, cols}
		if got, err := broadcastShape(shape, in[2].Shape()); err != nil || !slices.Equal(got, shape) {
			return nil, fmt.Errorf("Gemm %q: bias %v does not broadcast to %v", n.Name, in[2].Shape(), shape)
		}
		for i, j := range broadcastIndex(in[2].Shape(), shape) {
			out[i] += beta * cv[j]
		}
	}
	t, err := tensor.FromFloat64s(kind, out, []int{m, cols})
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{t}, nil
}
