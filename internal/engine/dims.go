package engine

import (
	"fmt"

	"github.com/example/go-graphbridge/internal/fact"
)

// simplify folds degenerate affine terms into Fixed or Symbol.
func simplify(d fact.Dim) fact.Dim {
	a, ok := d.(fact.Affine)
	if !ok {
		return d
	}
	switch {
	case a.Slope == 0:
		return fact.Fixed(a.Intercept)
	case a.Slope == 1 && a.Intercept == 0:
		return a.Symbol
	}
	return a
}

// affine views any dim as slope*sym + intercept; fixed dims have slope 0.
func affine(d fact.Dim) fact.Affine {
	switch d := d.(type) {
	case fact.Fixed:
		return fact.Affine{Intercept: int64(d)}
	case fact.Symbol:
		return fact.Affine{Symbol: d, Slope: 1}
	case fact.Affine:
		return d
	}
	return fact.Affine{}
}

func equalDims(a, b fact.Dim) bool {
	return simplify(a) == simplify(b)
}

// mulDims multiplies two dims when the product stays affine.
func mulDims(a, b fact.Dim) (fact.Dim, bool) {
	x, y := affine(a), affine(b)
	switch {
	case x.Slope != 0 && y.Slope != 0:
		return nil, false
	case x.Slope == 0:
		x, y = y, x
	}
	c := y.Intercept
	return simplify(fact.Affine{Symbol: x.Symbol, Slope: x.Slope * c, Intercept: x.Intercept * c}), true
}

// product multiplies dims, failing when two symbolic factors meet.
func product(dims []fact.Dim) (fact.Dim, bool) {
	var acc fact.Dim = fact.Fixed(1)
	for _, d := range dims {
		var ok bool
		if acc, ok = mulDims(acc, d); !ok {
			return nil, false
		}
	}
	return acc, true
}

// divDim divides d by a positive constant when the result is integral.
func divDim(d fact.Dim, q int64) (fact.Dim, bool) {
	a := affine(d)
	if q <= 0 || a.Slope%q != 0 || a.Intercept%q != 0 {
		return nil, false
	}
	return simplify(fact.Affine{Symbol: a.Symbol, Slope: a.Slope / q, Intercept: a.Intercept / q}), true
}

// broadcastDim applies numpy broadcasting to one axis pair. A symbolic dim
// against a fixed one other than 1 is assumed to take the fixed extent.
func broadcastDim(a, b fact.Dim) (fact.Dim, error) {
	if equalDims(a, b) {
		return a, nil
	}
	af, aFixed := a.(fact.Fixed)
	bf, bFixed := b.(fact.Fixed)
	switch {
	case aFixed && af == 1:
		return b, nil
	case bFixed && bf == 1:
		return a, nil
	case aFixed && bFixed:
		return nil, fmt.Errorf("cannot broadcast %d against %d", af, bf)
	case aFixed:
		return a, nil
	case bFixed:
		return b, nil
	default:
		return a, nil
	}
}

func broadcastDims(a, b []fact.Dim) ([]fact.Dim, error) {
	n := max(len(a), len(b))
	out := make([]fact.Dim, n)
	for i := range n {
		var da, db fact.Dim = fact.Fixed(1), fact.Fixed(1)
		if j := i - (n - len(a)); j >= 0 {
			da = a[j]
		}
		if j := i - (n - len(b)); j >= 0 {
			db = b[j]
		}
		d, err := broadcastDim(da, db)
		if err != nil {
			return nil, fmt.Errorf("axis %d: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}

// broadcastShape is broadcastDims over concrete extents.
func broadcastShape(a, b []int) ([]int, error) {
	n := max(len(a), len(b))
	out := make([]int, n)
	for i := range n {
		da, db := 1, 1
		if j := i - (n - len(a)); j >= 0 {
			da = a[j]
		}
		if j := i - (n - len(b)); j >= 0 {
			db = b[j]
		}
		switch {
		case da == db, db == 1:
			out[i] = da
		case da == 1:
			out[i] = db
		default:
			return nil, fmt.Errorf("cannot broadcast %v against %v", a, b)
		}
	}
	return out, nil
}
