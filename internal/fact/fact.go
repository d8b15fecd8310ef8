// Package fact implements the dtype/shape constraint language applied to
// graph inputs: fixed, symbolic and affine-symbolic dimensions.
package fact

import (
	"fmt"
	"slices"
	"strings"

	"github.com/example/go-graphbridge/internal/tensor"
)

// ShapeFact is a partial or full constraint on one tensor. The zero value
// constrains nothing.
type ShapeFact struct {
	dtype  tensor.Kind
	dims   []Dim
	ranked bool
}

// New returns a fact with the given dtype and dims. Pass tensor.Invalid to
// leave the dtype open and nil dims to leave the rank open; an empty non-nil
// slice describes a scalar.
func New(dtype tensor.Kind, dims []Dim) ShapeFact {
	f := ShapeFact{dtype: dtype}
	if dims != nil {
		f.dims = slices.Clone(dims)
		f.ranked = true
	}
	return f
}

// Concrete returns a fully known fact for a tensor of the given kind and shape.
func Concrete(dtype tensor.Kind, shape []int) ShapeFact {
	dims := make([]Dim, len(shape))
	for i, d := range shape {
		dims[i] = Fixed(d)
	}
	return New(dtype, dims)
}

func (f ShapeFact) DType() (tensor.Kind, bool) {
	return f.dtype, f.dtype != tensor.Invalid
}

func (f ShapeFact) Dims() ([]Dim, bool) {
	return slices.Clone(f.dims), f.ranked
}

func (f ShapeFact) Rank() (int, bool) {
	return len(f.dims), f.ranked
}

// IsEmpty reports whether the fact constrains nothing.
func (f ShapeFact) IsEmpty() bool {
	return f.dtype == tensor.Invalid && !f.ranked
}

// HasUnresolvedSymbols reports whether any dimension is a Symbol or Affine.
func (f ShapeFact) HasUnresolvedSymbols() bool {
	return slices.ContainsFunc(f.dims, IsSymbolic)
}

// IsConcrete reports whether dtype and every dimension are known.
func (f ShapeFact) IsConcrete() bool {
	return f.dtype != tensor.Invalid && f.ranked && !f.HasUnresolvedSymbols()
}

// RequireResolved fails with ErrUnresolvedSymbolicDimension when the fact
// still carries symbols.
func (f ShapeFact) RequireResolved() error {
	for i, d := range f.dims {
		if IsSymbolic(d) {
			return fmt.Errorf("%w: axis %d is %s", ErrUnresolvedSymbolicDimension, i, d)
		}
	}
	return nil
}

// Shape returns the concrete extents of a fully fixed fact.
func (f ShapeFact) Shape() ([]int, bool) {
	if !f.ranked || f.HasUnresolvedSymbols() {
		return nil, false
	}
	out := make([]int, len(f.dims))
	for i, d := range f.dims {
		out[i] = int(d.(Fixed))
	}
	return out, true
}

// Substitute evaluates every dimension it can under bindings.
func (f ShapeFact) Substitute(bindings map[rune]int64) ShapeFact {
	if !f.ranked {
		return f
	}
	out := f
	out.dims = make([]Dim, len(f.dims))
	for i, d := range f.dims {
		if v, ok := d.Eval(bindings); ok {
			out.dims[i] = Fixed(v)
		} else {
			out.dims[i] = d
		}
	}
	return out
}

// Unify refines f with other. A fixed dimension on either side wins over a
// symbolic one; two different fixed extents, two different dtypes or two
// different ranks fail with tensor.ErrShapeMismatch.
func (f ShapeFact) Unify(other ShapeFact) (ShapeFact, error) {
	out := f
	if dt, ok := other.DType(); ok {
		if f.dtype != tensor.Invalid && f.dtype != dt {
			return ShapeFact{}, fmt.Errorf("%w: dtype %s contradicts %s", tensor.ErrShapeMismatch, dt, f.dtype)
		}
		out.dtype = dt
	}
	if !other.ranked {
		return out, nil
	}
	if !f.ranked {
		out.dims = slices.Clone(other.dims)
		out.ranked = true
		return out, nil
	}
	if len(f.dims) != len(other.dims) {
		return ShapeFact{}, fmt.Errorf("%w: rank %d contradicts %d", tensor.ErrShapeMismatch, len(other.dims), len(f.dims))
	}
	out.dims = make([]Dim, len(f.dims))
	for i, have := range f.dims {
		want := other.dims[i]
		hf, haveFixed := have.(Fixed)
		wf, wantFixed := want.(Fixed)
		switch {
		case haveFixed && wantFixed:
			if hf != wf {
				return ShapeFact{}, fmt.Errorf("%w: axis %d is %d, fact says %d", tensor.ErrShapeMismatch, i, hf, wf)
			}
			out.dims[i] = have
		case haveFixed:
			out.dims[i] = have
		default:
			out.dims[i] = want
		}
	}
	return out, nil
}

// Check verifies a tensor against the fact, binding symbols as it goes.
func (f ShapeFact) Check(kind tensor.Kind, shape []int, bindings map[rune]int64) error {
	if f.dtype != tensor.Invalid && f.dtype != kind {
		return fmt.Errorf("%w: got %s, expected %s", tensor.ErrShapeMismatch, kind, f.dtype)
	}
	if !f.ranked {
		return nil
	}
	if len(shape) != len(f.dims) {
		return fmt.Errorf("%w: got rank %d, expected %d", tensor.ErrShapeMismatch, len(shape), len(f.dims))
	}
	for i, d := range f.dims {
		if err := Bind(d, int64(shape[i]), bindings); err != nil {
			return fmt.Errorf("%w: axis %d: %v", tensor.ErrShapeMismatch, i, err)
		}
	}
	return nil
}

// String renders the compact form accepted by ParseCompact, e.g.
// "float32[1,n,2n+3]", "float32" or "?[1,3]".
func (f ShapeFact) String() string {
	var b strings.Builder
	if f.dtype != tensor.Invalid {
		b.WriteString(f.dtype.String())
	} else if f.ranked {
		b.WriteString("?")
	}
	if f.ranked {
		b.WriteByte('[')
		for i, d := range f.dims {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(d.String())
		}
		b.WriteByte(']')
	}
	if b.Len() == 0 {
		return "?"
	}
	return b.String()
}
