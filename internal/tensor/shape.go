package tensor

import (
	"fmt"
	"math"
	"slices"
)

// NumElements returns the product of shape, rejecting negative extents and
// products that overflow int. A rank-0 shape has one element.
func NumElements(shape []int) (int, error) {
	count := 1
	for i, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("%w: shape[%d]=%d is negative", ErrShapeMismatch, i, dim)
		}
		if dim == 0 {
			count = 0
			continue
		}
		if count > math.MaxInt/dim {
			return 0, fmt.Errorf("%w: shape %v overflows element count", ErrShapeMismatch, shape)
		}
		count *= dim
	}
	return count, nil
}

// SameShape reports whether a and b have identical extents.
func SameShape(a, b []int) bool {
	return slices.Equal(a, b)
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}
