package tensor

import "errors"

var (
	// ErrUnsupportedType reports a host array or tensor kind that cannot
	// cross the boundary in the requested direction.
	ErrUnsupportedType = errors.New("unsupported type")
	// ErrShapeMismatch reports data whose length disagrees with its shape,
	// or a shape that contradicts an already-fixed one.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNonContiguousLayout reports a strided view that cannot be copied out
	// as a row-major buffer.
	ErrNonContiguousLayout = errors.New("non-contiguous layout")
)
