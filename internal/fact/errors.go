package fact

import (
	"errors"
	"fmt"
)

var (
	ErrIncompleteFact       = errors.New("incomplete fact: neither dtype nor shape given")
	ErrInvalidDimensionSpec = errors.New("invalid dimension spec")
	// ErrUnknownDtypeName also matches ErrInvalidDimensionSpec.
	ErrUnknownDtypeName            = fmt.Errorf("%w: unknown dtype name", ErrInvalidDimensionSpec)
	ErrUnresolvedSymbolicDimension = errors.New("unresolved symbolic dimension")
)
