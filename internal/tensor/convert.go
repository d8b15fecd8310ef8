package tensor

import (
	"fmt"

	"github.com/x448/float16"
)

type number interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32 | float64
}

// Float64s returns the logical elements of a numeric tensor widened to
// float64. Bool yields 0 and 1.
func Float64s(t *Tensor) ([]float64, error) {
	switch t.kind {
	case Int8:
		return widen[int8](t)
	case Uint8:
		return widen[uint8](t)
	case Int16:
		return widen[int16](t)
	case Uint16:
		return widen[uint16](t)
	case Int32:
		return widen[int32](t)
	case Uint32:
		return widen[uint32](t)
	case Int64:
		return widen[int64](t)
	case Uint64:
		return widen[uint64](t)
	case Float32:
		return widen[float32](t)
	case Float64:
		return Values[float64](t)
	case Float16:
		vals, err := Values[float16.Float16](t)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v.Float32())
		}
		return out, nil
	case Bool:
		vals, err := Values[bool](t)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(vals))
		for i, v := range vals {
			if v {
				out[i] = 1
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s is not numeric", ErrUnsupportedType, t.kind)
	}
}

func widen[T number](t *Tensor) ([]float64, error) {
	vals, err := Values[T](t)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = float64(v)
	}
	return out, nil
}

// FromFloat64s builds a tensor of the given numeric kind, converting each
// value with Go conversion rules. Bool stores v != 0.
func FromFloat64s(kind Kind, vals []float64, shape []int) (*Tensor, error) {
	switch kind {
	case Int8:
		return New(narrow[int8](vals), shape)
	case Uint8:
		return New(narrow[uint8](vals), shape)
	case Int16:
		return New(narrow[int16](vals), shape)
	case Uint16:
		return New(narrow[uint16](vals), shape)
	case Int32:
		return New(narrow[int32](vals), shape)
	case Uint32:
		return New(narrow[uint32](vals), shape)
	case Int64:
		return New(narrow[int64](vals), shape)
	case Uint64:
		return New(narrow[uint64](vals), shape)
	case Float32:
		return New(narrow[float32](vals), shape)
	case Float64:
		return New(vals, shape)
	case Float16:
		out := make([]float16.Float16, len(vals))
		for i, v := range vals {
			out[i] = float16.Fromfloat32(float32(v))
		}
		return New(out, shape)
	case Bool:
		out := make([]bool, len(vals))
		for i, v := range vals {
			out[i] = v != 0
		}
		return New(out, shape)
	default:
		return nil, fmt.Errorf("%w: %s is not numeric", ErrUnsupportedType, kind)
	}
}

func narrow[T number](vals []float64) []T {
	out := make([]T, len(vals))
	for i, v := range vals {
		out[i] = T(v)
	}
	return out
}
