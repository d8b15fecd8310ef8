package bridge

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/pipeline"
	"github.com/example/go-graphbridge/internal/tensor"
)

var ErrInvalidHostValue = errors.New("invalid host value")

// Value is the JSON form of a host array.
type Value struct {
	Name  string          `json:"name,omitempty"`
	Type  tensor.HostKind `json:"type"`
	Shape []int           `json:"shape"`
	Data  []float64       `json:"data"`
}

// Decode builds the host input a Value describes. Integer kinds reject
// fractional or out-of-range elements; Uint8ClampedArray clamps and rounds.
func (v Value) Decode() (HostInput, error) {
	arr, err := decodeArray(v.Type, v.Data)
	if err != nil {
		return HostInput{}, err
	}
	shape := v.Shape
	if shape == nil {
		shape = []int{len(v.Data)}
	}
	return HostInput{Data: arr, Shape: shape}, nil
}

// Encode renders a host output as a Value.
func Encode(out HostOutput) (Value, error) {
	data, err := encodeArray(out.Data)
	if err != nil {
		return Value{}, err
	}
	return Value{Name: out.Name, Type: out.Data.HostKind(), Shape: out.Shape, Data: data}, nil
}

func decodeArray(kind tensor.HostKind, data []float64) (tensor.HostArray, error) {
	switch kind {
	case tensor.HostInt8:
		return decodeInts[int8](kind, data, math.MinInt8, math.MaxInt8, func(v []int8) tensor.HostArray { return tensor.Int8Array(v) })
	case tensor.HostUint8:
		return decodeInts[uint8](kind, data, 0, math.MaxUint8, func(v []uint8) tensor.HostArray { return tensor.Uint8Array(v) })
	case tensor.HostUint8Clamped:
		out := make(tensor.Uint8ClampedArray, len(data))
		for i, x := range data {
			if math.IsNaN(x) {
				continue
			}
			out[i] = uint8(math.RoundToEven(min(max(x, 0), 255)))
		}
		return out, nil
	case tensor.HostInt16:
		return decodeInts[int16](kind, data, math.MinInt16, math.MaxInt16, func(v []int16) tensor.HostArray { return tensor.Int16Array(v) })
	case tensor.HostUint16:
		return decodeInts[uint16](kind, data, 0, math.MaxUint16, func(v []uint16) tensor.HostArray { return tensor.Uint16Array(v) })
	case tensor.HostInt32:
		return decodeInts[int32](kind, data, math.MinInt32, math.MaxInt32, func(v []int32) tensor.HostArray { return tensor.Int32Array(v) })
	case tensor.HostUint32:
		return decodeInts[uint32](kind, data, 0, math.MaxUint32, func(v []uint32) tensor.HostArray { return tensor.Uint32Array(v) })
	case tensor.HostFloat32:
		out := make(tensor.Float32Array, len(data))
		for i, x := range data {
			out[i] = float32(x)
		}
		return out, nil
	case tensor.HostFloat64:
		return tensor.Float64Array(append([]float64(nil), data...)), nil
	default:
		return nil, fmt.Errorf("%w: host type %q", tensor.ErrUnsupportedType, kind)
	}
}

func decodeInts[T int8 | uint8 | int16 | uint16 | int32 | uint32](kind tensor.HostKind, data []float64, lo, hi float64, wrap func([]T) tensor.HostArray) (tensor.HostArray, error) {
	out := make([]T, len(data))
	for i, x := range data {
		if x != math.Trunc(x) || x < lo || x > hi {
			return nil, fmt.Errorf("%w: element %d (%v) is not a valid %s element", ErrInvalidHostValue, i, x, kind)
		}
		out[i] = T(x)
	}
	return wrap(out), nil
}

func encodeArray(arr tensor.HostArray) ([]float64, error) {
	switch a := arr.(type) {
	case tensor.Int8Array:
		return widen(a), nil
	case tensor.Uint8Array:
		return widen(a), nil
	case tensor.Uint8ClampedArray:
		return widen(a), nil
	case tensor.Int16Array:
		return widen(a), nil
	case tensor.Uint16Array:
		return widen(a), nil
	case tensor.Int32Array:
		return widen(a), nil
	case tensor.Uint32Array:
		return widen(a), nil
	case tensor.Float32Array:
		return widen(a), nil
	case tensor.Float64Array:
		return append([]float64(nil), a...), nil
	default:
		return nil, fmt.Errorf("%w: host array %T", tensor.ErrUnsupportedType, arr)
	}
}

func widen[T int8 | uint8 | int16 | uint16 | int32 | uint32 | float32](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// ZeroInputs builds an all-zero input for every signature. Each fact must
// be concrete and its dtype must have a host counterpart.
func ZeroInputs(sigs []pipeline.Signature) ([]HostInput, error) {
	out := make([]HostInput, len(sigs))
	for i, s := range sigs {
		if err := s.Fact.RequireResolved(); err != nil {
			return nil, fmt.Errorf("input %q: %w", s.Name, err)
		}
		shape, ok := s.Fact.Shape()
		kind, hasKind := s.Fact.DType()
		if !ok || !hasKind {
			return nil, fmt.Errorf("input %q: %w: %s", s.Name, fact.ErrIncompleteFact, s.Fact)
		}
		hostKind, ok := inputHostKind(kind)
		if !ok {
			return nil, fmt.Errorf("input %q: %w: %s has no host array", s.Name, tensor.ErrUnsupportedType, kind)
		}
		n, err := tensor.NumElements(shape)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", s.Name, err)
		}
		arr, err := decodeArray(hostKind, make([]float64, n))
		if err != nil {
			return nil, err
		}
		out[i] = HostInput{Data: arr, Shape: shape}
	}
	return out, nil
}

// inputHostKind picks the host kind that becomes kind on input.
func inputHostKind(kind tensor.Kind) (tensor.HostKind, bool) {
	var best tensor.HostKind
	for hk, k := range tensor.InputKinds() {
		if k != kind {
			continue
		}
		if best == "" || hk < best {
			best = hk
		}
	}
	return best, best != ""
}
