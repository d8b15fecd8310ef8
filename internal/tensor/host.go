package tensor

import (
	"fmt"
	"maps"

	"github.com/x448/float16"
)

// HostKind names a host-native numeric array type.
type HostKind string

const (
	HostInt8         HostKind = "Int8Array"
	HostUint8        HostKind = "Uint8Array"
	HostUint8Clamped HostKind = "Uint8ClampedArray"
	HostInt16        HostKind = "Int16Array"
	HostUint16       HostKind = "Uint16Array"
	HostInt32        HostKind = "Int32Array"
	HostUint32       HostKind = "Uint32Array"
	HostFloat32      HostKind = "Float32Array"
	HostFloat64      HostKind = "Float64Array"
)

// HostArray is a host-native numeric array. The set of implementations is
// closed: the named slice types declared in this package.
type HostArray interface {
	HostKind() HostKind
	Len() int
	hostArray()
}

type (
	Int8Array         []int8
	Uint8Array        []uint8
	Uint8ClampedArray []uint8
	Int16Array        []int16
	Uint16Array       []uint16
	Int32Array        []int32
	Uint32Array       []uint32
	Float32Array      []float32
	Float64Array      []float64
)

func (Int8Array) HostKind() HostKind         { return HostInt8 }
func (Uint8Array) HostKind() HostKind        { return HostUint8 }
func (Uint8ClampedArray) HostKind() HostKind { return HostUint8Clamped }
func (Int16Array) HostKind() HostKind        { return HostInt16 }
func (Uint16Array) HostKind() HostKind       { return HostUint16 }
func (Int32Array) HostKind() HostKind        { return HostInt32 }
func (Uint32Array) HostKind() HostKind       { return HostUint32 }
func (Float32Array) HostKind() HostKind      { return HostFloat32 }
func (Float64Array) HostKind() HostKind      { return HostFloat64 }

func (a Int8Array) Len() int         { return len(a) }
func (a Uint8Array) Len() int        { return len(a) }
func (a Uint8ClampedArray) Len() int { return len(a) }
func (a Int16Array) Len() int        { return len(a) }
func (a Uint16Array) Len() int       { return len(a) }
func (a Int32Array) Len() int        { return len(a) }
func (a Uint32Array) Len() int       { return len(a) }
func (a Float32Array) Len() int      { return len(a) }
func (a Float64Array) Len() int      { return len(a) }

func (Int8Array) hostArray()         {}
func (Uint8Array) hostArray()        {}
func (Uint8ClampedArray) hostArray() {}
func (Int16Array) hostArray()        {}
func (Uint16Array) hostArray()       {}
func (Int32Array) hostArray()        {}
func (Uint32Array) hostArray()       {}
func (Float32Array) hostArray()      {}
func (Float64Array) hostArray()      {}

// The two directions are deliberately asymmetric: Uint32Array is produced
// on output (uint32 and narrowed uint64 tensors) but never accepted on input.
var (
	inputKinds = map[HostKind]Kind{
		HostInt8:         Int8,
		HostUint8:        Uint8,
		HostUint8Clamped: Uint8,
		HostInt16:        Int16,
		HostUint16:       Uint16,
		HostInt32:        Int32,
		HostFloat32:      Float32,
		HostFloat64:      Float64,
	}

	outputKinds = map[Kind]HostKind{
		Int8:    HostInt8,
		Uint8:   HostUint8,
		Int16:   HostInt16,
		Uint16:  HostUint16,
		Int32:   HostInt32,
		Uint32:  HostUint32,
		Float32: HostFloat32,
		Float64: HostFloat64,
		Int64:   HostInt32,
		Uint64:  HostUint32,
		Float16: HostFloat32,
		Bool:    HostUint8,
	}
)

// InputKinds returns the host kinds accepted by FromHost and the tensor kind
// each one becomes.
func InputKinds() map[HostKind]Kind {
	return maps.Clone(inputKinds)
}

// OutputKinds returns the tensor kinds ToHost can extract and the host kind
// each one becomes.
func OutputKinds() map[Kind]HostKind {
	return maps.Clone(outputKinds)
}

// FromHost copies a host array into a new tensor of the given shape.
func FromHost(arr HostArray, shape []int) (*Tensor, error) {
	if arr == nil {
		return nil, fmt.Errorf("%w: nil host array", ErrUnsupportedType)
	}
	kind, ok := inputKinds[arr.HostKind()]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not accepted as input", ErrUnsupportedType, arr.HostKind())
	}

	var (
		t   *Tensor
		err error
	)
	switch a := arr.(type) {
	case Int8Array:
		t, err = New([]int8(a), shape)
	case Uint8Array:
		t, err = New([]uint8(a), shape)
	case Uint8ClampedArray:
		t, err = New([]uint8(a), shape)
	case Int16Array:
		t, err = New([]int16(a), shape)
	case Uint16Array:
		t, err = New([]uint16(a), shape)
	case Int32Array:
		t, err = New([]int32(a), shape)
	case Float32Array:
		t, err = New([]float32(a), shape)
	case Float64Array:
		t, err = New([]float64(a), shape)
	default:
		return nil, fmt.Errorf("%w: host array %T", ErrUnsupportedType, arr)
	}
	if err != nil {
		return nil, err
	}
	if t.kind != kind {
		return nil, fmt.Errorf("%w: %s mapped to %s, want %s", ErrUnsupportedType, arr.HostKind(), t.kind, kind)
	}
	return t, nil
}

// ToHost copies a tensor out as a host array, narrowing engine-only kinds
// through the output table.
func ToHost(t *Tensor) (HostArray, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil tensor", ErrUnsupportedType)
	}
	if _, ok := outputKinds[t.kind]; !ok {
		return nil, fmt.Errorf("%w: %s tensors cannot be extracted", ErrUnsupportedType, t.kind)
	}
	if !t.IsContiguous() {
		return nil, fmt.Errorf("%w: %s with strides %v", ErrNonContiguousLayout, t, t.strides)
	}

	switch t.kind {
	case Int8:
		return extract[int8, Int8Array](t)
	case Uint8:
		return extract[uint8, Uint8Array](t)
	case Int16:
		return extract[int16, Int16Array](t)
	case Uint16:
		return extract[uint16, Uint16Array](t)
	case Int32:
		return extract[int32, Int32Array](t)
	case Uint32:
		return extract[uint32, Uint32Array](t)
	case Float32:
		return extract[float32, Float32Array](t)
	case Float64:
		return extract[float64, Float64Array](t)
	case Int64:
		v, err := Values[int64](t)
		if err != nil {
			return nil, err
		}
		return NarrowInt64(v), nil
	case Uint64:
		v, err := Values[uint64](t)
		if err != nil {
			return nil, err
		}
		return NarrowUint64(v), nil
	case Float16:
		v, err := Values[float16.Float16](t)
		if err != nil {
			return nil, err
		}
		return WidenFloat16(v), nil
	case Bool:
		v, err := Values[bool](t)
		if err != nil {
			return nil, err
		}
		return BoolToUint8(v), nil
	default:
		return nil, fmt.Errorf("%w: %s tensors cannot be extracted", ErrUnsupportedType, t.kind)
	}
}

func extract[T Element, A ~[]T](t *Tensor) (HostArray, error) {
	v, err := Values[T](t)
	if err != nil {
		return nil, err
	}
	arr := A(v)
	h, ok := any(arr).(HostArray)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a host array", ErrUnsupportedType, arr)
	}
	return h, nil
}
