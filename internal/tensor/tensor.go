// Package tensor holds the engine-side typed buffer and the conversions
// between it and host-native numeric arrays.
package tensor

import (
	"fmt"
	"slices"

	"github.com/x448/float16"
)

// Element lists the Go storage types a tensor can be built from.
type Element interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 |
		float16.Float16 | float32 | float64 | bool | string | []byte
}

// Quantization carries the affine parameters of a quantized tensor.
type Quantization struct {
	Scale     float32
	ZeroPoint int32
}

// Tensor is an immutable n-dimensional buffer owned by the engine. Tensors
// built from host data copy it; views produced by Permute share storage with
// their source and may not be laid out in row-major order.
type Tensor struct {
	kind    Kind
	shape   []int
	strides []int
	offset  int
	data    storage
	quant   *Quantization
}

type storage interface {
	pick(idx []int) storage
	window(off, n int) storage
}

type slice[T any] []T

func (s slice[T]) pick(idx []int) storage {
	out := make(slice[T], len(idx))
	for i, j := range idx {
		out[i] = s[j]
	}
	return out
}

func (s slice[T]) window(off, n int) storage {
	out := make(slice[T], n)
	copy(out, s[off:off+n])
	return out
}

// New copies data into a tensor of the given shape. The kind follows from T;
// []byte yields Blob and string yields String.
func New[T Element](data []T, shape []int) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v expects %d elements, got %d", ErrShapeMismatch, shape, n, len(data))
	}
	return build(kindOf[T](), slice[T](append([]T(nil), data...)), shape), nil
}

// NewQInt8 builds a quantized signed 8-bit tensor.
func NewQInt8(data []int8, shape []int, q Quantization) (*Tensor, error) {
	t, err := New(data, shape)
	if err != nil {
		return nil, err
	}
	t.kind = QInt8
	t.quant = &q
	return t, nil
}

// NewQUint8 builds a quantized unsigned 8-bit tensor.
func NewQUint8(data []uint8, shape []int, q Quantization) (*Tensor, error) {
	t, err := New(data, shape)
	if err != nil {
		return nil, err
	}
	t.kind = QUint8
	t.quant = &q
	return t, nil
}

// NewSymbolic builds a tensor of symbolic dimension expressions.
func NewSymbolic(exprs []string, shape []int) (*Tensor, error) {
	t, err := New(exprs, shape)
	if err != nil {
		return nil, err
	}
	t.kind = TDim
	return t, nil
}

// Zeros returns a zero-filled tensor of the given kind and shape.
func Zeros(kind Kind, shape []int) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}

	var s storage
	switch kind {
	case Int8, QInt8:
		s = make(slice[int8], n)
	case Uint8, QUint8:
		s = make(slice[uint8], n)
	case Int16:
		s = make(slice[int16], n)
	case Uint16:
		s = make(slice[uint16], n)
	case Int32:
		s = make(slice[int32], n)
	case Uint32:
		s = make(slice[uint32], n)
	case Int64:
		s = make(slice[int64], n)
	case Uint64:
		s = make(slice[uint64], n)
	case Float16:
		s = make(slice[float16.Float16], n)
	case Float32:
		s = make(slice[float32], n)
	case Float64:
		s = make(slice[float64], n)
	case Bool:
		s = make(slice[bool], n)
	case String, TDim:
		s = make(slice[string], n)
	case Blob:
		s = make(slice[[]byte], n)
	default:
		return nil, fmt.Errorf("%w: cannot allocate %s tensor", ErrUnsupportedType, kind)
	}

	t := build(kind, s, shape)
	if kind == QInt8 || kind == QUint8 {
		t.quant = &Quantization{Scale: 1}
	}
	return t, nil
}

func build(kind Kind, s storage, shape []int) *Tensor {
	sh := slices.Clone(shape)
	return &Tensor{
		kind:    kind,
		shape:   sh,
		strides: rowMajorStrides(sh),
		data:    s,
	}
}

func kindOf[T Element]() Kind {
	var zero T
	switch any(zero).(type) {
	case int8:
		return Int8
	case uint8:
		return Uint8
	case int16:
		return Int16
	case uint16:
		return Uint16
	case int32:
		return Int32
	case uint32:
		return Uint32
	case int64:
		return Int64
	case uint64:
		return Uint64
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case float64:
		return Float64
	case bool:
		return Bool
	case string:
		return String
	case []byte:
		return Blob
	default:
		return Invalid
	}
}

func (t *Tensor) Kind() Kind {
	return t.kind
}

func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

func (t *Tensor) Strides() []int {
	return slices.Clone(t.strides)
}

func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Len returns the number of logical elements.
func (t *Tensor) Len() int {
	n := 1
	for _, d := range t.shape {
		n *= d
	}
	return n
}

// Quantization returns the quantization parameters of a QInt8/QUint8 tensor.
func (t *Tensor) Quantization() (Quantization, bool) {
	if t.quant == nil {
		return Quantization{}, false
	}
	return *t.quant, true
}

// IsContiguous reports whether the logical elements are laid out in
// row-major order. Axes of extent one are ignored.
func (t *Tensor) IsContiguous() bool {
	if t.Len() == 0 {
		return true
	}
	expected := 1
	for d := len(t.shape) - 1; d >= 0; d-- {
		if t.shape[d] == 1 {
			continue
		}
		if t.strides[d] != expected {
			return false
		}
		expected *= t.shape[d]
	}
	return true
}

// Contiguous returns t when it is already row-major, otherwise a fresh
// row-major copy.
func (t *Tensor) Contiguous() *Tensor {
	if t.IsContiguous() {
		return t
	}
	return t.Clone()
}

// Clone returns a row-major copy of t that shares no storage with it.
func (t *Tensor) Clone() *Tensor {
	out := build(t.kind, t.data.pick(t.indices()), t.shape)
	if t.quant != nil {
		q := *t.quant
		out.quant = &q
	}
	return out
}

// Permute returns a view with axes reordered; the view shares storage.
func (t *Tensor) Permute(axes []int) (*Tensor, error) {
	if len(axes) != len(t.shape) {
		return nil, fmt.Errorf("%w: permutation %v for rank %d", ErrShapeMismatch, axes, len(t.shape))
	}
	seen := make([]bool, len(axes))
	shape := make([]int, len(axes))
	strides := make([]int, len(axes))
	for i, a := range axes {
		if a < 0 || a >= len(axes) || seen[a] {
			return nil, fmt.Errorf("%w: invalid permutation %v", ErrShapeMismatch, axes)
		}
		seen[a] = true
		shape[i] = t.shape[a]
		strides[i] = t.strides[a]
	}
	return &Tensor{
		kind:    t.kind,
		shape:   shape,
		strides: strides,
		offset:  t.offset,
		data:    t.data,
		quant:   t.quant,
	}, nil
}

// Reshape returns a row-major tensor with the same elements and a new shape.
func (t *Tensor) Reshape(shape []int) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n != t.Len() {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShapeMismatch, t.shape, shape)
	}
	src := t.Contiguous()
	sh := slices.Clone(shape)
	return &Tensor{
		kind:    src.kind,
		shape:   sh,
		strides: rowMajorStrides(sh),
		offset:  src.offset,
		data:    src.data,
		quant:   src.quant,
	}, nil
}

// Values returns the logical elements of t in row-major order. The result is
// a copy and T must match the tensor's storage type.
func Values[T Element](t *Tensor) ([]T, error) {
	s, ok := t.data.(slice[T])
	if !ok {
		var zero T
		return nil, fmt.Errorf("%w: %s tensor read as %T", ErrUnsupportedType, t.kind, zero)
	}
	if t.IsContiguous() {
		return s.window(t.offset, t.Len()).(slice[T]), nil
	}
	return s.pick(t.indices()).(slice[T]), nil
}

// indices maps each logical element to its physical storage position.
func (t *Tensor) indices() []int {
	n := t.Len()
	out := make([]int, n)
	coord := make([]int, len(t.shape))
	for i := 0; i < n; i++ {
		off := t.offset
		for d, c := range coord {
			off += c * t.strides[d]
		}
		out[i] = off
		for d := len(coord) - 1; d >= 0; d-- {
			coord[d]++
			if coord[d] < t.shape[d] {
				break
			}
			coord[d] = 0
		}
	}
	return out
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.kind, t.shape)
}
