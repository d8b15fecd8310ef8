package tensor

import (
	"fmt"
	"strings"
)

// Kind is the element type of an engine tensor.
type Kind uint8

const (
	Invalid Kind = iota
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Float32
	Float64
	Int64
	Uint64
	Float16
	Bool
	Blob
	String
	QInt8
	QUint8
	// TDim holds symbolic dimension expressions produced by shape
	// computations inside the engine.
	TDim
)

var kindNames = [...]string{
	Invalid: "invalid",
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Float32: "float32",
	Float64: "float64",
	Int64:   "int64",
	Uint64:  "uint64",
	Float16: "float16",
	Bool:    "bool",
	Blob:    "blob",
	String:  "string",
	QInt8:   "qint8",
	QUint8:  "quint8",
	TDim:    "tdim",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k > Invalid && k <= TDim
}

// IsFloat reports whether k is a floating point kind.
func (k Kind) IsFloat() bool {
	return k == Float16 || k == Float32 || k == Float64
}

// IsNumeric reports whether values of k take part in arithmetic.
func (k Kind) IsNumeric() bool {
	switch k {
	case Int8, Uint8, Int16, Uint16, Int32, Uint32, Int64, Uint64, Float16, Float32, Float64:
		return true
	default:
		return false
	}
}

// ParseKind resolves an engine-side kind name. It accepts every kind,
// including the engine-only ones, and the usual ONNX spellings.
func ParseKind(raw string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.TrimPrefix(name, "tensor(")
	name = strings.TrimSuffix(name, ")")

	switch name {
	case "float":
		return Float32, nil
	case "double":
		return Float64, nil
	case "half":
		return Float16, nil
	case "long":
		return Int64, nil
	}

	for k, n := range kindNames {
		if Kind(k) != Invalid && n == name {
			return Kind(k), nil
		}
	}

	return Invalid, fmt.Errorf("%w: unknown kind %q", ErrUnsupportedType, raw)
}
