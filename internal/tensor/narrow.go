package tensor

import "github.com/x448/float16"

// NarrowInt64 keeps the low 32 bits of each value, reinterpreted as signed.
func NarrowInt64(v []int64) Int32Array {
	out := make(Int32Array, len(v))
	for i, x := range v {
		out[i] = int32(x)
	}
	return out
}

// NarrowUint64 reduces each value modulo 2^32.
func NarrowUint64(v []uint64) Uint32Array {
	out := make(Uint32Array, len(v))
	for i, x := range v {
		out[i] = uint32(x)
	}
	return out
}

// WidenFloat16 converts half-precision values to float32. Every float16
// value, NaN payloads and infinities included, is exactly representable.
func WidenFloat16(v []float16.Float16) Float32Array {
	out := make(Float32Array, len(v))
	for i, x := range v {
		out[i] = x.Float32()
	}
	return out
}

// BoolToUint8 maps false to 0 and true to 1.
func BoolToUint8(v []bool) Uint8Array {
	out := make(Uint8Array, len(v))
	for i, b := range v {
		if b {
			out[i] = 1
		}
	}
	return out
}
