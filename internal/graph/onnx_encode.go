package graph

import (
	"encoding/binary"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/x448/float16"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/tensor"
)

const (
	onnxIRVersion = 8
	onnxOpset     = 13
)

// EncodeONNX serializes g as an ONNX ModelProto, so graphs read from the
// textual formats can be handed to engines that only load ONNX.
// Symbolic dimensions become dim_params.
func EncodeONNX(g *Graph) ([]byte, error) {
	gb, err := encodeGraph(g)
	if err != nil {
		return nil, err
	}

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, onnxIRVersion)
	b = appendString(b, 2, "graphbridge")
	b = appendBytes(b, 7, gb)

	var opset []byte
	opset = protowire.AppendTag(opset, 2, protowire.VarintType)
	opset = protowire.AppendVarint(opset, onnxOpset)
	b = appendBytes(b, 8, opset)

	for _, k := range sortedKeys(g.Metadata) {
		if k == "ir_version" || k == "producer_name" || k == "producer_version" {
			continue
		}
		var entry []byte
		entry = appendString(entry, 1, k)
		entry = appendString(entry, 2, g.Metadata[k])
		b = appendBytes(b, 14, entry)
	}
	return b, nil
}

func encodeGraph(g *Graph) ([]byte, error) {
	var b []byte
	for _, n := range g.Nodes {
		nb, err := encodeNode(n)
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, 1, nb)
	}
	b = appendString(b, 2, g.Name)
	for _, name := range sortedKeys(g.Initializers) {
		tb, err := encodeTensor(name, g.Initializers[name])
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, 5, tb)
	}

	listed := make(map[string]bool)
	for _, name := range g.Inputs {
		b = appendBytes(b, 11, encodeValueInfo(g, name))
		listed[name] = true
	}
	for _, name := range g.Outputs {
		b = appendBytes(b, 12, encodeValueInfo(g, name))
		listed[name] = true
	}
	for _, name := range sortedKeys(g.Values) {
		if !listed[name] {
			b = appendBytes(b, 13, encodeValueInfo(g, name))
		}
	}
	return b, nil
}

func encodeNode(n Node) ([]byte, error) {
	var b []byte
	// empty names mark omitted optional operands and must keep their slot
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.Op)
	for _, name := range sortedKeys(n.Attrs) {
		ab, err := encodeAttr(name, n.Attrs[name])
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		b = appendBytes(b, 5, ab)
	}
	return b, nil
}

func encodeAttr(name string, v any) ([]byte, error) {
	b := appendString(nil, 1, name)
	var typ uint64
	switch v := v.(type) {
	case float32:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(v))
		typ = attrFloat
	case int64:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
		typ = attrInt
	case string:
		b = appendString(b, 4, v)
		typ = attrString
	case *tensor.Tensor:
		tb, err := encodeTensor("", v)
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, 5, tb)
		typ = attrTensor
	case []float32:
		var packed []byte
		for _, f := range v {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = appendBytes(b, 7, packed)
		typ = attrFloats
	case []int64:
		var packed []byte
		for _, i := range v {
			packed = protowire.AppendVarint(packed, uint64(i))
		}
		b = appendBytes(b, 8, packed)
		typ = attrInts
	default:
		return nil, fmt.Errorf("attribute %q: unsupported type %T", name, v)
	}
	b = protowire.AppendTag(b, 20, protowire.VarintType)
	b = protowire.AppendVarint(b, typ)
	return b, nil
}

func encodeTensor(name string, t *tensor.Tensor) ([]byte, error) {
	code, ok := ONNXDataType(t.Kind())
	if !ok {
		return nil, fmt.Errorf("tensor %q: %s has no onnx data type", name, t.Kind())
	}
	var b []byte
	for _, d := range t.Shape() {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(code))
	if name != "" {
		b = appendString(b, 8, name)
	}

	if t.Kind() == tensor.String {
		vals, err := tensor.Values[string](t)
		if err != nil {
			return nil, err
		}
		for _, s := range vals {
			b = appendString(b, 6, s)
		}
		return b, nil
	}
	raw, err := rawBytes(t)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	return appendBytes(b, 9, raw), nil
}

func rawBytes(t *tensor.Tensor) ([]byte, error) {
	le := binary.LittleEndian
	switch t.Kind() {
	case tensor.Float32:
		return toRaw(t, 4, func(b []byte, v float32) { le.PutUint32(b, math.Float32bits(v)) })
	case tensor.Float64:
		return toRaw(t, 8, func(b []byte, v float64) { le.PutUint64(b, math.Float64bits(v)) })
	case tensor.Int64:
		return toRaw(t, 8, func(b []byte, v int64) { le.PutUint64(b, uint64(v)) })
	case tensor.Uint64:
		return toRaw(t, 8, le.PutUint64)
	case tensor.Int32:
		return toRaw(t, 4, func(b []byte, v int32) { le.PutUint32(b, uint32(v)) })
	case tensor.Uint32:
		return toRaw(t, 4, le.PutUint32)
	case tensor.Int16:
		return toRaw(t, 2, func(b []byte, v int16) { le.PutUint16(b, uint16(v)) })
	case tensor.Uint16:
		return toRaw(t, 2, le.PutUint16)
	case tensor.Int8:
		return toRaw(t, 1, func(b []byte, v int8) { b[0] = byte(v) })
	case tensor.Uint8:
		return toRaw(t, 1, func(b []byte, v uint8) { b[0] = v })
	case tensor.Bool:
		return toRaw(t, 1, func(b []byte, v bool) {
			if v {
				b[0] = 1
			}
		})
	case tensor.Float16:
		return toRaw(t, 2, func(b []byte, v float16.Float16) { le.PutUint16(b, v.Bits()) })
	default:
		return nil, fmt.Errorf("%w: no raw encoding for %s", tensor.ErrUnsupportedType, t.Kind())
	}
}

func toRaw[T tensor.Element](t *tensor.Tensor, width int, put func([]byte, T)) ([]byte, error) {
	vals, err := tensor.Values[T](t)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(vals)*width)
	for i, v := range vals {
		put(out[i*width:(i+1)*width], v)
	}
	return out, nil
}

func encodeValueInfo(g *Graph, name string) []byte {
	b := appendString(nil, 1, name)
	f := g.Fact(name)
	if f.IsEmpty() {
		return b
	}

	var tt []byte
	if k, ok := f.DType(); ok {
		if code, ok := ONNXDataType(k); ok {
			tt = protowire.AppendTag(tt, 1, protowire.VarintType)
			tt = protowire.AppendVarint(tt, uint64(code))
		}
	}
	if dims, ok := f.Dims(); ok {
		var shape []byte
		for _, d := range dims {
			var db []byte
			if fixed, ok := d.(fact.Fixed); ok {
				db = protowire.AppendTag(db, 1, protowire.VarintType)
				db = protowire.AppendVarint(db, uint64(fixed))
			} else {
				db = appendString(db, 2, dimParam(g, d))
			}
			shape = appendBytes(shape, 1, db)
		}
		// an empty shape message still marks the value as ranked
		tt = protowire.AppendTag(tt, 2, protowire.BytesType)
		tt = protowire.AppendBytes(tt, shape)
	}
	typ := appendBytes(nil, 1, tt)
	return appendBytes(b, 2, typ)
}

func dimParam(g *Graph, d fact.Dim) string {
	sym, ok := d.(fact.Symbol)
	if !ok {
		return d.String()
	}
	if name, ok := g.SymbolNames[sym]; ok {
		return name
	}
	return sym.String()
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
