package graph

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/x448/float16"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/tensor"
)

// ONNX TensorProto.DataType values.
const (
	onnxFloat   = 1
	onnxUint8   = 2
	onnxInt8    = 3
	onnxUint16  = 4
	onnxInt16   = 5
	onnxInt32   = 6
	onnxInt64   = 7
	onnxString  = 8
	onnxBool    = 9
	onnxFloat16 = 10
	onnxDouble  = 11
	onnxUint32  = 12
	onnxUint64  = 13
)

var onnxKinds = map[uint64]tensor.Kind{
	onnxFloat:   tensor.Float32,
	onnxUint8:   tensor.Uint8,
	onnxInt8:    tensor.Int8,
	onnxUint16:  tensor.Uint16,
	onnxInt16:   tensor.Int16,
	onnxInt32:   tensor.Int32,
	onnxInt64:   tensor.Int64,
	onnxString:  tensor.String,
	onnxBool:    tensor.Bool,
	onnxFloat16: tensor.Float16,
	onnxDouble:  tensor.Float64,
	onnxUint32:  tensor.Uint32,
	onnxUint64:  tensor.Uint64,
}

// KindFromONNX maps an ONNX data type code to a tensor kind.
func KindFromONNX(code int64) (tensor.Kind, bool) {
	k, ok := onnxKinds[uint64(code)]
	return k, ok
}

// ONNXDataType returns the ONNX data type code of a kind.
func ONNXDataType(k tensor.Kind) (int, bool) {
	for code, kind := range onnxKinds {
		if kind == k {
			return int(code), true
		}
	}
	return 0, false
}

// field is one decoded protobuf field.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	fixed64 uint64
	bytes   []byte
}

func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.Fixed64Type:
			f.fixed64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// varints decodes a repeated varint field in either packed or unpacked form.
func (f field) varints() ([]uint64, error) {
	if f.typ == protowire.VarintType {
		return []uint64{f.varint}, nil
	}
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("field %d: unexpected wire type %d", f.num, f.typ)
	}
	var out []uint64
	for b := f.bytes; len(b) > 0; {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

func (f field) float32s() ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		return []float32{math.Float32frombits(f.fixed32)}, nil
	}
	if f.typ != protowire.BytesType || len(f.bytes)%4 != 0 {
		return nil, fmt.Errorf("field %d: malformed packed floats", f.num)
	}
	out := make([]float32, len(f.bytes)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(f.bytes[4*i:]))
	}
	return out, nil
}

func (f field) float64s() ([]float64, error) {
	if f.typ == protowire.Fixed64Type {
		return []float64{math.Float64frombits(f.fixed64)}, nil
	}
	if f.typ != protowire.BytesType || len(f.bytes)%8 != 0 {
		return nil, fmt.Errorf("field %d: malformed packed doubles", f.num)
	}
	out := make([]float64, len(f.bytes)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(f.bytes[8*i:]))
	}
	return out, nil
}

// ReadONNX decodes an ONNX ModelProto. Only the subset needed for dataflow
// is read: nodes with scalar, list and tensor attributes, initializers,
// input/output/value_info types and metadata_props. Symbolic dimension
// names are mapped to single-character symbols.
func ReadONNX(data []byte) (*Graph, error) {
	g := New(FormatONNX)
	r := &onnxReader{g: g, symbols: map[string]fact.Symbol{}, used: map[rune]bool{}}
	if err := r.model(data); err != nil {
		return nil, fmt.Errorf("%w: onnx: %v", ErrParse, err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: onnx: %v", ErrParse, err)
	}
	return g, nil
}

type onnxReader struct {
	g       *Graph
	symbols map[string]fact.Symbol
	used    map[rune]bool
}

func (r *onnxReader) model(b []byte) error {
	sawGraph := false
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			r.g.Metadata["ir_version"] = strconv.FormatUint(f.varint, 10)
		case 2:
			r.g.Metadata["producer_name"] = string(f.bytes)
		case 3:
			r.g.Metadata["producer_version"] = string(f.bytes)
		case 7:
			sawGraph = true
			return r.graph(f.bytes)
		case 14:
			var key, value string
			if err := walk(f.bytes, func(e field) error {
				switch e.num {
				case 1:
					key = string(e.bytes)
				case 2:
					value = string(e.bytes)
				}
				return nil
			}); err != nil {
				return err
			}
			r.g.Metadata[key] = value
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !sawGraph {
		return fmt.Errorf("model has no graph")
	}
	return nil
}

func (r *onnxReader) graph(b []byte) error {
	var declaredInputs []string
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			n, err := r.node(f.bytes)
			if err != nil {
				return err
			}
			r.g.Nodes = append(r.g.Nodes, n)
		case 2:
			r.g.Name = string(f.bytes)
		case 5:
			name, t, err := decodeTensor(f.bytes)
			if err != nil {
				return err
			}
			r.g.Initializers[name] = t
		case 11, 12, 13:
			name, vf, err := r.valueInfo(f.bytes)
			if err != nil {
				return err
			}
			if !vf.IsEmpty() {
				r.g.Values[name] = vf
			}
			switch f.num {
			case 11:
				declaredInputs = append(declaredInputs, name)
			case 12:
				r.g.Outputs = append(r.g.Outputs, name)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Older exporters list initializers among the inputs.
	for _, name := range declaredInputs {
		if _, ok := r.g.Initializers[name]; !ok {
			r.g.Inputs = append(r.g.Inputs, name)
		}
	}
	return nil
}

func (r *onnxReader) node(b []byte) (Node, error) {
	n := Node{Attrs: map[string]any{}}
	var domain string
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			n.Inputs = append(n.Inputs, string(f.bytes))
		case 2:
			n.Outputs = append(n.Outputs, string(f.bytes))
		case 3:
			n.Name = string(f.bytes)
		case 4:
			n.Op = string(f.bytes)
		case 5:
			name, v, err := decodeAttr(f.bytes)
			if err != nil {
				return err
			}
			if v != nil {
				n.Attrs[name] = v
			}
		case 7:
			domain = string(f.bytes)
		}
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	if domain != "" && domain != "ai.onnx" {
		n.Op = domain + "." + n.Op
	}
	return n, nil
}

// AttributeProto.AttributeType values.
const (
	attrFloat  = 1
	attrInt    = 2
	attrString = 3
	attrTensor = 4
	attrFloats = 6
	attrInts   = 7
)

func decodeAttr(b []byte) (string, any, error) {
	var (
		name   string
		typ    uint64
		fval   float32
		ival   int64
		sval   string
		tval   *tensor.Tensor
		floats []float32
		ints   []int64
		seen   = map[protowire.Number]bool{}
	)
	err := walk(b, func(f field) error {
		seen[f.num] = true
		switch f.num {
		case 1:
			name = string(f.bytes)
		case 2:
			fval = math.Float32frombits(f.fixed32)
		case 3:
			ival = int64(f.varint)
		case 4:
			sval = string(f.bytes)
		case 5:
			_, t, err := decodeTensor(f.bytes)
			if err != nil {
				return err
			}
			tval = t
		case 7:
			v, err := f.float32s()
			if err != nil {
				return err
			}
			floats = append(floats, v...)
		case 8:
			v, err := f.varints()
			if err != nil {
				return err
			}
			for _, x := range v {
				ints = append(ints, int64(x))
			}
		case 20:
			typ = f.varint
		}
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("attribute %q: %w", name, err)
	}

	if typ == 0 {
		switch {
		case seen[8]:
			typ = attrInts
		case seen[7]:
			typ = attrFloats
		case seen[5]:
			typ = attrTensor
		case seen[4]:
			typ = attrString
		case seen[3]:
			typ = attrInt
		case seen[2]:
			typ = attrFloat
		}
	}
	switch typ {
	case attrFloat:
		return name, fval, nil
	case attrInt:
		return name, ival, nil
	case attrString:
		return name, sval, nil
	case attrTensor:
		return name, tval, nil
	case attrFloats:
		if floats == nil {
			floats = []float32{}
		}
		return name, floats, nil
	case attrInts:
		if ints == nil {
			ints = []int64{}
		}
		return name, ints, nil
	default:
		// graphs, sparse tensors and type protos carry no dataflow
		return name, nil, nil
	}
}

func decodeTensor(b []byte) (string, *tensor.Tensor, error) {
	var (
		name     string
		dims     []int
		dataType uint64
		raw      []byte
		hasRaw   bool
		floats   []float32
		doubles  []float64
		ints     []uint64
		strs     []string
	)
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var v []uint64
			v, err = f.varints()
			for _, d := range v {
				dims = append(dims, int(int64(d)))
			}
		case 2:
			dataType = f.varint
		case 4:
			var v []float32
			v, err = f.float32s()
			floats = append(floats, v...)
		case 5, 7, 11:
			var v []uint64
			v, err = f.varints()
			ints = append(ints, v...)
		case 6:
			strs = append(strs, string(f.bytes))
		case 8:
			name = string(f.bytes)
		case 9:
			raw = f.bytes
			hasRaw = true
		case 10:
			var v []float64
			v, err = f.float64s()
			doubles = append(doubles, v...)
		}
		return err
	})
	if err != nil {
		return "", nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	if dims == nil {
		dims = []int{}
	}

	kind, ok := onnxKinds[dataType]
	if !ok {
		return "", nil, fmt.Errorf("tensor %q: unsupported data type %d", name, dataType)
	}
	var t *tensor.Tensor
	switch {
	case kind == tensor.String:
		t, err = tensor.New(strs, dims)
	case hasRaw:
		t, err = fromRaw(kind, raw, dims)
	case kind == tensor.Float32:
		t, err = tensor.New(floats, dims)
	case kind == tensor.Float64:
		t, err = tensor.New(doubles, dims)
	case kind == tensor.Float16:
		bits := make([]float16.Float16, len(ints))
		for i, v := range ints {
			bits[i] = float16.Frombits(uint16(v))
		}
		t, err = tensor.New(bits, dims)
	case kind == tensor.Int64:
		vals := make([]int64, len(ints))
		for i, v := range ints {
			vals[i] = int64(v)
		}
		t, err = tensor.New(vals, dims)
	case kind == tensor.Uint64:
		t, err = tensor.New(ints, dims)
	default:
		vals := make([]float64, len(ints))
		for i, v := range ints {
			vals[i] = float64(int64(v))
		}
		t, err = tensor.FromFloat64s(kind, vals, dims)
	}
	if err != nil {
		return "", nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	return name, t, nil
}

func fromRaw(kind tensor.Kind, raw []byte, dims []int) (*tensor.Tensor, error) {
	le := binary.LittleEndian
	switch kind {
	case tensor.Float32:
		return tensor.New(rawSlice(raw, 4, func(b []byte) float32 { return math.Float32frombits(le.Uint32(b)) }), dims)
	case tensor.Float64:
		return tensor.New(rawSlice(raw, 8, func(b []byte) float64 { return math.Float64frombits(le.Uint64(b)) }), dims)
	case tensor.Float16:
		return tensor.New(rawSlice(raw, 2, func(b []byte) float16.Float16 { return float16.Frombits(le.Uint16(b)) }), dims)
	case tensor.Int8:
		return tensor.New(rawSlice(raw, 1, func(b []byte) int8 { return int8(b[0]) }), dims)
	case tensor.Uint8:
		return tensor.New(rawSlice(raw, 1, func(b []byte) uint8 { return b[0] }), dims)
	case tensor.Bool:
		return tensor.New(rawSlice(raw, 1, func(b []byte) bool { return b[0] != 0 }), dims)
	case tensor.Int16:
		return tensor.New(rawSlice(raw, 2, func(b []byte) int16 { return int16(le.Uint16(b)) }), dims)
	case tensor.Uint16:
		return tensor.New(rawSlice(raw, 2, le.Uint16), dims)
	case tensor.Int32:
		return tensor.New(rawSlice(raw, 4, func(b []byte) int32 { return int32(le.Uint32(b)) }), dims)
	case tensor.Uint32:
		return tensor.New(rawSlice(raw, 4, le.Uint32), dims)
	case tensor.Int64:
		return tensor.New(rawSlice(raw, 8, func(b []byte) int64 { return int64(le.Uint64(b)) }), dims)
	case tensor.Uint64:
		return tensor.New(rawSlice(raw, 8, le.Uint64), dims)
	default:
		return nil, fmt.Errorf("raw data for %s", kind)
	}
}

func rawSlice[T any](raw []byte, width int, decode func([]byte) T) []T {
	out := make([]T, len(raw)/width)
	for i := range out {
		out[i] = decode(raw[i*width : (i+1)*width])
	}
	return out
}

func (r *onnxReader) valueInfo(b []byte) (string, fact.ShapeFact, error) {
	var (
		name  string
		vfact fact.ShapeFact
	)
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			name = string(f.bytes)
		case 2:
			return walk(f.bytes, func(tp field) error {
				if tp.num != 1 {
					return nil
				}
				parsed, err := r.tensorType(tp.bytes)
				vfact = parsed
				return err
			})
		}
		return nil
	})
	if err != nil {
		return "", fact.ShapeFact{}, fmt.Errorf("value %q: %w", name, err)
	}
	return name, vfact, nil
}

func (r *onnxReader) tensorType(b []byte) (fact.ShapeFact, error) {
	kind := tensor.Invalid
	var dims []fact.Dim
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			if k, ok := onnxKinds[f.varint]; ok {
				kind = k
			}
		case 2:
			dims = []fact.Dim{}
			return walk(f.bytes, func(d field) error {
				if d.num != 1 {
					return nil
				}
				dim, err := r.dimension(d.bytes)
				dims = append(dims, dim)
				return err
			})
		}
		return nil
	})
	return fact.New(kind, dims), err
}

func (r *onnxReader) dimension(b []byte) (fact.Dim, error) {
	var (
		value    int64
		hasValue bool
		param    string
	)
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			value = int64(f.varint)
			hasValue = true
		case 2:
			param = string(f.bytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if hasValue && value >= 0 {
		return fact.Fixed(value), nil
	}
	if affine, ok := affineParam(param); ok {
		r.used[rune(affine.Symbol)] = true
		return affine, nil
	}
	return r.symbol(param), nil
}

// affineParam recognizes dim_params written as affine terms, e.g. "2n+3".
func affineParam(param string) (fact.Affine, bool) {
	if utf8.RuneCountInString(param) < 2 {
		return fact.Affine{}, false
	}
	f, err := fact.ParseCompact("[" + param + "]")
	if err != nil {
		return fact.Affine{}, false
	}
	dims, _ := f.Dims()
	if len(dims) != 1 {
		return fact.Affine{}, false
	}
	a, ok := dims[0].(fact.Affine)
	return a, ok
}

// symbol maps a dim_param to a single-character symbol. A name keeps its
// first character when that is still free; otherwise, and for anonymous
// dims, a fresh symbol is allocated.
func (r *onnxReader) symbol(param string) fact.Symbol {
	if s, ok := r.symbols[param]; ok && param != "" {
		return s
	}
	c, _ := utf8.DecodeRuneInString(param)
	s := fact.Symbol(c)
	if param == "" || c == utf8.RuneError || r.used[c] {
		s = r.fresh()
	}
	r.used[rune(s)] = true
	if param != "" {
		r.symbols[param] = s
		r.g.SymbolNames[s] = param
	}
	return s
}

var freshSymbols = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

func (r *onnxReader) fresh() fact.Symbol {
	for _, c := range freshSymbols {
		if !r.used[c] {
			return fact.Symbol(c)
		}
	}
	for c := rune(0x3b1); ; c++ {
		if !r.used[c] {
			return fact.Symbol(c)
		}
	}
}
