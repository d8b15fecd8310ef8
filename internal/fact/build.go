package fact

import (
	"bytes"
	"fmt"
	"maps"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/example/go-graphbridge/internal/tensor"
)

// hostDTypes is the dtype table of the declarative fact format. Only kinds
// a host array can carry into the engine are named.
var hostDTypes = map[string]tensor.Kind{
	"int8":    tensor.Int8,
	"uint8":   tensor.Uint8,
	"int16":   tensor.Int16,
	"uint16":  tensor.Uint16,
	"int32":   tensor.Int32,
	"float32": tensor.Float32,
	"float64": tensor.Float64,
}

// DTypeNames returns the dtype table used by Build.
func DTypeNames() map[string]tensor.Kind {
	return maps.Clone(hostDTypes)
}

// LookupDType resolves a fact dtype name.
func LookupDType(name string) (tensor.Kind, error) {
	k, ok := hostDTypes[name]
	if !ok {
		return tensor.Invalid, fmt.Errorf("%w %q", ErrUnknownDtypeName, name)
	}
	return k, nil
}

// Build parses the 2-slot form [dtypeSlot, dimsSlot]. A nil slot is absent.
// Dims entries are numbers, one-character symbol strings, records
// {"id": "n", "slope": 2, "intercept": 3}, or Dim values.
func Build(slots []any) (ShapeFact, error) {
	if len(slots) > 2 {
		return ShapeFact{}, fmt.Errorf("%w: expected [dtype, dims], got %d slots", ErrInvalidDimensionSpec, len(slots))
	}
	var dtypeSlot, dimsSlot any
	if len(slots) > 0 {
		dtypeSlot = slots[0]
	}
	if len(slots) > 1 {
		dimsSlot = slots[1]
	}
	if dtypeSlot == nil && dimsSlot == nil {
		return ShapeFact{}, ErrIncompleteFact
	}

	var f ShapeFact
	if dtypeSlot != nil {
		name, ok := dtypeSlot.(string)
		if !ok {
			return ShapeFact{}, fmt.Errorf("%w: dtype slot must be a name, got %T", ErrInvalidDimensionSpec, dtypeSlot)
		}
		k, err := LookupDType(name)
		if err != nil {
			return ShapeFact{}, err
		}
		f.dtype = k
	}

	if dimsSlot != nil {
		dims, err := buildDims(dimsSlot)
		if err != nil {
			return ShapeFact{}, err
		}
		f.dims = dims
		f.ranked = true
	}
	return f, nil
}

func buildDims(slot any) ([]Dim, error) {
	var entries []any
	switch v := slot.(type) {
	case []any:
		entries = v
	case []Dim:
		entries = make([]any, len(v))
		for i, d := range v {
			entries[i] = d
		}
	case []int:
		entries = make([]any, len(v))
		for i, d := range v {
			entries[i] = d
		}
	case []int64:
		entries = make([]any, len(v))
		for i, d := range v {
			entries[i] = d
		}
	default:
		return nil, fmt.Errorf("%w: dims slot must be a list, got %T", ErrInvalidDimensionSpec, slot)
	}

	dims := make([]Dim, len(entries))
	for i, e := range entries {
		d, err := buildDim(e)
		if err != nil {
			return nil, fmt.Errorf("dims[%d]: %w", i, err)
		}
		dims[i] = d
	}
	return dims, nil
}

func buildDim(entry any) (Dim, error) {
	switch v := entry.(type) {
	case Fixed:
		if v < 0 {
			return nil, fmt.Errorf("%w: negative extent %d", ErrInvalidDimensionSpec, v)
		}
		return v, nil
	case Symbol:
		return v, nil
	case Affine:
		return v, nil
	case string:
		sym, err := symbolOf(v)
		if err != nil {
			return nil, err
		}
		return sym, nil
	case map[string]any:
		return buildAffine(v)
	}

	n, ok := number(entry)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported entry %T", ErrInvalidDimensionSpec, entry)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, fmt.Errorf("%w: non-finite extent %v", ErrInvalidDimensionSpec, n)
	}
	r := math.Round(n)
	if r < 0 || r > math.MaxInt32 {
		return nil, fmt.Errorf("%w: extent %v out of range", ErrInvalidDimensionSpec, n)
	}
	return Fixed(int64(r)), nil
}

func buildAffine(rec map[string]any) (Dim, error) {
	for key := range rec {
		if key != "id" && key != "slope" && key != "intercept" {
			return nil, fmt.Errorf("%w: unexpected affine key %q", ErrInvalidDimensionSpec, key)
		}
	}
	id, ok := rec["id"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: affine record needs a string id", ErrInvalidDimensionSpec)
	}
	sym, err := symbolOf(id)
	if err != nil {
		return nil, err
	}
	slope, err := integer(rec, "slope")
	if err != nil {
		return nil, err
	}
	intercept, err := integer(rec, "intercept")
	if err != nil {
		return nil, err
	}
	return Affine{Symbol: sym, Slope: slope, Intercept: intercept}, nil
}

func integer(rec map[string]any, key string) (int64, error) {
	raw, present := rec[key]
	if !present {
		return 0, fmt.Errorf("%w: affine record needs %q", ErrInvalidDimensionSpec, key)
	}
	n, ok := number(raw)
	if !ok || n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: affine %s must be an integer, got %v", ErrInvalidDimensionSpec, key, raw)
	}
	return int64(n), nil
}

func symbolOf(s string) (Symbol, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("%w: symbol %q must be a single character", ErrInvalidDimensionSpec, s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || r == ' ' {
		return 0, fmt.Errorf("%w: invalid symbol %q", ErrInvalidDimensionSpec, s)
	}
	return Symbol(r), nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ParseJSON decodes a fact from JSON. Both the slot form
// `["float32", [1, "n", {"id": "n", "slope": 2, "intercept": 3}]]` and the
// object form `{"dtype": "float32", "shape": [1, 3]}` are accepted.
func ParseJSON(data []byte) (ShapeFact, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return ShapeFact{}, fmt.Errorf("%w: %v", ErrInvalidDimensionSpec, err)
		}
		for key := range obj {
			if key != "dtype" && key != "shape" {
				return ShapeFact{}, fmt.Errorf("%w: unexpected fact key %q", ErrInvalidDimensionSpec, key)
			}
		}
		return Build([]any{obj["dtype"], obj["shape"]})
	}

	var slots []any
	if err := json.Unmarshal(trimmed, &slots); err != nil {
		return ShapeFact{}, fmt.Errorf("%w: %v", ErrInvalidDimensionSpec, err)
	}
	return Build(slots)
}

// Parse accepts either JSON (ParseJSON) or the compact form (ParseCompact).
func Parse(s string) (ShapeFact, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") && looksLikeJSON(s) {
		return ParseJSON([]byte(s))
	}
	return ParseCompact(s)
}

// looksLikeJSON tells the slot form apart from a bare compact shape such
// as "[1,3]", which carries no dtype slot.
func looksLikeJSON(s string) bool {
	return strings.ContainsAny(s, "\"{") || strings.Contains(s, "null")
}

var affinePattern = regexp.MustCompile(`^([+-]?\d*)(\pL)([+-]\d+)?$`)

// ParseCompact parses the form produced by ShapeFact.String:
// "float32[1,n,2n+3]", "float32", "[1,3]" or "?[1,3]".
func ParseCompact(s string) (ShapeFact, error) {
	s = strings.TrimSpace(s)
	dtypePart, dimsPart, hasDims := strings.Cut(s, "[")
	dtypePart = strings.TrimSpace(dtypePart)

	slots := []any{nil, nil}
	if dtypePart != "" && dtypePart != "?" {
		slots[0] = dtypePart
	}
	if hasDims {
		body, ok := strings.CutSuffix(strings.TrimSpace(dimsPart), "]")
		if !ok {
			return ShapeFact{}, fmt.Errorf("%w: missing ']' in %q", ErrInvalidDimensionSpec, s)
		}
		dims := []any{}
		if strings.TrimSpace(body) != "" {
			for _, tok := range strings.Split(body, ",") {
				d, err := parseCompactDim(strings.TrimSpace(tok))
				if err != nil {
					return ShapeFact{}, err
				}
				dims = append(dims, d)
			}
		}
		slots[1] = dims
	}
	return Build(slots)
}

func parseCompactDim(tok string) (any, error) {
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return n, nil
	}
	m := affinePattern.FindStringSubmatch(tok)
	if m == nil {
		return nil, fmt.Errorf("%w: cannot parse dimension %q", ErrInvalidDimensionSpec, tok)
	}
	if m[1] == "" && m[3] == "" {
		return m[2], nil
	}
	slope := int64(1)
	switch m[1] {
	case "", "+":
	case "-":
		slope = -1
	default:
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: slope in %q", ErrInvalidDimensionSpec, tok)
		}
		slope = v
	}
	var intercept int64
	if m[3] != "" {
		v, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: intercept in %q", ErrInvalidDimensionSpec, tok)
		}
		intercept = v
	}
	return map[string]any{"id": m[2], "slope": slope, "intercept": intercept}, nil
}

// MarshalJSON encodes the slot form.
func (f ShapeFact) MarshalJSON() ([]byte, error) {
	slots := []any{nil, nil}
	if f.dtype != tensor.Invalid {
		slots[0] = f.dtype.String()
	}
	if f.ranked {
		dims := make([]any, len(f.dims))
		for i, d := range f.dims {
			switch d := d.(type) {
			case Fixed:
				dims[i] = int64(d)
			case Symbol:
				dims[i] = d.String()
			case Affine:
				dims[i] = map[string]any{"id": d.Symbol.String(), "slope": d.Slope, "intercept": d.Intercept}
			}
		}
		slots[1] = dims
	}
	return json.Marshal(slots)
}

// UnmarshalJSON decodes either JSON form accepted by ParseJSON.
func (f *ShapeFact) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseEngine parses the compact form with any engine kind as dtype, for
// facts declared inside model files rather than supplied by the host.
func ParseEngine(s string) (ShapeFact, error) {
	s = strings.TrimSpace(s)
	dtypePart, dimsPart, hasDims := strings.Cut(s, "[")
	dtypePart = strings.TrimSpace(dtypePart)

	var f ShapeFact
	if hasDims {
		shaped, err := ParseCompact("[" + dimsPart)
		if err != nil {
			return ShapeFact{}, err
		}
		f = shaped
	}
	if dtypePart != "" && dtypePart != "?" {
		k, err := tensor.ParseKind(dtypePart)
		if err != nil {
			return ShapeFact{}, fmt.Errorf("%w %q", ErrUnknownDtypeName, dtypePart)
		}
		f.dtype = k
	}
	if f.IsEmpty() {
		return ShapeFact{}, ErrIncompleteFact
	}
	return f, nil
}
