package fact

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/example/go-graphbridge/internal/tensor"
)

func TestBuildMixedDims(t *testing.T) {
	f, err := Build([]any{"float32", []any{1.0, "n", map[string]any{"id": "n", "slope": 2.0, "intercept": 3.0}}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	dt, ok := f.DType()
	if !ok || dt != tensor.Float32 {
		t.Fatalf("dtype = %s (%v), want float32", dt, ok)
	}
	dims, ok := f.Dims()
	if !ok {
		t.Fatal("expected dims")
	}
	want := []Dim{Fixed(1), Symbol('n'), Affine{Symbol: 'n', Slope: 2, Intercept: 3}}
	if diff := cmp.Diff(want, dims); diff != "" {
		t.Fatalf("dims (-want +got):\n%s", diff)
	}
	if !f.HasUnresolvedSymbols() {
		t.Fatal("expected unresolved symbols")
	}
	if err := f.RequireResolved(); !errors.Is(err, ErrUnresolvedSymbolicDimension) {
		t.Fatalf("expected ErrUnresolvedSymbolicDimension, got %v", err)
	}
	if got := f.String(); got != "float32[1,n,2n+3]" {
		t.Fatalf("String() = %q", got)
	}
}

func TestBuildSlots(t *testing.T) {
	tests := []struct {
		name    string
		slots   []any
		want    string
		wantErr error
	}{
		{name: "dtype only", slots: []any{"int8", nil}, want: "int8"},
		{name: "dtype only short", slots: []any{"uint16"}, want: "uint16"},
		{name: "dims only", slots: []any{nil, []any{1.0, 3.0}}, want: "?[1,3]"},
		{name: "scalar", slots: []any{"float64", []any{}}, want: "float64[]"},
		{name: "rounds numbers", slots: []any{nil, []any{2.6, 0.4}}, want: "?[3,0]"},
		{name: "go ints", slots: []any{"int32", []int{1, 224}}, want: "int32[1,224]"},
		{name: "dim values", slots: []any{nil, []Dim{Fixed(4), Symbol('b')}}, want: "?[4,b]"},
		{name: "both absent", slots: []any{nil, nil}, wantErr: ErrIncompleteFact},
		{name: "empty", slots: nil, wantErr: ErrIncompleteFact},
		{name: "too many slots", slots: []any{"float32", []any{1.0}, 3.0}, wantErr: ErrInvalidDimensionSpec},
		{name: "unknown dtype", slots: []any{"int64", nil}, wantErr: ErrUnknownDtypeName},
		{name: "uint32 is not a host input", slots: []any{"uint32", nil}, wantErr: ErrUnknownDtypeName},
		{name: "dtype not a string", slots: []any{1.0, nil}, wantErr: ErrInvalidDimensionSpec},
		{name: "dims not a list", slots: []any{nil, "n"}, wantErr: ErrInvalidDimensionSpec},
		{name: "long symbol", slots: []any{nil, []any{"batch"}}, wantErr: ErrInvalidDimensionSpec},
		{name: "empty symbol", slots: []any{nil, []any{""}}, wantErr: ErrInvalidDimensionSpec},
		{name: "bool entry", slots: []any{nil, []any{true}}, wantErr: ErrInvalidDimensionSpec},
		{name: "negative extent", slots: []any{nil, []any{-1.0}}, wantErr: ErrInvalidDimensionSpec},
		{name: "affine missing slope", slots: []any{nil, []any{map[string]any{"id": "n", "intercept": 1.0}}}, wantErr: ErrInvalidDimensionSpec},
		{name: "affine fractional slope", slots: []any{nil, []any{map[string]any{"id": "n", "slope": 1.5, "intercept": 1.0}}}, wantErr: ErrInvalidDimensionSpec},
		{name: "affine extra key", slots: []any{nil, []any{map[string]any{"id": "n", "slope": 1.0, "intercept": 1.0, "x": 1.0}}}, wantErr: ErrInvalidDimensionSpec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Build(tt.slots)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if got := f.String(); got != tt.want {
				t.Fatalf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnknownDtypeIsInvalidDimensionSpecClass(t *testing.T) {
	_, err := Build([]any{"bfloat16", nil})
	if !errors.Is(err, ErrInvalidDimensionSpec) {
		t.Fatalf("expected ErrInvalidDimensionSpec class, got %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`["float32", [1, "n", {"id": "n", "slope": 2, "intercept": 3}]]`, "float32[1,n,2n+3]"},
		{`[null, [1, 3, 224, 224]]`, "?[1,3,224,224]"},
		{`{"dtype": "float32", "shape": [1, 3, 224, 224]}`, "float32[1,3,224,224]"},
		{`{"dtype": "uint8"}`, "uint8"},
	}
	for _, tt := range tests {
		f, err := ParseJSON([]byte(tt.in))
		if err != nil {
			t.Fatalf("ParseJSON(%s): %v", tt.in, err)
		}
		if got := f.String(); got != tt.want {
			t.Fatalf("ParseJSON(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := ParseJSON([]byte(`{}`)); !errors.Is(err, ErrIncompleteFact) {
		t.Fatalf("expected ErrIncompleteFact, got %v", err)
	}
	if _, err := ParseJSON([]byte(`{"kind": "x"}`)); !errors.Is(err, ErrInvalidDimensionSpec) {
		t.Fatalf("expected ErrInvalidDimensionSpec, got %v", err)
	}
	if _, err := ParseJSON([]byte(`[`)); !errors.Is(err, ErrInvalidDimensionSpec) {
		t.Fatalf("expected ErrInvalidDimensionSpec, got %v", err)
	}
}

func TestParseCompactRoundTrip(t *testing.T) {
	for _, s := range []string{"float32[1,n,2n+3]", "int16", "?[1,3]", "uint8[b,-n+4,3m-1]", "float64[]"} {
		f, err := ParseCompact(s)
		if err != nil {
			t.Fatalf("ParseCompact(%q): %v", s, err)
		}
		if got := f.String(); got != s {
			t.Fatalf("ParseCompact(%q).String() = %q", s, got)
		}
	}

	if _, err := ParseCompact("float32[1,3"); !errors.Is(err, ErrInvalidDimensionSpec) {
		t.Fatalf("expected ErrInvalidDimensionSpec, got %v", err)
	}
	if _, err := ParseCompact("float32[1,n*2]"); !errors.Is(err, ErrInvalidDimensionSpec) {
		t.Fatalf("expected ErrInvalidDimensionSpec, got %v", err)
	}
}

func TestParseDispatch(t *testing.T) {
	for in, want := range map[string]string{
		"[1,3]":                  "?[1,3]",
		`["int32", [2, "s"]]`:    "int32[2,s]",
		`{"shape": [1]}`:         "?[1]",
		"float32[1,3,224,224]":   "float32[1,3,224,224]",
		`[null, [1, {"id": "s", "slope": 1, "intercept": -1}]]`: "?[1,s-1]",
	} {
		f, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got := f.String(); got != want {
			t.Fatalf("Parse(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMarshalJSONRoundTrip(t *testing.T) {
	f, err := ParseCompact("float32[1,n,2n+3]")
	if err != nil {
		t.Fatalf("ParseCompact: %v", err)
	}
	data, err := f.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var back ShapeFact
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON(%s): %v", data, err)
	}
	if back.String() != f.String() {
		t.Fatalf("round trip %q -> %s -> %q", f, data, back)
	}
}

func TestUnify(t *testing.T) {
	graphFact := New(tensor.Invalid, []Dim{Symbol('N'), Fixed(3), Symbol('H'), Symbol('W')})

	refined, err := graphFact.Unify(Concrete(tensor.Float32, []int{1, 3, 224, 224}))
	if err != nil {
		t.Fatalf("Unify: %v", err)
	}
	if got := refined.String(); got != "float32[1,3,224,224]" {
		t.Fatalf("refined = %q", got)
	}
	if !refined.IsConcrete() {
		t.Fatal("expected concrete fact")
	}

	_, err = graphFact.Unify(Concrete(tensor.Float32, []int{1, 4, 224, 224}))
	if !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch on fixed axis, got %v", err)
	}
	_, err = graphFact.Unify(Concrete(tensor.Float32, []int{1, 3}))
	if !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch on rank, got %v", err)
	}
	_, err = New(tensor.Int32, nil).Unify(New(tensor.Float32, nil))
	if !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch on dtype, got %v", err)
	}

	kept, err := Concrete(tensor.Float32, []int{1, 3}).Unify(New(tensor.Invalid, []Dim{Symbol('n'), Fixed(3)}))
	if err != nil {
		t.Fatalf("Unify: %v", err)
	}
	if kept.String() != "float32[1,3]" {
		t.Fatalf("fixed axes must win over symbols, got %q", kept)
	}
}

func TestCheckBindsSymbols(t *testing.T) {
	f, err := ParseCompact("float32[n,2n+1]")
	if err != nil {
		t.Fatalf("ParseCompact: %v", err)
	}
	bindings := map[rune]int64{}
	if err := f.Check(tensor.Float32, []int{3, 7}, bindings); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if bindings['n'] != 3 {
		t.Fatalf("n bound to %d, want 3", bindings['n'])
	}

	if err := f.Check(tensor.Float32, []int{3, 8}, map[rune]int64{}); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if err := f.Check(tensor.Int32, []int{3, 7}, map[rune]int64{}); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("expected dtype mismatch, got %v", err)
	}

	resolved := f.Substitute(bindings)
	shape, ok := resolved.Shape()
	if !ok {
		t.Fatalf("expected concrete shape from %s", resolved)
	}
	if diff := cmp.Diff([]int{3, 7}, shape); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}
}

func TestAffineString(t *testing.T) {
	tests := []struct {
		d    Affine
		want string
	}{
		{Affine{'n', 1, 0}, "n"},
		{Affine{'n', -1, 4}, "-n+4"},
		{Affine{'n', 3, -1}, "3n-1"},
		{Affine{'n', 0, 5}, "5"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("%#v.String() = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestParseEngineAcceptsEngineKinds(t *testing.T) {
	f, err := ParseEngine("int64[n,4]")
	if err != nil {
		t.Fatalf("ParseEngine: %v", err)
	}
	if dt, _ := f.DType(); dt != tensor.Int64 {
		t.Fatalf("dtype = %s, want int64", dt)
	}
	if f.String() != "int64[n,4]" {
		t.Fatalf("String() = %q", f)
	}

	if _, err := ParseEngine("complex64[1]"); !errors.Is(err, ErrUnknownDtypeName) {
		t.Fatalf("expected ErrUnknownDtypeName, got %v", err)
	}
	if _, err := ParseEngine("?"); !errors.Is(err, ErrIncompleteFact) {
		t.Fatalf("expected ErrIncompleteFact, got %v", err)
	}
}
