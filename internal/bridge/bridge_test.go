package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/example/go-graphbridge/internal/fact"
	"github.com/example/go-graphbridge/internal/fetch"
	"github.com/example/go-graphbridge/internal/graph"
	"github.com/example/go-graphbridge/internal/pipeline"
	"github.com/example/go-graphbridge/internal/tensor"
)

const linearModel = `{
  "name": "linear",
  "metadata": {"owner": "bridge-tests"},
  "inputs": [{"name": "x", "fact": "float32[1,4]"}],
  "outputs": [{"name": "y", "fact": "float32[1,2]"}],
  "initializers": [{"name": "w", "dtype": "float32", "shape": [4, 2], "data": [1, 0, 0, 1, 1, 0, 0, 1]}],
  "nodes": [{"op": "MatMul", "inputs": ["x", "w"], "outputs": ["y"]}]
}`

const castModel = `
inputs:
  - name: x
    fact: "float32[n]"
nodes:
  - op: Cast
    inputs: [x]
    outputs: [y]
    attrs:
      to: int64
`

func open(t *testing.T, data string, format graph.Format, cfg pipeline.Config) *Model {
	t.Helper()
	cfg.Format = format
	m, err := Open(context.Background(), Options{Data: []byte(data), Config: cfg})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestOpenAndRun(t *testing.T) {
	m := open(t, linearModel, graph.FormatTyped, pipeline.Config{Optimize: true})
	if m.PlanKind() != pipeline.PlanOptimized {
		t.Fatalf("plan kind = %s", m.PlanKind())
	}
	if diff := cmp.Diff([]string{"x"}, m.InputNames()); diff != "" {
		t.Fatalf("inputs (-want +got):\n%s", diff)
	}

	outs, err := m.Run(context.Background(), []HostInput{{Data: tensor.Float32Array{1, 2, 3, 4}, Shape: []int{1, 4}}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []HostOutput{{Name: "y", Data: tensor.Float32Array{4, 6}, Shape: []int{1, 2}}}
	if diff := cmp.Diff(want, outs); diff != "" {
		t.Fatalf("outputs (-want +got):\n%s", diff)
	}
}

func TestRunNarrowsEngineKinds(t *testing.T) {
	m := open(t, castModel, graph.FormatYAML, pipeline.Config{})
	if m.PlanKind() != pipeline.PlanPreInference {
		t.Fatalf("plan kind = %s", m.PlanKind())
	}
	outs, err := m.Run(context.Background(), []HostInput{{Data: tensor.Float32Array{-2, 0, 7}, Shape: []int{3}}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(tensor.HostArray(tensor.Int32Array{-2, 0, 7}), outs[0].Data); diff != "" {
		t.Fatalf("int64 output should narrow to Int32Array (-want +got):\n%s", diff)
	}
}

func TestRunRejectsBadInputs(t *testing.T) {
	m := open(t, linearModel, graph.FormatTyped, pipeline.Config{Optimize: true})
	tests := []struct {
		name   string
		inputs []HostInput
		want   error
	}{
		{
			name:   "uint32 is output only",
			inputs: []HostInput{{Data: tensor.Uint32Array{1, 2, 3, 4}, Shape: []int{1, 4}}},
			want:   tensor.ErrUnsupportedType,
		},
		{
			name:   "short data",
			inputs: []HostInput{{Data: tensor.Float32Array{1, 2, 3}, Shape: []int{1, 4}}},
			want:   tensor.ErrShapeMismatch,
		},
		{
			name:   "wrong shape for plan",
			inputs: []HostInput{{Data: tensor.Float32Array{1, 2, 3, 4}, Shape: []int{4, 1}}},
			want:   tensor.ErrShapeMismatch,
		},
		{
			name:   "too many inputs",
			inputs: []HostInput{{Data: tensor.Float32Array{1, 2, 3, 4}, Shape: []int{1, 4}}, {Data: tensor.Float32Array{1}, Shape: []int{1}}},
			want:   pipeline.ErrArityMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Run(context.Background(), tt.inputs); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v; want %v", err, tt.want)
			}
		})
	}
}

func TestMetadataIsCopied(t *testing.T) {
	m := open(t, linearModel, graph.FormatTyped, pipeline.Config{})
	md := m.Metadata()
	md["owner"] = "changed"
	if got := m.Metadata()["owner"]; got != "bridge-tests" {
		t.Fatalf("owner = %q; want bridge-tests", got)
	}
}

func TestOpenFromLocator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cast.yaml")
	if err := os.WriteFile(path, []byte(castModel), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	m, err := Open(context.Background(), Options{Locator: path, Fetcher: fetch.File{}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()
	if diff := cmp.Diff([]string{"y"}, m.OutputNames()); diff != "" {
		t.Fatalf("outputs (-want +got):\n%s", diff)
	}

	if _, err := Open(context.Background(), Options{}); err == nil {
		t.Fatal("expected error without data or locator")
	}
}

func TestOpenConfigErrors(t *testing.T) {
	_, err := Open(context.Background(), Options{
		Data:   []byte(linearModel),
		Config: pipeline.Config{Format: graph.FormatTyped, OutputNames: []string{"missing"}},
	})
	if !errors.Is(err, pipeline.ErrUnknownTensorName) {
		t.Fatalf("err = %v; want ErrUnknownTensorName", err)
	}

	_, err = Open(context.Background(), Options{
		Data:   []byte(castModel),
		Config: pipeline.Config{Format: graph.FormatYAML, Optimize: true},
	})
	if !errors.Is(err, fact.ErrUnresolvedSymbolicDimension) {
		t.Fatalf("err = %v; want ErrUnresolvedSymbolicDimension", err)
	}
}

func TestValueDecode(t *testing.T) {
	tests := []struct {
		name    string
		value   Value
		want    tensor.HostArray
		wantErr error
	}{
		{name: "float32", value: Value{Type: tensor.HostFloat32, Data: []float64{0.5, -1}}, want: tensor.Float32Array{0.5, -1}},
		{name: "int16", value: Value{Type: tensor.HostInt16, Data: []float64{-300, 12}}, want: tensor.Int16Array{-300, 12}},
		{name: "clamped", value: Value{Type: tensor.HostUint8Clamped, Data: []float64{-5, 300, 1.5, 2.5}}, want: tensor.Uint8ClampedArray{0, 255, 2, 2}},
		{name: "int8 overflow", value: Value{Type: tensor.HostInt8, Data: []float64{128}}, wantErr: ErrInvalidHostValue},
		{name: "fractional int", value: Value{Type: tensor.HostInt32, Data: []float64{1.25}}, wantErr: ErrInvalidHostValue},
		{name: "negative unsigned", value: Value{Type: tensor.HostUint16, Data: []float64{-1}}, wantErr: ErrInvalidHostValue},
		{name: "unknown type", value: Value{Type: "BigInt64Array", Data: []float64{1}}, wantErr: tensor.ErrUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := tt.value.Decode()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v; want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(tt.want, in.Data); diff != "" {
				t.Fatalf("data (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]int{len(tt.value.Data)}, in.Shape); diff != "" {
				t.Fatalf("default shape (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	v, err := Encode(HostOutput{Name: "y", Data: tensor.Uint32Array{4294967295, 0}, Shape: []int{2}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := Value{Name: "y", Type: tensor.HostUint32, Shape: []int{2}, Data: []float64{4294967295, 0}}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Fatalf("value (-want +got):\n%s", diff)
	}
}

func TestZeroInputs(t *testing.T) {
	ins, err := ZeroInputs([]pipeline.Signature{
		{Name: "x", Fact: fact.Concrete(tensor.Float32, []int{2, 2})},
		{Name: "mask", Fact: fact.Concrete(tensor.Uint8, []int{3})},
	})
	if err != nil {
		t.Fatalf("ZeroInputs: %v", err)
	}
	want := []HostInput{
		{Data: tensor.Float32Array{0, 0, 0, 0}, Shape: []int{2, 2}},
		{Data: tensor.Uint8Array{0, 0, 0}, Shape: []int{3}},
	}
	if diff := cmp.Diff(want, ins); diff != "" {
		t.Fatalf("inputs (-want +got):\n%s", diff)
	}

	_, err = ZeroInputs([]pipeline.Signature{{Name: "x", Fact: fact.New(tensor.Float32, []fact.Dim{fact.Symbol('n')})}})
	if !errors.Is(err, fact.ErrUnresolvedSymbolicDimension) {
		t.Fatalf("symbolic: err = %v", err)
	}
	_, err = ZeroInputs([]pipeline.Signature{{Name: "ids", Fact: fact.Concrete(tensor.Int64, []int{2})}})
	if !errors.Is(err, tensor.ErrUnsupportedType) {
		t.Fatalf("int64: err = %v", err)
	}
	_, err = ZeroInputs([]pipeline.Signature{{Name: "x", Fact: fact.New(tensor.Invalid, []fact.Dim{fact.Fixed(2)})}})
	if !errors.Is(err, fact.ErrIncompleteFact) {
		t.Fatalf("no dtype: err = %v", err)
	}
}
