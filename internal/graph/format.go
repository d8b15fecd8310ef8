package graph

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format names a model serialization.
type Format string

const (
	FormatONNX  Format = "onnx"
	FormatYAML  Format = "yaml"
	FormatTyped Format = "typed"
)

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatONNX, FormatYAML, FormatTyped}
}

// ParseFormat resolves a format name.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatONNX, FormatYAML, FormatTyped:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "json":
		return FormatTyped, nil
	default:
		return "", fmt.Errorf("%w %q (expected onnx, yaml or typed)", ErrUnknownFormat, raw)
	}
}

// FormatFromPath guesses the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: %q has no extension", ErrUnknownFormat, path)
	}
	return ParseFormat(ext)
}

// FullyResolved reports whether the format's reader produces graphs whose
// every value has a concrete fact.
func (f Format) FullyResolved() bool {
	return f == FormatTyped
}

// Reader decodes model bytes into a graph.
type Reader interface {
	Read(data []byte) (*Graph, error)
}

type ReaderFunc func(data []byte) (*Graph, error)

func (f ReaderFunc) Read(data []byte) (*Graph, error) { return f(data) }

// ReaderFor returns the reader of a format.
func ReaderFor(f Format) (Reader, error) {
	switch f {
	case FormatONNX:
		return ReaderFunc(ReadONNX), nil
	case FormatYAML:
		return ReaderFunc(ReadYAML), nil
	case FormatTyped:
		return ReaderFunc(ReadTyped), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFormat, f)
	}
}

// Read decodes data with the reader of format and keeps data as the graph
// source.
func Read(data []byte, format Format) (*Graph, error) {
	r, err := ReaderFor(format)
	if err != nil {
		return nil, err
	}
	g, err := r.Read(data)
	if err != nil {
		return nil, err
	}
	g.Format = format
	g.Source = data
	return g, nil
}
