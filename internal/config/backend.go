package config

import (
	"fmt"
	"strings"
)

const (
	BackendReference = "reference"
	BackendORT       = "ort"
)

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendReference
	}
	switch backend {
	case BackendReference, BackendORT:
		return backend, nil
	case "onnxruntime":
		return BackendORT, nil
	case "go", "native":
		return BackendReference, nil
	default:
		return "", fmt.Errorf(
			"invalid backend %q (expected %s|%s)",
			raw,
			BackendReference,
			BackendORT,
		)
	}
}
