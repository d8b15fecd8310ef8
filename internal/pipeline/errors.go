package pipeline

import (
	"errors"
	"fmt"

	"github.com/example/go-graphbridge/internal/graph"
)

var (
	ErrIndexOutOfRange = errors.New("input index out of range")
	ErrArityMismatch   = errors.New("input count mismatch")
	ErrInvalidState    = errors.New("invalid pipeline state")
	ErrEngineFailure   = errors.New("engine failure")

	// ErrUnknownTensorName and ErrParse are the graph package sentinels,
	// re-exported so callers need not import graph.
	ErrUnknownTensorName = graph.ErrUnknownTensorName
	ErrParse             = graph.ErrParse
)

// EngineError carries a diagnostic from the inference engine unchanged.
// It matches both ErrEngineFailure and the underlying error.
type EngineError struct {
	Backend string
	Stage   string
	Err     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s %s: %s", ErrEngineFailure, e.Backend, e.Stage, e.Err.Error())
}

func (e *EngineError) Unwrap() []error {
	return []error{ErrEngineFailure, e.Err}
}

// Diagnostic returns the engine's own message.
func (e *EngineError) Diagnostic() string {
	return e.Err.Error()
}
