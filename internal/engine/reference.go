package engine

import (
	"log/slog"

	"github.com/example/go-graphbridge/internal/graph"
)

const ReferenceName = "reference"

// Reference is the pure-Go engine. It supports the operators in its
// registry and runs them on float64 intermediates.
type Reference struct {
	*Registry
	logger *slog.Logger
}

type Option func(*Reference)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reference) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithRegistry(reg *Registry) Option {
	return func(r *Reference) {
		if reg != nil {
			r.Registry = reg
		}
	}
}

func NewReference(opts ...Option) *Reference {
	r := &Reference{Registry: NewRegistry(), logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reference) Name() string { return ReferenceName }

// Check reports the first operator of g the registry cannot run.
func (r *Reference) Check(g *graph.Graph) error {
	for _, n := range g.Nodes {
		if _, err := r.Lookup(n.Op); err != nil {
			return err
		}
	}
	r.logger.Debug("graph supported", "nodes", len(g.Nodes), "backend", ReferenceName)
	return nil
}

var _ Backend = (*Reference)(nil)
