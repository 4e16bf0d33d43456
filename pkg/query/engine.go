// Package query answers "all instances of" questions for one resource.
package query

import (
	"context"
	"log/slog"

	"github.com/aretw0/remodel/internal/logging"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/transaction"
)

// Source runs repository-wide instance queries.
type Source interface {
	Path() string
	Instances(ctx context.Context, class *domain.Class, exact bool) ([]*transaction.Object, error)
}

// Resolver turns type names into classes.
type Resolver interface {
	Lookup(name string) (*domain.Class, error)
}

// Engine queries instances of a type and keeps those of the source's resource.
type Engine struct {
	src    Source
	types  Resolver
	logger *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger configures a logger for the Engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine over src.
func NewEngine(src Source, types Resolver, opts ...Option) *Engine {
	e := &Engine{
		src:    src,
		types:  types,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AllOfType returns the instances of exactly the named class.
func (e *Engine) AllOfType(ctx context.Context, name string) ([]*transaction.Object, error) {
	return e.run(ctx, name, true)
}

// AllOfKind returns the instances of the named class and of its subclasses.
func (e *Engine) AllOfKind(ctx context.Context, name string) ([]*transaction.Object, error) {
	return e.run(ctx, name, false)
}

func (e *Engine) run(ctx context.Context, name string, exact bool) ([]*transaction.Object, error) {
	class, err := e.types.Lookup(name)
	if err != nil {
		return nil, err
	}

	// The store answers for the whole repository.
	all, err := e.src.Instances(ctx, class, exact)
	if err != nil {
		return nil, err
	}
	out, err := FilterResource(ctx, all, e.src.Path())
	if err != nil {
		return nil, err
	}

	e.logger.Debug("instances query",
		"class", class.QualifiedName(),
		"exact", exact,
		"repository_matches", len(all),
		"resource_matches", len(out),
	)
	return out, nil
}

// FilterResource keeps the objects owned by the resource at path.
func FilterResource(ctx context.Context, objs []*transaction.Object, path string) ([]*transaction.Object, error) {
	out := make([]*transaction.Object, 0, len(objs))
	for _, obj := range objs {
		owner, err := obj.Resource(ctx)
		if err != nil {
			return nil, err
		}
		if owner == path {
			out = append(out, obj)
		}
	}
	return out, nil
}
