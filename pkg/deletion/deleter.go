/*
Package deletion removes object subtrees without leaving references to them.

Deletion is not atomic. Each step edits the transaction directly, so a
failure part way leaves the earlier edits pending; callers that need all or
nothing roll the transaction back.
*/
package deletion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/remodel/internal/logging"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/transaction"
)

// Graph finds incoming references across the whole repository.
type Graph interface {
	CrossReferences(ctx context.Context, targets []*transaction.Object) ([]*transaction.CrossReference, error)
}

// Deleter removes subtrees from a transaction.
type Deleter struct {
	graph  Graph
	logger *slog.Logger
}

// Option configures the Deleter.
type Option func(*Deleter)

// WithLogger configures a logger for the Deleter.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deleter) {
		d.logger = logger
	}
}

// New creates a deleter over graph.
func New(graph Graph, opts ...Option) *Deleter {
	d := &Deleter{
		graph:  graph,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DeleteSubtree removes root and everything it contains.
//
// Incoming references are severed before anything is detached. References
// held in derived or read-only features are left in place and keep
// pointing at the deleted objects.
func (d *Deleter) DeleteSubtree(ctx context.Context, root *transaction.Object) error {
	// 1. Collect root and its descendants
	subtree, err := collect(ctx, root)
	if err != nil {
		return fmt.Errorf("%w: collect %s: %w", domain.ErrDeletion, root, err)
	}

	// 2. Find references into the subtree from anywhere in the repository
	refs, err := d.graph.CrossReferences(ctx, subtree)
	if err != nil {
		return fmt.Errorf("%w: cross references of %s: %w", domain.ErrDeletion, root, err)
	}

	// 3. Sever them
	for _, ref := range refs {
		f := ref.Feature
		if f.Derived || !f.Changeable() {
			d.logger.Debug("keeping reference in unchangeable feature",
				"source", ref.Source.ID(),
				"feature", f.Name,
				"target", ref.Target.ID(),
			)
			continue
		}
		if f.Many {
			err = ref.Source.Remove(ctx, f.Name, ref.Target)
		} else {
			err = ref.Source.Set(ctx, f.Name, nil)
		}
		if err != nil {
			return fmt.Errorf("%w: unset %s.%s: %w", domain.ErrDeletion, ref.Source, f.Name, err)
		}
	}

	// 4. Detach, innermost first
	for i := len(subtree) - 1; i >= 0; i-- {
		if err := subtree[i].Detach(ctx); err != nil {
			return fmt.Errorf("%w: detach %s: %w", domain.ErrDeletion, subtree[i], err)
		}
	}

	d.logger.Debug("deleted subtree", "root", root.ID(), "objects", len(subtree), "references", len(refs))
	return nil
}

// collect walks containment breadth first.
func collect(ctx context.Context, root *transaction.Object) ([]*transaction.Object, error) {
	out := []*transaction.Object{root}
	for i := 0; i < len(out); i++ {
		children, err := out[i].Contents(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}
