package remodel

import (
	"context"

	"github.com/aretw0/remodel/pkg/deletion"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/query"
	"github.com/aretw0/remodel/pkg/registry"
	"github.com/aretw0/remodel/pkg/transaction"
)

// TypeResolver turns type names into classes.
type TypeResolver interface {
	Lookup(name string) (*domain.Class, error)
	IsKindOf(c, super *domain.Class) bool
}

// InstanceQuerier finds the instances of a type in the loaded resource.
type InstanceQuerier interface {
	AllOfType(ctx context.Context, name string) ([]*transaction.Object, error)
	AllOfKind(ctx context.Context, name string) ([]*transaction.Object, error)
}

// SubtreePrefetcher warms the revision cache before a full traversal.
type SubtreePrefetcher interface {
	PrefetchAll(ctx context.Context) error
}

// SubtreeDeleter removes an object and everything it contains.
type SubtreeDeleter interface {
	DeleteSubtree(ctx context.Context, root *transaction.Object) error
}

// Capabilities builds the components a Model delegates to once its
// transaction is open. Nil fields fall back to the defaults.
type Capabilities struct {
	Querier    func(tx *transaction.Transaction, types TypeResolver) InstanceQuerier
	Prefetcher func(tx *transaction.Transaction) SubtreePrefetcher
	Deleter    func(tx *transaction.Transaction) SubtreeDeleter
}

var (
	_ TypeResolver      = (*registry.Registry)(nil)
	_ InstanceQuerier   = (*query.Engine)(nil)
	_ SubtreePrefetcher = (*query.Prefetcher)(nil)
	_ SubtreeDeleter    = (*deletion.Deleter)(nil)
)
