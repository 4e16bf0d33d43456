package ports

import (
	"context"

	"github.com/aretw0/remodel/pkg/domain"
)

// Backend is the client's view of one repository inside a remote model store.
// Implementations must be safe for concurrent use by several sessions.
type Backend interface {
	// PackageURIs lists the namespace URIs registered in the repository, in registry order.
	PackageURIs(ctx context.Context) ([]string, error)

	// Package returns a registered package.
	Package(ctx context.Context, nsURI string) (*domain.Package, error)

	// Resource returns the resource at path.
	// Returns domain.ErrResourceNotFound if it does not exist.
	Resource(ctx context.Context, path string) (*domain.Resource, error)

	// Revisions returns the latest revision of every requested object, in request order.
	// Returns domain.ErrObjectNotFound if any of them does not exist.
	Revisions(ctx context.Context, ids []domain.ObjectID) ([]*domain.Revision, error)

	// Instances returns the objects of a class anywhere in the repository.
	Instances(ctx context.Context, q domain.InstancesQuery) ([]domain.ObjectID, error)

	// CrossReferences returns every non-containment reference whose target is in targets.
	CrossReferences(ctx context.Context, targets []domain.ObjectID) ([]*domain.CrossReference, error)

	// Subtree returns the revisions reachable from the resource roots through
	// containment, up to depth levels (domain.DepthInfinite for all).
	Subtree(ctx context.Context, path string, depth int) ([]*domain.Revision, error)

	// Commit applies a change set atomically.
	// Returns domain.ErrConflict if any base version is stale.
	Commit(ctx context.Context, cs *domain.ChangeSet) error

	// Close releases the connection. Calling it twice is allowed.
	Close() error
}

// Dialer opens a Backend for a repository at a store endpoint.
type Dialer interface {
	// Dial connects to the repository. Transport failures and unknown
	// repositories are reported as errors; wrapping them is up to the caller.
	Dial(ctx context.Context, url, repository string) (Backend, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url, repository string) (Backend, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, url, repository string) (Backend, error) {
	return f(ctx, url, repository)
}
