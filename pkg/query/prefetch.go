package query

import (
	"context"

	"github.com/aretw0/remodel/pkg/domain"
)

// SubtreeLoader loads the containment tree of a resource.
type SubtreeLoader interface {
	Prefetch(ctx context.Context, depth int) error
}

// Prefetcher warms the revision cache before a full traversal.
// It is an optimization only: traversals are correct without it.
type Prefetcher struct {
	src SubtreeLoader
}

// NewPrefetcher creates a prefetcher over src.
func NewPrefetcher(src SubtreeLoader) *Prefetcher {
	return &Prefetcher{src: src}
}

// PrefetchAll loads the whole resource tree in one request.
func (p *Prefetcher) PrefetchAll(ctx context.Context) error {
	return p.src.Prefetch(ctx, domain.DepthInfinite)
}
