package transaction

import (
	"log/slog"

	"github.com/aretw0/remodel/pkg/registry"
)

// Defaults for the fetch tuning knobs.
const (
	DefaultInitialCollectionSize = 0
	DefaultCollectionChunkSize   = 300
	DefaultRevisionPrefetchDepth = 100
)

// maxParallelFetches bounds concurrent Revisions calls of a single load.
const maxParallelFetches = 4

// Option configures a Transaction.
type Option func(*Transaction)

// WithInitialCollectionSize sets how many elements of a multi-valued
// feature are resolved in the first batch. Negative values mean 0.
func WithInitialCollectionSize(n int) Option {
	return func(t *Transaction) {
		t.initialCollectionSize = max(n, 0)
	}
}

// WithCollectionChunkSize sets the batch size for elements beyond the
// initial window. Values below 1 keep the default.
func WithCollectionChunkSize(n int) Option {
	return func(t *Transaction) {
		if n > 0 {
			t.collectionChunkSize = n
		}
	}
}

// WithRevisionPrefetchDepth sets how many revisions a single fetch may
// carry. Values below 1 keep the default.
func WithRevisionPrefetchDepth(n int) Option {
	return func(t *Transaction) {
		if n > 0 {
			t.revisionPrefetchDepth = n
		}
	}
}

// WithTypes shares a type registry with the transaction. By default the
// transaction builds one over the session's package snapshot.
func WithTypes(types *registry.Registry) Option {
	return func(t *Transaction) {
		t.types = types
	}
}

// WithLogger configures a logger for the Transaction.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transaction) {
		t.logger = logger
	}
}
