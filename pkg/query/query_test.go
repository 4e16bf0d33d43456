package query_test

import (
	"context"
	"testing"

	"github.com/aretw0/remodel/internal/testutils"
	"github.com/aretw0/remodel/pkg/adapters/memory"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/query"
	"github.com/aretw0/remodel/pkg/session"
	"github.com/aretw0/remodel/pkg/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, hub *memory.Hub, path string) *transaction.Transaction {
	t.Helper()
	ctx := context.Background()
	sess, err := session.Connect(ctx, hub, hub.URL(), "repo", session.WithPackages(testutils.TreePackage()))
	require.NoError(t, err)
	tx, err := transaction.Open(ctx, sess, path, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Close() })
	return tx
}

// populate adds a Tree root holding one Branch and leaves Leaf nodes.
func populate(t *testing.T, tx *transaction.Transaction, leaves int) {
	t.Helper()
	ctx := context.Background()
	newObj := func(name string) *transaction.Object {
		c, err := tx.Types().Lookup(name)
		require.NoError(t, err)
		obj, err := tx.Create(ctx, c)
		require.NoError(t, err)
		return obj
	}

	tree := newObj("Tree")
	require.NoError(t, tx.AddRoot(ctx, tree))
	require.NoError(t, tree.Add(ctx, "nodes", newObj("Branch")))
	for range leaves {
		require.NoError(t, tree.Add(ctx, "nodes", newObj("Leaf")))
	}
}

func TestEngine(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub("local")
	hub.CreateRepository("repo")

	other := open(t, hub, "/other")
	populate(t, other, 3)
	require.NoError(t, other.Commit(ctx))

	tx := open(t, hub, "/tree")
	populate(t, tx, 2)
	engine := query.NewEngine(tx, tx.Types())

	t.Run("Scoped to the resource", func(t *testing.T) {
		leaves, err := engine.AllOfType(ctx, "Leaf")
		require.NoError(t, err)
		assert.Len(t, leaves, 2)

		// Without the filter the store answer spans both resources.
		leafClass, err := tx.Types().Lookup("Leaf")
		require.NoError(t, err)
		all, err := tx.Instances(ctx, leafClass, true)
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})

	t.Run("Kind includes subtypes", func(t *testing.T) {
		exact, err := engine.AllOfType(ctx, "tree::Node")
		require.NoError(t, err)
		assert.Empty(t, exact)

		kind, err := engine.AllOfKind(ctx, "tree::Node")
		require.NoError(t, err)
		assert.Len(t, kind, 3)

		leaves, err := engine.AllOfType(ctx, "Leaf")
		require.NoError(t, err)
		assert.Subset(t, kind, leaves)
	})

	t.Run("Unknown type", func(t *testing.T) {
		_, err := engine.AllOfKind(ctx, "Forest")
		assert.ErrorIs(t, err, domain.ErrUnknownType)
	})
}

type loaderFunc func(ctx context.Context, depth int) error

func (f loaderFunc) Prefetch(ctx context.Context, depth int) error { return f(ctx, depth) }

func TestPrefetcher(t *testing.T) {
	var depths []int
	p := query.NewPrefetcher(loaderFunc(func(_ context.Context, depth int) error {
		depths = append(depths, depth)
		return nil
	}))

	require.NoError(t, p.PrefetchAll(context.Background()))
	assert.Equal(t, []int{domain.DepthInfinite}, depths)
}
