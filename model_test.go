package remodel_test

import (
	"context"
	"testing"

	"github.com/aretw0/remodel"
	"github.com/aretw0/remodel/internal/testutils"
	"github.com/aretw0/remodel/pkg/adapters/memory"
	"github.com/aretw0/remodel/pkg/connector"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHub() *memory.Hub {
	hub := memory.NewHub("local")
	hub.CreateRepository("repo")
	return hub
}

func config(create, store bool) remodel.Config {
	cfg := remodel.DefaultConfig()
	cfg.URL = "mem://local"
	cfg.Repository = "repo"
	cfg.Path = "/tree"
	cfg.CreateMissing = create
	cfg.StoreOnDisposal = store
	return cfg
}

func load(t *testing.T, hub *memory.Hub, cfg remodel.Config, opts ...remodel.Option) *remodel.Model {
	t.Helper()
	opts = append([]remodel.Option{
		remodel.WithDialer(connector.New(connector.WithHub(hub))),
		remodel.WithPackages(testutils.TreePackage(), testutils.ForestPackage()),
	}, opts...)
	m := remodel.New(opts...)
	require.NoError(t, m.Load(context.Background(), cfg))
	t.Cleanup(func() { m.Dispose(context.Background()) })
	return m
}

func TestLoad_MissingResource(t *testing.T) {
	ctx := context.Background()
	hub := newHub()

	// 1. Without createMissing the load fails as a whole
	m := remodel.New(remodel.WithDialer(hub))
	err := m.Load(ctx, config(false, false))
	assert.ErrorIs(t, err, domain.ErrLoad)
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
	assert.Nil(t, m.Transaction())
	_, err = m.AllOfKind(ctx, "Tree")
	assert.ErrorIs(t, err, remodel.ErrNotLoaded)

	// 2. With createMissing the model is empty
	m = load(t, hub, config(true, false))
	contents, err := m.AllContents(ctx)
	require.NoError(t, err)
	assert.Empty(t, contents)
}

func TestLoad_Failures(t *testing.T) {
	ctx := context.Background()
	hub := newHub()

	err := remodel.New(remodel.WithDialer(hub)).Load(ctx, remodel.Config{URL: "mem://local"})
	assert.ErrorIs(t, err, domain.ErrLoad)
	assert.ErrorContains(t, err, "repo is required")

	cfg := config(true, false)
	cfg.Repository = "missing"
	err = remodel.New(remodel.WithDialer(hub)).Load(ctx, cfg)
	assert.ErrorIs(t, err, domain.ErrLoad)
	assert.ErrorIs(t, err, domain.ErrConnection)
	assert.ErrorIs(t, err, domain.ErrRepositoryNotFound)

	m := load(t, hub, config(true, false))
	assert.ErrorIs(t, m.Load(ctx, config(true, false)), domain.ErrLoad, "a loaded model cannot be loaded again")
}

func TestCreateInstance_CountsByKind(t *testing.T) {
	ctx := context.Background()
	m := load(t, newHub(), config(true, false))

	for i := range 3 {
		obj, err := m.CreateInstance(ctx, "Leaf")
		require.NoError(t, err)

		leaves, err := m.AllOfKind(ctx, m.TypeOf(obj).QualifiedName())
		require.NoError(t, err)
		assert.Len(t, leaves, i+1)
		assert.Contains(t, leaves, obj)
	}

	_, err := m.CreateInstance(ctx, "Branch")
	require.NoError(t, err)
	nodes, err := m.AllOfKind(ctx, "Node")
	require.NoError(t, err)
	assert.Len(t, nodes, 4)

	_, err = m.CreateInstance(ctx, "Node")
	assert.ErrorIs(t, err, domain.ErrAbstractType)
	_, err = m.CreateInstance(ctx, "Shrub")
	assert.ErrorIs(t, err, domain.ErrUnknownType)
}

func TestDispose_RoundTrip(t *testing.T) {
	ctx := context.Background()
	hub := newHub()

	// 1. Create under storeOnDisposal
	m := remodel.New(
		remodel.WithDialer(hub),
		remodel.WithPackages(testutils.TreePackage()),
	)
	require.NoError(t, m.Load(ctx, config(true, true)))
	for range 2 {
		_, err := m.CreateInstance(ctx, "Tree")
		require.NoError(t, err)
	}
	_, err := m.CreateInstance(ctx, "Leaf")
	require.NoError(t, err)
	before, err := m.AllOfKind(ctx, "Tree")
	require.NoError(t, err)

	report := m.Dispose(ctx)
	require.NoError(t, report.Err())
	assert.True(t, report.Committed)
	assert.Equal(t, transaction.DisposeReport{}, m.Dispose(ctx), "second dispose is a no-op")

	// 2. Reload with the store's own packages
	fresh := remodel.New(remodel.WithDialer(hub))
	require.NoError(t, fresh.Load(ctx, config(false, false)))
	defer fresh.Dispose(ctx)

	after, err := fresh.AllOfKind(ctx, "Tree")
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestDispose_WithoutStoreDiscards(t *testing.T) {
	ctx := context.Background()
	hub := newHub()

	m := remodel.New(remodel.WithDialer(hub), remodel.WithPackages(testutils.TreePackage()))
	require.NoError(t, m.Load(ctx, config(true, false)))
	_, err := m.CreateInstance(ctx, "Tree")
	require.NoError(t, err)

	report := m.Dispose(ctx)
	assert.False(t, report.Committed)
	require.NoError(t, report.Err())

	repo, _ := hub.Repository("repo")
	assert.Zero(t, repo.Len())
	_, err = m.AllOfKind(ctx, "Tree")
	assert.ErrorIs(t, err, domain.ErrTransactionClosed)
}

func TestDispose_ReportsCommitFailure(t *testing.T) {
	ctx := context.Background()
	hub := newHub()

	seed := load(t, hub, config(true, false))
	_, err := seed.CreateInstance(ctx, "Tree")
	require.NoError(t, err)
	require.NoError(t, seed.Commit(ctx))

	// Two models edit the same object; the slower one loses.
	edit := func(m *remodel.Model, label string) {
		trees, err := m.AllOfType(ctx, "Tree")
		require.NoError(t, err)
		require.Len(t, trees, 1)
		require.NoError(t, trees[0].Set(ctx, "label", label))
	}
	first := load(t, hub, config(false, true))
	second := load(t, hub, config(false, true))
	edit(first, "first")
	edit(second, "second")

	require.NoError(t, first.Dispose(ctx).Err())
	report := second.Dispose(ctx)
	assert.False(t, report.Committed)
	assert.ErrorIs(t, report.CommitErr, domain.ErrCommit)
	assert.ErrorIs(t, report.CommitErr, domain.ErrConflict)
	assert.NoError(t, report.CloseErr)
}

func TestQueries_TypeVersusKind(t *testing.T) {
	ctx := context.Background()
	m := load(t, newHub(), config(true, false))

	for _, name := range []string{"tree::Tree", "tree::Tree", "forest::Grove", "forest::Tree"} {
		_, err := m.CreateInstance(ctx, name)
		require.NoError(t, err)
	}

	exact, err := m.AllOfType(ctx, "tree::Tree")
	require.NoError(t, err)
	kind, err := m.AllOfKind(ctx, "tree::Tree")
	require.NoError(t, err)

	assert.Len(t, exact, 2)
	assert.Len(t, kind, 3)
	assert.Subset(t, kind, exact)
	for _, obj := range exact {
		assert.Equal(t, "tree::Tree", obj.Class().QualifiedName())
	}

	// Unqualified names resolve to the first registered package.
	trees, err := m.AllOfType(ctx, "Tree")
	require.NoError(t, err)
	assert.ElementsMatch(t, exact, trees)
}

// seedGraph stores
//
//	/tree:  tree ─ nodes ─ branch ─ children ─ leaf1, leaf2
//	             └ nodes ─ keeper (links→leaf1, mirror→leaf2)
//	/other: stranger (favorite→leaf1)
func seedGraph(t *testing.T) (*memory.Hub, *memory.Repository) {
	t.Helper()
	hub := newHub()
	repo, _ := hub.Repository("repo")

	tree := testutils.Revision("tree", "tree::Tree", "/tree")
	tree.Contents = map[string][]domain.ObjectID{"nodes": {"branch", "keeper"}}
	branch := testutils.Revision("branch", "tree::Branch", "/tree")
	branch.Container, branch.ContainingFeature = "tree", "nodes"
	branch.Contents = map[string][]domain.ObjectID{"children": {"leaf1", "leaf2"}}
	leaf1 := testutils.Revision("leaf1", "tree::Leaf", "/tree")
	leaf1.Container, leaf1.ContainingFeature = "branch", "children"
	leaf2 := testutils.Revision("leaf2", "tree::Leaf", "/tree")
	leaf2.Container, leaf2.ContainingFeature = "branch", "children"
	keeper := testutils.Revision("keeper", "tree::Leaf", "/tree")
	keeper.Container, keeper.ContainingFeature = "tree", "nodes"
	keeper.References = map[string][]domain.ObjectID{"links": {"leaf1"}, "mirror": {"leaf2"}}
	stranger := testutils.Revision("stranger", "tree::Leaf", "/other")
	stranger.References = map[string][]domain.ObjectID{"favorite": {"leaf1"}}

	require.NoError(t, repo.Connect().Commit(context.Background(), &domain.ChangeSet{
		Packages: []*domain.Package{testutils.TreePackage()},
		Resources: []*domain.Resource{
			{Path: "/tree", Roots: []domain.ObjectID{"tree"}},
			{Path: "/other", Roots: []domain.ObjectID{"stranger"}},
		},
		New: []*domain.Revision{tree, branch, leaf1, leaf2, keeper, stranger},
	}))
	return hub, repo
}

func ids(objs []*transaction.Object) []domain.ObjectID {
	out := make([]domain.ObjectID, len(objs))
	for i, o := range objs {
		out[i] = o.ID()
	}
	return out
}

func TestAllContents_DepthFirst(t *testing.T) {
	hub, _ := seedGraph(t)
	m := load(t, hub, config(false, false))

	contents, err := m.AllContents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.ObjectID{"tree", "branch", "leaf1", "leaf2", "keeper"}, ids(contents))
}

func TestDeleteElement(t *testing.T) {
	ctx := context.Background()
	hub, repo := seedGraph(t)
	m := load(t, hub, config(false, false))

	branch, err := m.ElementByID(ctx, "branch")
	require.NoError(t, err)

	// 1. Delete a subtree of three objects
	require.NoError(t, m.DeleteElement(ctx, branch))
	contents, err := m.AllContents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ObjectID{"tree", "keeper"}, ids(contents))

	// 2. Commit and inspect what the store keeps
	require.NoError(t, m.Commit(ctx))
	assert.Equal(t, 3, repo.Len())

	revs, err := repo.Connect().Revisions(ctx, []domain.ObjectID{"keeper", "stranger"})
	require.NoError(t, err)
	assert.Empty(t, revs[0].References["links"])
	assert.Equal(t, []domain.ObjectID{"leaf2"}, revs[0].References["mirror"], "derived features keep their targets")
	assert.Empty(t, revs[1].References["favorite"], "references from other resources are severed")
}

func TestDeleteElement_ForeignObject(t *testing.T) {
	ctx := context.Background()
	hub, _ := seedGraph(t)
	m := load(t, hub, config(false, false))
	other := load(t, hub, config(false, false))

	leaf, err := other.ElementByID(ctx, "leaf1")
	require.NoError(t, err)
	assert.ErrorIs(t, m.DeleteElement(ctx, leaf), domain.ErrDeletion)
	assert.False(t, m.Owns(ctx, leaf))
	assert.True(t, other.Owns(ctx, leaf))
}

func TestReflection(t *testing.T) {
	ctx := context.Background()
	hub, _ := seedGraph(t)
	m := load(t, hub, config(false, false))

	branch, err := m.ElementByID(ctx, "branch")
	require.NoError(t, err)

	assert.Equal(t, "tree::Branch", m.TypeOf(branch).QualifiedName())
	ok, err := m.IsOfType(branch, "Branch")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.IsOfType(branch, "Node")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = m.IsOfKind(branch, "Node")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = m.IsOfKind(branch, "Shrub")
	assert.ErrorIs(t, err, domain.ErrUnknownType)

	assert.True(t, m.HasType("forest::Grove"))
	assert.False(t, m.HasType("Shrub"))

	_, err = m.ElementByID(ctx, "stranger")
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)
	_, err = m.ElementByID(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)
}

type countingPrefetcher struct{ calls int }

func (p *countingPrefetcher) PrefetchAll(context.Context) error {
	p.calls++
	return nil
}

func TestCapabilities_Override(t *testing.T) {
	hub, _ := seedGraph(t)
	prefetcher := &countingPrefetcher{}
	m := load(t, hub, config(false, false), remodel.WithCapabilities(remodel.Capabilities{
		Prefetcher: func(*transaction.Transaction) remodel.SubtreePrefetcher { return prefetcher },
	}))

	contents, err := m.AllContents(context.Background())
	require.NoError(t, err)
	assert.Len(t, contents, 5, "traversal does not depend on prefetching")
	assert.Equal(t, 1, prefetcher.calls)
}

func TestStrictNames(t *testing.T) {
	m := load(t, newHub(), config(true, false), remodel.WithStrictNames())

	_, err := m.CreateInstance(context.Background(), "Tree")
	assert.ErrorIs(t, err, domain.ErrAmbiguousType)
	assert.False(t, m.HasType("Tree"))
	assert.True(t, m.HasType("forest::Tree"))
}

// The scenario of a local "repo" holding a "/tree" resource.
func TestScenario_LocalTree(t *testing.T) {
	ctx := context.Background()
	hub := newHub()
	dialer := connector.New(connector.WithHub(hub))

	m := remodel.New(remodel.WithDialer(dialer), remodel.WithPackages(testutils.TreePackage()))
	require.NoError(t, m.Load(ctx, config(true, true)))
	_, err := m.CreateInstance(ctx, "Tree")
	require.NoError(t, err)
	trees, err := m.AllOfKind(ctx, "Tree")
	require.NoError(t, err)
	assert.Len(t, trees, 1)
	require.NoError(t, m.Dispose(ctx).Err())

	m = remodel.New(remodel.WithDialer(dialer))
	require.NoError(t, m.Load(ctx, config(false, false)))
	defer m.Dispose(ctx)
	trees, err = m.AllOfKind(ctx, "Tree")
	require.NoError(t, err)
	assert.Len(t, trees, 1)
}
