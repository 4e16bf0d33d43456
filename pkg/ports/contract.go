package ports

import (
	"context"
	"testing"

	"github.com/aretw0/remodel/internal/testutils"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBackendContract runs a suite of tests to verify that a Backend implementation
// adheres to the defined interface contract. newBackend must return an empty repository.
func RunBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()

	// seed commits a tree resource:
	//   /tree: tree(Tree) -> branch(Branch) -> leaf(Leaf), leaf2(Leaf)
	//   /other: stranger(Leaf) linking to leaf
	seed := func(t *testing.T, b Backend) {
		t.Helper()
		tree := testutils.Revision("tree", "tree::Tree", "/tree")
		tree.Contents = map[string][]domain.ObjectID{"nodes": {"branch"}}
		branch := testutils.Revision("branch", "tree::Branch", "/tree")
		branch.Container, branch.ContainingFeature = "tree", "nodes"
		branch.Contents = map[string][]domain.ObjectID{"children": {"leaf", "leaf2"}}
		leaf := testutils.Revision("leaf", "tree::Leaf", "/tree")
		leaf.Container, leaf.ContainingFeature = "branch", "children"
		leaf.Attributes["name"] = "first"
		leaf2 := testutils.Revision("leaf2", "tree::Leaf", "/tree")
		leaf2.Container, leaf2.ContainingFeature = "branch", "children"
		leaf2.References = map[string][]domain.ObjectID{"favorite": {"leaf"}}
		stranger := testutils.Revision("stranger", "tree::Leaf", "/other")
		stranger.References = map[string][]domain.ObjectID{"links": {"leaf", "branch"}}

		err := b.Commit(ctx, &domain.ChangeSet{
			Packages: []*domain.Package{testutils.TreePackage(), testutils.ForestPackage()},
			Resources: []*domain.Resource{
				{Path: "/tree", Roots: []domain.ObjectID{"tree"}},
				{Path: "/other", Roots: []domain.ObjectID{"stranger"}},
			},
			New: []*domain.Revision{tree, branch, leaf, leaf2, stranger},
		})
		require.NoError(t, err, "seed commit should succeed")
	}

	t.Run("Empty Repository", func(t *testing.T) {
		b := newBackend(t)
		uris, err := b.PackageURIs(ctx)
		require.NoError(t, err)
		assert.Empty(t, uris)

		_, err = b.Resource(ctx, "/missing")
		assert.ErrorIs(t, err, domain.ErrResourceNotFound)

		_, err = b.Revisions(ctx, []domain.ObjectID{"nope"})
		assert.ErrorIs(t, err, domain.ErrObjectNotFound)
	})

	t.Run("Packages", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b)

		uris, err := b.PackageURIs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{testutils.TreeNsURI, testutils.ForestNsURI}, uris)

		pkg, err := b.Package(ctx, testutils.TreeNsURI)
		require.NoError(t, err)
		pkg.Bind()
		assert.Equal(t, "tree", pkg.Name)
		require.NotNil(t, pkg.Class("Branch"))
		assert.Equal(t, []string{"tree::Node"}, pkg.Class("Branch").SuperTypes)

		// Registering an already known package is a no-op.
		err = b.Commit(ctx, &domain.ChangeSet{Packages: []*domain.Package{testutils.TreePackage()}})
		require.NoError(t, err)
		uris, err = b.PackageURIs(ctx)
		require.NoError(t, err)
		assert.Len(t, uris, 2)
	})

	t.Run("Resources and Revisions", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b)

		res, err := b.Resource(ctx, "/tree")
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Version)
		assert.Equal(t, []domain.ObjectID{"tree"}, res.Roots)

		revs, err := b.Revisions(ctx, []domain.ObjectID{"leaf", "branch"})
		require.NoError(t, err)
		require.Len(t, revs, 2)
		assert.Equal(t, domain.ObjectID("leaf"), revs[0].ID)
		assert.Equal(t, "first", revs[0].Attributes["name"])
		assert.Equal(t, int64(1), revs[0].Version)
		assert.Equal(t, domain.ObjectID("branch"), revs[0].Container)
		assert.Equal(t, []domain.ObjectID{"leaf", "leaf2"}, revs[1].Contents["children"])

		_, err = b.Revisions(ctx, []domain.ObjectID{"leaf", "ghost"})
		assert.ErrorIs(t, err, domain.ErrObjectNotFound)
	})

	t.Run("Instances", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b)

		exact, err := b.Instances(ctx, domain.InstancesQuery{Class: "tree::Node", Exact: true})
		require.NoError(t, err)
		assert.Empty(t, exact, "abstract class has no direct instances")

		kind, err := b.Instances(ctx, domain.InstancesQuery{Class: "tree::Node"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []domain.ObjectID{"branch", "leaf", "leaf2", "stranger"}, kind)

		leaves, err := b.Instances(ctx, domain.InstancesQuery{Class: "tree::Leaf", Exact: true})
		require.NoError(t, err)
		assert.ElementsMatch(t, []domain.ObjectID{"leaf", "leaf2", "stranger"}, leaves)
	})

	t.Run("Cross References", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b)

		refs, err := b.CrossReferences(ctx, []domain.ObjectID{"leaf"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []*domain.CrossReference{
			{Source: "leaf2", Feature: "favorite", Target: "leaf"},
			{Source: "stranger", Feature: "links", Target: "leaf"},
		}, refs)

		refs, err = b.CrossReferences(ctx, []domain.ObjectID{"tree"})
		require.NoError(t, err)
		assert.Empty(t, refs, "containment is not a cross reference")
	})

	t.Run("Subtree", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b)

		all, err := b.Subtree(ctx, "/tree", domain.DepthInfinite)
		require.NoError(t, err)
		ids := make([]domain.ObjectID, 0, len(all))
		for _, r := range all {
			ids = append(ids, r.ID)
		}
		assert.ElementsMatch(t, []domain.ObjectID{"tree", "branch", "leaf", "leaf2"}, ids)

		top, err := b.Subtree(ctx, "/tree", 2)
		require.NoError(t, err)
		assert.Len(t, top, 2)

		_, err = b.Subtree(ctx, "/missing", domain.DepthInfinite)
		assert.ErrorIs(t, err, domain.ErrResourceNotFound)
	})

	t.Run("Commit Updates and Detach", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b)

		revs, err := b.Revisions(ctx, []domain.ObjectID{"branch", "leaf2", "stranger"})
		require.NoError(t, err)
		branch, leaf2, stranger := revs[0], revs[1], revs[2]

		branch.Contents["children"] = []domain.ObjectID{"leaf"}
		leaf2.Container, leaf2.ContainingFeature, leaf2.Resource = "", "", ""
		stranger.References["links"] = []domain.ObjectID{"branch"}

		err = b.Commit(ctx, &domain.ChangeSet{
			Dirty:    []*domain.Revision{branch, stranger},
			Detached: []*domain.Revision{leaf2},
		})
		require.NoError(t, err)

		got, err := b.Revisions(ctx, []domain.ObjectID{"branch"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), got[0].Version)
		assert.Equal(t, []domain.ObjectID{"leaf"}, got[0].Contents["children"])

		_, err = b.Revisions(ctx, []domain.ObjectID{"leaf2"})
		assert.ErrorIs(t, err, domain.ErrObjectNotFound)

		leaves, err := b.Instances(ctx, domain.InstancesQuery{Class: "tree::Leaf", Exact: true})
		require.NoError(t, err)
		assert.ElementsMatch(t, []domain.ObjectID{"leaf", "stranger"}, leaves)

		refs, err := b.CrossReferences(ctx, []domain.ObjectID{"leaf"})
		require.NoError(t, err)
		assert.Empty(t, refs, "references from detached and updated sources are gone")
	})

	t.Run("Conflicts", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b)

		revs, err := b.Revisions(ctx, []domain.ObjectID{"leaf"})
		require.NoError(t, err)
		stale := revs[0].Clone()

		revs[0].Attributes["name"] = "updated"
		require.NoError(t, b.Commit(ctx, &domain.ChangeSet{Dirty: revs}))

		stale.Attributes["name"] = "lost"
		extra := testutils.Revision("extra", "tree::Leaf", "/tree")
		err = b.Commit(ctx, &domain.ChangeSet{
			Dirty: []*domain.Revision{stale},
			New:   []*domain.Revision{extra},
		})
		assert.ErrorIs(t, err, domain.ErrConflict)

		// The rejected change set left nothing behind.
		_, err = b.Revisions(ctx, []domain.ObjectID{"extra"})
		assert.ErrorIs(t, err, domain.ErrObjectNotFound)
		got, err := b.Revisions(ctx, []domain.ObjectID{"leaf"})
		require.NoError(t, err)
		assert.Equal(t, "updated", got[0].Attributes["name"])

		// Creating a resource that already exists is a conflict too.
		err = b.Commit(ctx, &domain.ChangeSet{Resources: []*domain.Resource{{Path: "/tree"}}})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("Close Twice", func(t *testing.T) {
		b := newBackend(t)
		assert.NoError(t, b.Close())
		assert.NoError(t, b.Close())
	})
}
