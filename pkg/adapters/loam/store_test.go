package loam_test

import (
	"context"
	"testing"

	"github.com/aretw0/remodel/internal/testutils"
	"github.com/aretw0/remodel/pkg/adapters/loam"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoamStore_Contract(t *testing.T) {
	ports.RunBackendContract(t, func(t *testing.T) ports.Backend {
		s, err := loam.Open(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestLoamStore_Durability(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	require.NoError(t, loam.CreateRepository(dir, "repo"))

	// 1. Commit through one connection
	dialer := loam.Dialer()
	b, err := dialer.Dial(ctx, "loam://"+dir, "repo")
	require.NoError(t, err)

	err = b.Commit(ctx, &domain.ChangeSet{
		Packages:  []*domain.Package{testutils.TreePackage()},
		Resources: []*domain.Resource{{Path: "/tree", Roots: []domain.ObjectID{"t1"}}},
		New: []*domain.Revision{
			testutils.Revision("t1", "tree::Tree", "/tree"),
			testutils.Revision("gone", "tree::Leaf", "/tree"),
		},
	})
	require.NoError(t, err)

	revs, err := b.Revisions(ctx, []domain.ObjectID{"gone"})
	require.NoError(t, err)
	require.NoError(t, b.Commit(ctx, &domain.ChangeSet{Detached: revs}))
	require.NoError(t, b.Close())

	// 2. A fresh connection sees the committed state
	b, err = dialer.Dial(ctx, "loam://"+dir, "repo")
	require.NoError(t, err)
	defer b.Close()

	ids, err := b.Instances(ctx, domain.InstancesQuery{Class: "tree::Tree"})
	require.NoError(t, err)
	assert.Equal(t, []domain.ObjectID{"t1"}, ids)

	leaves, err := b.Instances(ctx, domain.InstancesQuery{Class: "tree::Node"})
	require.NoError(t, err)
	assert.Empty(t, leaves, "the tombstoned revision stays gone")

	res, err := b.Resource(ctx, "/tree")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Version)
}

func TestLoamDialer_MissingRepository(t *testing.T) {
	_, err := loam.Dialer().Dial(context.Background(), "loam://"+t.TempDir(), "nope")
	assert.ErrorIs(t, err, domain.ErrRepositoryNotFound)
}

func TestLoamStore_UseAfterClose(t *testing.T) {
	s, err := loam.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.PackageURIs(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnection)
}
