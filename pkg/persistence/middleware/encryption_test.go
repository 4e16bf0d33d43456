package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"strings"
	"testing"

	"github.com/aretw0/remodel/internal/testutils"
	"github.com/aretw0/remodel/pkg/adapters/memory"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func commitLeaf(t *testing.T, commit func(context.Context, *domain.ChangeSet) error, attrs map[string]any) *domain.Revision {
	t.Helper()
	rev := testutils.Revision("leaf", "tree::Leaf", "/tree")
	rev.Attributes = attrs
	require.NoError(t, commit(context.Background(), &domain.ChangeSet{
		Resources: []*domain.Resource{{Path: "/tree", Roots: []domain.ObjectID{"leaf"}}},
		New:       []*domain.Revision{rev},
	}))
	return rev
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	underlying := repo.Connect()
	key := generateKey(t)
	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})(repo.Connect())

	// 1. Commit through the middleware
	rev := commitLeaf(t, secure.Commit, map[string]any{"name": "my-secret-sauce"})
	assert.Equal(t, "my-secret-sauce", rev.Attributes["name"], "caller revisions stay plain")

	// 2. The store only sees the envelope
	stored, err := underlying.Revisions(ctx, []domain.ObjectID{"leaf"})
	require.NoError(t, err)
	sealed, ok := stored[0].Attributes["name"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(sealed, "enc:v1:"))
	assert.NotContains(t, sealed, "my-secret-sauce")

	// 3. Reads through the middleware are decrypted
	revs, err := secure.Revisions(ctx, []domain.ObjectID{"leaf"})
	require.NoError(t, err)
	assert.Equal(t, "my-secret-sauce", revs[0].Attributes["name"])

	tree, err := secure.Subtree(ctx, "/tree", domain.DepthInfinite)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, "my-secret-sauce", tree[0].Attributes["name"])
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	oldKey, newKey := generateKey(t), generateKey(t)

	old := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(repo.Connect())
	commitLeaf(t, old.Commit, map[string]any{"name": "rotated"})

	rotated := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(repo.Connect())
	revs, err := rotated.Revisions(ctx, []domain.ObjectID{"leaf"})
	require.NoError(t, err)
	assert.Equal(t, "rotated", revs[0].Attributes["name"])

	wrong := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: newKey})(repo.Connect())
	_, err = wrong.Revisions(ctx, []domain.ObjectID{"leaf"})
	assert.Error(t, err)
}

func TestEncryptionMiddleware_PlainValuesPassThrough(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	commitLeaf(t, repo.Connect().Commit, map[string]any{"name": "legacy"})

	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(repo.Connect())
	revs, err := secure.Revisions(ctx, []domain.ObjectID{"leaf"})
	require.NoError(t, err)
	assert.Equal(t, "legacy", revs[0].Attributes["name"])
}

func TestEncryptionMiddleware_KeySize(t *testing.T) {
	assert.Panics(t, func() {
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short")})
	})
}
