package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/remodel/pkg/adapters/memory"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	ports.RunBackendContract(t, func(t *testing.T) ports.Backend {
		return memory.NewRepository().Connect()
	})
}

func TestHub_Dial(t *testing.T) {
	hub := memory.NewHub("local")
	hub.CreateRepository("repo")
	ctx := context.Background()

	t.Run("Known Repository", func(t *testing.T) {
		b, err := hub.Dial(ctx, "mem://local", "repo")
		require.NoError(t, err)
		assert.NoError(t, b.Close())
	})

	t.Run("Unknown Repository", func(t *testing.T) {
		_, err := hub.Dial(ctx, "mem://local", "nope")
		assert.ErrorIs(t, err, domain.ErrRepositoryNotFound)
	})

	t.Run("Wrong Acceptor", func(t *testing.T) {
		_, err := hub.Dial(ctx, "mem://remote", "repo")
		assert.Error(t, err)
	})
}

func TestConn_UseAfterClose(t *testing.T) {
	repo := memory.NewRepository()
	b := repo.Connect()
	require.NoError(t, b.Close())

	_, err := b.PackageURIs(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnection)

	// Other handles on the same repository keep working.
	_, err = repo.Connect().PackageURIs(context.Background())
	assert.NoError(t, err)
}
