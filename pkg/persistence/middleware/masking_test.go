package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/remodel/pkg/adapters/memory"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskingMiddleware(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	masked := middleware.NewMaskingMiddleware([]string{"(?i)password", "^token$"})(repo.Connect())

	rev := commitLeaf(t, masked.Commit, map[string]any{
		"name":     "alice",
		"Password": "hunter2",
		"meta":     map[string]any{"token": "abc", "note": "kept"},
	})
	assert.Equal(t, "hunter2", rev.Attributes["Password"], "caller revisions are untouched")

	stored, err := repo.Connect().Revisions(ctx, []domain.ObjectID{"leaf"})
	require.NoError(t, err)
	attrs := stored[0].Attributes
	assert.Equal(t, "alice", attrs["name"])
	assert.Equal(t, "***", attrs["Password"])
	assert.Equal(t, map[string]any{"token": "***", "note": "kept"}, attrs["meta"])
}
