package middleware_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/aretw0/remodel/internal/logging"
	"github.com/aretw0/remodel/pkg/adapters/memory"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/persistence/middleware"
	"github.com/aretw0/remodel/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsMiddleware(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	repo := memory.NewRepository()

	// Two sessions share the registry.
	b := middleware.NewMetrics(reg)(repo.Connect())
	other := middleware.NewMetrics(reg)(repo.Connect())

	_, err := b.Resource(ctx, "/missing")
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
	_, err = other.PackageURIs(ctx)
	require.NoError(t, err)
	_, err = b.PackageURIs(ctx)
	require.NoError(t, err)

	expected := `
# HELP remodel_backend_calls_total Backend calls by operation and outcome.
# TYPE remodel_backend_calls_total counter
remodel_backend_calls_total{operation="package_uris",outcome="ok"} 2
remodel_backend_calls_total{operation="resource",outcome="not_found"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "remodel_backend_calls_total"))

	count, err := testutil.GatherAndCount(reg, "remodel_backend_call_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one histogram per operation")
}

func TestLoggingMiddleware(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, slog.LevelDebug)

	b := middleware.Chain(memory.NewRepository().Connect(), middleware.NewLogging(logger))
	_, err := b.Resource(ctx, "/missing")
	require.Error(t, err)
	require.NoError(t, b.Close())

	out := buf.String()
	assert.Contains(t, out, "operation=resource")
	assert.Contains(t, out, "outcome=not_found")
	assert.Contains(t, out, "operation=close")
}

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(next ports.Backend) ports.Backend {
			order = append(order, name)
			return next
		}
	}

	middleware.Chain(memory.NewRepository().Connect(), tag("outer"), tag("inner"))
	assert.Equal(t, []string{"inner", "outer"}, order, "the first middleware wraps last")
}
