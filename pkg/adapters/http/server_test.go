package http_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	remotehttp "github.com/aretw0/remodel/pkg/adapters/http"
	"github.com/aretw0/remodel/pkg/adapters/memory"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, opts ...remotehttp.ServerOption) (*httptest.Server, *memory.Hub) {
	t.Helper()
	hub := memory.NewHub("local")
	hub.CreateRepository("repo")

	srv := remotehttp.NewServer(remotehttp.RepositoriesFunc(func(ctx context.Context, name string) (ports.Backend, error) {
		return hub.Dial(ctx, hub.URL(), name)
	}), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return ts, hub
}

func TestHTTPTransport_Contract(t *testing.T) {
	ports.RunBackendContract(t, func(t *testing.T) ports.Backend {
		ts, _ := newServer(t)
		b, err := remotehttp.NewDialer().Dial(context.Background(), ts.URL, "repo")
		require.NoError(t, err)
		return b
	})
}

func TestDial(t *testing.T) {
	ctx := context.Background()
	ts, _ := newServer(t)
	dialer := remotehttp.NewDialer(remotehttp.WithHTTPClient(ts.Client()))

	_, err := dialer.Dial(ctx, ts.URL, "missing")
	assert.ErrorIs(t, err, domain.ErrRepositoryNotFound)

	_, err = dialer.Dial(ctx, "ftp://example.com", "repo")
	assert.Error(t, err)

	b, err := dialer.Dial(ctx, ts.URL+"/", "repo")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = b.PackageURIs(ctx)
	assert.ErrorIs(t, err, domain.ErrConnection)
}

func TestServer_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "remodel_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	ts, _ := newServer(t, remotehttp.WithMetrics(reg))

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"ok"`)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "remodel_test_total 1")

	code, body = get("/repos/repo/resource?path=/nowhere")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body, "resource_not_found")

	code, _ = get("/repos/repo/subtree?path=/tree&depth=deep")
	assert.Equal(t, http.StatusBadRequest, code)
}
