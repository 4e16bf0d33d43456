// Package connector dials model stores by URL scheme.
//
// A Router is an explicit value: each Model or CLI invocation builds its own,
// so tests can plug in-process hubs without touching shared state.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"

	"github.com/aretw0/remodel/internal/logging"
	remotehttp "github.com/aretw0/remodel/pkg/adapters/http"
	"github.com/aretw0/remodel/pkg/adapters/loam"
	"github.com/aretw0/remodel/pkg/adapters/memory"
	"github.com/aretw0/remodel/pkg/adapters/redis"
	"github.com/aretw0/remodel/pkg/adapters/sqlite"
	"github.com/aretw0/remodel/pkg/ports"
)

// Router implements ports.Dialer by dispatching on the URL scheme.
type Router struct {
	dialers map[string]ports.Dialer
	hubs    map[string]*memory.Hub
	logger  *slog.Logger
}

// Option configures the Router.
type Option func(*Router)

// WithHub makes in-process hubs reachable as mem://<hub name>.
func WithHub(hubs ...*memory.Hub) Option {
	return func(r *Router) {
		for _, h := range hubs {
			r.hubs[h.Name()] = h
		}
	}
}

// WithDialer serves scheme with d, replacing any built-in dialer.
func WithDialer(scheme string, d ports.Dialer) Option {
	return func(r *Router) {
		r.dialers[scheme] = d
	}
}

// WithLogger configures a logger for dial attempts.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// New creates a router serving redis, sqlite, loam, http and https URLs, plus
// mem URLs for the hubs given with WithHub.
func New(opts ...Option) *Router {
	r := &Router{
		dialers: map[string]ports.Dialer{
			redis.Scheme:            redis.Dialer(),
			"rediss":                redis.Dialer(),
			sqlite.Scheme:           sqlite.Dialer(),
			loam.Scheme:             loam.Dialer(),
			remotehttp.Scheme:       remotehttp.NewDialer(),
			remotehttp.SecureScheme: remotehttp.NewDialer(),
		},
		hubs:   make(map[string]*memory.Hub),
		logger: logging.NewNop(),
	}
	r.dialers[memory.Scheme] = ports.DialerFunc(r.dialHub)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schemes lists the schemes the router can dial.
func (r *Router) Schemes() []string {
	return slices.Sorted(maps.Keys(r.dialers))
}

// Dial implements ports.Dialer.
func (r *Router) Dial(ctx context.Context, rawURL, repository string) (ports.Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	d, ok := r.dialers[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	r.logger.Debug("dialing store", "scheme", u.Scheme, "host", u.Host, "repository", repository)
	return d.Dial(ctx, rawURL, repository)
}

func (r *Router) dialHub(ctx context.Context, rawURL, repository string) (ports.Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	hub, ok := r.hubs[u.Host]
	if !ok {
		return nil, fmt.Errorf("no hub named %q", u.Host)
	}
	return hub.Dial(ctx, rawURL, repository)
}
