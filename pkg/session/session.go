package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/remodel/internal/logging"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/persistence/middleware"
	"github.com/aretw0/remodel/pkg/ports"
)

// Session is a connection to a named repository.
type Session struct {
	url        string
	repository string

	backend  ports.Backend
	packages *domain.PackageRegistry
	preload  []*domain.Package
	mws      []middleware.Middleware
	logger   *slog.Logger

	mu         sync.Mutex
	registered map[string]bool

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// Option configures a Session.
type Option func(*Session)

// WithPackages preloads client-side packages. They take precedence over
// store packages with the same namespace URI and are registered in the
// repository by the first commit that follows.
func WithPackages(pkgs ...*domain.Package) Option {
	return func(s *Session) {
		s.preload = append(s.preload, pkgs...)
	}
}

// WithMiddleware wraps the dialed backend. The first middleware is the outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Session) {
		s.mws = append(s.mws, mws...)
	}
}

// WithLogger configures a logger for the Session.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Connect dials the repository and snapshots its package registry.
// Any failure is reported as domain.ErrConnection wrapping the cause.
func Connect(ctx context.Context, dialer ports.Dialer, url, repository string, opts ...Option) (*Session, error) {
	s := &Session{
		url:        url,
		repository: repository,
		logger:     logging.NewNop(),
		registered: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	b, err := dialer.Dial(ctx, url, repository)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (repository %q): %w", domain.ErrConnection, url, repository, err)
	}
	s.backend = middleware.Chain(b, s.mws...)

	uris, err := s.backend.PackageURIs(ctx)
	if err != nil {
		_ = s.backend.Close()
		return nil, fmt.Errorf("%w: failed to list packages: %w", domain.ErrConnection, err)
	}

	descriptors := make([]domain.PackageDescriptor, 0, len(s.preload)+len(uris))
	for _, pkg := range s.preload {
		descriptors = append(descriptors, domain.Describe(pkg))
	}
	// Lazy loads run after Connect returns and must outlive its deadline.
	loadCtx := context.WithoutCancel(ctx)
	for _, uri := range uris {
		s.registered[uri] = true
		descriptors = append(descriptors, domain.DescribeLazy(uri, func() (*domain.Package, error) {
			return s.backend.Package(loadCtx, uri)
		}))
	}
	s.packages = domain.NewPackageRegistry(descriptors...)

	s.logger.Debug("session opened",
		"url", url,
		"repository", repository,
		"store_packages", len(uris),
		"preloaded", len(s.preload),
	)
	return s, nil
}

// URL returns the store endpoint.
func (s *Session) URL() string { return s.url }

// Repository returns the repository name.
func (s *Session) Repository() string { return s.repository }

// Backend returns the (possibly wrapped) backend handle.
func (s *Session) Backend() ports.Backend { return s.backend }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Packages returns the registry snapshot taken by Connect.
func (s *Session) Packages() *domain.PackageRegistry {
	return s.packages
}

// Registered reports whether the repository already holds the package.
func (s *Session) Registered(nsURI string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered[nsURI]
}

// Unregistered returns the preloaded packages the repository does not hold yet.
func (s *Session) Unregistered() []*domain.Package {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Package
	for _, pkg := range s.preload {
		if !s.registered[pkg.NsURI] {
			out = append(out, pkg)
		}
	}
	return out
}

// MarkRegistered records packages that a successful commit shipped.
func (s *Session) MarkRegistered(nsURIs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uri := range nsURIs {
		s.registered[uri] = true
	}
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the backend handle. Later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := s.backend.Close(); err != nil {
			s.closeErr = fmt.Errorf("%w: failed to close: %w", domain.ErrConnection, err)
		}
		s.logger.Debug("session closed", "url", s.url, "repository", s.repository)
	})
	return s.closeErr
}
