package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/aretw0/remodel/internal/logging"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Repositories opens backends by repository name.
type Repositories interface {
	Open(ctx context.Context, repository string) (ports.Backend, error)
}

// RepositoriesFunc adapts a function to the Repositories interface.
type RepositoriesFunc func(ctx context.Context, repository string) (ports.Backend, error)

// Open calls f.
func (f RepositoriesFunc) Open(ctx context.Context, repository string) (ports.Backend, error) {
	return f(ctx, repository)
}

// Server exposes the backends of a model store over HTTP.
type Server struct {
	repos    Repositories
	logger   *slog.Logger
	gatherer prometheus.Gatherer

	mu   sync.Mutex
	open map[string]ports.Backend
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithLogger configures a logger for request failures.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics serves the metrics of g on /metrics.
func WithMetrics(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer creates a server over repos.
func NewServer(repos Repositories, opts ...ServerOption) *Server {
	s := &Server{
		repos:  repos,
		logger: logging.NewNop(),
		open:   make(map[string]ports.Backend),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.GetHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/repos/{repo}", func(r chi.Router) {
		r.Get("/", s.withBackend(func(w http.ResponseWriter, r *http.Request, b ports.Backend) {
			writeJSON(w, map[string]string{"repository": chi.URLParam(r, "repo")})
		}))
		r.Get("/packages", s.withBackend(s.listPackages))
		r.Get("/package", s.withBackend(s.getPackage))
		r.Get("/resource", s.withBackend(s.getResource))
		r.Get("/subtree", s.withBackend(s.getSubtree))
		r.Post("/revisions", s.withBackend(s.postRevisions))
		r.Post("/instances", s.withBackend(s.postInstances))
		r.Post("/xrefs", s.withBackend(s.postCrossReferences))
		r.Post("/commit", s.withBackend(s.postCommit))
	})
	return r
}

// Close releases every backend opened by the server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, b := range s.open {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		delete(s.open, name)
	}
	return errors.Join(errs...)
}

func (s *Server) backend(ctx context.Context, repo string) (ports.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.open[repo]; ok {
		return b, nil
	}
	b, err := s.repos.Open(ctx, repo)
	if err != nil {
		return nil, err
	}
	s.open[repo] = b
	return b, nil
}

type backendHandler func(w http.ResponseWriter, r *http.Request, b ports.Backend)

func (s *Server) withBackend(next backendHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := s.backend(r.Context(), chi.URLParam(r, "repo"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next(w, r, b)
	}
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) listPackages(w http.ResponseWriter, r *http.Request, b ports.Backend) {
	uris, err := b.PackageURIs(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, uris)
}

func (s *Server) getPackage(w http.ResponseWriter, r *http.Request, b ports.Backend) {
	pkg, err := b.Package(r.Context(), r.URL.Query().Get("uri"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, pkg)
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request, b ports.Backend) {
	res, err := b.Resource(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) getSubtree(w http.ResponseWriter, r *http.Request, b ports.Backend) {
	depth := domain.DepthInfinite
	if raw := r.URL.Query().Get("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "Invalid depth", http.StatusBadRequest)
			return
		}
		depth = d
	}
	revs, err := b.Subtree(r.Context(), r.URL.Query().Get("path"), depth)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, revs)
}

type idsRequest struct {
	IDs []domain.ObjectID `json:"ids"`
}

func (s *Server) postRevisions(w http.ResponseWriter, r *http.Request, b ports.Backend) {
	var body idsRequest
	if !decode(w, r, &body) {
		return
	}
	revs, err := b.Revisions(r.Context(), body.IDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, revs)
}

func (s *Server) postInstances(w http.ResponseWriter, r *http.Request, b ports.Backend) {
	var body domain.InstancesQuery
	if !decode(w, r, &body) {
		return
	}
	ids, err := b.Instances(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, ids)
}

func (s *Server) postCrossReferences(w http.ResponseWriter, r *http.Request, b ports.Backend) {
	var body idsRequest
	if !decode(w, r, &body) {
		return
	}
	refs, err := b.CrossReferences(r.Context(), body.IDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, refs)
}

func (s *Server) postCommit(w http.ResponseWriter, r *http.Request, b ports.Backend) {
	var body domain.ChangeSet
	if !decode(w, r, &body) {
		return
	}
	for _, pkg := range body.Packages {
		pkg.Bind()
	}
	if err := b.Commit(r.Context(), &body); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -- Helpers --

// errorBody is the JSON error payload. Code lets clients restore the sentinel.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{domain.ErrRepositoryNotFound, "repository_not_found", http.StatusNotFound},
	{domain.ErrResourceNotFound, "resource_not_found", http.StatusNotFound},
	{domain.ErrObjectNotFound, "object_not_found", http.StatusNotFound},
	{domain.ErrConflict, "conflict", http.StatusConflict},
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error(), Code: "internal"}
	status := http.StatusInternalServerError
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			body.Code, status = c.code, c.status
			break
		}
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}
