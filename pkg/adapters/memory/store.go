package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/ports"
)

// Scheme is the URL scheme served by Hub.Dial ("mem://<hub name>").
const Scheme = "mem"

// Hub is an in-process model store holding named repositories.
// It plays the role of a local acceptor: clients reach it with "mem://<name>".
// Safe for concurrent use.
type Hub struct {
	name string

	mu    sync.RWMutex
	repos map[string]*Repository
}

// NewHub creates an empty hub reachable as mem://name.
func NewHub(name string) *Hub {
	return &Hub{
		name:  name,
		repos: make(map[string]*Repository),
	}
}

// Name returns the hub name used as URL host.
func (h *Hub) Name() string {
	return h.name
}

// URL returns the address clients dial.
func (h *Hub) URL() string {
	return Scheme + "://" + h.name
}

// CreateRepository adds an empty repository, or returns the existing one.
func (h *Hub) CreateRepository(name string) *Repository {
	h.mu.Lock()
	defer h.mu.Unlock()

	if repo, ok := h.repos[name]; ok {
		return repo
	}
	repo := NewRepository()
	h.repos[name] = repo
	return repo
}

// Repository returns a repository by name.
func (h *Hub) Repository(name string) (*Repository, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	repo, ok := h.repos[name]
	return repo, ok
}

// Dial implements ports.Dialer.
func (h *Hub) Dial(ctx context.Context, rawURL, repository string) (ports.Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != Scheme || u.Host != h.name {
		return nil, fmt.Errorf("no acceptor at %q", rawURL)
	}
	repo, ok := h.Repository(repository)
	if !ok {
		return nil, fmt.Errorf("%q: %w", repository, domain.ErrRepositoryNotFound)
	}
	return repo.Connect(), nil
}

// Repository keeps packages, resources and revisions in memory.
// Values are copied on the way in and out so callers can't mutate stored state.
type Repository struct {
	mu sync.RWMutex

	pkgOrder  []string
	pkgs      map[string][]byte
	resources map[string]*domain.Resource
	revisions map[domain.ObjectID]*domain.Revision
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		pkgs:      make(map[string][]byte),
		resources: make(map[string]*domain.Resource),
		revisions: make(map[domain.ObjectID]*domain.Revision),
	}
}

// Connect returns a new client handle on the repository.
func (r *Repository) Connect() ports.Backend {
	return &conn{repo: r}
}

// Len returns the number of stored objects.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.revisions)
}

// conn implements ports.Backend for one client.
type conn struct {
	repo   *Repository
	closed atomic.Bool
}

func (c *conn) check(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("connection closed: %w", domain.ErrConnection)
	}
	return ctx.Err()
}

// PackageURIs lists registered packages in registration order.
func (c *conn) PackageURIs(ctx context.Context) ([]string, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.repo.mu.RLock()
	defer c.repo.mu.RUnlock()
	return slices.Clone(c.repo.pkgOrder), nil
}

// Package decodes a stored package.
func (c *conn) Package(ctx context.Context, nsURI string) (*domain.Package, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.repo.mu.RLock()
	data, ok := c.repo.pkgs[nsURI]
	c.repo.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("package %s not registered", nsURI)
	}

	var pkg domain.Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal package: %w", err)
	}
	return pkg.Bind(), nil
}

// Resource returns a copy of the stored resource.
func (c *conn) Resource(ctx context.Context, path string) (*domain.Resource, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.repo.mu.RLock()
	defer c.repo.mu.RUnlock()

	res, ok := c.repo.resources[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrResourceNotFound)
	}
	return res.Clone(), nil
}

// Revisions returns copies of the stored revisions.
func (c *conn) Revisions(ctx context.Context, ids []domain.ObjectID) ([]*domain.Revision, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.repo.mu.RLock()
	defer c.repo.mu.RUnlock()

	out := make([]*domain.Revision, 0, len(ids))
	for _, id := range ids {
		rev, ok := c.repo.revisions[id]
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, domain.ErrObjectNotFound)
		}
		out = append(out, rev.Clone())
	}
	return out, nil
}

// Instances scans all revisions for matching classes.
func (c *conn) Instances(ctx context.Context, q domain.InstancesQuery) ([]domain.ObjectID, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.repo.mu.RLock()
	defer c.repo.mu.RUnlock()

	classes := map[string]bool{q.Class: true}
	if !q.Exact {
		pkgs, err := c.repo.decodePackages()
		if err != nil {
			return nil, err
		}
		for _, name := range domain.KindClosure(pkgs, q.Class) {
			classes[name] = true
		}
	}

	var out []domain.ObjectID
	for id, rev := range c.repo.revisions {
		if classes[rev.Class] {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// CrossReferences scans all revisions for references into targets.
func (c *conn) CrossReferences(ctx context.Context, targets []domain.ObjectID) ([]*domain.CrossReference, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.repo.mu.RLock()
	defer c.repo.mu.RUnlock()

	wanted := make(map[domain.ObjectID]bool, len(targets))
	for _, id := range targets {
		wanted[id] = true
	}

	var out []*domain.CrossReference
	for id, rev := range c.repo.revisions {
		for feature, refs := range rev.References {
			for _, target := range refs {
				if wanted[target] {
					out = append(out, &domain.CrossReference{Source: id, Feature: feature, Target: target})
				}
			}
		}
	}
	return out, nil
}

// Subtree walks containment breadth first from the resource roots.
func (c *conn) Subtree(ctx context.Context, path string, depth int) ([]*domain.Revision, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.repo.mu.RLock()
	defer c.repo.mu.RUnlock()

	res, ok := c.repo.resources[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrResourceNotFound)
	}

	var out []*domain.Revision
	level := res.Roots
	for d := 0; len(level) > 0 && (depth == domain.DepthInfinite || d < depth); d++ {
		var next []domain.ObjectID
		for _, id := range level {
			rev, ok := c.repo.revisions[id]
			if !ok {
				continue
			}
			out = append(out, rev.Clone())
			next = append(next, rev.Children()...)
		}
		level = next
	}
	return out, nil
}

// Commit validates and applies the change set under the repository lock.
func (c *conn) Commit(ctx context.Context, cs *domain.ChangeSet) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.repo.mu.Lock()
	defer c.repo.mu.Unlock()

	err := cs.Validate(
		func(id domain.ObjectID) (int64, bool, error) {
			rev, ok := c.repo.revisions[id]
			if !ok {
				return 0, false, nil
			}
			return rev.Version, true, nil
		},
		func(path string) (int64, bool, error) {
			res, ok := c.repo.resources[path]
			if !ok {
				return 0, false, nil
			}
			return res.Version, true, nil
		},
	)
	if err != nil {
		return err
	}

	for _, pkg := range cs.Packages {
		if _, ok := c.repo.pkgs[pkg.NsURI]; ok {
			continue
		}
		data, err := json.Marshal(pkg)
		if err != nil {
			return fmt.Errorf("failed to marshal package: %w", err)
		}
		c.repo.pkgs[pkg.NsURI] = data
		c.repo.pkgOrder = append(c.repo.pkgOrder, pkg.NsURI)
	}

	resources, revisions := cs.Next()
	for _, res := range resources {
		c.repo.resources[res.Path] = res
	}
	for _, rev := range revisions {
		c.repo.revisions[rev.ID] = rev
	}
	for _, rev := range cs.Detached {
		delete(c.repo.revisions, rev.ID)
	}
	return nil
}

// Close marks the handle closed. The repository itself stays available.
func (c *conn) Close() error {
	c.closed.Store(true)
	return nil
}

// decodePackages must be called with the lock held.
func (r *Repository) decodePackages() ([]*domain.Package, error) {
	pkgs := make([]*domain.Package, 0, len(r.pkgOrder))
	for _, uri := range r.pkgOrder {
		var pkg domain.Package
		if err := json.Unmarshal(r.pkgs[uri], &pkg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal package %s: %w", uri, err)
		}
		pkgs = append(pkgs, pkg.Bind())
	}
	return pkgs, nil
}
