package loam

import (
	"cmp"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/aretw0/loam"
	"github.com/aretw0/loam/pkg/core"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/ports"
)

// Scheme is the URL scheme handled by Dialer: loam:///path/to/dir.
// Each repository is a Loam vault <dir>/<repository>.
const Scheme = "loam"

const (
	kindPackage  = "package"
	kindResource = "resource"
	kindRevision = "revision"
)

// record is the frontmatter of one stored document. The JSON encoded
// domain object lives in the document body.
type record struct {
	Kind    string `json:"kind" yaml:"kind" mapstructure:"kind"`
	Key     string `json:"key" yaml:"key" mapstructure:"key"`
	Version string `json:"version" yaml:"version" mapstructure:"version"`
	Deleted bool   `json:"deleted" yaml:"deleted" mapstructure:"deleted"`
}

// commitLocks serializes commits per vault directory within the process.
var commitLocks sync.Map

type config struct {
	versioning bool
}

// Option configures a Store.
type Option func(*config)

// WithVersioning turns Loam's git history on or off. Off by default.
func WithVersioning(enabled bool) Option {
	return func(c *config) {
		c.versioning = enabled
	}
}

// Store implements ports.Backend on a Loam vault, one document per
// package, resource and revision. Queries scan the vault.
type Store struct {
	repo core.Repository
	docs *loam.TypedRepository[record]
	lock *sync.Mutex

	closed atomic.Bool
}

// Open initializes (or reopens) the vault at dir.
func Open(dir string, opts ...Option) (*Store, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	repo, err := loam.Init(absPath,
		loam.WithVersioning(cfg.versioning),
		loam.WithForceTemp(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}

	lock, _ := commitLocks.LoadOrStore(absPath, &sync.Mutex{})
	return &Store{
		repo: repo,
		docs: loam.NewTypedRepository[record](repo),
		lock: lock.(*sync.Mutex),
	}, nil
}

// RepositoryPath returns the vault directory of a repository inside dir.
func RepositoryPath(dir, repository string) string {
	return filepath.Join(dir, repository)
}

// CreateRepository creates an empty repository vault inside dir.
func CreateRepository(dir, repository string, opts ...Option) error {
	path := RepositoryPath(dir, repository)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	s, err := Open(path, opts...)
	if err != nil {
		return err
	}
	return s.Close()
}

// Dialer returns a ports.Dialer for loam:///dir URLs. Only existing repositories can be dialed.
func Dialer(opts ...Option) ports.Dialer {
	return ports.DialerFunc(func(ctx context.Context, rawURL, repository string) (ports.Backend, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
		}
		path := RepositoryPath(u.Host+u.Path, repository)
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%q: %w", repository, domain.ErrRepositoryNotFound)
			}
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%q is not a directory: %w", path, domain.ErrRepositoryNotFound)
		}
		return Open(path, opts...)
	})
}

// docID names the document of a key. Keys are hex encoded since package
// URIs and resource paths contain separators.
func docID(kind, key string) string {
	return kind + "-" + hex.EncodeToString([]byte(key))
}

// snapshot is the decoded content of the vault at one point in time.
type snapshot struct {
	pkgOrder  []string
	pkgs      map[string]string
	resources map[string]*domain.Resource
	revisions map[domain.ObjectID]*domain.Revision
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("store closed: %w", domain.ErrConnection)
	}
	return ctx.Err()
}

// load lists every document and decodes the live ones.
func (s *Store) load(ctx context.Context) (*snapshot, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	docs, err := s.docs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	type seqPackage struct {
		seq int64
		uri string
	}
	var order []seqPackage
	snap := &snapshot{
		pkgs:      make(map[string]string),
		resources: make(map[string]*domain.Resource),
		revisions: make(map[domain.ObjectID]*domain.Revision),
	}
	for _, doc := range docs {
		meta := doc.Data
		if meta.Deleted {
			continue
		}
		switch meta.Kind {
		case kindPackage:
			seq, err := strconv.ParseInt(meta.Version, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("package %s: bad sequence %q: %w", meta.Key, meta.Version, err)
			}
			snap.pkgs[meta.Key] = doc.Content
			order = append(order, seqPackage{seq: seq, uri: meta.Key})
		case kindResource:
			var res domain.Resource
			if err := json.Unmarshal([]byte(doc.Content), &res); err != nil {
				return nil, fmt.Errorf("failed to unmarshal resource %s: %w", meta.Key, err)
			}
			snap.resources[res.Path] = &res
		case kindRevision:
			var rev domain.Revision
			if err := json.Unmarshal([]byte(doc.Content), &rev); err != nil {
				return nil, fmt.Errorf("failed to unmarshal revision %s: %w", meta.Key, err)
			}
			snap.revisions[rev.ID] = &rev
		}
	}
	slices.SortFunc(order, func(a, b seqPackage) int { return cmp.Compare(a.seq, b.seq) })
	for _, p := range order {
		snap.pkgOrder = append(snap.pkgOrder, p.uri)
	}
	return snap, nil
}

func (snap *snapshot) decodePackages() ([]*domain.Package, error) {
	pkgs := make([]*domain.Package, 0, len(snap.pkgOrder))
	for _, uri := range snap.pkgOrder {
		var pkg domain.Package
		if err := json.Unmarshal([]byte(snap.pkgs[uri]), &pkg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal package %s: %w", uri, err)
		}
		pkgs = append(pkgs, pkg.Bind())
	}
	return pkgs, nil
}

// PackageURIs lists packages in registration order.
func (s *Store) PackageURIs(ctx context.Context) ([]string, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.pkgOrder, nil
}

// Package decodes one registered package.
func (s *Store) Package(ctx context.Context, nsURI string) (*domain.Package, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	body, ok := snap.pkgs[nsURI]
	if !ok {
		return nil, fmt.Errorf("package %s not registered", nsURI)
	}
	var pkg domain.Package
	if err := json.Unmarshal([]byte(body), &pkg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal package: %w", err)
	}
	return pkg.Bind(), nil
}

// Resource returns the stored resource.
func (s *Store) Resource(ctx context.Context, path string) (*domain.Resource, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	res, ok := snap.resources[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrResourceNotFound)
	}
	return res, nil
}

// Revisions returns the stored revisions in request order.
func (s *Store) Revisions(ctx context.Context, ids []domain.ObjectID) ([]*domain.Revision, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Revision, 0, len(ids))
	for _, id := range ids {
		rev, ok := snap.revisions[id]
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, domain.ErrObjectNotFound)
		}
		out = append(out, rev)
	}
	return out, nil
}

// Instances scans all revisions for matching classes.
func (s *Store) Instances(ctx context.Context, q domain.InstancesQuery) ([]domain.ObjectID, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	classes := map[string]bool{q.Class: true}
	if !q.Exact {
		pkgs, err := snap.decodePackages()
		if err != nil {
			return nil, err
		}
		for _, name := range domain.KindClosure(pkgs, q.Class) {
			classes[name] = true
		}
	}

	var out []domain.ObjectID
	for id, rev := range snap.revisions {
		if classes[rev.Class] {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// CrossReferences scans all revisions for references into targets.
func (s *Store) CrossReferences(ctx context.Context, targets []domain.ObjectID) ([]*domain.CrossReference, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[domain.ObjectID]bool, len(targets))
	for _, id := range targets {
		wanted[id] = true
	}

	var out []*domain.CrossReference
	for id, rev := range snap.revisions {
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
func (s *Store) Subtree(ctx context.Context, path string, depth int) ([]*domain.Revision, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	res, ok := snap.resources[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrResourceNotFound)
	}

	var out []*domain.Revision
	level := res.Roots
	for d := 0; len(level) > 0 && (depth == domain.DepthInfinite || d < depth); d++ {
		var next []domain.ObjectID
		for _, id := range level {
			rev, ok := snap.revisions[id]
			if !ok {
				continue
			}
			out = append(out, rev)
			next = append(next, rev.Children()...)
		}
		level = next
	}
	return out, nil
}

// Commit validates the change set against the vault and writes it in one
// Loam transaction. Detached revisions are kept as tombstones.
func (s *Store) Commit(ctx context.Context, cs *domain.ChangeSet) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	err = cs.Validate(
		func(id domain.ObjectID) (int64, bool, error) {
			rev, ok := snap.revisions[id]
			if !ok {
				return 0, false, nil
			}
			return rev.Version, true, nil
		},
		func(path string) (int64, bool, error) {
			res, ok := snap.resources[path]
			if !ok {
				return 0, false, nil
			}
			return res.Version, true, nil
		},
	)
	if err != nil {
		return err
	}

	var docs []core.Document
	add := func(kind, key string, version int64, deleted bool, v any) error {
		doc, err := document(kind, key, version, deleted, v)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	}

	seq := int64(len(snap.pkgOrder))
	for _, pkg := range cs.Packages {
		if _, ok := snap.pkgs[pkg.NsURI]; ok {
			continue
		}
		seq++
		if err := add(kindPackage, pkg.NsURI, seq, false, pkg); err != nil {
			return err
		}
	}
	resources, revisions := cs.Next()
	for _, res := range resources {
		if err := add(kindResource, res.Path, res.Version, false, res); err != nil {
			return err
		}
	}
	for _, rev := range revisions {
		if err := add(kindRevision, string(rev.ID), rev.Version, false, rev); err != nil {
			return err
		}
	}
	for _, rev := range cs.Detached {
		if err := add(kindRevision, string(rev.ID), rev.Version, true, rev); err != nil {
			return err
		}
	}

	tx, err := core.NewService(s.repo).Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin loam transaction: %w", err)
	}
	for _, doc := range docs {
		if err := tx.Save(ctx, doc); err != nil {
			return fmt.Errorf("loam save failed for %s: %w", doc.ID, err)
		}
	}
	if err := tx.Commit(ctx, "remodel commit"); err != nil {
		return fmt.Errorf("loam commit failed: %w", err)
	}
	return nil
}

func document(kind, key string, version int64, deleted bool, v any) (core.Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return core.Document{}, fmt.Errorf("failed to marshal %s %s: %w", kind, key, err)
	}
	return core.Document{
		ID:      docID(kind, key),
		Content: string(body),
		Metadata: core.Metadata{
			"kind":    kind,
			"key":     key,
			"version": strconv.FormatInt(version, 10),
			"deleted": deleted,
		},
	}, nil
}

// Close marks the store closed. The vault stays on disk.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
