package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// Scheme is the URL scheme handled by Dialer.
const Scheme = "redis"

const refSeparator = "\x1f"

// Store keeps model repositories in Redis.
//
// Layout per repository (under prefix + name + ":"):
//
//	pkgs           LIST   namespace URIs in registration order
//	pkg:<uri>      STRING package JSON
//	res:<path>     STRING resource JSON
//	rev:<id>       STRING revision JSON
//	class:<qname>  SET    object IDs of that exact class
//	xref:<target>  SET    "<source>\x1f<feature>" entries pointing at target
type Store struct {
	client  *backend.Client
	prefix  string
	locker  ports.DistributedLocker
	lockTTL time.Duration
}

type Option func(*Store)

// WithPrefix sets the key prefix for repositories.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithLocker replaces the commit lock (defaults to a Redis SET NX lock).
func WithLocker(locker ports.DistributedLocker) Option {
	return func(s *Store) {
		s.locker = locker
	}
}

// WithLockTTL bounds how long a crashed committer can block others.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.lockTTL = ttl
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client:  client,
		prefix:  "remodel:",
		lockTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(store)
	}
	if store.locker == nil {
		store.locker = NewLocker(client, store.prefix)
	}
	return store
}

func (s *Store) reposKey() string {
	return s.prefix + "repos"
}

// CreateRepository registers an empty repository. Existing repositories are left untouched.
func (s *Store) CreateRepository(ctx context.Context, name string) error {
	if err := s.client.SAdd(ctx, s.reposKey(), name).Err(); err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	return nil
}

// Open returns a backend on an existing repository.
func (s *Store) Open(ctx context.Context, name string) (ports.Backend, error) {
	ok, err := s.client.SIsMember(ctx, s.reposKey(), name).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check repository: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrRepositoryNotFound)
	}
	return &repo{store: s, name: name}, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Dialer returns a ports.Dialer for redis://[user:password@]host:port/db URLs.
// Every dial opens its own client, closed together with the backend.
func Dialer(opts ...Option) ports.Dialer {
	return ports.DialerFunc(func(ctx context.Context, rawURL, repository string) (ports.Backend, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
		}
		storeOpts := opts
		if prefix := u.Query().Get("prefix"); prefix != "" {
			storeOpts = append(slices.Clip(opts), WithPrefix(prefix))
			q := u.Query()
			q.Del("prefix")
			u.RawQuery = q.Encode()
		}
		clientOpts, err := backend.ParseURL(u.String())
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		store := NewFromClient(backend.NewClient(clientOpts), storeOpts...)
		if err := store.client.Ping(ctx).Err(); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		b, err := store.Open(ctx, repository)
		if err != nil {
			store.Close()
			return nil, err
		}
		b.(*repo).ownsClient = true
		return b, nil
	})
}

// repo implements ports.Backend on one repository.
type repo struct {
	store      *Store
	name       string
	ownsClient bool

	closeOnce sync.Once
	closeErr  error
}

func (r *repo) key(parts ...string) string {
	return r.store.prefix + r.name + ":" + strings.Join(parts, ":")
}

func (r *repo) client() *backend.Client {
	return r.store.client
}

// PackageURIs reads the registration list.
func (r *repo) PackageURIs(ctx context.Context) ([]string, error) {
	uris, err := r.client().LRange(ctx, r.key("pkgs"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	return uris, nil
}

// Package decodes a registered package.
func (r *repo) Package(ctx context.Context, nsURI string) (*domain.Package, error) {
	val, err := r.client().Get(ctx, r.key("pkg", nsURI)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("package %s not registered", nsURI)
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	var pkg domain.Package
	if err := json.Unmarshal([]byte(val), &pkg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal package: %w", err)
	}
	return pkg.Bind(), nil
}

// Resource reads one resource.
func (r *repo) Resource(ctx context.Context, path string) (*domain.Resource, error) {
	val, err := r.client().Get(ctx, r.key("res", path)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrResourceNotFound)
		}
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	var res domain.Resource
	if err := json.Unmarshal([]byte(val), &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resource: %w", err)
	}
	return &res, nil
}

// Revisions reads revisions with a single MGET.
func (r *repo) Revisions(ctx context.Context, ids []domain.ObjectID) ([]*domain.Revision, error) {
	revs, err := r.mget(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i, rev := range revs {
		if rev == nil {
			return nil, fmt.Errorf("%s: %w", ids[i], domain.ErrObjectNotFound)
		}
	}
	return revs, nil
}

// mget returns nil entries for missing objects.
func (r *repo) mget(ctx context.Context, ids []domain.ObjectID) ([]*domain.Revision, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key("rev", string(id))
	}
	vals, err := r.client().MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get revisions: %w", err)
	}

	out := make([]*domain.Revision, len(vals))
	for i, val := range vals {
		s, ok := val.(string)
		if !ok {
			continue
		}
		var rev domain.Revision
		if err := json.Unmarshal([]byte(s), &rev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal revision: %w", err)
		}
		out[i] = &rev
	}
	return out, nil
}

// Instances reads the class index; kind queries union the subclass sets.
func (r *repo) Instances(ctx context.Context, q domain.InstancesQuery) ([]domain.ObjectID, error) {
	classes := []string{q.Class}
	if !q.Exact {
		pkgs, err := r.packages(ctx)
		if err != nil {
			return nil, err
		}
		classes = domain.KindClosure(pkgs, q.Class)
	}

	keys := make([]string, len(classes))
	for i, c := range classes {
		keys[i] = r.key("class", c)
	}
	members, err := r.client().SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	out := make([]domain.ObjectID, len(members))
	for i, m := range members {
		out[i] = domain.ObjectID(m)
	}
	slices.Sort(out)
	return out, nil
}

func (r *repo) packages(ctx context.Context) ([]*domain.Package, error) {
	uris, err := r.PackageURIs(ctx)
	if err != nil {
		return nil, err
	}
	pkgs := make([]*domain.Package, 0, len(uris))
	for _, uri := range uris {
		pkg, err := r.Package(ctx, uri)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

// CrossReferences reads the reverse reference index of every target.
func (r *repo) CrossReferences(ctx context.Context, targets []domain.ObjectID) ([]*domain.CrossReference, error) {
	pipe := r.client().Pipeline()
	cmds := make([]*backend.StringSliceCmd, len(targets))
	for i, target := range targets {
		cmds[i] = pipe.SMembers(ctx, r.key("xref", string(target)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("failed to query cross references: %w", err)
	}

	var out []*domain.CrossReference
	for i, cmd := range cmds {
		for _, entry := range cmd.Val() {
			source, feature, ok := strings.Cut(entry, refSeparator)
			if !ok {
				continue
			}
			out = append(out, &domain.CrossReference{
				Source:  domain.ObjectID(source),
				Feature: feature,
				Target:  targets[i],
			})
		}
	}
	return out, nil
}

// Subtree walks containment one MGET per level.
func (r *repo) Subtree(ctx context.Context, path string, depth int) ([]*domain.Revision, error) {
	res, err := r.Resource(ctx, path)
	if err != nil {
		return nil, err
	}

	var out []*domain.Revision
	level := res.Roots
	for d := 0; len(level) > 0 && (depth == domain.DepthInfinite || d < depth); d++ {
		revs, err := r.mget(ctx, level)
		if err != nil {
			return nil, err
		}
		var next []domain.ObjectID
		for _, rev := range revs {
			if rev == nil {
				continue
			}
			out = append(out, rev)
			next = append(next, rev.Children()...)
		}
		level = next
	}
	return out, nil
}

// Commit validates and writes the change set while holding the repository lock.
// Writes go through one MULTI/EXEC so readers never observe half a commit.
func (r *repo) Commit(ctx context.Context, cs *domain.ChangeSet) error {
	unlock, err := r.store.locker.Lock(ctx, r.name+":commit", r.store.lockTTL)
	if err != nil {
		return err
	}
	defer unlock(context.WithoutCancel(ctx))

	// Previous revisions are needed both for validation and to drop stale index entries.
	var touched []domain.ObjectID
	for _, group := range [][]*domain.Revision{cs.New, cs.Dirty, cs.Detached} {
		for _, rev := range group {
			touched = append(touched, rev.ID)
		}
	}
	stored, err := r.mget(ctx, touched)
	if err != nil {
		return err
	}
	previous := make(map[domain.ObjectID]*domain.Revision, len(stored))
	for _, rev := range stored {
		if rev != nil {
			previous[rev.ID] = rev
		}
	}

	err = cs.Validate(
		func(id domain.ObjectID) (int64, bool, error) {
			rev, ok := previous[id]
			if !ok {
				return 0, false, nil
			}
			return rev.Version, true, nil
		},
		func(path string) (int64, bool, error) {
			res, err := r.Resource(ctx, path)
			if errors.Is(err, domain.ErrResourceNotFound) {
				return 0, false, nil
			}
			if err != nil {
				return 0, false, err
			}
			return res.Version, true, nil
		},
	)
	if err != nil {
		return err
	}

	known, err := r.PackageURIs(ctx)
	if err != nil {
		return err
	}

	resources, revisions := cs.Next()
	_, err = r.client().TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		for _, pkg := range cs.Packages {
			if slices.Contains(known, pkg.NsURI) {
				continue
			}
			data, err := json.Marshal(pkg)
			if err != nil {
				return fmt.Errorf("failed to marshal package: %w", err)
			}
			known = append(known, pkg.NsURI)
			pipe.Set(ctx, r.key("pkg", pkg.NsURI), data, 0)
			pipe.RPush(ctx, r.key("pkgs"), pkg.NsURI)
		}
		for _, res := range resources {
			data, err := json.Marshal(res)
			if err != nil {
				return fmt.Errorf("failed to marshal resource: %w", err)
			}
			pipe.Set(ctx, r.key("res", res.Path), data, 0)
		}
		for _, rev := range cs.Detached {
			r.unindex(ctx, pipe, previous[rev.ID])
			pipe.Del(ctx, r.key("rev", string(rev.ID)))
		}
		for _, rev := range revisions {
			if old, ok := previous[rev.ID]; ok {
				r.unindex(ctx, pipe, old)
			}
			data, err := json.Marshal(rev)
			if err != nil {
				return fmt.Errorf("failed to marshal revision: %w", err)
			}
			pipe.Set(ctx, r.key("rev", string(rev.ID)), data, 0)
			r.index(ctx, pipe, rev)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write commit: %w", err)
	}
	return nil
}

func (r *repo) index(ctx context.Context, pipe backend.Pipeliner, rev *domain.Revision) {
	pipe.SAdd(ctx, r.key("class", rev.Class), string(rev.ID))
	for feature, targets := range rev.References {
		for _, target := range targets {
			pipe.SAdd(ctx, r.key("xref", string(target)), string(rev.ID)+refSeparator+feature)
		}
	}
}

func (r *repo) unindex(ctx context.Context, pipe backend.Pipeliner, rev *domain.Revision) {
	if rev == nil {
		return
	}
	pipe.SRem(ctx, r.key("class", rev.Class), string(rev.ID))
	for feature, targets := range rev.References {
		for _, target := range targets {
			pipe.SRem(ctx, r.key("xref", string(target)), string(rev.ID)+refSeparator+feature)
		}
	}
}

// Close releases the client when it was opened by Dialer.
func (r *repo) Close() error {
	r.closeOnce.Do(func() {
		if r.ownsClient {
			r.closeErr = r.store.Close()
		}
	})
	return r.closeErr
}
