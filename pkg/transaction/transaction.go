package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/aretw0/remodel/internal/logging"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/ports"
	"github.com/aretw0/remodel/pkg/registry"
	"github.com/aretw0/remodel/pkg/session"
)

// Transaction is a mutable view of one resource.
type Transaction struct {
	sess    *session.Session
	backend ports.Backend
	types   *registry.Registry
	logger  *slog.Logger

	initialCollectionSize int
	collectionChunkSize   int
	revisionPrefetchDepth int

	mu     sync.Mutex
	closed bool

	// base is the resource as last seen in the store; Version 0 when it
	// does not exist there yet.
	base          *domain.Resource
	resource      *domain.Resource
	resourceDirty bool
	// others holds resources that lost a root to this one.
	others map[string]*domain.Resource

	clean   map[domain.ObjectID]*domain.Revision // committed state
	working map[domain.ObjectID]*domain.Revision // modified or created
	created map[domain.ObjectID]bool

	// queue holds known ids that are not loaded yet, in discovery order.
	queue  []domain.ObjectID
	queued map[domain.ObjectID]bool

	handles map[domain.ObjectID]*Object
}

// Open starts a transaction on the resource at path.
//
// A missing resource fails with domain.ErrResourceNotFound unless
// createIfMissing is set, in which case it is created on the first commit.
// Other failures are reported as domain.ErrTransaction.
func Open(ctx context.Context, sess *session.Session, path string, createIfMissing bool, opts ...Option) (*Transaction, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty resource path", domain.ErrTransaction)
	}

	t := &Transaction{
		sess:                  sess,
		backend:               sess.Backend(),
		logger:                logging.NewNop(),
		initialCollectionSize: DefaultInitialCollectionSize,
		collectionChunkSize:   DefaultCollectionChunkSize,
		revisionPrefetchDepth: DefaultRevisionPrefetchDepth,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.types == nil {
		t.types = registry.New(sess.Packages(), registry.WithLogger(t.logger))
	}

	res, err := t.backend.Resource(ctx, path)
	switch {
	case errors.Is(err, domain.ErrResourceNotFound):
		if !createIfMissing {
			return nil, err
		}
		res = &domain.Resource{Path: path}
		t.logger.Debug("resource will be created on commit", "path", path)
	case err != nil:
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrTransaction, path, err)
	}

	t.base = res
	t.reset()
	return t, nil
}

// reset drops all local state and caches. Must be called with the lock held.
func (t *Transaction) reset() {
	t.resource = t.base.Clone()
	t.resourceDirty = t.base.Version == 0
	t.others = make(map[string]*domain.Resource)
	t.clean = make(map[domain.ObjectID]*domain.Revision)
	t.working = make(map[domain.ObjectID]*domain.Revision)
	t.created = make(map[domain.ObjectID]bool)
	t.queue = nil
	t.queued = make(map[domain.ObjectID]bool)
	if t.handles == nil {
		t.handles = make(map[domain.ObjectID]*Object)
	}
	t.enqueue(t.resource.Roots...)
}

func (t *Transaction) check() error {
	if t.closed {
		return domain.ErrTransactionClosed
	}
	return nil
}

// Path returns the resource path.
func (t *Transaction) Path() string { return t.base.Path }

// Session returns the session the transaction runs on.
func (t *Transaction) Session() *session.Session { return t.sess }

// Types returns the type registry used to interpret revisions.
func (t *Transaction) Types() *registry.Registry { return t.types }

// Dirty reports whether there are changes to commit.
func (t *Transaction) Dirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.changeSet().Empty()
}

// Create instantiates class. The object is detached until it is added to
// the resource roots or to a containment feature.
func (t *Transaction) Create(ctx context.Context, class *domain.Class) (*Object, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return nil, err
	}
	if class.Abstract {
		return nil, fmt.Errorf("%s: %w", class.QualifiedName(), domain.ErrAbstractType)
	}

	rev := &domain.Revision{
		ID:         domain.NewObjectID(),
		Class:      class.QualifiedName(),
		Attributes: make(map[string]any),
	}
	t.working[rev.ID] = rev
	t.created[rev.ID] = true
	return t.handle(rev)
}

// AddRoot moves obj to the end of the resource roots.
func (t *Transaction) AddRoot(ctx context.Context, obj *Object) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.own(obj); err != nil {
		return err
	}
	if slices.Contains(t.resource.Roots, obj.id) {
		return nil
	}
	if err := t.unlink(ctx, obj.id); err != nil {
		return err
	}
	rev, err := t.mutable(ctx, obj.id)
	if err != nil {
		return err
	}
	rev.Container, rev.ContainingFeature = "", ""
	t.resource.Roots = append(t.resource.Roots, obj.id)
	t.resourceDirty = true
	return t.setResource(ctx, obj.id, t.resource.Path)
}

// Roots returns the objects at the top of the resource.
func (t *Transaction) Roots(ctx context.Context) ([]*Object, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.resolveList(ctx, t.resource.Roots)
}

// Object returns the handle of an object by id. Objects detached in this
// transaction are reported as domain.ErrObjectNotFound.
func (t *Transaction) Object(ctx context.Context, id domain.ObjectID) (*Object, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return nil, err
	}
	rev, err := t.revision(ctx, id)
	if err != nil {
		return nil, err
	}
	if rev.Resource == "" && !t.created[id] {
		return nil, fmt.Errorf("%s is detached: %w", id, domain.ErrObjectNotFound)
	}
	return t.handle(rev)
}

// changeSet collects the pending state. Must be called with the lock held.
func (t *Transaction) changeSet() *domain.ChangeSet {
	cs := &domain.ChangeSet{Packages: t.sess.Unregistered()}
	if t.resourceDirty {
		cs.Resources = append(cs.Resources, t.resource.Clone())
	}
	for _, path := range slices.Sorted(maps.Keys(t.others)) {
		cs.Resources = append(cs.Resources, t.others[path].Clone())
	}
	for _, id := range slices.Sorted(maps.Keys(t.working)) {
		rev := t.working[id]
		switch {
		case t.created[id] && rev.Resource == "":
			// Created and dropped again: nothing to send.
		case t.created[id]:
			cs.New = append(cs.New, rev)
		case rev.Resource == "":
			cs.Detached = append(cs.Detached, rev)
		default:
			cs.Dirty = append(cs.Dirty, rev)
		}
	}
	return cs
}

// Commit sends the pending changes. On failure the pending state is kept
// and the error wraps domain.ErrCommit and the cause (domain.ErrConflict
// for stale versions).
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return err
	}

	cs := t.changeSet()
	if cs.Empty() {
		return nil
	}
	if err := t.backend.Commit(ctx, cs); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrCommit, t.base.Path, err)
	}

	resources, revisions := cs.Next()
	for _, res := range resources {
		if res.Path == t.base.Path {
			t.base = res
		}
	}
	for _, rev := range revisions {
		t.clean[rev.ID] = rev
	}
	for _, rev := range cs.Detached {
		delete(t.clean, rev.ID)
		delete(t.handles, rev.ID)
	}
	for id := range t.created {
		if t.working[id].Resource == "" {
			delete(t.handles, id)
		}
	}
	t.resource = t.base.Clone()
	t.resourceDirty = false
	t.others = make(map[string]*domain.Resource)
	t.working = make(map[domain.ObjectID]*domain.Revision)
	t.created = make(map[domain.ObjectID]bool)

	for _, pkg := range cs.Packages {
		t.sess.MarkRegistered(pkg.NsURI)
	}

	t.logger.Debug("committed",
		"path", t.base.Path,
		"new", len(cs.New),
		"dirty", len(cs.Dirty),
		"detached", len(cs.Detached),
		"packages", len(cs.Packages),
	)
	return nil
}

// Rollback discards pending changes and the revision cache.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return err
	}
	for id := range t.created {
		delete(t.handles, id)
	}
	t.reset()
	return nil
}

// Close ends the transaction and closes its session. Pending changes are
// discarded. Calling Close more than once is allowed.
func (t *Transaction) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.clean, t.working, t.created = nil, nil, nil
	t.queue, t.queued = nil, nil
	return t.sess.Close()
}

// DisposeReport describes the outcome of Dispose.
type DisposeReport struct {
	// Committed is true when pending changes were stored.
	Committed bool
	// CommitErr is the failed commit, if any.
	CommitErr error
	// CloseErr is a failure to release the session.
	CloseErr error
}

// Err joins the reported failures.
func (r DisposeReport) Err() error {
	return errors.Join(r.CommitErr, r.CloseErr)
}

// Dispose commits when store is set, then closes. The transaction is
// closed in every case; a failed commit is logged and reported, not
// returned as an error.
func (t *Transaction) Dispose(ctx context.Context, store bool) DisposeReport {
	var report DisposeReport
	if store {
		if err := t.Commit(ctx); err != nil {
			if !errors.Is(err, domain.ErrTransactionClosed) {
				report.CommitErr = err
				t.logger.Error("commit on disposal failed", "path", t.Path(), "err", err)
			}
		} else {
			report.Committed = true
		}
	}
	if err := t.Close(); err != nil {
		report.CloseErr = err
		t.logger.Warn("close on disposal failed", "path", t.Path(), "err", err)
	}
	return report
}
