package remodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/remodel/internal/logging"
	"github.com/aretw0/remodel/pkg/connector"
	"github.com/aretw0/remodel/pkg/deletion"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/persistence/middleware"
	"github.com/aretw0/remodel/pkg/ports"
	"github.com/aretw0/remodel/pkg/query"
	"github.com/aretw0/remodel/pkg/registry"
	"github.com/aretw0/remodel/pkg/session"
	"github.com/aretw0/remodel/pkg/transaction"
)

// ErrNotLoaded is returned by Model operations called before Load.
var ErrNotLoaded = errors.New("model not loaded")

// Model is one resource of a remote repository, opened for reading and
// editing in a single transaction.
//
// Load and Dispose must not run concurrently with other calls. Everything
// else is serialized by the transaction.
type Model struct {
	dialer ports.Dialer
	pkgs   []*domain.Package
	mws    []middleware.Middleware
	strict bool
	caps   Capabilities
	logger *slog.Logger

	cfg        Config
	tx         *transaction.Transaction
	types      TypeResolver
	querier    InstanceQuerier
	prefetcher SubtreePrefetcher
	deleter    SubtreeDeleter
	disposed   bool
}

// Option configures the Model.
type Option func(*Model)

// WithDialer sets how store URLs are dialed. The default is a
// connector.Router without in-process hubs.
func WithDialer(d ports.Dialer) Option {
	return func(m *Model) {
		m.dialer = d
	}
}

// WithPackages preloads client-side packages. They take precedence over
// the store's packages with the same namespace URI and are registered in
// the store on the first commit.
func WithPackages(pkgs ...*domain.Package) Option {
	return func(m *Model) {
		m.pkgs = append(m.pkgs, pkgs...)
	}
}

// WithMiddleware wraps the store backend, first middleware outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(m *Model) {
		m.mws = append(m.mws, mws...)
	}
}

// WithStrictNames rejects unqualified type names that match several classes.
func WithStrictNames() Option {
	return func(m *Model) {
		m.strict = true
	}
}

// WithCapabilities replaces the query, prefetch or deletion components.
func WithCapabilities(caps Capabilities) Option {
	return func(m *Model) {
		m.caps = caps
	}
}

// WithLogger sets a custom structured logger for the model and the
// components it builds.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		m.logger = logger
	}
}

// New creates an unloaded Model.
func New(opts ...Option) *Model {
	m := &Model{
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = connector.New(connector.WithLogger(m.logger))
	}
	return m
}

// Load connects to the store and opens a transaction on cfg.Path.
// Every failure is reported as domain.ErrLoad wrapping the cause, such as
// domain.ErrConnection or domain.ErrResourceNotFound.
func (m *Model) Load(ctx context.Context, cfg Config) error {
	if m.tx != nil && !m.disposed {
		return fmt.Errorf("%w: model already loaded", domain.ErrLoad)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrLoad, err)
	}

	sess, err := session.Connect(ctx, m.dialer, cfg.URL, cfg.Repository,
		session.WithPackages(m.pkgs...),
		session.WithMiddleware(m.mws...),
		session.WithLogger(m.logger),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrLoad, err)
	}

	regOpts := []registry.Option{registry.WithLogger(m.logger)}
	if m.strict {
		regOpts = append(regOpts, registry.WithStrictNames())
	}
	types := registry.New(sess.Packages(), regOpts...)

	txOpts := append(cfg.transactionOptions(),
		transaction.WithTypes(types),
		transaction.WithLogger(m.logger),
	)
	tx, err := transaction.Open(ctx, sess, cfg.Path, cfg.CreateMissing, txOpts...)
	if err != nil {
		if closeErr := sess.Close(); closeErr != nil {
			m.logger.Warn("failed to close session", "err", closeErr)
		}
		return fmt.Errorf("%w: %w", domain.ErrLoad, err)
	}

	m.cfg = cfg
	m.tx = tx
	m.types = types
	m.disposed = false
	m.compose()

	m.logger.Info("model loaded", "url", cfg.URL, "repo", cfg.Repository, "path", cfg.Path)
	return nil
}

// compose builds the delegates for the open transaction.
func (m *Model) compose() {
	if m.caps.Querier != nil {
		m.querier = m.caps.Querier(m.tx, m.types)
	} else {
		m.querier = query.NewEngine(m.tx, m.types, query.WithLogger(m.logger))
	}
	if m.caps.Prefetcher != nil {
		m.prefetcher = m.caps.Prefetcher(m.tx)
	} else {
		m.prefetcher = query.NewPrefetcher(m.tx)
	}
	if m.caps.Deleter != nil {
		m.deleter = m.caps.Deleter(m.tx)
	} else {
		m.deleter = deletion.New(m.tx, deletion.WithLogger(m.logger))
	}
}

func (m *Model) loaded() error {
	if m.tx == nil {
		return ErrNotLoaded
	}
	return nil
}

// Config returns the configuration the model was loaded with.
func (m *Model) Config() Config { return m.cfg }

// Transaction returns the underlying transaction, nil before Load.
func (m *Model) Transaction() *transaction.Transaction { return m.tx }

// CreateInstance instantiates the named class as a new root of the resource.
func (m *Model) CreateInstance(ctx context.Context, typeName string) (*transaction.Object, error) {
	if err := m.loaded(); err != nil {
		return nil, err
	}
	class, err := m.types.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	obj, err := m.tx.Create(ctx, class)
	if err != nil {
		return nil, err
	}
	if err := m.tx.AddRoot(ctx, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// AllOfType returns the objects of the resource whose class is exactly typeName.
func (m *Model) AllOfType(ctx context.Context, typeName string) ([]*transaction.Object, error) {
	if err := m.loaded(); err != nil {
		return nil, err
	}
	return m.querier.AllOfType(ctx, typeName)
}

// AllOfKind returns the objects of the resource that are typeName or a subclass.
func (m *Model) AllOfKind(ctx context.Context, typeName string) ([]*transaction.Object, error) {
	if err := m.loaded(); err != nil {
		return nil, err
	}
	return m.querier.AllOfKind(ctx, typeName)
}

// AllContents returns every object of the resource, depth first in
// containment order. The subtree is prefetched first; a failed prefetch is
// logged and the walk loads revisions on demand.
func (m *Model) AllContents(ctx context.Context) ([]*transaction.Object, error) {
	if err := m.loaded(); err != nil {
		return nil, err
	}
	if err := m.prefetcher.PrefetchAll(ctx); err != nil {
		if errors.Is(err, domain.ErrTransactionClosed) {
			return nil, err
		}
		m.logger.Warn("prefetch failed", "path", m.cfg.Path, "err", err)
	}

	roots, err := m.tx.Roots(ctx)
	if err != nil {
		return nil, err
	}

	var out []*transaction.Object
	stack := reversed(roots)
	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, obj)

		children, err := obj.Contents(ctx)
		if err != nil {
			return nil, err
		}
		stack = append(stack, reversed(children)...)
	}
	return out, nil
}

func reversed(objs []*transaction.Object) []*transaction.Object {
	out := make([]*transaction.Object, len(objs))
	for i, o := range objs {
		out[len(objs)-1-i] = o
	}
	return out
}

// DeleteElement removes obj and its contents, severing references to them.
// See deletion.Deleter for the non-atomic failure semantics.
func (m *Model) DeleteElement(ctx context.Context, obj *transaction.Object) error {
	if err := m.loaded(); err != nil {
		return err
	}
	if obj.Transaction() != m.tx {
		return fmt.Errorf("%w: %s belongs to another model", domain.ErrDeletion, obj)
	}
	return m.deleter.DeleteSubtree(ctx, obj)
}

// Commit stores the pending changes.
func (m *Model) Commit(ctx context.Context) error {
	if err := m.loaded(); err != nil {
		return err
	}
	return m.tx.Commit(ctx)
}

// Rollback discards the pending changes.
func (m *Model) Rollback() error {
	if err := m.loaded(); err != nil {
		return err
	}
	return m.tx.Rollback()
}

// Dispose commits when the model was loaded with StoreOnDisposal, then
// closes the transaction and the session. A failed commit is logged and
// reported, never turned into a failed dispose. Safe to call more than once.
func (m *Model) Dispose(ctx context.Context) transaction.DisposeReport {
	if m.tx == nil || m.disposed {
		return transaction.DisposeReport{}
	}
	m.disposed = true
	return m.tx.Dispose(ctx, m.cfg.StoreOnDisposal)
}

// Owns reports whether obj is an object of this model's resource.
func (m *Model) Owns(ctx context.Context, obj *transaction.Object) bool {
	if m.tx == nil || obj == nil || obj.Transaction() != m.tx {
		return false
	}
	path, err := obj.Resource(ctx)
	if err != nil {
		m.logger.Debug("ownership check failed", "object", obj.String(), "err", err)
		return false
	}
	return path == m.cfg.Path
}

// TypeOf returns the class of obj.
func (m *Model) TypeOf(obj *transaction.Object) *domain.Class {
	return obj.Class()
}

// HasType reports whether typeName resolves to a class.
func (m *Model) HasType(typeName string) bool {
	if m.types == nil {
		return false
	}
	_, err := m.types.Lookup(typeName)
	return err == nil
}

// IsOfType reports whether obj's class is exactly typeName.
func (m *Model) IsOfType(obj *transaction.Object, typeName string) (bool, error) {
	if err := m.loaded(); err != nil {
		return false, err
	}
	class, err := m.types.Lookup(typeName)
	if err != nil {
		return false, err
	}
	return obj.Class().QualifiedName() == class.QualifiedName(), nil
}

// IsOfKind reports whether obj's class is typeName or one of its subclasses.
func (m *Model) IsOfKind(obj *transaction.Object, typeName string) (bool, error) {
	if err := m.loaded(); err != nil {
		return false, err
	}
	class, err := m.types.Lookup(typeName)
	if err != nil {
		return false, err
	}
	return m.types.IsKindOf(obj.Class(), class), nil
}

// ElementByID returns an object of the resource by id. Objects stored in
// other resources are reported as domain.ErrObjectNotFound.
func (m *Model) ElementByID(ctx context.Context, id string) (*transaction.Object, error) {
	if err := m.loaded(); err != nil {
		return nil, err
	}
	obj, err := m.tx.Object(ctx, domain.ObjectID(id))
	if err != nil {
		return nil, err
	}
	path, err := obj.Resource(ctx)
	if err != nil {
		return nil, err
	}
	if path != m.cfg.Path {
		return nil, fmt.Errorf("%s is in %s: %w", id, path, domain.ErrObjectNotFound)
	}
	return obj, nil
}
