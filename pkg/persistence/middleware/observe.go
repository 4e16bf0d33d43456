package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/ports"
)

// observer is told about every finished backend call.
type observer func(ctx context.Context, op string, elapsed time.Duration, err error)

// observed wraps a Backend and reports each call to an observer.
type observed struct {
	next    ports.Backend
	observe observer
}

func observe(o observer) Middleware {
	return func(next ports.Backend) ports.Backend {
		return &observed{next: next, observe: o}
	}
}

// outcome classifies an error for labels and log levels.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrResourceNotFound),
		errors.Is(err, domain.ErrObjectNotFound),
		errors.Is(err, domain.ErrRepositoryNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

func (o *observed) PackageURIs(ctx context.Context) ([]string, error) {
	start := time.Now()
	uris, err := o.next.PackageURIs(ctx)
	o.observe(ctx, "package_uris", time.Since(start), err)
	return uris, err
}

func (o *observed) Package(ctx context.Context, nsURI string) (*domain.Package, error) {
	start := time.Now()
	pkg, err := o.next.Package(ctx, nsURI)
	o.observe(ctx, "package", time.Since(start), err)
	return pkg, err
}

func (o *observed) Resource(ctx context.Context, path string) (*domain.Resource, error) {
	start := time.Now()
	res, err := o.next.Resource(ctx, path)
	o.observe(ctx, "resource", time.Since(start), err)
	return res, err
}

func (o *observed) Revisions(ctx context.Context, ids []domain.ObjectID) ([]*domain.Revision, error) {
	start := time.Now()
	revs, err := o.next.Revisions(ctx, ids)
	o.observe(ctx, "revisions", time.Since(start), err)
	return revs, err
}

func (o *observed) Instances(ctx context.Context, q domain.InstancesQuery) ([]domain.ObjectID, error) {
	start := time.Now()
	ids, err := o.next.Instances(ctx, q)
	o.observe(ctx, "instances", time.Since(start), err)
	return ids, err
}

func (o *observed) CrossReferences(ctx context.Context, targets []domain.ObjectID) ([]*domain.CrossReference, error) {
	start := time.Now()
	refs, err := o.next.CrossReferences(ctx, targets)
	o.observe(ctx, "cross_references", time.Since(start), err)
	return refs, err
}

func (o *observed) Subtree(ctx context.Context, path string, depth int) ([]*domain.Revision, error) {
	start := time.Now()
	revs, err := o.next.Subtree(ctx, path, depth)
	o.observe(ctx, "subtree", time.Since(start), err)
	return revs, err
}

func (o *observed) Commit(ctx context.Context, cs *domain.ChangeSet) error {
	start := time.Now()
	err := o.next.Commit(ctx, cs)
	o.observe(ctx, "commit", time.Since(start), err)
	return err
}

func (o *observed) Close() error {
	start := time.Now()
	err := o.next.Close()
	o.observe(context.Background(), "close", time.Since(start), err)
	return err
}
