package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/remodel/pkg/domain"
	"golang.org/x/sync/errgroup"
)

// The helpers in this file must be called with t.mu held.

func (t *Transaction) loaded(id domain.ObjectID) bool {
	if _, ok := t.working[id]; ok {
		return true
	}
	_, ok := t.clean[id]
	return ok
}

// revision returns the current revision of id, fetching it on a miss.
func (t *Transaction) revision(ctx context.Context, id domain.ObjectID) (*domain.Revision, error) {
	if rev, ok := t.working[id]; ok {
		return rev, nil
	}
	if rev, ok := t.clean[id]; ok {
		return rev, nil
	}
	if err := t.load(ctx, []domain.ObjectID{id}); err != nil {
		return nil, err
	}
	return t.clean[id], nil
}

// enqueue records ids worth fetching along with the next cache miss.
func (t *Transaction) enqueue(ids ...domain.ObjectID) {
	for _, id := range ids {
		if t.queued[id] || t.loaded(id) {
			continue
		}
		t.queued[id] = true
		t.queue = append(t.queue, id)
	}
}

// extras pops up to n queued ids that are neither loaded nor in skip.
func (t *Transaction) extras(n int, skip map[domain.ObjectID]bool) []domain.ObjectID {
	var out []domain.ObjectID
	for len(t.queue) > 0 && len(out) < n {
		id := t.queue[0]
		t.queue = t.queue[1:]
		delete(t.queued, id)
		if skip[id] || t.loaded(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// load makes sure every id is cached. Missing ids are fetched in batches
// of at most revisionPrefetchDepth; a batch with room left is filled up
// with queued ids.
func (t *Transaction) load(ctx context.Context, ids []domain.ObjectID) error {
	seen := make(map[domain.ObjectID]bool, len(ids))
	var missing []domain.ObjectID
	for _, id := range ids {
		if seen[id] || t.loaded(id) {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return nil
	}

	var extra []domain.ObjectID
	if room := t.revisionPrefetchDepth - len(missing)%t.revisionPrefetchDepth; room < t.revisionPrefetchDepth {
		extra = t.extras(room, seen)
	}

	revs, err := t.fetch(ctx, append(missing, extra...))
	if err != nil && len(extra) > 0 && errors.Is(err, domain.ErrObjectNotFound) {
		// A prefetched id may be gone; retry with what was asked for.
		revs, err = t.fetch(ctx, missing)
	}
	if err != nil {
		return fmt.Errorf("%w: load revisions: %w", domain.ErrTransaction, err)
	}

	for _, rev := range revs {
		t.remember(rev)
	}
	return nil
}

// fetch runs one Revisions call per batch, in parallel.
func (t *Transaction) fetch(ctx context.Context, ids []domain.ObjectID) ([]*domain.Revision, error) {
	var batches [][]domain.ObjectID
	for start := 0; start < len(ids); start += t.revisionPrefetchDepth {
		batches = append(batches, ids[start:min(start+t.revisionPrefetchDepth, len(ids))])
	}

	results := make([][]*domain.Revision, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for i, batch := range batches {
		g.Go(func() error {
			revs, err := t.backend.Revisions(gctx, batch)
			if err != nil {
				return err
			}
			results[i] = revs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*domain.Revision, 0, len(ids))
	for _, revs := range results {
		out = append(out, revs...)
	}
	t.logger.Debug("fetched revisions", "count", len(ids), "batches", len(batches))
	return out, nil
}

// remember caches a committed revision unless a local copy exists.
func (t *Transaction) remember(rev *domain.Revision) {
	if _, ok := t.working[rev.ID]; ok {
		return
	}
	t.clean[rev.ID] = rev
	t.enqueue(rev.Children()...)
	t.enqueue(rev.Targets()...)
}

// resolveList returns handles for ids, resolving them in collection windows.
func (t *Transaction) resolveList(ctx context.Context, ids []domain.ObjectID) ([]*Object, error) {
	first := min(t.initialCollectionSize, len(ids))
	if first > 0 {
		if err := t.load(ctx, ids[:first]); err != nil {
			return nil, err
		}
	}
	for start := first; start < len(ids); start += t.collectionChunkSize {
		if err := t.load(ctx, ids[start:min(start+t.collectionChunkSize, len(ids))]); err != nil {
			return nil, err
		}
	}

	out := make([]*Object, 0, len(ids))
	for _, id := range ids {
		rev, err := t.revision(ctx, id)
		if err != nil {
			return nil, err
		}
		obj, err := t.handle(rev)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// handle returns the one handle of rev's object.
func (t *Transaction) handle(rev *domain.Revision) (*Object, error) {
	if obj, ok := t.handles[rev.ID]; ok {
		return obj, nil
	}
	class, err := t.types.Class(rev.Class)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", rev.ID, err)
	}
	obj := &Object{tx: t, id: rev.ID, class: class}
	t.handles[rev.ID] = obj
	return obj, nil
}

// own checks that obj can be used with this transaction.
func (t *Transaction) own(obj *Object) error {
	if err := t.check(); err != nil {
		return err
	}
	if obj == nil || obj.tx != t {
		return fmt.Errorf("%w: object belongs to another transaction", domain.ErrTransaction)
	}
	return nil
}

// mutable returns the working copy of id, copying the committed revision
// on first write.
func (t *Transaction) mutable(ctx context.Context, id domain.ObjectID) (*domain.Revision, error) {
	if rev, ok := t.working[id]; ok {
		return rev, nil
	}
	rev, err := t.revision(ctx, id)
	if err != nil {
		return nil, err
	}
	rev = rev.Clone()
	t.working[id] = rev
	return rev, nil
}

// setResource assigns path to id and every object it contains.
func (t *Transaction) setResource(ctx context.Context, id domain.ObjectID, path string) error {
	level := []domain.ObjectID{id}
	for len(level) > 0 {
		if err := t.load(ctx, level); err != nil {
			return err
		}
		var next []domain.ObjectID
		for _, id := range level {
			rev, err := t.revision(ctx, id)
			if err != nil {
				return err
			}
			// Contained objects always share their container's resource.
			if rev.Resource == path {
				continue
			}
			if rev, err = t.mutable(ctx, id); err != nil {
				return err
			}
			rev.Resource = path
			next = append(next, rev.Children()...)
		}
		level = next
	}
	return nil
}

// unlink removes id from its container or from the resource roots.
// The object keeps its resource; callers reassign it.
func (t *Transaction) unlink(ctx context.Context, id domain.ObjectID) error {
	rev, err := t.revision(ctx, id)
	if err != nil {
		return err
	}

	if rev.Container == "" {
		switch rev.Resource {
		case "":
		case t.resource.Path:
			if i := indexOf(t.resource.Roots, id); i >= 0 {
				t.resource.Roots = deleteAt(t.resource.Roots, i)
				t.resourceDirty = true
			}
		default:
			other, err := t.foreign(ctx, rev.Resource)
			if err != nil {
				return err
			}
			if i := indexOf(other.Roots, id); i >= 0 {
				other.Roots = deleteAt(other.Roots, i)
			}
		}
		return nil
	}

	parent, err := t.mutable(ctx, rev.Container)
	if err != nil {
		return err
	}
	list := parent.Contents[rev.ContainingFeature]
	if i := indexOf(list, id); i >= 0 {
		parent.Contents[rev.ContainingFeature] = deleteAt(list, i)
	}

	child, err := t.mutable(ctx, id)
	if err != nil {
		return err
	}
	child.Container, child.ContainingFeature = "", ""
	return nil
}

// foreign returns the working copy of another resource touched by a move.
// It is sent with the next commit at the version read here.
func (t *Transaction) foreign(ctx context.Context, path string) (*domain.Resource, error) {
	if res, ok := t.others[path]; ok {
		return res, nil
	}
	res, err := t.backend.Resource(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: resource %s: %w", domain.ErrTransaction, path, err)
	}
	t.others[path] = res.Clone()
	return t.others[path], nil
}

func indexOf(ids []domain.ObjectID, id domain.ObjectID) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func deleteAt(ids []domain.ObjectID, i int) []domain.ObjectID {
	out := make([]domain.ObjectID, 0, len(ids)-1)
	out = append(out, ids[:i]...)
	return append(out, ids[i+1:]...)
}
