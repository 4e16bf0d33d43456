package transaction

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/aretw0/remodel/pkg/domain"
)

// Instances returns the objects of class anywhere in the repository,
// including subclasses unless exact is set. Objects created in this
// transaction are included once attached; detached ones are left out.
func (t *Transaction) Instances(ctx context.Context, class *domain.Class, exact bool) ([]*Object, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return nil, err
	}

	ids, err := t.backend.Instances(ctx, domain.InstancesQuery{Class: class.QualifiedName(), Exact: exact})
	if err != nil {
		return nil, fmt.Errorf("%w: instances of %s: %w", domain.ErrTransaction, class.QualifiedName(), err)
	}

	seen := make(map[domain.ObjectID]bool, len(ids))
	matches := make([]domain.ObjectID, 0, len(ids))
	for _, id := range ids {
		if rev, ok := t.working[id]; ok && rev.Resource == "" {
			continue
		}
		seen[id] = true
		matches = append(matches, id)
	}
	for _, id := range slices.Sorted(maps.Keys(t.working)) {
		rev := t.working[id]
		if seen[id] || rev.Resource == "" {
			continue
		}
		ok, err := t.matches(rev, class, exact)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, id)
		}
	}

	return t.resolveList(ctx, matches)
}

func (t *Transaction) matches(rev *domain.Revision, class *domain.Class, exact bool) (bool, error) {
	if rev.Class == class.QualifiedName() {
		return true, nil
	}
	if exact {
		return false, nil
	}
	c, err := t.types.Class(rev.Class)
	if err != nil {
		return false, err
	}
	return t.types.IsKindOf(c, class), nil
}

// CrossReference is a non-containment reference from Source into Target.
type CrossReference struct {
	Source  *Object
	Feature *domain.Feature
	Target  *Object
}

// CrossReferences returns every non-containment reference, from anywhere
// in the repository, pointing at one of targets. References held by
// objects modified in this transaction reflect their pending values.
func (t *Transaction) CrossReferences(ctx context.Context, targets []*Object) ([]*CrossReference, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return nil, err
	}

	wanted := make(map[domain.ObjectID]*Object, len(targets))
	var stored []domain.ObjectID
	for _, obj := range targets {
		if err := t.own(obj); err != nil {
			return nil, err
		}
		wanted[obj.id] = obj
		if !t.created[obj.id] {
			stored = append(stored, obj.id)
		}
	}

	var found []*domain.CrossReference
	if len(stored) > 0 {
		remote, err := t.backend.CrossReferences(ctx, stored)
		if err != nil {
			return nil, fmt.Errorf("%w: cross references: %w", domain.ErrTransaction, err)
		}
		for _, ref := range remote {
			// Local copies are authoritative for their own references.
			if _, ok := t.working[ref.Source]; !ok {
				found = append(found, ref)
			}
		}
	}
	for _, id := range slices.Sorted(maps.Keys(t.working)) {
		rev := t.working[id]
		for _, feature := range slices.Sorted(maps.Keys(rev.References)) {
			for _, target := range rev.References[feature] {
				if _, ok := wanted[target]; ok {
					found = append(found, &domain.CrossReference{Source: id, Feature: feature, Target: target})
				}
			}
		}
	}

	sources := make([]domain.ObjectID, 0, len(found))
	for _, ref := range found {
		sources = append(sources, ref.Source)
	}
	if err := t.load(ctx, sources); err != nil {
		return nil, err
	}

	out := make([]*CrossReference, 0, len(found))
	for _, ref := range found {
		rev, err := t.revision(ctx, ref.Source)
		if err != nil {
			return nil, err
		}
		src, err := t.handle(rev)
		if err != nil {
			return nil, err
		}
		f, err := t.types.Feature(src.class, ref.Feature)
		if err != nil {
			return nil, err
		}
		out = append(out, &CrossReference{Source: src, Feature: f, Target: wanted[ref.Target]})
	}
	return out, nil
}

// Prefetch loads the containment tree of the resource, depth levels deep
// (domain.DepthInfinite for all), with a single store call.
func (t *Transaction) Prefetch(ctx context.Context, depth int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return err
	}
	if t.base.Version == 0 {
		// Not stored yet, nothing to fetch.
		return nil
	}

	revs, err := t.backend.Subtree(ctx, t.base.Path, depth)
	if err != nil {
		return fmt.Errorf("%w: prefetch %s: %w", domain.ErrTransaction, t.base.Path, err)
	}
	for _, rev := range revs {
		if !t.loaded(rev.ID) {
			t.remember(rev)
		}
	}
	t.logger.Debug("prefetched subtree", "path", t.base.Path, "depth", depth, "revisions", len(revs))
	return nil
}
