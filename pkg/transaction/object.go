package transaction

import (
	"context"
	"fmt"
	"slices"

	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/schema"
)

// Object is a handle on a stored or created object. It is only valid
// within the transaction that returned it.
type Object struct {
	tx    *Transaction
	id    domain.ObjectID
	class *domain.Class
}

// ID returns the repository-wide object id.
func (o *Object) ID() domain.ObjectID { return o.id }

// Class returns the runtime class of the object.
func (o *Object) Class() *domain.Class { return o.class }

// Transaction returns the transaction the handle belongs to.
func (o *Object) Transaction() *Transaction { return o.tx }

func (o *Object) String() string {
	return o.class.QualifiedName() + "#" + string(o.id)
}

// Resource returns the path of the owning resource, or "" when detached.
func (o *Object) Resource(ctx context.Context) (string, error) {
	t := o.tx
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return "", err
	}
	rev, err := t.revision(ctx, o.id)
	if err != nil {
		return "", err
	}
	return rev.Resource, nil
}

// Container returns the containing object, or nil for resource roots and
// detached objects.
func (o *Object) Container(ctx context.Context) (*Object, error) {
	t := o.tx
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return nil, err
	}
	rev, err := t.revision(ctx, o.id)
	if err != nil {
		return nil, err
	}
	if rev.Container == "" {
		return nil, nil
	}
	parent, err := t.revision(ctx, rev.Container)
	if err != nil {
		return nil, err
	}
	return t.handle(parent)
}

// Contents returns the directly contained objects, feature by feature.
func (o *Object) Contents(ctx context.Context) ([]*Object, error) {
	t := o.tx
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return nil, err
	}
	rev, err := t.revision(ctx, o.id)
	if err != nil {
		return nil, err
	}
	return t.resolveList(ctx, rev.Children())
}

func (o *Object) feature(name string) (*domain.Feature, error) {
	return o.tx.types.Feature(o.class, name)
}

func (o *Object) changeable(name string) (*domain.Feature, error) {
	f, err := o.feature(name)
	if err != nil {
		return nil, err
	}
	if f.Derived || !f.Changeable() {
		return nil, fmt.Errorf("%s.%s is not changeable: %w", o.class.QualifiedName(), name, domain.ErrInvalidFeature)
	}
	return f, nil
}

// Get returns the value of a feature: the attribute value, an *Object
// (nil when unset) for single references, or []*Object for multi-valued
// references.
func (o *Object) Get(ctx context.Context, name string) (any, error) {
	t := o.tx
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return nil, err
	}
	f, err := o.feature(name)
	if err != nil {
		return nil, err
	}
	rev, err := t.revision(ctx, o.id)
	if err != nil {
		return nil, err
	}

	if !f.IsReference() {
		return rev.Attributes[name], nil
	}
	ids := refs(rev, f)[name]
	if f.Many {
		return t.resolveList(ctx, ids)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	target, err := t.revision(ctx, ids[0])
	if err != nil {
		return nil, err
	}
	return t.handle(target)
}

// List returns the targets of a multi-valued reference.
func (o *Object) List(ctx context.Context, name string) ([]*Object, error) {
	t := o.tx
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return nil, err
	}
	f, err := o.feature(name)
	if err != nil {
		return nil, err
	}
	if !f.IsReference() {
		return nil, fmt.Errorf("%s.%s is an attribute: %w", o.class.QualifiedName(), name, domain.ErrInvalidFeature)
	}
	rev, err := t.revision(ctx, o.id)
	if err != nil {
		return nil, err
	}
	return t.resolveList(ctx, refs(rev, f)[name])
}

// Set replaces the value of a feature. References take an *Object (or
// nil to unset) when single-valued and a []*Object when multi-valued.
// Objects set on a containment feature are moved under this object;
// objects they replace are detached.
func (o *Object) Set(ctx context.Context, name string, value any) error {
	t := o.tx
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.own(o); err != nil {
		return err
	}
	f, err := o.changeable(name)
	if err != nil {
		return err
	}

	if !f.IsReference() {
		if err := schema.CheckValue(f, value); err != nil {
			return fmt.Errorf("%s: %w", o.class.QualifiedName(), err)
		}
		rev, err := t.mutable(ctx, o.id)
		if err != nil {
			return err
		}
		if value == nil {
			delete(rev.Attributes, name)
			return nil
		}
		if rev.Attributes == nil {
			rev.Attributes = make(map[string]any)
		}
		rev.Attributes[name] = value
		return nil
	}

	var targets []*Object
	switch v := value.(type) {
	case nil:
	case *Object:
		if f.Many {
			return fmt.Errorf("%s.%s expects []*Object: %w", o.class.QualifiedName(), name, domain.ErrInvalidFeature)
		}
		if v != nil {
			targets = []*Object{v}
		}
	case []*Object:
		if !f.Many {
			return fmt.Errorf("%s.%s expects *Object: %w", o.class.QualifiedName(), name, domain.ErrInvalidFeature)
		}
		targets = v
	default:
		return fmt.Errorf("%s.%s cannot hold %T: %w", o.class.QualifiedName(), name, value, domain.ErrInvalidFeature)
	}

	rev, err := t.revision(ctx, o.id)
	if err != nil {
		return err
	}
	for _, id := range slices.Clone(refs(rev, f)[name]) {
		if err := o.remove(ctx, f, id); err != nil {
			return err
		}
	}
	for _, target := range targets {
		if err := o.add(ctx, f, target); err != nil {
			return err
		}
	}
	return nil
}

// Add appends obj to a multi-valued reference. Adding an object that is
// already present does nothing.
func (o *Object) Add(ctx context.Context, name string, obj *Object) error {
	t := o.tx
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.own(o); err != nil {
		return err
	}
	f, err := o.changeable(name)
	if err != nil {
		return err
	}
	if !f.IsReference() || !f.Many {
		return fmt.Errorf("%s.%s is not a multi-valued reference: %w", o.class.QualifiedName(), name, domain.ErrInvalidFeature)
	}
	return o.add(ctx, f, obj)
}

// Remove takes obj out of a reference. Removing it from a containment
// feature detaches it.
func (o *Object) Remove(ctx context.Context, name string, obj *Object) error {
	t := o.tx
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.own(o); err != nil {
		return err
	}
	if err := t.own(obj); err != nil {
		return err
	}
	f, err := o.changeable(name)
	if err != nil {
		return err
	}
	if !f.IsReference() {
		return fmt.Errorf("%s.%s is an attribute: %w", o.class.QualifiedName(), name, domain.ErrInvalidFeature)
	}
	return o.remove(ctx, f, obj.id)
}

// Detach removes the object from its container or from the resource
// roots. The object and its contents are deleted by the next commit.
func (o *Object) Detach(ctx context.Context) error {
	t := o.tx
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.own(o); err != nil {
		return err
	}
	if err := t.unlink(ctx, o.id); err != nil {
		return err
	}
	return t.setResource(ctx, o.id, "")
}

func (o *Object) add(ctx context.Context, f *domain.Feature, target *Object) error {
	t := o.tx
	if err := t.own(target); err != nil {
		return err
	}
	if err := o.checkType(f, target); err != nil {
		return err
	}

	rev, err := t.revision(ctx, o.id)
	if err != nil {
		return err
	}
	if slices.Contains(refs(rev, f)[f.Name], target.id) {
		return nil
	}

	if f.Containment {
		if target.id == o.id {
			return fmt.Errorf("%s cannot contain itself: %w", o, domain.ErrInvalidFeature)
		}
		if err := t.unlink(ctx, target.id); err != nil {
			return err
		}
		child, err := t.mutable(ctx, target.id)
		if err != nil {
			return err
		}
		child.Container, child.ContainingFeature = o.id, f.Name
		// unlink may have edited our own revision.
		if rev, err = t.revision(ctx, o.id); err != nil {
			return err
		}
	}

	if !f.Many {
		for _, id := range slices.Clone(refs(rev, f)[f.Name]) {
			if err := o.remove(ctx, f, id); err != nil {
				return err
			}
		}
	}

	rev, err = t.mutable(ctx, o.id)
	if err != nil {
		return err
	}
	m := refsFor(rev, f)
	m[f.Name] = append(m[f.Name], target.id)

	if f.Containment {
		return t.setResource(ctx, target.id, rev.Resource)
	}
	return nil
}

func (o *Object) remove(ctx context.Context, f *domain.Feature, id domain.ObjectID) error {
	t := o.tx
	rev, err := t.revision(ctx, o.id)
	if err != nil {
		return err
	}
	if !slices.Contains(refs(rev, f)[f.Name], id) {
		return nil
	}
	if f.Containment {
		// unlink edits our revision too.
		if err := t.unlink(ctx, id); err != nil {
			return err
		}
		return t.setResource(ctx, id, "")
	}

	rev, err = t.mutable(ctx, o.id)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(slices.Clone(rev.References[f.Name]), func(v domain.ObjectID) bool { return v == id })
	if len(kept) == 0 {
		delete(rev.References, f.Name)
	} else {
		rev.References[f.Name] = kept
	}
	return nil
}

func (o *Object) checkType(f *domain.Feature, target *Object) error {
	if f.Type == "" {
		return nil
	}
	want, err := o.tx.types.Class(f.Type)
	if err != nil {
		return err
	}
	if !o.tx.types.IsKindOf(target.class, want) {
		return fmt.Errorf("%s.%s expects %s, got %s: %w",
			o.class.QualifiedName(), f.Name, f.Type, target.class.QualifiedName(), domain.ErrInvalidFeature)
	}
	return nil
}

// refs selects the map holding f.
func refs(rev *domain.Revision, f *domain.Feature) map[string][]domain.ObjectID {
	if f.Containment {
		return rev.Contents
	}
	return rev.References
}

// refsFor is refs on a working copy, allocating the map when needed.
func refsFor(rev *domain.Revision, f *domain.Feature) map[string][]domain.ObjectID {
	if f.Containment {
		if rev.Contents == nil {
			rev.Contents = make(map[string][]domain.ObjectID)
		}
		return rev.Contents
	}
	if rev.References == nil {
		rev.References = make(map[string][]domain.ObjectID)
	}
	return rev.References
}
