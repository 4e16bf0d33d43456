package domain

import (
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
)

// DepthInfinite asks a subtree fetch to follow containment to the leaves.
const DepthInfinite = -1

// ObjectID identifies an object across the whole repository.
type ObjectID string

// NewObjectID returns a fresh random identifier.
func NewObjectID() ObjectID {
	return ObjectID(uuid.NewString())
}

// Revision is one version of a stored object.
type Revision struct {
	ID      ObjectID `json:"id"`
	Version int64    `json:"version"`
	Class   string   `json:"class"`

	// Resource is the path of the resource the object belongs to, empty when detached.
	Resource string `json:"resource,omitempty"`

	// Container is empty for resource roots.
	Container         ObjectID `json:"container,omitempty"`
	ContainingFeature string   `json:"containingFeature,omitempty"`

	Attributes map[string]any        `json:"attributes,omitempty"`
	Contents   map[string][]ObjectID `json:"contents,omitempty"`
	References map[string][]ObjectID `json:"references,omitempty"`
}

// Clone returns a deep copy. Attribute values are copied shallowly.
func (r *Revision) Clone() *Revision {
	c := *r
	c.Attributes = maps.Clone(r.Attributes)
	c.Contents = cloneRefs(r.Contents)
	c.References = cloneRefs(r.References)
	return &c
}

// Children returns the contained objects in feature order, then list order.
func (r *Revision) Children() []ObjectID {
	var out []ObjectID
	for _, name := range slices.Sorted(maps.Keys(r.Contents)) {
		out = append(out, r.Contents[name]...)
	}
	return out
}

// Targets returns the distinct objects referenced through non-containment features.
func (r *Revision) Targets() []ObjectID {
	seen := make(map[ObjectID]bool)
	var out []ObjectID
	for _, ids := range r.References {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func cloneRefs(in map[string][]ObjectID) map[string][]ObjectID {
	if in == nil {
		return nil
	}
	out := make(map[string][]ObjectID, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}

// Resource is the root container of an object graph inside a repository.
type Resource struct {
	Path    string     `json:"path"`
	Version int64      `json:"version"`
	Roots   []ObjectID `json:"roots,omitempty"`
}

// Clone returns a copy with its own roots slice.
func (r *Resource) Clone() *Resource {
	c := *r
	c.Roots = slices.Clone(r.Roots)
	return &c
}

// CrossReference is a non-containment reference from Source.Feature to Target.
type CrossReference struct {
	Source  ObjectID `json:"source"`
	Feature string   `json:"feature"`
	Target  ObjectID `json:"target"`
}

// InstancesQuery selects objects by class.
type InstancesQuery struct {
	// Class is a qualified class name.
	Class string `json:"class"`

	// Exact excludes instances of subclasses.
	Exact bool `json:"exact"`
}

// ChangeSet carries the pending state of a transaction to the store.
//
// Versions in Resources and Dirty are the versions the changes are based
// on; a store rejects the whole set with ErrConflict when any of them is
// stale. New revisions and resources with version 0 must not exist yet.
type ChangeSet struct {
	Packages  []*Package  `json:"packages,omitempty"`
	Resources []*Resource `json:"resources,omitempty"`
	New       []*Revision `json:"new,omitempty"`
	Dirty     []*Revision `json:"dirty,omitempty"`
	Detached  []*Revision `json:"detached,omitempty"`
}

// Empty reports whether the change set carries nothing.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Packages) == 0 && len(cs.Resources) == 0 && len(cs.New) == 0 &&
		len(cs.Dirty) == 0 && len(cs.Detached) == 0
}

// VersionLookup reports the stored version of an object or resource.
type VersionLookup[K comparable] func(key K) (version int64, exists bool, err error)

// Validate checks every base version of the change set against the store.
// It returns an error wrapping ErrConflict on the first mismatch.
func (cs *ChangeSet) Validate(objects VersionLookup[ObjectID], resources VersionLookup[string]) error {
	for _, res := range cs.Resources {
		v, ok, err := resources(res.Path)
		if err != nil {
			return err
		}
		if err := checkBase(ok, v, res.Version); err != nil {
			return fmt.Errorf("resource %s: %w", res.Path, err)
		}
	}
	for _, rev := range cs.New {
		_, ok, err := objects(rev.ID)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("object %s already exists: %w", rev.ID, ErrConflict)
		}
	}
	for _, group := range [][]*Revision{cs.Dirty, cs.Detached} {
		for _, rev := range group {
			v, ok, err := objects(rev.ID)
			if err != nil {
				return err
			}
			if !ok || v != rev.Version {
				return fmt.Errorf("object %s at version %d: %w", rev.ID, rev.Version, ErrConflict)
			}
		}
	}
	return nil
}

func checkBase(exists bool, stored, base int64) error {
	switch {
	case base == 0 && exists:
		return fmt.Errorf("already exists: %w", ErrConflict)
	case base != 0 && (!exists || stored != base):
		return fmt.Errorf("stale version %d: %w", base, ErrConflict)
	}
	return nil
}

// Next returns the resources and revisions as they are stored once the
// change set is applied: new entries get version 1, updated ones base+1.
// Detached revisions are not part of the result.
func (cs *ChangeSet) Next() ([]*Resource, []*Revision) {
	resources := make([]*Resource, 0, len(cs.Resources))
	for _, res := range cs.Resources {
		next := res.Clone()
		next.Version++
		resources = append(resources, next)
	}
	revisions := make([]*Revision, 0, len(cs.New)+len(cs.Dirty))
	for _, rev := range cs.New {
		next := rev.Clone()
		next.Version = 1
		revisions = append(revisions, next)
	}
	for _, rev := range cs.Dirty {
		next := rev.Clone()
		next.Version++
		revisions = append(revisions, next)
	}
	return resources, revisions
}
