package testutils

import (
	"github.com/aretw0/remodel/pkg/domain"
)

// Namespace URIs of the fixture metamodels.
const (
	TreeNsURI   = "http://remodel.dev/tree"
	ForestNsURI = "http://remodel.dev/forest"
)

// TreePackage returns a fresh copy of the "tree" metamodel used across tests.
//
//	Tree            label, nodes (containment, many)
//	Node (abstract) name, links (many), favorite, mirror (derived), pinned (read-only)
//	Branch : Node   children (containment, many)
//	Leaf : Node
func TreePackage() *domain.Package {
	nodeRefs := func() []*domain.Feature {
		return []*domain.Feature{
			{Name: "name", Kind: domain.KindAttribute, Type: "string"},
			{Name: "links", Kind: domain.KindReference, Type: "tree::Node", Many: true},
			{Name: "favorite", Kind: domain.KindReference, Type: "tree::Node"},
			{Name: "mirror", Kind: domain.KindReference, Type: "tree::Node", Many: true, Derived: true},
			{Name: "pinned", Kind: domain.KindReference, Type: "tree::Node", ReadOnly: true},
		}
	}
	return (&domain.Package{
		NsURI: TreeNsURI,
		Name:  "tree",
		Classes: []*domain.Class{
			{
				Name: "Tree",
				Features: []*domain.Feature{
					{Name: "label", Kind: domain.KindAttribute},
					{Name: "nodes", Kind: domain.KindReference, Type: "tree::Node", Many: true, Containment: true},
				},
			},
			{Name: "Node", Abstract: true, Features: nodeRefs()},
			{
				Name:       "Branch",
				SuperTypes: []string{"Node"},
				Features: []*domain.Feature{
					{Name: "children", Kind: domain.KindReference, Type: "tree::Node", Many: true, Containment: true},
				},
			},
			{
				Name:       "Leaf",
				SuperTypes: []string{"Node"},
				Features: []*domain.Feature{
					{Name: "rings", Kind: domain.KindAttribute, Type: "int"},
				},
			},
		},
	}).Bind()
}

// ForestPackage returns a second metamodel that also declares a "Tree" class
// and extends tree::Tree across packages.
func ForestPackage() *domain.Package {
	return (&domain.Package{
		NsURI: ForestNsURI,
		Name:  "forest",
		Classes: []*domain.Class{
			{Name: "Tree", Features: []*domain.Feature{{Name: "age", Kind: domain.KindAttribute}}},
			{Name: "Grove", SuperTypes: []string{"tree::Tree"}},
		},
	}).Bind()
}

// Revision builds a revision attached to resource path as a root.
func Revision(id domain.ObjectID, class, path string) *domain.Revision {
	return &domain.Revision{
		ID:         id,
		Class:      class,
		Resource:   path,
		Attributes: map[string]any{},
	}
}
