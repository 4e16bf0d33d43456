package registry_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/aretw0/remodel/internal/testutils"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(opts ...registry.Option) *registry.Registry {
	return registry.New(domain.NewPackageRegistry(
		domain.Describe(testutils.TreePackage()),
		domain.Describe(testutils.ForestPackage()),
	), opts...)
}

func TestResolve_Qualified(t *testing.T) {
	r := newRegistry()

	c, ok := r.Resolve("forest::Tree")
	require.True(t, ok)
	assert.Equal(t, "forest::Tree", c.QualifiedName())

	c, ok = r.Resolve("tree::Tree")
	require.True(t, ok)
	assert.Equal(t, "tree::Tree", c.QualifiedName())

	_, ok = r.Resolve("forest::Leaf")
	assert.False(t, ok, "qualified names only match inside their package")
}

func TestResolve_UnqualifiedFirstMatchWins(t *testing.T) {
	r := newRegistry()

	c, ok := r.Resolve("Tree")
	require.True(t, ok)
	assert.Equal(t, "tree::Tree", c.QualifiedName(), "first package in registry order wins")

	c, ok = r.Resolve("Grove")
	require.True(t, ok)
	assert.Equal(t, "forest::Grove", c.QualifiedName())
}

func TestLookup_Errors(t *testing.T) {
	_, err := newRegistry().Lookup("Nope")
	assert.ErrorIs(t, err, domain.ErrUnknownType)

	_, err = newRegistry(registry.WithStrictNames()).Lookup("Tree")
	assert.ErrorIs(t, err, domain.ErrAmbiguousType)

	// Qualified names are never ambiguous.
	c, err := newRegistry(registry.WithStrictNames()).Lookup("forest::Tree")
	require.NoError(t, err)
	assert.Equal(t, "forest::Tree", c.QualifiedName())
}

func TestLazyDescriptors(t *testing.T) {
	calls := 0
	r := registry.New(domain.NewPackageRegistry(
		domain.DescribeLazy("urn:broken", func() (*domain.Package, error) {
			return nil, errors.New("unreachable")
		}),
		domain.DescribeLazy(testutils.TreeNsURI, func() (*domain.Package, error) {
			calls++
			return testutils.TreePackage(), nil
		}),
	))

	c, ok := r.Resolve("Leaf")
	require.True(t, ok, "broken descriptors are skipped")
	assert.Equal(t, "tree::Leaf", c.QualifiedName())

	_, ok = r.Resolve("Branch")
	require.True(t, ok)
	assert.Equal(t, 1, calls, "lazy packages resolve once")

	nsURI, err := r.Owner(c)
	require.NoError(t, err)
	assert.Equal(t, testutils.TreeNsURI, nsURI)
}

func TestIsKindOf(t *testing.T) {
	r := newRegistry()
	node, _ := r.Resolve("tree::Node")
	leaf, _ := r.Resolve("tree::Leaf")
	tree, _ := r.Resolve("tree::Tree")
	grove, _ := r.Resolve("forest::Grove")

	assert.True(t, r.IsKindOf(leaf, node))
	assert.True(t, r.IsKindOf(node, node))
	assert.False(t, r.IsKindOf(node, leaf))
	assert.True(t, r.IsKindOf(grove, tree), "inheritance crosses packages")
	assert.False(t, r.IsKindOf(tree, node))
}

func TestFeature_Inherited(t *testing.T) {
	r := newRegistry()
	leaf, _ := r.Resolve("tree::Leaf")

	f, err := r.Feature(leaf, "links")
	require.NoError(t, err)
	assert.True(t, f.Many)

	_, err = r.Feature(leaf, "children")
	assert.ErrorIs(t, err, domain.ErrInvalidFeature)

	branch, _ := r.Resolve("tree::Branch")
	names := []string{}
	for _, f := range r.AllFeatures(branch) {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"name", "links", "favorite", "mirror", "pinned", "children"}, names)
}

func TestLoadPackages(t *testing.T) {
	pkgs, err := registry.LoadPackages(filepath.Join("testdata", "tree.yaml"))
	require.NoError(t, err)
	require.Len(t, pkgs, 1)

	leaf := pkgs[0].Class("Leaf")
	require.NotNil(t, leaf)
	assert.Equal(t, "tree::Leaf", leaf.QualifiedName())
	assert.Equal(t, []string{"tree::Node"}, leaf.SuperTypes)

	rings := leaf.Feature("rings")
	require.NotNil(t, rings)
	assert.Equal(t, "int", rings.Type)

	_, err = registry.LoadPackages(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)

	_, err = registry.LoadPackages(filepath.Join("testdata", "bad_type.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calendar::Event")
}
