package domain

import (
	"fmt"
	"strings"
	"sync"
)

// NamespaceSeparator separates a package name from a class name in qualified names.
const NamespaceSeparator = "::"

// FeatureKind tells attributes (plain values) apart from references (objects).
type FeatureKind string

const (
	KindAttribute FeatureKind = "attribute"
	KindReference FeatureKind = "reference"
)

// Feature describes a structural feature of a class.
type Feature struct {
	Name string      `json:"name" yaml:"name"`
	Kind FeatureKind `json:"kind" yaml:"kind"`

	// Type is the qualified name of the referenced class for references,
	// and an optional data type ("int", "[string]") for attributes.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	Many        bool `json:"many,omitempty" yaml:"many,omitempty"`
	Containment bool `json:"containment,omitempty" yaml:"containment,omitempty"`
	Derived     bool `json:"derived,omitempty" yaml:"derived,omitempty"`
	ReadOnly    bool `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

// IsReference reports whether the feature holds objects.
func (f *Feature) IsReference() bool {
	return f.Kind == KindReference
}

// Changeable reports whether clients may modify the feature value.
func (f *Feature) Changeable() bool {
	return !f.ReadOnly
}

// Class describes a type of object.
type Class struct {
	Name     string `json:"name" yaml:"name"`
	Abstract bool   `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	// SuperTypes holds qualified names of direct super classes.
	SuperTypes []string   `json:"superTypes,omitempty" yaml:"superTypes,omitempty"`
	Features   []*Feature `json:"features,omitempty" yaml:"features,omitempty"`

	pkg string
}

// QualifiedName returns "package::Class".
func (c *Class) QualifiedName() string {
	return c.pkg + NamespaceSeparator + c.Name
}

// PackageName returns the name of the owning package.
func (c *Class) PackageName() string {
	return c.pkg
}

// Feature returns the feature declared on this class with the given name.
// Inherited features are resolved through the registry, not here.
func (c *Class) Feature(name string) *Feature {
	for _, f := range c.Features {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Package groups classes under one namespace.
type Package struct {
	NsURI   string   `json:"nsURI" yaml:"nsURI"`
	Name    string   `json:"name" yaml:"name"`
	Classes []*Class `json:"classes" yaml:"classes"`
}

// Bind links every class to its owning package. It must be called after
// decoding a package and before its classes are used.
func (p *Package) Bind() *Package {
	for _, c := range p.Classes {
		c.pkg = p.Name
		for i, st := range c.SuperTypes {
			// Unqualified super types refer to the same package.
			if !strings.Contains(st, NamespaceSeparator) {
				c.SuperTypes[i] = p.Name + NamespaceSeparator + st
			}
		}
	}
	return p
}

// Class returns the class with the given simple name.
func (p *Package) Class(name string) *Class {
	for _, c := range p.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Validate checks the package for missing names and duplicate classes.
func (p *Package) Validate() error {
	if p.NsURI == "" {
		return fmt.Errorf("package %q: missing nsURI", p.Name)
	}
	if p.Name == "" || strings.Contains(p.Name, NamespaceSeparator) {
		return fmt.Errorf("package %s: invalid name %q", p.NsURI, p.Name)
	}
	seen := make(map[string]bool, len(p.Classes))
	for _, c := range p.Classes {
		if c.Name == "" {
			return fmt.Errorf("package %s: class without name", p.NsURI)
		}
		if seen[c.Name] {
			return fmt.Errorf("package %s: duplicate class %q", p.NsURI, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// SplitQualifiedName splits "pkg::Class" into its parts.
// ok is false for unqualified names.
func SplitQualifiedName(name string) (pkg, class string, ok bool) {
	i := strings.LastIndex(name, NamespaceSeparator)
	if i < 0 {
		return "", name, false
	}
	return name[:i], name[i+len(NamespaceSeparator):], true
}

// KindClosure returns the qualified names of the class named qname and of
// every class that transitively extends it, across all given packages.
func KindClosure(pkgs []*Package, qname string) []string {
	supers := make(map[string][]string)
	for _, p := range pkgs {
		for _, c := range p.Classes {
			supers[c.QualifiedName()] = c.SuperTypes
		}
	}

	var extends func(name string, seen map[string]bool) bool
	extends = func(name string, seen map[string]bool) bool {
		if name == qname {
			return true
		}
		if seen[name] {
			return false
		}
		seen[name] = true
		for _, st := range supers[name] {
			if extends(st, seen) {
				return true
			}
		}
		return false
	}

	result := []string{qname}
	for name := range supers {
		if name != qname && extends(name, make(map[string]bool)) {
			result = append(result, name)
		}
	}
	return result
}

// PackageDescriptor is a registry entry that may not be materialized yet.
type PackageDescriptor interface {
	NsURI() string
	Package() (*Package, error)
}

type eagerDescriptor struct {
	pkg *Package
}

// Describe wraps an already available package.
func Describe(pkg *Package) PackageDescriptor {
	return eagerDescriptor{pkg: pkg.Bind()}
}

func (d eagerDescriptor) NsURI() string              { return d.pkg.NsURI }
func (d eagerDescriptor) Package() (*Package, error) { return d.pkg, nil }

type lazyDescriptor struct {
	nsURI string
	load  func() (*Package, error)

	once sync.Once
	pkg  *Package
	err  error
}

// DescribeLazy returns a descriptor that calls load on first use and
// memoizes the outcome.
func DescribeLazy(nsURI string, load func() (*Package, error)) PackageDescriptor {
	return &lazyDescriptor{nsURI: nsURI, load: load}
}

func (d *lazyDescriptor) NsURI() string { return d.nsURI }

func (d *lazyDescriptor) Package() (*Package, error) {
	d.once.Do(func() {
		d.pkg, d.err = d.load()
		if d.err == nil {
			d.pkg.Bind()
		}
	})
	return d.pkg, d.err
}

// PackageRegistry is an ordered, read-only snapshot of package descriptors.
type PackageRegistry struct {
	entries []PackageDescriptor
}

// NewPackageRegistry builds a snapshot. Later duplicates of a namespace URI are dropped.
func NewPackageRegistry(descriptors ...PackageDescriptor) *PackageRegistry {
	seen := make(map[string]bool, len(descriptors))
	entries := make([]PackageDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if seen[d.NsURI()] {
			continue
		}
		seen[d.NsURI()] = true
		entries = append(entries, d)
	}
	return &PackageRegistry{entries: entries}
}

// Descriptors returns the entries in registry order.
func (r *PackageRegistry) Descriptors() []PackageDescriptor {
	out := make([]PackageDescriptor, len(r.entries))
	copy(out, r.entries)
	return out
}

// Lookup returns the descriptor for a namespace URI.
func (r *PackageRegistry) Lookup(nsURI string) (PackageDescriptor, bool) {
	for _, d := range r.entries {
		if d.NsURI() == nsURI {
			return d, true
		}
	}
	return nil, false
}

// Len returns the number of entries.
func (r *PackageRegistry) Len() int {
	return len(r.entries)
}
