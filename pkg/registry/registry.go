package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aretw0/remodel/internal/logging"
	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Registry resolves type names against a package registry snapshot.
//
// The snapshot is read once per lookup in registry order. That order is
// whatever the session returned, so callers must not rely on it to
// disambiguate unqualified names.
type Registry struct {
	packages *domain.PackageRegistry
	strict   bool
	logger   *slog.Logger

	mu      sync.RWMutex
	byQName map[string]*domain.Class
	owners  map[string]string // qualified class name -> nsURI
}

// Option configures the Registry.
type Option func(*Registry)

// WithStrictNames reports ambiguous unqualified names instead of picking the first match.
func WithStrictNames() Option {
	return func(r *Registry) {
		r.strict = true
	}
}

// WithLogger configures a logger for unresolvable packages and ambiguous names.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates a registry over a package snapshot.
func New(packages *domain.PackageRegistry, opts ...Option) *Registry {
	r := &Registry{
		packages: packages,
		logger:   logging.NewNop(),
		byQName:  make(map[string]*domain.Class),
		owners:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Packages returns the snapshot the registry reads.
func (r *Registry) Packages() *domain.PackageRegistry {
	return r.packages
}

// resolved walks the materialized packages in registry order.
// Descriptors that fail to resolve are skipped.
func (r *Registry) resolved(yield func(nsURI string, pkg *domain.Package) bool) {
	for _, d := range r.packages.Descriptors() {
		pkg, err := d.Package()
		if err != nil {
			r.logger.Warn("skipping unresolvable package", "ns_uri", d.NsURI(), "err", err)
			continue
		}
		if !yield(d.NsURI(), pkg) {
			return
		}
	}
}

// Resolve finds a class by qualified ("pkg::Class") or unqualified name.
// Unqualified names match the first class with that simple name.
func (r *Registry) Resolve(name string) (*domain.Class, bool) {
	c, err := r.Lookup(name)
	return c, err == nil
}

// Lookup is Resolve with an error: domain.ErrUnknownType when nothing
// matches, domain.ErrAmbiguousType in strict mode.
func (r *Registry) Lookup(name string) (*domain.Class, error) {
	pkgName, simple, qualified := domain.SplitQualifiedName(name)

	var (
		found   *domain.Class
		owner   string
		matches []string
	)
	for nsURI, pkg := range r.resolved {
		if qualified && pkg.Name != pkgName {
			continue
		}
		c := pkg.Class(simple)
		if c == nil {
			continue
		}
		if found == nil {
			found, owner = c, nsURI
		}
		matches = append(matches, c.QualifiedName())
		if qualified || !r.strict {
			break
		}
	}

	if found == nil {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrUnknownType)
	}
	if len(matches) > 1 {
		return nil, fmt.Errorf("%q matches %s: %w", name, strings.Join(matches, ", "), domain.ErrAmbiguousType)
	}

	r.remember(found, owner)
	return found, nil
}

func (r *Registry) remember(c *domain.Class, nsURI string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byQName[c.QualifiedName()] = c
	r.owners[c.QualifiedName()] = nsURI
}

// Class returns a class by qualified name, as stored in revisions.
func (r *Registry) Class(qname string) (*domain.Class, error) {
	r.mu.RLock()
	c, ok := r.byQName[qname]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}
	if _, _, qualified := domain.SplitQualifiedName(qname); !qualified {
		return nil, fmt.Errorf("%q is not a qualified name: %w", qname, domain.ErrUnknownType)
	}
	return r.Lookup(qname)
}

// Owner returns the namespace URI of the package declaring a class.
func (r *Registry) Owner(c *domain.Class) (string, error) {
	r.mu.RLock()
	nsURI, ok := r.owners[c.QualifiedName()]
	r.mu.RUnlock()
	if ok {
		return nsURI, nil
	}
	if _, err := r.Class(c.QualifiedName()); err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners[c.QualifiedName()], nil
}

// IsKindOf reports whether c is super or one of its (transitive) subclasses.
func (r *Registry) IsKindOf(c, super *domain.Class) bool {
	return r.isKindOf(c, super.QualifiedName(), make(map[string]bool))
}

func (r *Registry) isKindOf(c *domain.Class, target string, seen map[string]bool) bool {
	qname := c.QualifiedName()
	if qname == target {
		return true
	}
	if seen[qname] {
		return false
	}
	seen[qname] = true
	for _, st := range c.SuperTypes {
		parent, err := r.Class(st)
		if err != nil {
			continue
		}
		if r.isKindOf(parent, target, seen) {
			return true
		}
	}
	return false
}

// Feature finds a feature on c or any of its super classes.
func (r *Registry) Feature(c *domain.Class, name string) (*domain.Feature, error) {
	if f := r.feature(c, name, make(map[string]bool)); f != nil {
		return f, nil
	}
	return nil, fmt.Errorf("%s.%s: %w", c.QualifiedName(), name, domain.ErrInvalidFeature)
}

func (r *Registry) feature(c *domain.Class, name string, seen map[string]bool) *domain.Feature {
	if f := c.Feature(name); f != nil {
		return f
	}
	seen[c.QualifiedName()] = true
	for _, st := range c.SuperTypes {
		if seen[st] {
			continue
		}
		parent, err := r.Class(st)
		if err != nil {
			continue
		}
		if f := r.feature(parent, name, seen); f != nil {
			return f
		}
	}
	return nil
}

// AllFeatures returns the features of c including inherited ones, super classes first.
func (r *Registry) AllFeatures(c *domain.Class) []*domain.Feature {
	var out []*domain.Feature
	seen := make(map[string]bool)
	var walk func(c *domain.Class)
	walk = func(c *domain.Class) {
		if seen[c.QualifiedName()] {
			return
		}
		seen[c.QualifiedName()] = true
		for _, st := range c.SuperTypes {
			if parent, err := r.Class(st); err == nil {
				walk(parent)
			}
		}
		out = append(out, c.Features...)
	}
	walk(c)
	return out
}

// PackageFile is the on-disk format read by LoadPackages.
type PackageFile struct {
	Packages []*domain.Package `yaml:"packages" json:"packages"`
}

// LoadPackages reads package definitions from a YAML or JSON file.
func LoadPackages(path string) ([]*domain.Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metamodel: %w", err)
	}

	var file PackageFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}

	for _, pkg := range file.Packages {
		pkg.Bind()
		if err := pkg.Validate(); err != nil {
			return nil, err
		}
		for _, c := range pkg.Classes {
			if _, err := schema.ForFeatures(c.Features); err != nil {
				return nil, fmt.Errorf("class %s: %w", c.QualifiedName(), err)
			}
		}
	}
	return file.Packages, nil
}
