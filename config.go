package remodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aretw0/remodel/pkg/transaction"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config describes which resource a Model loads and how.
type Config struct {
	// URL is the store endpoint, e.g. mem://local or redis://host:6379/0.
	URL string `yaml:"url" json:"url" mapstructure:"url"`
	// Repository names the repository at the endpoint.
	Repository string `yaml:"repo" json:"repo" mapstructure:"repo"`
	// Path is the resource inside the repository.
	Path string `yaml:"path" json:"path" mapstructure:"path"`

	// CreateMissing creates the resource instead of failing when it is absent.
	CreateMissing bool `yaml:"createMissing" json:"createMissing" mapstructure:"createMissing"`
	// StoreOnDisposal commits pending changes in Dispose.
	StoreOnDisposal bool `yaml:"storeOnDisposal" json:"storeOnDisposal" mapstructure:"storeOnDisposal"`

	Collection CollectionConfig `yaml:"collection" json:"collection" mapstructure:"collection"`
	// RevisionPrefetchDepth caps how many revisions one fetch loads.
	RevisionPrefetchDepth int `yaml:"revprefetch" json:"revprefetch" mapstructure:"revprefetch"`
}

// CollectionConfig tunes how multi-valued references are resolved.
type CollectionConfig struct {
	InitialSize int `yaml:"initial" json:"initial" mapstructure:"initial"`
	ChunkSize   int `yaml:"rchunk" json:"rchunk" mapstructure:"rchunk"`
}

// DefaultConfig returns a Config with the default tuning values.
func DefaultConfig() Config {
	return Config{
		Collection: CollectionConfig{
			InitialSize: transaction.DefaultInitialCollectionSize,
			ChunkSize:   transaction.DefaultCollectionChunkSize,
		},
		RevisionPrefetchDepth: transaction.DefaultRevisionPrefetchDepth,
	}
}

// Validate checks the required fields and tuning ranges. A zero chunk
// size or prefetch depth selects the default.
func (c Config) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if c.Repository == "" {
		errs = append(errs, errors.New("repo is required"))
	}
	if c.Path == "" {
		errs = append(errs, errors.New("path is required"))
	}
	if c.Collection.InitialSize < 0 {
		errs = append(errs, errors.New("collection.initial must not be negative"))
	}
	if c.Collection.ChunkSize < 0 {
		errs = append(errs, errors.New("collection.rchunk must not be negative"))
	}
	if c.RevisionPrefetchDepth < 0 {
		errs = append(errs, errors.New("revprefetch must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) transactionOptions() []transaction.Option {
	return []transaction.Option{
		transaction.WithInitialCollectionSize(c.Collection.InitialSize),
		transaction.WithCollectionChunkSize(c.Collection.ChunkSize),
		transaction.WithRevisionPrefetchDepth(c.RevisionPrefetchDepth),
	}
}

// LoadConfig reads a YAML or JSON file on top of DefaultConfig. Keys
// follow the same rules as ConfigFromProperties: nested sections and dotted
// names are equivalent, and the long option names are accepted.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	doc := make(map[string]any)
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	props := make(map[string]any)
	if err := flatten("", doc, props); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if err := decodeProperties(&cfg, props); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// PropertyPrefix is accepted, and stripped, in front of property names.
const PropertyPrefix = "cdo."

// longNames maps the descriptive option names to the short property names.
var longNames = map[string]string{
	"repositoryName":        "repo",
	"resourcePath":          "path",
	"createMissingResource": "createMissing",
	"collectionInitialSize": "collection.initial",
	"collectionChunkSize":   "collection.rchunk",
	"revisionPrefetchDepth": "revprefetch",
}

// ConfigFromProperties decodes flat, dotted properties such as
// "cdo.url", "cdo.collection.rchunk" or "storeOnDisposal". The long names
// ("repositoryName", "collectionChunkSize", ...) are accepted too. Values
// may be strings; they are converted to the field types. Unknown keys are
// ignored, and giving one option twice is an error.
func ConfigFromProperties(props map[string]any) (Config, error) {
	cfg := DefaultConfig()
	if err := decodeProperties(&cfg, props); err != nil {
		return cfg, fmt.Errorf("invalid properties: %w", err)
	}
	return cfg, nil
}

func decodeProperties(cfg *Config, props map[string]any) error {
	nested := make(map[string]any)
	given := make(map[string]string, len(props))
	for _, raw := range slices.Sorted(maps.Keys(props)) {
		key := strings.TrimPrefix(raw, PropertyPrefix)
		if short, ok := longNames[key]; ok {
			key = short
		}
		if prev, ok := given[key]; ok {
			return fmt.Errorf("%q and %q set the same option", prev, raw)
		}
		given[key] = raw

		parts := strings.Split(key, ".")
		m := nested
		for _, part := range parts[:len(parts)-1] {
			next, exists := m[part]
			if !exists {
				next = make(map[string]any)
				m[part] = next
			}
			sub, ok := next.(map[string]any)
			if !ok {
				return fmt.Errorf("%q conflicts with a value set for %q", raw, part)
			}
			m = sub
		}
		leaf := parts[len(parts)-1]
		if _, ok := m[leaf].(map[string]any); ok {
			return fmt.Errorf("%q conflicts with nested options under it", raw)
		}
		m[leaf] = props[raw]
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(nested)
}

// flatten turns nested sections into dotted keys.
func flatten(prefix string, in map[string]any, out map[string]any) error {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			if err := flatten(key, sub, out); err != nil {
				return err
			}
			continue
		}
		if _, ok := out[key]; ok {
			return fmt.Errorf("%q is set twice", key)
		}
		out[key] = v
	}
	return nil
}
