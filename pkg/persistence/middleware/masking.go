package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/ports"
)

type maskingMiddleware struct {
	ports.Backend
	patterns []*regexp.Regexp
}

// NewMaskingMiddleware replaces committed attribute values whose names
// match one of the patterns with "***". Nested maps are masked too.
func NewMaskingMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.Backend) ports.Backend {
		return &maskingMiddleware{Backend: next, patterns: patterns}
	}
}

func (m *maskingMiddleware) Commit(ctx context.Context, cs *domain.ChangeSet) error {
	// Mask copies; the transaction keeps the values it wrote.
	masked := *cs
	masked.New = m.maskAll(cs.New)
	masked.Dirty = m.maskAll(cs.Dirty)
	return m.Backend.Commit(ctx, &masked)
}

func (m *maskingMiddleware) maskAll(revs []*domain.Revision) []*domain.Revision {
	out := make([]*domain.Revision, 0, len(revs))
	for _, rev := range revs {
		c := rev.Clone()
		c.Attributes = deepCopyMap(rev.Attributes)
		maskMap(c.Attributes, m.patterns)
		out = append(out, c)
	}
	return out
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		// Handle nested maps
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v // shallow copy of value
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		// Check key against patterns
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = "***"
				break
			}
		}

		// Recurse if map
		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
