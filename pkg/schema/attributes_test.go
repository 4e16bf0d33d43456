package schema

import (
	"errors"
	"testing"

	"github.com/aretw0/remodel/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func features() []*domain.Feature {
	return []*domain.Feature{
		{Name: "name", Kind: domain.KindAttribute, Type: "string"},
		{Name: "height", Kind: domain.KindAttribute, Type: "float"},
		{Name: "rings", Kind: domain.KindAttribute, Type: "int"},
		{Name: "tags", Kind: domain.KindAttribute, Type: "[string]"},
		{Name: "note", Kind: domain.KindAttribute},
		{Name: "branches", Kind: domain.KindReference, Type: "tree::Branch", Many: true, Containment: true},
	}
}

func TestCheckValue(t *testing.T) {
	fs := features()

	// 1. Typed attributes
	assert.NoError(t, CheckValue(fs[0], "oak"))
	err := CheckValue(fs[2], "many")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidFeature)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "rings", verr.Feature)
	assert.Equal(t, "many", verr.Value)

	// 2. Nil always unsets
	assert.NoError(t, CheckValue(fs[2], nil))

	// 3. Untyped attributes and references are not checked here
	assert.NoError(t, CheckValue(fs[4], struct{}{}))
	assert.NoError(t, CheckValue(fs[5], "anything"))

	// 4. Unknown type names fail
	bad := &domain.Feature{Name: "when", Kind: domain.KindAttribute, Type: "date"}
	assert.Error(t, CheckValue(bad, "today"))
}

func TestParseValue(t *testing.T) {
	fs := features()

	v, err := ParseValue(fs[1], "12.5")
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)

	v, err = ParseValue(fs[3], "old,tall")
	require.NoError(t, err)
	assert.Equal(t, []any{"old", "tall"}, v)

	v, err = ParseValue(fs[4], "free text")
	require.NoError(t, err)
	assert.Equal(t, "free text", v)

	_, err = ParseValue(fs[2], "ten")
	assert.ErrorIs(t, err, domain.ErrInvalidFeature)
}

func TestAttributes_Check(t *testing.T) {
	attrs, err := ForFeatures(features())
	require.NoError(t, err)
	assert.Len(t, attrs, 4)

	// 1. Missing attributes are optional
	assert.NoError(t, attrs.Check(map[string]any{"name": "oak"}))

	// 2. Every failure is reported
	err = attrs.Check(map[string]any{
		"name":   1,
		"rings":  2.5,
		"height": 3,
		"note":   []int{1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `attribute "name"`)
	assert.Contains(t, err.Error(), `attribute "rings"`)
	assert.NotContains(t, err.Error(), `attribute "height"`)

	// 3. Unknown type names are rejected up front
	_, err = ForFeatures([]*domain.Feature{{Name: "x", Kind: domain.KindAttribute, Type: "map"}})
	assert.Error(t, err)
}
