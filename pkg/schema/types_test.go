package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	for _, name := range []string{"string", "int", "float", "bool", "[string]", "[[int]]"} {
		typ, err := ParseType(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, typ.Name())
	}

	for _, name := range []string{"", "[]", "uuid", "[date]"} {
		_, err := ParseType(name)
		assert.Error(t, err, name)
	}
}

func TestType_Check(t *testing.T) {
	tests := []struct {
		typ     Type
		value   any
		wantErr bool
	}{
		{String(), "oak", false},
		{String(), 42, true},
		{Int(), 42, false},
		{Int(), int64(42), false},
		{Int(), float64(42), false},
		{Int(), 42.5, true},
		{Int(), "42", true},
		{Float(), 3.5, false},
		{Float(), 3, false},
		{Float(), "3.5", true},
		{Bool(), true, false},
		{Bool(), "true", true},
		{List(String()), []string{"a", "b"}, false},
		{List(String()), []any{"a", "b"}, false},
		{List(String()), []any{"a", 1}, true},
		{List(Int()), []any{float64(1), float64(2)}, false},
		{List(Int()), "1,2", true},
	}

	for _, tt := range tests {
		err := tt.typ.Check(tt.value)
		if tt.wantErr {
			assert.Error(t, err, "%s(%#v)", tt.typ.Name(), tt.value)
		} else {
			assert.NoError(t, err, "%s(%#v)", tt.typ.Name(), tt.value)
		}
	}
}

func TestType_Parse(t *testing.T) {
	tests := []struct {
		typ     Type
		text    string
		want    any
		wantErr bool
	}{
		{String(), "oak", "oak", false},
		{Int(), " 12 ", 12, false},
		{Int(), "twelve", nil, true},
		{Float(), "1.5", 1.5, false},
		{Bool(), "true", true, false},
		{Bool(), "yes", nil, true},
		{List(Int()), "1, 2,3", []any{1, 2, 3}, false},
		{List(String()), "", []any{}, false},
		{List(Int()), "1,x", nil, true},
	}

	for _, tt := range tests {
		got, err := tt.typ.Parse(tt.text)
		if tt.wantErr {
			assert.Error(t, err, "%s(%q)", tt.typ.Name(), tt.text)
			continue
		}
		require.NoError(t, err, "%s(%q)", tt.typ.Name(), tt.text)
		assert.Equal(t, tt.want, got)
	}
}
