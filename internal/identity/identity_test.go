package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
		ok   bool
	}{
		{"plain string", "abc123", "abc123", true},
		{"empty string", "", "", false},
		{"nil", nil, "", false},
		{"float without fraction", float64(42), "42", true},
		{"float with fraction", 42.5, "42.5", true},
		{"int", 7, "7", true},
		{"int64", int64(9000000000), "9000000000", true},
		{"json number", json.Number("314"), "314", true},
		{"oid wrapper", map[string]any{"$oid": "deadbeef"}, "deadbeef", true},
		{"underscore id", map[string]any{"_id": "m1"}, "m1", true},
		{"plain id key", map[string]any{"id": "m2"}, "m2", true},
		{"nested oid", map[string]any{"_id": map[string]any{"$oid": "nested"}}, "nested", true},
		{"id key preferred over noise", map[string]any{"id": "x", "name": "bob"}, "x", true},
		{"object without id keys", map[string]any{"name": "bob"}, "", false},
		{"bool", true, "", false},
		{"slice", []any{"a"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeBoundedRecursion(t *testing.T) {
	deep := map[string]any{"id": "leaf"}
	for i := 0; i < 10; i++ {
		deep = map[string]any{"_id": deep}
	}
	_, ok := Normalize(deep)
	assert.False(t, ok, "deeply nested wrappers must not resolve")
}

func TestNormalizeRaw(t *testing.T) {
	id, ok := NormalizeRaw(json.RawMessage(`{"$oid":"651f"}`))
	require.True(t, ok)
	assert.Equal(t, "651f", id)

	id, ok = NormalizeRaw(json.RawMessage(`"plain"`))
	require.True(t, ok)
	assert.Equal(t, "plain", id)

	id, ok = NormalizeRaw(json.RawMessage(`12`))
	require.True(t, ok)
	assert.Equal(t, "12", id)

	_, ok = NormalizeRaw(nil)
	assert.False(t, ok)

	_, ok = NormalizeRaw(json.RawMessage(`{invalid`))
	assert.False(t, ok)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("a1", map[string]any{"_id": "a1"}))
	assert.True(t, Equal(float64(5), "5"))
	assert.False(t, Equal("a1", "a2"))
	assert.False(t, Equal(nil, nil), "two unresolvable references are never equal")
	assert.False(t, Equal("", ""))
}
