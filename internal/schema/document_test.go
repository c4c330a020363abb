package schema

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUpdateSpec(t *testing.T) {
	doc := `{
  "description": "Customer master table",
  "owner": "ignored",
  "schema": {
    "fields": [
      {"name": "id", "description": "Customer id"},
      {"name": "address", "fields": [
        {"name": "city", "description": "City"},
        {"name": "zip", "description": null}
      ]},
      {"name": "notes", "description": ""}
    ]
  }
}`
	spec, err := ParseUpdateSpec([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "Customer master table", spec.TableDescription)
	require.Len(t, spec.Fields, 3)

	assert.Equal(t, "id", spec.Fields[0].Name)
	require.NotNil(t, spec.Fields[0].Description)
	assert.Equal(t, "Customer id", *spec.Fields[0].Description)

	assert.Nil(t, spec.Fields[1].Description)
	require.Len(t, spec.Fields[1].Fields, 2)
	assert.Equal(t, "City", *spec.Fields[1].Fields[0].Description)
	assert.Nil(t, spec.Fields[1].Fields[1].Description, "null description is absent")

	require.NotNil(t, spec.Fields[2].Description)
	assert.Equal(t, "", *spec.Fields[2].Description)
}

func TestParseUpdateSpecOptionalKeys(t *testing.T) {
	spec, err := ParseUpdateSpec([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, UpdateSpec{}, spec)

	spec, err = ParseUpdateSpec([]byte(`{"schema": {}}`))
	require.NoError(t, err)
	assert.Empty(t, spec.Fields)
}

func TestParseUpdateSpecInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"array", `[{"name": "a"}]`},
		{"truncated", `{"description": "x"`},
		{"wrong description type", `{"description": 42}`},
		{"wrong fields type", `{"schema": {"fields": "a"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUpdateSpec([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDocument), "got %v", err)
		})
	}
}

func TestDecodeUpdateSpec(t *testing.T) {
	spec, err := DecodeUpdateSpec(strings.NewReader(`  {"description": "t"}`))
	require.NoError(t, err)
	assert.Equal(t, "t", spec.TableDescription)
}
