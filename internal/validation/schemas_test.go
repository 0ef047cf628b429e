package validation

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidator_Embedded(t *testing.T) {
	sv, err := NewSchemaValidator()
	require.NoError(t, err)
	assert.Equal(t, []string{ArtifactManifest, ErrorResponse, RankedList}, sv.GetAvailableSchemas())
}

func TestSchemaValidator_RankedList(t *testing.T) {
	sv, err := NewSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name  string
		doc   string
		valid bool
	}{
		{"empty list", `[]`, true},
		{"valid entry", `[{"partner_id":"00000000-0000-0000-0000-00000000000a","score":0.42}]`, true},
		{"missing score", `[{"partner_id":"00000000-0000-0000-0000-00000000000a"}]`, false},
		{"bad id", `[{"partner_id":"nope","score":1}]`, false},
		{"extra field", `[{"partner_id":"00000000-0000-0000-0000-00000000000a","score":1,"x":1}]`, false},
		{"object instead of list", `{"partner_id":"00000000-0000-0000-0000-00000000000a"}`, false},
		{"not json", `[{`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sv.ValidateRankedList([]byte(tt.doc))
			assert.Equal(t, tt.valid, result.Valid, "%+v", result.Errors)
			if !tt.valid {
				assert.Error(t, result.Err())
				assert.NotNil(t, result.ToAPIError())
			}
		})
	}
}

func TestSchemaValidator_Manifest(t *testing.T) {
	sv, err := NewSchemaValidator()
	require.NoError(t, err)

	manifest := map[string]interface{}{
		"run_id":     "20261001T120000Z-1a2b3c4d",
		"trained_at": "2026-10-01T12:00:00Z",
		"format":     "gob+gzip/v1",
		"checksum":   "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		"size_bytes": 1024,
		"users":      10,
		"partners":   5,
		"weights":    map[string]float64{"cf": 0.6, "cb": 0.4},
	}
	assert.True(t, sv.ValidateManifest(manifest).Valid)

	manifest["checksum"] = "short"
	assert.False(t, sv.ValidateManifest(manifest).Valid)
}

func TestFromStructErrors(t *testing.T) {
	type query struct {
		Limit int `validate:"min=1,max=100"`
	}
	err := validator.New().Struct(query{Limit: 500})
	require.Error(t, err)

	result := FromStructErrors(err)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "Limit", result.Errors[0].Field)
	assert.Contains(t, result.Errors[0].Message, "max")

	assert.True(t, FromStructErrors(nil).Valid)
}
