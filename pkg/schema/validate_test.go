package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retrySchema() json.RawMessage {
	return json.RawMessage(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"properties": {
			"mode": {"type": "string", "enum": ["fast", "slow"]},
			"attempts": {"type": "integer", "minimum": 0, "maximum": 10}
		},
		"additionalProperties": false
	}`)
}

func TestValidate_ValidPayload(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.Validate(retrySchema(), map[string]any{"mode": "fast", "attempts": 3}))
	assert.NoError(t, v.Validate(retrySchema(), map[string]any{"attempts": float64(10)}))
}

func TestValidate_Rejects(t *testing.T) {
	v := NewValidator()
	cases := map[string]map[string]any{
		"enum":          {"mode": "medium"},
		"range":         {"attempts": 11},
		"negative":      {"attempts": -1},
		"wrong type":    {"attempts": "three"},
		"fraction":      {"attempts": 1.5},
		"unknown field": {"mode": "fast", "unknown": true},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, v.Validate(retrySchema(), payload))
		})
	}
}

func TestValidate_EmptySchema(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.Validate(json.RawMessage(`{}`), map[string]any{"anything": "goes"}))
	assert.NoError(t, v.Validate(nil, map[string]any{"anything": "goes"}))
}

func TestValidate_CachesSchema(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Validate(retrySchema(), map[string]any{"mode": "fast"}))
	require.NoError(t, v.Validate(retrySchema(), map[string]any{"mode": "slow"}))

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}

func TestValidateOptions_Zigbee(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateOptions(KindZigbee, nil))
	assert.NoError(t, v.ValidateOptions(KindZigbee, map[string]any{
		"baud":                 115200,
		"rtscts":               true,
		"handshake_timeout_ms": 2000,
	}))
	assert.Error(t, v.ValidateOptions(KindZigbee, map[string]any{"baud": 9600}))
	assert.Error(t, v.ValidateOptions(KindZigbee, map[string]any{"parity": "odd"}))
}

func TestValidateOptions_Null(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateOptions(KindNull, map[string]any{}))
	assert.Error(t, v.ValidateOptions(KindNull, map[string]any{"baud": 115200}))
}

func TestValidateOptions_UnknownKind(t *testing.T) {
	v := NewValidator()
	assert.ErrorIs(t, v.ValidateOptions("bluetooth", nil), ErrUnknownKind)
	assert.Equal(t, []string{KindNull, KindZigbee}, Kinds())
}
