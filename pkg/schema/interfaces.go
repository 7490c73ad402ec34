package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Interface kinds understood by the transport layer.
const (
	KindZigbee = "zigbee"
	KindNull   = "null"
)

var ErrUnknownKind = errors.New("unknown interface kind")

var kindSchemas = map[string]json.RawMessage{
	KindZigbee: json.RawMessage(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"properties": {
			"baud": {"type": "integer", "enum": [38400, 57600, 115200, 230400, 460800]},
			"rtscts": {"type": "boolean"},
			"read_timeout_ms": {"type": "integer", "minimum": 1, "maximum": 60000},
			"handshake_timeout_ms": {"type": "integer", "minimum": 100, "maximum": 60000},
			"stale_after_ms": {"type": "integer", "minimum": 1000}
		},
		"additionalProperties": false
	}`),
	KindNull: json.RawMessage(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"maxProperties": 0
	}`),
}

// Kinds lists the known interface kinds in order.
func Kinds() []string {
	kinds := make([]string, 0, len(kindSchemas))
	for k := range kindSchemas {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// KindSchema returns the options schema for kind.
func KindSchema(kind string) (json.RawMessage, error) {
	doc, ok := kindSchemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return doc, nil
}

// ValidateOptions checks the options of an interface of the given kind.
// Nil options are treated as an empty object.
func (v *Validator) ValidateOptions(kind string, options map[string]any) error {
	doc, err := KindSchema(kind)
	if err != nil {
		return err
	}
	if options == nil {
		options = map[string]any{}
	}
	if err := v.Validate(doc, options); err != nil {
		return fmt.Errorf("invalid %s options: %w", kind, err)
	}
	return nil
}
