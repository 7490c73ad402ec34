package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator validates JSON payloads against JSON Schema documents.
// Compiled schemas are cached by their raw bytes.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewValidator creates a new Validator with an empty cache.
func NewValidator() *Validator {
	return &Validator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Validate validates payload against the given JSON Schema document.
// An empty or null document accepts everything. The payload is normalized
// through JSON first so integers decoded from YAML validate as numbers.
func (v *Validator) Validate(schemaDoc json.RawMessage, payload any) error {
	if len(schemaDoc) == 0 || string(schemaDoc) == "{}" || string(schemaDoc) == "null" {
		return nil
	}

	compiled, err := v.compile(schemaDoc)
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	doc, err := normalize(payload)
	if err != nil {
		return err
	}
	return compiled.Validate(doc)
}

func normalize(payload any) (any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return doc, nil
}

func (v *Validator) compile(schemaDoc json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schemaDoc)

	v.mu.RLock()
	if s, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return s, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.cache[key]; ok {
		return s, nil
	}

	schemaMap, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaDoc))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaMap); err != nil {
		return nil, fmt.Errorf("failed to add resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}
