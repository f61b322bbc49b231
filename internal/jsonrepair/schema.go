package jsonrepair

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema validates recovered payloads against a JSON Schema document.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// CompileSchema compiles src. name identifies the schema in error messages.
func CompileSchema(name, src string) (*Schema, error) {
	s, err := jsonschema.CompileString(name+".json", src)
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, err)
	}
	return &Schema{name: name, schema: s}, nil
}

// Name returns the schema's name.
func (s *Schema) Name() string { return s.name }

// Validate checks raw against the schema.
func (s *Schema) Validate(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("schema %q: decode: %w", s.name, err)
	}
	if err := s.schema.Validate(v); err != nil {
		return fmt.Errorf("schema %q: %w", s.name, err)
	}
	return nil
}
