// Package tools defines the tool descriptors served over MCP and the ordered
// registry the adapter registers them from.
package tools

import (
	"context"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

// Arguments is the validated argument record of one invocation. Tools without
// an input schema receive a nil Arguments.
type Arguments map[string]any

// Handler implements a tool. It returns exactly one text result or fails.
type Handler func(ctx context.Context, args Arguments) (string, error)

// Field is the validation rule for one named argument
type Field struct {
	Rule     *jsonschema.Schema
	Optional bool
}

// Shape is the set of named field rules a tool accepts
type Shape map[string]Field

// Required returns the names of the non-optional fields in sorted order
func (s Shape) Required() []string {
	required := make([]string, 0, len(s))
	for name, field := range s {
		if !field.Optional {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	return required
}

// ObjectSchema builds the JSON object schema equivalent of the shape
func (s Shape) ObjectSchema() *jsonschema.Schema {
	properties := make(map[string]*jsonschema.Schema, len(s))
	for name, field := range s {
		rule := field.Rule
		if rule == nil {
			rule = &jsonschema.Schema{}
		}
		properties[name] = rule
	}

	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
	}
	if required := s.Required(); len(required) > 0 {
		schema.Required = required
	}
	return schema
}

// Schema is a tool's declared input. Its presence on a descriptor selects
// validated registration, even when it has no fields.
type Schema struct {
	Fields Shape
}

// NewSchema creates a schema from its field rules
func NewSchema(fields Shape) *Schema {
	return &Schema{Fields: fields}
}

// Shape returns the field definitions. A zero schema yields an empty, non-nil shape.
func (s *Schema) Shape() Shape {
	if s.Fields == nil {
		return Shape{}
	}
	return s.Fields
}

// Descriptor is one named tool. Descriptors are not modified after they are
// handed to a registry.
type Descriptor struct {
	Name        string
	Description string
	Schema      *Schema
	Handler     Handler
}

// HasSchema reports whether the tool declares an input schema
func (d Descriptor) HasSchema() bool {
	return d.Schema != nil
}

// InputSchema returns the JSON schema clients see for the tool. Tools without
// a schema accept any object.
func (d Descriptor) InputSchema() *jsonschema.Schema {
	if d.Schema == nil {
		return &jsonschema.Schema{Type: "object"}
	}
	return d.Schema.Shape().ObjectSchema()
}

// Required wraps a rule as a required field
func Required(rule *jsonschema.Schema) Field {
	return Field{Rule: rule}
}

// Optional wraps a rule as an optional field
func Optional(rule *jsonschema.Schema) Field {
	return Field{Rule: rule, Optional: true}
}
