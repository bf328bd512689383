package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ToolSchema is the generic JSON-Schema-like form of a ToolDefinition, as exchanged with
// simulations, remote clients and LLM tool-calling APIs.
type ToolSchema struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  *ParametersSchema `json:"parameters,omitempty"`
}

// ParametersSchema is the object schema describing a tool's arguments.
type ParametersSchema struct {
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
	Required   []string   `json:"required"`
}

// PropertySchema describes one property of a ParametersSchema.
type PropertySchema struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
}

// Property is a named PropertySchema.
type Property struct {
	Name   string
	Schema PropertySchema
}

// Properties is a JSON object whose key order is preserved in both directions.
type Properties []Property

func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prop := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(prop.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(prop.Schema)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", prop.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("properties must be an object, got %v", tok)
	}
	out := Properties{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected property key %v", tok)
		}
		var schema PropertySchema
		if err := dec.Decode(&schema); err != nil {
			return fmt.Errorf("property %s: %w", name, err)
		}
		out = append(out, Property{Name: name, Schema: schema})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

// Lookup returns the schema of the named property.
func (p Properties) Lookup(name string) (PropertySchema, bool) {
	for _, prop := range p {
		if prop.Name == name {
			return prop.Schema, true
		}
	}
	return PropertySchema{}, false
}

// ToSchema converts a ToolDefinition to its generic schema form. The required list is
// derived from the parameters flagged required, in parameter order.
func ToSchema(t ToolDefinition) ToolSchema {
	params := &ParametersSchema{
		Type:       "object",
		Properties: make(Properties, 0, len(t.Parameters)),
		Required:   []string{},
	}
	for _, p := range t.Parameters {
		params.Properties = append(params.Properties, Property{
			Name: p.Name,
			Schema: PropertySchema{
				Type:        string(p.Type),
				Description: p.Description,
				Default:     p.Default,
			},
		})
		if p.Required {
			params.Required = append(params.Required, p.Name)
		}
	}
	return ToolSchema{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}
}

// FromSchema converts a generic schema back to a ToolDefinition. A parameter is required
// iff its name appears in the required list.
//
// Absent parameters or properties yield no parameters and an untyped property defaults to
// "string". A required entry naming an unknown property, a duplicate property, an unknown
// type or a non-object parameters schema fails with MalformedSchemaError.
func FromSchema(s ToolSchema) (ToolDefinition, error) {
	def := ToolDefinition{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  []ToolParameter{},
	}
	if s.Name == "" {
		return ToolDefinition{}, Errorf(KindMalformedSchema, "tool schema has no name")
	}
	if s.Parameters == nil {
		return def, nil
	}
	if s.Parameters.Type != "" && s.Parameters.Type != "object" {
		return ToolDefinition{}, Errorf(KindMalformedSchema, "tool %s: parameters type must be object, got %q", s.Name, s.Parameters.Type)
	}

	required := make(map[string]bool, len(s.Parameters.Required))
	for _, name := range s.Parameters.Required {
		if _, ok := s.Parameters.Properties.Lookup(name); !ok {
			return ToolDefinition{}, Errorf(KindMalformedSchema, "tool %s: required parameter %q is not a property", s.Name, name)
		}
		required[name] = true
	}

	for _, prop := range s.Parameters.Properties {
		typ := ParamType(prop.Schema.Type)
		if typ == "" {
			typ = TypeString
		}
		def.Parameters = append(def.Parameters, ToolParameter{
			Name:        prop.Name,
			Type:        typ,
			Description: prop.Schema.Description,
			Required:    required[prop.Name],
			Default:     prop.Schema.Default,
		})
	}
	if err := def.Validate(); err != nil {
		return ToolDefinition{}, err
	}
	return def, nil
}

// ToSchemas converts a tool list, keeping order.
func ToSchemas(tools []ToolDefinition) []ToolSchema {
	out := make([]ToolSchema, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToSchema(t))
	}
	return out
}

// FromSchemas converts a schema list, keeping order and failing on the first malformed entry.
func FromSchemas(schemas []ToolSchema) ([]ToolDefinition, error) {
	out := make([]ToolDefinition, 0, len(schemas))
	for i, s := range schemas {
		t, err := FromSchema(s)
		if err != nil {
			return nil, fmt.Errorf("available_tools[%d]: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}
