package toolloop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v6"
)

var schemaSeq atomic.Uint64

// JSONSchema returns the argument schema of the tool as a JSON Schema document.
// Properties keep declaration order. Backends with native function calling can send it as-is.
func (d ToolDefinition) JSONSchema() *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:        "object",
		Description: d.Description,
		Properties:  jsonschema.NewProperties(),
	}
	for _, p := range d.Parameters {
		prop := &jsonschema.Schema{
			Type:        string(p.Type),
			Description: p.Description,
			Default:     p.Default,
		}
		if len(p.Enum) > 0 {
			prop.Enum = make([]any, len(p.Enum))
			for i, v := range p.Enum {
				prop.Enum[i] = v
			}
		}
		s.Properties.Set(p.Name, prop)
		if p.Required {
			s.Required = append(s.Required, p.Name)
		}
	}
	return s
}

// SchemaMap returns JSONSchema as a generic map (e.g. for provider SDKs that take map[string]any).
func (d ToolDefinition) SchemaMap() (map[string]any, error) {
	data, err := json.Marshal(d.JSONSchema())
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// compileDefinitionSchema compiles the argument schema of d into a validator.
// It is called once per Register.
func compileDefinitionSchema(d ToolDefinition) (*jsv.Schema, error) {
	data, err := json.Marshal(d.JSONSchema())
	if err != nil {
		return nil, err
	}
	doc, err := jsv.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	// Each compile gets its own resource URL; the compiler caches by URL.
	url := fmt.Sprintf("mem://toolloop/schema-%d.json", schemaSeq.Add(1))
	c := jsv.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// validateDefinition checks a definition before registration.
func validateDefinition(d ToolDefinition) error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty tool name", ErrInvalidDefinition)
	}
	seen := make(map[string]struct{}, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Name == "" {
			return fmt.Errorf("%w: tool %s has a parameter without a name", ErrInvalidDefinition, d.Name)
		}
		if !p.Type.Valid() {
			return fmt.Errorf("%w: tool %s parameter %s has unknown type %q", ErrInvalidDefinition, d.Name, p.Name, p.Type)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: tool %s declares parameter %s twice", ErrInvalidDefinition, d.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}
