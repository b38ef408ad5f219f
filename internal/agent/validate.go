package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaValidator compiles each tool's InputSchema once and validates decoded
// tool_use input against it. A schema mismatch (wrong type, out-of-range
// value, unexpected shape) is treated the same way as a missing required
// field: the model gets a retry prompt rather than the call reaching
// CodeExecutor.
type schemaValidator struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

func newSchemaValidator(tools []ToolDefinition) (*schemaValidator, error) {
	v := &schemaValidator{schemas: make(map[string]*jsonschema.Schema, len(tools))}
	for _, def := range tools {
		raw, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("agent: marshal schema for tool %q: %w", def.Name, err)
		}
		compiled, err := jsonschema.CompileString(def.Name+".schema.json", string(raw))
		if err != nil {
			return nil, fmt.Errorf("agent: compile schema for tool %q: %w", def.Name, err)
		}
		v.schemas[def.Name] = compiled
	}
	return v, nil
}

// Validate reports whether input satisfies the named tool's schema. Unknown
// tool names are left to the caller's own "unknown tool" handling and are
// reported as valid here.
func (v *schemaValidator) Validate(toolName string, input map[string]any) error {
	v.mu.Lock()
	schema, ok := v.schemas[toolName]
	v.mu.Unlock()
	if !ok {
		return nil
	}
	return schema.Validate(input)
}
