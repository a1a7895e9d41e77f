package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fieldnote-ai/homeagent/internal/trace"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema wraps a compiled JSON Schema used to validate tool parameters or
// results (spec §4.2's "typed schema"). Compiling at registration time
// means a malformed schema fails fast at startup rather than at first call.
type Schema struct {
	raw      map[string]any
	compiled *jsonschema.Schema
}

// CompileSchema compiles a raw JSON-Schema document (as a map, the shape
// tool authors naturally produce) under a synthetic resource id derived
// from the tool name.
func CompileSchema(resourceID string, doc map[string]any) (*Schema, error) {
	if doc == nil {
		return &Schema{raw: map[string]any{}}, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("tools: marshal schema for %s: %w", resourceID, err)
	}
	unmarshalled, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("tools: unmarshal schema for %s: %w", resourceID, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, unmarshalled); err != nil {
		return nil, fmt.Errorf("tools: add schema resource %s: %w", resourceID, err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("tools: compile schema %s: %w", resourceID, err)
	}
	return &Schema{raw: doc, compiled: compiled}, nil
}

// Validate checks value against the schema. A nil Schema (no constraints
// declared) always validates.
func (s *Schema) Validate(value any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	return s.compiled.Validate(value)
}

// Raw returns the original schema document, for catalog rendering.
func (s *Schema) Raw() map[string]any {
	if s == nil {
		return nil
	}
	return s.raw
}

// ParameterSpec describes a tool's expected input shape.
type ParameterSpec struct {
	Schema       *Schema
	ExampleInput map[string]any
}

// ResultSpec describes a tool's declared output shape. ListField names the
// single obvious array-typed field in the schema, if any (used by the plan
// validator's invalid-placeholder repair).
type ResultSpec struct {
	Schema    *Schema
	ListField string
}

// ToolDescriptor is the static registration record for one tool (spec §3).
type ToolDescriptor struct {
	Name          Ident
	Description   string
	Payload       ParameterSpec
	Result        ResultSpec
	Tags          []string
	MemoryEnabled bool
	Terminal      bool
	// Commitments declares which CommitmentTags a successful invocation of
	// this tool fulfills, the table the Finalizer's commitment verification
	// (spec §4.9) consults instead of pattern-matching action names.
	Commitments []trace.CommitmentTag
	// Timeout overrides the executor's default per-tool deadline when
	// non-zero (spec §5 "default timeout per tool is set per-descriptor").
	Timeout int64 // seconds; 0 means use the executor default
}
