package scenario

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas used to validate scenario definition
// files before they are decoded into typed structures.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.RegisterSchema("scenario", builtinScenarioSchema)
	return sr
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// ValidateScenario validates a raw scenario tree (as decoded from YAML)
// against the scenario schema. Unknown top-level keys are permitted.
func (sr *SchemaRegistry) ValidateScenario(data interface{}) error {
	sr.mu.RLock()
	schema, ok := sr.schemas["scenario"]
	sr.mu.RUnlock()
	if !ok {
		return fmt.Errorf("scenario schema not registered")
	}

	def := schema.LookupPath(cue.ParsePath("#Scenario"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("scenario schema definition missing: %w", err)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode scenario data: %w", err)
	}

	unified := def.Unify(dataVal)
	if err := unified.Validate(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

const builtinScenarioSchema = `
// Scenario schema for demo-environment templates.
#Scenario: {
	// ID is the unique scenario identifier
	id: string & =~"^[a-zA-Z0-9_-]+$"

	// Name is the display name
	name: string

	summary?: string
	details?: string

	parameter_schema?: {
		properties?: {[string]: {
			type?: "string" | "number" | "boolean"
			pattern?: string
			enum?: [...string]
			default?: string
			description?: string
		}}
		required?: [...string]
	}

	computed_variables?: {[string]: {
		parameter?: string
		template?: string
	}}

	repositories?: [...{
		template: string & =~"^[^/]+/[^/]+$"
		name:     string
		organization?:     string
		create_component?: bool | string
		replacements?: {[string]: {[string]: string}}
		file_ops?: [...{
			parameter?: string
			when?:      bool | string
			action:     "move" | "copy" | "delete"
			from:       string
			to?:        string
		}]
		secrets?: {[string]: string}
	}]

	environments?: [...{
		name: string
		variables?: [...{name: string, value?: string}]
		inject_sdk_token?: bool | string
	}]

	applications?: [...{
		name: string
		components?:   [...string]
		environments?: [...string]
		repository?:   string
		shared?:       bool | string
	}]

	flags?: [...{
		name: string
		type?: "boolean" | "string" | "number"
		environments?: [...string]
	}]

	// Unknown top-level keys are tolerated
	...
}
`
