package scenario

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ComputedVariables is an ordered set of named computed variables. Evaluation
// order follows declaration order in the scenario file, so a later variable
// may reference an earlier one.
type ComputedVariables struct {
	names []string
	vars  map[string]ComputedVariable
}

// Names returns the variable names in declaration order.
func (c ComputedVariables) Names() []string {
	return c.names
}

// Get returns the variable with the given name.
func (c ComputedVariables) Get(name string) ComputedVariable {
	return c.vars[name]
}

// Len returns the number of computed variables.
func (c ComputedVariables) Len() int {
	return len(c.names)
}

// Set adds or replaces a variable, appending new names in call order.
func (c *ComputedVariables) Set(name string, v ComputedVariable) {
	if c.vars == nil {
		c.vars = make(map[string]ComputedVariable)
	}
	if _, exists := c.vars[name]; !exists {
		c.names = append(c.names, name)
	}
	c.vars[name] = v
}

// UnmarshalYAML decodes a YAML mapping preserving key order.
func (c *ComputedVariables) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("computed_variables must be a mapping, got %s", node.Tag)
	}
	c.names = nil
	c.vars = make(map[string]ComputedVariable, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var v ComputedVariable
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("computed variable %q: %w", name, err)
		}
		c.Set(name, v)
	}
	return nil
}

// MarshalJSON encodes the variables as a plain object.
func (c ComputedVariables) MarshalJSON() ([]byte, error) {
	if c.vars == nil {
		return []byte("null"), nil
	}
	return json.Marshal(c.vars)
}

// UnmarshalJSON decodes a plain object. JSON objects carry no order; this
// path only runs on already-evaluated resolved scenarios.
func (c *ComputedVariables) UnmarshalJSON(data []byte) error {
	var m map[string]ComputedVariable
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.names = nil
	c.vars = nil
	for name, v := range m {
		c.Set(name, v)
	}
	return nil
}
