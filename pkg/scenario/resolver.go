package scenario

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// tokenPattern matches ${name} and ${env.NAME} substitution tokens.
var tokenPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// booleanFields are struct fields that may arrive as "true"/"false" strings
// after substitution (some callers supply form-encoded values) and must be
// coerced back to booleans before decoding.
var booleanFields = map[string]bool{
	"create_component": true,
	"shared":           true,
	"inject_sdk_token": true,
	"when":             true,
}

// Resolver substitutes parameters, computed variables, and deployment-tenant
// properties into a scenario. Resolve is pure: it performs no I/O and the
// same inputs always produce the same output.
type Resolver struct{}

// NewResolver creates a new resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve validates the supplied parameter values against the scenario's
// parameter schema, evaluates computed variables in declaration order, and
// returns a new scenario with every ${...} token replaced by its concrete
// value. ${env.NAME} tokens resolve against envProps; all other tokens
// resolve against the merged parameter/computed value set.
func (r *Resolver) Resolve(s *Scenario, params map[string]string, envProps map[string]string) (*Scenario, error) {
	values, err := r.validateParams(s, params)
	if err != nil {
		return nil, err
	}

	if err := r.evaluateComputed(s, values, envProps); err != nil {
		return nil, err
	}

	// Serialize to a generic tree, substitute every string leaf, then decode
	// back into a concrete scenario.
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize scenario %s: %w", s.ID, err)
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to build scenario tree: %w", err)
	}

	tree, err = r.substituteNode(tree, values, envProps)
	if err != nil {
		return nil, err
	}
	coerceBooleans(tree)

	out, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize resolved tree: %w", err)
	}
	resolved := &Scenario{}
	if err := json.Unmarshal(out, resolved); err != nil {
		return nil, fmt.Errorf("failed to decode resolved scenario: %w", err)
	}
	return resolved, nil
}

// validateParams checks supplied values against the schema and returns the
// merged value set with defaults applied.
func (r *Resolver) validateParams(s *Scenario, params map[string]string) (map[string]string, error) {
	props := s.Parameters.Properties

	for name := range params {
		if _, ok := props[name]; !ok {
			return nil, &ValidationError{Field: name, Reason: "unknown parameter"}
		}
	}

	values := make(map[string]string, len(props))
	for name, spec := range props {
		value, supplied := params[name]
		if !supplied || value == "" {
			value = spec.Default
		}

		if value == "" {
			if s.Parameters.IsRequired(name) {
				return nil, &ValidationError{Field: name, Reason: "required parameter is missing or empty"}
			}
			values[name] = ""
			continue
		}

		if err := checkValue(name, value, spec); err != nil {
			return nil, err
		}
		values[name] = value
	}
	return values, nil
}

// checkValue validates one value against its parameter specification.
func checkValue(name, value string, spec ParameterSpec) error {
	switch spec.Type {
	case "number":
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return &ValidationError{Field: name, Value: value, Reason: "not a number"}
		}
	case "boolean":
		if value != "true" && value != "false" {
			return &ValidationError{Field: name, Value: value, Reason: "not a boolean"}
		}
	}

	if spec.Pattern != "" {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return &ValidationError{Field: name, Reason: fmt.Sprintf("invalid pattern %q", spec.Pattern)}
		}
		if !re.MatchString(value) {
			return &ValidationError{Field: name, Value: value, Reason: fmt.Sprintf("does not match pattern %q", spec.Pattern)}
		}
	}

	if len(spec.Enum) > 0 {
		found := false
		for _, allowed := range spec.Enum {
			if value == allowed {
				found = true
				break
			}
		}
		if !found {
			return &ValidationError{Field: name, Value: value, Reason: fmt.Sprintf("not one of %v", spec.Enum)}
		}
	}
	return nil
}

// evaluateComputed evaluates computed variables in declaration order, adding
// each result to the merged value set so later variables and template tokens
// can reference it.
func (r *Resolver) evaluateComputed(s *Scenario, values map[string]string, envProps map[string]string) error {
	for _, name := range s.Computed.Names() {
		cv := s.Computed.Get(name)

		value := ""
		if cv.Parameter != "" {
			value = values[cv.Parameter]
		}
		if value == "" {
			rendered, err := r.substituteString(cv.Template, values, envProps)
			if err != nil {
				return err
			}
			value = rendered
		}
		values[name] = value
	}
	return nil
}

// substituteNode walks a generic tree and substitutes tokens in every string
// leaf.
func (r *Resolver) substituteNode(node interface{}, values, envProps map[string]string) (interface{}, error) {
	switch v := node.(type) {
	case string:
		return r.substituteString(v, values, envProps)
	case map[string]interface{}:
		for key, child := range v {
			replaced, err := r.substituteNode(child, values, envProps)
			if err != nil {
				return nil, err
			}
			v[key] = replaced
		}
		return v, nil
	case []interface{}:
		for i, child := range v {
			replaced, err := r.substituteNode(child, values, envProps)
			if err != nil {
				return nil, err
			}
			v[i] = replaced
		}
		return v, nil
	default:
		return node, nil
	}
}

// substituteString replaces every ${...} token in one string.
func (r *Resolver) substituteString(in string, values, envProps map[string]string) (string, error) {
	var firstErr error
	out := tokenPattern.ReplaceAllStringFunc(in, func(token string) string {
		name := token[2 : len(token)-1]

		if envName, ok := strings.CutPrefix(name, "env."); ok {
			if value, found := envProps[envName]; found {
				return value
			}
			if firstErr == nil {
				firstErr = &ValidationError{Field: name, Reason: "deployment tenant property not found"}
			}
			return token
		}

		if value, found := values[name]; found {
			return value
		}
		if firstErr == nil {
			firstErr = &ValidationError{Field: name, Reason: "referenced variable not found"}
		}
		return token
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// coerceBooleans converts "true"/"false" strings back to booleans for known
// boolean fields anywhere in the tree.
func coerceBooleans(node interface{}) {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, child := range v {
			if booleanFields[key] {
				if s, ok := child.(string); ok {
					if b, err := strconv.ParseBool(s); err == nil {
						v[key] = b
						continue
					}
				}
			}
			coerceBooleans(child)
		}
	case []interface{}:
		for _, child := range v {
			coerceBooleans(child)
		}
	}
}
