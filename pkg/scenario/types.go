// Package scenario defines the scenario template model, the directory loader,
// and the resolver that turns a parameterized scenario into a concrete
// execution plan.
package scenario

import "fmt"

// Scenario is a declarative template describing the repositories, components,
// environments, applications, and feature flags that make up one demo
// environment. Scenarios are immutable once loaded; the resolver returns a
// new, fully concrete copy.
type Scenario struct {
	// ID is the unique scenario identifier.
	ID string `yaml:"id" json:"id" validate:"required"`

	// Name is the human-readable display name.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Summary is a one-line description.
	Summary string `yaml:"summary" json:"summary"`

	// Details is a longer free-form description.
	Details string `yaml:"details" json:"details"`

	// Parameters declares the parameters the scenario accepts.
	Parameters ParameterSchema `yaml:"parameter_schema" json:"parameter_schema"`

	// Computed declares derived variables evaluated in declaration order
	// before substitution.
	Computed ComputedVariables `yaml:"computed_variables" json:"computed_variables"`

	// Repositories lists the version-control repositories to create.
	Repositories []RepositoryConfig `yaml:"repositories" json:"repositories"`

	// Environments lists the runtime environments to create.
	Environments []EnvironmentConfig `yaml:"environments" json:"environments"`

	// Applications lists the applications to create.
	Applications []ApplicationConfig `yaml:"applications" json:"applications"`

	// Flags lists the feature flags to create.
	Flags []FlagConfig `yaml:"flags" json:"flags"`
}

// ParameterSchema declares the named parameters of a scenario.
type ParameterSchema struct {
	// Properties maps parameter names to their specifications.
	Properties map[string]ParameterSpec `yaml:"properties" json:"properties"`

	// Required lists the names of mandatory parameters.
	Required []string `yaml:"required" json:"required"`
}

// ParameterSpec describes a single scenario parameter.
type ParameterSpec struct {
	// Type is the parameter type: string, number, or boolean.
	Type string `yaml:"type" json:"type" validate:"omitempty,oneof=string number boolean"`

	// Pattern is an optional regular expression the value must match.
	Pattern string `yaml:"pattern" json:"pattern"`

	// Enum restricts the value to a fixed set.
	Enum []string `yaml:"enum" json:"enum"`

	// Default is used when the caller supplies no value.
	Default string `yaml:"default" json:"default"`

	// Description documents the parameter.
	Description string `yaml:"description" json:"description"`
}

// ComputedVariable is a fallback chain: use the named parameter's value if it
// is non-empty, otherwise render the template string.
type ComputedVariable struct {
	// Parameter is the source parameter name.
	Parameter string `yaml:"parameter" json:"parameter"`

	// Template is rendered when the source parameter is empty. It may
	// reference other parameters with ${name} tokens.
	Template string `yaml:"template" json:"template"`
}

// RepositoryConfig describes one repository to generate from a template.
type RepositoryConfig struct {
	// Template is the source template repository as "org/repo".
	Template string `yaml:"template" json:"template" validate:"required"`

	// Organization is the target organization the repository is created in.
	Organization string `yaml:"organization" json:"organization"`

	// Name is the target repository name (may contain ${...} tokens).
	Name string `yaml:"name" json:"name" validate:"required"`

	// CreateComponent indicates a platform component should back this
	// repository.
	CreateComponent bool `yaml:"create_component" json:"create_component"`

	// Replacements maps a repository file path to literal text replacements
	// applied to that file after generation.
	Replacements map[string]map[string]string `yaml:"replacements" json:"replacements"`

	// FileOps are conditional file operations gated on a boolean parameter.
	FileOps []FileOp `yaml:"file_ops" json:"file_ops"`

	// Secrets maps secret names to value templates uploaded as encrypted
	// repository secrets.
	Secrets map[string]string `yaml:"secrets" json:"secrets"`
}

// FileOp is a conditional file operation applied after repository generation.
type FileOp struct {
	// Parameter is the boolean parameter gating this operation.
	Parameter string `yaml:"parameter" json:"parameter"`

	// When is the parameter value that activates the operation.
	When bool `yaml:"when" json:"when"`

	// Action is one of move, copy, delete.
	Action string `yaml:"action" json:"action" validate:"required,oneof=move copy delete"`

	// From is the source file path within the repository.
	From string `yaml:"from" json:"from" validate:"required"`

	// To is the destination path for move and copy.
	To string `yaml:"to" json:"to"`
}

// EnvironmentConfig describes one runtime environment.
type EnvironmentConfig struct {
	// Name is the environment name (may contain ${...} tokens).
	Name string `yaml:"name" json:"name" validate:"required"`

	// Variables are the environment's configuration properties.
	Variables []Variable `yaml:"variables" json:"variables"`

	// InjectSDKToken injects the runtime SDK key into the environment's
	// property list after creation.
	InjectSDKToken bool `yaml:"inject_sdk_token" json:"inject_sdk_token"`
}

// Variable is a name/value property on an environment.
type Variable struct {
	Name  string `yaml:"name" json:"name" validate:"required"`
	Value string `yaml:"value" json:"value"`
}

// ApplicationConfig describes one application linking components and
// environments.
type ApplicationConfig struct {
	// Name is the application name (may contain ${...} tokens).
	Name string `yaml:"name" json:"name" validate:"required"`

	// Components lists referenced component names.
	Components []string `yaml:"components" json:"components"`

	// Environments lists referenced environment names.
	Environments []string `yaml:"environments" json:"environments"`

	// Repository is the optional backing repository as "org/repo".
	Repository string `yaml:"repository" json:"repository"`

	// Shared marks the application as reused across scenario runs. Shared
	// applications are updated rather than recreated and are never deleted
	// by cleanup.
	Shared bool `yaml:"shared" json:"shared"`
}

// FlagConfig describes one feature flag.
type FlagConfig struct {
	// Name is the flag name (may contain ${...} tokens).
	Name string `yaml:"name" json:"name" validate:"required"`

	// Type is the flag value type: boolean, string, or number.
	Type string `yaml:"type" json:"type" validate:"omitempty,oneof=boolean string number"`

	// Environments lists the environment names the flag is configured in.
	Environments []string `yaml:"environments" json:"environments"`
}

// ValidationError reports an invalid or missing parameter, or an unresolvable
// template reference. It is raised before any remote call is attempted.
type ValidationError struct {
	// Field is the parameter or token name that failed validation.
	Field string

	// Value is the offending value, if any.
	Value string

	// Reason is a human-readable explanation.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid parameter %q (value %q): %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Reason)
}

// IsRequired reports whether the parameter name is in the required list.
func (p ParameterSchema) IsRequired(name string) bool {
	for _, r := range p.Required {
		if r == name {
			return true
		}
	}
	return false
}
