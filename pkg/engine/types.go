package engine

// Outcome is the three-way result of an idempotent resource operation. It
// makes the reuse branch visible in signatures instead of hiding it behind
// conflict errors.
type Outcome string

const (
	// OutcomeCreated means the resource was created by this run.
	OutcomeCreated Outcome = "created"

	// OutcomeReused means an existing resource with the same name was
	// found and reused.
	OutcomeReused Outcome = "reused"

	// OutcomeFailed means the operation failed.
	OutcomeFailed Outcome = "failed"
)

// ResourceKind identifies one of the five resource kinds the engine tracks.
// The set is closed; cleanup dispatches on it exhaustively.
type ResourceKind string

const (
	KindRepository  ResourceKind = "repository"
	KindComponent   ResourceKind = "component"
	KindEnvironment ResourceKind = "environment"
	KindApplication ResourceKind = "application"
	KindFlag        ResourceKind = "flag"
)

// Pipeline step names, used in progress events and PipelineError tags.
const (
	StepResolve      = "resolve"
	StepRepositories = "repositories"
	StepComponents   = "components"
	StepFlagDefs     = "flag-definitions"
	StepEnvironments = "environments"
	StepApplications = "applications"
	StepSDKTokens    = "sdk-tokens"
	StepFlags        = "flags"
	StepPersist      = "persist"
)

// RepositoryResult is the outcome of provisioning one repository.
type RepositoryResult struct {
	// FullName is the owner-qualified repository name.
	FullName string

	// HTMLURL is the repository's browser URL.
	HTMLURL string

	// Created is true when this run created the repository.
	Created bool
}

// ComponentResult is the outcome of ensuring one component service.
type ComponentResult struct {
	ID      string
	Name    string
	Outcome Outcome
}

// EnvironmentResult is the outcome of ensuring one environment.
type EnvironmentResult struct {
	ID      string
	Name    string
	Outcome Outcome
}

// ApplicationResult is the outcome of ensuring one application service.
type ApplicationResult struct {
	ID      string
	Name    string
	Outcome Outcome
	Shared  bool
}

// FlagResult is the outcome of ensuring one feature flag.
type FlagResult struct {
	ID      string
	Name    string
	Outcome Outcome
}
