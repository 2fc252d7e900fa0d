// Package platform is a minimal typed client for the deployment and
// feature-flag platform's REST API. Operations are keyed by organization id
// and cover the service, environment, flag, and property surfaces the
// provisioning pipeline needs.
package platform

import (
	"fmt"
	"net/http"
)

// Service kinds.
const (
	ServiceKindComponent   = "COMPONENT"
	ServiceKindApplication = "APPLICATION"
)

// Service is a deployable service object: either a component (backed by a
// repository) or an application (linking components and environments).
type Service struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`

	// RepositoryURL is the backing repository, set for components.
	RepositoryURL string `json:"repository_url,omitempty"`

	// ComponentIDs lists linked component ids, set for applications.
	ComponentIDs []string `json:"component_ids,omitempty"`

	// EnvironmentIDs lists linked environment ids, set for applications.
	EnvironmentIDs []string `json:"environment_ids,omitempty"`

	// Version is the resource version for optimistic concurrency.
	Version int64 `json:"version"`
}

// ServiceCreate is the payload for service creation.
type ServiceCreate struct {
	Name           string   `json:"name"`
	Kind           string   `json:"kind"`
	RepositoryURL  string   `json:"repository_url,omitempty"`
	ComponentIDs   []string `json:"component_ids,omitempty"`
	EnvironmentIDs []string `json:"environment_ids,omitempty"`
}

// ServiceUpdate is the payload for service updates. Nil slices leave the
// corresponding link set unchanged.
type ServiceUpdate struct {
	ComponentIDs   []string `json:"component_ids,omitempty"`
	EnvironmentIDs []string `json:"environment_ids,omitempty"`
	Version        int64    `json:"version"`
}

// Environment is a runtime environment ("endpoint") with a property list.
type Environment struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Properties []Property `json:"properties"`

	// Version is the resource version for optimistic concurrency; updates
	// carrying a stale version are rejected with 409.
	Version int64 `json:"version"`
}

// EnvironmentCreate is the payload for environment creation.
type EnvironmentCreate struct {
	Name       string     `json:"name"`
	Properties []Property `json:"properties,omitempty"`
}

// Property is a named configuration value on an environment or organization.
type Property struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Secret bool   `json:"secret,omitempty"`
}

// Flag is a feature flag definition.
type Flag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// FlagCreate is the payload for flag creation.
type FlagCreate struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// FlagConfig binds a flag to an environment.
type FlagConfig struct {
	EnvironmentID string `json:"environment_id"`
	Enabled       bool   `json:"enabled"`
}

// SDKKey is an environment's runtime SDK credential.
type SDKKey struct {
	Key string `json:"key"`
}

// Organization is the subset of organization metadata the pipeline consumes.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// APIError carries the HTTP status and raw response body of a failed call.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("platform: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether the error is a 404.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict reports whether the error is a 409 version conflict.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsUnauthorized reports whether the error indicates a bad credential.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
