// Package stores persists instance records so that environments created by a
// run can be listed and cleaned up later. Two implementations are provided: a
// whole-file JSON store and a SQLite store.
package stores

import (
	"context"
	"time"
)

// Instance records everything a run created, keyed by instance ID. It is the
// unit of cleanup: every remote resource listed here (except flags and shared
// applications) is deleted when the instance is torn down.
type Instance struct {
	// ID is the unique instance identifier.
	ID string `json:"id"`

	// ScenarioID names the scenario this instance was launched from.
	ScenarioID string `json:"scenario_id"`

	// Name is the human-readable instance name.
	Name string `json:"name"`

	// Tenant is the organization the resources were created in.
	Tenant string `json:"tenant"`

	// Parameters holds the resolved parameter values used for the run.
	Parameters map[string]string `json:"parameters,omitempty"`

	// CreatedAt is when the run started.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the instance becomes eligible for automatic
	// cleanup. Nil means the instance never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Repositories created on the source-hosting system.
	Repositories []RepositoryRecord `json:"repositories,omitempty"`

	// Components registered on the platform.
	Components []ComponentRecord `json:"components,omitempty"`

	// Environments created on the platform.
	Environments []EnvironmentRecord `json:"environments,omitempty"`

	// Flags defined on the platform. Flags are never deleted on cleanup.
	Flags []FlagRecord `json:"flags,omitempty"`

	// Applications registered on the platform.
	Applications []ApplicationRecord `json:"applications,omitempty"`
}

// Expired reports whether the instance is eligible for automatic cleanup at
// the given time. An instance whose expiry equals now is expired; a nil
// expiry never expires.
func (i *Instance) Expired(now time.Time) bool {
	if i.ExpiresAt == nil {
		return false
	}
	return !now.Before(*i.ExpiresAt)
}

// RepositoryRecord is a repository created for an instance.
type RepositoryRecord struct {
	// FullName is the owner-qualified repository name ("org/repo").
	FullName string `json:"full_name"`

	// HTMLURL is the repository's browser URL.
	HTMLURL string `json:"html_url,omitempty"`

	// Organization is the owning organization on the source-hosting
	// system.
	Organization string `json:"organization,omitempty"`

	// CreatedAt is when the record was made.
	CreatedAt time.Time `json:"created_at"`

	// Created is true when this run created the repository, false when an
	// existing one was reused.
	Created bool `json:"created"`
}

// ComponentRecord is a component service registered for an instance.
type ComponentRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	// RepositoryURL links the component to its backing repository.
	RepositoryURL string `json:"repository_url,omitempty"`

	Created bool `json:"created"`
}

// Variable is one name/value property recorded on an environment.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EnvironmentRecord is a deployment environment created for an instance.
type EnvironmentRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	// Variables are the configuration properties the environment was
	// created with.
	Variables []Variable `json:"variables,omitempty"`

	// FlagIDs are the flags configured in this environment.
	FlagIDs []string `json:"flag_ids,omitempty"`

	Created bool `json:"created"`
}

// FlagRecord is a feature flag defined for an instance.
type FlagRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Created      bool      `json:"created"`
}

// ApplicationRecord is an application service registered for an instance.
// Shared applications are reused across instances and skipped on cleanup.
// Links to components and environments are recorded by id, never by pointer,
// since records round-trip through persisted storage.
type ApplicationRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	// ComponentIDs are the components the application links.
	ComponentIDs []string `json:"component_ids,omitempty"`

	// EnvironmentIDs are the environments the application links.
	EnvironmentIDs []string `json:"environment_ids,omitempty"`

	Created bool `json:"created"`
	Shared  bool `json:"shared,omitempty"`
}

// Store persists instances.
type Store interface {
	// Save writes an instance, replacing any existing record with the
	// same ID.
	Save(ctx context.Context, instance *Instance) error

	// Get retrieves an instance by ID.
	Get(ctx context.Context, id string) (*Instance, error)

	// List returns all instances ordered by creation time.
	List(ctx context.Context) ([]*Instance, error)

	// Delete removes an instance record. Deleting a missing instance is
	// an error.
	Delete(ctx context.Context, id string) error

	// ListExpired returns instances eligible for cleanup at the given
	// time.
	ListExpired(ctx context.Context, now time.Time) ([]*Instance, error)

	// Close releases any resources held by the store.
	Close() error
}
