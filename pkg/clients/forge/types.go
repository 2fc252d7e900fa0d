// Package forge is a minimal typed client for the source-hosting platform's
// REST API. It exposes only the operations the provisioning pipeline needs:
// template-based repository generation, file content manipulation, encrypted
// secret storage, collaborator invitations, and repository deletion.
package forge

import (
	"fmt"
	"net/http"
)

// Repository is the subset of repository metadata the pipeline consumes.
type Repository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    Owner  `json:"owner"`
	HTMLURL  string `json:"html_url"`
	Private  bool   `json:"private"`
}

// Owner identifies the account owning a repository.
type Owner struct {
	Login string `json:"login"`
}

// FileContent is one file fetched from a repository.
type FileContent struct {
	Path string `json:"path"`
	SHA  string `json:"sha"`
	// Content is base64-encoded.
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// PublicKey is a repository's secret-encryption public key.
type PublicKey struct {
	KeyID string `json:"key_id"`
	// Key is the base64-encoded 32-byte sealed-box public key.
	Key string `json:"key"`
}

// GenerateRequest is the payload for template-based repository generation.
type GenerateRequest struct {
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private"`
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
	return fmt.Sprintf("forge: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether the error is a 404.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict reports whether the error is a 409 or 422 conflict.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusUnprocessableEntity
}

// IsUnauthorized reports whether the error indicates a bad credential.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
