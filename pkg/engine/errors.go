// Package engine implements the scenario execution core: the repository
// provisioner, the resource manager, the creation pipeline, the cleanup
// engine, and the retry policies they share.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/stagehand/stagehand/pkg/clients/forge"
	"github.com/stagehand/stagehand/pkg/clients/platform"
)

// ErrorClass represents the classification of an error for retry and
// recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed
	// on retry. Examples: network timeouts, a just-created repository not
	// yet indexed by the remote system.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a resource state conflict, such as an
	// optimistic-concurrency version mismatch on update.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the resource name that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	}
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation=%s): %s",
			e.Class, e.Message, e.Operation, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried. Transient, throttled,
// and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// Classify maps a remote-call error onto an EngineError. Already-classified
// errors pass through unchanged; HTTP errors from either remote system are
// classified by status code; network timeouts are transient.
func Classify(err error) *EngineError {
	if err == nil {
		return nil
	}

	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr
	}

	var forgeErr *forge.APIError
	if errors.As(err, &forgeErr) {
		return classifyStatus(forgeErr.StatusCode, "source-hosting call failed", err)
	}

	var platErr *platform.APIError
	if errors.As(err, &platErr) {
		return classifyStatus(platErr.StatusCode, "platform call failed", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTransientError("network timeout", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError("deadline exceeded", err)
	}

	return NewPermanentError("remote call failed", err)
}

func classifyStatus(status int, message string, err error) *EngineError {
	switch {
	case status == 409:
		return NewConflictError(message, err)
	case status == 429:
		return NewThrottledError(message, err)
	case status == 404 || status == 422:
		// A just-created resource may 404 or fail reference validation
		// until the remote system has indexed it.
		return NewTransientError(message, err)
	case status >= 500:
		return NewTransientError(message, err)
	default:
		return NewPermanentError(message, err)
	}
}

// PipelineError reports a failed pipeline step with structured context so a
// caller can render an actionable message without parsing free text.
type PipelineError struct {
	// Step is the pipeline step that failed.
	Step string

	// Details contains step-specific context such as the resource name.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("pipeline step %s failed (%v): %v", e.Step, e.Details, e.Err)
	}
	return fmt.Sprintf("pipeline step %s failed: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a pipeline error for the given step.
func NewPipelineError(step string, err error) *PipelineError {
	return &PipelineError{Step: step, Err: err}
}

// WithDetail adds a detail field to the error context.
func (e *PipelineError) WithDetail(key string, value interface{}) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}
