// Package services exposes tenant-scoped application operations on top of
// the persistence layer and the flow engine. Each service owns one concern:
// definitions, publishing, and running flows.
package services

import (
	"errors"
	"fmt"

	"github.com/flowvia/flowvia/pkg/draft"
	"github.com/flowvia/flowvia/pkg/persistence"
	"github.com/flowvia/flowvia/pkg/validation"
)

// Not-found sentinels, aliased from the layers that own them so callers
// match one identity end to end.
var (
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
	ErrVersionNotFound  = persistence.ErrVersionNotFound
	ErrFlowNotFound     = persistence.ErrFlowNotFound

	// ErrTenantMismatch is fatal to the request. The API layer shapes it
	// like a missing resource so foreign tenants cannot probe for existence.
	ErrTenantMismatch = draft.ErrTenantMismatch
)

// Validation errors (400 Bad Request).
var (
	ErrInvalidSortField     = errors.New("invalid sort field")
	ErrInvalidSortOrder     = errors.New("invalid sort order")
	ErrInvalidStatus        = errors.New("invalid workflow status")
	ErrEmptyTenantID        = errors.New("tenant ID cannot be empty")
	ErrWorkflowNameRequired = errors.New("workflow name is required")

	// ErrWorkflowNotValid is the identity behind ValidationFailedError.
	ErrWorkflowNotValid = errors.New("workflow has validation findings")
)

// Business logic conflicts (409 Conflict).
var (
	ErrAlreadyPublished      = errors.New("workflow is already published")
	ErrNotPublished          = errors.New("workflow is not published")
	ErrVersionExists         = persistence.ErrVersionExists
	ErrCannotModifyPublished = draft.ErrCannotModifyPublished
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// ValidationFailedError is returned when the publish gate rejects a
// workflow. It carries the full report so callers can surface every finding
// instead of just the first.
type ValidationFailedError struct {
	Report validation.Report
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("workflow has %d validation findings", len(e.Report.Findings))
}

func (e *ValidationFailedError) Is(target error) bool {
	return target == ErrWorkflowNotValid
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrEmptyTenantID) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrWorkflowNotValid)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAlreadyPublished) ||
		errors.Is(err, ErrNotPublished) ||
		errors.Is(err, ErrVersionExists) ||
		errors.Is(err, ErrCannotModifyPublished)
}

// IsNotFoundError checks if an error should return HTTP 404. Tenant
// mismatches deliberately land here.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, persistence.ErrExecutionNotFound) ||
		errors.Is(err, persistence.ErrDetourNotFound) ||
		errors.Is(err, persistence.ErrBufferNotFound) ||
		errors.Is(err, persistence.ErrEventNotFound) ||
		errors.Is(err, ErrTenantMismatch)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
