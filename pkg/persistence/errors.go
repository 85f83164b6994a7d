// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrVersionNotFound indicates no published version exists for the given pair.
	ErrVersionNotFound = errors.New("workflow version not found")

	// ErrVersionExists indicates the (workflow, version) pair is already published.
	ErrVersionExists = errors.New("workflow version already exists")

	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrActivationExists indicates the (flow, node, iteration) activation is already recorded.
	ErrActivationExists = errors.New("node activation already recorded")

	// ErrExecutionExists indicates the (flow, task, iteration) execution is already recorded.
	ErrExecutionExists = errors.New("task execution already recorded")

	// ErrExecutionNotFound indicates a task execution was not found.
	ErrExecutionNotFound = errors.New("task execution not found")

	// ErrOutcomeAlreadyRecorded indicates the execution outcome fields are already set.
	ErrOutcomeAlreadyRecorded = errors.New("outcome already recorded")

	// ErrDetourNotFound indicates a detour record was not found.
	ErrDetourNotFound = errors.New("detour not found")

	// ErrBufferNotFound indicates no draft buffer exists for the workflow and tenant.
	ErrBufferNotFound = errors.New("draft buffer not found")

	// ErrEventNotFound indicates a draft event was not found.
	ErrEventNotFound = errors.New("draft event not found")

	// ErrSeqConflict indicates concurrent event appends collided after retries.
	ErrSeqConflict = errors.New("draft event sequence conflict")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	WorkflowID string // Workflow ID if applicable
	Err        error  // Underlying error
	Message    string // Additional context message
}

func (e *WorkflowError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for workflow %s: %s (%v)", e.Op, e.WorkflowID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// FlowError wraps flow-related errors with additional context.
type FlowError struct {
	Op     string // Operation being performed
	FlowID string // Flow ID
	Err    error  // Underlying error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s operation failed for flow %s: %v", e.Op, e.FlowID, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFlowError creates a new flow error with context.
func NewFlowError(op, flowID string, err error) *FlowError {
	return &FlowError{
		Op:     op,
		FlowID: flowID,
		Err:    err,
	}
}

// DraftError wraps draft-staging errors with additional context.
type DraftError struct {
	Op         string // Operation being performed
	WorkflowID string // Workflow ID
	TenantID   string // Tenant ID if applicable
	Err        error  // Underlying error
}

func (e *DraftError) Error() string {
	return fmt.Sprintf("%s operation failed for draft of workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *DraftError) Unwrap() error {
	return e.Err
}

func (e *DraftError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDraftError creates a new draft error with context.
func NewDraftError(op, workflowID, tenantID string, err error) *DraftError {
	return &DraftError{
		Op:         op,
		WorkflowID: workflowID,
		TenantID:   tenantID,
		Err:        err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsVersionNotFound checks if an error indicates a workflow version was not found.
func IsVersionNotFound(err error) bool {
	return errors.Is(err, ErrVersionNotFound)
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsActivationExists checks if an error indicates a duplicate node activation.
func IsActivationExists(err error) bool {
	return errors.Is(err, ErrActivationExists)
}

// IsExecutionExists checks if an error indicates a duplicate task execution.
func IsExecutionExists(err error) bool {
	return errors.Is(err, ErrExecutionExists)
}

// IsOutcomeAlreadyRecorded checks if an error indicates outcome fields were already set.
func IsOutcomeAlreadyRecorded(err error) bool {
	return errors.Is(err, ErrOutcomeAlreadyRecorded)
}

// IsBufferNotFound checks if an error indicates a missing draft buffer.
func IsBufferNotFound(err error) bool {
	return errors.Is(err, ErrBufferNotFound)
}

// IsEventNotFound checks if an error indicates a missing draft event.
func IsEventNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound)
}
