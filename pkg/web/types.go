// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/flowvia/flowvia/pkg/models"

// CreateWorkflowRequest represents the request body for creating a workflow
// shell. The graph itself is authored through the draft endpoints.
type CreateWorkflowRequest struct {
	Name        string         `json:"name"        validate:"required,min=3,max=100"`
	Description string         `json:"description" validate:"max=500"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SaveLayoutRequest carries canvas positions from the autosave channel.
// Layout changes never touch the draft buffer.
type SaveLayoutRequest struct {
	Layout []models.NodePosition `json:"layout" validate:"required,min=1"`
}

// ValidateWorkflowRequest tunes a validation run. The body is optional;
// the zero value runs the strict check.
type ValidateWorkflowRequest struct {
	AllowWarnings bool `json:"allow_warnings"`
}

// SetDraftMetaRequest overwrites the workflow-level fields of the draft buffer.
type SetDraftMetaRequest struct {
	Name           string `json:"name"        validate:"required,min=3,max=100"`
	Description    string `json:"description" validate:"max=500"`
	NonTerminating bool   `json:"non_terminating"`
}

// CommitDraftRequest represents the request body for committing the draft
// buffer into relational truth.
type CommitDraftRequest struct {
	Label string `json:"label" validate:"max=200"`
}

// RestoreDraftRequest picks the history event to rewrite the buffer from.
type RestoreDraftRequest struct {
	Seq int `json:"seq" validate:"required,min=1"`
}

// StartFlowRequest represents the request body for instantiating a flow.
type StartFlowRequest struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
	Version    int    `json:"version"     validate:"min=0"` // 0 selects the latest published version
	GroupID    string `json:"group_id"`
}

// CancelFlowRequest represents the request body for cancelling a flow.
type CancelFlowRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// RecordOutcomeRequest names the outcome to record for a started task.
type RecordOutcomeRequest struct {
	Outcome string `json:"outcome" validate:"required"`
}

// AttachEvidenceRequest represents the request body for attaching evidence
// to a task. Data is checked against the task's evidence schema.
type AttachEvidenceRequest struct {
	Type           string         `json:"type" validate:"required,oneof=text structured file"`
	Data           map[string]any `json:"data" validate:"required"`
	IdempotencyKey string         `json:"idempotency_key" validate:"max=200"`
}

// OpenDetourRequest represents the request body for opening a correction
// context anchored at a checkpoint execution.
type OpenDetourRequest struct {
	CheckpointExecutionID string `json:"checkpoint_execution_id" validate:"required"`
	ResumeTargetNodeID    string `json:"resume_target_node_id"   validate:"required"`
	Type                  string `json:"type"                    validate:"required,oneof=blocking non_blocking"`
	Reason                string `json:"reason"                  validate:"max=500"`
}
