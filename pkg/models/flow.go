package models

import "time"

// FlowStatus represents the stored lifecycle projection of a flow. It is
// written only by the engine after the reducer proves the transition;
// recomputing from the truth log always agrees with it.
type FlowStatus string

const (
	FlowStatusActive    FlowStatus = "active"
	FlowStatusCompleted FlowStatus = "completed"
	FlowStatusCancelled FlowStatus = "cancelled"
)

// Flow is one execution of a published workflow version. Flows in the same
// group can observe each other through cross-flow dependencies; flows in
// different groups are invisible to each other.
type Flow struct {
	ID          string     `json:"id"`
	GroupID     string     `json:"group_id"`
	TenantID    string     `json:"tenant_id"`
	WorkflowID  string     `json:"workflow_id"`
	Version     int        `json:"version"`
	Status      FlowStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	StartedBy   string     `json:"started_by"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NodeActivation records that a node entered a new iteration. Iteration 1 is
// the first activation; loopbacks append higher iterations. The
// (flow, node, iteration) triple is unique.
type NodeActivation struct {
	ID          string    `json:"id"`
	FlowID      string    `json:"flow_id"`
	NodeID      string    `json:"node_id"`
	Iteration   int       `json:"iteration"`
	ActivatedAt time.Time `json:"activated_at"`
}

// TaskExecution records that a task was started within a node iteration and,
// once recorded, its outcome. Outcome fields are written exactly once; the
// (flow, task, iteration) triple is unique.
type TaskExecution struct {
	ID          string     `json:"id"`
	FlowID      string     `json:"flow_id"`
	NodeID      string     `json:"node_id"`
	TaskID      string     `json:"task_id"`
	Iteration   int        `json:"iteration"`
	StartedAt   time.Time  `json:"started_at"`
	StartedBy   string     `json:"started_by"`
	OutcomeName *string    `json:"outcome_name,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy *string    `json:"completed_by,omitempty"`
}

// Completed reports whether an outcome has been recorded.
func (e *TaskExecution) Completed() bool {
	return e.OutcomeName != nil
}

// EvidenceAttachment is a recorded piece of proof for a task. Attachments
// are append-only; retries carrying the same idempotency key resolve to the
// original attachment instead of a new row.
type EvidenceAttachment struct {
	ID             string         `json:"id"`
	FlowID         string         `json:"flow_id"`
	TaskID         string         `json:"task_id"`
	Type           EvidenceType   `json:"type"`
	Data           map[string]any `json:"data"`
	AttachedAt     time.Time      `json:"attached_at"`
	AttachedBy     string         `json:"attached_by"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
}

// DetourType distinguishes whether a detour suppresses downstream work.
type DetourType string

const (
	DetourTypeBlocking    DetourType = "blocking"     // Downstream tasks stop being actionable
	DetourTypeNonBlocking DetourType = "non_blocking" // Tracked, no effect on actionability
)

// DetourStatus is the lifecycle of a detour record.
type DetourStatus string

const (
	DetourStatusActive    DetourStatus = "active"
	DetourStatusResolved  DetourStatus = "resolved"
	DetourStatusConverted DetourStatus = "converted" // Closed as a permanent remediation
)

// DetourRecord captures an exceptional excursion from the happy path,
// anchored to the task execution where the problem was found. RepeatIndex
// counts detours opened on the same checkpoint execution.
type DetourRecord struct {
	ID                    string       `json:"id"`
	FlowID                string       `json:"flow_id"`
	CheckpointNodeID      string       `json:"checkpoint_node_id"`
	CheckpointExecutionID string       `json:"checkpoint_execution_id"`
	ResumeTargetNodeID    string       `json:"resume_target_node_id"`
	Type                  DetourType   `json:"type"`
	Status                DetourStatus `json:"status"`
	RepeatIndex           int          `json:"repeat_index"`
	Reason                string       `json:"reason,omitempty"`
	OpenedAt              time.Time    `json:"opened_at"`
	OpenedBy              string       `json:"opened_by"`
	ResolvedAt            *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy            *string      `json:"resolved_by,omitempty"`
}

// FanOutLaunchStatus records how a spawn attempt ended.
type FanOutLaunchStatus string

const (
	FanOutLaunchStatusLaunched FanOutLaunchStatus = "launched"
	FanOutLaunchStatusFailed   FanOutLaunchStatus = "failed"
)

// FanOutLaunch records one attempt to spawn a flow from a fan-out rule.
// Failures are recorded facts; they never roll back the outcome that
// triggered them.
type FanOutLaunch struct {
	ID               string             `json:"id"`
	FlowID           string             `json:"flow_id"`
	SourceNodeID     string             `json:"source_node_id"`
	TriggerOutcome   string             `json:"trigger_outcome"`
	TargetWorkflowID string             `json:"target_workflow_id"`
	SpawnedFlowID    *string            `json:"spawned_flow_id,omitempty"`
	Status           FanOutLaunchStatus `json:"status"`
	Error            string             `json:"error,omitempty"`
	LaunchedAt       time.Time          `json:"launched_at"`
}

// FlowLog is the complete recorded truth of one flow, in append order. Every
// derived view of flow state is a pure function of a snapshot and this log.
type FlowLog struct {
	Activations []*NodeActivation     `json:"activations"`
	Executions  []*TaskExecution      `json:"executions"`
	Evidence    []*EvidenceAttachment `json:"evidence"`
	Detours     []*DetourRecord       `json:"detours"`
	FanOuts     []*FanOutLaunch       `json:"fan_outs"`
}

// Revision counts recorded facts, including the in-place ones: a recorded
// outcome and a closed detour each count on top of their row. Every legal
// log transition strictly increases it, which makes it a safe cache key
// component for derived state.
func (l *FlowLog) Revision() int {
	revision := len(l.Activations) + len(l.Executions) + len(l.Evidence) + len(l.Detours) + len(l.FanOuts)

	for _, execution := range l.Executions {
		if execution.Completed() {
			revision++
		}
	}

	for _, detour := range l.Detours {
		if detour.Status != DetourStatusActive {
			revision++
		}
	}

	return revision
}

// ExecutionByID returns the execution with the given ID, or nil.
func (l *FlowLog) ExecutionByID(executionID string) *TaskExecution {
	for _, execution := range l.Executions {
		if execution.ID == executionID {
			return execution
		}
	}

	return nil
}

// DetourByID returns the detour with the given ID, or nil.
func (l *FlowLog) DetourByID(detourID string) *DetourRecord {
	for _, detour := range l.Detours {
		if detour.ID == detourID {
			return detour
		}
	}

	return nil
}
