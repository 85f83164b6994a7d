// Package persistence provides the data storage abstraction layer for
// workflow definitions, versions, flows and draft buffers.
package persistence

import (
	"context"
	"time"

	"github.com/flowvia/flowvia/pkg/models"
)

// Persistence bundles the repositories of one storage backend. All
// implementations share the same sentinel errors so callers can branch on
// errors.Is regardless of the backend.
type Persistence interface {
	Workflows() WorkflowRepository
	Versions() VersionRepository
	Flows() FlowRepository
	Drafts() DraftRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListOptions control workflow listing. SortBy is matched against an
// allowlist by each implementation; unknown columns fall back to created_at.
type ListOptions struct {
	TenantID string
	Status   models.WorkflowStatus // empty = all
	Page     int                   // 1-based, defaults to 1
	PerPage  int                   // defaults to 20, capped at 100
	SortBy   string                // name | created_at | updated_at
	SortDesc bool
}

// Normalize applies paging defaults and the sort column allowlist.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}

	if o.PerPage < 1 {
		o.PerPage = 20
	}

	if o.PerPage > 100 {
		o.PerPage = 100
	}

	switch o.SortBy {
	case "name", "created_at", "updated_at":
	default:
		o.SortBy = "created_at"
	}

	return o
}

// WorkflowRepository stores the mutable workflow definition aggregate.
type WorkflowRepository interface {
	// List returns one page of non-deleted workflows plus the total count.
	List(ctx context.Context, opts ListOptions) ([]*models.Workflow, int, error)

	// GetByID returns the workflow with its full graph, or nil when absent.
	GetByID(ctx context.Context, workflowID string) (*models.Workflow, error)

	// Save upserts the workflow and its entire graph.
	Save(ctx context.Context, workflow *models.Workflow) error

	// UpdateStatus transitions the workflow lifecycle status. Version and
	// publishedAt are updated when non-nil.
	UpdateStatus(ctx context.Context, workflowID string, status models.WorkflowStatus, version *int, publishedAt *time.Time) error

	// SaveLayout autosaves canvas positions without touching semantics.
	// Positions for unknown nodes are ignored.
	SaveLayout(ctx context.Context, workflowID string, layout []models.NodePosition) error

	// Delete soft deletes a workflow by setting deleted_at.
	Delete(ctx context.Context, workflowID string) error
}

// VersionRepository stores published workflow versions. Rows are immutable.
type VersionRepository interface {
	// Create inserts a version row. Fails with ErrVersionExists when the
	// (workflow, version) pair is already taken.
	Create(ctx context.Context, version *models.WorkflowVersion) error

	Get(ctx context.Context, workflowID string, version int) (*models.WorkflowVersion, error)

	// Latest returns the highest published version, or nil when none exist.
	Latest(ctx context.Context, workflowID string) (*models.WorkflowVersion, error)

	List(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error)
}

// FlowRepository stores flows and their append-only truth logs. Append
// methods rely on unique keys as the concurrency backstop: a losing writer
// gets the matching sentinel error, never a double row.
type FlowRepository interface {
	// CreateFlow persists the flow row together with its entry-node
	// activations in one transaction, so a flow is never observable
	// without its initial activations.
	CreateFlow(ctx context.Context, flow *models.Flow, activations []*models.NodeActivation) error

	// GetFlow returns the flow row, or nil when it does not exist.
	GetFlow(ctx context.Context, flowID string) (*models.Flow, error)
	FlowsByGroup(ctx context.Context, groupID string) ([]*models.Flow, error)
	UpdateFlowStatus(ctx context.Context, flowID string, status models.FlowStatus, completedAt *time.Time) error

	// LoadLog returns the complete truth log of a flow in append order.
	LoadLog(ctx context.Context, flowID string) (*models.FlowLog, error)

	// AppendActivation records a node activation. Fails with
	// ErrActivationExists when (flow, node, iteration) is already recorded.
	AppendActivation(ctx context.Context, activation *models.NodeActivation) error

	// AppendExecution records a task start. Fails with ErrExecutionExists
	// when (flow, task, iteration) is already recorded.
	AppendExecution(ctx context.Context, execution *models.TaskExecution) error

	// RecordOutcome applies one outcome transaction: sets the execution's
	// outcome fields exactly once, appends the resulting activations
	// (duplicates skipped) and flips the flow status when the outcome
	// finished the flow. All of it lands atomically or not at all. Fails
	// with ErrOutcomeAlreadyRecorded when the outcome fields are already
	// set and with ErrExecutionNotFound when the row does not exist.
	RecordOutcome(ctx context.Context, record OutcomeRecord) error

	AppendEvidence(ctx context.Context, evidence *models.EvidenceAttachment) error

	// FindEvidenceByKey returns the attachment recorded under an
	// idempotency key, or nil when the key is unused.
	FindEvidenceByKey(ctx context.Context, flowID, taskID, idempotencyKey string) (*models.EvidenceAttachment, error)

	// AppendDetour records a detour and, when activation is non-nil, the
	// resume-target activation in the same transaction.
	AppendDetour(ctx context.Context, detour *models.DetourRecord, activation *models.NodeActivation) error

	// UpdateDetour applies one detour transition. Fails with
	// ErrDetourNotFound when the detour does not exist.
	UpdateDetour(ctx context.Context, update DetourUpdate) error

	RecordFanOutLaunch(ctx context.Context, launch *models.FanOutLaunch) error

	// GroupHasOutcome reports whether any flow in the group, running the
	// given workflow, has recorded the outcome on the task. This is the
	// cross-flow dependency primitive; it never looks outside the group.
	GroupHasOutcome(ctx context.Context, groupID, workflowID, nodeID, taskID, outcomeName string) (bool, error)
}

// OutcomeRecord bundles the facts one recorded outcome persists together.
type OutcomeRecord struct {
	FlowID      string
	ExecutionID string
	OutcomeName string
	CompletedAt time.Time
	CompletedBy string

	// Activations triggered by the gate evaluation, possibly empty.
	Activations []*models.NodeActivation

	// FlowCompleted marks the flow completed as of CompletedAt.
	FlowCompleted bool
}

// DetourUpdate bundles one detour status or type transition. FlowCompleted
// flips the flow status in the same transaction, for the case where lifting
// the last blocking detour finishes the flow.
type DetourUpdate struct {
	FlowID     string
	DetourID   string
	Status     models.DetourStatus
	Type       models.DetourType
	ResolvedAt *time.Time
	ResolvedBy *string

	FlowCompleted bool
}

// CommitDraft bundles everything one draft commit must persist atomically.
// The repository allocates the event sequence inside the same transaction
// that hydrates the relational graph and realigns the buffer; either all
// three land or none do.
type CommitDraft struct {
	Workflow *models.Workflow
	Event    *models.DraftEvent // Seq is assigned during the commit
	Buffer   *models.DraftBuffer
}

// DraftRepository stores draft buffers and the append-only draft history.
type DraftRepository interface {
	// GetBuffer returns the buffer for (workflow, tenant), or nil.
	GetBuffer(ctx context.Context, workflowID, tenantID string) (*models.DraftBuffer, error)

	SaveBuffer(ctx context.Context, buffer *models.DraftBuffer) error

	// DeleteBuffer discards the buffer row. Draft history and relational
	// rows are untouched.
	DeleteBuffer(ctx context.Context, workflowID, tenantID string) error

	// AppendEvent appends a history event, allocating Seq = max(seq)+1 for
	// the workflow race-free, and returns the allocated sequence.
	AppendEvent(ctx context.Context, event *models.DraftEvent) (int, error)

	Events(ctx context.Context, workflowID string) ([]*models.DraftEvent, error)
	EventBySeq(ctx context.Context, workflowID string, seq int) (*models.DraftEvent, error)

	// LatestAppliedEvent returns the newest initial or commit event, the
	// source of truth for revert-layout. Nil when history is empty.
	LatestAppliedEvent(ctx context.Context, workflowID string) (*models.DraftEvent, error)

	// Commit atomically appends the commit event, replaces the workflow
	// graph and realigns the buffer. Returns the committed event.
	Commit(ctx context.Context, commit CommitDraft) (*models.DraftEvent, error)
}
