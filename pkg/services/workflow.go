package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowvia/flowvia/pkg/eventbus"
	"github.com/flowvia/flowvia/pkg/events"
	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence"
)

// Workflow manages workflow definitions: creation, lookup, listing, layout
// autosave, and soft deletion. Graph mutations never happen here; they go
// through the draft stage and land relationally only on commit.
type Workflow struct {
	persistence persistence.Persistence
	bus         eventbus.EventPublisher
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service. The bus is optional; without
// one lifecycle events are simply not published.
func NewWorkflow(p persistence.Persistence, bus eventbus.EventPublisher, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: p,
		bus:         bus,
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create adds a new workflow in draft status. ID, timestamps, status, and
// version are stamped here; the caller supplies the rest.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow, actor string) (*models.Workflow, error) {
	if strings.TrimSpace(workflow.TenantID) == "" {
		return nil, NewValidationError("create", "EMPTY_TENANT_ID", "tenant ID cannot be empty", ErrEmptyTenantID)
	}

	if strings.TrimSpace(workflow.Name) == "" {
		return nil, NewValidationError("create", "NAME_REQUIRED", "workflow name is required", ErrWorkflowNameRequired)
	}

	now := time.Now().UTC()
	workflow.ID = uuid.New().String()
	workflow.Status = models.WorkflowStatusDraft
	workflow.Version = 0
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err := w.persistence.Workflows().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	created := events.WorkflowCreated{
		BaseEvent: events.NewBaseEvent(events.WorkflowCreatedEvent, workflow.ID),
		Name:      workflow.Name,
		CreatedBy: actor,
	}
	created.TenantID = workflow.TenantID
	w.publish(ctx, workflow.ID, created)

	return workflow, nil
}

// FetchByID retrieves a workflow with its full graph, scoped to the tenant.
func (w *Workflow) FetchByID(ctx context.Context, workflowID, tenantID string) (*models.Workflow, error) {
	return fetchOwned(ctx, w.persistence, workflowID, tenantID)
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	TenantID string

	// Filtering
	Status string

	// Pagination
	Page    int `validate:"min=1"`
	PerPage int `validate:"min=1,max=100"`

	// Sorting
	SortBy    string `validate:"oneof=name created_at updated_at"`
	SortOrder string `validate:"oneof=asc desc"`
}

// ListWorkflowsResponse contains one page of workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int                `json:"total_count"`
	Page        int                `json:"page"`
	PerPage     int                `json:"per_page"`
	HasNextPage bool               `json:"has_next_page"`
}

// ListWorkflows retrieves workflows with filtering, sorting, and pagination.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if err := validateListWorkflowsRequest(&req); err != nil {
		return nil, err
	}

	opts := persistence.ListOptions{
		TenantID: req.TenantID,
		Status:   models.WorkflowStatus(req.Status),
		Page:     req.Page,
		PerPage:  req.PerPage,
		SortBy:   req.SortBy,
		SortDesc: req.SortOrder == "desc",
	}

	workflows, total, err := w.persistence.Workflows().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return &ListWorkflowsResponse{
		Workflows:   workflows,
		TotalCount:  total,
		Page:        req.Page,
		PerPage:     req.PerPage,
		HasNextPage: req.Page*req.PerPage < total,
	}, nil
}

// validateListWorkflowsRequest validates and sets defaults for the request.
func validateListWorkflowsRequest(req *ListWorkflowsRequest) error {
	if strings.TrimSpace(req.TenantID) == "" {
		return NewValidationError(
			"list_workflows",
			"EMPTY_TENANT_ID",
			"tenant ID cannot be empty",
			ErrEmptyTenantID,
		)
	}

	if req.Page <= 0 {
		req.Page = 1
	}

	if req.PerPage <= 0 {
		req.PerPage = 20
	}

	if req.PerPage > 100 {
		req.PerPage = 100
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"name", "created_at", "updated_at"}
	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"list_workflows",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field %q, allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"list_workflows",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order %q, allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	if req.Status != "" {
		allowedStatuses := []string{
			string(models.WorkflowStatusDraft),
			string(models.WorkflowStatusValidated),
			string(models.WorkflowStatusPublished),
		}

		if !slices.Contains(allowedStatuses, req.Status) {
			return NewValidationError(
				"list_workflows",
				"INVALID_STATUS",
				fmt.Sprintf("invalid status %q", req.Status),
				ErrInvalidStatus,
			)
		}
	}

	return nil
}

// SaveLayout autosaves canvas positions. Layout is cosmetic truth stored
// relationally and survives buffer discards, so it bypasses the draft stage.
func (w *Workflow) SaveLayout(ctx context.Context, workflowID, tenantID string, layout []models.NodePosition) error {
	workflow, err := fetchOwned(ctx, w.persistence, workflowID, tenantID)
	if err != nil {
		return err
	}

	err = w.persistence.Workflows().SaveLayout(ctx, workflowID, layout)
	if err != nil {
		return fmt.Errorf("failed to save layout: %w", err)
	}

	updated := events.WorkflowUpdated{
		BaseEvent: events.NewBaseEvent(events.WorkflowUpdatedEvent, workflowID),
	}
	updated.TenantID = workflow.TenantID
	w.publish(ctx, workflowID, updated)

	return nil
}

// Delete soft deletes a workflow. Version history and any running flows are
// untouched; the workflow only disappears from listings and lookups.
func (w *Workflow) Delete(ctx context.Context, workflowID, tenantID, actor string) error {
	workflow, err := fetchOwned(ctx, w.persistence, workflowID, tenantID)
	if err != nil {
		return err
	}

	err = w.persistence.Workflows().Delete(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	deleted := events.WorkflowDeleted{
		BaseEvent: events.NewBaseEvent(events.WorkflowDeletedEvent, workflowID),
		DeletedBy: actor,
	}
	deleted.TenantID = workflow.TenantID
	w.publish(ctx, workflowID, deleted)

	return nil
}

func (w *Workflow) publish(ctx context.Context, key string, event eventbus.Event) {
	if w.bus == nil {
		return
	}

	if err := w.bus.Publish(ctx, key, event); err != nil {
		w.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// fetchOwned loads a workflow and enforces tenant ownership. A mismatch is
// reported exactly like a missing workflow would be at the API boundary.
func fetchOwned(ctx context.Context, p persistence.Persistence, workflowID, tenantID string) (*models.Workflow, error) {
	workflow, err := p.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	if workflow.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}

	return workflow, nil
}
