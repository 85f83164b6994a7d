package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowvia/flowvia/pkg/eventbus"
	"github.com/flowvia/flowvia/pkg/events"
	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence"
	"github.com/flowvia/flowvia/pkg/validation"
)

// adjacencyPageSize is how many workflows one dependency-adjacency page
// loads. It matches the persistence layer's per-page cap.
const adjacencyPageSize = 100

// Publishing turns drafts into immutable workflow versions and manages the
// status transitions around them. A publish is gated on a clean validation
// report; the version row it writes is never mutated afterwards.
type Publishing struct {
	persistence persistence.Persistence
	bus         eventbus.EventPublisher
	logger      *slog.Logger
}

// NewPublishing creates a new publishing service. The bus is optional;
// without one lifecycle events are simply not published.
func NewPublishing(p persistence.Persistence, bus eventbus.EventPublisher, logger *slog.Logger) *Publishing {
	return &Publishing{
		persistence: p,
		bus:         bus,
		logger:      logger.With("module", "publishing_service"),
	}
}

// ValidateWorkflowRequest describes one validation run.
type ValidateWorkflowRequest struct {
	WorkflowID string
	TenantID   string

	// AllowWarnings lets a report with only warning findings count as
	// valid. It shapes the report only; the status promotion below still
	// requires zero findings, as does the publish gate.
	AllowWarnings bool
}

// ValidateWorkflow runs every static check against the workflow and returns
// the full report. A draft with zero findings is promoted to validated;
// any other status is left alone.
func (p *Publishing) ValidateWorkflow(ctx context.Context, req ValidateWorkflowRequest) (validation.Report, error) {
	workflow, err := fetchOwned(ctx, p.persistence, req.WorkflowID, req.TenantID)
	if err != nil {
		return validation.Report{}, err
	}

	external, err := p.externalDependencies(ctx, req.TenantID, req.WorkflowID)
	if err != nil {
		return validation.Report{}, err
	}

	report := validation.Validate(workflow, validation.Options{
		AllowWarnings:        req.AllowWarnings,
		ExternalDependencies: external,
	})

	if len(report.Findings) == 0 && workflow.Status == models.WorkflowStatusDraft {
		err = p.persistence.Workflows().UpdateStatus(ctx, workflow.ID, models.WorkflowStatusValidated, nil, nil)
		if err != nil {
			return validation.Report{}, fmt.Errorf("failed to mark workflow validated: %w", err)
		}
	}

	return report, nil
}

// PublishWorkflow freezes the workflow into version last+1. The gate is
// strict: any finding, warnings included, rejects the publish with the full
// report attached. An already published workflow must be reverted to draft
// before it can be published again.
func (p *Publishing) PublishWorkflow(ctx context.Context, workflowID, tenantID, actor string) (*models.Workflow, error) {
	workflow, err := fetchOwned(ctx, p.persistence, workflowID, tenantID)
	if err != nil {
		return nil, err
	}

	if workflow.IsPublished() {
		return nil, ErrAlreadyPublished
	}

	external, err := p.externalDependencies(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	report := validation.Validate(workflow, validation.Options{
		ForPublish:           true,
		ExternalDependencies: external,
	})
	if !report.Valid {
		return nil, &ValidationFailedError{Report: report}
	}

	next := 1

	latest, err := p.persistence.Versions().Latest(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve latest version: %w", err)
	}

	if latest != nil {
		next = latest.Version + 1
	}

	snapshot, err := models.BuildSnapshot(workflow, next)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot: %w", err)
	}

	now := time.Now().UTC()
	version := &models.WorkflowVersion{
		ID:          uuid.New().String(),
		WorkflowID:  workflow.ID,
		Version:     next,
		Snapshot:    snapshot,
		PublishedAt: now,
		PublishedBy: actor,
	}

	// The version row lands before the status flip. A crash in between
	// leaves an unreferenced version that the next publish skips past;
	// flipping first would leave a published workflow with no snapshot.
	err = p.persistence.Versions().Create(ctx, version)
	if err != nil {
		if errors.Is(err, persistence.ErrVersionExists) {
			return nil, fmt.Errorf("lost a concurrent publish race for version %d: %w", next, err)
		}

		return nil, fmt.Errorf("failed to create version: %w", err)
	}

	err = p.persistence.Workflows().UpdateStatus(ctx, workflow.ID, models.WorkflowStatusPublished, &next, &now)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow status: %w", err)
	}

	workflow.Status = models.WorkflowStatusPublished
	workflow.Version = next
	workflow.PublishedAt = &now

	p.logger.InfoContext(ctx, "Workflow published",
		"workflow_id", workflow.ID,
		"version", next,
		"published_by", actor)

	published := events.WorkflowPublished{
		BaseEvent:   events.NewBaseEvent(events.WorkflowPublishedEvent, workflow.ID),
		Version:     next,
		PublishedBy: actor,
	}
	published.TenantID = workflow.TenantID
	p.publish(ctx, workflow.ID, published)

	return workflow, nil
}

// RevertToDraft unlocks relational mutation on a published workflow. The
// version history stays exactly as it is; only the status moves.
func (p *Publishing) RevertToDraft(ctx context.Context, workflowID, tenantID, actor string) (*models.Workflow, error) {
	workflow, err := fetchOwned(ctx, p.persistence, workflowID, tenantID)
	if err != nil {
		return nil, err
	}

	if !workflow.IsPublished() {
		return nil, ErrNotPublished
	}

	err = p.persistence.Workflows().UpdateStatus(ctx, workflow.ID, models.WorkflowStatusDraft, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow status: %w", err)
	}

	fromStatus := workflow.Status
	workflow.Status = models.WorkflowStatusDraft

	reverted := events.WorkflowReverted{
		BaseEvent:  events.NewBaseEvent(events.WorkflowRevertedEvent, workflow.ID),
		FromStatus: string(fromStatus),
		RevertedBy: actor,
	}
	reverted.TenantID = workflow.TenantID
	p.publish(ctx, workflow.ID, reverted)

	return workflow, nil
}

// GetVersion returns one published version with its snapshot.
func (p *Publishing) GetVersion(ctx context.Context, workflowID, tenantID string, version int) (*models.WorkflowVersion, error) {
	if _, err := fetchOwned(ctx, p.persistence, workflowID, tenantID); err != nil {
		return nil, err
	}

	return p.resolveVersion(ctx, workflowID, version)
}

// ListVersions returns the full version history in ascending order.
func (p *Publishing) ListVersions(ctx context.Context, workflowID, tenantID string) ([]*models.WorkflowVersion, error) {
	if _, err := fetchOwned(ctx, p.persistence, workflowID, tenantID); err != nil {
		return nil, err
	}

	versions, err := p.persistence.Versions().List(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	return versions, nil
}

// GetSnapshot returns the frozen definition of one published version.
// Version 0 selects the latest.
func (p *Publishing) GetSnapshot(ctx context.Context, workflowID, tenantID string, version int) (*models.Snapshot, error) {
	resolved, err := p.GetVersion(ctx, workflowID, tenantID, version)
	if err != nil {
		return nil, err
	}

	return resolved.Snapshot, nil
}

func (p *Publishing) resolveVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowVersion, error) {
	if version > 0 {
		resolved, err := p.persistence.Versions().Get(ctx, workflowID, version)
		if err != nil {
			return nil, fmt.Errorf("failed to get version: %w", err)
		}

		if resolved == nil {
			return nil, ErrVersionNotFound
		}

		return resolved, nil
	}

	latest, err := p.persistence.Versions().Latest(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve latest version: %w", err)
	}

	if latest == nil {
		return nil, ErrVersionNotFound
	}

	return latest, nil
}

// externalDependencies builds the workflow-to-workflow dependency adjacency
// of the tenant, keyed by workflow ID. The workflow under validation is
// excluded; it contributes its own edges directly to the validator.
func (p *Publishing) externalDependencies(ctx context.Context, tenantID, excludeID string) (map[string][]string, error) {
	adjacency := make(map[string][]string)
	opts := persistence.ListOptions{TenantID: tenantID, PerPage: adjacencyPageSize}

	for page := 1; ; page++ {
		opts.Page = page

		workflows, total, err := p.persistence.Workflows().List(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list tenant workflows: %w", err)
		}

		for _, workflow := range workflows {
			if workflow.ID == excludeID {
				continue
			}

			for _, node := range workflow.Nodes {
				for _, task := range node.Tasks {
					for _, dependency := range task.CrossFlowDependencies {
						adjacency[workflow.ID] = append(adjacency[workflow.ID], dependency.SourceWorkflowID)
					}
				}
			}
		}

		if len(workflows) == 0 || page*adjacencyPageSize >= total {
			break
		}
	}

	return adjacency, nil
}

func (p *Publishing) publish(ctx context.Context, key string, event eventbus.Event) {
	if p.bus == nil {
		return
	}

	if err := p.bus.Publish(ctx, key, event); err != nil {
		p.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
