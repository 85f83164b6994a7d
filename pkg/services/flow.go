package services

import (
	"context"

	"github.com/flowvia/flowvia/pkg/engine"
	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence"
)

// Flow scopes engine operations to a tenant. Every call resolves ownership
// before the engine runs; the engine itself is tenant-blind.
type Flow struct {
	persistence persistence.Persistence
	engine      *engine.Engine
}

// NewFlow creates a new flow service on top of an engine.
func NewFlow(p persistence.Persistence, e *engine.Engine) *Flow {
	return &Flow{
		persistence: p,
		engine:      e,
	}
}

// StartFlowRequest describes one flow instantiation.
type StartFlowRequest struct {
	TenantID   string
	WorkflowID string
	Version    int    // 0 selects the latest published version
	GroupID    string // empty scopes the flow to itself
	StartedBy  string
}

// StartFlow instantiates a flow against a published version of a workflow
// the tenant owns.
func (f *Flow) StartFlow(ctx context.Context, req StartFlowRequest) (*models.Flow, error) {
	if _, err := fetchOwned(ctx, f.persistence, req.WorkflowID, req.TenantID); err != nil {
		return nil, err
	}

	return f.engine.StartFlow(ctx, engine.StartFlowRequest{
		WorkflowID: req.WorkflowID,
		Version:    req.Version,
		GroupID:    req.GroupID,
		StartedBy:  req.StartedBy,
	})
}

// GetFlow returns the flow with its derived state and raw truth log.
func (f *Flow) GetFlow(ctx context.Context, flowID, tenantID string) (*engine.FlowDetail, error) {
	if _, err := f.authorize(ctx, flowID, tenantID); err != nil {
		return nil, err
	}

	return f.engine.GetFlowDetail(ctx, flowID)
}

// FlowsByGroup returns the tenant's flows in a flow group, launch order
// preserved. Flows of other tenants never leak into the result.
func (f *Flow) FlowsByGroup(ctx context.Context, groupID, tenantID string) ([]*models.Flow, error) {
	flows, err := f.persistence.Flows().FlowsByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	owned := make([]*models.Flow, 0, len(flows))

	for _, flow := range flows {
		if flow.TenantID == tenantID {
			owned = append(owned, flow)
		}
	}

	return owned, nil
}

// GetActionableTasks returns every task that may be started right now.
func (f *Flow) GetActionableTasks(ctx context.Context, flowID, tenantID string) ([]*engine.TaskState, error) {
	if _, err := f.authorize(ctx, flowID, tenantID); err != nil {
		return nil, err
	}

	return f.engine.GetActionableTasks(ctx, flowID)
}

// IsTaskActionable reports whether the task may be started right now.
func (f *Flow) IsTaskActionable(ctx context.Context, flowID, tenantID, taskID string) (bool, error) {
	if _, err := f.authorize(ctx, flowID, tenantID); err != nil {
		return false, err
	}

	return f.engine.IsTaskActionable(ctx, flowID, taskID)
}

// StartTask claims a task for the actor.
func (f *Flow) StartTask(ctx context.Context, flowID, tenantID, taskID, actor string) (*models.TaskExecution, error) {
	if _, err := f.authorize(ctx, flowID, tenantID); err != nil {
		return nil, err
	}

	return f.engine.StartTask(ctx, flowID, taskID, actor)
}

// RecordOutcome closes a started task with one of its declared outcomes and
// routes the result through the workflow's gates.
func (f *Flow) RecordOutcome(ctx context.Context, flowID, tenantID, taskID, outcomeName, actor string) (*engine.OutcomeResult, error) {
	if _, err := f.authorize(ctx, flowID, tenantID); err != nil {
		return nil, err
	}

	return f.engine.RecordOutcome(ctx, flowID, taskID, outcomeName, actor)
}

// CancelFlow terminates a flow before completion.
func (f *Flow) CancelFlow(ctx context.Context, flowID, tenantID, reason, actor string) (*models.Flow, error) {
	if _, err := f.authorize(ctx, flowID, tenantID); err != nil {
		return nil, err
	}

	return f.engine.CancelFlow(ctx, flowID, reason, actor)
}

// AttachEvidenceRequest describes one evidence attachment.
type AttachEvidenceRequest struct {
	FlowID         string
	TenantID       string
	TaskID         string
	Type           models.EvidenceType
	Data           map[string]any
	Actor          string
	IdempotencyKey string
}

// AttachEvidence records an evidence attachment against a task.
func (f *Flow) AttachEvidence(ctx context.Context, req AttachEvidenceRequest) (*models.EvidenceAttachment, error) {
	if _, err := f.authorize(ctx, req.FlowID, req.TenantID); err != nil {
		return nil, err
	}

	return f.engine.AttachEvidence(ctx, engine.AttachEvidenceRequest{
		FlowID:         req.FlowID,
		TaskID:         req.TaskID,
		Type:           req.Type,
		Data:           req.Data,
		Actor:          req.Actor,
		IdempotencyKey: req.IdempotencyKey,
	})
}

// OpenDetourRequest describes one correction context.
type OpenDetourRequest struct {
	FlowID                string
	TenantID              string
	CheckpointExecutionID string
	ResumeTargetNodeID    string
	Type                  models.DetourType
	Reason                string
	Actor                 string
}

// OpenDetour anchors a correction context at a checkpoint execution.
func (f *Flow) OpenDetour(ctx context.Context, req OpenDetourRequest) (*models.DetourRecord, error) {
	if _, err := f.authorize(ctx, req.FlowID, req.TenantID); err != nil {
		return nil, err
	}

	return f.engine.OpenDetour(ctx, engine.OpenDetourRequest{
		FlowID:                req.FlowID,
		CheckpointExecutionID: req.CheckpointExecutionID,
		ResumeTargetNodeID:    req.ResumeTargetNodeID,
		Type:                  req.Type,
		Reason:                req.Reason,
		Actor:                 req.Actor,
	})
}

// EscalateDetour upgrades an active non-blocking detour to blocking.
func (f *Flow) EscalateDetour(ctx context.Context, flowID, tenantID, detourID, actor string) (*models.DetourRecord, error) {
	if _, err := f.authorize(ctx, flowID, tenantID); err != nil {
		return nil, err
	}

	return f.engine.EscalateDetour(ctx, flowID, detourID, actor)
}

// ResolveDetour closes an active detour as resolved.
func (f *Flow) ResolveDetour(ctx context.Context, flowID, tenantID, detourID, actor string) (*models.DetourRecord, error) {
	if _, err := f.authorize(ctx, flowID, tenantID); err != nil {
		return nil, err
	}

	return f.engine.ResolveDetour(ctx, flowID, detourID, actor)
}

// ConvertDetour closes an active detour as converted into standalone work.
func (f *Flow) ConvertDetour(ctx context.Context, flowID, tenantID, detourID, actor string) (*models.DetourRecord, error) {
	if _, err := f.authorize(ctx, flowID, tenantID); err != nil {
		return nil, err
	}

	return f.engine.ConvertDetour(ctx, flowID, detourID, actor)
}

// authorize resolves the flow and enforces tenant ownership.
func (f *Flow) authorize(ctx context.Context, flowID, tenantID string) (*models.Flow, error) {
	flow, err := f.engine.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}

	return flow, nil
}
