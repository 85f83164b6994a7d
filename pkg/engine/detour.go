package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/flowvia/flowvia/pkg/events"
	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/otelhelper"
	"github.com/flowvia/flowvia/pkg/persistence"
)

// OpenDetourRequest describes one correction context. The checkpoint is a
// task execution; the resume target names the node where the correction
// work happens.
type OpenDetourRequest struct {
	FlowID                string
	CheckpointExecutionID string
	ResumeTargetNodeID    string
	Type                  models.DetourType
	Reason                string
	Actor                 string
}

// OpenDetour anchors a correction context at a checkpoint execution and
// activates the resume target so the correction work is actionable at once.
// A blocking detour suppresses the checkpoint node's transitive successors
// until the detour leaves its active status.
func (e *Engine) OpenDetour(ctx context.Context, req OpenDetourRequest) (*models.DetourRecord, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.open_detour",
		attribute.String(otelhelper.FlowIDKey, req.FlowID),
	)
	defer span.End()

	release := e.locks.acquire(req.FlowID)
	defer release()

	fc, err := e.loadFlow(ctx, req.FlowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if fc.flow.Status != models.FlowStatusActive {
		return nil, NewError(CodeFlowNotActive, fmt.Sprintf("flow %s is %s", req.FlowID, fc.flow.Status))
	}

	if req.Type != models.DetourTypeBlocking && req.Type != models.DetourTypeNonBlocking {
		return nil, fmt.Errorf("invalid detour type %q", req.Type)
	}

	execution := fc.log.ExecutionByID(req.CheckpointExecutionID)
	if execution == nil {
		return nil, persistence.NewFlowError("open_detour", req.FlowID, persistence.ErrExecutionNotFound)
	}

	if fc.snapshot.NodeByID(req.ResumeTargetNodeID) == nil {
		return nil, fmt.Errorf("resume target node %q is not part of workflow %s version %d",
			req.ResumeTargetNodeID, fc.flow.WorkflowID, fc.flow.Version)
	}

	repeatIndex := 1

	for _, previous := range fc.log.Detours {
		if previous.CheckpointExecutionID == req.CheckpointExecutionID {
			repeatIndex++
		}
	}

	now := e.Now().UTC()
	detour := &models.DetourRecord{
		ID:                    newID(),
		FlowID:                req.FlowID,
		CheckpointNodeID:      execution.NodeID,
		CheckpointExecutionID: req.CheckpointExecutionID,
		ResumeTargetNodeID:    req.ResumeTargetNodeID,
		Type:                  req.Type,
		Status:                models.DetourStatusActive,
		RepeatIndex:           repeatIndex,
		Reason:                req.Reason,
		OpenedAt:              now,
		OpenedBy:              req.Actor,
	}

	activation := e.resumeActivation(fc, req.ResumeTargetNodeID, now)

	if err := e.persistence.Flows().AppendDetour(ctx, detour, activation); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "Detour opened",
		"flow_id", req.FlowID,
		"detour_id", detour.ID,
		"checkpoint_node_id", detour.CheckpointNodeID,
		"resume_target_node_id", detour.ResumeTargetNodeID,
		"detour_type", detour.Type,
		"repeat_index", detour.RepeatIndex)

	opened := events.DetourOpened{
		BaseEvent:          events.NewBaseEvent(events.DetourOpenedEvent, fc.flow.WorkflowID),
		FlowID:             req.FlowID,
		DetourID:           detour.ID,
		CheckpointNodeID:   detour.CheckpointNodeID,
		ResumeTargetNodeID: detour.ResumeTargetNodeID,
		DetourType:         string(detour.Type),
		RepeatIndex:        detour.RepeatIndex,
		Reason:             detour.Reason,
		OpenedBy:           req.Actor,
	}
	opened.TenantID = fc.flow.TenantID
	e.publish(ctx, req.FlowID, opened)

	if activation != nil {
		e.publishActivations(ctx, fc.flow, []*models.NodeActivation{activation})
	}

	return detour, nil
}

// EscalateDetour upgrades a non-blocking detour to blocking. Escalating an
// already blocking detour is a no-op. Unlike resolution, escalation tightens
// the flow and therefore requires it to still be active.
func (e *Engine) EscalateDetour(ctx context.Context, flowID, detourID, actor string) (*models.DetourRecord, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.escalate_detour",
		attribute.String(otelhelper.FlowIDKey, flowID),
		attribute.String(otelhelper.DetourIDKey, detourID),
	)
	defer span.End()

	release := e.locks.acquire(flowID)
	defer release()

	fc, err := e.loadFlow(ctx, flowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if fc.flow.Status != models.FlowStatusActive {
		return nil, NewError(CodeFlowNotActive, fmt.Sprintf("flow %s is %s", flowID, fc.flow.Status))
	}

	detour := fc.log.DetourByID(detourID)
	if detour == nil {
		return nil, persistence.NewFlowError("escalate_detour", flowID, persistence.ErrDetourNotFound)
	}

	if detour.Status != models.DetourStatusActive {
		return nil, NewError(CodeDetourNotActive, fmt.Sprintf("detour %s is %s", detourID, detour.Status))
	}

	if detour.Type == models.DetourTypeBlocking {
		return detour, nil
	}

	update := persistence.DetourUpdate{
		FlowID:   flowID,
		DetourID: detourID,
		Status:   models.DetourStatusActive,
		Type:     models.DetourTypeBlocking,
	}

	if err := e.persistence.Flows().UpdateDetour(ctx, update); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	detour.Type = models.DetourTypeBlocking

	e.logger.InfoContext(ctx, "Detour escalated", "flow_id", flowID, "detour_id", detourID)

	return detour, nil
}

// ResolveDetour closes a detour as corrected. Resolution only relaxes the
// flow, so it is allowed whatever the flow status; resolving the last
// blocking detour may complete the flow.
func (e *Engine) ResolveDetour(ctx context.Context, flowID, detourID, actor string) (*models.DetourRecord, error) {
	return e.closeDetour(ctx, flowID, detourID, actor, models.DetourStatusResolved)
}

// ConvertDetour closes a detour as a permanent remediation path rather than
// a one-off correction. Like resolution it only relaxes the flow.
func (e *Engine) ConvertDetour(ctx context.Context, flowID, detourID, actor string) (*models.DetourRecord, error) {
	return e.closeDetour(ctx, flowID, detourID, actor, models.DetourStatusConverted)
}

func (e *Engine) closeDetour(ctx context.Context, flowID, detourID, actor string, status models.DetourStatus) (*models.DetourRecord, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.close_detour",
		attribute.String(otelhelper.FlowIDKey, flowID),
		attribute.String(otelhelper.DetourIDKey, detourID),
	)
	defer span.End()

	release := e.locks.acquire(flowID)
	defer release()

	fc, err := e.loadFlow(ctx, flowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	detour := fc.log.DetourByID(detourID)
	if detour == nil {
		return nil, persistence.NewFlowError("close_detour", flowID, persistence.ErrDetourNotFound)
	}

	if detour.Status != models.DetourStatusActive {
		return nil, NewError(CodeDetourNotActive, fmt.Sprintf("detour %s is %s", detourID, detour.Status))
	}

	now := e.Now().UTC()
	detour.Status = status
	detour.ResolvedAt = &now
	detour.ResolvedBy = &actor

	// Lifting the suppression may leave nothing open: every activated node
	// done and no pending execution. The status flip rides the same
	// transaction.
	flowCompleted := false
	if fc.flow.Status == models.FlowStatusActive {
		flowCompleted = DeriveState(fc.snapshot, fc.log).Complete
	}

	update := persistence.DetourUpdate{
		FlowID:        flowID,
		DetourID:      detourID,
		Status:        status,
		Type:          detour.Type,
		ResolvedAt:    &now,
		ResolvedBy:    &actor,
		FlowCompleted: flowCompleted,
	}

	if err := e.persistence.Flows().UpdateDetour(ctx, update); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "Detour closed",
		"flow_id", flowID,
		"detour_id", detourID,
		"status", status,
		"flow_completed", flowCompleted)

	if status == models.DetourStatusConverted {
		converted := events.DetourConverted{
			BaseEvent:   events.NewBaseEvent(events.DetourConvertedEvent, fc.flow.WorkflowID),
			FlowID:      flowID,
			DetourID:    detourID,
			ConvertedBy: actor,
		}
		converted.TenantID = fc.flow.TenantID
		e.publish(ctx, flowID, converted)
	} else {
		resolved := events.DetourResolved{
			BaseEvent:  events.NewBaseEvent(events.DetourResolvedEvent, fc.flow.WorkflowID),
			FlowID:     flowID,
			DetourID:   detourID,
			ResolvedBy: actor,
		}
		resolved.TenantID = fc.flow.TenantID
		e.publish(ctx, flowID, resolved)
	}

	if flowCompleted {
		completed := events.FlowCompleted{
			BaseEvent: events.NewBaseEvent(events.FlowCompletedEvent, fc.flow.WorkflowID),
			FlowID:    flowID,
			GroupID:   fc.flow.GroupID,
			Duration:  now.Sub(fc.flow.StartedAt),
		}
		completed.TenantID = fc.flow.TenantID
		e.publish(ctx, flowID, completed)
	}

	return detour, nil
}

// resumeActivation decides how the resume target activates. A node that is
// already live needs no new activation; one that finished re-activates at
// the next iteration.
func (e *Engine) resumeActivation(fc *flowContext, targetNodeID string, at time.Time) *models.NodeActivation {
	target := DeriveState(fc.snapshot, fc.log).Node(targetNodeID)

	switch target.Status {
	case NodeStatusInactive:
		return &models.NodeActivation{
			ID:          newID(),
			FlowID:      fc.flow.ID,
			NodeID:      targetNodeID,
			Iteration:   1,
			ActivatedAt: at,
		}
	case NodeStatusComplete:
		return &models.NodeActivation{
			ID:          newID(),
			FlowID:      fc.flow.ID,
			NodeID:      targetNodeID,
			Iteration:   target.Iteration + 1,
			ActivatedAt: at,
		}
	default:
		return nil
	}
}
