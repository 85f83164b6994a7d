package engine

import (
	"context"

	"github.com/flowvia/flowvia/pkg/events"
	"github.com/flowvia/flowvia/pkg/models"
)

// launchFanOuts starts one flow per matching fan-out rule, in the same flow
// group as the triggering flow. It runs after the outcome transaction has
// committed: a failed launch is recorded as a failed FanOutLaunch row and
// never rolls the outcome back.
func (e *Engine) launchFanOuts(ctx context.Context, fc *flowContext, nodeID, outcomeName string) []*models.FanOutLaunch {
	rules := fc.snapshot.FanOutsFor(nodeID, outcomeName)
	if len(rules) == 0 {
		return nil
	}

	launches := make([]*models.FanOutLaunch, 0, len(rules))

	for _, rule := range rules {
		launch := &models.FanOutLaunch{
			ID:               newID(),
			FlowID:           fc.flow.ID,
			SourceNodeID:     nodeID,
			TriggerOutcome:   outcomeName,
			TargetWorkflowID: rule.TargetWorkflowID,
			Status:           models.FanOutLaunchStatusLaunched,
			LaunchedAt:       e.Now().UTC(),
		}

		spawned, err := e.StartFlow(ctx, StartFlowRequest{
			WorkflowID: rule.TargetWorkflowID,
			GroupID:    fc.flow.GroupID,
			StartedBy:  "fanout:" + fc.flow.ID,
		})
		if err != nil {
			launch.Status = models.FanOutLaunchStatusFailed
			launch.Error = err.Error()

			e.logger.ErrorContext(ctx, "Fan-out launch failed",
				"flow_id", fc.flow.ID,
				"source_node_id", nodeID,
				"target_workflow_id", rule.TargetWorkflowID,
				"error", err)
		} else {
			launch.SpawnedFlowID = &spawned.ID

			e.logger.InfoContext(ctx, "Fan-out flow launched",
				"flow_id", fc.flow.ID,
				"spawned_flow_id", spawned.ID,
				"target_workflow_id", rule.TargetWorkflowID,
				"group_id", fc.flow.GroupID)
		}

		if err := e.persistence.Flows().RecordFanOutLaunch(ctx, launch); err != nil {
			e.logger.ErrorContext(ctx, "Failed to record fan-out launch",
				"flow_id", fc.flow.ID,
				"target_workflow_id", rule.TargetWorkflowID,
				"error", err)
		}

		e.publishFanOut(ctx, fc, launch)

		launches = append(launches, launch)
	}

	return launches
}

func (e *Engine) publishFanOut(ctx context.Context, fc *flowContext, launch *models.FanOutLaunch) {
	if launch.Status == models.FanOutLaunchStatusFailed {
		failed := events.FanOutFailed{
			BaseEvent:        events.NewBaseEvent(events.FanOutFailedEvent, fc.flow.WorkflowID),
			FlowID:           fc.flow.ID,
			SourceNodeID:     launch.SourceNodeID,
			TargetWorkflowID: launch.TargetWorkflowID,
			Error:            launch.Error,
		}
		failed.TenantID = fc.flow.TenantID
		e.publish(ctx, fc.flow.ID, failed)

		return
	}

	launched := events.FanOutLaunched{
		BaseEvent:        events.NewBaseEvent(events.FanOutLaunchedEvent, fc.flow.WorkflowID),
		FlowID:           fc.flow.ID,
		SourceNodeID:     launch.SourceNodeID,
		TriggerOutcome:   launch.TriggerOutcome,
		TargetWorkflowID: launch.TargetWorkflowID,
		GroupID:          fc.flow.GroupID,
	}
	if launch.SpawnedFlowID != nil {
		launched.SpawnedFlowID = *launch.SpawnedFlowID
	}
	launched.TenantID = fc.flow.TenantID
	e.publish(ctx, fc.flow.ID, launched)
}
