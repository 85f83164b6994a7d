package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence"
)

// FlowRepository stores flow rows and their append-only truth logs.
type FlowRepository struct {
	store *store
}

func (r *FlowRepository) CreateFlow(_ context.Context, flow *models.Flow, activations []*models.NodeActivation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.flows[flow.ID]; exists {
		return persistence.NewFlowError("create", flow.ID, fmt.Errorf("flow already exists"))
	}

	log := &models.FlowLog{}
	for _, activation := range activations {
		log.Activations = append(log.Activations, clone(activation))
	}

	r.store.flows[flow.ID] = clone(flow)
	r.store.logs[flow.ID] = log

	return nil
}

func (r *FlowRepository) GetFlow(_ context.Context, flowID string) (*models.Flow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	flow, ok := r.store.flows[flowID]
	if !ok {
		return nil, nil
	}

	return clone(flow), nil
}

func (r *FlowRepository) FlowsByGroup(_ context.Context, groupID string) ([]*models.Flow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var flows []*models.Flow

	for _, flow := range r.store.flows {
		if flow.GroupID == groupID {
			flows = append(flows, clone(flow))
		}
	}

	return flows, nil
}

func (r *FlowRepository) UpdateFlowStatus(_ context.Context, flowID string, status models.FlowStatus, completedAt *time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	flow, ok := r.store.flows[flowID]
	if !ok {
		return persistence.NewFlowError("update_status", flowID, persistence.ErrFlowNotFound)
	}

	flow.Status = status

	if completedAt != nil {
		at := *completedAt
		flow.CompletedAt = &at
	}

	return nil
}

func (r *FlowRepository) LoadLog(_ context.Context, flowID string) (*models.FlowLog, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	log, ok := r.store.logs[flowID]
	if !ok {
		return nil, persistence.NewFlowError("load_log", flowID, persistence.ErrFlowNotFound)
	}

	return clone(log), nil
}

func (r *FlowRepository) AppendActivation(_ context.Context, activation *models.NodeActivation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	log, ok := r.store.logs[activation.FlowID]
	if !ok {
		return persistence.NewFlowError("append_activation", activation.FlowID, persistence.ErrFlowNotFound)
	}

	for _, existing := range log.Activations {
		if existing.NodeID == activation.NodeID && existing.Iteration == activation.Iteration {
			return persistence.NewFlowError("append_activation", activation.FlowID, persistence.ErrActivationExists)
		}
	}

	log.Activations = append(log.Activations, clone(activation))

	return nil
}

func (r *FlowRepository) AppendExecution(_ context.Context, execution *models.TaskExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	log, ok := r.store.logs[execution.FlowID]
	if !ok {
		return persistence.NewFlowError("append_execution", execution.FlowID, persistence.ErrFlowNotFound)
	}

	for _, existing := range log.Executions {
		if existing.TaskID == execution.TaskID && existing.Iteration == execution.Iteration {
			return persistence.NewFlowError("append_execution", execution.FlowID, persistence.ErrExecutionExists)
		}
	}

	log.Executions = append(log.Executions, clone(execution))

	return nil
}

func (r *FlowRepository) RecordOutcome(_ context.Context, record persistence.OutcomeRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	log, ok := r.store.logs[record.FlowID]
	if !ok {
		return persistence.NewFlowError("record_outcome", record.FlowID, persistence.ErrFlowNotFound)
	}

	execution := log.ExecutionByID(record.ExecutionID)
	if execution == nil {
		return persistence.NewFlowError("record_outcome", record.FlowID, persistence.ErrExecutionNotFound)
	}

	if execution.OutcomeName != nil {
		return persistence.NewFlowError("record_outcome", record.FlowID, persistence.ErrOutcomeAlreadyRecorded)
	}

	outcomeName := record.OutcomeName
	completedAt := record.CompletedAt
	completedBy := record.CompletedBy
	execution.OutcomeName = &outcomeName
	execution.CompletedAt = &completedAt
	execution.CompletedBy = &completedBy

	for _, activation := range record.Activations {
		if activationExists(log, activation) {
			continue
		}

		log.Activations = append(log.Activations, clone(activation))
	}

	if record.FlowCompleted {
		if flow, ok := r.store.flows[record.FlowID]; ok {
			flow.Status = models.FlowStatusCompleted
			at := record.CompletedAt
			flow.CompletedAt = &at
		}
	}

	return nil
}

func (r *FlowRepository) AppendEvidence(_ context.Context, evidence *models.EvidenceAttachment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	log, ok := r.store.logs[evidence.FlowID]
	if !ok {
		return persistence.NewFlowError("append_evidence", evidence.FlowID, persistence.ErrFlowNotFound)
	}

	log.Evidence = append(log.Evidence, clone(evidence))

	return nil
}

func (r *FlowRepository) FindEvidenceByKey(_ context.Context, flowID, taskID, idempotencyKey string) (*models.EvidenceAttachment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	log, ok := r.store.logs[flowID]
	if !ok {
		return nil, nil
	}

	for _, evidence := range log.Evidence {
		if evidence.TaskID != taskID || evidence.IdempotencyKey == nil {
			continue
		}

		if *evidence.IdempotencyKey == idempotencyKey {
			return clone(evidence), nil
		}
	}

	return nil, nil
}

func (r *FlowRepository) AppendDetour(_ context.Context, detour *models.DetourRecord, activation *models.NodeActivation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	log, ok := r.store.logs[detour.FlowID]
	if !ok {
		return persistence.NewFlowError("append_detour", detour.FlowID, persistence.ErrFlowNotFound)
	}

	log.Detours = append(log.Detours, clone(detour))

	if activation != nil && !activationExists(log, activation) {
		log.Activations = append(log.Activations, clone(activation))
	}

	return nil
}

func (r *FlowRepository) UpdateDetour(_ context.Context, update persistence.DetourUpdate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	log, ok := r.store.logs[update.FlowID]
	if !ok {
		return persistence.NewFlowError("update_detour", update.FlowID, persistence.ErrFlowNotFound)
	}

	detour := log.DetourByID(update.DetourID)
	if detour == nil {
		return persistence.NewFlowError("update_detour", update.FlowID, persistence.ErrDetourNotFound)
	}

	detour.Status = update.Status
	detour.Type = update.Type

	if update.ResolvedAt != nil {
		at := *update.ResolvedAt
		detour.ResolvedAt = &at
	}

	if update.ResolvedBy != nil {
		by := *update.ResolvedBy
		detour.ResolvedBy = &by
	}

	if update.FlowCompleted {
		if flow, ok := r.store.flows[update.FlowID]; ok {
			flow.Status = models.FlowStatusCompleted
			now := time.Now().UTC()
			if update.ResolvedAt != nil {
				now = *update.ResolvedAt
			}
			flow.CompletedAt = &now
		}
	}

	return nil
}

func (r *FlowRepository) RecordFanOutLaunch(_ context.Context, launch *models.FanOutLaunch) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	log, ok := r.store.logs[launch.FlowID]
	if !ok {
		return persistence.NewFlowError("record_fanout", launch.FlowID, persistence.ErrFlowNotFound)
	}

	log.FanOuts = append(log.FanOuts, clone(launch))

	return nil
}

func (r *FlowRepository) GroupHasOutcome(_ context.Context, groupID, workflowID, nodeID, taskID, outcomeName string) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for flowID, flow := range r.store.flows {
		if flow.GroupID != groupID || flow.WorkflowID != workflowID {
			continue
		}

		log, ok := r.store.logs[flowID]
		if !ok {
			continue
		}

		for _, execution := range log.Executions {
			if execution.NodeID != nodeID || execution.TaskID != taskID {
				continue
			}

			if execution.OutcomeName != nil && *execution.OutcomeName == outcomeName {
				return true, nil
			}
		}
	}

	return false, nil
}

func activationExists(log *models.FlowLog, activation *models.NodeActivation) bool {
	for _, existing := range log.Activations {
		if existing.NodeID == activation.NodeID && existing.Iteration == activation.Iteration {
			return true
		}
	}

	return false
}
