package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence"
)

// FlowRepository handles flow rows and their append-only truth logs. The
// unique keys on the log tables are the cross-process backstop: a losing
// concurrent writer gets the matching sentinel error, never a double row.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

// CreateFlow persists the flow row together with its entry-node activations
// in one transaction.
func (r *FlowRepository) CreateFlow(ctx context.Context, flow *models.Flow, activations []*models.NodeActivation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	flowQuery := `
		INSERT INTO flows (id, group_id, tenant_id, workflow_id, version, status, started_at, started_by, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = tx.ExecContext(ctx, flowQuery,
		flow.ID,
		flow.GroupID,
		flow.TenantID,
		flow.WorkflowID,
		flow.Version,
		flow.Status,
		flow.StartedAt,
		flow.StartedBy,
		flow.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "flows_pkey") {
			return persistence.NewFlowError("create", flow.ID, fmt.Errorf("flow already exists"))
		}

		return fmt.Errorf("failed to save flow: %w", err)
	}

	for _, activation := range activations {
		err = insertActivationTx(ctx, tx, activation)
		if err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *FlowRepository) GetFlow(ctx context.Context, flowID string) (*models.Flow, error) {
	query := `
		SELECT id, group_id, tenant_id, workflow_id, version, status, started_at, started_by, completed_at
		FROM flows
		WHERE id = $1
	`

	var flow models.Flow

	err := r.db.QueryRowContext(ctx, query, flowID).Scan(
		&flow.ID,
		&flow.GroupID,
		&flow.TenantID,
		&flow.WorkflowID,
		&flow.Version,
		&flow.Status,
		&flow.StartedAt,
		&flow.StartedBy,
		&flow.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	return &flow, nil
}

func (r *FlowRepository) FlowsByGroup(ctx context.Context, groupID string) ([]*models.Flow, error) {
	query := `
		SELECT id, group_id, tenant_id, workflow_id, version, status, started_at, started_by, completed_at
		FROM flows
		WHERE group_id = $1
		ORDER BY started_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var flows []*models.Flow

	for rows.Next() {
		var flow models.Flow

		err := rows.Scan(
			&flow.ID,
			&flow.GroupID,
			&flow.TenantID,
			&flow.WorkflowID,
			&flow.Version,
			&flow.Status,
			&flow.StartedAt,
			&flow.StartedBy,
			&flow.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, &flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

func (r *FlowRepository) UpdateFlowStatus(ctx context.Context, flowID string, status models.FlowStatus, completedAt *time.Time) error {
	query := `
		UPDATE flows
		SET status = $2, completed_at = COALESCE($3, completed_at)
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, flowID, status, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update flow status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewFlowError("update_status", flowID, persistence.ErrFlowNotFound)
	}

	return nil
}

// LoadLog returns the complete truth log of a flow in append order.
func (r *FlowRepository) LoadLog(ctx context.Context, flowID string) (*models.FlowLog, error) {
	exists, err := r.flowExists(ctx, r.db, flowID)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, persistence.NewFlowError("load_log", flowID, persistence.ErrFlowNotFound)
	}

	log := &models.FlowLog{}

	if err := r.loadActivations(ctx, flowID, log); err != nil {
		return nil, err
	}

	if err := r.loadExecutions(ctx, flowID, log); err != nil {
		return nil, err
	}

	if err := r.loadEvidence(ctx, flowID, log); err != nil {
		return nil, err
	}

	if err := r.loadDetours(ctx, flowID, log); err != nil {
		return nil, err
	}

	if err := r.loadFanOuts(ctx, flowID, log); err != nil {
		return nil, err
	}

	return log, nil
}

func (r *FlowRepository) AppendActivation(ctx context.Context, activation *models.NodeActivation) error {
	return insertActivationTx(ctx, r.db, activation)
}

func (r *FlowRepository) AppendExecution(ctx context.Context, execution *models.TaskExecution) error {
	query := `
		INSERT INTO flow_executions (id, flow_id, node_id, task_id, iteration, started_at, started_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.FlowID,
		execution.NodeID,
		execution.TaskID,
		execution.Iteration,
		execution.StartedAt,
		execution.StartedBy,
	)
	if err != nil {
		if isUniqueViolation(err, "idx_flow_executions_unique") {
			return persistence.NewFlowError("append_execution", execution.FlowID, persistence.ErrExecutionExists)
		}

		if isForeignKeyViolation(err) {
			return persistence.NewFlowError("append_execution", execution.FlowID, persistence.ErrFlowNotFound)
		}

		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// RecordOutcome applies one outcome transaction: outcome fields exactly
// once, activation appends with duplicates skipped, and the flow status flip
// when the outcome finished the flow.
func (r *FlowRepository) RecordOutcome(ctx context.Context, record persistence.OutcomeRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	exists, err := r.flowExists(ctx, tx, record.FlowID)
	if err != nil {
		return err
	}

	if !exists {
		err = persistence.NewFlowError("record_outcome", record.FlowID, persistence.ErrFlowNotFound)

		return err
	}

	// The IS NULL guard makes the write first-wins under concurrency.
	updateQuery := `
		UPDATE flow_executions
		SET outcome_name = $3, completed_at = $4, completed_by = $5
		WHERE flow_id = $1 AND id = $2 AND outcome_name IS NULL
	`

	result, err := tx.ExecContext(ctx, updateQuery,
		record.FlowID,
		record.ExecutionID,
		record.OutcomeName,
		record.CompletedAt,
		record.CompletedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		var recorded bool

		err = tx.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM flow_executions WHERE flow_id = $1 AND id = $2)",
			record.FlowID, record.ExecutionID,
		).Scan(&recorded)
		if err != nil {
			return fmt.Errorf("failed to check execution: %w", err)
		}

		if !recorded {
			err = persistence.NewFlowError("record_outcome", record.FlowID, persistence.ErrExecutionNotFound)
		} else {
			err = persistence.NewFlowError("record_outcome", record.FlowID, persistence.ErrOutcomeAlreadyRecorded)
		}

		return err
	}

	for _, activation := range record.Activations {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO flow_activations (id, flow_id, node_id, iteration, activated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (flow_id, node_id, iteration) DO NOTHING
		`,
			activation.ID,
			activation.FlowID,
			activation.NodeID,
			activation.Iteration,
			activation.ActivatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save activation: %w", err)
		}
	}

	if record.FlowCompleted {
		_, err = tx.ExecContext(ctx,
			"UPDATE flows SET status = $2, completed_at = $3 WHERE id = $1",
			record.FlowID, models.FlowStatusCompleted, record.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to complete flow: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *FlowRepository) AppendEvidence(ctx context.Context, evidence *models.EvidenceAttachment) error {
	dataJSON, err := json.Marshal(evidence.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence data: %w", err)
	}

	query := `
		INSERT INTO flow_evidence (id, flow_id, task_id, evidence_type, data, attached_at, attached_by, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		evidence.ID,
		evidence.FlowID,
		evidence.TaskID,
		evidence.Type,
		dataJSON,
		evidence.AttachedAt,
		evidence.AttachedBy,
		evidence.IdempotencyKey,
	)
	if err != nil {
		if isUniqueViolation(err, "idx_flow_evidence_idempotency") {
			return persistence.NewFlowError("append_evidence", evidence.FlowID, fmt.Errorf("idempotency key already recorded"))
		}

		if isForeignKeyViolation(err) {
			return persistence.NewFlowError("append_evidence", evidence.FlowID, persistence.ErrFlowNotFound)
		}

		return fmt.Errorf("failed to save evidence: %w", err)
	}

	return nil
}

func (r *FlowRepository) FindEvidenceByKey(ctx context.Context, flowID, taskID, idempotencyKey string) (*models.EvidenceAttachment, error) {
	query := `
		SELECT id, flow_id, task_id, evidence_type, data, attached_at, attached_by, idempotency_key
		FROM flow_evidence
		WHERE flow_id = $1 AND task_id = $2 AND idempotency_key = $3
	`

	var (
		evidence models.EvidenceAttachment
		dataJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, flowID, taskID, idempotencyKey).Scan(
		&evidence.ID,
		&evidence.FlowID,
		&evidence.TaskID,
		&evidence.Type,
		&dataJSON,
		&evidence.AttachedAt,
		&evidence.AttachedBy,
		&evidence.IdempotencyKey,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan evidence: %w", err)
	}

	if dataJSON != nil {
		if err := json.Unmarshal(dataJSON, &evidence.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence data: %w", err)
		}
	}

	return &evidence, nil
}

// AppendDetour records the detour and, when activation is non-nil, the
// resume-target activation in the same transaction.
func (r *FlowRepository) AppendDetour(ctx context.Context, detour *models.DetourRecord, activation *models.NodeActivation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	detourQuery := `
		INSERT INTO flow_detours (id, flow_id, checkpoint_node_id, checkpoint_execution_id, resume_target_node_id,
			detour_type, status, repeat_index, reason, opened_at, opened_by, resolved_at, resolved_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.ExecContext(ctx, detourQuery,
		detour.ID,
		detour.FlowID,
		detour.CheckpointNodeID,
		detour.CheckpointExecutionID,
		detour.ResumeTargetNodeID,
		detour.Type,
		detour.Status,
		detour.RepeatIndex,
		detour.Reason,
		detour.OpenedAt,
		detour.OpenedBy,
		detour.ResolvedAt,
		detour.ResolvedBy,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			err = persistence.NewFlowError("append_detour", detour.FlowID, persistence.ErrFlowNotFound)

			return err
		}

		return fmt.Errorf("failed to save detour: %w", err)
	}

	if activation != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO flow_activations (id, flow_id, node_id, iteration, activated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (flow_id, node_id, iteration) DO NOTHING
		`,
			activation.ID,
			activation.FlowID,
			activation.NodeID,
			activation.Iteration,
			activation.ActivatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save activation: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateDetour applies one detour transition and, when the transition lifted
// the last blocking work, the flow completion in the same transaction.
func (r *FlowRepository) UpdateDetour(ctx context.Context, update persistence.DetourUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	exists, err := r.flowExists(ctx, tx, update.FlowID)
	if err != nil {
		return err
	}

	if !exists {
		err = persistence.NewFlowError("update_detour", update.FlowID, persistence.ErrFlowNotFound)

		return err
	}

	updateQuery := `
		UPDATE flow_detours
		SET status = $3
		  , detour_type = $4
		  , resolved_at = COALESCE($5, resolved_at)
		  , resolved_by = COALESCE($6, resolved_by)
		WHERE flow_id = $1 AND id = $2
	`

	result, err := tx.ExecContext(ctx, updateQuery,
		update.FlowID,
		update.DetourID,
		update.Status,
		update.Type,
		update.ResolvedAt,
		update.ResolvedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to update detour: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		err = persistence.NewFlowError("update_detour", update.FlowID, persistence.ErrDetourNotFound)

		return err
	}

	if update.FlowCompleted {
		completedAt := time.Now().UTC()
		if update.ResolvedAt != nil {
			completedAt = *update.ResolvedAt
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE flows SET status = $2, completed_at = $3 WHERE id = $1",
			update.FlowID, models.FlowStatusCompleted, completedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to complete flow: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *FlowRepository) RecordFanOutLaunch(ctx context.Context, launch *models.FanOutLaunch) error {
	query := `
		INSERT INTO flow_fan_out_launches (id, flow_id, source_node_id, trigger_outcome, target_workflow_id,
			spawned_flow_id, status, error, launched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		launch.ID,
		launch.FlowID,
		launch.SourceNodeID,
		launch.TriggerOutcome,
		launch.TargetWorkflowID,
		launch.SpawnedFlowID,
		launch.Status,
		launch.Error,
		launch.LaunchedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return persistence.NewFlowError("record_fanout", launch.FlowID, persistence.ErrFlowNotFound)
		}

		return fmt.Errorf("failed to save fan-out launch: %w", err)
	}

	return nil
}

// GroupHasOutcome reports whether any flow in the group, running the given
// workflow, has recorded the outcome on the task.
func (r *FlowRepository) GroupHasOutcome(ctx context.Context, groupID, workflowID, nodeID, taskID, outcomeName string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM flow_executions e
			JOIN flows f ON f.id = e.flow_id
			WHERE f.group_id = $1
			  AND f.workflow_id = $2
			  AND e.node_id = $3
			  AND e.task_id = $4
			  AND e.outcome_name = $5
		)
	`

	var found bool

	err := r.db.QueryRowContext(ctx, query, groupID, workflowID, nodeID, taskID, outcomeName).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("failed to query group outcomes: %w", err)
	}

	return found, nil
}

// queryer abstracts *sql.DB and *sql.Tx for reads shared across both.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *FlowRepository) flowExists(ctx context.Context, q queryer, flowID string) (bool, error) {
	var exists bool

	err := q.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM flows WHERE id = $1)", flowID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check flow: %w", err)
	}

	return exists, nil
}

// execer abstracts *sql.DB and *sql.Tx for writes shared across both.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertActivationTx(ctx context.Context, e execer, activation *models.NodeActivation) error {
	query := `
		INSERT INTO flow_activations (id, flow_id, node_id, iteration, activated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := e.ExecContext(ctx, query,
		activation.ID,
		activation.FlowID,
		activation.NodeID,
		activation.Iteration,
		activation.ActivatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "idx_flow_activations_unique") {
			return persistence.NewFlowError("append_activation", activation.FlowID, persistence.ErrActivationExists)
		}

		if isForeignKeyViolation(err) {
			return persistence.NewFlowError("append_activation", activation.FlowID, persistence.ErrFlowNotFound)
		}

		return fmt.Errorf("failed to save activation: %w", err)
	}

	return nil
}

func (r *FlowRepository) loadActivations(ctx context.Context, flowID string, log *models.FlowLog) error {
	query := `
		SELECT id, flow_id, node_id, iteration, activated_at
		FROM flow_activations
		WHERE flow_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, flowID)
	if err != nil {
		return fmt.Errorf("failed to query activations: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	for rows.Next() {
		var activation models.NodeActivation

		err := rows.Scan(
			&activation.ID,
			&activation.FlowID,
			&activation.NodeID,
			&activation.Iteration,
			&activation.ActivatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan activation: %w", err)
		}

		log.Activations = append(log.Activations, &activation)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating activations: %w", err)
	}

	return nil
}

func (r *FlowRepository) loadExecutions(ctx context.Context, flowID string, log *models.FlowLog) error {
	query := `
		SELECT id, flow_id, node_id, task_id, iteration, started_at, started_by, outcome_name, completed_at, completed_by
		FROM flow_executions
		WHERE flow_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, flowID)
	if err != nil {
		return fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	for rows.Next() {
		var execution models.TaskExecution

		err := rows.Scan(
			&execution.ID,
			&execution.FlowID,
			&execution.NodeID,
			&execution.TaskID,
			&execution.Iteration,
			&execution.StartedAt,
			&execution.StartedBy,
			&execution.OutcomeName,
			&execution.CompletedAt,
			&execution.CompletedBy,
		)
		if err != nil {
			return fmt.Errorf("failed to scan execution: %w", err)
		}

		log.Executions = append(log.Executions, &execution)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating executions: %w", err)
	}

	return nil
}

func (r *FlowRepository) loadEvidence(ctx context.Context, flowID string, log *models.FlowLog) error {
	query := `
		SELECT id, flow_id, task_id, evidence_type, data, attached_at, attached_by, idempotency_key
		FROM flow_evidence
		WHERE flow_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, flowID)
	if err != nil {
		return fmt.Errorf("failed to query evidence: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	for rows.Next() {
		var (
			evidence models.EvidenceAttachment
			dataJSON []byte
		)

		err := rows.Scan(
			&evidence.ID,
			&evidence.FlowID,
			&evidence.TaskID,
			&evidence.Type,
			&dataJSON,
			&evidence.AttachedAt,
			&evidence.AttachedBy,
			&evidence.IdempotencyKey,
		)
		if err != nil {
			return fmt.Errorf("failed to scan evidence: %w", err)
		}

		if dataJSON != nil {
			if err := json.Unmarshal(dataJSON, &evidence.Data); err != nil {
				return fmt.Errorf("failed to unmarshal evidence data: %w", err)
			}
		}

		log.Evidence = append(log.Evidence, &evidence)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating evidence: %w", err)
	}

	return nil
}

func (r *FlowRepository) loadDetours(ctx context.Context, flowID string, log *models.FlowLog) error {
	query := `
		SELECT id, flow_id, checkpoint_node_id, checkpoint_execution_id, resume_target_node_id,
			detour_type, status, repeat_index, reason, opened_at, opened_by, resolved_at, resolved_by
		FROM flow_detours
		WHERE flow_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, flowID)
	if err != nil {
		return fmt.Errorf("failed to query detours: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	for rows.Next() {
		var detour models.DetourRecord

		err := rows.Scan(
			&detour.ID,
			&detour.FlowID,
			&detour.CheckpointNodeID,
			&detour.CheckpointExecutionID,
			&detour.ResumeTargetNodeID,
			&detour.Type,
			&detour.Status,
			&detour.RepeatIndex,
			&detour.Reason,
			&detour.OpenedAt,
			&detour.OpenedBy,
			&detour.ResolvedAt,
			&detour.ResolvedBy,
		)
		if err != nil {
			return fmt.Errorf("failed to scan detour: %w", err)
		}

		log.Detours = append(log.Detours, &detour)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating detours: %w", err)
	}

	return nil
}

func (r *FlowRepository) loadFanOuts(ctx context.Context, flowID string, log *models.FlowLog) error {
	query := `
		SELECT id, flow_id, source_node_id, trigger_outcome, target_workflow_id, spawned_flow_id, status, error, launched_at
		FROM flow_fan_out_launches
		WHERE flow_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, flowID)
	if err != nil {
		return fmt.Errorf("failed to query fan-out launches: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	for rows.Next() {
		var launch models.FanOutLaunch

		err := rows.Scan(
			&launch.ID,
			&launch.FlowID,
			&launch.SourceNodeID,
			&launch.TriggerOutcome,
			&launch.TargetWorkflowID,
			&launch.SpawnedFlowID,
			&launch.Status,
			&launch.Error,
			&launch.LaunchedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan fan-out launch: %w", err)
		}

		log.FanOuts = append(log.FanOuts, &launch)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating fan-out launches: %w", err)
	}

	return nil
}
