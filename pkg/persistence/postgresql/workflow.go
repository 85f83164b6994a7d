package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence"
)

// WorkflowRepository handles workflow definition database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
		id
	  , tenant_id
	  , name
	  , description
	  , status
	  , version
	  , non_terminating
	  , metadata
	  , created_at
	  , updated_at
	  , published_at
	  , deleted_at
`

func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListOptions) ([]*models.Workflow, int, error) {
	opts = opts.Normalize()

	where := "deleted_at IS NULL"
	args := []any{}

	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		where += " AND tenant_id = $" + strconv.Itoa(len(args))
	}

	if opts.Status != "" {
		args = append(args, opts.Status)
		where += " AND status = $" + strconv.Itoa(len(args))
	}

	var total int

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows WHERE "+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count workflows: %w", err)
	}

	// SortBy passed through Normalize's allowlist, never caller input.
	direction := "ASC"
	if opts.SortDesc {
		direction = "DESC"
	}

	query := "SELECT " + workflowColumns + " FROM workflows WHERE " + where +
		" ORDER BY " + opts.SortBy + " " + direction + ", id " + direction +
		" LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)

	args = append(args, opts.PerPage, (opts.Page-1)*opts.PerPage)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflowBase(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		if err := r.loadWorkflowGraph(ctx, workflow); err != nil {
			return nil, 0, fmt.Errorf("failed to load workflow graph: %w", err)
		}
	}

	return workflows, total, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, workflowID string) (*models.Workflow, error) {
	query := "SELECT " + workflowColumns + " FROM workflows WHERE id = $1 AND deleted_at IS NULL"

	row := r.db.QueryRowContext(ctx, query, workflowID)

	workflow, err := scanWorkflowBase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if err := r.loadWorkflowGraph(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to load workflow graph: %w", err)
	}

	return workflow, nil
}

// Save upserts the workflow base row and replaces its entire graph in one
// transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = upsertWorkflowTx(ctx, tx, workflow)
	if err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) UpdateStatus(ctx context.Context, workflowID string, status models.WorkflowStatus, version *int, publishedAt *time.Time) error {
	query := `
		UPDATE workflows
		SET status = $2
		  , version = COALESCE($3, version)
		  , published_at = COALESCE($4, published_at)
		  , updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, workflowID, status, version, publishedAt)
	if err != nil {
		return fmt.Errorf("failed to update workflow status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("update_status", workflowID, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// SaveLayout autosaves canvas positions. Positions for unknown nodes are
// ignored.
func (r *WorkflowRepository) SaveLayout(ctx context.Context, workflowID string, layout []models.NodePosition) error {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM workflows WHERE id = $1 AND deleted_at IS NULL)", workflowID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check workflow: %w", err)
	}

	if !exists {
		return persistence.NewWorkflowError("save_layout", workflowID, persistence.ErrWorkflowNotFound)
	}

	for _, position := range layout {
		_, err := r.db.ExecContext(ctx,
			"UPDATE workflow_nodes SET position_x = $3, position_y = $4 WHERE workflow_id = $1 AND id = $2",
			workflowID, position.NodeID, position.X, position.Y,
		)
		if err != nil {
			return fmt.Errorf("failed to save node position: %w", err)
		}
	}

	return nil
}

// Delete soft deletes a workflow by setting deleted_at.
func (r *WorkflowRepository) Delete(ctx context.Context, workflowID string) error {
	query := `UPDATE workflows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("delete", workflowID, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) loadWorkflowGraph(ctx context.Context, workflow *models.Workflow) error {
	nodesQuery := `
		SELECT id, name, is_entry, completion_rule, specific_tasks, tasks, position_x, position_y
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY ordinal
	`

	rows, err := r.db.QueryContext(ctx, nodesQuery, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow nodes: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var nodes []*models.Node

	for rows.Next() {
		var (
			node                    models.Node
			specificJSON, tasksJSON []byte
		)

		err := rows.Scan(
			&node.ID,
			&node.Name,
			&node.IsEntry,
			&node.CompletionRule,
			&specificJSON,
			&tasksJSON,
			&node.PositionX,
			&node.PositionY,
		)
		if err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}

		if specificJSON != nil {
			if err := json.Unmarshal(specificJSON, &node.SpecificTasks); err != nil {
				return fmt.Errorf("failed to unmarshal specific tasks: %w", err)
			}
		}

		if err := json.Unmarshal(tasksJSON, &node.Tasks); err != nil {
			return fmt.Errorf("failed to unmarshal tasks: %w", err)
		}

		nodes = append(nodes, &node)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating nodes: %w", err)
	}

	workflow.Nodes = nodes

	gatesQuery := `
		SELECT id, source_node_id, outcome_name, target_node_id
		FROM workflow_gates
		WHERE workflow_id = $1
		ORDER BY ordinal
	`

	rows, err = r.db.QueryContext(ctx, gatesQuery, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow gates: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var gates []*models.Gate

	for rows.Next() {
		var gate models.Gate

		err := rows.Scan(&gate.ID, &gate.SourceNodeID, &gate.OutcomeName, &gate.TargetNodeID)
		if err != nil {
			return fmt.Errorf("failed to scan gate: %w", err)
		}

		gates = append(gates, &gate)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating gates: %w", err)
	}

	workflow.Gates = gates

	fanOutsQuery := `
		SELECT id, source_node_id, trigger_outcome, target_workflow_id
		FROM workflow_fan_outs
		WHERE workflow_id = $1
		ORDER BY ordinal
	`

	rows, err = r.db.QueryContext(ctx, fanOutsQuery, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow fan-outs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var fanOuts []*models.FanOutRule

	for rows.Next() {
		var rule models.FanOutRule

		err := rows.Scan(&rule.ID, &rule.SourceNodeID, &rule.TriggerOutcome, &rule.TargetWorkflowID)
		if err != nil {
			return fmt.Errorf("failed to scan fan-out rule: %w", err)
		}

		fanOuts = append(fanOuts, &rule)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating fan-out rules: %w", err)
	}

	workflow.FanOuts = fanOuts

	return nil
}

// upsertWorkflowTx writes the base row and replaces the node, gate and
// fan-out rows. The draft commit transaction reuses it so a committed buffer
// hydrates through the same path as a direct save.
func upsertWorkflowTx(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	metadataJSON, err := json.Marshal(workflow.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	workflowQuery := `
		INSERT INTO workflows (id, tenant_id, name, description, status, version,
			non_terminating, metadata, created_at, updated_at, published_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			non_terminating = EXCLUDED.non_terminating,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = tx.ExecContext(ctx, workflowQuery,
		workflow.ID,
		workflow.TenantID,
		workflow.Name,
		workflow.Description,
		workflow.Status,
		workflow.Version,
		workflow.NonTerminating,
		metadataJSON,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.PublishedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow base: %w", err)
	}

	for _, table := range []string{"workflow_fan_outs", "workflow_gates", "workflow_nodes"} {
		_, err = tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE workflow_id = $1", workflow.ID)
		if err != nil {
			return fmt.Errorf("failed to delete existing %s: %w", table, err)
		}
	}

	for i, node := range workflow.Nodes {
		var specificJSON []byte

		if node.SpecificTasks != nil {
			specificJSON, err = json.Marshal(node.SpecificTasks)
			if err != nil {
				return fmt.Errorf("failed to marshal specific tasks: %w", err)
			}
		}

		tasksJSON, err := json.Marshal(node.Tasks)
		if err != nil {
			return fmt.Errorf("failed to marshal tasks: %w", err)
		}

		nodeQuery := `
			INSERT INTO workflow_nodes (workflow_id, id, name, is_entry, completion_rule,
				specific_tasks, tasks, position_x, position_y, ordinal)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`

		_, err = tx.ExecContext(ctx, nodeQuery,
			workflow.ID,
			node.ID,
			node.Name,
			node.IsEntry,
			node.CompletionRule,
			specificJSON,
			tasksJSON,
			node.PositionX,
			node.PositionY,
			i,
		)
		if err != nil {
			return fmt.Errorf("failed to save node: %w", err)
		}
	}

	for i, gate := range workflow.Gates {
		gateQuery := `
			INSERT INTO workflow_gates (workflow_id, id, source_node_id, outcome_name, target_node_id, ordinal)
			VALUES ($1, $2, $3, $4, $5, $6)
		`

		_, err = tx.ExecContext(ctx, gateQuery,
			workflow.ID,
			gate.ID,
			gate.SourceNodeID,
			gate.OutcomeName,
			gate.TargetNodeID,
			i,
		)
		if err != nil {
			return fmt.Errorf("failed to save gate: %w", err)
		}
	}

	for i, rule := range workflow.FanOuts {
		fanOutQuery := `
			INSERT INTO workflow_fan_outs (workflow_id, id, source_node_id, trigger_outcome, target_workflow_id, ordinal)
			VALUES ($1, $2, $3, $4, $5, $6)
		`

		_, err = tx.ExecContext(ctx, fanOutQuery,
			workflow.ID,
			rule.ID,
			rule.SourceNodeID,
			rule.TriggerOutcome,
			rule.TargetWorkflowID,
			i,
		)
		if err != nil {
			return fmt.Errorf("failed to save fan-out rule: %w", err)
		}
	}

	return nil
}

func scanWorkflowBase(scanner interface {
	Scan(dest ...any) error
}) (*models.Workflow, error) {
	var (
		workflow     models.Workflow
		metadataJSON []byte
	)

	err := scanner.Scan(
		&workflow.ID,
		&workflow.TenantID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Status,
		&workflow.Version,
		&workflow.NonTerminating,
		&metadataJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.PublishedAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if metadataJSON != nil {
		err := json.Unmarshal(metadataJSON, &workflow.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &workflow, nil
}
