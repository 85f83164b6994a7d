package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence"
)

const draftEventColumns = `
	id
	, workflow_id
	, tenant_id
	, seq
	, event_type
	, snapshot
	, restores_seq
	, label
	, created_by
	, created_at
`

// DraftRepository stores draft buffers and the append-only draft history.
// Sequence numbers are allocated inside the insert itself; the unique index
// on (workflow_id, seq) turns a concurrent allocation race into a retry.
type DraftRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDraftRepository creates a new draft repository.
func NewDraftRepository(db *sql.DB, logger *slog.Logger) *DraftRepository {
	return &DraftRepository{db: db, logger: logger}
}

func (r *DraftRepository) GetBuffer(ctx context.Context, workflowID, tenantID string) (*models.DraftBuffer, error) {
	query := `
		SELECT workflow_id, tenant_id, content, base_event_seq, updated_at
		FROM draft_buffers
		WHERE workflow_id = $1 AND tenant_id = $2
	`

	var (
		buffer      models.DraftBuffer
		contentJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, workflowID, tenantID).Scan(
		&buffer.WorkflowID,
		&buffer.TenantID,
		&contentJSON,
		&buffer.BaseEventSeq,
		&buffer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan draft buffer: %w", err)
	}

	if contentJSON != nil {
		if err := json.Unmarshal(contentJSON, &buffer.Content); err != nil {
			return nil, fmt.Errorf("failed to unmarshal draft content: %w", err)
		}
	}

	return &buffer, nil
}

func (r *DraftRepository) SaveBuffer(ctx context.Context, buffer *models.DraftBuffer) error {
	return upsertBufferTx(ctx, r.db, buffer)
}

func (r *DraftRepository) DeleteBuffer(ctx context.Context, workflowID, tenantID string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM draft_buffers WHERE workflow_id = $1 AND tenant_id = $2",
		workflowID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete draft buffer: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewDraftError("delete_buffer", workflowID, tenantID, persistence.ErrBufferNotFound)
	}

	return nil
}

// AppendEvent inserts the event with seq = max(seq)+1 for the workflow. An
// advisory lock on the workflow serializes allocation across processes; the
// unique index on (workflow_id, seq) remains the backstop.
func (r *DraftRepository) AppendEvent(ctx context.Context, event *models.DraftEvent) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	seq, err := insertEventTx(ctx, tx, event)
	if err != nil {
		if isUniqueViolation(err, "idx_draft_events_seq") {
			return 0, persistence.NewDraftError("append_event", event.WorkflowID, event.TenantID, persistence.ErrSeqConflict)
		}

		return 0, fmt.Errorf("failed to save draft event: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	event.Seq = seq

	return seq, nil
}

// insertEventTx takes the per-workflow advisory lock, held until the
// transaction ends, then allocates the next sequence and inserts the event.
func insertEventTx(ctx context.Context, tx *sql.Tx, event *models.DraftEvent) (int, error) {
	snapshotJSON, err := json.Marshal(event.Snapshot)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal draft snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1)::bigint)", event.WorkflowID)
	if err != nil {
		return 0, fmt.Errorf("failed to lock draft history: %w", err)
	}

	query := `
		INSERT INTO draft_events (id, workflow_id, tenant_id, seq, event_type, snapshot, restores_seq, label, created_by, created_at)
		SELECT $1, $2, $3, COALESCE(MAX(seq), 0) + 1, $4, $5, $6, $7, $8, $9
		FROM draft_events
		WHERE workflow_id = $2
		RETURNING seq
	`

	var seq int

	err = tx.QueryRowContext(ctx, query,
		event.ID,
		event.WorkflowID,
		event.TenantID,
		event.Type,
		snapshotJSON,
		event.RestoresSeq,
		event.Label,
		event.CreatedBy,
		event.CreatedAt,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}

	return seq, nil
}

func (r *DraftRepository) Events(ctx context.Context, workflowID string) ([]*models.DraftEvent, error) {
	query := `
		SELECT ` + draftEventColumns + `
		FROM draft_events
		WHERE workflow_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query draft events: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var events []*models.DraftEvent

	for rows.Next() {
		event, err := scanDraftEvent(rows)
		if err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating draft events: %w", err)
	}

	return events, nil
}

func (r *DraftRepository) EventBySeq(ctx context.Context, workflowID string, seq int) (*models.DraftEvent, error) {
	query := `
		SELECT ` + draftEventColumns + `
		FROM draft_events
		WHERE workflow_id = $1 AND seq = $2
	`

	return r.queryEvent(ctx, query, workflowID, seq)
}

func (r *DraftRepository) LatestAppliedEvent(ctx context.Context, workflowID string) (*models.DraftEvent, error) {
	query := `
		SELECT ` + draftEventColumns + `
		FROM draft_events
		WHERE workflow_id = $1 AND event_type IN ('initial', 'commit')
		ORDER BY seq DESC
		LIMIT 1
	`

	return r.queryEvent(ctx, query, workflowID)
}

// Commit lands the commit event, the hydrated workflow graph and the
// realigned buffer in one transaction, serialized per workflow by the same
// advisory lock AppendEvent takes.
func (r *DraftRepository) Commit(ctx context.Context, commit persistence.CommitDraft) (*models.DraftEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	event := commit.Event

	event.Seq, err = insertEventTx(ctx, tx, event)
	if err != nil {
		if isUniqueViolation(err, "idx_draft_events_seq") {
			err = persistence.NewDraftError("commit", commit.Workflow.ID, commit.Buffer.TenantID, persistence.ErrSeqConflict)

			return nil, err
		}

		return nil, fmt.Errorf("failed to save draft event: %w", err)
	}

	err = upsertWorkflowTx(ctx, tx, commit.Workflow)
	if err != nil {
		return nil, err
	}

	commit.Buffer.BaseEventSeq = event.Seq

	err = upsertBufferTx(ctx, tx, commit.Buffer)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return event, nil
}

func (r *DraftRepository) queryEvent(ctx context.Context, query string, args ...any) (*models.DraftEvent, error) {
	event, err := scanDraftEvent(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return event, nil
}

func upsertBufferTx(ctx context.Context, e execer, buffer *models.DraftBuffer) error {
	contentJSON, err := json.Marshal(buffer.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal draft content: %w", err)
	}

	query := `
		INSERT INTO draft_buffers (workflow_id, tenant_id, content, base_event_seq, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workflow_id, tenant_id) DO UPDATE SET
			content = EXCLUDED.content,
			base_event_seq = EXCLUDED.base_event_seq,
			updated_at = EXCLUDED.updated_at
	`

	_, err = e.ExecContext(ctx, query,
		buffer.WorkflowID,
		buffer.TenantID,
		contentJSON,
		buffer.BaseEventSeq,
		buffer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save draft buffer: %w", err)
	}

	return nil
}

func scanDraftEvent(scanner interface{ Scan(dest ...any) error }) (*models.DraftEvent, error) {
	var (
		event        models.DraftEvent
		snapshotJSON []byte
	)

	err := scanner.Scan(
		&event.ID,
		&event.WorkflowID,
		&event.TenantID,
		&event.Seq,
		&event.Type,
		&snapshotJSON,
		&event.RestoresSeq,
		&event.Label,
		&event.CreatedBy,
		&event.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan draft event: %w", err)
	}

	if snapshotJSON != nil {
		if err := json.Unmarshal(snapshotJSON, &event.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal draft snapshot: %w", err)
		}
	}

	return &event, nil
}
