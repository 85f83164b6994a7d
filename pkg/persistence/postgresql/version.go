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

// VersionRepository handles published workflow version rows. Rows are
// written once at publish time and never updated.
type VersionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewVersionRepository creates a new version repository.
func NewVersionRepository(db *sql.DB, logger *slog.Logger) *VersionRepository {
	return &VersionRepository{db: db, logger: logger}
}

func (r *VersionRepository) Create(ctx context.Context, version *models.WorkflowVersion) error {
	snapshotJSON, err := json.Marshal(version.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO workflow_versions (id, workflow_id, version, snapshot, published_at, published_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.db.ExecContext(ctx, query,
		version.ID,
		version.WorkflowID,
		version.Version,
		snapshotJSON,
		version.PublishedAt,
		version.PublishedBy,
	)
	if err != nil {
		if isUniqueViolation(err, "idx_workflow_versions_unique") {
			return persistence.NewWorkflowError("create_version", version.WorkflowID, persistence.ErrVersionExists)
		}

		if isForeignKeyViolation(err) {
			return persistence.NewWorkflowError("create_version", version.WorkflowID, persistence.ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to save workflow version: %w", err)
	}

	return nil
}

func (r *VersionRepository) Get(ctx context.Context, workflowID string, version int) (*models.WorkflowVersion, error) {
	query := `
		SELECT id, workflow_id, version, snapshot, published_at, published_by
		FROM workflow_versions
		WHERE workflow_id = $1 AND version = $2
	`

	return r.scanVersion(r.db.QueryRowContext(ctx, query, workflowID, version))
}

func (r *VersionRepository) Latest(ctx context.Context, workflowID string) (*models.WorkflowVersion, error) {
	query := `
		SELECT id, workflow_id, version, snapshot, published_at, published_by
		FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version DESC
		LIMIT 1
	`

	return r.scanVersion(r.db.QueryRowContext(ctx, query, workflowID))
}

func (r *VersionRepository) List(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	query := `
		SELECT id, workflow_id, version, snapshot, published_at, published_by
		FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow versions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	versions := make([]*models.WorkflowVersion, 0)

	for rows.Next() {
		var (
			version      models.WorkflowVersion
			snapshotJSON []byte
		)

		err := rows.Scan(
			&version.ID,
			&version.WorkflowID,
			&version.Version,
			&snapshotJSON,
			&version.PublishedAt,
			&version.PublishedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow version: %w", err)
		}

		if err := json.Unmarshal(snapshotJSON, &version.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}

		versions = append(versions, &version)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow versions: %w", err)
	}

	return versions, nil
}

func (r *VersionRepository) scanVersion(row *sql.Row) (*models.WorkflowVersion, error) {
	var (
		version      models.WorkflowVersion
		snapshotJSON []byte
	)

	err := row.Scan(
		&version.ID,
		&version.WorkflowID,
		&version.Version,
		&snapshotJSON,
		&version.PublishedAt,
		&version.PublishedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workflow version: %w", err)
	}

	if err := json.Unmarshal(snapshotJSON, &version.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &version, nil
}
