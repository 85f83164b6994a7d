package memory

import (
	"context"
	"sort"
	"time"

	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence"
)

// WorkflowRepository stores workflow definition aggregates.
type WorkflowRepository struct {
	store *store
}

func (r *WorkflowRepository) List(_ context.Context, opts persistence.ListOptions) ([]*models.Workflow, int, error) {
	opts = opts.Normalize()

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var matched []*models.Workflow

	for _, workflow := range r.store.workflows {
		if workflow.DeletedAt != nil {
			continue
		}

		if opts.TenantID != "" && workflow.TenantID != opts.TenantID {
			continue
		}

		if opts.Status != "" && workflow.Status != opts.Status {
			continue
		}

		matched = append(matched, workflow)
	}

	sort.Slice(matched, func(i, j int) bool {
		less := false

		switch opts.SortBy {
		case "name":
			if matched[i].Name != matched[j].Name {
				less = matched[i].Name < matched[j].Name
			} else {
				less = matched[i].ID < matched[j].ID
			}
		case "updated_at":
			if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
				less = matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
			} else {
				less = matched[i].ID < matched[j].ID
			}
		default:
			if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				less = matched[i].CreatedAt.Before(matched[j].CreatedAt)
			} else {
				less = matched[i].ID < matched[j].ID
			}
		}

		if opts.SortDesc {
			return !less && (matched[i].ID != matched[j].ID)
		}

		return less
	})

	total := len(matched)

	start := (opts.Page - 1) * opts.PerPage
	if start >= total {
		return []*models.Workflow{}, total, nil
	}

	end := start + opts.PerPage
	if end > total {
		end = total
	}

	page := make([]*models.Workflow, 0, end-start)
	for _, workflow := range matched[start:end] {
		page = append(page, clone(workflow))
	}

	return page, total, nil
}

func (r *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	workflow, ok := r.store.workflows[workflowID]
	if !ok || workflow.DeletedAt != nil {
		return nil, nil
	}

	return clone(workflow), nil
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.workflows[workflow.ID] = clone(workflow)

	return nil
}

func (r *WorkflowRepository) UpdateStatus(_ context.Context, workflowID string, status models.WorkflowStatus, version *int, publishedAt *time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	workflow, ok := r.store.workflows[workflowID]
	if !ok {
		return persistence.NewWorkflowError("update_status", workflowID, persistence.ErrWorkflowNotFound)
	}

	workflow.Status = status

	if version != nil {
		workflow.Version = *version
	}

	if publishedAt != nil {
		at := *publishedAt
		workflow.PublishedAt = &at
	}

	return nil
}

func (r *WorkflowRepository) SaveLayout(_ context.Context, workflowID string, layout []models.NodePosition) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	workflow, ok := r.store.workflows[workflowID]
	if !ok {
		return persistence.NewWorkflowError("save_layout", workflowID, persistence.ErrWorkflowNotFound)
	}

	positions := make(map[string]models.NodePosition, len(layout))
	for _, position := range layout {
		positions[position.NodeID] = position
	}

	for _, node := range workflow.Nodes {
		if position, ok := positions[node.ID]; ok {
			node.PositionX = position.X
			node.PositionY = position.Y
		}
	}

	return nil
}

func (r *WorkflowRepository) Delete(_ context.Context, workflowID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	workflow, ok := r.store.workflows[workflowID]
	if !ok || workflow.DeletedAt != nil {
		return persistence.NewWorkflowError("delete", workflowID, persistence.ErrWorkflowNotFound)
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now

	return nil
}

// VersionRepository stores immutable published versions.
type VersionRepository struct {
	store *store
}

func (r *VersionRepository) Create(_ context.Context, version *models.WorkflowVersion) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	byVersion, ok := r.store.versions[version.WorkflowID]
	if !ok {
		byVersion = make(map[int]*models.WorkflowVersion)
		r.store.versions[version.WorkflowID] = byVersion
	}

	if _, exists := byVersion[version.Version]; exists {
		return persistence.NewWorkflowError("create_version", version.WorkflowID, persistence.ErrVersionExists)
	}

	byVersion[version.Version] = clone(version)

	return nil
}

func (r *VersionRepository) Get(_ context.Context, workflowID string, version int) (*models.WorkflowVersion, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stored, ok := r.store.versions[workflowID][version]
	if !ok {
		return nil, nil
	}

	return clone(stored), nil
}

func (r *VersionRepository) Latest(_ context.Context, workflowID string) (*models.WorkflowVersion, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var latest *models.WorkflowVersion

	for _, stored := range r.store.versions[workflowID] {
		if latest == nil || stored.Version > latest.Version {
			latest = stored
		}
	}

	if latest == nil {
		return nil, nil
	}

	return clone(latest), nil
}

func (r *VersionRepository) List(_ context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	versions := make([]*models.WorkflowVersion, 0, len(r.store.versions[workflowID]))
	for _, stored := range r.store.versions[workflowID] {
		versions = append(versions, clone(stored))
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version < versions[j].Version
	})

	return versions, nil
}
