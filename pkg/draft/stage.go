// Package draft implements the staging area for workflow editing: one
// buffer per (workflow, tenant) holding the semantic graph under edit, an
// append-only history of commits and restores, and the atomic hydration of
// buffer content into relational truth. Relational rows are read-only from
// the author's perspective until an explicit commit.
package draft

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowvia/flowvia/pkg/eventbus"
	"github.com/flowvia/flowvia/pkg/events"
	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence"
)

// Stage coordinates draft buffers and their history. Every operation takes
// the (workflowID, tenantID) pair and begins with an ownership check;
// a mismatch fails with ErrTenantMismatch, never a silent rescope.
type Stage struct {
	persistence persistence.Persistence
	bus         eventbus.EventPublisher
	logger      *slog.Logger
	locks       *bufferLocks

	// Now returns the current time. Replaceable in tests.
	Now func() time.Time
}

// NewStage creates a draft stage on top of the given persistence. The bus is
// optional; without one lifecycle events are simply not published.
func NewStage(p persistence.Persistence, bus eventbus.EventPublisher, logger *slog.Logger) *Stage {
	return &Stage{
		persistence: p,
		bus:         bus,
		logger:      logger.With("module", "draft"),
		locks:       newBufferLocks(),
		Now:         time.Now,
	}
}

// EnsureBuffer returns the draft buffer for the workflow, seeding it from
// current relational state when absent. Seeding appends an initial history
// event, so restore always has a floor to return to.
func (s *Stage) EnsureBuffer(ctx context.Context, workflowID, tenantID, actor string) (*models.DraftBuffer, error) {
	release := s.locks.acquire(workflowID, tenantID)
	defer release()

	workflow, err := s.loadOwned(ctx, workflowID, tenantID)
	if err != nil {
		return nil, err
	}

	existing, err := s.persistence.Drafts().GetBuffer(ctx, workflowID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft buffer: %w", err)
	}

	if existing != nil {
		return existing, nil
	}

	now := s.Now().UTC()
	content := models.ContentFromWorkflow(workflow)

	event := &models.DraftEvent{
		ID:         newID(),
		WorkflowID: workflowID,
		TenantID:   tenantID,
		Type:       models.DraftEventInitial,
		Snapshot: &models.DraftSnapshot{
			Content: content.Clone(),
			Layout:  models.LayoutFromWorkflow(workflow),
		},
		CreatedBy: actor,
		CreatedAt: now,
	}

	seq, err := s.persistence.Drafts().AppendEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to append initial draft event: %w", err)
	}

	buffer := &models.DraftBuffer{
		WorkflowID:   workflowID,
		TenantID:     tenantID,
		Content:      content,
		BaseEventSeq: seq,
		UpdatedAt:    now,
	}

	if err := s.persistence.Drafts().SaveBuffer(ctx, buffer); err != nil {
		return nil, fmt.Errorf("failed to save draft buffer: %w", err)
	}

	s.logger.InfoContext(ctx, "Draft buffer seeded",
		"workflow_id", workflowID,
		"tenant_id", tenantID,
		"seq", seq)

	return buffer, nil
}

// GetBuffer returns the draft buffer, or ErrBufferNotFound.
func (s *Stage) GetBuffer(ctx context.Context, workflowID, tenantID string) (*models.DraftBuffer, error) {
	if _, err := s.loadOwned(ctx, workflowID, tenantID); err != nil {
		return nil, err
	}

	buffer, err := s.persistence.Drafts().GetBuffer(ctx, workflowID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft buffer: %w", err)
	}

	if buffer == nil {
		return nil, ErrBufferNotFound
	}

	return buffer, nil
}

// History returns the workflow's draft events in sequence order.
func (s *Stage) History(ctx context.Context, workflowID, tenantID string) ([]*models.DraftEvent, error) {
	if _, err := s.loadOwned(ctx, workflowID, tenantID); err != nil {
		return nil, err
	}

	history, err := s.persistence.Drafts().Events(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft history: %w", err)
	}

	return history, nil
}

// Commit hydrates the buffer into relational truth: the commit event, the
// graph replacement and the buffer realignment land in one transaction, or
// none of them do. Canvas positions survive for nodes that existed before;
// new nodes start at the origin. A commit against a validated workflow
// demotes it to draft, since the validated stamp no longer covers the
// changed content.
func (s *Stage) Commit(ctx context.Context, workflowID, tenantID, label, actor string) (*models.DraftEvent, error) {
	release := s.locks.acquire(workflowID, tenantID)
	defer release()

	workflow, err := s.loadOwned(ctx, workflowID, tenantID)
	if err != nil {
		return nil, err
	}

	if workflow.IsPublished() {
		return nil, ErrCannotModifyPublished
	}

	buffer, err := s.persistence.Drafts().GetBuffer(ctx, workflowID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft buffer: %w", err)
	}

	if buffer == nil {
		return nil, ErrBufferNotFound
	}

	if err := checkContent(buffer.Content); err != nil {
		return nil, err
	}

	now := s.Now().UTC()

	layout := make(map[string]models.NodePosition, len(workflow.Nodes))
	for _, node := range workflow.Nodes {
		layout[node.ID] = models.NodePosition{NodeID: node.ID, X: node.PositionX, Y: node.PositionY}
	}

	content := buffer.Content.Clone()

	hydrated := *workflow
	hydrated.Name = content.Name
	hydrated.Description = content.Description
	hydrated.NonTerminating = content.NonTerminating
	hydrated.Nodes = content.MaterializeNodes(layout)
	hydrated.Gates = content.Gates
	hydrated.FanOuts = content.FanOuts
	hydrated.UpdatedAt = now

	if hydrated.Status == models.WorkflowStatusValidated {
		hydrated.Status = models.WorkflowStatusDraft
	}

	event := &models.DraftEvent{
		ID:         newID(),
		WorkflowID: workflowID,
		TenantID:   tenantID,
		Type:       models.DraftEventCommit,
		Snapshot: &models.DraftSnapshot{
			Content: buffer.Content.Clone(),
			Layout:  models.LayoutFromWorkflow(&hydrated),
		},
		Label:     label,
		CreatedBy: actor,
		CreatedAt: now,
	}

	realigned := &models.DraftBuffer{
		WorkflowID: workflowID,
		TenantID:   tenantID,
		Content:    buffer.Content,
		UpdatedAt:  now,
	}

	committed, err := s.persistence.Drafts().Commit(ctx, persistence.CommitDraft{
		Workflow: &hydrated,
		Event:    event,
		Buffer:   realigned,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit draft: %w", err)
	}

	notification := events.DraftCommitted{
		BaseEvent:   events.NewBaseEvent(events.DraftCommittedEvent, workflowID),
		Seq:         committed.Seq,
		Label:       label,
		CommittedBy: actor,
	}
	notification.TenantID = tenantID
	s.publish(ctx, workflowID, notification)

	s.logger.InfoContext(ctx, "Draft committed",
		"workflow_id", workflowID,
		"tenant_id", tenantID,
		"seq", committed.Seq)

	return committed, nil
}

// Restore rewrites the buffer content from an earlier history event and
// appends a restore event referencing it. Relational truth is untouched; a
// subsequent commit makes the restore durable.
func (s *Stage) Restore(ctx context.Context, workflowID, tenantID string, targetSeq int, actor string) (*models.DraftBuffer, error) {
	release := s.locks.acquire(workflowID, tenantID)
	defer release()

	if _, err := s.loadOwned(ctx, workflowID, tenantID); err != nil {
		return nil, err
	}

	buffer, err := s.persistence.Drafts().GetBuffer(ctx, workflowID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft buffer: %w", err)
	}

	if buffer == nil {
		return nil, ErrBufferNotFound
	}

	target, err := s.persistence.Drafts().EventBySeq(ctx, workflowID, targetSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft event: %w", err)
	}

	if target == nil {
		return nil, ErrEventNotFound
	}

	if target.Snapshot == nil || target.Snapshot.Content == nil {
		return nil, fmt.Errorf("draft event %d carries no snapshot", targetSeq)
	}

	now := s.Now().UTC()

	event := &models.DraftEvent{
		ID:          newID(),
		WorkflowID:  workflowID,
		TenantID:    tenantID,
		Type:        models.DraftEventRestore,
		Snapshot:    target.Snapshot.Clone(),
		RestoresSeq: &targetSeq,
		CreatedBy:   actor,
		CreatedAt:   now,
	}

	seq, err := s.persistence.Drafts().AppendEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to append restore event: %w", err)
	}

	buffer.Content = target.Snapshot.Content.Clone()
	buffer.BaseEventSeq = seq
	buffer.UpdatedAt = now

	if err := s.persistence.Drafts().SaveBuffer(ctx, buffer); err != nil {
		return nil, fmt.Errorf("failed to save draft buffer: %w", err)
	}

	notification := events.DraftRestored{
		BaseEvent:   events.NewBaseEvent(events.DraftRestoredEvent, workflowID),
		Seq:         seq,
		RestoresSeq: targetSeq,
		RestoredBy:  actor,
	}
	notification.TenantID = tenantID
	s.publish(ctx, workflowID, notification)

	s.logger.InfoContext(ctx, "Draft restored",
		"workflow_id", workflowID,
		"tenant_id", tenantID,
		"seq", seq,
		"restores_seq", targetSeq)

	return buffer, nil
}

// Discard deletes the buffer row. Draft history and relational rows,
// including autosaved canvas positions, survive.
func (s *Stage) Discard(ctx context.Context, workflowID, tenantID, actor string) error {
	release := s.locks.acquire(workflowID, tenantID)
	defer release()

	if _, err := s.loadOwned(ctx, workflowID, tenantID); err != nil {
		return err
	}

	if err := s.persistence.Drafts().DeleteBuffer(ctx, workflowID, tenantID); err != nil {
		return fmt.Errorf("failed to discard draft buffer: %w", err)
	}

	notification := events.DraftDiscarded{
		BaseEvent:   events.NewBaseEvent(events.DraftDiscardedEvent, workflowID),
		DiscardedBy: actor,
	}
	notification.TenantID = tenantID
	s.publish(ctx, workflowID, notification)

	s.logger.InfoContext(ctx, "Draft discarded", "workflow_id", workflowID, "tenant_id", tenantID)

	return nil
}

// RevertLayout reapplies the canvas positions captured by the latest applied
// history event to relational rows. Positions for nodes that no longer exist
// are ignored; buffer content is untouched.
func (s *Stage) RevertLayout(ctx context.Context, workflowID, tenantID string) error {
	release := s.locks.acquire(workflowID, tenantID)
	defer release()

	if _, err := s.loadOwned(ctx, workflowID, tenantID); err != nil {
		return err
	}

	latest, err := s.persistence.Drafts().LatestAppliedEvent(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to load draft history: %w", err)
	}

	if latest == nil || latest.Snapshot == nil {
		return ErrEventNotFound
	}

	if err := s.persistence.Workflows().SaveLayout(ctx, workflowID, latest.Snapshot.Layout); err != nil {
		return fmt.Errorf("failed to revert layout: %w", err)
	}

	s.logger.InfoContext(ctx, "Layout reverted",
		"workflow_id", workflowID,
		"tenant_id", tenantID,
		"seq", latest.Seq)

	return nil
}

// loadOwned fetches the workflow and enforces tenant ownership.
func (s *Stage) loadOwned(ctx context.Context, workflowID, tenantID string) (*models.Workflow, error) {
	workflow, err := s.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	if workflow.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}

	return workflow, nil
}

func (s *Stage) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.bus == nil {
		return
	}

	if err := s.bus.Publish(ctx, key, event); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
