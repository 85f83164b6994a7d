package memory

import (
	"context"
	"sort"

	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence"
)

// DraftRepository stores draft buffers and the append-only draft history.
type DraftRepository struct {
	store *store
}

func (r *DraftRepository) GetBuffer(_ context.Context, workflowID, tenantID string) (*models.DraftBuffer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	buffer, ok := r.store.buffers[bufferKey{workflowID: workflowID, tenantID: tenantID}]
	if !ok {
		return nil, nil
	}

	return clone(buffer), nil
}

func (r *DraftRepository) SaveBuffer(_ context.Context, buffer *models.DraftBuffer) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := bufferKey{workflowID: buffer.WorkflowID, tenantID: buffer.TenantID}
	r.store.buffers[key] = clone(buffer)

	return nil
}

func (r *DraftRepository) DeleteBuffer(_ context.Context, workflowID, tenantID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := bufferKey{workflowID: workflowID, tenantID: tenantID}
	if _, ok := r.store.buffers[key]; !ok {
		return persistence.NewDraftError("delete_buffer", workflowID, tenantID, persistence.ErrBufferNotFound)
	}

	delete(r.store.buffers, key)

	return nil
}

func (r *DraftRepository) AppendEvent(_ context.Context, event *models.DraftEvent) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	seq := r.nextSeqLocked(event.WorkflowID)
	event.Seq = seq

	r.store.events[event.WorkflowID] = append(r.store.events[event.WorkflowID], clone(event))

	return seq, nil
}

func (r *DraftRepository) Events(_ context.Context, workflowID string) ([]*models.DraftEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stored := r.store.events[workflowID]

	events := make([]*models.DraftEvent, 0, len(stored))
	for _, event := range stored {
		events = append(events, clone(event))
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Seq < events[j].Seq
	})

	return events, nil
}

func (r *DraftRepository) EventBySeq(_ context.Context, workflowID string, seq int) (*models.DraftEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, event := range r.store.events[workflowID] {
		if event.Seq == seq {
			return clone(event), nil
		}
	}

	return nil, nil
}

func (r *DraftRepository) LatestAppliedEvent(_ context.Context, workflowID string) (*models.DraftEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var latest *models.DraftEvent

	for _, event := range r.store.events[workflowID] {
		if event.Type != models.DraftEventInitial && event.Type != models.DraftEventCommit {
			continue
		}

		if latest == nil || event.Seq > latest.Seq {
			latest = event
		}
	}

	if latest == nil {
		return nil, nil
	}

	return clone(latest), nil
}

func (r *DraftRepository) Commit(_ context.Context, commit persistence.CommitDraft) (*models.DraftEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	workflowID := commit.Workflow.ID

	event := clone(commit.Event)
	event.Seq = r.nextSeqLocked(workflowID)

	buffer := clone(commit.Buffer)
	buffer.BaseEventSeq = event.Seq

	r.store.events[workflowID] = append(r.store.events[workflowID], event)
	r.store.workflows[workflowID] = clone(commit.Workflow)
	r.store.buffers[bufferKey{workflowID: workflowID, tenantID: buffer.TenantID}] = buffer

	return clone(event), nil
}

// nextSeqLocked allocates the next contiguous sequence for a workflow's
// history. Callers hold the store write lock.
func (r *DraftRepository) nextSeqLocked(workflowID string) int {
	max := 0

	for _, event := range r.store.events[workflowID] {
		if event.Seq > max {
			max = event.Seq
		}
	}

	return max + 1
}
