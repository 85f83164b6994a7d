package draft

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence"
	"github.com/flowvia/flowvia/pkg/persistence/memory"
)

func newTestStage(t *testing.T) (*Stage, persistence.Persistence) {
	t.Helper()

	p := memory.NewPersistence()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewStage(p, nil, logger), p
}

func stringPointer(value string) *string {
	return &value
}

// seedWorkflow saves a two-node claims workflow with canvas positions.
func seedWorkflow(t *testing.T, p persistence.Persistence, id, tenantID string) *models.Workflow {
	t.Helper()

	workflow := &models.Workflow{
		ID:       id,
		TenantID: tenantID,
		Name:     "Claims Handling",
		Status:   models.WorkflowStatusDraft,
		Nodes: []*models.Node{
			{
				ID:             "triage",
				Name:           "Triage",
				IsEntry:        true,
				CompletionRule: models.CompletionRuleAllTasks,
				PositionX:      100,
				PositionY:      200,
				Tasks: []*models.Task{
					{
						ID:   "classify",
						Name: "Classify Claim",
						Outcomes: []*models.Outcome{
							{ID: "o1", Name: "VALID"},
							{ID: "o2", Name: "INVALID"},
						},
					},
				},
			},
			{
				ID:             "payout",
				Name:           "Payout",
				CompletionRule: models.CompletionRuleAllTasks,
				PositionX:      300,
				PositionY:      400,
				Tasks: []*models.Task{
					{
						ID:       "transfer",
						Name:     "Transfer Funds",
						Outcomes: []*models.Outcome{{ID: "o3", Name: "SENT"}},
					},
				},
			},
		},
		Gates: []*models.Gate{
			{ID: "g1", SourceNodeID: "triage", OutcomeName: "VALID", TargetNodeID: stringPointer("payout")},
		},
	}
	require.NoError(t, p.Workflows().Save(t.Context(), workflow))

	return workflow
}

func TestStage_EnsureBuffer(t *testing.T) {
	s, p := newTestStage(t)
	seedWorkflow(t, p, "wf-claims", "tenant-1")

	buffer, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-1", "alice")
	require.NoError(t, err)

	assert.Equal(t, "wf-claims", buffer.WorkflowID)
	assert.Equal(t, "tenant-1", buffer.TenantID)
	assert.Equal(t, 1, buffer.BaseEventSeq)
	assert.Equal(t, "Claims Handling", buffer.Content.Name)
	assert.Len(t, buffer.Content.Nodes, 2)
	assert.Len(t, buffer.Content.Gates, 1)

	history, err := s.History(t.Context(), "wf-claims", "tenant-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.DraftEventInitial, history[0].Type)
	assert.Equal(t, 1, history[0].Seq)
	assert.Equal(t, "alice", history[0].CreatedBy)

	// The initial event captures the canvas layout.
	require.Len(t, history[0].Snapshot.Layout, 2)
	assert.Equal(t, models.NodePosition{NodeID: "triage", X: 100, Y: 200}, history[0].Snapshot.Layout[0])

	// A second call returns the existing buffer, edits included.
	_, err = s.SetWorkflowMeta(t.Context(), "wf-claims", "tenant-1", Meta{Name: "Edited Claims"})
	require.NoError(t, err)

	again, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Edited Claims", again.Content.Name)

	history, err = s.History(t.Context(), "wf-claims", "tenant-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStage_Ownership(t *testing.T) {
	s, p := newTestStage(t)
	seedWorkflow(t, p, "wf-claims", "tenant-1")

	t.Run("unknown workflow", func(t *testing.T) {
		_, err := s.EnsureBuffer(t.Context(), "wf-ghost", "tenant-1", "alice")
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
	})

	t.Run("wrong tenant", func(t *testing.T) {
		_, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-2", "alice")
		assert.ErrorIs(t, err, ErrTenantMismatch)

		_, err = s.Commit(t.Context(), "wf-claims", "tenant-2", "", "alice")
		assert.ErrorIs(t, err, ErrTenantMismatch)

		_, err = s.SetWorkflowMeta(t.Context(), "wf-claims", "tenant-2", Meta{Name: "Hijack"})
		assert.ErrorIs(t, err, ErrTenantMismatch)
	})

	t.Run("buffer before ensure", func(t *testing.T) {
		_, err := s.GetBuffer(t.Context(), "wf-claims", "tenant-1")
		assert.ErrorIs(t, err, ErrBufferNotFound)
	})
}

func TestStage_Commit(t *testing.T) {
	s, p := newTestStage(t)
	seedWorkflow(t, p, "wf-claims", "tenant-1")

	_, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-1", "alice")
	require.NoError(t, err)

	_, err = s.SetWorkflowMeta(t.Context(), "wf-claims", "tenant-1", Meta{
		Name:        "Claims Handling v2",
		Description: "Reworked triage",
	})
	require.NoError(t, err)

	event, err := s.Commit(t.Context(), "wf-claims", "tenant-1", "triage rework", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, event.Seq)
	assert.Equal(t, models.DraftEventCommit, event.Type)
	assert.Equal(t, "triage rework", event.Label)

	// Relational truth now matches the buffer, positions untouched.
	workflow, err := p.Workflows().GetByID(t.Context(), "wf-claims")
	require.NoError(t, err)
	assert.Equal(t, "Claims Handling v2", workflow.Name)
	assert.Equal(t, "Reworked triage", workflow.Description)
	require.Len(t, workflow.Nodes, 2)
	assert.Equal(t, 100, workflow.Nodes[0].PositionX)
	assert.Equal(t, 200, workflow.Nodes[0].PositionY)

	// The buffer realigns with the commit event.
	buffer, err := s.GetBuffer(t.Context(), "wf-claims", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 2, buffer.BaseEventSeq)
	assert.Equal(t, "Claims Handling v2", buffer.Content.Name)
}

func TestStage_Commit_LayoutForSurvivingNodes(t *testing.T) {
	s, p := newTestStage(t)
	seedWorkflow(t, p, "wf-claims", "tenant-1")

	_, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-1", "alice")
	require.NoError(t, err)

	_, err = s.RemoveNode(t.Context(), "wf-claims", "tenant-1", "payout")
	require.NoError(t, err)

	_, err = s.UpdateNode(t.Context(), "wf-claims", "tenant-1", &models.DraftNode{
		Name:           "Audit",
		CompletionRule: models.CompletionRuleAllTasks,
		Tasks: []*models.Task{
			{Name: "Review Audit Trail", Outcomes: []*models.Outcome{{Name: "OK"}}},
		},
	})
	require.NoError(t, err)

	_, err = s.Commit(t.Context(), "wf-claims", "tenant-1", "", "alice")
	require.NoError(t, err)

	workflow, err := p.Workflows().GetByID(t.Context(), "wf-claims")
	require.NoError(t, err)
	require.Len(t, workflow.Nodes, 2)

	// Survivor keeps its position, the new node starts at the origin.
	triage := workflow.FindNode("triage")
	require.NotNil(t, triage)
	assert.Equal(t, 100, triage.PositionX)
	assert.Equal(t, 200, triage.PositionY)

	audit := workflow.Nodes[1]
	assert.Equal(t, "Audit", audit.Name)
	assert.NotEmpty(t, audit.ID)
	assert.Zero(t, audit.PositionX)
	assert.Zero(t, audit.PositionY)
	require.Len(t, audit.Tasks, 1)
	assert.NotEmpty(t, audit.Tasks[0].ID)

	// The gate into the removed node went with it.
	assert.Empty(t, workflow.Gates)
}

func TestStage_Commit_DemotesValidated(t *testing.T) {
	s, p := newTestStage(t)
	seedWorkflow(t, p, "wf-claims", "tenant-1")

	_, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-1", "alice")
	require.NoError(t, err)

	require.NoError(t, p.Workflows().UpdateStatus(t.Context(), "wf-claims", models.WorkflowStatusValidated, nil, nil))

	_, err = s.SetWorkflowMeta(t.Context(), "wf-claims", "tenant-1", Meta{Name: "Claims Handling v2"})
	require.NoError(t, err)

	_, err = s.Commit(t.Context(), "wf-claims", "tenant-1", "", "alice")
	require.NoError(t, err)

	// Content changed, so the validated stamp no longer holds.
	workflow, err := p.Workflows().GetByID(t.Context(), "wf-claims")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)
}

func TestStage_Commit_Blocked(t *testing.T) {
	s, p := newTestStage(t)
	seedWorkflow(t, p, "wf-claims", "tenant-1")

	t.Run("no buffer", func(t *testing.T) {
		_, err := s.Commit(t.Context(), "wf-claims", "tenant-1", "", "alice")
		assert.ErrorIs(t, err, ErrBufferNotFound)
	})

	t.Run("published workflow", func(t *testing.T) {
		_, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-1", "alice")
		require.NoError(t, err)

		require.NoError(t, p.Workflows().UpdateStatus(t.Context(), "wf-claims", models.WorkflowStatusPublished, nil, nil))

		_, err = s.Commit(t.Context(), "wf-claims", "tenant-1", "", "alice")
		assert.ErrorIs(t, err, ErrCannotModifyPublished)
	})
}

func TestStage_Commit_InvalidContentIsAtomic(t *testing.T) {
	s, p := newTestStage(t)
	seedWorkflow(t, p, "wf-claims", "tenant-1")

	buffer, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-1", "alice")
	require.NoError(t, err)

	// Stage a graph with a gate into a node that does not exist.
	content := buffer.Content.Clone()
	content.Gates = append(content.Gates, &models.Gate{
		ID:           "g-bad",
		SourceNodeID: "triage",
		OutcomeName:  "INVALID",
		TargetNodeID: stringPointer("ghost"),
	})

	_, err = s.PutContent(t.Context(), "wf-claims", "tenant-1", content)
	require.NoError(t, err)

	_, err = s.Commit(t.Context(), "wf-claims", "tenant-1", "", "alice")
	assert.ErrorIs(t, err, ErrInvalidContent)

	// Nothing landed: truth and history are as before the attempt.
	workflow, err := p.Workflows().GetByID(t.Context(), "wf-claims")
	require.NoError(t, err)
	assert.Equal(t, "Claims Handling", workflow.Name)
	assert.Len(t, workflow.Gates, 1)

	history, err := s.History(t.Context(), "wf-claims", "tenant-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStage_Restore(t *testing.T) {
	s, p := newTestStage(t)
	seedWorkflow(t, p, "wf-claims", "tenant-1")

	_, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-1", "alice")
	require.NoError(t, err)

	_, err = s.SetWorkflowMeta(t.Context(), "wf-claims", "tenant-1", Meta{Name: "Claims Handling v2"})
	require.NoError(t, err)

	_, err = s.Commit(t.Context(), "wf-claims", "tenant-1", "", "alice")
	require.NoError(t, err)

	_, err = s.SetWorkflowMeta(t.Context(), "wf-claims", "tenant-1", Meta{Name: "Claims Handling v3"})
	require.NoError(t, err)

	buffer, err := s.Restore(t.Context(), "wf-claims", "tenant-1", 1, "bob")
	require.NoError(t, err)

	// Buffer rewinds to the initial snapshot, aligned with the new event.
	assert.Equal(t, "Claims Handling", buffer.Content.Name)
	assert.Equal(t, 3, buffer.BaseEventSeq)

	history, err := s.History(t.Context(), "wf-claims", "tenant-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.DraftEventRestore, history[2].Type)
	require.NotNil(t, history[2].RestoresSeq)
	assert.Equal(t, 1, *history[2].RestoresSeq)
	assert.Equal(t, "bob", history[2].CreatedBy)

	// Relational truth keeps the committed name until the next commit.
	workflow, err := p.Workflows().GetByID(t.Context(), "wf-claims")
	require.NoError(t, err)
	assert.Equal(t, "Claims Handling v2", workflow.Name)

	event, err := s.Commit(t.Context(), "wf-claims", "tenant-1", "", "bob")
	require.NoError(t, err)
	assert.Equal(t, 4, event.Seq)

	workflow, err = p.Workflows().GetByID(t.Context(), "wf-claims")
	require.NoError(t, err)
	assert.Equal(t, "Claims Handling", workflow.Name)
}

func TestStage_Restore_UnknownSeq(t *testing.T) {
	s, p := newTestStage(t)
	seedWorkflow(t, p, "wf-claims", "tenant-1")

	_, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-1", "alice")
	require.NoError(t, err)

	_, err = s.Restore(t.Context(), "wf-claims", "tenant-1", 9, "alice")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestStage_Discard(t *testing.T) {
	s, p := newTestStage(t)
	seedWorkflow(t, p, "wf-claims", "tenant-1")

	_, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-1", "alice")
	require.NoError(t, err)

	_, err = s.SetWorkflowMeta(t.Context(), "wf-claims", "tenant-1", Meta{Name: "Abandoned Edits"})
	require.NoError(t, err)

	require.NoError(t, s.Discard(t.Context(), "wf-claims", "tenant-1", "alice"))

	_, err = s.GetBuffer(t.Context(), "wf-claims", "tenant-1")
	assert.ErrorIs(t, err, ErrBufferNotFound)

	// History and relational rows survive the discard.
	history, err := s.History(t.Context(), "wf-claims", "tenant-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	workflow, err := p.Workflows().GetByID(t.Context(), "wf-claims")
	require.NoError(t, err)
	assert.Equal(t, "Claims Handling", workflow.Name)
	assert.Equal(t, 100, workflow.Nodes[0].PositionX)

	// Re-seeding continues the sequence, never resets it.
	buffer, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, buffer.BaseEventSeq)
	assert.Equal(t, "Claims Handling", buffer.Content.Name)
}

func TestStage_RevertLayout(t *testing.T) {
	s, p := newTestStage(t)
	seedWorkflow(t, p, "wf-claims", "tenant-1")

	_, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-1", "alice")
	require.NoError(t, err)

	// The canvas autosaves independently of the semantic buffer.
	require.NoError(t, p.Workflows().SaveLayout(t.Context(), "wf-claims", []models.NodePosition{
		{NodeID: "triage", X: 999, Y: 888},
	}))

	workflow, err := p.Workflows().GetByID(t.Context(), "wf-claims")
	require.NoError(t, err)
	assert.Equal(t, 999, workflow.FindNode("triage").PositionX)

	require.NoError(t, s.RevertLayout(t.Context(), "wf-claims", "tenant-1"))

	workflow, err = p.Workflows().GetByID(t.Context(), "wf-claims")
	require.NoError(t, err)
	assert.Equal(t, 100, workflow.FindNode("triage").PositionX)
	assert.Equal(t, 200, workflow.FindNode("triage").PositionY)

	// Semantic buffer content is not part of a layout revert.
	buffer, err := s.GetBuffer(t.Context(), "wf-claims", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "Claims Handling", buffer.Content.Name)
}

func TestStage_RevertLayout_NoHistory(t *testing.T) {
	s, p := newTestStage(t)
	seedWorkflow(t, p, "wf-fresh", "tenant-1")

	err := s.RevertLayout(t.Context(), "wf-fresh", "tenant-1")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestBufferLocks_KeyedByWorkflowAndTenant(t *testing.T) {
	locks := newBufferLocks()

	release := locks.acquire("wf-1", "tenant-1")

	// Same workflow under another tenant is a different buffer.
	releaseOther := locks.acquire("wf-1", "tenant-2")
	releaseOther()

	locks.mu.Lock()
	assert.Len(t, locks.locks, 1)
	locks.mu.Unlock()

	release()

	locks.mu.Lock()
	assert.Empty(t, locks.locks)
	locks.mu.Unlock()
}

func TestStage_ConcurrentCommitsStayContiguous(t *testing.T) {
	s, p := newTestStage(t)
	seedWorkflow(t, p, "wf-claims", "tenant-1")

	_, err := s.EnsureBuffer(t.Context(), "wf-claims", "tenant-1", "alice")
	require.NoError(t, err)

	const commits = 5

	var wg sync.WaitGroup

	seqs := make(chan int, commits)

	for range commits {
		wg.Add(1)

		go func() {
			defer wg.Done()

			event, err := s.Commit(t.Context(), "wf-claims", "tenant-1", "", "editor")
			assert.NoError(t, err)

			if err == nil {
				seqs <- event.Seq
			}
		}()
	}

	wg.Wait()
	close(seqs)

	// Exactly {2..6}: contiguous, no duplicates.
	seen := make(map[int]bool, commits)
	for seq := range seqs {
		assert.False(t, seen[seq], "duplicate seq %d", seq)
		seen[seq] = true
		assert.GreaterOrEqual(t, seq, 2)
		assert.LessOrEqual(t, seq, commits+1)
	}

	assert.Len(t, seen, commits)

	history, err := s.History(t.Context(), "wf-claims", "tenant-1")
	require.NoError(t, err)
	assert.Len(t, history, commits+1)
}
