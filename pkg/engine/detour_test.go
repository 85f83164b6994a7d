package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence"
)

func TestEngine_OpenDetour(t *testing.T) {
	e, p := newTestEngine(t)
	flow := startApprovalFlow(t, e, p)

	execution, err := e.StartTask(t.Context(), flow.ID, "assess", "alice")
	require.NoError(t, err)

	detour, err := e.OpenDetour(t.Context(), OpenDetourRequest{
		FlowID:                flow.ID,
		CheckpointExecutionID: execution.ID,
		ResumeTargetNodeID:    "fulfil",
		Type:                  models.DetourTypeBlocking,
		Reason:                "supplier shipped the wrong part",
		Actor:                 "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, "review", detour.CheckpointNodeID)
	assert.Equal(t, execution.ID, detour.CheckpointExecutionID)
	assert.Equal(t, models.DetourStatusActive, detour.Status)
	assert.Equal(t, 1, detour.RepeatIndex)
	assert.Equal(t, "alice", detour.OpenedBy)

	// The inactive resume target activates at iteration 1 right away.
	state, err := e.GetFlowState(t.Context(), flow.ID)
	require.NoError(t, err)
	assert.Equal(t, NodeStatusActive, state.Node("fulfil").Status)
	assert.Equal(t, 1, state.Node("fulfil").Iteration)
}

func TestEngine_OpenDetour_ResumeTargetStates(t *testing.T) {
	e, p := newTestEngine(t)
	flow := startApprovalFlow(t, e, p)

	execution, err := e.StartTask(t.Context(), flow.ID, "assess", "alice")
	require.NoError(t, err)

	t.Run("live target needs no activation", func(t *testing.T) {
		_, err := e.OpenDetour(t.Context(), OpenDetourRequest{
			FlowID:                flow.ID,
			CheckpointExecutionID: execution.ID,
			ResumeTargetNodeID:    "review",
			Type:                  models.DetourTypeNonBlocking,
			Actor:                 "alice",
		})
		require.NoError(t, err)

		detail, err := e.GetFlowDetail(t.Context(), flow.ID)
		require.NoError(t, err)
		assert.Len(t, detail.Log.Activations, 1)
	})

	t.Run("finished target re-activates at the next iteration", func(t *testing.T) {
		_, err := e.RecordOutcome(t.Context(), flow.ID, "assess", "APPROVED", "alice")
		require.NoError(t, err)

		_, err = e.OpenDetour(t.Context(), OpenDetourRequest{
			FlowID:                flow.ID,
			CheckpointExecutionID: execution.ID,
			ResumeTargetNodeID:    "review",
			Type:                  models.DetourTypeNonBlocking,
			Actor:                 "alice",
		})
		require.NoError(t, err)

		state, err := e.GetFlowState(t.Context(), flow.ID)
		require.NoError(t, err)
		assert.Equal(t, NodeStatusActive, state.Node("review").Status)
		assert.Equal(t, 2, state.Node("review").Iteration)
	})
}

func TestEngine_OpenDetour_RepeatIndex(t *testing.T) {
	e, p := newTestEngine(t)
	flow := startApprovalFlow(t, e, p)

	execution, err := e.StartTask(t.Context(), flow.ID, "assess", "alice")
	require.NoError(t, err)

	open := func() *models.DetourRecord {
		detour, err := e.OpenDetour(t.Context(), OpenDetourRequest{
			FlowID:                flow.ID,
			CheckpointExecutionID: execution.ID,
			ResumeTargetNodeID:    "review",
			Type:                  models.DetourTypeNonBlocking,
			Actor:                 "alice",
		})
		require.NoError(t, err)

		return detour
	}

	first := open()
	assert.Equal(t, 1, first.RepeatIndex)

	// Closed detours on the same checkpoint still count toward the index.
	_, err = e.ResolveDetour(t.Context(), flow.ID, first.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, 2, open().RepeatIndex)
	assert.Equal(t, 3, open().RepeatIndex)
}

func TestEngine_OpenDetour_Validation(t *testing.T) {
	e, p := newTestEngine(t)
	flow := startApprovalFlow(t, e, p)

	execution, err := e.StartTask(t.Context(), flow.ID, "assess", "alice")
	require.NoError(t, err)

	t.Run("unknown checkpoint execution", func(t *testing.T) {
		_, err := e.OpenDetour(t.Context(), OpenDetourRequest{
			FlowID:                flow.ID,
			CheckpointExecutionID: "missing",
			ResumeTargetNodeID:    "review",
			Type:                  models.DetourTypeBlocking,
			Actor:                 "alice",
		})
		assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
	})

	t.Run("unknown resume target", func(t *testing.T) {
		_, err := e.OpenDetour(t.Context(), OpenDetourRequest{
			FlowID:                flow.ID,
			CheckpointExecutionID: execution.ID,
			ResumeTargetNodeID:    "nonexistent",
			Type:                  models.DetourTypeBlocking,
			Actor:                 "alice",
		})
		require.Error(t, err)

		_, ok := AsError(err)
		assert.False(t, ok)
	})

	t.Run("invalid type", func(t *testing.T) {
		_, err := e.OpenDetour(t.Context(), OpenDetourRequest{
			FlowID:                flow.ID,
			CheckpointExecutionID: execution.ID,
			ResumeTargetNodeID:    "review",
			Type:                  models.DetourType("sideways"),
			Actor:                 "alice",
		})
		assert.Error(t, err)
	})

	t.Run("flow must be active", func(t *testing.T) {
		_, err := e.CancelFlow(t.Context(), flow.ID, "abandoned", "ops")
		require.NoError(t, err)

		_, err = e.OpenDetour(t.Context(), OpenDetourRequest{
			FlowID:                flow.ID,
			CheckpointExecutionID: execution.ID,
			ResumeTargetNodeID:    "review",
			Type:                  models.DetourTypeBlocking,
			Actor:                 "alice",
		})
		assert.True(t, IsCode(err, CodeFlowNotActive))
	})
}

func TestEngine_EscalateDetour(t *testing.T) {
	e, p := newTestEngine(t)
	flow := startApprovalFlow(t, e, p)

	execution, err := e.StartTask(t.Context(), flow.ID, "assess", "alice")
	require.NoError(t, err)

	detour, err := e.OpenDetour(t.Context(), OpenDetourRequest{
		FlowID:                flow.ID,
		CheckpointExecutionID: execution.ID,
		ResumeTargetNodeID:    "review",
		Type:                  models.DetourTypeNonBlocking,
		Actor:                 "alice",
	})
	require.NoError(t, err)

	_, err = e.RecordOutcome(t.Context(), flow.ID, "assess", "APPROVED", "alice")
	require.NoError(t, err)

	// Non-blocking: fulfil is downstream of review yet fully workable.
	state, err := e.GetFlowState(t.Context(), flow.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusActionable, state.Task("deliver").Status)

	escalated, err := e.EscalateDetour(t.Context(), flow.ID, detour.ID, "supervisor")
	require.NoError(t, err)
	assert.Equal(t, models.DetourTypeBlocking, escalated.Type)
	assert.Equal(t, models.DetourStatusActive, escalated.Status)

	// Blocking now holds the successor work.
	state, err = e.GetFlowState(t.Context(), flow.ID)
	require.NoError(t, err)
	assert.True(t, state.Node("fulfil").Suppressed)
	assert.Equal(t, TaskStatusNotActionable, state.Task("deliver").Status)

	_, err = e.StartTask(t.Context(), flow.ID, "deliver", "bob")
	assert.True(t, IsCode(err, CodeTaskNotActionable))

	t.Run("escalating a blocking detour is a no-op", func(t *testing.T) {
		again, err := e.EscalateDetour(t.Context(), flow.ID, detour.ID, "supervisor")
		require.NoError(t, err)
		assert.Equal(t, models.DetourTypeBlocking, again.Type)
	})

	t.Run("unknown detour", func(t *testing.T) {
		_, err := e.EscalateDetour(t.Context(), flow.ID, "missing", "supervisor")
		assert.ErrorIs(t, err, persistence.ErrDetourNotFound)
	})
}

func TestEngine_ResolveDetour_CompletesFlow(t *testing.T) {
	e, p := newTestEngine(t)
	flow := startApprovalFlow(t, e, p)

	execution, err := e.StartTask(t.Context(), flow.ID, "assess", "alice")
	require.NoError(t, err)

	detour, err := e.OpenDetour(t.Context(), OpenDetourRequest{
		FlowID:                flow.ID,
		CheckpointExecutionID: execution.ID,
		ResumeTargetNodeID:    "review",
		Type:                  models.DetourTypeBlocking,
		Reason:                "double-checking the figures",
		Actor:                 "alice",
	})
	require.NoError(t, err)

	// REJECTED would finish the flow, but the blocking detour holds it open.
	result, err := e.RecordOutcome(t.Context(), flow.ID, "assess", "REJECTED", "alice")
	require.NoError(t, err)
	assert.False(t, result.FlowCompleted)

	current, err := e.GetFlow(t.Context(), flow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusActive, current.Status)

	// Lifting the last blocking detour finishes the flow in the same step.
	resolved, err := e.ResolveDetour(t.Context(), flow.ID, detour.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.DetourStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "alice", *resolved.ResolvedBy)

	final, err := e.GetFlow(t.Context(), flow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusCompleted, final.Status)
	assert.NotNil(t, final.CompletedAt)
}

func TestEngine_ResolveDetour_AfterFlowCompleted(t *testing.T) {
	e, p := newTestEngine(t)
	flow := startApprovalFlow(t, e, p)

	execution, err := e.StartTask(t.Context(), flow.ID, "assess", "alice")
	require.NoError(t, err)

	detour, err := e.OpenDetour(t.Context(), OpenDetourRequest{
		FlowID:                flow.ID,
		CheckpointExecutionID: execution.ID,
		ResumeTargetNodeID:    "review",
		Type:                  models.DetourTypeNonBlocking,
		Actor:                 "alice",
	})
	require.NoError(t, err)

	// A non-blocking detour does not hold the flow: it completes around it.
	result, err := e.RecordOutcome(t.Context(), flow.ID, "assess", "REJECTED", "alice")
	require.NoError(t, err)
	assert.True(t, result.FlowCompleted)

	// The open annotation can still be closed afterwards.
	resolved, err := e.ResolveDetour(t.Context(), flow.ID, detour.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.DetourStatusResolved, resolved.Status)

	t.Run("but escalation needs an active flow", func(t *testing.T) {
		_, err := e.EscalateDetour(t.Context(), flow.ID, detour.ID, "supervisor")
		assert.True(t, IsCode(err, CodeFlowNotActive))
	})
}

func TestEngine_ResolveDetour_NotActive(t *testing.T) {
	e, p := newTestEngine(t)
	flow := startApprovalFlow(t, e, p)

	execution, err := e.StartTask(t.Context(), flow.ID, "assess", "alice")
	require.NoError(t, err)

	detour, err := e.OpenDetour(t.Context(), OpenDetourRequest{
		FlowID:                flow.ID,
		CheckpointExecutionID: execution.ID,
		ResumeTargetNodeID:    "review",
		Type:                  models.DetourTypeNonBlocking,
		Actor:                 "alice",
	})
	require.NoError(t, err)

	_, err = e.ResolveDetour(t.Context(), flow.ID, detour.ID, "alice")
	require.NoError(t, err)

	_, err = e.ResolveDetour(t.Context(), flow.ID, detour.ID, "alice")
	assert.True(t, IsCode(err, CodeDetourNotActive))

	_, err = e.ConvertDetour(t.Context(), flow.ID, detour.ID, "alice")
	assert.True(t, IsCode(err, CodeDetourNotActive))
}

func TestEngine_ConvertDetour(t *testing.T) {
	e, p := newTestEngine(t)
	flow := startApprovalFlow(t, e, p)

	execution, err := e.StartTask(t.Context(), flow.ID, "assess", "alice")
	require.NoError(t, err)

	detour, err := e.OpenDetour(t.Context(), OpenDetourRequest{
		FlowID:                flow.ID,
		CheckpointExecutionID: execution.ID,
		ResumeTargetNodeID:    "review",
		Type:                  models.DetourTypeBlocking,
		Reason:                "repeated supplier issue",
		Actor:                 "alice",
	})
	require.NoError(t, err)

	converted, err := e.ConvertDetour(t.Context(), flow.ID, detour.ID, "supervisor")
	require.NoError(t, err)
	assert.Equal(t, models.DetourStatusConverted, converted.Status)

	// Conversion lifts the suppression like resolution does.
	_, err = e.RecordOutcome(t.Context(), flow.ID, "assess", "APPROVED", "alice")
	require.NoError(t, err)

	state, err := e.GetFlowState(t.Context(), flow.ID)
	require.NoError(t, err)
	assert.False(t, state.Node("fulfil").Suppressed)
	assert.Equal(t, TaskStatusActionable, state.Task("deliver").Status)
}
