package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearWorkflow() *Workflow {
	review := "review"
	ship := "ship"

	return &Workflow{
		ID:       "wf-linear",
		TenantID: "tenant-1",
		Name:     "Linear Process",
		Status:   WorkflowStatusDraft,
		Nodes: []*Node{
			{
				ID:             "intake",
				Name:           "Intake",
				IsEntry:        true,
				CompletionRule: CompletionRuleAllTasks,
				Tasks: []*Task{
					{
						ID:       "collect",
						Name:     "Collect Documents",
						Outcomes: []*Outcome{{ID: "o1", Name: "DONE"}},
					},
				},
			},
			{
				ID:             "review",
				Name:           "Review",
				CompletionRule: CompletionRuleAllTasks,
				Tasks: []*Task{
					{
						ID:       "check",
						Name:     "Check Documents",
						Outcomes: []*Outcome{{ID: "o2", Name: "APPROVED"}, {ID: "o3", Name: "REJECTED"}},
					},
				},
			},
			{
				ID:             "ship",
				Name:           "Ship",
				CompletionRule: CompletionRuleAllTasks,
				Tasks: []*Task{
					{
						ID:       "deliver",
						Name:     "Deliver",
						Outcomes: []*Outcome{{ID: "o4", Name: "DONE"}},
					},
				},
			},
		},
		Gates: []*Gate{
			{ID: "g1", SourceNodeID: "intake", OutcomeName: "DONE", TargetNodeID: &review},
			{ID: "g2", SourceNodeID: "review", OutcomeName: "APPROVED", TargetNodeID: &ship},
			{ID: "g3", SourceNodeID: "review", OutcomeName: "REJECTED", TargetNodeID: nil},
			{ID: "g4", SourceNodeID: "ship", OutcomeName: "DONE", TargetNodeID: nil},
		},
	}
}

func TestBuildSnapshot_TransitiveSuccessors(t *testing.T) {
	snapshot, err := BuildSnapshot(linearWorkflow(), 1)
	require.NoError(t, err)

	testCases := []struct {
		nodeID     string
		successors []string
	}{
		{"intake", []string{"review", "ship"}},
		{"review", []string{"ship"}},
		{"ship", []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.nodeID, func(t *testing.T) {
			node := snapshot.NodeByID(tc.nodeID)
			require.NotNil(t, node)
			assert.Equal(t, tc.successors, node.TransitiveSuccessors)
		})
	}
}

func TestBuildSnapshot_LoopbackIncludesSelfInSuccessors(t *testing.T) {
	workflow := linearWorkflow()
	intake := "intake"
	// REJECTED now loops back to intake instead of terminating.
	workflow.Gates[2].TargetNodeID = &intake

	snapshot, err := BuildSnapshot(workflow, 1)
	require.NoError(t, err)

	review := snapshot.NodeByID("review")
	require.NotNil(t, review)
	assert.Equal(t, []string{"intake", "review", "ship"}, review.TransitiveSuccessors)

	intakeNode := snapshot.NodeByID("intake")
	require.NotNil(t, intakeNode)
	assert.Contains(t, intakeNode.TransitiveSuccessors, "intake")
}

func TestBuildSnapshot_RejectsDanglingGateTarget(t *testing.T) {
	workflow := linearWorkflow()
	missing := "nowhere"
	workflow.Gates[0].TargetNodeID = &missing

	_, err := BuildSnapshot(workflow, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target node")
}

func TestBuildSnapshot_FreezesTasksAndOutcomes(t *testing.T) {
	workflow := linearWorkflow()
	minLength := 10
	workflow.Nodes[1].Tasks[0].EvidenceRequired = true
	workflow.Nodes[1].Tasks[0].EvidenceSchema = &EvidenceSchema{Type: EvidenceTypeText, MinLength: &minLength}

	snapshot, err := BuildSnapshot(workflow, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, snapshot.Version)
	assert.Equal(t, "wf-linear", snapshot.WorkflowID)

	node, task := snapshot.TaskByID("check")
	require.NotNil(t, task)
	assert.Equal(t, "review", node.ID)
	assert.Equal(t, []string{"APPROVED", "REJECTED"}, task.Outcomes)
	assert.True(t, task.HasOutcome("APPROVED"))
	assert.False(t, task.HasOutcome("UNKNOWN"))

	// The snapshot holds its own schema copy.
	require.NotNil(t, task.EvidenceSchema)
	*workflow.Nodes[1].Tasks[0].EvidenceSchema.MinLength = 99
	assert.Equal(t, 10, *task.EvidenceSchema.MinLength)
}

func TestSnapshot_Gate(t *testing.T) {
	snapshot, err := BuildSnapshot(linearWorkflow(), 1)
	require.NoError(t, err)

	route, exists := snapshot.Gate("review", "APPROVED")
	require.True(t, exists)
	require.NotNil(t, route.TargetNodeID)
	assert.Equal(t, "ship", *route.TargetNodeID)

	terminal, exists := snapshot.Gate("review", "REJECTED")
	require.True(t, exists)
	assert.Nil(t, terminal.TargetNodeID)

	_, exists = snapshot.Gate("review", "ESCALATED")
	assert.False(t, exists)
}

func TestSnapshot_EntryNodes(t *testing.T) {
	snapshot, err := BuildSnapshot(linearWorkflow(), 1)
	require.NoError(t, err)

	entries := snapshot.EntryNodes()
	require.Len(t, entries, 1)
	assert.Equal(t, "intake", entries[0].ID)
}

func TestSnapshot_FanOutsFor(t *testing.T) {
	workflow := linearWorkflow()
	workflow.FanOuts = []*FanOutRule{
		{ID: "f1", SourceNodeID: "review", TriggerOutcome: "APPROVED", TargetWorkflowID: "wf-audit"},
		{ID: "f2", SourceNodeID: "review", TriggerOutcome: "REJECTED", TargetWorkflowID: "wf-appeal"},
	}

	snapshot, err := BuildSnapshot(workflow, 1)
	require.NoError(t, err)

	rules := snapshot.FanOutsFor("review", "APPROVED")
	require.Len(t, rules, 1)
	assert.Equal(t, "wf-audit", rules[0].TargetWorkflowID)

	assert.Empty(t, snapshot.FanOutsFor("intake", "APPROVED"))
}
