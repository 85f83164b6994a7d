package models

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflow_Validation_ValidWorkflow(t *testing.T) {
	workflow := linearWorkflow()
	workflow.CreatedAt = time.Now().UTC()
	workflow.UpdatedAt = time.Now().UTC()

	validate := validator.New(validator.WithRequiredStructEnabled())
	err := validate.Struct(workflow)
	assert.NoError(t, err)
}

func TestWorkflow_Validation_MissingRequiredFields(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Workflow)
	}{
		{"missing name", func(w *Workflow) { w.Name = "" }},
		{"name too short", func(w *Workflow) { w.Name = "ab" }},
		{"missing tenant", func(w *Workflow) { w.TenantID = "" }},
		{"missing status", func(w *Workflow) { w.Status = "" }},
		{"node without completion rule", func(w *Workflow) { w.Nodes[0].CompletionRule = "" }},
		{"task without name", func(w *Workflow) { w.Nodes[0].Tasks[0].Name = "" }},
		{"gate without outcome", func(w *Workflow) { w.Gates[0].OutcomeName = "" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			workflow := linearWorkflow()
			tc.mutate(workflow)

			validate := validator.New(validator.WithRequiredStructEnabled())
			err := validate.Struct(workflow)
			assert.Error(t, err)
		})
	}
}

func TestWorkflow_FindTask(t *testing.T) {
	workflow := linearWorkflow()

	node, task := workflow.FindTask("check")
	require.NotNil(t, task)
	assert.Equal(t, "review", node.ID)
	assert.Equal(t, "Check Documents", task.Name)

	node, task = workflow.FindTask("missing")
	assert.Nil(t, node)
	assert.Nil(t, task)
}

func TestWorkflow_EntryNodes(t *testing.T) {
	workflow := linearWorkflow()
	workflow.Nodes[2].IsEntry = true

	entries := workflow.EntryNodes()
	require.Len(t, entries, 2)
	assert.Equal(t, "intake", entries[0].ID)
	assert.Equal(t, "ship", entries[1].ID)
}

func TestTask_FindOutcome(t *testing.T) {
	_, task := linearWorkflow().FindTask("check")

	assert.NotNil(t, task.FindOutcome("APPROVED"))
	assert.Nil(t, task.FindOutcome("approved")) // outcome names are case sensitive
}

func TestFlowLog_Revision(t *testing.T) {
	log := &FlowLog{}
	assert.Equal(t, 0, log.Revision())

	log.Activations = append(log.Activations, &NodeActivation{ID: "a1"})
	log.Executions = append(log.Executions, &TaskExecution{ID: "e1"})
	log.Evidence = append(log.Evidence, &EvidenceAttachment{ID: "ev1"})
	assert.Equal(t, 3, log.Revision())

	log.Detours = append(log.Detours, &DetourRecord{ID: "d1", Status: DetourStatusActive})
	log.FanOuts = append(log.FanOuts, &FanOutLaunch{ID: "f1"})
	assert.Equal(t, 5, log.Revision())

	// In-place transitions bump the revision too: without this a cached
	// derivation keyed on the old revision would survive an outcome.
	outcome := "APPROVED"
	log.Executions[0].OutcomeName = &outcome
	assert.Equal(t, 6, log.Revision())

	log.Detours[0].Status = DetourStatusResolved
	assert.Equal(t, 7, log.Revision())
}

func TestTaskExecution_Completed(t *testing.T) {
	execution := &TaskExecution{ID: "e1"}
	assert.False(t, execution.Completed())

	outcome := "APPROVED"
	execution.OutcomeName = &outcome
	assert.True(t, execution.Completed())
}
