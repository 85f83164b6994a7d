// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/google/uuid"

	"github.com/flowvia/flowvia/pkg/models"
)

// CreateTestTask creates a test Task with default values that can be
// overridden.
func CreateTestTask(overrides ...func(*models.Task)) *models.Task {
	task := &models.Task{
		ID:       uuid.New().String(),
		Name:     "Test Task",
		Outcomes: []*models.Outcome{{ID: uuid.New().String(), Name: "DONE"}},
	}

	for _, override := range overrides {
		override(task)
	}

	return task
}

// WithTaskID sets the task ID.
func WithTaskID(id string) func(*models.Task) {
	return func(t *models.Task) {
		t.ID = id
	}
}

// WithTaskName sets the task name.
func WithTaskName(name string) func(*models.Task) {
	return func(t *models.Task) {
		t.Name = name
	}
}

// WithOutcomes replaces the task outcomes with the given names.
func WithOutcomes(names ...string) func(*models.Task) {
	return func(t *models.Task) {
		t.Outcomes = make([]*models.Outcome, 0, len(names))
		for _, name := range names {
			t.Outcomes = append(t.Outcomes, &models.Outcome{ID: uuid.New().String(), Name: name})
		}
	}
}

// WithEvidence marks the task as evidence-required with the given schema.
func WithEvidence(schema *models.EvidenceSchema) func(*models.Task) {
	return func(t *models.Task) {
		t.EvidenceRequired = true
		t.EvidenceSchema = schema
	}
}

// WithCrossFlowDependency appends a cross-flow dependency to the task.
func WithCrossFlowDependency(dep *models.CrossFlowDependency) func(*models.Task) {
	return func(t *models.Task) {
		t.CrossFlowDependencies = append(t.CrossFlowDependencies, dep)
	}
}

// WithLabels sets the task labels.
func WithLabels(labels map[string]string) func(*models.Task) {
	return func(t *models.Task) {
		t.Labels = labels
	}
}

// CreateTestNode creates a test Node with default values that can be
// overridden. The default node carries one task completing on DONE.
func CreateTestNode(overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:             uuid.New().String(),
		Name:           "Test Node",
		CompletionRule: models.CompletionRuleAllTasks,
		Tasks:          []*models.Task{CreateTestTask()},
		PositionX:      100,
		PositionY:      200,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithNodeID sets the node ID.
func WithNodeID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.ID = id
	}
}

// WithNodeName sets the node name.
func WithNodeName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}

// WithEntry marks the node as an entry node.
func WithEntry() func(*models.Node) {
	return func(n *models.Node) {
		n.IsEntry = true
	}
}

// WithCompletionRule sets the completion rule and, for specific_tasks_done,
// the task subset.
func WithCompletionRule(rule models.CompletionRule, specificTasks ...string) func(*models.Node) {
	return func(n *models.Node) {
		n.CompletionRule = rule
		n.SpecificTasks = specificTasks
	}
}

// WithTasks replaces the node tasks.
func WithTasks(tasks ...*models.Task) func(*models.Node) {
	return func(n *models.Node) {
		n.Tasks = tasks
	}
}

// WithoutTasks empties the node. Activating such a node completes it
// immediately under all_tasks_done.
func WithoutTasks() func(*models.Node) {
	return func(n *models.Node) {
		n.Tasks = nil
	}
}

// WithPosition sets the node canvas position.
func WithPosition(x, y int) func(*models.Node) {
	return func(n *models.Node) {
		n.PositionX = x
		n.PositionY = y
	}
}

// CreateTestWorkflow creates a draft workflow with default values that can
// be overridden. It has no nodes until WithNodes adds them.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		TenantID:    "tenant-1",
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Status:      models.WorkflowStatusDraft,
		Metadata:    map[string]any{"category": "test"},
		Nodes:       []*models.Node{},
		Gates:       []*models.Gate{},
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithWorkflowID sets the workflow ID.
func WithWorkflowID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ID = id
	}
}

// WithTenant sets the owning tenant.
func WithTenant(tenantID string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.TenantID = tenantID
	}
}

// WithStatus sets the workflow status.
func WithStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status
	}
}

// WithNonTerminating marks the workflow as intentionally never reaching a
// terminal gate.
func WithNonTerminating() func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.NonTerminating = true
	}
}

// WithNodes replaces the workflow nodes.
func WithNodes(nodes ...*models.Node) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Nodes = nodes
	}
}

// WithGates replaces the workflow gates.
func WithGates(gates ...*models.Gate) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Gates = gates
	}
}

// WithFanOuts replaces the workflow fan-out rules.
func WithFanOuts(rules ...*models.FanOutRule) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.FanOuts = rules
	}
}

// GateTo creates a gate routing (sourceNode, outcome) to a target node.
func GateTo(sourceNodeID, outcomeName, targetNodeID string) *models.Gate {
	return &models.Gate{
		ID:           uuid.New().String(),
		SourceNodeID: sourceNodeID,
		OutcomeName:  outcomeName,
		TargetNodeID: &targetNodeID,
	}
}

// TerminalGate creates a gate that ends the path for (sourceNode, outcome).
func TerminalGate(sourceNodeID, outcomeName string) *models.Gate {
	return &models.Gate{
		ID:           uuid.New().String(),
		SourceNodeID: sourceNodeID,
		OutcomeName:  outcomeName,
	}
}

// CreateApprovalWorkflow builds the canonical review graph: entry node n1
// holds task t1 with outcomes APPROVED and REJECTED, APPROVED routes to the
// empty node n2 and REJECTED to the empty node n3. Empty nodes complete on
// activation, so recording either outcome completes the flow.
func CreateApprovalWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	base := []func(*models.Workflow){
		WithNodes(
			CreateTestNode(
				WithNodeID("n1"),
				WithNodeName("Review"),
				WithEntry(),
				WithTasks(CreateTestTask(WithTaskID("t1"), WithTaskName("Review Request"), WithOutcomes("APPROVED", "REJECTED"))),
			),
			CreateTestNode(WithNodeID("n2"), WithNodeName("Approved"), WithoutTasks()),
			CreateTestNode(WithNodeID("n3"), WithNodeName("Rejected"), WithoutTasks()),
		),
		WithGates(
			GateTo("n1", "APPROVED", "n2"),
			GateTo("n1", "REJECTED", "n3"),
		),
	}

	return CreateTestWorkflow(append(base, overrides...)...)
}

// CreateValidWorkflow builds a three-stage graph that passes every
// validation check: intake feeds review, review either ships or terminates,
// shipping terminates.
func CreateValidWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	base := []func(*models.Workflow){
		WithNodes(
			CreateTestNode(
				WithNodeID("intake"),
				WithNodeName("Intake"),
				WithEntry(),
				WithTasks(CreateTestTask(WithTaskID("collect"), WithTaskName("Collect Documents"), WithOutcomes("DONE"))),
			),
			CreateTestNode(
				WithNodeID("review"),
				WithNodeName("Review"),
				WithTasks(CreateTestTask(WithTaskID("check"), WithTaskName("Check Documents"), WithOutcomes("APPROVED", "REJECTED"))),
			),
			CreateTestNode(
				WithNodeID("ship"),
				WithNodeName("Ship"),
				WithTasks(CreateTestTask(WithTaskID("deliver"), WithTaskName("Deliver"), WithOutcomes("DONE"))),
			),
		),
		WithGates(
			GateTo("intake", "DONE", "review"),
			GateTo("review", "APPROVED", "ship"),
			TerminalGate("review", "REJECTED"),
			TerminalGate("ship", "DONE"),
		),
	}

	return CreateTestWorkflow(append(base, overrides...)...)
}
