// Package models defines the core domain models for graph-based work processes
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"     // Editable, not executable
	WorkflowStatusValidated WorkflowStatus = "validated" // Checked, awaiting publish
	WorkflowStatusPublished WorkflowStatus = "published" // Frozen, executable via versions
)

// CompletionRule decides when a node counts as complete for its current
// iteration.
type CompletionRule string

const (
	CompletionRuleAllTasks      CompletionRule = "all_tasks_done"
	CompletionRuleAnyTask       CompletionRule = "any_task_done"
	CompletionRuleSpecificTasks CompletionRule = "specific_tasks_done"
)

// Workflow represents a directed-graph process definition. Until published it
// is mutable; publishing freezes it into an immutable versioned snapshot.
type Workflow struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"              validate:"required"`
	Name           string         `json:"name"                   validate:"required,min=3"`
	Description    string         `json:"description"`
	Status         WorkflowStatus `json:"status"                 validate:"required"`
	Version        int            `json:"version"` // Last published version, 0 before first publish
	NonTerminating bool           `json:"non_terminating,omitempty"`
	Nodes          []*Node        `json:"nodes"`
	Gates          []*Gate        `json:"gates"`
	FanOuts        []*FanOutRule  `json:"fan_outs,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	PublishedAt    *time.Time     `json:"published_at,omitempty"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
}

// Node is a stage of the process holding one or more tasks.
type Node struct {
	ID             string         `json:"id"              validate:"required"`
	Name           string         `json:"name"            validate:"required,min=1"`
	IsEntry        bool           `json:"is_entry"`
	CompletionRule CompletionRule `json:"completion_rule" validate:"required"`
	SpecificTasks  []string       `json:"specific_tasks,omitempty"` // completion_rule=specific_tasks_done only
	Tasks          []*Task        `json:"tasks"`
	PositionX      int            `json:"position_x"`
	PositionY      int            `json:"position_y"`
}

// Task is a unit of human or system work inside a node. Labels carry opaque
// policy inputs (SLA hours, priority); the engine never reads them.
type Task struct {
	ID                    string                 `json:"id"   validate:"required"`
	Name                  string                 `json:"name" validate:"required,min=1"`
	EvidenceRequired      bool                   `json:"evidence_required"`
	EvidenceSchema        *EvidenceSchema        `json:"evidence_schema,omitempty"`
	Outcomes              []*Outcome             `json:"outcomes"`
	CrossFlowDependencies []*CrossFlowDependency `json:"cross_flow_dependencies,omitempty"`
	Labels                map[string]string      `json:"labels,omitempty"`
}

// Outcome is one of the declared results a task may be closed with.
type Outcome struct {
	ID   string `json:"id"`
	Name string `json:"name" validate:"required,min=1"`
}

// Gate routes one (node, outcome) pair to a follow-up node. A nil target
// terminates that path.
type Gate struct {
	ID           string  `json:"id"`
	SourceNodeID string  `json:"source_node_id" validate:"required"`
	OutcomeName  string  `json:"outcome_name"   validate:"required"`
	TargetNodeID *string `json:"target_node_id,omitempty"`
}

// FanOutRule spawns a new flow of another workflow when a matching outcome is
// recorded in the source node.
type FanOutRule struct {
	ID               string `json:"id"`
	SourceNodeID     string `json:"source_node_id"     validate:"required"`
	TriggerOutcome   string `json:"trigger_outcome"    validate:"required"`
	TargetWorkflowID string `json:"target_workflow_id" validate:"required"`
}

// CrossFlowDependency blocks a task until a task in another flow of the same
// flow group has reached a required outcome.
type CrossFlowDependency struct {
	SourceWorkflowID string `json:"source_workflow_id" validate:"required"`
	NodeID           string `json:"node_id"            validate:"required"`
	TaskID           string `json:"task_id"            validate:"required"`
	RequiredOutcome  string `json:"required_outcome"   validate:"required"`
}

// WorkflowVersion is one published, immutable revision of a workflow. Rows
// are written once at publish time and never updated.
type WorkflowVersion struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflow_id"`
	Version     int       `json:"version"`
	Snapshot    *Snapshot `json:"snapshot"`
	PublishedAt time.Time `json:"published_at"`
	PublishedBy string    `json:"published_by"`
}

func (w *Workflow) IsPublished() bool {
	return w.Status == WorkflowStatusPublished
}

// FindNode returns the node with the given ID, or nil.
func (w *Workflow) FindNode(nodeID string) *Node {
	for _, node := range w.Nodes {
		if node.ID == nodeID {
			return node
		}
	}

	return nil
}

// FindTask returns the task with the given ID together with its owning node.
func (w *Workflow) FindTask(taskID string) (*Node, *Task) {
	for _, node := range w.Nodes {
		for _, task := range node.Tasks {
			if task.ID == taskID {
				return node, task
			}
		}
	}

	return nil, nil
}

// EntryNodes returns the nodes activated when a flow starts.
func (w *Workflow) EntryNodes() []*Node {
	var entries []*Node

	for _, node := range w.Nodes {
		if node.IsEntry {
			entries = append(entries, node)
		}
	}

	return entries
}

// FindOutcome returns the declared outcome with the given name, or nil.
func (t *Task) FindOutcome(name string) *Outcome {
	for _, outcome := range t.Outcomes {
		if outcome.Name == name {
			return outcome
		}
	}

	return nil
}
