package models

import "time"

// DraftEventType classifies entries in a workflow's draft history.
type DraftEventType string

const (
	DraftEventInitial DraftEventType = "initial" // Buffer seeded from relational state
	DraftEventCommit  DraftEventType = "commit"  // Buffer applied to relational state
	DraftEventRestore DraftEventType = "restore" // Buffer rewritten from an earlier event
)

// DraftBuffer is the single staging area for edits to one workflow. All
// editing happens here; relational truth changes only on commit.
type DraftBuffer struct {
	WorkflowID   string        `json:"workflow_id"`
	TenantID     string        `json:"tenant_id"`
	Content      *DraftContent `json:"content"`
	BaseEventSeq int           `json:"base_event_seq"` // History event the buffer was last aligned with
	UpdatedAt    time.Time     `json:"updated_at"`
}

// DraftContent is the semantic graph under edit. Layout is deliberately not
// part of it: canvas positions travel through their own autosave channel and
// never appear as a content change.
type DraftContent struct {
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	NonTerminating bool          `json:"non_terminating,omitempty"`
	Nodes          []*DraftNode  `json:"nodes"`
	Gates          []*Gate       `json:"gates"`
	FanOuts        []*FanOutRule `json:"fan_outs,omitempty"`
}

// DraftNode mirrors Node without position fields.
type DraftNode struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	IsEntry        bool           `json:"is_entry"`
	CompletionRule CompletionRule `json:"completion_rule"`
	SpecificTasks  []string       `json:"specific_tasks,omitempty"`
	Tasks          []*Task        `json:"tasks"`
}

// NodePosition is one node's canvas coordinates.
type NodePosition struct {
	NodeID string `json:"node_id"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

// DraftSnapshot is the full capture stored inside a draft event: the content
// at that moment plus the relational layout at that moment. Restore replays
// content only; revert-layout replays layout only.
type DraftSnapshot struct {
	Content *DraftContent  `json:"content"`
	Layout  []NodePosition `json:"layout,omitempty"`
}

// DraftEvent is one entry of a workflow's append-only draft history. Seq is
// contiguous per workflow starting at 1; events are never updated or
// deleted.
type DraftEvent struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	TenantID    string         `json:"tenant_id"`
	Seq         int            `json:"seq"`
	Type        DraftEventType `json:"type"`
	Snapshot    *DraftSnapshot `json:"snapshot"`
	RestoresSeq *int           `json:"restores_seq,omitempty"` // restore events: the seq restored from
	Label       string         `json:"label,omitempty"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ContentFromWorkflow projects the relational graph into draft content,
// stripping layout.
func ContentFromWorkflow(workflow *Workflow) *DraftContent {
	content := &DraftContent{
		Name:           workflow.Name,
		Description:    workflow.Description,
		NonTerminating: workflow.NonTerminating,
		Nodes:          make([]*DraftNode, 0, len(workflow.Nodes)),
		Gates:          make([]*Gate, 0, len(workflow.Gates)),
	}

	for _, node := range workflow.Nodes {
		content.Nodes = append(content.Nodes, &DraftNode{
			ID:             node.ID,
			Name:           node.Name,
			IsEntry:        node.IsEntry,
			CompletionRule: node.CompletionRule,
			SpecificTasks:  append([]string(nil), node.SpecificTasks...),
			Tasks:          cloneTasks(node.Tasks),
		})
	}

	for _, gate := range workflow.Gates {
		gateCopy := *gate
		gateCopy.TargetNodeID = copyStringPointer(gate.TargetNodeID)
		content.Gates = append(content.Gates, &gateCopy)
	}

	for _, rule := range workflow.FanOuts {
		ruleCopy := *rule
		content.FanOuts = append(content.FanOuts, &ruleCopy)
	}

	return content
}

// LayoutFromWorkflow captures the current canvas positions of every node.
func LayoutFromWorkflow(workflow *Workflow) []NodePosition {
	layout := make([]NodePosition, 0, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		layout = append(layout, NodePosition{NodeID: node.ID, X: node.PositionX, Y: node.PositionY})
	}

	return layout
}

// MaterializeNodes turns draft nodes back into relational nodes, keeping the
// given positions for nodes that already had one. New nodes land at the
// origin until the canvas moves them.
func (c *DraftContent) MaterializeNodes(layout map[string]NodePosition) []*Node {
	nodes := make([]*Node, 0, len(c.Nodes))

	for _, draftNode := range c.Nodes {
		node := &Node{
			ID:             draftNode.ID,
			Name:           draftNode.Name,
			IsEntry:        draftNode.IsEntry,
			CompletionRule: draftNode.CompletionRule,
			SpecificTasks:  append([]string(nil), draftNode.SpecificTasks...),
			Tasks:          cloneTasks(draftNode.Tasks),
		}

		if position, exists := layout[draftNode.ID]; exists {
			node.PositionX = position.X
			node.PositionY = position.Y
		}

		nodes = append(nodes, node)
	}

	return nodes
}

// FindNode returns the draft node with the given ID, or nil.
func (c *DraftContent) FindNode(nodeID string) *DraftNode {
	for _, node := range c.Nodes {
		if node.ID == nodeID {
			return node
		}
	}

	return nil
}

// Clone returns a deep copy, nil-safe.
func (c *DraftContent) Clone() *DraftContent {
	if c == nil {
		return nil
	}

	copied := &DraftContent{
		Name:           c.Name,
		Description:    c.Description,
		NonTerminating: c.NonTerminating,
		Nodes:          make([]*DraftNode, 0, len(c.Nodes)),
		Gates:          make([]*Gate, 0, len(c.Gates)),
	}

	for _, node := range c.Nodes {
		copied.Nodes = append(copied.Nodes, &DraftNode{
			ID:             node.ID,
			Name:           node.Name,
			IsEntry:        node.IsEntry,
			CompletionRule: node.CompletionRule,
			SpecificTasks:  append([]string(nil), node.SpecificTasks...),
			Tasks:          cloneTasks(node.Tasks),
		})
	}

	for _, gate := range c.Gates {
		gateCopy := *gate
		gateCopy.TargetNodeID = copyStringPointer(gate.TargetNodeID)
		copied.Gates = append(copied.Gates, &gateCopy)
	}

	for _, rule := range c.FanOuts {
		ruleCopy := *rule
		copied.FanOuts = append(copied.FanOuts, &ruleCopy)
	}

	return copied
}

// Clone returns a deep copy of a draft snapshot, nil-safe.
func (s *DraftSnapshot) Clone() *DraftSnapshot {
	if s == nil {
		return nil
	}

	return &DraftSnapshot{
		Content: s.Content.Clone(),
		Layout:  append([]NodePosition(nil), s.Layout...),
	}
}

func cloneTasks(tasks []*Task) []*Task {
	copied := make([]*Task, 0, len(tasks))

	for _, task := range tasks {
		taskCopy := &Task{
			ID:               task.ID,
			Name:             task.Name,
			EvidenceRequired: task.EvidenceRequired,
			EvidenceSchema:   task.EvidenceSchema.Clone(),
			Outcomes:         make([]*Outcome, 0, len(task.Outcomes)),
			Labels:           copyStringMap(task.Labels),
		}

		for _, outcome := range task.Outcomes {
			outcomeCopy := *outcome
			taskCopy.Outcomes = append(taskCopy.Outcomes, &outcomeCopy)
		}

		for _, dep := range task.CrossFlowDependencies {
			depCopy := *dep
			taskCopy.CrossFlowDependencies = append(taskCopy.CrossFlowDependencies, &depCopy)
		}

		copied = append(copied, taskCopy)
	}

	return copied
}
