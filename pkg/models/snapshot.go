package models

import (
	"fmt"
	"sort"
)

// Snapshot is the frozen, self-contained form of a workflow version. Flows
// execute against a snapshot only; the mutable definition is never consulted
// at runtime.
type Snapshot struct {
	WorkflowID     string            `json:"workflow_id"`
	Version        int               `json:"version"`
	Name           string            `json:"name"`
	NonTerminating bool              `json:"non_terminating,omitempty"`
	Nodes          []*SnapshotNode   `json:"nodes"`
	Gates          []*SnapshotGate   `json:"gates"`
	FanOuts        []*SnapshotFanOut `json:"fan_outs,omitempty"`
}

// SnapshotNode mirrors Node with the transitive successor set precomputed at
// publish time. Successors are every node reachable through one or more gate
// hops, sorted by ID; they are never recomputed at read time.
type SnapshotNode struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	IsEntry              bool            `json:"is_entry"`
	CompletionRule       CompletionRule  `json:"completion_rule"`
	SpecificTasks        []string        `json:"specific_tasks,omitempty"`
	Tasks                []*SnapshotTask `json:"tasks"`
	TransitiveSuccessors []string        `json:"transitive_successors,omitempty"`
}

type SnapshotTask struct {
	ID                    string                 `json:"id"`
	Name                  string                 `json:"name"`
	EvidenceRequired      bool                   `json:"evidence_required"`
	EvidenceSchema        *EvidenceSchema        `json:"evidence_schema,omitempty"`
	Outcomes              []string               `json:"outcomes"`
	CrossFlowDependencies []*CrossFlowDependency `json:"cross_flow_dependencies,omitempty"`
	Labels                map[string]string      `json:"labels,omitempty"`
}

type SnapshotGate struct {
	SourceNodeID string  `json:"source_node_id"`
	OutcomeName  string  `json:"outcome_name"`
	TargetNodeID *string `json:"target_node_id,omitempty"`
}

type SnapshotFanOut struct {
	SourceNodeID     string `json:"source_node_id"`
	TriggerOutcome   string `json:"trigger_outcome"`
	TargetWorkflowID string `json:"target_workflow_id"`
}

// BuildSnapshot freezes a workflow into its versioned snapshot form. The
// workflow is expected to have passed validation; structurally broken graphs
// still fail here rather than producing a snapshot with dangling references.
func BuildSnapshot(workflow *Workflow, version int) (*Snapshot, error) {
	nodeIDs := make(map[string]bool, len(workflow.Nodes))
	for _, node := range workflow.Nodes {
		nodeIDs[node.ID] = true
	}

	for _, gate := range workflow.Gates {
		if !nodeIDs[gate.SourceNodeID] {
			return nil, fmt.Errorf("gate %s references unknown source node %q", gate.ID, gate.SourceNodeID)
		}

		if gate.TargetNodeID != nil && !nodeIDs[*gate.TargetNodeID] {
			return nil, fmt.Errorf("gate %s references unknown target node %q", gate.ID, *gate.TargetNodeID)
		}
	}

	successors := transitiveSuccessors(workflow)

	snapshot := &Snapshot{
		WorkflowID:     workflow.ID,
		Version:        version,
		Name:           workflow.Name,
		NonTerminating: workflow.NonTerminating,
		Nodes:          make([]*SnapshotNode, 0, len(workflow.Nodes)),
		Gates:          make([]*SnapshotGate, 0, len(workflow.Gates)),
	}

	for _, node := range workflow.Nodes {
		snapshot.Nodes = append(snapshot.Nodes, snapshotNode(node, successors[node.ID]))
	}

	for _, gate := range workflow.Gates {
		snapshot.Gates = append(snapshot.Gates, &SnapshotGate{
			SourceNodeID: gate.SourceNodeID,
			OutcomeName:  gate.OutcomeName,
			TargetNodeID: copyStringPointer(gate.TargetNodeID),
		})
	}

	for _, rule := range workflow.FanOuts {
		snapshot.FanOuts = append(snapshot.FanOuts, &SnapshotFanOut{
			SourceNodeID:     rule.SourceNodeID,
			TriggerOutcome:   rule.TriggerOutcome,
			TargetWorkflowID: rule.TargetWorkflowID,
		})
	}

	return snapshot, nil
}

func snapshotNode(node *Node, successors []string) *SnapshotNode {
	frozen := &SnapshotNode{
		ID:                   node.ID,
		Name:                 node.Name,
		IsEntry:              node.IsEntry,
		CompletionRule:       node.CompletionRule,
		SpecificTasks:        append([]string(nil), node.SpecificTasks...),
		Tasks:                make([]*SnapshotTask, 0, len(node.Tasks)),
		TransitiveSuccessors: successors,
	}

	for _, task := range node.Tasks {
		outcomes := make([]string, 0, len(task.Outcomes))
		for _, outcome := range task.Outcomes {
			outcomes = append(outcomes, outcome.Name)
		}

		deps := make([]*CrossFlowDependency, 0, len(task.CrossFlowDependencies))
		for _, dep := range task.CrossFlowDependencies {
			depCopy := *dep
			deps = append(deps, &depCopy)
		}

		frozen.Tasks = append(frozen.Tasks, &SnapshotTask{
			ID:                    task.ID,
			Name:                  task.Name,
			EvidenceRequired:      task.EvidenceRequired,
			EvidenceSchema:        task.EvidenceSchema.Clone(),
			Outcomes:              outcomes,
			CrossFlowDependencies: deps,
			Labels:                copyStringMap(task.Labels),
		})
	}

	return frozen
}

// transitiveSuccessors walks gate edges breadth-first from every node. A node
// appears in its own successor set only when a loop leads back to it.
func transitiveSuccessors(workflow *Workflow) map[string][]string {
	edges := make(map[string][]string)

	for _, gate := range workflow.Gates {
		if gate.TargetNodeID != nil {
			edges[gate.SourceNodeID] = append(edges[gate.SourceNodeID], *gate.TargetNodeID)
		}
	}

	result := make(map[string][]string, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		visited := make(map[string]bool)
		queue := append([]string(nil), edges[node.ID]...)

		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]

			if visited[current] {
				continue
			}

			visited[current] = true
			queue = append(queue, edges[current]...)
		}

		reachable := make([]string, 0, len(visited))
		for id := range visited {
			reachable = append(reachable, id)
		}

		sort.Strings(reachable)
		result[node.ID] = reachable
	}

	return result
}

// NodeByID returns the snapshot node with the given ID, or nil.
func (s *Snapshot) NodeByID(nodeID string) *SnapshotNode {
	for _, node := range s.Nodes {
		if node.ID == nodeID {
			return node
		}
	}

	return nil
}

// TaskByID returns the snapshot task with the given ID together with its
// owning node.
func (s *Snapshot) TaskByID(taskID string) (*SnapshotNode, *SnapshotTask) {
	for _, node := range s.Nodes {
		for _, task := range node.Tasks {
			if task.ID == taskID {
				return node, task
			}
		}
	}

	return nil, nil
}

// Gate returns the route for a (node, outcome) pair. The bool reports whether
// a gate exists at all; a nil target on an existing gate is a terminal route.
func (s *Snapshot) Gate(sourceNodeID, outcomeName string) (*SnapshotGate, bool) {
	for _, gate := range s.Gates {
		if gate.SourceNodeID == sourceNodeID && gate.OutcomeName == outcomeName {
			return gate, true
		}
	}

	return nil, false
}

// FanOutsFor returns the fan-out rules triggered by an outcome in a node.
func (s *Snapshot) FanOutsFor(sourceNodeID, outcomeName string) []*SnapshotFanOut {
	var rules []*SnapshotFanOut

	for _, rule := range s.FanOuts {
		if rule.SourceNodeID == sourceNodeID && rule.TriggerOutcome == outcomeName {
			rules = append(rules, rule)
		}
	}

	return rules
}

// EntryNodes returns the nodes activated when a flow starts.
func (s *Snapshot) EntryNodes() []*SnapshotNode {
	var entries []*SnapshotNode

	for _, node := range s.Nodes {
		if node.IsEntry {
			entries = append(entries, node)
		}
	}

	return entries
}

// HasOutcome reports whether the task declares the given outcome name.
func (t *SnapshotTask) HasOutcome(name string) bool {
	for _, outcome := range t.Outcomes {
		if outcome == name {
			return true
		}
	}

	return false
}

func copyStringPointer(value *string) *string {
	if value == nil {
		return nil
	}

	copied := *value

	return &copied
}

func copyStringMap(source map[string]string) map[string]string {
	if source == nil {
		return nil
	}

	copied := make(map[string]string, len(source))
	for key, value := range source {
		copied[key] = value
	}

	return copied
}
