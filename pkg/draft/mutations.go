package draft

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowvia/flowvia/pkg/models"
)

// Meta carries the workflow-level fields of the buffer content.
type Meta struct {
	Name           string
	Description    string
	NonTerminating bool
}

// UpdateNode upserts one node in the buffer, matching by node ID. Missing
// node, task and outcome ids are assigned.
func (s *Stage) UpdateNode(ctx context.Context, workflowID, tenantID string, node *models.DraftNode) (*models.DraftBuffer, error) {
	return s.mutate(ctx, workflowID, tenantID, func(content *models.DraftContent) error {
		if node == nil {
			return fmt.Errorf("%w: node is required", ErrInvalidContent)
		}

		if node.ID == "" {
			node.ID = newID()
		}

		for _, task := range node.Tasks {
			if task.ID == "" {
				task.ID = newID()
			}

			for _, outcome := range task.Outcomes {
				if outcome.ID == "" {
					outcome.ID = newID()
				}
			}
		}

		for i, existing := range content.Nodes {
			if existing.ID == node.ID {
				content.Nodes[i] = node

				return nil
			}
		}

		content.Nodes = append(content.Nodes, node)

		return nil
	})
}

// RemoveNode deletes a node from the buffer together with every gate and
// fan-out rule referencing it, so the buffer never holds dangling edges.
func (s *Stage) RemoveNode(ctx context.Context, workflowID, tenantID, nodeID string) (*models.DraftBuffer, error) {
	return s.mutate(ctx, workflowID, tenantID, func(content *models.DraftContent) error {
		index := -1

		for i, node := range content.Nodes {
			if node.ID == nodeID {
				index = i

				break
			}
		}

		if index < 0 {
			return ErrNodeNotFound
		}

		content.Nodes = append(content.Nodes[:index], content.Nodes[index+1:]...)

		gates := content.Gates[:0]

		for _, gate := range content.Gates {
			if gate.SourceNodeID == nodeID {
				continue
			}

			if gate.TargetNodeID != nil && *gate.TargetNodeID == nodeID {
				continue
			}

			gates = append(gates, gate)
		}

		content.Gates = gates

		rules := content.FanOuts[:0]

		for _, rule := range content.FanOuts {
			if rule.SourceNodeID == nodeID {
				continue
			}

			rules = append(rules, rule)
		}

		content.FanOuts = rules

		return nil
	})
}

// UpsertGate adds or replaces a gate, matching by gate ID. The referenced
// nodes must exist in the buffer.
func (s *Stage) UpsertGate(ctx context.Context, workflowID, tenantID string, gate *models.Gate) (*models.DraftBuffer, error) {
	return s.mutate(ctx, workflowID, tenantID, func(content *models.DraftContent) error {
		if gate == nil {
			return fmt.Errorf("%w: gate is required", ErrInvalidContent)
		}

		if content.FindNode(gate.SourceNodeID) == nil {
			return fmt.Errorf("%w: gate references unknown node %q", ErrInvalidContent, gate.SourceNodeID)
		}

		if gate.TargetNodeID != nil && content.FindNode(*gate.TargetNodeID) == nil {
			return fmt.Errorf("%w: gate references unknown node %q", ErrInvalidContent, *gate.TargetNodeID)
		}

		if gate.ID == "" {
			gate.ID = newID()
		}

		for i, existing := range content.Gates {
			if existing.ID == gate.ID {
				content.Gates[i] = gate

				return nil
			}
		}

		content.Gates = append(content.Gates, gate)

		return nil
	})
}

// RemoveGate deletes a gate from the buffer.
func (s *Stage) RemoveGate(ctx context.Context, workflowID, tenantID, gateID string) (*models.DraftBuffer, error) {
	return s.mutate(ctx, workflowID, tenantID, func(content *models.DraftContent) error {
		for i, gate := range content.Gates {
			if gate.ID == gateID {
				content.Gates = append(content.Gates[:i], content.Gates[i+1:]...)

				return nil
			}
		}

		return ErrGateNotFound
	})
}

// UpsertFanOut adds or replaces a fan-out rule, matching by rule ID. The
// source node must exist in the buffer.
func (s *Stage) UpsertFanOut(ctx context.Context, workflowID, tenantID string, rule *models.FanOutRule) (*models.DraftBuffer, error) {
	return s.mutate(ctx, workflowID, tenantID, func(content *models.DraftContent) error {
		if rule == nil {
			return fmt.Errorf("%w: fan-out rule is required", ErrInvalidContent)
		}

		if content.FindNode(rule.SourceNodeID) == nil {
			return fmt.Errorf("%w: fan-out rule references unknown node %q", ErrInvalidContent, rule.SourceNodeID)
		}

		if rule.TargetWorkflowID == "" {
			return fmt.Errorf("%w: fan-out rule has no target workflow", ErrInvalidContent)
		}

		if rule.ID == "" {
			rule.ID = newID()
		}

		for i, existing := range content.FanOuts {
			if existing.ID == rule.ID {
				content.FanOuts[i] = rule

				return nil
			}
		}

		content.FanOuts = append(content.FanOuts, rule)

		return nil
	})
}

// RemoveFanOut deletes a fan-out rule from the buffer.
func (s *Stage) RemoveFanOut(ctx context.Context, workflowID, tenantID, ruleID string) (*models.DraftBuffer, error) {
	return s.mutate(ctx, workflowID, tenantID, func(content *models.DraftContent) error {
		for i, rule := range content.FanOuts {
			if rule.ID == ruleID {
				content.FanOuts = append(content.FanOuts[:i], content.FanOuts[i+1:]...)

				return nil
			}
		}

		return ErrFanOutNotFound
	})
}

// SetWorkflowMeta overwrites the workflow-level fields of the buffer.
func (s *Stage) SetWorkflowMeta(ctx context.Context, workflowID, tenantID string, meta Meta) (*models.DraftBuffer, error) {
	return s.mutate(ctx, workflowID, tenantID, func(content *models.DraftContent) error {
		content.Name = meta.Name
		content.Description = meta.Description
		content.NonTerminating = meta.NonTerminating

		return nil
	})
}

// PutContent replaces the entire buffer content. The content is validated at
// commit time, not here, so a caller can stage work in progress.
func (s *Stage) PutContent(ctx context.Context, workflowID, tenantID string, content *models.DraftContent) (*models.DraftBuffer, error) {
	release := s.locks.acquire(workflowID, tenantID)
	defer release()

	if _, err := s.loadOwned(ctx, workflowID, tenantID); err != nil {
		return nil, err
	}

	if content == nil {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidContent)
	}

	buffer, err := s.persistence.Drafts().GetBuffer(ctx, workflowID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft buffer: %w", err)
	}

	if buffer == nil {
		return nil, ErrBufferNotFound
	}

	buffer.Content = content.Clone()
	buffer.UpdatedAt = s.Now().UTC()

	if err := s.persistence.Drafts().SaveBuffer(ctx, buffer); err != nil {
		return nil, fmt.Errorf("failed to save draft buffer: %w", err)
	}

	return buffer, nil
}

// mutate runs one buffer content change under the pair's lock: ownership
// check, load, apply, save. Relational rows are never touched.
func (s *Stage) mutate(ctx context.Context, workflowID, tenantID string, apply func(content *models.DraftContent) error) (*models.DraftBuffer, error) {
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

	if err := apply(buffer.Content); err != nil {
		return nil, err
	}

	buffer.UpdatedAt = s.Now().UTC()

	if err := s.persistence.Drafts().SaveBuffer(ctx, buffer); err != nil {
		return nil, fmt.Errorf("failed to save draft buffer: %w", err)
	}

	return buffer, nil
}

// checkContent verifies the buffer graph can hydrate into relational rows:
// ids present and unique, references resolvable. Semantic health (entry
// nodes, reachability, gate conflicts) is the validation engine's concern at
// publish time; an incomplete draft may still commit.
func checkContent(content *models.DraftContent) error {
	if content == nil {
		return fmt.Errorf("%w: buffer has no content", ErrInvalidContent)
	}

	if len(strings.TrimSpace(content.Name)) < 3 {
		return fmt.Errorf("%w: workflow name must be at least 3 characters", ErrInvalidContent)
	}

	nodeIDs := make(map[string]bool, len(content.Nodes))
	taskIDs := make(map[string]bool)

	for _, node := range content.Nodes {
		if node.ID == "" {
			return fmt.Errorf("%w: node without id", ErrInvalidContent)
		}

		if nodeIDs[node.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidContent, node.ID)
		}

		nodeIDs[node.ID] = true

		if node.Name == "" {
			return fmt.Errorf("%w: node %q has no name", ErrInvalidContent, node.ID)
		}

		switch node.CompletionRule {
		case models.CompletionRuleAllTasks, models.CompletionRuleAnyTask, models.CompletionRuleSpecificTasks:
		default:
			return fmt.Errorf("%w: node %q has unknown completion rule %q", ErrInvalidContent, node.ID, node.CompletionRule)
		}

		nodeTasks := make(map[string]bool, len(node.Tasks))

		for _, task := range node.Tasks {
			if task.ID == "" {
				return fmt.Errorf("%w: node %q has a task without id", ErrInvalidContent, node.ID)
			}

			if taskIDs[task.ID] {
				return fmt.Errorf("%w: duplicate task id %q", ErrInvalidContent, task.ID)
			}

			taskIDs[task.ID] = true
			nodeTasks[task.ID] = true

			if task.Name == "" {
				return fmt.Errorf("%w: task %q has no name", ErrInvalidContent, task.ID)
			}

			for _, outcome := range task.Outcomes {
				if outcome.Name == "" {
					return fmt.Errorf("%w: task %q has an outcome without name", ErrInvalidContent, task.ID)
				}
			}
		}

		for _, taskID := range node.SpecificTasks {
			if !nodeTasks[taskID] {
				return fmt.Errorf("%w: node %q lists unknown specific task %q", ErrInvalidContent, node.ID, taskID)
			}
		}
	}

	for _, gate := range content.Gates {
		if gate.SourceNodeID == "" || gate.OutcomeName == "" {
			return fmt.Errorf("%w: gate %q is missing source or outcome", ErrInvalidContent, gate.ID)
		}

		if !nodeIDs[gate.SourceNodeID] {
			return fmt.Errorf("%w: gate %q references unknown node %q", ErrInvalidContent, gate.ID, gate.SourceNodeID)
		}

		if gate.TargetNodeID != nil && !nodeIDs[*gate.TargetNodeID] {
			return fmt.Errorf("%w: gate %q references unknown node %q", ErrInvalidContent, gate.ID, *gate.TargetNodeID)
		}
	}

	for _, rule := range content.FanOuts {
		if !nodeIDs[rule.SourceNodeID] {
			return fmt.Errorf("%w: fan-out rule %q references unknown node %q", ErrInvalidContent, rule.ID, rule.SourceNodeID)
		}

		if rule.TargetWorkflowID == "" {
			return fmt.Errorf("%w: fan-out rule %q has no target workflow", ErrInvalidContent, rule.ID)
		}
	}

	return nil
}
