package engine

import (
	"github.com/flowvia/flowvia/pkg/models"
)

// TaskStatus is the derived state of one task within a node iteration.
type TaskStatus string

const (
	TaskStatusNotActionable   TaskStatus = "not_actionable"
	TaskStatusActionable      TaskStatus = "actionable"
	TaskStatusStarted         TaskStatus = "started"
	TaskStatusOutcomeRecorded TaskStatus = "outcome_recorded"
)

// NodeStatus is the derived state of one node. It is never stored.
type NodeStatus string

const (
	NodeStatusInactive NodeStatus = "inactive"
	NodeStatusActive   NodeStatus = "active"
	NodeStatusComplete NodeStatus = "complete"
)

// TaskState is the derived view of a task at the node's current iteration.
type TaskState struct {
	NodeID      string     `json:"node_id"`
	TaskID      string     `json:"task_id"`
	TaskName    string     `json:"task_name"`
	Iteration   int        `json:"iteration"`
	Status      TaskStatus `json:"status"`
	ExecutionID string     `json:"execution_id,omitempty"`
	Outcome     string     `json:"outcome,omitempty"`
	Suppressed  bool       `json:"suppressed,omitempty"`

	// Dependencies are the cross-flow dependencies that must hold before
	// the task may start. The reducer cannot see other flows, so it lists
	// them unresolved; the engine settles them against the flow group at
	// query time.
	Dependencies []*models.CrossFlowDependency `json:"dependencies,omitempty"`
}

// NodeState is the derived view of one node.
type NodeState struct {
	NodeID     string       `json:"node_id"`
	Name       string       `json:"name"`
	Status     NodeStatus   `json:"status"`
	Iteration  int          `json:"iteration"` // 0 until first activation
	Suppressed bool         `json:"suppressed,omitempty"`
	Tasks      []*TaskState `json:"tasks"`
}

// FlowState is the complete derived view of a flow: a pure function of the
// snapshot and the truth log. Deriving the same log twice yields deeply
// equal states.
type FlowState struct {
	Revision int          `json:"revision"`
	Complete bool         `json:"complete"`
	Nodes    []*NodeState `json:"nodes"`
}

type executionKey struct {
	taskID    string
	iteration int
}

// DeriveState reduces the truth log into the current flow state. It reads
// nothing but its arguments and mutates neither.
func DeriveState(snapshot *models.Snapshot, log *models.FlowLog) *FlowState {
	iterations := make(map[string]int)

	for _, activation := range log.Activations {
		if activation.Iteration > iterations[activation.NodeID] {
			iterations[activation.NodeID] = activation.Iteration
		}
	}

	executions := make(map[executionKey]*models.TaskExecution, len(log.Executions))

	pendingExecution := false

	for _, execution := range log.Executions {
		executions[executionKey{execution.TaskID, execution.Iteration}] = execution

		if !execution.Completed() {
			pendingExecution = true
		}
	}

	suppressed, blockingDetour := suppressedNodes(snapshot, log)

	state := &FlowState{
		Revision: log.Revision(),
		Nodes:    make([]*NodeState, 0, len(snapshot.Nodes)),
	}

	activated := 0
	allComplete := true

	for _, node := range snapshot.Nodes {
		nodeState := deriveNode(node, iterations[node.ID], executions, suppressed[node.ID])
		state.Nodes = append(state.Nodes, nodeState)

		if nodeState.Status == NodeStatusInactive {
			continue
		}

		activated++

		if nodeState.Status != NodeStatusComplete {
			allComplete = false
		}
	}

	// A blocking detour keeps the flow open even when every activated node
	// finished: the suppressed successors are still activatable work.
	state.Complete = activated > 0 && allComplete && !pendingExecution && !blockingDetour

	return state
}

func deriveNode(node *models.SnapshotNode, iteration int, executions map[executionKey]*models.TaskExecution, suppressed bool) *NodeState {
	nodeState := &NodeState{
		NodeID:     node.ID,
		Name:       node.Name,
		Status:     NodeStatusInactive,
		Iteration:  iteration,
		Suppressed: suppressed,
		Tasks:      make([]*TaskState, 0, len(node.Tasks)),
	}

	if iteration > 0 {
		if nodeCompleteForIteration(node, iteration, executions) {
			nodeState.Status = NodeStatusComplete
		} else {
			nodeState.Status = NodeStatusActive
		}
	}

	for _, task := range node.Tasks {
		taskState := &TaskState{
			NodeID:    node.ID,
			TaskID:    task.ID,
			TaskName:  task.Name,
			Iteration: iteration,
			Status:    TaskStatusNotActionable,
		}

		if execution := executions[executionKey{task.ID, iteration}]; execution != nil {
			taskState.ExecutionID = execution.ID

			if execution.Completed() {
				taskState.Status = TaskStatusOutcomeRecorded
				taskState.Outcome = *execution.OutcomeName
			} else {
				taskState.Status = TaskStatusStarted
			}
		} else if nodeState.Status == NodeStatusActive {
			if suppressed {
				taskState.Suppressed = true
			} else {
				taskState.Status = TaskStatusActionable
				taskState.Dependencies = task.CrossFlowDependencies
			}
		}

		nodeState.Tasks = append(nodeState.Tasks, taskState)
	}

	return nodeState
}

// nodeCompleteForIteration applies the completion rule to one iteration.
// all_tasks_done and specific_tasks_done are vacuously satisfied by empty
// task sets, so a node without tasks completes the moment it activates.
func nodeCompleteForIteration(node *models.SnapshotNode, iteration int, executions map[executionKey]*models.TaskExecution) bool {
	if iteration == 0 {
		return false
	}

	recorded := func(taskID string) bool {
		execution := executions[executionKey{taskID, iteration}]

		return execution != nil && execution.Completed()
	}

	switch node.CompletionRule {
	case models.CompletionRuleAnyTask:
		for _, task := range node.Tasks {
			if recorded(task.ID) {
				return true
			}
		}

		return false
	case models.CompletionRuleSpecificTasks:
		for _, taskID := range node.SpecificTasks {
			if !recorded(taskID) {
				return false
			}
		}

		return true
	default:
		for _, task := range node.Tasks {
			if !recorded(task.ID) {
				return false
			}
		}

		return true
	}
}

// suppressedNodes unions the transitive successors of every active blocking
// detour's checkpoint node. The second result reports whether any blocking
// detour is active at all.
func suppressedNodes(snapshot *models.Snapshot, log *models.FlowLog) (map[string]bool, bool) {
	suppressed := make(map[string]bool)
	blocking := false

	for _, detour := range log.Detours {
		if detour.Status != models.DetourStatusActive || detour.Type != models.DetourTypeBlocking {
			continue
		}

		blocking = true

		if node := snapshot.NodeByID(detour.CheckpointNodeID); node != nil {
			for _, successor := range node.TransitiveSuccessors {
				suppressed[successor] = true
			}
		}
	}

	return suppressed, blocking
}

// Node returns the derived state of one node, or nil.
func (s *FlowState) Node(nodeID string) *NodeState {
	for _, node := range s.Nodes {
		if node.NodeID == nodeID {
			return node
		}
	}

	return nil
}

// Task returns the derived state of one task, or nil.
func (s *FlowState) Task(taskID string) *TaskState {
	for _, node := range s.Nodes {
		for _, task := range node.Tasks {
			if task.TaskID == taskID {
				return task
			}
		}
	}

	return nil
}

// ActionableTasks returns tasks the reducer found actionable, in snapshot
// order. Cross-flow dependencies are still unresolved at this point.
func (s *FlowState) ActionableTasks() []*TaskState {
	var actionable []*TaskState

	for _, node := range s.Nodes {
		for _, task := range node.Tasks {
			if task.Status == TaskStatusActionable {
				actionable = append(actionable, task)
			}
		}
	}

	return actionable
}
