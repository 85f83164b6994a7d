// Package validation checks workflow graphs for structural problems before
// publishing. Validation is a pure function over the definition: it performs
// no I/O, reports every finding it can detect and never errors on a
// representable graph.
package validation

import (
	"fmt"
	"sort"

	"github.com/flowvia/flowvia/pkg/models"
)

// Severity classifies a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding codes.
const (
	CodeNoEntryNode           = "NO_ENTRY_NODE"
	CodeUnreachableNode       = "UNREACHABLE_NODE"
	CodeNoOutcomesDefined     = "NO_OUTCOMES_DEFINED"
	CodeOrphanedOutcome       = "ORPHANED_OUTCOME"
	CodeConflictingGateRoutes = "CONFLICTING_GATE_ROUTES"
	CodeNoTerminalPath        = "NO_TERMINAL_PATH"
	CodeCircularDependency    = "CIRCULAR_DEPENDENCY"
	CodeMissingEvidenceSchema = "MISSING_EVIDENCE_SCHEMA"
	CodeEmptySpecificTasks    = "EMPTY_SPECIFIC_TASKS"
)

// Finding is one detected problem, addressed by a slash path into the
// definition ("nodes/<id>/tasks/<id>", "gates/<node>:<outcome>", or
// "workflow" for graph-level findings).
type Finding struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
}

// Report is the full validation result. Valid is false whenever any finding
// exists, warnings included, unless Options.AllowWarnings loosens it.
type Report struct {
	Valid    bool      `json:"valid"`
	Findings []Finding `json:"findings"`
}

// HasErrors reports whether any finding has error severity.
func (r Report) HasErrors() bool {
	for _, finding := range r.Findings {
		if finding.Severity == SeverityError {
			return true
		}
	}

	return false
}

// Options tune severity handling and supply cross-workflow context.
type Options struct {
	// ForPublish treats the run as a publish gate: evidence schema findings
	// fire even while the workflow is still a draft.
	ForPublish bool
	// AllowWarnings lets a report with only warning findings count as valid.
	AllowWarnings bool
	// ExternalDependencies is the workflow-to-workflow dependency adjacency
	// of the surrounding tenant, keyed by workflow ID. The workflow under
	// validation contributes its own edges; everything else comes from here.
	ExternalDependencies map[string][]string
}

// Validate runs every check against the workflow and returns the complete,
// deterministically ordered report. It never short-circuits: a broken graph
// yields all of its findings at once.
func Validate(workflow *models.Workflow, opts Options) Report {
	var findings []Finding

	findings = append(findings, checkEntryNodes(workflow)...)
	findings = append(findings, checkReachability(workflow)...)
	findings = append(findings, checkOutcomes(workflow)...)
	findings = append(findings, checkGateRoutes(workflow)...)
	findings = append(findings, checkTerminalPath(workflow)...)
	findings = append(findings, checkCrossFlowDependencies(workflow, opts.ExternalDependencies)...)
	findings = append(findings, checkEvidenceSchemas(workflow, opts)...)
	findings = append(findings, checkSpecificTasks(workflow)...)

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Path != findings[j].Path {
			return findings[i].Path < findings[j].Path
		}

		return findings[i].Code < findings[j].Code
	})

	valid := len(findings) == 0
	if opts.AllowWarnings {
		valid = true

		for _, finding := range findings {
			if finding.Severity == SeverityError {
				valid = false

				break
			}
		}
	}

	return Report{Valid: valid, Findings: findings}
}

func checkEntryNodes(workflow *models.Workflow) []Finding {
	if len(workflow.EntryNodes()) > 0 {
		return nil
	}

	return []Finding{{
		Code:     CodeNoEntryNode,
		Severity: SeverityError,
		Path:     "workflow",
		Message:  "workflow has no entry node",
	}}
}

// checkReachability walks gates from every entry node. With zero entry nodes
// nothing is reachable and flagging each node would only echo NO_ENTRY_NODE,
// so the check stays silent in that case.
func checkReachability(workflow *models.Workflow) []Finding {
	entries := workflow.EntryNodes()
	if len(entries) == 0 {
		return nil
	}

	reachable := reachableNodes(workflow)

	var findings []Finding

	for _, node := range workflow.Nodes {
		if !reachable[node.ID] {
			findings = append(findings, Finding{
				Code:     CodeUnreachableNode,
				Severity: SeverityError,
				Path:     "nodes/" + node.ID,
				Message:  fmt.Sprintf("node %q cannot be reached from any entry node", node.Name),
			})
		}
	}

	return findings
}

func checkOutcomes(workflow *models.Workflow) []Finding {
	var findings []Finding

	for _, node := range workflow.Nodes {
		for _, task := range node.Tasks {
			taskPath := "nodes/" + node.ID + "/tasks/" + task.ID

			if len(task.Outcomes) == 0 {
				findings = append(findings, Finding{
					Code:     CodeNoOutcomesDefined,
					Severity: SeverityError,
					Path:     taskPath,
					Message:  fmt.Sprintf("task %q declares no outcomes", task.Name),
				})

				continue
			}

			for _, outcome := range task.Outcomes {
				if !gateExists(workflow, node.ID, outcome.Name) {
					findings = append(findings, Finding{
						Code:     CodeOrphanedOutcome,
						Severity: SeverityError,
						Path:     taskPath + "/outcomes/" + outcome.Name,
						Message:  fmt.Sprintf("outcome %q has no gate on node %q", outcome.Name, node.Name),
					})
				}
			}
		}
	}

	return findings
}

func checkGateRoutes(workflow *models.Workflow) []Finding {
	var findings []Finding

	targets := make(map[string]*string)
	flagged := make(map[string]bool)

	for _, gate := range workflow.Gates {
		key := gate.SourceNodeID + ":" + gate.OutcomeName

		previous, seen := targets[key]
		if !seen {
			targets[key] = gate.TargetNodeID

			continue
		}

		if sameTarget(previous, gate.TargetNodeID) || flagged[key] {
			continue
		}

		flagged[key] = true
		findings = append(findings, Finding{
			Code:     CodeConflictingGateRoutes,
			Severity: SeverityError,
			Path:     "gates/" + key,
			Message:  fmt.Sprintf("outcome %q of node %q routes to more than one target", gate.OutcomeName, gate.SourceNodeID),
		})
	}

	return findings
}

func checkTerminalPath(workflow *models.Workflow) []Finding {
	if workflow.NonTerminating || len(workflow.EntryNodes()) == 0 {
		return nil
	}

	reachable := reachableNodes(workflow)

	for _, gate := range workflow.Gates {
		if gate.TargetNodeID == nil && reachable[gate.SourceNodeID] {
			return nil
		}
	}

	return []Finding{{
		Code:     CodeNoTerminalPath,
		Severity: SeverityError,
		Path:     "workflow",
		Message:  "no path from an entry node reaches a terminal gate",
	}}
}

func checkCrossFlowDependencies(workflow *models.Workflow, external map[string][]string) []Finding {
	var findings []Finding

	for _, node := range workflow.Nodes {
		for _, task := range node.Tasks {
			for _, dep := range task.CrossFlowDependencies {
				path := "nodes/" + node.ID + "/tasks/" + task.ID

				if dep.SourceWorkflowID == workflow.ID {
					findings = append(findings, Finding{
						Code:     CodeCircularDependency,
						Severity: SeverityError,
						Path:     path,
						Message:  fmt.Sprintf("task %q depends on its own workflow", task.Name),
					})

					continue
				}

				if dependencyReaches(external, dep.SourceWorkflowID, workflow.ID) {
					findings = append(findings, Finding{
						Code:     CodeCircularDependency,
						Severity: SeverityError,
						Path:     path,
						Message:  fmt.Sprintf("dependency on workflow %q closes a cycle", dep.SourceWorkflowID),
					})
				}
			}
		}
	}

	return findings
}

func checkEvidenceSchemas(workflow *models.Workflow, opts Options) []Finding {
	// Drafts may leave schemas open while the shape is still being designed;
	// the finding fires once the workflow claims to be validated or the run
	// is a publish gate.
	if workflow.Status == models.WorkflowStatusDraft && !opts.ForPublish {
		return nil
	}

	var findings []Finding

	for _, node := range workflow.Nodes {
		for _, task := range node.Tasks {
			if task.EvidenceRequired && task.EvidenceSchema == nil {
				findings = append(findings, Finding{
					Code:     CodeMissingEvidenceSchema,
					Severity: SeverityError,
					Path:     "nodes/" + node.ID + "/tasks/" + task.ID,
					Message:  fmt.Sprintf("task %q requires evidence but declares no schema", task.Name),
				})
			}
		}
	}

	return findings
}

func checkSpecificTasks(workflow *models.Workflow) []Finding {
	var findings []Finding

	for _, node := range workflow.Nodes {
		if node.CompletionRule == models.CompletionRuleSpecificTasks && len(node.SpecificTasks) == 0 {
			findings = append(findings, Finding{
				Code:     CodeEmptySpecificTasks,
				Severity: SeverityWarning,
				Path:     "nodes/" + node.ID,
				Message:  fmt.Sprintf("node %q completes on specific tasks but lists none", node.Name),
			})
		}
	}

	return findings
}

func reachableNodes(workflow *models.Workflow) map[string]bool {
	edges := make(map[string][]string)

	for _, gate := range workflow.Gates {
		if gate.TargetNodeID != nil {
			edges[gate.SourceNodeID] = append(edges[gate.SourceNodeID], *gate.TargetNodeID)
		}
	}

	reachable := make(map[string]bool)

	var queue []string

	for _, node := range workflow.Nodes {
		if node.IsEntry {
			reachable[node.ID] = true
			queue = append(queue, node.ID)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range edges[current] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	return reachable
}

func gateExists(workflow *models.Workflow, nodeID, outcomeName string) bool {
	for _, gate := range workflow.Gates {
		if gate.SourceNodeID == nodeID && gate.OutcomeName == outcomeName {
			return true
		}
	}

	return false
}

func sameTarget(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

// dependencyReaches reports whether target is reachable from start in the
// external dependency adjacency.
func dependencyReaches(adjacency map[string][]string, start, target string) bool {
	visited := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == target {
			return true
		}

		for _, next := range adjacency[current] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	return false
}
