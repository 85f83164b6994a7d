// Package engine executes flows against published workflow snapshots. The
// append-only truth log is the only thing it writes; every read derives
// state from the log through the pure reducer in state.go.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowvia/flowvia/pkg/eventbus"
	"github.com/flowvia/flowvia/pkg/events"
	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/otelhelper"
	"github.com/flowvia/flowvia/pkg/persistence"
)

type Engine struct {
	persistence persistence.Persistence
	bus         eventbus.EventPublisher
	cache       StateCache
	logger      *slog.Logger
	tracer      trace.Tracer
	locks       *flowLocks

	// Now supplies every timestamp the engine records. Tests pin it.
	Now func() time.Time
}

func New(p persistence.Persistence, bus eventbus.EventPublisher, cache StateCache, logger *slog.Logger) *Engine {
	if cache == nil {
		cache = NoopStateCache{}
	}

	return &Engine{
		persistence: p,
		bus:         bus,
		cache:       cache,
		logger:      logger.With("module", "engine"),
		tracer:      otel.Tracer("flowvia.engine"),
		locks:       newFlowLocks(),
		Now:         time.Now,
	}
}

// SetTracer replaces the default tracer from the global provider.
func (e *Engine) SetTracer(tracer trace.Tracer) {
	e.tracer = tracer
}

// StartFlowRequest describes one flow instantiation.
type StartFlowRequest struct {
	WorkflowID string
	Version    int    // 0 selects the latest published version
	GroupID    string // empty scopes the flow to itself
	StartedBy  string
}

// OutcomeResult reports everything one recorded outcome caused.
type OutcomeResult struct {
	Execution      *models.TaskExecution    `json:"execution"`
	ActivatedNodes []*models.NodeActivation `json:"activated_nodes,omitempty"`
	FanOuts        []*models.FanOutLaunch   `json:"fan_outs,omitempty"`
	FlowCompleted  bool                     `json:"flow_completed"`
}

// FlowDetail is the full derived view of one flow.
type FlowDetail struct {
	Flow  *models.Flow    `json:"flow"`
	State *FlowState      `json:"state"`
	Log   *models.FlowLog `json:"log"`
}

// StartFlow instantiates a flow against a published workflow version and
// activates its entry nodes atomically with the flow row.
func (e *Engine) StartFlow(ctx context.Context, req StartFlowRequest) (*models.Flow, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start_flow",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
	)
	defer span.End()

	workflow, err := e.persistence.Workflows().GetByID(ctx, req.WorkflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if workflow == nil {
		return nil, persistence.NewWorkflowError("start_flow", req.WorkflowID, persistence.ErrWorkflowNotFound)
	}

	version, err := e.resolveVersion(ctx, req.WorkflowID, req.Version)
	if err != nil {
		return nil, err
	}

	now := e.Now().UTC()
	flow := &models.Flow{
		ID:         newID(),
		TenantID:   workflow.TenantID,
		WorkflowID: req.WorkflowID,
		Version:    version.Version,
		Status:     models.FlowStatusActive,
		StartedAt:  now,
		StartedBy:  req.StartedBy,
	}

	flow.GroupID = req.GroupID
	if flow.GroupID == "" {
		flow.GroupID = flow.ID
	}

	activations := entryActivations(version.Snapshot, flow.ID, now)

	if err := e.persistence.Flows().CreateFlow(ctx, flow, activations); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "Flow started",
		"flow_id", flow.ID,
		"workflow_id", flow.WorkflowID,
		"version", flow.Version,
		"group_id", flow.GroupID)

	started := events.FlowStarted{
		BaseEvent: events.NewBaseEvent(events.FlowStartedEvent, flow.WorkflowID),
		FlowID:    flow.ID,
		GroupID:   flow.GroupID,
		Version:   flow.Version,
		StartedBy: req.StartedBy,
	}
	started.TenantID = flow.TenantID
	e.publish(ctx, flow.ID, started)

	e.publishActivations(ctx, flow, activations)

	return flow, nil
}

// ActivateEntryNodes ensures every entry node has its iteration 1
// activation. StartFlow creates these already, so the call is an idempotent
// no-op unless activations are missing; existing rows are never duplicated.
func (e *Engine) ActivateEntryNodes(ctx context.Context, flowID string) ([]*models.NodeActivation, error) {
	release := e.locks.acquire(flowID)
	defer release()

	fc, err := e.loadFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if fc.flow.Status != models.FlowStatusActive {
		return nil, NewError(CodeFlowNotActive, fmt.Sprintf("flow %s is %s", flowID, fc.flow.Status))
	}

	existing := make(map[string]bool)

	for _, activation := range fc.log.Activations {
		if activation.Iteration == 1 {
			existing[activation.NodeID] = true
		}
	}

	var created []*models.NodeActivation

	now := e.Now().UTC()

	for _, node := range fc.snapshot.EntryNodes() {
		if existing[node.ID] {
			continue
		}

		activation := &models.NodeActivation{
			ID:          newID(),
			FlowID:      flowID,
			NodeID:      node.ID,
			Iteration:   1,
			ActivatedAt: now,
		}

		if err := e.persistence.Flows().AppendActivation(ctx, activation); err != nil {
			if errors.Is(err, persistence.ErrActivationExists) {
				continue
			}

			return nil, err
		}

		created = append(created, activation)
	}

	if len(created) > 0 {
		e.logger.InfoContext(ctx, "Entry nodes activated", "flow_id", flowID, "count", len(created))
		e.publishActivations(ctx, fc.flow, created)
	}

	return created, nil
}

// CancelFlow terminates an active flow. The truth log is left untouched.
func (e *Engine) CancelFlow(ctx context.Context, flowID, reason, actor string) (*models.Flow, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.cancel_flow",
		attribute.String(otelhelper.FlowIDKey, flowID),
	)
	defer span.End()

	release := e.locks.acquire(flowID)
	defer release()

	flow, err := e.persistence.Flows().GetFlow(ctx, flowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if flow == nil {
		return nil, persistence.NewFlowError("cancel", flowID, persistence.ErrFlowNotFound)
	}

	if flow.Status != models.FlowStatusActive {
		return nil, NewError(CodeFlowNotActive, fmt.Sprintf("flow %s is %s", flowID, flow.Status))
	}

	now := e.Now().UTC()
	if err := e.persistence.Flows().UpdateFlowStatus(ctx, flowID, models.FlowStatusCancelled, &now); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	flow.Status = models.FlowStatusCancelled
	flow.CompletedAt = &now

	e.logger.InfoContext(ctx, "Flow cancelled", "flow_id", flowID, "reason", reason)

	cancelled := events.FlowCancelled{
		BaseEvent:   events.NewBaseEvent(events.FlowCancelledEvent, flow.WorkflowID),
		FlowID:      flowID,
		Reason:      reason,
		CancelledBy: actor,
	}
	cancelled.TenantID = flow.TenantID
	e.publish(ctx, flowID, cancelled)

	return flow, nil
}

// StartTask creates an execution for an actionable task.
func (e *Engine) StartTask(ctx context.Context, flowID, taskID, actor string) (*models.TaskExecution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start_task",
		attribute.String(otelhelper.FlowIDKey, flowID),
		attribute.String(otelhelper.TaskIDKey, taskID),
	)
	defer span.End()

	release := e.locks.acquire(flowID)
	defer release()

	fc, err := e.loadFlow(ctx, flowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if fc.flow.Status != models.FlowStatusActive {
		return nil, NewError(CodeFlowNotActive, fmt.Sprintf("flow %s is %s", flowID, fc.flow.Status))
	}

	node, task := fc.snapshot.TaskByID(taskID)
	if task == nil {
		return nil, fmt.Errorf("task %q is not part of workflow %s version %d", taskID, fc.flow.WorkflowID, fc.flow.Version)
	}

	state, err := e.deriveSettled(ctx, fc)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	taskState := state.Task(taskID)

	switch taskState.Status {
	case TaskStatusStarted, TaskStatusOutcomeRecorded:
		return nil, NewError(CodeTaskAlreadyStarted,
			fmt.Sprintf("task %s already has an execution for iteration %d", taskID, taskState.Iteration))
	case TaskStatusNotActionable:
		return nil, NewError(CodeTaskNotActionable, notActionableReason(state, taskState))
	case TaskStatusActionable:
	}

	execution := &models.TaskExecution{
		ID:        newID(),
		FlowID:    flowID,
		NodeID:    node.ID,
		TaskID:    taskID,
		Iteration: taskState.Iteration,
		StartedAt: e.Now().UTC(),
		StartedBy: actor,
	}

	if err := e.persistence.Flows().AppendExecution(ctx, execution); err != nil {
		if errors.Is(err, persistence.ErrExecutionExists) {
			return nil, NewError(CodeTaskAlreadyStarted,
				fmt.Sprintf("task %s already has an execution for iteration %d", taskID, taskState.Iteration))
		}

		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "Task started",
		"flow_id", flowID,
		"node_id", node.ID,
		"task_id", taskID,
		"iteration", execution.Iteration)

	startedEvent := events.TaskStarted{
		BaseEvent:   events.NewBaseEvent(events.TaskStartedEvent, fc.flow.WorkflowID),
		FlowID:      flowID,
		NodeID:      node.ID,
		TaskID:      taskID,
		ExecutionID: execution.ID,
		Iteration:   execution.Iteration,
		StartedBy:   actor,
	}
	startedEvent.TenantID = fc.flow.TenantID
	e.publish(ctx, flowID, startedEvent)

	return execution, nil
}

// RecordOutcome sets a started execution's outcome, routes the matching
// gate, launches fan-outs and completes the flow when nothing remains. The
// outcome, the routed activations and the flow status land in one
// transaction; fan-out launches run after it and are recorded either way.
func (e *Engine) RecordOutcome(ctx context.Context, flowID, taskID, outcomeName, actor string) (*OutcomeResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.record_outcome",
		attribute.String(otelhelper.FlowIDKey, flowID),
		attribute.String(otelhelper.TaskIDKey, taskID),
	)
	defer span.End()

	release := e.locks.acquire(flowID)
	defer release()

	fc, err := e.loadFlow(ctx, flowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if fc.flow.Status != models.FlowStatusActive {
		return nil, NewError(CodeFlowNotActive, fmt.Sprintf("flow %s is %s", flowID, fc.flow.Status))
	}

	node, task := fc.snapshot.TaskByID(taskID)
	if task == nil {
		return nil, fmt.Errorf("task %q is not part of workflow %s version %d", taskID, fc.flow.WorkflowID, fc.flow.Version)
	}

	state := e.deriveCached(ctx, fc)
	taskState := state.Task(taskID)

	// Preconditions, in order.
	switch taskState.Status {
	case TaskStatusNotActionable, TaskStatusActionable:
		return nil, NewError(CodeTaskNotStarted,
			fmt.Sprintf("task %s has no execution for iteration %d", taskID, taskState.Iteration))
	case TaskStatusOutcomeRecorded:
		return nil, NewError(CodeOutcomeAlreadyRecorded,
			fmt.Sprintf("task %s already recorded %s for iteration %d", taskID, taskState.Outcome, taskState.Iteration))
	case TaskStatusStarted:
	}

	if !task.HasOutcome(outcomeName) {
		return nil, NewError(CodeInvalidOutcome,
			fmt.Sprintf("outcome %q is not declared on task %s", outcomeName, taskID))
	}

	if task.EvidenceRequired {
		if err := checkEvidence(task, fc.log.Evidence); err != nil {
			return nil, err
		}
	}

	execution := fc.log.ExecutionByID(taskState.ExecutionID)
	now := e.Now().UTC()

	activations, flowCompleted := e.routeOutcome(fc, execution, outcomeName, actor, now)

	record := persistence.OutcomeRecord{
		FlowID:        flowID,
		ExecutionID:   execution.ID,
		OutcomeName:   outcomeName,
		CompletedAt:   now,
		CompletedBy:   actor,
		Activations:   activations,
		FlowCompleted: flowCompleted,
	}

	if err := e.persistence.Flows().RecordOutcome(ctx, record); err != nil {
		if errors.Is(err, persistence.ErrOutcomeAlreadyRecorded) {
			return nil, NewError(CodeOutcomeAlreadyRecorded,
				fmt.Sprintf("task %s already recorded an outcome for iteration %d", taskID, taskState.Iteration))
		}

		otelhelper.SetError(span, err)

		return nil, err
	}

	name := outcomeName
	by := actor
	execution.OutcomeName = &name
	execution.CompletedAt = &now
	execution.CompletedBy = &by

	e.logger.InfoContext(ctx, "Outcome recorded",
		"flow_id", flowID,
		"node_id", node.ID,
		"task_id", taskID,
		"outcome", outcomeName,
		"iteration", execution.Iteration,
		"flow_completed", flowCompleted)

	// The triggering transaction is already committed; launch failures are
	// recorded, never unwound.
	launches := e.launchFanOuts(ctx, fc, node.ID, outcomeName)

	recorded := events.OutcomeRecorded{
		BaseEvent:      events.NewBaseEvent(events.OutcomeRecordedEvent, fc.flow.WorkflowID),
		FlowID:         flowID,
		NodeID:         node.ID,
		TaskID:         taskID,
		ExecutionID:    execution.ID,
		Iteration:      execution.Iteration,
		OutcomeName:    outcomeName,
		RecordedBy:     actor,
		ActivatedNodes: activationNodeIDs(activations),
		FlowCompleted:  flowCompleted,
	}
	recorded.TenantID = fc.flow.TenantID
	e.publish(ctx, flowID, recorded)

	e.publishActivations(ctx, fc.flow, activations)

	if flowCompleted {
		completed := events.FlowCompleted{
			BaseEvent: events.NewBaseEvent(events.FlowCompletedEvent, fc.flow.WorkflowID),
			FlowID:    flowID,
			GroupID:   fc.flow.GroupID,
			Duration:  now.Sub(fc.flow.StartedAt),
		}
		completed.TenantID = fc.flow.TenantID
		e.publish(ctx, flowID, completed)
	}

	return &OutcomeResult{
		Execution:      execution,
		ActivatedNodes: activations,
		FanOuts:        launches,
		FlowCompleted:  flowCompleted,
	}, nil
}

// GetFlow returns the flow row.
func (e *Engine) GetFlow(ctx context.Context, flowID string) (*models.Flow, error) {
	flow, err := e.persistence.Flows().GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow == nil {
		return nil, persistence.NewFlowError("get", flowID, persistence.ErrFlowNotFound)
	}

	return flow, nil
}

// GetFlowDetail returns the flow with its derived state and raw truth log.
func (e *Engine) GetFlowDetail(ctx context.Context, flowID string) (*FlowDetail, error) {
	fc, err := e.loadFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	state, err := e.deriveSettled(ctx, fc)
	if err != nil {
		return nil, err
	}

	return &FlowDetail{Flow: fc.flow, State: state, Log: fc.log}, nil
}

// GetFlowState returns the derived state with cross-flow dependencies
// settled against the flow group.
func (e *Engine) GetFlowState(ctx context.Context, flowID string) (*FlowState, error) {
	fc, err := e.loadFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	return e.deriveSettled(ctx, fc)
}

// GetActionableTasks returns every task that may be started right now.
func (e *Engine) GetActionableTasks(ctx context.Context, flowID string) ([]*TaskState, error) {
	state, err := e.GetFlowState(ctx, flowID)
	if err != nil {
		return nil, err
	}

	return state.ActionableTasks(), nil
}

// IsTaskActionable reports whether the task may be started right now.
func (e *Engine) IsTaskActionable(ctx context.Context, flowID, taskID string) (bool, error) {
	fc, err := e.loadFlow(ctx, flowID)
	if err != nil {
		return false, err
	}

	if _, task := fc.snapshot.TaskByID(taskID); task == nil {
		return false, fmt.Errorf("task %q is not part of workflow %s version %d", taskID, fc.flow.WorkflowID, fc.flow.Version)
	}

	state := e.deriveCached(ctx, fc)

	taskState := state.Task(taskID)
	if taskState.Status != TaskStatusActionable {
		return false, nil
	}

	return e.dependenciesSatisfied(ctx, fc.flow, taskState.Dependencies)
}

type flowContext struct {
	flow     *models.Flow
	snapshot *models.Snapshot
	log      *models.FlowLog
}

func (e *Engine) loadFlow(ctx context.Context, flowID string) (*flowContext, error) {
	flow, err := e.persistence.Flows().GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow == nil {
		return nil, persistence.NewFlowError("load", flowID, persistence.ErrFlowNotFound)
	}

	version, err := e.persistence.Versions().Get(ctx, flow.WorkflowID, flow.Version)
	if err != nil {
		return nil, err
	}

	if version == nil || version.Snapshot == nil {
		return nil, fmt.Errorf("snapshot missing for workflow %s version %d: %w",
			flow.WorkflowID, flow.Version, persistence.ErrVersionNotFound)
	}

	log, err := e.persistence.Flows().LoadLog(ctx, flowID)
	if err != nil {
		return nil, err
	}

	return &flowContext{flow: flow, snapshot: version.Snapshot, log: log}, nil
}

func (e *Engine) resolveVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowVersion, error) {
	if version > 0 {
		resolved, err := e.persistence.Versions().Get(ctx, workflowID, version)
		if err != nil {
			return nil, err
		}

		if resolved == nil {
			return nil, fmt.Errorf("workflow %s has no published version %d: %w",
				workflowID, version, persistence.ErrVersionNotFound)
		}

		return resolved, nil
	}

	latest, err := e.persistence.Versions().Latest(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if latest == nil {
		return nil, fmt.Errorf("workflow %s has no published version: %w",
			workflowID, persistence.ErrVersionNotFound)
	}

	return latest, nil
}

func (e *Engine) deriveCached(ctx context.Context, fc *flowContext) *FlowState {
	revision := fc.log.Revision()
	if state, ok := e.cache.Get(ctx, fc.flow.ID, revision); ok {
		return state
	}

	state := DeriveState(fc.snapshot, fc.log)
	e.cache.Put(ctx, fc.flow.ID, state)

	return state
}

func (e *Engine) deriveSettled(ctx context.Context, fc *flowContext) (*FlowState, error) {
	state := e.deriveCached(ctx, fc)

	if err := e.settleDependencies(ctx, fc.flow, state); err != nil {
		return nil, err
	}

	return state, nil
}

// settleDependencies demotes actionable tasks whose cross-flow dependencies
// are not yet met within the flow group. The reducer lists the dependencies;
// only the engine can look across flows.
func (e *Engine) settleDependencies(ctx context.Context, flow *models.Flow, state *FlowState) error {
	for _, node := range state.Nodes {
		for _, task := range node.Tasks {
			if task.Status != TaskStatusActionable || len(task.Dependencies) == 0 {
				continue
			}

			satisfied, err := e.dependenciesSatisfied(ctx, flow, task.Dependencies)
			if err != nil {
				return err
			}

			if !satisfied {
				task.Status = TaskStatusNotActionable
			}
		}
	}

	return nil
}

func (e *Engine) dependenciesSatisfied(ctx context.Context, flow *models.Flow, dependencies []*models.CrossFlowDependency) (bool, error) {
	for _, dependency := range dependencies {
		met, err := e.persistence.Flows().GroupHasOutcome(ctx, flow.GroupID,
			dependency.SourceWorkflowID, dependency.NodeID, dependency.TaskID, dependency.RequiredOutcome)
		if err != nil {
			return false, err
		}

		if !met {
			return false, nil
		}
	}

	return true, nil
}

// routeOutcome evaluates the gate for the outcome against the state the log
// will have once the outcome lands. A completed target re-activates at the
// next iteration (loopback); a target that is still active absorbs the
// routing into its live iteration. The second result reports whether the
// flow is complete after the outcome and any activation.
func (e *Engine) routeOutcome(fc *flowContext, execution *models.TaskExecution, outcomeName, actor string, at time.Time) ([]*models.NodeActivation, bool) {
	afterOutcome := speculativeLog(fc.log, execution.ID, outcomeName, actor, at, nil)

	var activations []*models.NodeActivation

	if gate, ok := fc.snapshot.Gate(execution.NodeID, outcomeName); ok && gate.TargetNodeID != nil {
		target := DeriveState(fc.snapshot, afterOutcome).Node(*gate.TargetNodeID)

		switch target.Status {
		case NodeStatusInactive:
			activations = append(activations, &models.NodeActivation{
				ID:          newID(),
				FlowID:      fc.flow.ID,
				NodeID:      target.NodeID,
				Iteration:   1,
				ActivatedAt: at,
			})
		case NodeStatusComplete:
			activations = append(activations, &models.NodeActivation{
				ID:          newID(),
				FlowID:      fc.flow.ID,
				NodeID:      target.NodeID,
				Iteration:   target.Iteration + 1,
				ActivatedAt: at,
			})
		case NodeStatusActive:
		}
	}

	final := DeriveState(fc.snapshot, speculativeLog(fc.log, execution.ID, outcomeName, actor, at, activations))

	return activations, final.Complete
}

// speculativeLog builds a log variant with the execution's outcome applied
// and extra activations appended, without mutating the original.
func speculativeLog(log *models.FlowLog, executionID, outcomeName, actor string, at time.Time, activations []*models.NodeActivation) *models.FlowLog {
	executions := make([]*models.TaskExecution, len(log.Executions))

	for i, execution := range log.Executions {
		if execution.ID != executionID {
			executions[i] = execution

			continue
		}

		completed := *execution
		name := outcomeName
		completedAt := at
		by := actor
		completed.OutcomeName = &name
		completed.CompletedAt = &completedAt
		completed.CompletedBy = &by
		executions[i] = &completed
	}

	merged := make([]*models.NodeActivation, 0, len(log.Activations)+len(activations))
	merged = append(merged, log.Activations...)
	merged = append(merged, activations...)

	return &models.FlowLog{
		Activations: merged,
		Executions:  executions,
		Evidence:    log.Evidence,
		Detours:     log.Detours,
		FanOuts:     log.FanOuts,
	}
}

// checkEvidence enforces the outcome-time evidence gate: at least one
// attachment must satisfy the task's schema constraints. Attach-time checks
// only format, so a well-formed but short text attachment lands fine and
// still gates the outcome here.
func checkEvidence(task *models.SnapshotTask, attachments []*models.EvidenceAttachment) error {
	attached := 0

	for _, attachment := range attachments {
		if attachment.TaskID != task.ID {
			continue
		}

		attached++

		if task.EvidenceSchema.Satisfies(attachment.Type, attachment.Data) {
			return nil
		}
	}

	if attached == 0 {
		return NewError(CodeEvidenceRequired, fmt.Sprintf("task %s requires evidence before an outcome", task.ID))
	}

	return NewError(CodeEvidenceRequired,
		fmt.Sprintf("task %s has %d evidence attachments but none satisfies the schema", task.ID, attached))
}

func notActionableReason(state *FlowState, task *TaskState) string {
	if task.Suppressed {
		return fmt.Sprintf("task %s is suppressed by a blocking detour", task.TaskID)
	}

	if node := state.Node(task.NodeID); node != nil && node.Status != NodeStatusActive {
		return fmt.Sprintf("task %s is not actionable: node %s is %s", task.TaskID, task.NodeID, node.Status)
	}

	if len(task.Dependencies) > 0 {
		return fmt.Sprintf("task %s is waiting on cross-flow dependencies", task.TaskID)
	}

	return fmt.Sprintf("task %s is not actionable", task.TaskID)
}

func entryActivations(snapshot *models.Snapshot, flowID string, at time.Time) []*models.NodeActivation {
	var activations []*models.NodeActivation

	for _, node := range snapshot.EntryNodes() {
		activations = append(activations, &models.NodeActivation{
			ID:          newID(),
			FlowID:      flowID,
			NodeID:      node.ID,
			Iteration:   1,
			ActivatedAt: at,
		})
	}

	return activations
}

func activationNodeIDs(activations []*models.NodeActivation) []string {
	if len(activations) == 0 {
		return nil
	}

	ids := make([]string, 0, len(activations))
	for _, activation := range activations {
		ids = append(ids, activation.NodeID)
	}

	return ids
}

func (e *Engine) publishActivations(ctx context.Context, flow *models.Flow, activations []*models.NodeActivation) {
	for _, activation := range activations {
		activated := events.NodeActivated{
			BaseEvent: events.NewBaseEvent(events.NodeActivatedEvent, flow.WorkflowID),
			FlowID:    flow.ID,
			NodeID:    activation.NodeID,
			Iteration: activation.Iteration,
		}
		activated.TenantID = flow.TenantID
		e.publish(ctx, flow.ID, activated)
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
