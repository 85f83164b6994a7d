// Package events defines event types and structures for flow lifecycle notifications.
package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const FlowTopic = "flowvia.flow.events"         // Topic for flow execution events
const WorkflowTopic = "flowvia.workflow.events" // Topic for definition and draft lifecycle events

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

// TopicFor maps an event type to the topic carrying it. Definition and
// draft lifecycle events share the workflow topic; everything a running
// flow emits goes to the flow topic.
func TopicFor(eventType EventType) string {
	family, _, _ := strings.Cut(string(eventType), ".")

	switch family {
	case "workflow", "draft":
		return WorkflowTopic
	default:
		return FlowTopic
	}
}

const (
	// Flow lifecycle events.
	FlowStartedEvent   EventType = "flow.started"
	FlowCompletedEvent EventType = "flow.completed"
	FlowCancelledEvent EventType = "flow.cancelled"

	// Progress facts appended to a flow's log.
	NodeActivatedEvent    EventType = "node.activated"
	TaskStartedEvent      EventType = "task.started"
	OutcomeRecordedEvent  EventType = "outcome.recorded"
	EvidenceAttachedEvent EventType = "evidence.attached"

	// Detour lifecycle events.
	DetourOpenedEvent    EventType = "detour.opened"
	DetourResolvedEvent  EventType = "detour.resolved"
	DetourConvertedEvent EventType = "detour.converted"

	// Fan-out events.
	FanOutLaunchedEvent EventType = "fanout.launched"
	FanOutFailedEvent   EventType = "fanout.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type FlowStarted struct {
	BaseEvent

	FlowID    string `json:"flow_id"`
	GroupID   string `json:"group_id"`
	Version   int    `json:"version"`
	StartedBy string `json:"started_by,omitempty"`
}

func (e FlowStarted) GetType() EventType {
	return FlowStartedEvent
}

type FlowCompleted struct {
	BaseEvent

	FlowID   string        `json:"flow_id"`
	GroupID  string        `json:"group_id"`
	Duration time.Duration `json:"duration"`
}

func (e FlowCompleted) GetType() EventType {
	return FlowCompletedEvent
}

type FlowCancelled struct {
	BaseEvent

	FlowID      string `json:"flow_id"`
	Reason      string `json:"reason,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`
}

func (e FlowCancelled) GetType() EventType {
	return FlowCancelledEvent
}

type NodeActivated struct {
	BaseEvent

	FlowID    string `json:"flow_id"`
	NodeID    string `json:"node_id"`
	Iteration int    `json:"iteration"`
}

func (e NodeActivated) GetType() EventType {
	return NodeActivatedEvent
}

type TaskStarted struct {
	BaseEvent

	FlowID      string `json:"flow_id"`
	NodeID      string `json:"node_id"`
	TaskID      string `json:"task_id"`
	ExecutionID string `json:"execution_id"`
	Iteration   int    `json:"iteration"`
	StartedBy   string `json:"started_by,omitempty"`
}

func (e TaskStarted) GetType() EventType {
	return TaskStartedEvent
}

type OutcomeRecorded struct {
	BaseEvent

	FlowID         string   `json:"flow_id"`
	NodeID         string   `json:"node_id"`
	TaskID         string   `json:"task_id"`
	ExecutionID    string   `json:"execution_id"`
	Iteration      int      `json:"iteration"`
	OutcomeName    string   `json:"outcome_name"`
	RecordedBy     string   `json:"recorded_by,omitempty"`
	ActivatedNodes []string `json:"activated_nodes,omitempty"`
	FlowCompleted  bool     `json:"flow_completed"`
}

func (e OutcomeRecorded) GetType() EventType {
	return OutcomeRecordedEvent
}

type EvidenceAttached struct {
	BaseEvent

	FlowID       string `json:"flow_id"`
	TaskID       string `json:"task_id"`
	AttachmentID string `json:"attachment_id"`
	EvidenceType string `json:"evidence_type"`
	AttachedBy   string `json:"attached_by,omitempty"`
}

func (e EvidenceAttached) GetType() EventType {
	return EvidenceAttachedEvent
}

type DetourOpened struct {
	BaseEvent

	FlowID             string `json:"flow_id"`
	DetourID           string `json:"detour_id"`
	CheckpointNodeID   string `json:"checkpoint_node_id"`
	ResumeTargetNodeID string `json:"resume_target_node_id"`
	DetourType         string `json:"detour_type"`
	RepeatIndex        int    `json:"repeat_index"`
	Reason             string `json:"reason,omitempty"`
	OpenedBy           string `json:"opened_by,omitempty"`
}

func (e DetourOpened) GetType() EventType {
	return DetourOpenedEvent
}

type DetourResolved struct {
	BaseEvent

	FlowID     string `json:"flow_id"`
	DetourID   string `json:"detour_id"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

func (e DetourResolved) GetType() EventType {
	return DetourResolvedEvent
}

type DetourConverted struct {
	BaseEvent

	FlowID      string `json:"flow_id"`
	DetourID    string `json:"detour_id"`
	ConvertedBy string `json:"converted_by,omitempty"`
}

func (e DetourConverted) GetType() EventType {
	return DetourConvertedEvent
}

type FanOutLaunched struct {
	BaseEvent

	FlowID           string `json:"flow_id"`
	SourceNodeID     string `json:"source_node_id"`
	TriggerOutcome   string `json:"trigger_outcome"`
	TargetWorkflowID string `json:"target_workflow_id"`
	SpawnedFlowID    string `json:"spawned_flow_id"`
	GroupID          string `json:"group_id"`
}

func (e FanOutLaunched) GetType() EventType {
	return FanOutLaunchedEvent
}

type FanOutFailed struct {
	BaseEvent

	FlowID           string `json:"flow_id"`
	SourceNodeID     string `json:"source_node_id"`
	TargetWorkflowID string `json:"target_workflow_id"`
	Error            string `json:"error"`
}

func (e FanOutFailed) GetType() EventType {
	return FanOutFailedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
