package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	before := time.Now().UTC()
	event := NewBaseEvent(FlowStartedEvent, "wf-123")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, FlowStartedEvent, event.Type)
	assert.Equal(t, "wf-123", event.WorkflowID)
	assert.NotNil(t, event.Metadata)
	assert.False(t, event.Timestamp.Before(before))
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, FlowTopic, TopicFor(FlowStartedEvent))
	assert.Equal(t, FlowTopic, TopicFor(DetourOpenedEvent))
	assert.Equal(t, FlowTopic, TopicFor(FanOutLaunchedEvent))
	assert.Equal(t, WorkflowTopic, TopicFor(WorkflowCreatedEvent))
	assert.Equal(t, WorkflowTopic, TopicFor(DraftCommittedEvent))
}

func TestFlowStarted_GetType(t *testing.T) {
	event := FlowStarted{}
	assert.Equal(t, FlowStartedEvent, event.GetType())
}

func TestFlowCompleted_GetType(t *testing.T) {
	event := FlowCompleted{}
	assert.Equal(t, FlowCompletedEvent, event.GetType())
}

func TestOutcomeRecorded_GetType(t *testing.T) {
	event := OutcomeRecorded{}
	assert.Equal(t, OutcomeRecordedEvent, event.GetType())
}

func TestDetourOpened_GetType(t *testing.T) {
	event := DetourOpened{}
	assert.Equal(t, DetourOpenedEvent, event.GetType())
}

func TestWorkflowPublished_GetType(t *testing.T) {
	event := WorkflowPublished{}
	assert.Equal(t, WorkflowPublishedEvent, event.GetType())
}

func TestDraftCommitted_GetType(t *testing.T) {
	event := DraftCommitted{}
	assert.Equal(t, DraftCommittedEvent, event.GetType())
}

func TestOutcomeRecorded_JSONSerialization(t *testing.T) {
	original := &OutcomeRecorded{
		BaseEvent:      NewBaseEvent(OutcomeRecordedEvent, "wf-123"),
		FlowID:         "flow-456",
		NodeID:         "review",
		TaskID:         "check",
		ExecutionID:    "exec-789",
		Iteration:      2,
		OutcomeName:    "APPROVED",
		RecordedBy:     "user-1",
		ActivatedNodes: []string{"ship"},
		FlowCompleted:  false,
	}

	jsonData, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"type":"outcome.recorded"`)
	assert.Contains(t, string(jsonData), `"flow_id":"flow-456"`)
	assert.Contains(t, string(jsonData), `"outcome_name":"APPROVED"`)

	var deserialized OutcomeRecorded

	err = json.Unmarshal(jsonData, &deserialized)
	require.NoError(t, err)

	assert.Equal(t, original.Type, deserialized.Type)
	assert.Equal(t, original.FlowID, deserialized.FlowID)
	assert.Equal(t, original.NodeID, deserialized.NodeID)
	assert.Equal(t, original.TaskID, deserialized.TaskID)
	assert.Equal(t, original.Iteration, deserialized.Iteration)
	assert.Equal(t, original.OutcomeName, deserialized.OutcomeName)
	assert.Equal(t, original.ActivatedNodes, deserialized.ActivatedNodes)
	assert.Equal(t, original.FlowCompleted, deserialized.FlowCompleted)
}

func TestDetourOpened_JSONSerialization(t *testing.T) {
	original := &DetourOpened{
		BaseEvent:          NewBaseEvent(DetourOpenedEvent, "wf-123"),
		FlowID:             "flow-456",
		DetourID:           "detour-1",
		CheckpointNodeID:   "review",
		ResumeTargetNodeID: "intake",
		DetourType:         "blocking",
		RepeatIndex:        1,
		Reason:             "missing paperwork",
		OpenedBy:           "user-2",
	}

	jsonData, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"type":"detour.opened"`)
	assert.Contains(t, string(jsonData), `"checkpoint_node_id":"review"`)
	assert.Contains(t, string(jsonData), `"detour_type":"blocking"`)

	var deserialized DetourOpened

	err = json.Unmarshal(jsonData, &deserialized)
	require.NoError(t, err)

	assert.Equal(t, original.DetourID, deserialized.DetourID)
	assert.Equal(t, original.CheckpointNodeID, deserialized.CheckpointNodeID)
	assert.Equal(t, original.ResumeTargetNodeID, deserialized.ResumeTargetNodeID)
	assert.Equal(t, original.RepeatIndex, deserialized.RepeatIndex)
	assert.Equal(t, original.Reason, deserialized.Reason)
}
