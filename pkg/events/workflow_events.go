package events

const (
	// Definition lifecycle events.
	WorkflowCreatedEvent   EventType = "workflow.created"
	WorkflowUpdatedEvent   EventType = "workflow.updated"
	WorkflowDeletedEvent   EventType = "workflow.deleted"
	WorkflowPublishedEvent EventType = "workflow.published"
	WorkflowRevertedEvent  EventType = "workflow.reverted"

	// Draft staging events.
	DraftCommittedEvent EventType = "draft.committed"
	DraftRestoredEvent  EventType = "draft.restored"
	DraftDiscardedEvent EventType = "draft.discarded"
)

type WorkflowCreated struct {
	BaseEvent

	Name      string `json:"name"`
	CreatedBy string `json:"created_by,omitempty"`
}

func (e WorkflowCreated) GetType() EventType {
	return WorkflowCreatedEvent
}

type WorkflowUpdated struct {
	BaseEvent

	UpdatedBy string `json:"updated_by,omitempty"`
}

func (e WorkflowUpdated) GetType() EventType {
	return WorkflowUpdatedEvent
}

type WorkflowDeleted struct {
	BaseEvent

	DeletedBy string `json:"deleted_by,omitempty"`
}

func (e WorkflowDeleted) GetType() EventType {
	return WorkflowDeletedEvent
}

type WorkflowPublished struct {
	BaseEvent

	Version     int    `json:"version"`
	PublishedBy string `json:"published_by,omitempty"`
}

func (e WorkflowPublished) GetType() EventType {
	return WorkflowPublishedEvent
}

type WorkflowReverted struct {
	BaseEvent

	FromStatus string `json:"from_status"`
	RevertedBy string `json:"reverted_by,omitempty"`
}

func (e WorkflowReverted) GetType() EventType {
	return WorkflowRevertedEvent
}

type DraftCommitted struct {
	BaseEvent

	Seq         int    `json:"seq"`
	Label       string `json:"label,omitempty"`
	CommittedBy string `json:"committed_by,omitempty"`
}

func (e DraftCommitted) GetType() EventType {
	return DraftCommittedEvent
}

type DraftRestored struct {
	BaseEvent

	Seq         int    `json:"seq"`
	RestoresSeq int    `json:"restores_seq"`
	RestoredBy  string `json:"restored_by,omitempty"`
}

func (e DraftRestored) GetType() EventType {
	return DraftRestoredEvent
}

type DraftDiscarded struct {
	BaseEvent

	DiscardedBy string `json:"discarded_by,omitempty"`
}

func (e DraftDiscarded) GetType() EventType {
	return DraftDiscardedEvent
}
