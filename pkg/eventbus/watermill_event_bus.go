package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/flowvia/flowvia/pkg/events"
)

// WatermillEventBus carries lifecycle events over any watermill transport.
// Publishing routes each event to its topic; subscribers receive decoded
// event structs through the handlers registered per type.
type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.TopicFor(event.GetType()), msg)
}

// Subscribe starts consuming both topics. Handlers registered via Handle
// before this call receive events; messages without a handler are acked and
// dropped so one consumer group never blocks on event types it ignores.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	for _, topic := range []string{events.FlowTopic, events.WorkflowTopic} {
		messages, err := eb.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return err
		}

		go eb.dispatch(ctx, messages)
	}

	return nil
}

func (eb *WatermillEventBus) dispatch(ctx context.Context, messages <-chan *message.Message) {
	for msg := range messages {
		eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

		handler, exists := eb.subscriptions[eventType]
		if !exists {
			msg.Ack()

			continue
		}

		event := newEvent(eventType)
		if event == nil {
			msg.Nack()

			continue
		}

		if err := json.Unmarshal(msg.Payload, event); err != nil {
			msg.Nack()

			continue
		}

		if err := handler(ctx, event); err != nil {
			msg.Nack()

			continue
		}

		msg.Ack()
	}
}

// newEvent returns a zero value of the concrete struct for a wire event
// type, or nil for types this build does not know.
func newEvent(eventType events.EventType) any {
	switch eventType {
	case events.FlowStartedEvent:
		return &events.FlowStarted{}
	case events.FlowCompletedEvent:
		return &events.FlowCompleted{}
	case events.FlowCancelledEvent:
		return &events.FlowCancelled{}
	case events.NodeActivatedEvent:
		return &events.NodeActivated{}
	case events.TaskStartedEvent:
		return &events.TaskStarted{}
	case events.OutcomeRecordedEvent:
		return &events.OutcomeRecorded{}
	case events.EvidenceAttachedEvent:
		return &events.EvidenceAttached{}
	case events.DetourOpenedEvent:
		return &events.DetourOpened{}
	case events.DetourResolvedEvent:
		return &events.DetourResolved{}
	case events.DetourConvertedEvent:
		return &events.DetourConverted{}
	case events.FanOutLaunchedEvent:
		return &events.FanOutLaunched{}
	case events.FanOutFailedEvent:
		return &events.FanOutFailed{}
	case events.WorkflowCreatedEvent:
		return &events.WorkflowCreated{}
	case events.WorkflowUpdatedEvent:
		return &events.WorkflowUpdated{}
	case events.WorkflowDeletedEvent:
		return &events.WorkflowDeleted{}
	case events.WorkflowPublishedEvent:
		return &events.WorkflowPublished{}
	case events.WorkflowRevertedEvent:
		return &events.WorkflowReverted{}
	case events.DraftCommittedEvent:
		return &events.DraftCommitted{}
	case events.DraftRestoredEvent:
		return &events.DraftRestored{}
	case events.DraftDiscardedEvent:
		return &events.DraftDiscarded{}
	default:
		return nil
	}
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
