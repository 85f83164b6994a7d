package eventbus_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowvia/flowvia/pkg/channels/gochannel"
	"github.com/flowvia/flowvia/pkg/eventbus"
	"github.com/flowvia/flowvia/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	logger := watermill.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	pub, sub, err := gochannel.CreateTestChannel(logger)
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversFlowEvents(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan any, 1)

	err := bus.Handle(events.FlowStartedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(t.Context()))

	started := events.FlowStarted{
		BaseEvent: events.NewBaseEvent(events.FlowStartedEvent, "wf-1"),
		FlowID:    "flow-1",
		GroupID:   "flow-1",
		Version:   3,
	}
	require.NoError(t, bus.Publish(t.Context(), "wf-1", started))

	select {
	case got := <-received:
		decoded, ok := got.(*events.FlowStarted)
		require.True(t, ok)
		assert.Equal(t, "flow-1", decoded.FlowID)
		assert.Equal(t, 3, decoded.Version)
		assert.Equal(t, events.FlowStartedEvent, decoded.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("flow started event was not delivered")
	}
}

func TestWatermillEventBus_RoutesWorkflowTopic(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan any, 1)

	err := bus.Handle(events.WorkflowPublishedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(t.Context()))

	published := events.WorkflowPublished{
		BaseEvent:   events.NewBaseEvent(events.WorkflowPublishedEvent, "wf-9"),
		Version:     2,
		PublishedBy: "ana",
	}
	require.NoError(t, bus.Publish(t.Context(), "wf-9", published))

	select {
	case got := <-received:
		decoded, ok := got.(*events.WorkflowPublished)
		require.True(t, ok)
		assert.Equal(t, "wf-9", decoded.WorkflowID)
		assert.Equal(t, 2, decoded.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("workflow published event was not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreDropped(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan any, 2)

	err := bus.Handle(events.FlowCompletedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(t.Context()))

	// No handler for this one; it must be acked, not redelivered.
	started := events.FlowStarted{BaseEvent: events.NewBaseEvent(events.FlowStartedEvent, "wf-1"), FlowID: "flow-1"}
	require.NoError(t, bus.Publish(t.Context(), "wf-1", started))

	completed := events.FlowCompleted{BaseEvent: events.NewBaseEvent(events.FlowCompletedEvent, "wf-1"), FlowID: "flow-1"}
	require.NoError(t, bus.Publish(t.Context(), "wf-1", completed))

	select {
	case got := <-received:
		_, ok := got.(*events.FlowCompleted)
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("flow completed event was not delivered")
	}

	assert.Empty(t, received)
}
