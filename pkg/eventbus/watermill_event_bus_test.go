package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzr/cadenza/pkg/channels/gochannel"
	"github.com/cadenzr/cadenza/pkg/events"
)

func TestPublishAndHandle(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(events.NodeCompletionTopic, pub, sub)
	defer bus.Close()

	received := make(chan *events.NodeCompleted, 1)

	err = bus.Handle(events.NodeCompletedEvent, func(_ context.Context, event any) error {
		completed, ok := event.(*events.NodeCompleted)
		require.True(t, ok)
		received <- completed

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	completed := events.NodeCompleted{
		BaseEvent: events.NewBaseEvent(events.NodeCompletedEvent, "acme", "flow-1"),
		NodeID:    "charge",
		Result:    map[string]any{"status": "ok"},
	}

	require.NoError(t, bus.Publish(ctx, "acme:flow-1", completed))

	select {
	case got := <-received:
		assert.Equal(t, "charge", got.NodeID)
		assert.Equal(t, "acme", got.TenantID)
		assert.Equal(t, map[string]any{"status": "ok"}, got.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestUnhandledEventTypeIsAcked(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(events.FlowLifecycleTopic, pub, sub)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for flow.started, the bus must ack and move on.
	started := events.FlowStarted{
		BaseEvent: events.NewBaseEvent(events.FlowStartedEvent, "acme", "flow-1"),
	}
	require.NoError(t, bus.Publish(ctx, "acme:flow-1", started))
}

func TestGenerateID(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(events.NodeDispatchTopic, pub, sub)
	defer bus.Close()

	first := bus.GenerateID()
	second := bus.GenerateID()
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
