package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzr/cadenza/pkg/eventbus"
	"github.com/cadenzr/cadenza/pkg/events"
)

type capturePublisher struct {
	keys   []string
	events []eventbus.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, key string, event eventbus.Event) error {
	if p.err != nil {
		return p.err
	}

	p.keys = append(p.keys, key)
	p.events = append(p.events, event)

	return nil
}

func TestEnqueueNodeKeysByTenantAndFlow(t *testing.T) {
	pub := &capturePublisher{}
	gateway := NewEventBusGateway(pub)

	dispatch := events.NodeDispatch{
		BaseEvent: events.NewBaseEvent(events.NodeDispatchedEvent, "acme", "flow-1234"),
		NodeID:    "charge",
	}

	require.NoError(t, gateway.EnqueueNode(context.Background(), dispatch))
	require.Len(t, pub.keys, 1)
	assert.Equal(t, "acme:flow-1234", pub.keys[0])
	assert.Equal(t, events.NodeDispatchedEvent, pub.events[0].GetType())
}

func TestEnqueueNodeWrapsPublishError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	gateway := NewEventBusGateway(pub)

	err := gateway.EnqueueNode(context.Background(), events.NodeDispatch{NodeID: "charge"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "charge")
}
