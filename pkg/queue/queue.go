// Package queue hands node work to workers. The engine only ever talks to the
// Gateway interface, so tests can capture dispatches without a broker.
package queue

import (
	"context"
	"fmt"

	"github.com/cadenzr/cadenza/pkg/eventbus"
	"github.com/cadenzr/cadenza/pkg/events"
)

// Gateway enqueues a node dispatch for asynchronous execution.
type Gateway interface {
	EnqueueNode(ctx context.Context, dispatch events.NodeDispatch) error
}

// EventBusGateway publishes dispatches on the node dispatch topic, keyed by
// tenant and flow so one flow's jobs stay ordered within a partition.
type EventBusGateway struct {
	bus eventbus.EventPublisher
}

func NewEventBusGateway(bus eventbus.EventPublisher) *EventBusGateway {
	return &EventBusGateway{bus: bus}
}

func (g *EventBusGateway) EnqueueNode(ctx context.Context, dispatch events.NodeDispatch) error {
	key := dispatch.TenantID + ":" + dispatch.FlowID

	err := g.bus.Publish(ctx, key, dispatch)
	if err != nil {
		return fmt.Errorf("failed to enqueue node %s: %w", dispatch.NodeID, err)
	}

	return nil
}
