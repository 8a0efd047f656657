package engine

import (
	"context"
	"fmt"

	"github.com/cadenzr/cadenza/pkg/models"
)

// Recover rebuilds in-memory dispatch and timeout state from the store after
// a process restart. Waiting nodes get their timeout tokens back, nodes left
// running are re-enqueued (a crash between persist and enqueue loses the job,
// and at-least-once delivery makes the extra enqueue safe), and any ready
// pending nodes are dispatched.
func (e *Engine) Recover(ctx context.Context) error {
	flows, err := e.store.ListRunningFlows(ctx)
	if err != nil {
		return fmt.Errorf("failed to list running flows: %w", err)
	}

	e.logger.InfoContext(ctx, "Recovering running flows", "count", len(flows))

	for _, stale := range flows {
		if err := e.recoverFlow(ctx, stale.TenantID, stale.ID); err != nil {
			e.logger.ErrorContext(ctx, "Flow recovery failed",
				"tenant_id", stale.TenantID, "flow_id", stale.ID, "error", err)
		}
	}

	return nil
}

func (e *Engine) recoverFlow(ctx context.Context, tenantID, flowID string) error {
	release, err := e.locker.Acquire(ctx, tenantID, flowID)
	if err != nil {
		return fmt.Errorf("failed to lock flow %s: %w", flowID, err)
	}
	defer release()

	flow, err := e.loadFlow(ctx, tenantID, flowID)
	if err != nil {
		return err
	}

	if flow.Status != models.FlowStatusRunning {
		return nil
	}

	for _, state := range flow.NodeStates {
		node := flow.Definition.Node(state.NodeID)
		if node == nil {
			continue
		}

		switch state.Status {
		case models.NodeStatusWaiting:
			if state.DeadlineAt != nil {
				e.waits.add(tenantID, flowID, state.NodeID, *state.DeadlineAt, node.WaitTimeout())
			}
		case models.NodeStatusRunning:
			e.logger.InfoContext(ctx, "Re-enqueueing node left running",
				"tenant_id", tenantID, "flow_id", flowID, "node_id", state.NodeID)

			e.dispatchNode(ctx, flow, node)
		}
	}

	return e.advance(ctx, flow)
}
