// Package engine implements the flow execution engine: a persisted state
// machine that advances a directed graph of heterogeneous nodes through
// dispatch, external completion signals, branch evaluation, and timeouts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"dario.cat/mergo"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/cadenzr/cadenza/pkg/conditions"
	"github.com/cadenzr/cadenza/pkg/eventbus"
	"github.com/cadenzr/cadenza/pkg/events"
	"github.com/cadenzr/cadenza/pkg/lock"
	"github.com/cadenzr/cadenza/pkg/models"
	"github.com/cadenzr/cadenza/pkg/persistence"
	"github.com/cadenzr/cadenza/pkg/queue"
)

const saveRetries = 4

// Config carries the engine's collaborators. Store, Gateway, and Locker are
// required. Publisher is optional, lifecycle events are skipped without one.
type Config struct {
	Store     persistence.Persistence
	Gateway   queue.Gateway
	Locker    lock.FlowLocker
	Publisher eventbus.EventPublisher
}

// Engine is the orchestrator. All mutating operations on one flow run inside
// that flow's lock, so concurrent signals from HTTP handlers, queue consumers,
// and the timeout sweeper never interleave transitions.
type Engine struct {
	logger    *slog.Logger
	store     persistence.Persistence
	gateway   queue.Gateway
	locker    lock.FlowLocker
	publisher eventbus.EventPublisher
	evaluator *conditions.Evaluator
	waits     *waitRegistry

	now         func() time.Time
	saveBackoff func() backoff.BackOff
}

// NewEngine creates an engine from its collaborators.
func NewEngine(logger *slog.Logger, cfg Config) *Engine {
	return &Engine{
		logger:    logger.With("module", "engine"),
		store:     cfg.Store,
		gateway:   cfg.Gateway,
		locker:    cfg.Locker,
		publisher: cfg.Publisher,
		evaluator: conditions.NewEvaluator(logger),
		waits:     newWaitRegistry(),
		now:       func() time.Time { return time.Now().UTC() },
		saveBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), saveRetries)
		},
	}
}

// StartFlow validates the definition, creates the flow record with every node
// pending, and dispatches the initial ready set. It returns the new flow ID.
func (e *Engine) StartFlow(ctx context.Context, tenantID string, def *models.FlowDefinition) (string, error) {
	if err := models.ValidateDefinition(def); err != nil {
		return "", &InvalidNodeConfigurationError{Err: err}
	}

	flowID := "flow-" + uuid.New().String()[:8]

	release, err := e.locker.Acquire(ctx, tenantID, flowID)
	if err != nil {
		return "", fmt.Errorf("failed to lock flow %s: %w", flowID, err)
	}
	defer release()

	flow := models.NewFlow(tenantID, flowID, def)

	if err := e.saveFlow(ctx, flow); err != nil {
		return "", err
	}

	e.logger.InfoContext(ctx, "Flow started",
		"tenant_id", tenantID, "flow_id", flowID, "flow_name", def.Name, "nodes", len(def.Nodes))

	e.publish(ctx, tenantID+":"+flowID, events.FlowStarted{
		BaseEvent: events.NewBaseEvent(events.FlowStartedEvent, tenantID, flowID),
		FlowName:  def.Name,
	})

	if err := e.advance(ctx, flow); err != nil {
		return flowID, err
	}

	return flowID, nil
}

// GetFlow returns a read-only snapshot of the flow.
func (e *Engine) GetFlow(ctx context.Context, tenantID, flowID string) (*models.Flow, error) {
	flow, err := e.store.LoadFlow(ctx, tenantID, flowID)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return nil, &FlowNotFoundError{TenantID: tenantID, FlowID: flowID, Err: err}
		}

		return nil, err
	}

	return flow, nil
}

// CompleteNode applies a completion signal for a node. It is the single entry
// point for synchronous runner callbacks, webhook handlers, MQTT bridges, and
// named external events.
func (e *Engine) CompleteNode(ctx context.Context, tenantID, flowID, nodeID string, result map[string]any) error {
	return e.applySignal(ctx, tenantID, flowID, nodeID, "completion", func(flow *models.Flow, state *models.FlowNodeState) {
		now := e.now()
		state.Status = models.NodeStatusCompleted
		state.Result = result
		state.FinishedAt = &now
		state.DeadlineAt = nil

		e.mergeWorkingState(flow, result)
	})
}

// FailNode applies a failure signal for a node. A failed node with no
// alternate branch fails the whole flow and halts further dispatch.
func (e *Engine) FailNode(ctx context.Context, tenantID, flowID, nodeID, errorMsg string) error {
	return e.applySignal(ctx, tenantID, flowID, nodeID, "failure", func(_ *models.Flow, state *models.FlowNodeState) {
		now := e.now()
		state.Status = models.NodeStatusFailed
		state.Error = errorMsg
		state.FinishedAt = &now
		state.DeadlineAt = nil
	})
}

// SelectManualNext resolves a manual_wait node: the selected successor wins
// over any declared branch or condition, and the supplied input data becomes
// the node's result.
func (e *Engine) SelectManualNext(ctx context.Context, tenantID, flowID, nodeID, selectedNext string, inputData map[string]any) error {
	release, err := e.locker.Acquire(ctx, tenantID, flowID)
	if err != nil {
		return fmt.Errorf("failed to lock flow %s: %w", flowID, err)
	}
	defer release()

	flow, err := e.loadFlow(ctx, tenantID, flowID)
	if err != nil {
		return err
	}

	node := flow.Definition.Node(nodeID)
	if node == nil {
		return &NodeNotFoundError{FlowID: flowID, NodeID: nodeID}
	}

	state := flow.NodeState(nodeID)
	if state.Status != models.NodeStatusManualWait {
		return &InvalidStateError{NodeID: nodeID, Status: state.Status, Signal: "manual selection"}
	}

	if selectedNext != "" && !contains(node.Successors(), selectedNext) {
		return &NodeNotFoundError{FlowID: flowID, NodeID: selectedNext}
	}

	now := e.now()
	state.Status = models.NodeStatusCompleted
	state.SelectedNext = selectedNext
	state.InputData = inputData
	state.Result = inputData
	state.FinishedAt = &now

	e.mergeWorkingState(flow, inputData)

	e.logger.InfoContext(ctx, "Manual selection applied",
		"tenant_id", tenantID, "flow_id", flowID, "node_id", nodeID, "selected_next", selectedNext)

	return e.advance(ctx, flow)
}

// CancelFlow pauses a flow. Non-terminal nodes keep their states, and late
// completion or failure signals are logged for audit but never dispatch new
// work.
func (e *Engine) CancelFlow(ctx context.Context, tenantID, flowID, reason string) error {
	release, err := e.locker.Acquire(ctx, tenantID, flowID)
	if err != nil {
		return fmt.Errorf("failed to lock flow %s: %w", flowID, err)
	}
	defer release()

	flow, err := e.loadFlow(ctx, tenantID, flowID)
	if err != nil {
		return err
	}

	if flow.Status.IsTerminal() {
		return &InvalidStateError{NodeID: "", Status: models.NodeStatus(flow.Status), Signal: "cancel"}
	}

	flow.Status = models.FlowStatusPaused
	flow.UpdatedAt = e.now()

	e.waits.dropFlow(tenantID, flowID)

	if err := e.saveFlow(ctx, flow); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Flow cancelled", "tenant_id", tenantID, "flow_id", flowID, "reason", reason)

	e.publish(ctx, tenantID+":"+flowID, events.FlowCancelled{
		BaseEvent: events.NewBaseEvent(events.FlowCancelledEvent, tenantID, flowID),
		Reason:    reason,
	})

	return nil
}

// NodeLogs returns the append-only log trail for a node.
func (e *Engine) NodeLogs(ctx context.Context, tenantID, flowID, nodeID string) ([]string, error) {
	return e.store.NodeLogs(ctx, tenantID, flowID, nodeID)
}

// applySignal runs the shared completion/failure intake path: lock, load,
// validate, mutate, then advance. Signals for cancelled or terminal flows are
// recorded for audit and dropped without dispatching anything.
func (e *Engine) applySignal(ctx context.Context, tenantID, flowID, nodeID, signal string, mutate func(*models.Flow, *models.FlowNodeState)) error {
	release, err := e.locker.Acquire(ctx, tenantID, flowID)
	if err != nil {
		return fmt.Errorf("failed to lock flow %s: %w", flowID, err)
	}
	defer release()

	flow, err := e.loadFlow(ctx, tenantID, flowID)
	if err != nil {
		return err
	}

	if flow.Definition.Node(nodeID) == nil {
		return &NodeNotFoundError{FlowID: flowID, NodeID: nodeID}
	}

	state := flow.NodeState(nodeID)
	if !state.Status.IsAwaitable() {
		return &InvalidStateError{NodeID: nodeID, Status: state.Status, Signal: signal}
	}

	e.waits.drop(tenantID, flowID, nodeID)

	if flow.Status != models.FlowStatusRunning {
		// Late signal after cancellation. Audit it, never dispatch.
		e.logger.WarnContext(ctx, "Signal for inactive flow recorded without dispatch",
			"tenant_id", tenantID, "flow_id", flowID, "node_id", nodeID,
			"signal", signal, "flow_status", flow.Status)

		e.appendLog(ctx, flow, nodeID, fmt.Sprintf("late %s signal received while flow %s", signal, flow.Status))
		mutate(flow, state)
		flow.UpdatedAt = e.now()

		return e.saveFlow(ctx, flow)
	}

	mutate(flow, state)

	e.logger.InfoContext(ctx, "Node signal applied",
		"tenant_id", tenantID, "flow_id", flowID, "node_id", nodeID,
		"signal", signal, "node_status", state.Status)

	return e.advance(ctx, flow)
}

// advance is the all-or-nothing readiness sweep. It dispatches every ready
// node before the triggering event counts as handled, then settles the
// overall flow status and persists.
func (e *Engine) advance(ctx context.Context, flow *models.Flow) error {
	if flow.Status == models.FlowStatusRunning {
		if err := e.dispatchReady(ctx, flow); err != nil {
			return err
		}
	}

	e.settleStatus(ctx, flow)

	flow.UpdatedAt = e.now()

	return e.saveFlow(ctx, flow)
}

// dispatchReady marks the ready set running, persists the transition, then
// enqueues each node and applies its execution mode's post-dispatch state.
// Persisting before enqueueing keeps dispatch idempotent under at-least-once
// delivery: a redelivered job finds the node already running.
func (e *Engine) dispatchReady(ctx context.Context, flow *models.Flow) error {
	ready := e.readyNodes(flow)
	if len(ready) == 0 {
		return nil
	}

	now := e.now()

	for _, node := range ready {
		state := flow.NodeState(node.ID)
		state.Status = models.NodeStatusRunning
		state.StartedAt = &now
	}

	flow.UpdatedAt = now

	if err := e.saveFlow(ctx, flow); err != nil {
		return err
	}

	for _, node := range ready {
		e.dispatchNode(ctx, flow, node)
	}

	return nil
}

func (e *Engine) dispatchNode(ctx context.Context, flow *models.Flow, node *models.NodeDefinition) {
	state := flow.NodeState(node.ID)

	dispatch := events.NodeDispatch{
		BaseEvent:     events.NewBaseEvent(events.NodeDispatchedEvent, flow.TenantID, flow.ID),
		NodeID:        node.ID,
		NodeType:      node.Type,
		Runner:        node.Runner,
		ExecutionMode: node.ExecutionMode,
		Input:         e.mergeInput(flow, node),
		WorkingState:  maps.Clone(flow.WorkingState),
	}

	if err := e.gateway.EnqueueNode(ctx, dispatch); err != nil {
		e.logger.ErrorContext(ctx, "Node dispatch failed",
			"tenant_id", flow.TenantID, "flow_id", flow.ID, "node_id", node.ID, "error", err)

		now := e.now()
		state.Status = models.NodeStatusFailed
		state.Error = fmt.Sprintf("dispatch failed: %v", err)
		state.FinishedAt = &now

		return
	}

	e.logger.DebugContext(ctx, "Node dispatched",
		"tenant_id", flow.TenantID, "flow_id", flow.ID, "node_id", node.ID,
		"node_type", node.Type, "execution_mode", node.ExecutionMode)

	switch {
	case node.ExecutionMode.IsManual():
		state.Status = models.NodeStatusManualWait
		state.AvailableNextNodes = append([]string(nil), node.ManualNextNodes...)
		state.InputRequirements = node.Input
	case node.ExecutionMode.IsExternal():
		state.Status = models.NodeStatusWaiting

		if timeout := node.WaitTimeout(); timeout > 0 {
			deadline := e.now().Add(timeout)
			state.DeadlineAt = &deadline
			e.waits.add(flow.TenantID, flow.ID, node.ID, deadline, timeout)
		}
	}
}

// mergeInput builds the dispatch payload: the node's static input merged with
// completed upstream results, addressable by producing node ID. Static keys
// win on collision.
func (e *Engine) mergeInput(flow *models.Flow, node *models.NodeDefinition) map[string]any {
	input := make(map[string]any)

	if err := mergo.Merge(&input, node.Input); err != nil {
		e.logger.Warn("Failed to merge static input", "node_id", node.ID, "error", err)
	}

	upstream := make(map[string]any)

	for _, pred := range predecessorIndex(flow.Definition)[node.ID] {
		state := flow.NodeState(pred.ID)
		if state == nil || state.Status != models.NodeStatusCompleted || state.Result == nil {
			continue
		}

		if contains(e.resolvedSuccessors(flow, pred), node.ID) {
			upstream[pred.ID] = state.Result
		}
	}

	if err := mergo.Merge(&input, upstream); err != nil {
		e.logger.Warn("Failed to merge upstream results", "node_id", node.ID, "error", err)
	}

	return input
}

// mergeWorkingState folds a node result into the flow's shared scratch space.
// Later completions override earlier keys.
func (e *Engine) mergeWorkingState(flow *models.Flow, result map[string]any) {
	if len(result) == 0 {
		return
	}

	if flow.WorkingState == nil {
		flow.WorkingState = make(map[string]any)
	}

	if err := mergo.Merge(&flow.WorkingState, result, mergo.WithOverride); err != nil {
		e.logger.Warn("Failed to merge working state", "flow_id", flow.ID, "error", err)
	}
}

// settleStatus recomputes the overall flow status after a transition. A flow
// fails on the first failed node; it completes once nothing is awaitable and
// nothing can become ready.
func (e *Engine) settleStatus(ctx context.Context, flow *models.Flow) {
	if flow.Status != models.FlowStatusRunning {
		return
	}

	for _, state := range flow.NodeStates {
		if state.Status == models.NodeStatusFailed {
			flow.Status = models.FlowStatusFailed
			flow.FailedNodeID = state.NodeID
			flow.Error = state.Error

			e.waits.dropFlow(flow.TenantID, flow.ID)

			e.logger.WarnContext(ctx, "Flow failed",
				"tenant_id", flow.TenantID, "flow_id", flow.ID,
				"failed_node_id", state.NodeID, "error", state.Error)

			e.publish(ctx, flow.TenantID+":"+flow.ID, events.FlowFailed{
				BaseEvent:    events.NewBaseEvent(events.FlowFailedEvent, flow.TenantID, flow.ID),
				FailedNodeID: state.NodeID,
				Error:        state.Error,
				ErrorCode:    state.ErrorCode,
				DurationMs:   e.now().Sub(flow.CreatedAt).Milliseconds(),
			})

			return
		}
	}

	for _, state := range flow.NodeStates {
		if state.Status.IsAwaitable() {
			return
		}
	}

	if len(e.readyNodes(flow)) > 0 {
		return
	}

	// Nothing runs, nothing waits, nothing can become ready. Pending nodes
	// left behind sit on untaken branches.
	flow.Status = models.FlowStatusCompleted

	e.logger.InfoContext(ctx, "Flow completed", "tenant_id", flow.TenantID, "flow_id", flow.ID)

	e.publish(ctx, flow.TenantID+":"+flow.ID, events.FlowCompleted{
		BaseEvent:  events.NewBaseEvent(events.FlowCompletedEvent, flow.TenantID, flow.ID),
		DurationMs: e.now().Sub(flow.CreatedAt).Milliseconds(),
		Results:    flow.Results(),
	})
}

func (e *Engine) loadFlow(ctx context.Context, tenantID, flowID string) (*models.Flow, error) {
	flow, err := e.store.LoadFlow(ctx, tenantID, flowID)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return nil, &FlowNotFoundError{TenantID: tenantID, FlowID: flowID, Err: err}
		}

		return nil, err
	}

	return flow, nil
}

// saveFlow persists with bounded backoff. A version conflict is not retried,
// the per-flow lock makes it a bug rather than contention. Exhausting the
// retry budget surfaces as StoreUnavailableError.
func (e *Engine) saveFlow(ctx context.Context, flow *models.Flow) error {
	operation := func() error {
		err := e.store.SaveFlow(ctx, flow)
		if err != nil && persistence.IsVersionConflict(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	policy := backoff.WithContext(e.saveBackoff(), ctx)

	err := backoff.Retry(operation, policy)
	if err == nil {
		return nil
	}

	if persistence.IsVersionConflict(err) {
		return err
	}

	e.logger.ErrorContext(ctx, "Flow save failed after retries",
		"tenant_id", flow.TenantID, "flow_id", flow.ID, "error", err)

	return &StoreUnavailableError{Err: err}
}

func (e *Engine) appendLog(ctx context.Context, flow *models.Flow, nodeID, line string) {
	if state := flow.NodeState(nodeID); state != nil {
		state.AppendLog(line)
	}

	if err := e.store.AppendNodeLog(ctx, flow.TenantID, flow.ID, nodeID, line); err != nil {
		e.logger.Warn("Failed to append node log",
			"tenant_id", flow.TenantID, "flow_id", flow.ID, "node_id", nodeID, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.Warn("Failed to publish lifecycle event", "event_type", event.GetType(), "error", err)
	}
}
