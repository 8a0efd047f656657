// Package worker consumes node dispatches and runs their actions, reporting
// the outcome on the completion topic.
package worker

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/cadenzr/cadenza/pkg/eventbus"
	"github.com/cadenzr/cadenza/pkg/events"
	"github.com/cadenzr/cadenza/pkg/models"
	"github.com/cadenzr/cadenza/pkg/otelhelper"
	"github.com/cadenzr/cadenza/pkg/registry"
)

// Worker executes sync and auto nodes. Dispatches for manual and externally
// completed modes are acknowledged untouched; their completion arrives through
// the API or a callback bridge, never from a worker.
type Worker struct {
	id          string
	logger      *slog.Logger
	registry    *registry.Registry
	dispatches  eventbus.EventBus
	completions eventbus.EventPublisher
	tracer      trace.Tracer
}

func NewWorker(
	id string,
	logger *slog.Logger,
	reg *registry.Registry,
	dispatches eventbus.EventBus,
	completions eventbus.EventPublisher,
) *Worker {
	return &Worker{
		id:          id,
		logger:      logger.With("module", "cadenza-worker", "worker_id", id),
		registry:    reg,
		dispatches:  dispatches,
		completions: completions,
		tracer:      noop.NewTracerProvider().Tracer("cadenza-worker"),
	}
}

// WithTracer replaces the worker's no-op tracer.
func (w *Worker) WithTracer(tracer trace.Tracer) *Worker {
	w.tracer = tracer

	return w
}

// Start registers the dispatch handler and begins consuming. It returns once
// the subscription is established; the caller owns the process lifetime.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	err := w.dispatches.Handle(events.NodeDispatchedEvent, w.handleNodeDispatched)
	if err != nil {
		return err
	}

	err = w.dispatches.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to dispatch topic", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

func (w *Worker) handleNodeDispatched(ctx context.Context, event any) error {
	dispatch, ok := event.(*events.NodeDispatch)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for NodeDispatch")

		return nil
	}

	logger := w.logger.With(
		"tenant_id", dispatch.TenantID,
		"flow_id", dispatch.FlowID,
		"node_id", dispatch.NodeID,
		"node_type", dispatch.NodeType,
		"event_id", dispatch.ID,
	)

	if dispatch.ExecutionMode.IsManual() || dispatch.ExecutionMode.IsExternal() {
		logger.DebugContext(ctx, "Skipping non-runnable dispatch", "execution_mode", dispatch.ExecutionMode)

		return nil
	}

	logger.InfoContext(ctx, "Processing node dispatch")

	spanCtx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.node execute",
		attribute.String(otelhelper.TenantIDKey, dispatch.TenantID),
		attribute.String(otelhelper.FlowIDKey, dispatch.FlowID),
		attribute.String(otelhelper.NodeIDKey, dispatch.NodeID),
		attribute.String(otelhelper.NodeTypeKey, dispatch.NodeType),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	startedAt := time.Now()

	result, err := w.executeNode(spanCtx, logger, dispatch)
	durationMs := time.Since(startedAt).Milliseconds()

	if err != nil {
		logger.ErrorContext(ctx, "Node execution failed", "error", err)
		otelhelper.SetError(span, err)

		failedEvent := events.NodeFailed{
			BaseEvent:  events.NewBaseEvent(events.NodeFailedEvent, dispatch.TenantID, dispatch.FlowID),
			NodeID:     dispatch.NodeID,
			Error:      err.Error(),
			DurationMs: durationMs,
		}
		failedEvent.WorkerID = w.id

		publishErr := w.completions.Publish(ctx, dispatch.TenantID+":"+dispatch.FlowID, failedEvent)
		if publishErr != nil {
			logger.ErrorContext(ctx, "Failed to publish node failed event", "error", publishErr)

			return publishErr
		}

		return nil
	}

	logger.InfoContext(ctx, "Node executed successfully", "duration_ms", durationMs)

	completedEvent := events.NodeCompleted{
		BaseEvent:  events.NewBaseEvent(events.NodeCompletedEvent, dispatch.TenantID, dispatch.FlowID),
		NodeID:     dispatch.NodeID,
		Result:     result,
		DurationMs: durationMs,
	}
	completedEvent.WorkerID = w.id

	publishErr := w.completions.Publish(ctx, dispatch.TenantID+":"+dispatch.FlowID, completedEvent)
	if publishErr != nil {
		logger.ErrorContext(ctx, "Failed to publish node completed event", "error", publishErr)

		return publishErr
	}

	return nil
}

func (w *Worker) executeNode(
	ctx context.Context,
	logger *slog.Logger,
	dispatch *events.NodeDispatch,
) (map[string]any, error) {
	action, err := w.registry.CreateAction(dispatch.NodeType, dispatch.Input)
	if err != nil {
		return nil, err
	}

	flowCtx := models.FlowContext{
		TenantID:     dispatch.TenantID,
		FlowID:       dispatch.FlowID,
		NodeID:       dispatch.NodeID,
		Input:        dispatch.Input,
		WorkingState: dispatch.WorkingState,
	}

	return action.Execute(ctx, flowCtx, logger)
}
