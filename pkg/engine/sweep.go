package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cadenzr/cadenza/pkg/events"
	"github.com/cadenzr/cadenza/pkg/models"
)

const (
	// defaultSweepInterval applies when no waiting node carries a timeout.
	defaultSweepInterval = time.Second

	// minSweepInterval keeps the poll loop from spinning on degenerate
	// timeouts while staying below a tenth of any timeout of 10ms or more.
	minSweepInterval = time.Millisecond
)

type waitKey struct {
	tenantID string
	flowID   string
	nodeID   string
}

type waitEntry struct {
	deadline time.Time
	timeout  time.Duration
}

// waitRegistry tracks every dispatched node awaiting an external completion
// signal with a timeout. The sweeper reads it to fail overdue nodes.
type waitRegistry struct {
	mu      sync.Mutex
	entries map[waitKey]waitEntry
}

func newWaitRegistry() *waitRegistry {
	return &waitRegistry{entries: make(map[waitKey]waitEntry)}
}

func (r *waitRegistry) add(tenantID, flowID, nodeID string, deadline time.Time, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[waitKey{tenantID, flowID, nodeID}] = waitEntry{deadline: deadline, timeout: timeout}
}

func (r *waitRegistry) drop(tenantID, flowID, nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, waitKey{tenantID, flowID, nodeID})
}

func (r *waitRegistry) dropFlow(tenantID, flowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.entries {
		if key.tenantID == tenantID && key.flowID == flowID {
			delete(r.entries, key)
		}
	}
}

// expired returns the keys whose deadline passed, with their timeouts.
func (r *waitRegistry) expired(now time.Time) map[waitKey]waitEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[waitKey]waitEntry)

	for key, entry := range r.entries {
		if !entry.deadline.After(now) {
			result[key] = entry
		}
	}

	return result
}

// sweepInterval picks the polling cadence: a tenth of the smallest active
// timeout, so a node overshoots its deadline by at most that much.
func (r *waitRegistry) sweepInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	interval := defaultSweepInterval

	for _, entry := range r.entries {
		if entry.timeout <= 0 {
			continue
		}

		if candidate := entry.timeout / 10; candidate < interval {
			interval = candidate
		}
	}

	if interval < minSweepInterval {
		interval = minSweepInterval
	}

	return interval
}

// RunSweeper polls for waiting nodes past their deadline and fails them with
// NODE_TIMEOUT. It blocks until the context is cancelled; run it in its own
// goroutine at process start.
func (e *Engine) RunSweeper(ctx context.Context) {
	e.logger.InfoContext(ctx, "Timeout sweeper started")

	for {
		interval := e.waits.sweepInterval()

		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "Timeout sweeper stopped")

			return
		case <-time.After(interval):
		}

		e.SweepOnce(ctx)
	}
}

// SweepOnce fails every waiting node whose deadline has passed. Exported so
// tests and recovery can trigger a deterministic sweep.
func (e *Engine) SweepOnce(ctx context.Context) {
	for key, entry := range e.waits.expired(e.now()) {
		e.timeoutNode(ctx, key, entry)
	}
}

func (e *Engine) timeoutNode(ctx context.Context, key waitKey, entry waitEntry) {
	release, err := e.locker.Acquire(ctx, key.tenantID, key.flowID)
	if err != nil {
		return
	}
	defer release()

	flow, err := e.loadFlow(ctx, key.tenantID, key.flowID)
	if err != nil {
		e.logger.ErrorContext(ctx, "Timeout sweep failed to load flow",
			"tenant_id", key.tenantID, "flow_id", key.flowID, "error", err)

		return
	}

	state := flow.NodeState(key.nodeID)
	if state == nil || state.Status != models.NodeStatusWaiting {
		// The completion signal won the race. Nothing to do.
		e.waits.drop(key.tenantID, key.flowID, key.nodeID)

		return
	}

	if state.DeadlineAt != nil && state.DeadlineAt.After(e.now()) {
		return
	}

	e.waits.drop(key.tenantID, key.flowID, key.nodeID)

	timeoutErr := &NodeExecutionTimeoutError{NodeID: key.nodeID, Timeout: entry.timeout}

	now := e.now()
	state.Status = models.NodeStatusFailed
	state.Error = timeoutErr.Error()
	state.ErrorCode = timeoutErr.Code()
	state.FinishedAt = &now
	state.DeadlineAt = nil

	e.appendLog(ctx, flow, key.nodeID, timeoutErr.Error())

	e.logger.WarnContext(ctx, "Waiting node timed out",
		"tenant_id", key.tenantID, "flow_id", key.flowID, "node_id", key.nodeID,
		"timeout", entry.timeout)

	e.publish(ctx, key.tenantID+":"+key.flowID, events.NodeTimedOut{
		BaseEvent:  events.NewBaseEvent(events.NodeTimedOutEvent, key.tenantID, key.flowID),
		NodeID:     key.nodeID,
		DeadlineAt: entry.deadline,
	})

	if err := e.advance(ctx, flow); err != nil {
		e.logger.ErrorContext(ctx, "Timeout sweep failed to persist flow",
			"tenant_id", key.tenantID, "flow_id", key.flowID, "error", err)
	}
}
