package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzr/cadenza/pkg/events"
	"github.com/cadenzr/cadenza/pkg/lock"
	"github.com/cadenzr/cadenza/pkg/models"
	"github.com/cadenzr/cadenza/pkg/persistence"
	"github.com/cadenzr/cadenza/pkg/persistence/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureGateway records dispatches instead of publishing them.
type captureGateway struct {
	mu         sync.Mutex
	dispatches []events.NodeDispatch
	failNodes  map[string]error
}

func (g *captureGateway) EnqueueNode(_ context.Context, dispatch events.NodeDispatch) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.failNodes[dispatch.NodeID]; err != nil {
		return err
	}

	g.dispatches = append(g.dispatches, dispatch)

	return nil
}

func (g *captureGateway) nodeIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, len(g.dispatches))
	for i, dispatch := range g.dispatches {
		ids[i] = dispatch.NodeID
	}

	return ids
}

func (g *captureGateway) count(nodeID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	total := 0

	for _, dispatch := range g.dispatches {
		if dispatch.NodeID == nodeID {
			total++
		}
	}

	return total
}

func newTestEngine(_ *testing.T) (*Engine, *captureGateway, *memory.Persistence) {
	store := memory.NewPersistence()
	gateway := &captureGateway{failNodes: make(map[string]error)}

	eng := NewEngine(testLogger(), Config{
		Store:   store,
		Gateway: gateway,
		Locker:  lock.NewLocalLocker(),
	})

	return eng, gateway, store
}

func syncNode(id string, next ...string) *models.NodeDefinition {
	return &models.NodeDefinition{ID: id, Type: "log", NextNodes: next}
}

func definition(nodes ...*models.NodeDefinition) *models.FlowDefinition {
	return &models.FlowDefinition{Name: "test flow", Nodes: nodes}
}

func TestLinearFlowCompletes(t *testing.T) {
	eng, gateway, _ := newTestEngine(t)
	ctx := context.Background()

	flowID, err := eng.StartFlow(ctx, "acme", definition(
		syncNode("a", "b"),
		syncNode("b", "c"),
		syncNode("c"),
	))
	require.NoError(t, err)

	// Only the root is dispatched at start.
	assert.Equal(t, []string{"a"}, gateway.nodeIDs())

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "a", map[string]any{"ok": true}))
	assert.Equal(t, []string{"a", "b"}, gateway.nodeIDs())

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "b", nil))
	assert.Equal(t, []string{"a", "b", "c"}, gateway.nodeIDs())

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "c", nil))

	flow, err := eng.GetFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusCompleted, flow.Status)

	for _, state := range flow.NodeStates {
		assert.Equal(t, models.NodeStatusCompleted, state.Status)
		assert.NotNil(t, state.StartedAt)
		assert.NotNil(t, state.FinishedAt)
	}
}

func TestConditionRoutesExclusively(t *testing.T) {
	eng, gateway, _ := newTestEngine(t)
	ctx := context.Background()

	branchPoint := syncNode("a")
	branchPoint.Conditions = []models.ConditionRule{
		{Condition: "result.ok == true", NextNodeID: "b"},
	}
	branchPoint.NextNodes = []string{"c"}

	flowID, err := eng.StartFlow(ctx, "acme", definition(branchPoint, syncNode("b"), syncNode("c")))
	require.NoError(t, err)

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "a", map[string]any{"ok": true}))

	// Conditions win over unconditional nextNodes: only b runs.
	assert.Equal(t, []string{"a", "b"}, gateway.nodeIDs())

	flow, err := eng.GetFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusPending, flow.NodeState("c").Status)

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "b", nil))

	// c can never become ready, so the flow completes around it.
	flow, err = eng.GetFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusCompleted, flow.Status)
	assert.Equal(t, models.NodeStatusPending, flow.NodeState("c").Status)
}

func TestBranchesTakePrecedenceOverConditions(t *testing.T) {
	eng, gateway, _ := newTestEngine(t)
	ctx := context.Background()

	branchPoint := syncNode("a")
	branchPoint.Branches = []models.BranchRule{
		{Condition: "result.amount > 100", TargetNodeID: "big"},
		{Condition: "true", TargetNodeID: "small"},
	}
	branchPoint.Conditions = []models.ConditionRule{
		{Condition: "true", NextNodeID: "never"},
	}

	flowID, err := eng.StartFlow(ctx, "acme", definition(
		branchPoint, syncNode("big"), syncNode("small"), syncNode("never"),
	))
	require.NoError(t, err)

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "a", map[string]any{"amount": 250}))
	assert.Equal(t, []string{"a", "big"}, gateway.nodeIDs())

	flow, err := eng.GetFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	assert.Equal(t, "big", flow.NodeState("a").SelectedBranch)
}

func TestManualGate(t *testing.T) {
	eng, gateway, _ := newTestEngine(t)
	ctx := context.Background()

	gate := &models.NodeDefinition{
		ID:              "m",
		Type:            "approval",
		ExecutionMode:   models.ExecutionModeManual,
		ManualNextNodes: []string{"x", "y"},
	}

	flowID, err := eng.StartFlow(ctx, "acme", definition(gate, syncNode("x"), syncNode("y")))
	require.NoError(t, err)

	flow, err := eng.GetFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusManualWait, flow.NodeState("m").Status)
	assert.Equal(t, []string{"x", "y"}, flow.NodeState("m").AvailableNextNodes)

	require.NoError(t, eng.SelectManualNext(ctx, "acme", flowID, "m", "x", map[string]any{"approver": "iris"}))

	assert.Equal(t, []string{"m", "x"}, gateway.nodeIDs())

	flow, err = eng.GetFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCompleted, flow.NodeState("m").Status)
	assert.Equal(t, "x", flow.NodeState("m").SelectedNext)
	assert.Equal(t, models.NodeStatusPending, flow.NodeState("y").Status)

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "x", nil))

	flow, err = eng.GetFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusCompleted, flow.Status)
}

func TestManualSelectionRejectsUnknownTarget(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	gate := &models.NodeDefinition{
		ID:              "m",
		Type:            "approval",
		ExecutionMode:   models.ExecutionModeManual,
		ManualNextNodes: []string{"x"},
	}

	flowID, err := eng.StartFlow(ctx, "acme", definition(gate, syncNode("x")))
	require.NoError(t, err)

	err = eng.SelectManualNext(ctx, "acme", flowID, "m", "stranger", nil)
	require.Error(t, err)
	assert.True(t, IsNodeNotFound(err))
}

func TestDuplicateCompletionRejected(t *testing.T) {
	eng, gateway, _ := newTestEngine(t)
	ctx := context.Background()

	flowID, err := eng.StartFlow(ctx, "acme", definition(syncNode("a", "b"), syncNode("b")))
	require.NoError(t, err)

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "a", nil))

	err = eng.CompleteNode(ctx, "acme", flowID, "a", nil)
	require.Error(t, err)
	assert.True(t, IsInvalidState(err))

	// Successors are not re-dispatched by the duplicate.
	assert.Equal(t, 1, gateway.count("b"))
}

func TestIdempotentDispatch(t *testing.T) {
	eng, gateway, store := newTestEngine(t)
	ctx := context.Background()

	flowID, err := eng.StartFlow(ctx, "acme", definition(syncNode("a")))
	require.NoError(t, err)
	assert.Equal(t, 1, gateway.count("a"))

	// A redelivered trigger runs the readiness sweep again: the running
	// node must not be enqueued a second time.
	flow, err := store.LoadFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	require.NoError(t, eng.advance(ctx, flow))

	assert.Equal(t, 1, gateway.count("a"))
}

func TestFanInWaitsForAllPredecessors(t *testing.T) {
	eng, gateway, _ := newTestEngine(t)
	ctx := context.Background()

	flowID, err := eng.StartFlow(ctx, "acme", definition(
		syncNode("a", "join"),
		syncNode("b", "join"),
		syncNode("join"),
	))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b"}, gateway.nodeIDs())

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "a", nil))
	assert.Equal(t, 0, gateway.count("join"))

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "b", nil))
	assert.Equal(t, 1, gateway.count("join"))
}

func TestFailNodeFailsFlowAndHaltsDispatch(t *testing.T) {
	eng, gateway, _ := newTestEngine(t)
	ctx := context.Background()

	flowID, err := eng.StartFlow(ctx, "acme", definition(
		syncNode("a", "b"),
		syncNode("b", "c"),
		syncNode("c"),
	))
	require.NoError(t, err)

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "a", map[string]any{"step": 1}))
	require.NoError(t, eng.FailNode(ctx, "acme", flowID, "b", "payment declined"))

	flow, err := eng.GetFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusFailed, flow.Status)
	assert.Equal(t, "b", flow.FailedNodeID)
	assert.Equal(t, "payment declined", flow.Error)

	// No further dispatch, but upstream partial results stay queryable.
	assert.Equal(t, 0, gateway.count("c"))
	assert.Equal(t, map[string]any{"step": 1}, flow.NodeState("a").Result)
}

func TestCancelledFlowLogsLateSignalsWithoutDispatch(t *testing.T) {
	eng, gateway, store := newTestEngine(t)
	ctx := context.Background()

	flowID, err := eng.StartFlow(ctx, "acme", definition(syncNode("a", "b"), syncNode("b")))
	require.NoError(t, err)

	require.NoError(t, eng.CancelFlow(ctx, "acme", flowID, "operator request"))

	flow, err := eng.GetFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusPaused, flow.Status)

	// Late completion is accepted and recorded, but b never starts.
	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "a", map[string]any{"late": true}))
	assert.Equal(t, 0, gateway.count("b"))

	flow, err = eng.GetFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusPaused, flow.Status)
	assert.Equal(t, models.NodeStatusCompleted, flow.NodeState("a").Status)

	lines, err := store.NodeLogs(ctx, "acme", flowID, "a")
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "late completion signal")
}

func TestCancelTerminalFlowRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	flowID, err := eng.StartFlow(ctx, "acme", definition(syncNode("a")))
	require.NoError(t, err)
	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "a", nil))

	err = eng.CancelFlow(ctx, "acme", flowID, "")
	require.Error(t, err)
	assert.True(t, IsInvalidState(err))
}

func TestWorkingStateVisibleToConditions(t *testing.T) {
	eng, gateway, _ := newTestEngine(t)
	ctx := context.Background()

	router := syncNode("route")
	router.Conditions = []models.ConditionRule{
		{Condition: `working_state.plan == "pro"`, NextNodeID: "upgrade"},
		{Condition: "true", NextNodeID: "basic"},
	}

	flowID, err := eng.StartFlow(ctx, "acme", definition(
		syncNode("a", "route"), router, syncNode("upgrade"), syncNode("basic"),
	))
	require.NoError(t, err)

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "a", map[string]any{"plan": "pro"}))
	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "route", nil))

	assert.Equal(t, 1, gateway.count("upgrade"))
	assert.Equal(t, 0, gateway.count("basic"))
}

func TestUpstreamResultsMergedIntoDispatchInput(t *testing.T) {
	eng, gateway, _ := newTestEngine(t)
	ctx := context.Background()

	sink := syncNode("b")
	sink.Input = map[string]any{"template": "receipt"}

	flowID, err := eng.StartFlow(ctx, "acme", definition(syncNode("a", "b"), sink))
	require.NoError(t, err)

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "a", map[string]any{"total": 42}))

	require.Equal(t, 1, gateway.count("b"))

	var input map[string]any

	for _, dispatch := range gateway.dispatches {
		if dispatch.NodeID == "b" {
			input = dispatch.Input
		}
	}

	assert.Equal(t, "receipt", input["template"])
	assert.Equal(t, map[string]any{"total": 42}, input["a"])
}

func TestDispatchCarriesWorkingStateSnapshot(t *testing.T) {
	eng, gateway, _ := newTestEngine(t)
	ctx := context.Background()

	flowID, err := eng.StartFlow(ctx, "acme", definition(syncNode("a", "b"), syncNode("b")))
	require.NoError(t, err)

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "a", map[string]any{"plan": "premium"}))

	require.Equal(t, 1, gateway.count("b"))

	for _, dispatch := range gateway.dispatches {
		if dispatch.NodeID == "b" {
			assert.Equal(t, "premium", dispatch.WorkingState["plan"])
		}
	}
}

func TestStartFlowRejectsInvalidDefinition(t *testing.T) {
	eng, gateway, _ := newTestEngine(t)
	ctx := context.Background()

	// a -> b -> a is a cycle.
	_, err := eng.StartFlow(ctx, "acme", definition(syncNode("a", "b"), syncNode("b", "a")))
	require.Error(t, err)
	assert.True(t, IsInvalidConfiguration(err))
	assert.Empty(t, gateway.nodeIDs())
}

func TestNodeNotFoundOnSignal(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	flowID, err := eng.StartFlow(ctx, "acme", definition(syncNode("a")))
	require.NoError(t, err)

	err = eng.CompleteNode(ctx, "acme", flowID, "ghost", nil)
	require.Error(t, err)
	assert.True(t, IsNodeNotFound(err))
}

func TestGetFlowNotFound(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	_, err := eng.GetFlow(context.Background(), "acme", "missing")
	require.Error(t, err)
	assert.True(t, IsFlowNotFound(err))
}

func TestTenantIsolation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	flowID, err := eng.StartFlow(ctx, "acme", definition(syncNode("a")))
	require.NoError(t, err)

	_, err = eng.GetFlow(ctx, "globex", flowID)
	require.Error(t, err)
	assert.True(t, IsFlowNotFound(err))

	err = eng.CompleteNode(ctx, "globex", flowID, "a", nil)
	require.Error(t, err)
	assert.True(t, IsFlowNotFound(err))
}

// failingStore wraps a working store and fails every SaveFlow.
type failingStore struct {
	persistence.Persistence
}

func (s *failingStore) SaveFlow(_ context.Context, flow *models.Flow) error {
	return persistence.NewFlowError("SaveFlow", flow.TenantID, flow.ID, persistence.ErrStoreUnavailable)
}

func TestStoreUnavailableAfterRetryBudget(t *testing.T) {
	gateway := &captureGateway{failNodes: make(map[string]error)}

	eng := NewEngine(testLogger(), Config{
		Store:   &failingStore{Persistence: memory.NewPersistence()},
		Gateway: gateway,
		Locker:  lock.NewLocalLocker(),
	})
	eng.saveBackoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}

	_, err := eng.StartFlow(context.Background(), "acme", definition(syncNode("a")))
	require.Error(t, err)
	assert.True(t, IsStoreUnavailable(err))
	assert.Empty(t, gateway.nodeIDs())
}

func TestMonotonicStatusThroughExternalWait(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	wait := &models.NodeDefinition{
		ID:            "w",
		Type:          "callback",
		ExecutionMode: models.ExecutionModeHTTPCallback,
		HTTP:          &models.HTTPWait{Timeout: time.Minute},
	}

	flowID, err := eng.StartFlow(ctx, "acme", definition(wait))
	require.NoError(t, err)

	flow, err := eng.GetFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	state := flow.NodeState("w")
	assert.Equal(t, models.NodeStatusWaiting, state.Status)
	require.NotNil(t, state.DeadlineAt)

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "w", map[string]any{"delivered": true}))

	flow, err = eng.GetFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCompleted, flow.NodeState("w").Status)
	assert.Nil(t, flow.NodeState("w").DeadlineAt)
	assert.Equal(t, models.FlowStatusCompleted, flow.Status)
}
