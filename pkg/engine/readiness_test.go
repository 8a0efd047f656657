package engine

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzr/cadenza/pkg/models"
)

// Randomized DAGs: nodes only point forward, so every definition is acyclic.
// Completing dispatched nodes in arrival order must terminate with a
// completed flow, and no node may be dispatched before all its predecessors
// completed.
func TestReadinessOnRandomDAGs(t *testing.T) {
	for seed := range int64(25) {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))

			const size = 8

			nodes := make([]*models.NodeDefinition, size)
			for i := range size {
				nodes[i] = syncNode(fmt.Sprintf("n%d", i))
			}

			for i := range size {
				for j := i + 1; j < size; j++ {
					if rng.Intn(3) == 0 {
						nodes[i].NextNodes = append(nodes[i].NextNodes, nodes[j].ID)
					}
				}
			}

			eng, gateway, _ := newTestEngine(t)
			ctx := context.Background()

			flowID, err := eng.StartFlow(ctx, "acme", definition(nodes...))
			require.NoError(t, err)

			completed := make(map[string]bool)
			cursor := 0

			for cursor < len(gateway.nodeIDs()) {
				nodeID := gateway.nodeIDs()[cursor]
				cursor++

				// Every predecessor must already be completed.
				flow, err := eng.GetFlow(ctx, "acme", flowID)
				require.NoError(t, err)

				for _, pred := range predecessorIndex(flow.Definition)[nodeID] {
					assert.True(t, completed[pred.ID],
						"node %s dispatched before predecessor %s completed", nodeID, pred.ID)
				}

				require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, nodeID, nil))
				completed[nodeID] = true
			}

			flow, err := eng.GetFlow(ctx, "acme", flowID)
			require.NoError(t, err)
			assert.Equal(t, models.FlowStatusCompleted, flow.Status)

			// Reachable means dispatched exactly once.
			for nodeID := range completed {
				assert.Equal(t, 1, gateway.count(nodeID))
			}
		})
	}
}

func TestResolvedSuccessorsPrecedence(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	node := syncNode("a", "fanout1", "fanout2")
	node.Branches = []models.BranchRule{{Condition: "true", TargetNodeID: "branched"}}
	node.Conditions = []models.ConditionRule{{Condition: "true", NextNodeID: "conditional"}}

	flow := models.NewFlow("acme", "flow-1", definition(
		node, syncNode("fanout1"), syncNode("fanout2"), syncNode("branched"), syncNode("conditional"),
	))
	flow.NodeState("a").Status = models.NodeStatusCompleted

	// Branches beat conditions and fan-out.
	assert.Equal(t, []string{"branched"}, eng.resolvedSuccessors(flow, node))

	// Manual selection beats everything.
	flow.NodeState("a").SelectedNext = "fanout2"
	assert.Equal(t, []string{"fanout2"}, eng.resolvedSuccessors(flow, node))

	// Without branches, conditions win.
	flow.NodeState("a").SelectedNext = ""
	node.Branches = nil
	assert.Equal(t, []string{"conditional"}, eng.resolvedSuccessors(flow, node))

	// Without either, unconditional successors fan out.
	node.Conditions = nil
	assert.Equal(t, []string{"fanout1", "fanout2"}, eng.resolvedSuccessors(flow, node))
}

func TestNoMatchingBranchStallsPath(t *testing.T) {
	eng, gateway, _ := newTestEngine(t)
	ctx := context.Background()

	node := syncNode("a")
	node.Branches = []models.BranchRule{{Condition: "result.kind == \"never\"", TargetNodeID: "b"}}

	flowID, err := eng.StartFlow(ctx, "acme", definition(node, syncNode("b")))
	require.NoError(t, err)

	require.NoError(t, eng.CompleteNode(ctx, "acme", flowID, "a", map[string]any{"kind": "other"}))

	flow, err := eng.GetFlow(ctx, "acme", flowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusCompleted, flow.Status)
	assert.Equal(t, models.NodeStatusPending, flow.NodeState("b").Status)
	assert.Equal(t, 0, gateway.count("b"))
}
