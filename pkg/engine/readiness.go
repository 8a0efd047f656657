package engine

import (
	"github.com/cadenzr/cadenza/pkg/conditions"
	"github.com/cadenzr/cadenza/pkg/models"
)

// readyNodes computes the set of nodes eligible to run now.
//
// A node is ready iff it is pending, every node that statically targets it is
// completed, and the node sits on every such predecessor's resolved path. A
// completed predecessor whose resolved path goes elsewhere keeps the node
// pending for the rest of the run.
func (e *Engine) readyNodes(flow *models.Flow) []*models.NodeDefinition {
	predecessors := predecessorIndex(flow.Definition)

	var ready []*models.NodeDefinition

	for _, node := range flow.Definition.Nodes {
		state := flow.NodeState(node.ID)
		if state == nil || state.Status != models.NodeStatusPending {
			continue
		}

		if e.allPredecessorsSatisfied(flow, node.ID, predecessors[node.ID]) {
			ready = append(ready, node)
		}
	}

	return ready
}

func (e *Engine) allPredecessorsSatisfied(flow *models.Flow, nodeID string, preds []*models.NodeDefinition) bool {
	for _, pred := range preds {
		state := flow.NodeState(pred.ID)
		if state == nil || state.Status != models.NodeStatusCompleted {
			return false
		}

		if !contains(e.resolvedSuccessors(flow, pred), nodeID) {
			return false
		}
	}

	return true
}

// resolvedSuccessors returns the successor IDs a completed node actually
// routes to. Resolution strategies are exclusive and checked in priority
// order: a manual selection always wins, then branches (first truthy), then
// conditions (first match), then unconditional nextNodes, which fan out.
func (e *Engine) resolvedSuccessors(flow *models.Flow, node *models.NodeDefinition) []string {
	state := flow.NodeState(node.ID)
	if state == nil {
		return nil
	}

	if state.SelectedNext != "" {
		return []string{state.SelectedNext}
	}

	env := conditions.Env{
		Result:       state.Result,
		WorkingState: flow.WorkingState,
		Nodes:        flow.Results(),
	}

	if len(node.Branches) > 0 {
		for _, branch := range node.Branches {
			if e.evaluator.EvaluateBool(branch.Condition, env) {
				state.SelectedBranch = branch.TargetNodeID

				return []string{branch.TargetNodeID}
			}
		}

		return nil
	}

	if len(node.Conditions) > 0 {
		for _, rule := range node.Conditions {
			if e.evaluator.EvaluateBool(rule.Condition, env) {
				return []string{rule.NextNodeID}
			}
		}

		return nil
	}

	return node.NextNodes
}

// predecessorIndex maps each node ID to the nodes that statically target it
// through any successor list.
func predecessorIndex(def *models.FlowDefinition) map[string][]*models.NodeDefinition {
	index := make(map[string][]*models.NodeDefinition)

	for _, node := range def.Nodes {
		for _, target := range node.Successors() {
			index[target] = append(index[target], node)
		}
	}

	return index
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}

	return false
}
