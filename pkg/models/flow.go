package models

import "time"

// FlowStatus represents the lifecycle state of a flow run.
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "draft"     // Created but not yet started
	FlowStatusRunning   FlowStatus = "running"   // At least one node may still run
	FlowStatusPaused    FlowStatus = "paused"    // Cancelled; late signals logged, never dispatched
	FlowStatusCompleted FlowStatus = "completed" // Every node on the resolved path completed
	FlowStatusFailed    FlowStatus = "failed"    // A node on the resolved path failed
)

// IsTerminal reports whether the flow reached a final status. Terminal flows
// are archived, not deleted, so logs and partial results stay queryable.
func (s FlowStatus) IsTerminal() bool {
	return s == FlowStatusCompleted || s == FlowStatusFailed
}

// FlowDefinition is the static graph of node definitions submitted at start.
type FlowDefinition struct {
	Name        string            `json:"name"        validate:"required,min=3"`
	Description string            `json:"description,omitempty"`
	Nodes       []*NodeDefinition `json:"nodes"       validate:"required,min=1,dive"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// Node returns the definition for the given node ID, or nil.
func (d *FlowDefinition) Node(nodeID string) *NodeDefinition {
	for _, node := range d.Nodes {
		if node.ID == nodeID {
			return node
		}
	}

	return nil
}

// Flow is one instantiated run of a flow definition for a tenant.
//
// The Flow record is exclusively owned by the engine for write access;
// readers get copies via the flow store.
type Flow struct {
	TenantID   string           `json:"tenant_id" validate:"required"`
	ID         string           `json:"id"        validate:"required"`
	Definition *FlowDefinition  `json:"definition"`
	Status     FlowStatus       `json:"status"`
	NodeStates []*FlowNodeState `json:"node_states"`

	// WorkingState is the per-flow scratch space visible to all nodes.
	// Only the engine writes to it, by merging node results in under the
	// per-flow lock.
	WorkingState map[string]any `json:"working_state,omitempty"`

	// FailedNodeID and Error describe the first failure when Status is failed.
	FailedNodeID string `json:"failed_node_id,omitempty"`
	Error        string `json:"error,omitempty"`

	// Version backs the store's optimistic concurrency check.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NodeState returns the run state for the given node ID, or nil when the
// node is not part of this flow.
func (f *Flow) NodeState(nodeID string) *FlowNodeState {
	for _, state := range f.NodeStates {
		if state.NodeID == nodeID {
			return state
		}
	}

	return nil
}

// Results returns the result payloads of all completed nodes, keyed by the
// producing node ID.
func (f *Flow) Results() map[string]any {
	results := make(map[string]any)

	for _, state := range f.NodeStates {
		if state.Status == NodeStatusCompleted && state.Result != nil {
			results[state.NodeID] = state.Result
		}
	}

	return results
}

// Copy returns a deep copy of the flow, safe to hand to readers outside the
// engine's critical section.
func (f *Flow) Copy() *Flow {
	if f == nil {
		return nil
	}

	clone := *f
	clone.WorkingState = copyMap(f.WorkingState)

	clone.NodeStates = make([]*FlowNodeState, len(f.NodeStates))
	for i, state := range f.NodeStates {
		clone.NodeStates[i] = state.Copy()
	}

	// The definition is immutable once the flow starts; sharing it is safe.
	return &clone
}

// NewFlow builds a fresh Flow for the given definition with every node
// pending. The caller validates the definition first.
func NewFlow(tenantID, flowID string, def *FlowDefinition) *Flow {
	now := time.Now().UTC()

	states := make([]*FlowNodeState, len(def.Nodes))
	for i, node := range def.Nodes {
		states[i] = &FlowNodeState{
			NodeID: node.ID,
			Status: NodeStatusPending,
		}
	}

	return &Flow{
		TenantID:     tenantID,
		ID:           flowID,
		Definition:   def,
		Status:       FlowStatusRunning,
		NodeStates:   states,
		WorkingState: make(map[string]any),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
