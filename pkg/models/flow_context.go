package models

// FlowContext carries the per-node execution context handed to an action by
// the worker. Input is the merged payload built by the engine at dispatch
// time; WorkingState is a read-only snapshot of the flow's shared data.
type FlowContext struct {
	TenantID     string         `json:"tenant_id"`
	FlowID       string         `json:"flow_id"`
	NodeID       string         `json:"node_id"`
	Input        map[string]any `json:"input,omitempty"`
	WorkingState map[string]any `json:"working_state,omitempty"`
}
