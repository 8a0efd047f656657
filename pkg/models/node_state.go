package models

import "time"

// NodeStatus defines the possible states of a node within a flow run.
type NodeStatus string

const (
	NodeStatusPending    NodeStatus = "pending"
	NodeStatusRunning    NodeStatus = "running"
	NodeStatusWaiting    NodeStatus = "waiting"
	NodeStatusCompleted  NodeStatus = "completed"
	NodeStatusFailed     NodeStatus = "failed"
	NodeStatusManualWait NodeStatus = "manual_wait"
)

// IsTerminal reports whether no further transitions are legal.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed
}

// IsAwaitable reports whether a completion or failure signal is legal in
// this state.
func (s NodeStatus) IsAwaitable() bool {
	return s == NodeStatusRunning || s == NodeStatusWaiting || s == NodeStatusManualWait
}

// FlowNodeState is the mutable per-run state of a single node.
//
// Status transitions are monotonic along
// pending -> running -> {completed|failed|waiting|manual_wait};
// waiting/manual_wait may transition back through running exactly once, on
// the external completion signal.
type FlowNodeState struct {
	NodeID string     `json:"node_id"`
	Status NodeStatus `json:"status"`

	Result map[string]any `json:"result,omitempty"`
	Logs   []string       `json:"logs,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DeadlineAt *time.Time `json:"deadline_at,omitempty"` // External wait modes with a timeout

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	// Populated only for manual / wait_for_input modes.
	SelectedBranch     string         `json:"selected_branch,omitempty"`
	AvailableNextNodes []string       `json:"available_next_nodes,omitempty"`
	InputRequirements  map[string]any `json:"input_requirements,omitempty"`
	InputData          map[string]any `json:"input_data,omitempty"`
	SelectedNext       string         `json:"selected_next,omitempty"`
}

// AppendLog records a log line on the node state. Logs are append-only.
func (s *FlowNodeState) AppendLog(line string) {
	s.Logs = append(s.Logs, line)
}

// Copy returns a deep copy of the node state.
func (s *FlowNodeState) Copy() *FlowNodeState {
	if s == nil {
		return nil
	}

	clone := *s
	clone.Result = copyMap(s.Result)
	clone.InputRequirements = copyMap(s.InputRequirements)
	clone.InputData = copyMap(s.InputData)
	clone.Logs = append([]string(nil), s.Logs...)
	clone.AvailableNextNodes = append([]string(nil), s.AvailableNextNodes...)
	clone.StartedAt = copyTimePointer(s.StartedAt)
	clone.FinishedAt = copyTimePointer(s.FinishedAt)
	clone.DeadlineAt = copyTimePointer(s.DeadlineAt)

	return &clone
}

// copyMap creates a copy of a map[string]any. Values are shallow-copied.
func copyMap(original map[string]any) map[string]any {
	if original == nil {
		return nil
	}

	result := make(map[string]any, len(original))
	for k, v := range original {
		result[k] = v
	}

	return result
}

func copyTimePointer(original *time.Time) *time.Time {
	if original == nil {
		return nil
	}

	value := *original

	return &value
}
