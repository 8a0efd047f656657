// Package models defines the core domain models for flow execution.
package models

import "time"

// ExecutionMode describes how completion of a node is detected.
type ExecutionMode string

const (
	ExecutionModeSync         ExecutionMode = "sync"           // Runner reports completion synchronously
	ExecutionModeAuto         ExecutionMode = "auto"           // Same contract as sync
	ExecutionModeManual       ExecutionMode = "manual"         // A human picks the successor path
	ExecutionModeWaitForInput ExecutionMode = "wait_for_input" // A human supplies input data
	ExecutionModeMQTT         ExecutionMode = "mqtt"           // Completed by an MQTT bridge
	ExecutionModeHTTPCallback ExecutionMode = "http_callback"  // Completed by an HTTP callback
	ExecutionModeEvent        ExecutionMode = "event"          // Completed by a named external event
	ExecutionModeExternal     ExecutionMode = "external"       // Completed by any external signal
)

// IsManual reports whether the mode suspends the node until a human
// resolves it through SelectManualNext.
func (m ExecutionMode) IsManual() bool {
	return m == ExecutionModeManual || m == ExecutionModeWaitForInput
}

// IsExternal reports whether the mode suspends the node until an external
// completion signal arrives (CompleteNode/FailNode).
func (m ExecutionMode) IsExternal() bool {
	switch m {
	case ExecutionModeMQTT, ExecutionModeHTTPCallback, ExecutionModeEvent, ExecutionModeExternal:
		return true
	default:
		return false
	}
}

// IsValid reports whether the mode is one of the known execution modes.
// The empty mode is treated as sync.
func (m ExecutionMode) IsValid() bool {
	switch m {
	case "", ExecutionModeSync, ExecutionModeAuto,
		ExecutionModeManual, ExecutionModeWaitForInput,
		ExecutionModeMQTT, ExecutionModeHTTPCallback, ExecutionModeEvent, ExecutionModeExternal:
		return true
	default:
		return false
	}
}

// ConditionRule routes a completed node to a single successor when its
// condition evaluates to true. Rules are evaluated in order, first match wins.
type ConditionRule struct {
	Condition  string `json:"condition"    validate:"required"`
	NextNodeID string `json:"next_node_id" validate:"required"`
}

// BranchRule is the richer alternative to ConditionRule. Branches are
// evaluated in list order, first truthy wins, and take precedence over
// Conditions when both are declared.
type BranchRule struct {
	Condition    string `json:"condition"           validate:"required"`
	TargetNodeID string `json:"target_node_id"      validate:"required"`
	Evaluator    string `json:"evaluator,omitempty"` // Expression language hint, defaults to "expr"
}

// MQTTWait describes how an mqtt-mode node waits for its bridge.
type MQTTWait struct {
	Topic   string        `json:"topic" validate:"required"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// HTTPWait describes how an http_callback-mode node waits for its callback.
type HTTPWait struct {
	CallbackURL string        `json:"callback_url"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// EventWait describes how an event-mode node waits for a named event.
type EventWait struct {
	EventName string        `json:"event_name" validate:"required"`
	Timeout   time.Duration `json:"timeout,omitempty"`
}

// EntryCall describes an HTTP entry point invoked on behalf of the node at
// dispatch time. Opaque to the engine; consumed by the runner.
type EntryCall struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
}

// NodeDefinition is the static description of a single flow step.
// Immutable once a flow starts.
type NodeDefinition struct {
	ID            string        `json:"id"             validate:"required"`
	Type          string        `json:"type"           validate:"required"`
	Runner        string        `json:"runner"` // Dispatch routing tag, opaque to the engine
	ExecutionMode ExecutionMode `json:"execution_mode"`

	Input map[string]any `json:"input,omitempty"`

	NextNodes       []string        `json:"next_nodes,omitempty"`
	Conditions      []ConditionRule `json:"conditions,omitempty"`
	Branches        []BranchRule    `json:"branches,omitempty"`
	ManualNextNodes []string        `json:"manual_next_nodes,omitempty"`

	MQTT  *MQTTWait  `json:"mqtt,omitempty"`
	HTTP  *HTTPWait  `json:"http,omitempty"`
	Event *EventWait `json:"event,omitempty"`
	Entry *EntryCall `json:"entry,omitempty"`
}

// WaitTimeout returns the configured completion timeout for external wait
// modes, or zero when the node never times out.
func (n *NodeDefinition) WaitTimeout() time.Duration {
	switch n.ExecutionMode {
	case ExecutionModeMQTT:
		if n.MQTT != nil {
			return n.MQTT.Timeout
		}
	case ExecutionModeHTTPCallback:
		if n.HTTP != nil {
			return n.HTTP.Timeout
		}
	case ExecutionModeEvent:
		if n.Event != nil {
			return n.Event.Timeout
		}
	case ExecutionModeExternal:
		if n.Entry != nil {
			return n.Entry.Timeout
		}
	}

	return 0
}

// Successors returns every node ID this node can reach, regardless of which
// resolution strategy fires at runtime.
func (n *NodeDefinition) Successors() []string {
	seen := make(map[string]bool)
	targets := make([]string, 0, len(n.NextNodes))

	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true

			targets = append(targets, id)
		}
	}

	for _, b := range n.Branches {
		add(b.TargetNodeID)
	}

	for _, c := range n.Conditions {
		add(c.NextNodeID)
	}

	for _, id := range n.NextNodes {
		add(id)
	}

	for _, id := range n.ManualNextNodes {
		add(id)
	}

	return targets
}
