// Package events defines event types and structures for flow lifecycle
// notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/cadenzr/cadenza/pkg/models"
)

type EventType string

// Kafka topics.
const NodeDispatchTopic = "cadenza.node.dispatches"    // Jobs handed to workers
const NodeCompletionTopic = "cadenza.node.completions" // Worker results back to the engine
const FlowLifecycleTopic = "cadenza.flow.lifecycle"    // Flow started/completed/failed/cancelled

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Node lifecycle events.
	NodeDispatchedEvent EventType = "node.dispatched"
	NodeCompletedEvent  EventType = "node.completed"
	NodeFailedEvent     EventType = "node.failed"
	NodeTimedOutEvent   EventType = "node.timed_out"

	// Flow lifecycle events.
	FlowStartedEvent   EventType = "flow.started"
	FlowCompletedEvent EventType = "flow.completed"
	FlowFailedEvent    EventType = "flow.failed"
	FlowCancelledEvent EventType = "flow.cancelled"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TenantID  string         `json:"tenant_id"`
	FlowID    string         `json:"flow_id"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NodeDispatch asks a worker to run one node. It carries the merged input and
// a snapshot of the flow's working state so workers never read flow state
// directly.
type NodeDispatch struct {
	BaseEvent

	NodeID        string               `json:"node_id"`
	NodeType      string               `json:"node_type"`
	Runner        string               `json:"runner,omitempty"`
	ExecutionMode models.ExecutionMode `json:"execution_mode"`
	Input         map[string]any       `json:"input,omitempty"`
	WorkingState  map[string]any       `json:"working_state,omitempty"`
}

func (n NodeDispatch) GetType() EventType {
	return NodeDispatchedEvent
}

// NodeCompleted reports a successful node run.
type NodeCompleted struct {
	BaseEvent

	NodeID     string         `json:"node_id"`
	Result     map[string]any `json:"result,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (n NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

// NodeFailed reports a failed node run.
type NodeFailed struct {
	BaseEvent

	NodeID     string `json:"node_id"`
	Error      string `json:"error"`
	ErrorCode  string `json:"error_code,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (n NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

// NodeTimedOut reports that a waiting node exceeded its deadline.
type NodeTimedOut struct {
	BaseEvent

	NodeID     string    `json:"node_id"`
	DeadlineAt time.Time `json:"deadline_at"`
}

func (n NodeTimedOut) GetType() EventType {
	return NodeTimedOutEvent
}

// Flow lifecycle events

type FlowStarted struct {
	BaseEvent

	FlowName string `json:"flow_name"`
}

func (f FlowStarted) GetType() EventType {
	return FlowStartedEvent
}

type FlowCompleted struct {
	BaseEvent

	DurationMs int64          `json:"duration_ms"`
	Results    map[string]any `json:"results,omitempty"`
}

func (f FlowCompleted) GetType() EventType {
	return FlowCompletedEvent
}

type FlowFailed struct {
	BaseEvent

	FailedNodeID string `json:"failed_node_id"`
	Error        string `json:"error"`
	ErrorCode    string `json:"error_code,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

func (f FlowFailed) GetType() EventType {
	return FlowFailedEvent
}

type FlowCancelled struct {
	BaseEvent

	Reason      string `json:"reason,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`
}

func (f FlowCancelled) GetType() EventType {
	return FlowCancelledEvent
}

// Event is the common behavior of all cadenza events.
type Event interface {
	GetType() EventType
}

func NewBaseEvent(eventType EventType, tenantID, flowID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
		FlowID:    flowID,
		Metadata:  make(map[string]any),
	}
}
