package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/cadenzr/cadenza/pkg/models"
)

// Error codes surfaced on node states and API responses.
const (
	CodeNodeTimeout      = "NODE_TIMEOUT"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
)

// NodeNotFoundError indicates the referenced node is absent from the flow
// definition. Non-retryable, caller error.
type NodeNotFoundError struct {
	FlowID string
	NodeID string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node %s not found in flow %s", e.NodeID, e.FlowID)
}

// FlowNotFoundError indicates an unknown flow ID for the tenant.
type FlowNotFoundError struct {
	TenantID string
	FlowID   string
	Err      error
}

func (e *FlowNotFoundError) Error() string {
	return fmt.Sprintf("flow %s/%s not found", e.TenantID, e.FlowID)
}

func (e *FlowNotFoundError) Unwrap() error {
	return e.Err
}

// InvalidNodeConfigurationError indicates a malformed flow definition. It is
// detected at start, the flow never enters running.
type InvalidNodeConfigurationError struct {
	Err error
}

func (e *InvalidNodeConfigurationError) Error() string {
	return fmt.Sprintf("invalid node configuration: %v", e.Err)
}

func (e *InvalidNodeConfigurationError) Unwrap() error {
	return e.Err
}

// NodeExecutionTimeoutError indicates a waiting node exceeded its configured
// timeout. Treated as a node failure.
type NodeExecutionTimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *NodeExecutionTimeoutError) Error() string {
	return fmt.Sprintf("node %s timed out after %s waiting for completion", e.NodeID, e.Timeout)
}

// Code returns the error code recorded on the node state.
func (e *NodeExecutionTimeoutError) Code() string {
	return CodeNodeTimeout
}

// InvalidStateError indicates a completion or failure signal arrived for a
// node not in an awaitable state, for example a double completion. Callers
// log and drop it, at-least-once delivery makes duplicates expected.
type InvalidStateError struct {
	NodeID string
	Status models.NodeStatus
	Signal string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot apply %s to node %s in status %s", e.Signal, e.NodeID, e.Status)
}

// StoreUnavailableError indicates the flow store stayed unreachable after the
// retry budget was exhausted.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("flow store unavailable: %v", e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// Code returns the error code recorded on the flow.
func (e *StoreUnavailableError) Code() string {
	return CodeStoreUnavailable
}

// IsNodeNotFound checks whether the error is a missing-node error.
func IsNodeNotFound(err error) bool {
	var target *NodeNotFoundError

	return errors.As(err, &target)
}

// IsFlowNotFound checks whether the error is a missing-flow error.
func IsFlowNotFound(err error) bool {
	var target *FlowNotFoundError

	return errors.As(err, &target)
}

// IsInvalidConfiguration checks whether the error is a definition error.
func IsInvalidConfiguration(err error) bool {
	var target *InvalidNodeConfigurationError

	return errors.As(err, &target)
}

// IsInvalidState checks whether the error is an illegal-signal error.
func IsInvalidState(err error) bool {
	var target *InvalidStateError

	return errors.As(err, &target)
}

// IsStoreUnavailable checks whether the error is an exhausted-retries store
// error.
func IsStoreUnavailable(err error) bool {
	var target *StoreUnavailableError

	return errors.As(err, &target)
}
