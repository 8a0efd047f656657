// Package persistence provides standardized error types for store operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates no flow exists for the given tenant and ID.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrVersionConflict indicates a save lost an optimistic concurrency
	// check against a newer stored version.
	ErrVersionConflict = errors.New("flow version conflict")

	// ErrStoreUnavailable indicates the backing store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// FlowError wraps flow store errors with operation context.
type FlowError struct {
	Op       string // Operation being performed (e.g., "LoadFlow", "SaveFlow")
	TenantID string
	FlowID   string
	Err      error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s failed for flow %s/%s: %v", e.Op, e.TenantID, e.FlowID, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFlowError creates a new flow store error with context.
func NewFlowError(op, tenantID, flowID string, err error) *FlowError {
	return &FlowError{
		Op:       op,
		TenantID: tenantID,
		FlowID:   flowID,
		Err:      err,
	}
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsVersionConflict checks if an error indicates a lost optimistic write.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsStoreUnavailable checks if an error indicates store infrastructure failure.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
