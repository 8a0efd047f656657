// Package persistence provides the storage abstraction for flow runs.
package persistence

import (
	"context"

	"github.com/cadenzr/cadenza/pkg/models"
)

// Persistence is the flow state store.
//
// SaveFlow must serialize concurrent writes per flow: implementations check
// the flow's Version against the stored record and reject stale writes with
// ErrVersionConflict, so a lost update can never be silent. AppendNodeLog is
// a fast path that does not touch the versioned flow record.
type Persistence interface {
	// LoadFlow returns a deep copy of the flow, or ErrFlowNotFound.
	LoadFlow(ctx context.Context, tenantID, flowID string) (*models.Flow, error)

	// SaveFlow persists the flow, bumping its Version on success.
	SaveFlow(ctx context.Context, flow *models.Flow) error

	// ListFlows returns flows for a tenant, optionally filtered by status.
	// An empty status means no filter.
	ListFlows(ctx context.Context, tenantID string, status models.FlowStatus) ([]*models.Flow, error)

	// ListRunningFlows returns every non-terminal flow across all tenants.
	// Used by crash recovery to rebuild dispatch and timeout state.
	ListRunningFlows(ctx context.Context) ([]*models.Flow, error)

	// AppendNodeLog appends one line to a node's log trail.
	AppendNodeLog(ctx context.Context, tenantID, flowID, nodeID, line string) error

	// NodeLogs returns the full log trail for a node, oldest first.
	NodeLogs(ctx context.Context, tenantID, flowID, nodeID string) ([]string, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
