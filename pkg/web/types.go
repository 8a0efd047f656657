// Package web provides HTTP request and response types for the flow API.
package web

import (
	"time"

	"github.com/cadenzr/cadenza/pkg/models"
)

// StartFlowRequest represents the request body for starting a new flow run.
type StartFlowRequest struct {
	TenantID   string                 `json:"tenant_id"  validate:"required"`
	Definition *models.FlowDefinition `json:"definition" validate:"required"`
}

// CompleteNodeRequest carries the result of an externally completed node.
type CompleteNodeRequest struct {
	Result map[string]any `json:"result,omitempty"`
}

// FailNodeRequest reports an external node failure.
type FailNodeRequest struct {
	Error string `json:"error" validate:"required"`
}

// SelectNextRequest resolves a manual gate: the chosen successor plus any
// operator-supplied input data.
type SelectNextRequest struct {
	SelectedNext string         `json:"selected_next" validate:"required"`
	InputData    map[string]any `json:"input_data,omitempty"`
}

// CancelFlowRequest represents the request body for cancelling a flow run.
type CancelFlowRequest struct {
	Reason string `json:"reason,omitempty"`
}

// FlowSummary is the trimmed listing view of a flow run.
type FlowSummary struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Name      string            `json:"name"`
	Status    models.FlowStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TransformFlowSummary builds the listing view for a flow run.
func TransformFlowSummary(flow *models.Flow) FlowSummary {
	summary := FlowSummary{
		ID:        flow.ID,
		TenantID:  flow.TenantID,
		Status:    flow.Status,
		CreatedAt: flow.CreatedAt,
		UpdatedAt: flow.UpdatedAt,
	}

	if flow.Definition != nil {
		summary.Name = flow.Definition.Name
	}

	return summary
}
