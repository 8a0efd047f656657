// Package protocol defines the contracts between the engine, workers, and
// pluggable node actions.
package protocol

import (
	"context"
	"log/slog"

	"github.com/cadenzr/cadenza/pkg/models"
)

// Action is a single executable node behavior. Execute receives the merged
// dispatch input and the flow's shared working state through the flow
// context, and returns the node result reported back as the completion.
type Action interface {
	Execute(ctx context.Context, flowCtx models.FlowContext, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory builds actions for one node type.
type ActionFactory interface {
	// ID is the node type this factory serves.
	ID() string

	// Schema returns the JSON schema the node's static input must satisfy.
	Schema() map[string]any

	Create(config map[string]any) (Action, error)
}
