// Package transform provides the built-in transform action: it reshapes flow
// data through a template expression into a new node result.
package transform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cadenzr/cadenza/pkg/models"
	"github.com/cadenzr/cadenza/pkg/protocol"
	"github.com/cadenzr/cadenza/pkg/template"
)

// ActionFactory builds transform actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "transform"
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Template producing the node result. A JSON object output becomes a structured result.",
			},
		},
		"required": []string{"expression"},
	}
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	expression, _ := config["expression"].(string)
	if expression == "" {
		return nil, fmt.Errorf("transform action requires an 'expression'")
	}

	return &Action{expression: expression}, nil
}

// Action renders its expression and wraps the outcome as the node result.
type Action struct {
	expression string
}

func (a *Action) Execute(ctx context.Context, flowCtx models.FlowContext, logger *slog.Logger) (map[string]any, error) {
	rendered, err := template.RenderWithContext(a.expression, flowCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render transform expression: %w", err)
	}

	logger.DebugContext(ctx, "Transform applied", "action_type", "transform", "node_id", flowCtx.NodeID)

	if structured, ok := rendered.(map[string]any); ok {
		return structured, nil
	}

	return map[string]any{"value": rendered}, nil
}
