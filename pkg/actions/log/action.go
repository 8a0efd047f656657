// Package log provides the built-in log action: it renders a message against
// the flow context and writes it to the worker's logger.
package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cadenzr/cadenza/pkg/models"
	"github.com/cadenzr/cadenza/pkg/protocol"
	"github.com/cadenzr/cadenza/pkg/template"
)

// ActionFactory builds log actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "log"
}

// Schema returns the JSON schema for the action configuration.
func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to log. Supports templating for dynamic content.",
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "error"},
			},
		},
		"required": []string{"message"},
	}
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	message, _ := config["message"].(string)
	if message == "" {
		return nil, fmt.Errorf("log action requires a 'message'")
	}

	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	return &Action{message: message, level: level}, nil
}

// Action logs a rendered message and returns it as the node result.
type Action struct {
	message string
	level   string
}

func (a *Action) Execute(ctx context.Context, flowCtx models.FlowContext, logger *slog.Logger) (map[string]any, error) {
	rendered, err := template.RenderWithContext(a.message, flowCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render log message: %w", err)
	}

	message := fmt.Sprintf("%v", rendered)
	logger = logger.With("action_type", "log", "node_id", flowCtx.NodeID)

	switch a.level {
	case "debug":
		logger.DebugContext(ctx, message)
	case "warn":
		logger.WarnContext(ctx, message)
	case "error":
		logger.ErrorContext(ctx, message)
	default:
		logger.InfoContext(ctx, message)
	}

	return map[string]any{"message": message, "level": a.level}, nil
}
