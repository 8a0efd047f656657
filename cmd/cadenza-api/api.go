// Package main provides the Cadenza API server implementation.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/cadenzr/cadenza/pkg/engine"
	"github.com/cadenzr/cadenza/pkg/eventbus"
	"github.com/cadenzr/cadenza/pkg/events"
	"github.com/cadenzr/cadenza/pkg/persistence"
	"github.com/cadenzr/cadenza/pkg/schedule"
	"github.com/cadenzr/cadenza/pkg/web"
)

type API struct {
	logger   *slog.Logger
	store    persistence.Persistence
	engine   *engine.Engine
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, store persistence.Persistence, eng *engine.Engine) *API {
	return &API{
		logger:   logger,
		store:    store,
		engine:   eng,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engine, a.store, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Cadenza API")
	})

	flows := app.Group("/flows")
	flows.Post("/", handlers.StartFlow)
	flows.Get("/:tenantID", handlers.ListFlows)
	flows.Get("/:tenantID/:flowID", handlers.GetFlow)
	flows.Post("/:tenantID/:flowID/cancel", handlers.CancelFlow)

	// External completion signals:
	flows.Post("/:tenantID/:flowID/nodes/:nodeID/complete", handlers.CompleteNode)
	flows.Post("/:tenantID/:flowID/nodes/:nodeID/fail", handlers.FailNode)
	flows.Post("/:tenantID/:flowID/nodes/:nodeID/select", handlers.SelectNext)
	flows.Get("/:tenantID/:flowID/nodes/:nodeID/logs", handlers.GetNodeLogs)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}

// startCompletionConsumer applies worker results back onto the engine.
// Invalid state errors are logged and dropped so duplicate deliveries never
// wedge the completion topic.
func (a *API) startCompletionConsumer(ctx context.Context, bus eventbus.EventBus) error {
	err := bus.Handle(events.NodeCompletedEvent, func(ctx context.Context, event any) error {
		completed, ok := event.(*events.NodeCompleted)
		if !ok {
			a.logger.ErrorContext(ctx, "Invalid event type for NodeCompleted")

			return nil
		}

		err := a.engine.CompleteNode(ctx, completed.TenantID, completed.FlowID, completed.NodeID, completed.Result)

		return a.settleSignalError(ctx, "completion", completed.FlowID, completed.NodeID, err)
	})
	if err != nil {
		return err
	}

	err = bus.Handle(events.NodeFailedEvent, func(ctx context.Context, event any) error {
		failed, ok := event.(*events.NodeFailed)
		if !ok {
			a.logger.ErrorContext(ctx, "Invalid event type for NodeFailed")

			return nil
		}

		err := a.engine.FailNode(ctx, failed.TenantID, failed.FlowID, failed.NodeID, failed.Error)

		return a.settleSignalError(ctx, "failure", failed.FlowID, failed.NodeID, err)
	})
	if err != nil {
		return err
	}

	return bus.Subscribe(ctx)
}

func (a *API) settleSignalError(ctx context.Context, signal, flowID, nodeID string, err error) error {
	if err == nil {
		return nil
	}

	if engine.IsInvalidState(err) || engine.IsFlowNotFound(err) || engine.IsNodeNotFound(err) {
		a.logger.WarnContext(ctx, "Dropping stale node signal",
			"signal", signal, "flow_id", flowID, "node_id", nodeID, "error", err)

		return nil
	}

	a.logger.ErrorContext(ctx, "Failed to apply node signal",
		"signal", signal, "flow_id", flowID, "node_id", nodeID, "error", err)

	return err
}

// loadSchedules reads cron entries from a JSON file. An empty path disables
// scheduled starts.
func loadSchedules(path string) ([]schedule.Entry, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []schedule.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	return entries, nil
}
