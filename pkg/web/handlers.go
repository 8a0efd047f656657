// Package web provides the REST endpoints for starting, inspecting, and
// signalling flow runs.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/cadenzr/cadenza/pkg/models"
	"github.com/cadenzr/cadenza/pkg/persistence"
)

// FlowEngine is the engine surface the API depends on.
type FlowEngine interface {
	StartFlow(ctx context.Context, tenantID string, def *models.FlowDefinition) (string, error)
	GetFlow(ctx context.Context, tenantID, flowID string) (*models.Flow, error)
	CompleteNode(ctx context.Context, tenantID, flowID, nodeID string, result map[string]any) error
	FailNode(ctx context.Context, tenantID, flowID, nodeID, errorMsg string) error
	SelectManualNext(ctx context.Context, tenantID, flowID, nodeID, selectedNext string, inputData map[string]any) error
	CancelFlow(ctx context.Context, tenantID, flowID, reason string) error
	NodeLogs(ctx context.Context, tenantID, flowID, nodeID string) ([]string, error)
}

type APIHandlers struct {
	engine    FlowEngine
	store     persistence.Persistence
	validator *validator.Validate
}

func NewAPIHandlers(engine FlowEngine, store persistence.Persistence, validate *validator.Validate) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		store:     store,
		validator: validate,
	}
}

func (h *APIHandlers) StartFlow(c fiber.Ctx) error {
	var req StartFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flowID, err := h.engine.StartFlow(c.Context(), req.TenantID, req.Definition)
	if err != nil {
		return handleEngineError(c, err)
	}

	flow, err := h.engine.GetFlow(c.Context(), req.TenantID, flowID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

func (h *APIHandlers) ListFlows(c fiber.Ctx) error {
	tenantID := c.Params("tenantID")
	if tenantID == "" {
		return badRequest(c, "Tenant ID is required")
	}

	status := models.FlowStatus(c.Query("status"))

	flows, err := h.store.ListFlows(c.Context(), tenantID, status)
	if err != nil {
		return internalError(c, err)
	}

	summaries := make([]FlowSummary, 0, len(flows))
	for _, flow := range flows {
		summaries = append(summaries, TransformFlowSummary(flow))
	}

	return c.JSON(fiber.Map{
		"flows":       summaries,
		"total_count": len(summaries),
	})
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	tenantID, flowID := c.Params("tenantID"), c.Params("flowID")
	if tenantID == "" || flowID == "" {
		return badRequest(c, "Tenant ID and flow ID are required")
	}

	flow, err := h.engine.GetFlow(c.Context(), tenantID, flowID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) CompleteNode(c fiber.Ctx) error {
	var req CompleteNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	err := h.engine.CompleteNode(c.Context(), c.Params("tenantID"), c.Params("flowID"), c.Params("nodeID"), req.Result)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) FailNode(c fiber.Ctx) error {
	var req FailNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.engine.FailNode(c.Context(), c.Params("tenantID"), c.Params("flowID"), c.Params("nodeID"), req.Error)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) SelectNext(c fiber.Ctx) error {
	var req SelectNextRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.engine.SelectManualNext(
		c.Context(), c.Params("tenantID"), c.Params("flowID"), c.Params("nodeID"),
		req.SelectedNext, req.InputData)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) CancelFlow(c fiber.Ctx) error {
	var req CancelFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	err := h.engine.CancelFlow(c.Context(), c.Params("tenantID"), c.Params("flowID"), req.Reason)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) GetNodeLogs(c fiber.Ctx) error {
	logs, err := h.engine.NodeLogs(c.Context(), c.Params("tenantID"), c.Params("flowID"), c.Params("nodeID"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"logs": logs})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.store.HealthCheck(c.Context())

	status := "healthy"
	message := "Cadenza API is healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		message = "Cadenza API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": err == nil,
		},
		"timestamp": time.Now().UTC(),
	})
}
