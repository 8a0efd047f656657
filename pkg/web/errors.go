package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/cadenzr/cadenza/pkg/engine"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusConflict).
		WithInstance(c.Path()).
		WithType("invalid_state").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func serviceUnavailable(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusServiceUnavailable).
		WithInstance(c.Path()).
		WithType("store_unavailable").
		WithDetail(detail)

	return c.Status(fiber.StatusServiceUnavailable).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps the engine's error taxonomy onto problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case engine.IsFlowNotFound(err), engine.IsNodeNotFound(err):
		return notFound(c, err.Error())
	case engine.IsInvalidState(err):
		return conflict(c, err.Error())
	case engine.IsInvalidConfiguration(err):
		return badRequest(c, err.Error())
	case engine.IsStoreUnavailable(err):
		return serviceUnavailable(c, err.Error())
	default:
		return internalError(c, err)
	}
}
