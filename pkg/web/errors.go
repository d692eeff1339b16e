package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/persistence"
	"github.com/harvestman-flow/harvestman/pkg/workflow"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine and persistence errors onto problem
// responses: validation to 400, unknown ids to 404, state conflicts to 409,
// everything else to 500.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case models.IsValidationError(err):
		return badRequest(c, err.Error())

	case persistence.IsInstanceNotFound(err):
		return notFound(c, "instance not found")

	case errors.Is(err, workflow.ErrRuleNotFound):
		return notFound(c, err.Error())

	case errors.Is(err, workflow.ErrInstanceNotPending),
		errors.Is(err, workflow.ErrInstanceTerminal):
		return conflict(c, err.Error())

	case errors.Is(err, workflow.ErrRuleExists):
		return conflict(c, err.Error())

	default:
		return internalError(c, err)
	}
}
