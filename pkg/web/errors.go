package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/orchid-run/orchid/pkg/approval"
	"github.com/orchid-run/orchid/pkg/registry"
	"github.com/orchid-run/orchid/pkg/store"
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

// handleError maps domain errors onto RFC 7807 responses.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case registry.IsValidationError(err):
		return badRequest(c, err.Error())

	case store.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")

	case store.IsRunNotFound(err):
		return notFound(c, "run not found")

	case store.IsApprovalNotFound(err):
		return notFound(c, "approval request not found")

	case errors.Is(err, approval.ErrAlreadyResolved):
		return conflict(c, err.Error())

	case errors.Is(err, approval.ErrInvalidDecision):
		return badRequest(c, err.Error())

	case store.IsVersionConflict(err):
		return conflict(c, "run was modified concurrently, retry")

	default:
		return internalError(c, err)
	}
}
