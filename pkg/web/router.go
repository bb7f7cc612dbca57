package web

import (
	"github.com/gofiber/fiber/v3"
)

// Register mounts all API routes on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.PublishWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Post("/:id/runs", h.StartRun)

	r := app.Group("/runs")
	r.Get("/:id", h.GetRun)
	r.Post("/:id/cancel", h.CancelRun)

	a := app.Group("/approvals")
	a.Get("/", h.ListPendingApprovals)
	a.Get("/:id", h.GetApproval)
	a.Post("/:id/resolve", h.ResolveApproval)
}
