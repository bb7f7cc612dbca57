// Package main provides the orchid API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/orchid-run/orchid/pkg/approval"
	"github.com/orchid-run/orchid/pkg/eventbus"
	"github.com/orchid-run/orchid/pkg/registry"
	"github.com/orchid-run/orchid/pkg/store"
	"github.com/orchid-run/orchid/pkg/web"
)

type API struct {
	logger   *slog.Logger
	store    store.Store
	registry *registry.Registry
	gate     *approval.Gate
	bus      eventbus.EventBus
}

func NewAPI(
	logger *slog.Logger,
	st store.Store,
	reg *registry.Registry,
	gate *approval.Gate,
	bus eventbus.EventBus,
) *API {
	return &API{
		logger:   logger,
		store:    st,
		registry: reg,
		gate:     gate,
		bus:      bus,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.logger, a.store, a.registry, a.gate, a.bus)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Orchid API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
