package main

import (
	"log/slog"

	"github.com/dukex/metis/pkg/services"
	"github.com/dukex/metis/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger           *slog.Logger
	executionService *services.Execution
	validate         *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	executionService *services.Execution,
) *API {
	return &API{
		logger:           logger,
		executionService: executionService,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.executionService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Metis Orchestrator")
	})

	handlers.Register(app)

	return app
}
