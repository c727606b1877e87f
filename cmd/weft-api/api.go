// Package main provides the Weft API server implementation.
package main

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/weftd/weft/pkg/eventbus"
	"github.com/weftd/weft/pkg/persistence"
	"github.com/weftd/weft/pkg/triggers/webhook"
	"github.com/weftd/weft/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.persistence, a.eventBus, a.validate)
	hooks := webhook.NewTrigger(a.persistence, a.eventBus, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Weft API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/publish", handlers.PublishWorkflow)
	w.Post("/:id/compile", handlers.CompileWorkflow)
	w.Post("/:id/runs", handlers.StartRun)
	w.Get("/:id/runs", handlers.GetRuns)

	app.Get("/runs/:runId", handlers.GetRun)

	app.Post("/hooks/:path", a.handleWebhook(hooks))

	app.Get("/health", handlers.HealthCheck)

	return app
}

// handleWebhook fires the webhook trigger for POST /hooks/:path. The shared
// secret travels in the X-Webhook-Secret header; the JSON body becomes the
// trigger payload.
func (a *API) handleWebhook(hooks *webhook.Trigger) fiber.Handler {
	return func(c fiber.Ctx) error {
		var payload map[string]any

		if len(c.Body()) > 0 {
			if err := c.Bind().JSON(&payload); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON payload"})
			}
		}

		runID, err := hooks.Fire(c.Context(), c.Params("path"), c.Get("X-Webhook-Secret"), payload)

		switch {
		case errors.Is(err, webhook.ErrUnknownPath):
			return c.SendStatus(fiber.StatusNotFound)
		case errors.Is(err, webhook.ErrInvalidSecret):
			return c.SendStatus(fiber.StatusUnauthorized)
		case err != nil:
			a.logger.ErrorContext(c.Context(), "Webhook dispatch failed", "error", err)

			return c.SendStatus(fiber.StatusInternalServerError)
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"run_id": runID})
	}
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
