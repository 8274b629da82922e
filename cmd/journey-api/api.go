// Package main provides the Journey API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/protocol"
	"github.com/journeyhq/journey/pkg/registry"
	"github.com/journeyhq/journey/pkg/services"
	"github.com/journeyhq/journey/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	records     protocol.RecordStore
	reasoning   protocol.ReasoningClient
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	records protocol.RecordStore,
	reasoning protocol.ReasoningClient,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		records:     records,
		reasoning:   reasoning,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.persistence, a.registry, a.eventBus)
	enrollmentService := services.NewEnrollment(a.persistence, a.eventBus)
	simulationService := services.NewSimulation(a.logger, a.persistence, a.registry, a.records, a.reasoning)

	handlers := web.NewAPIHandlers(workflowService, enrollmentService, simulationService, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Journey API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/validate", handlers.ValidateWorkflow)
	w.Post("/:id/activate", handlers.ActivateWorkflow)
	w.Post("/:id/pause", handlers.PauseWorkflow)
	w.Post("/:id/archive", handlers.ArchiveWorkflow)
	w.Put("/:id/steps/:stepId/delay", handlers.RetargetDelay)

	// Enrollment endpoints:
	w.Post("/:id/enrollments", handlers.Enroll)
	w.Post("/:id/enrollments/bulk", handlers.BulkEnroll)
	w.Get("/:id/enrollments", handlers.GetWorkflowEnrollments)
	w.Get("/:id/enrollments/stats", handlers.EnrollmentStats)
	w.Post("/:id/simulate", handlers.Simulate)

	e := app.Group("/enrollments")
	e.Get("/", handlers.GetEnrollments)
	e.Get("/:id", handlers.GetEnrollment)
	e.Post("/:id/cancel", handlers.CancelEnrollment)
	e.Post("/:id/retry", handlers.RetryEnrollment)
	e.Post("/:id/resume", handlers.ResumeEnrollment)

	app.Get("/executors", handlers.GetExecutors)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
