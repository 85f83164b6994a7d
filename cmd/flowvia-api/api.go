// Package main provides the Flowvia API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowvia/flowvia/pkg/draft"
	"github.com/flowvia/flowvia/pkg/engine"
	"github.com/flowvia/flowvia/pkg/eventbus"
	"github.com/flowvia/flowvia/pkg/persistence"
	"github.com/flowvia/flowvia/pkg/services"
	"github.com/flowvia/flowvia/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	cache       engine.StateCache
	tracer      trace.Tracer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	cache engine.StateCache,
	tracer trace.Tracer,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		cache:       cache,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	flowEngine := engine.New(a.persistence, a.eventBus, a.cache, a.logger)
	if a.tracer != nil {
		flowEngine.SetTracer(a.tracer)
	}

	workflowService := services.NewWorkflow(a.persistence, a.eventBus, a.logger)
	publishingService := services.NewPublishing(a.persistence, a.eventBus, a.logger)
	flowService := services.NewFlow(a.persistence, flowEngine)
	stage := draft.NewStage(a.persistence, a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(workflowService, publishingService, flowService, stage, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowvia API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
