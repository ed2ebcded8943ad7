// Package main provides the Stageflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	redis "github.com/redis/go-redis/v9"

	"github.com/stageflow/stageflow/pkg/authorizer"
	"github.com/stageflow/stageflow/pkg/eventbus"
	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/permissions"
	"github.com/stageflow/stageflow/pkg/persistence"
	"github.com/stageflow/stageflow/pkg/services"
	"github.com/stageflow/stageflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	roleCache   redis.UniversalClient
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	roleCache redis.UniversalClient,
) *API {
	return &API{
		logger:      logger,
		persistence: p,
		eventBus:    eventBus,
		roleCache:   roleCache,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	resolver := permissions.NewResolver(a.persistence, a.roleCache, a.logger)
	auth := authorizer.NewAuthorizer(a.persistence, resolver, models.RoleOperator, a.logger)

	mover := services.NewMover(a.persistence, auth, a.eventBus, a.logger)
	cardService := services.NewCards(a.persistence, resolver, a.eventBus, a.logger)
	publishingService := services.NewPublishing(a.persistence, resolver, a.logger)

	handlers := web.NewAPIHandlers(cardService, mover, publishingService, a.validate, a.persistence)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Stageflow API")
	})

	pipelines := app.Group("/pipelines")
	pipelines.Post("/:id/publish", handlers.PublishVersion)
	pipelines.Get("/:id/board", handlers.GetBoard)

	cards := app.Group("/cards")
	cards.Post("/", handlers.CreateCard)
	cards.Get("/:id", handlers.GetCard)
	cards.Post("/:id/move", handlers.MoveCard)
	cards.Post("/:id/authorize-move", handlers.AuthorizeMove)
	cards.Patch("/:id/forms/:formDefinitionId", handlers.UpdateCardForm)
	cards.Post("/:id/comments", handlers.AddComment)
	cards.Get("/:id/executions", handlers.GetCardExecutions)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
