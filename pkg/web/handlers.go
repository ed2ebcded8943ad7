// Package web provides HTTP handlers and REST API endpoints for the card
// engine.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/stageflow/stageflow/pkg/persistence"
	"github.com/stageflow/stageflow/pkg/services"
)

type APIHandlers struct {
	cardService       *services.Cards
	mover             *services.Mover
	publishingService *services.Publishing
	validator         *validator.Validate
	persistence       persistence.Persistence
}

func NewAPIHandlers(
	cardService *services.Cards,
	mover *services.Mover,
	publishingService *services.Publishing,
	validator *validator.Validate,
	p persistence.Persistence,
) *APIHandlers {
	return &APIHandlers{
		cardService:       cardService,
		mover:             mover,
		publishingService: publishingService,
		validator:         validator,
		persistence:       p,
	}
}

func (h *APIHandlers) CreateCard(c fiber.Ctx) error {
	principal, ok := principalFromHeaders(c)
	if !ok {
		return unauthorized(c, "Identity headers are required")
	}

	var req CreateCardRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	card, err := h.cardService.Create(c.Context(), principal, services.CreateCardParams{
		PipelineID:     req.PipelineID,
		StageID:        req.StageID,
		Title:          req.Title,
		Description:    req.Description,
		Priority:       req.Priority,
		UniqueKeyValue: req.UniqueKeyValue,
		OwnerID:        req.OwnerID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(card)
}

func (h *APIHandlers) GetCard(c fiber.Ctx) error {
	principal, ok := principalFromHeaders(c)
	if !ok {
		return unauthorized(c, "Identity headers are required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Card ID is required")
	}

	detail, err := h.cardService.Detail(c.Context(), principal, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) MoveCard(c fiber.Ctx) error {
	principal, ok := principalFromHeaders(c)
	if !ok {
		return unauthorized(c, "Identity headers are required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Card ID is required")
	}

	var req MoveCardRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	card, err := h.mover.ExecuteMove(c.Context(), principal, id, req.ToStageID, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(card)
}

// AuthorizeMove runs the move decision procedure without applying the move.
func (h *APIHandlers) AuthorizeMove(c fiber.Ctx) error {
	principal, ok := principalFromHeaders(c)
	if !ok {
		return unauthorized(c, "Identity headers are required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Card ID is required")
	}

	var req MoveCardRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	decision, err := h.mover.AuthorizeMove(c.Context(), principal, id, req.ToStageID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformDecisionResponse(decision))
}

func (h *APIHandlers) UpdateCardForm(c fiber.Ctx) error {
	principal, ok := principalFromHeaders(c)
	if !ok {
		return unauthorized(c, "Identity headers are required")
	}

	id := c.Params("id")
	formDefinitionID := c.Params("formDefinitionId")

	if id == "" || formDefinitionID == "" {
		return badRequest(c, "Card ID and form definition ID are required")
	}

	var req UpdateFormRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	form, err := h.cardService.UpdateForm(c.Context(), principal, id, formDefinitionID, services.FormPatch{
		Data:       req.Data,
		MarkFilled: req.MarkFilled,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(form)
}

func (h *APIHandlers) AddComment(c fiber.Ctx) error {
	principal, ok := principalFromHeaders(c)
	if !ok {
		return unauthorized(c, "Identity headers are required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Card ID is required")
	}

	var req AddCommentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	comment, err := h.cardService.AddComment(c.Context(), principal, id, req.Body)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(comment)
}

func (h *APIHandlers) GetCardExecutions(c fiber.Ctx) error {
	principal, ok := principalFromHeaders(c)
	if !ok {
		return unauthorized(c, "Identity headers are required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Card ID is required")
	}

	executions, err := h.cardService.Executions(c.Context(), principal, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) GetBoard(c fiber.Ctx) error {
	principal, ok := principalFromHeaders(c)
	if !ok {
		return unauthorized(c, "Identity headers are required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Pipeline ID is required")
	}

	columns, err := h.cardService.Board(c.Context(), principal, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"columns": columns})
}

func (h *APIHandlers) PublishVersion(c fiber.Ctx) error {
	principal, ok := principalFromHeaders(c)
	if !ok {
		return unauthorized(c, "Identity headers are required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Pipeline ID is required")
	}

	var req PublishVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.publishingService.Publish(c.Context(), principal, id, req.Version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"status":    "unhealthy",
			"message":   "Stageflow API is unhealthy",
			"timestamp": time.Now().UTC(),
		})
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"status":    "healthy",
		"message":   "Stageflow API is healthy",
		"timestamp": time.Now().UTC(),
	})
}
