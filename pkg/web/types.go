// Package web provides HTTP request and response types for the card API.
package web

import (
	"github.com/stageflow/stageflow/pkg/authorizer"
	"github.com/stageflow/stageflow/pkg/models"
)

// CreateCardRequest represents the request body for creating a new card.
type CreateCardRequest struct {
	PipelineID     string              `json:"pipeline_id"      validate:"required"`
	StageID        string              `json:"stage_id,omitempty"`
	Title          string              `json:"title"            validate:"required,min=1"`
	Description    string              `json:"description"`
	Priority       models.CardPriority `json:"priority"         validate:"omitempty,oneof=low medium high urgent"`
	UniqueKeyValue string              `json:"unique_key_value,omitempty"`
	OwnerID        string              `json:"owner_id,omitempty"`
}

// MoveCardRequest represents the request body for moving a card.
type MoveCardRequest struct {
	ToStageID string            `json:"to_stage_id" validate:"required"`
	Reason    models.MoveReason `json:"reason"      validate:"omitempty,oneof=manual api automation"`
}

// UpdateFormRequest represents a partial update to a card form.
type UpdateFormRequest struct {
	Data       map[string]any `json:"data"`
	MarkFilled bool           `json:"mark_filled"`
}

// AddCommentRequest represents the request body for commenting on a card.
type AddCommentRequest struct {
	Body string `json:"body" validate:"required,min=1"`
}

// PublishVersionRequest represents the request body for publishing a
// pipeline version.
type PublishVersionRequest struct {
	Version int `json:"version" validate:"required,min=1"`
}

// DecisionResponse is the dry-run authorization result.
type DecisionResponse struct {
	Allowed bool           `json:"allowed"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// TransformDecisionResponse maps an authorization decision to the API shape.
func TransformDecisionResponse(decision authorizer.Decision) DecisionResponse {
	return DecisionResponse{
		Allowed: decision.Allowed,
		Code:    string(decision.Code),
		Message: decision.Message,
		Details: decision.Details,
	}
}
