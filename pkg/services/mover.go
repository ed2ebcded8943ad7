package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stageflow/stageflow/pkg/authorizer"
	"github.com/stageflow/stageflow/pkg/eventbus"
	"github.com/stageflow/stageflow/pkg/events"
	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/otelhelper"
	"github.com/stageflow/stageflow/pkg/persistence"
)

// Mover orchestrates card moves: authorize, apply the stage change in one
// transaction, then publish the movement event. The event is emitted only
// after the write commits; a failed publish never rolls the move back.
type Mover struct {
	persistence persistence.Persistence
	authorizer  *authorizer.Authorizer
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewMover creates a move orchestrator.
func NewMover(p persistence.Persistence, auth *authorizer.Authorizer, publisher eventbus.EventPublisher, logger *slog.Logger) *Mover {
	return &Mover{
		persistence: p,
		authorizer:  auth,
		publisher:   publisher,
		logger:      logger.With("module", "mover"),
		tracer:      otelhelper.Tracer("stageflow.mover"),
	}
}

// AuthorizeMove evaluates a move without applying it. The decision reports
// every piece a client needs to explain a denial.
func (m *Mover) AuthorizeMove(ctx context.Context, principal models.Principal, cardID, toStageID string) (authorizer.Decision, error) {
	card, err := m.persistence.Cards().CardByID(ctx, principal.TenantID, principal.OrganizationID, cardID)
	if err != nil {
		return authorizer.Decision{}, err
	}

	decision, _, err := m.authorizer.Authorize(ctx, principal, card, toStageID)
	if err != nil {
		return authorizer.Decision{}, err
	}

	return decision, nil
}

// ExecuteMove moves a card to the target stage. Denials come back as
// *DeniedError; unexpected states surface as plain errors.
func (m *Mover) ExecuteMove(ctx context.Context, principal models.Principal, cardID, toStageID string, reason models.MoveReason) (*models.Card, error) {
	ctx, span := m.tracer.Start(ctx, "mover.execute_move", trace.WithAttributes(
		attribute.String(otelhelper.CardIDKey, cardID),
		attribute.String(otelhelper.StageIDKey, toStageID),
		attribute.String(otelhelper.PrincipalKey, principal.UserID),
	))
	defer span.End()

	switch reason {
	case "":
		reason = models.MoveReasonManual
	case models.MoveReasonManual, models.MoveReasonAPI, models.MoveReasonAutomation:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMoveReason, reason)
	}

	card, err := m.persistence.Cards().CardByID(ctx, principal.TenantID, principal.OrganizationID, cardID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	decision, auth, err := m.authorizer.Authorize(ctx, principal, card, toStageID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if !decision.Allowed {
		m.logger.InfoContext(ctx, "Move denied",
			"card_id", cardID,
			"to_stage_id", toStageID,
			"code", decision.Code)

		return nil, Denied(decision)
	}

	params, err := m.buildMoveParams(ctx, card, auth, reason)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if err := m.persistence.Cards().MoveCard(ctx, params); err != nil {
		return nil, m.mapMoveError(ctx, card, auth, err)
	}

	m.publishMoved(ctx, card, auth, reason)

	moved, err := m.persistence.Cards().CardByID(ctx, principal.TenantID, principal.OrganizationID, cardID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	m.logger.InfoContext(ctx, "Card moved",
		"card_id", card.ID,
		"from_stage_id", auth.FromStage.ID,
		"to_stage_id", auth.ToStage.ID,
		"reason", reason)

	return moved, nil
}

// buildMoveParams turns the authorized plan into the transactional write:
// forms to lock on leaving the source stage, forms to attach on entering the
// target, and whether the card closes.
func (m *Mover) buildMoveParams(ctx context.Context, card *models.Card, auth *authorizer.Authorization, reason models.MoveReason) (persistence.MoveParams, error) {
	lockFormIDs := make([]string, 0)

	for _, rule := range auth.FromStage.FormAttachRules {
		if rule.LockOnLeaveStage {
			lockFormIDs = append(lockFormIDs, rule.EffectiveFormID())
		}
	}

	attachForms := make([]*models.CardForm, 0)

	for _, rule := range auth.ToStage.FormAttachRules {
		form, err := m.instantiateForm(ctx, card, auth.ToStage.ID, rule)
		if err != nil {
			return persistence.MoveParams{}, err
		}

		attachForms = append(attachForms, form)
	}

	return persistence.MoveParams{
		CardID:          card.ID,
		ExpectedStageID: card.CurrentStageID,
		ToStageID:       auth.ToStage.ID,
		Reason:          reason,
		WIPLimit:        auth.ToStage.WIPLimit,
		LockFormIDs:     lockFormIDs,
		AttachForms:     attachForms,
		CloseCard:       auth.ToStage.IsFinal,
	}, nil
}

func (m *Mover) instantiateForm(ctx context.Context, card *models.Card, stageID string, rule *models.StageFormAttachRule) (*models.CardForm, error) {
	status := rule.DefaultFormStatus
	if status == "" {
		status = models.FormStatusToFill
	}

	form := &models.CardForm{
		ID:                uuid.NewString(),
		CardID:            card.ID,
		FormDefinitionID:  rule.EffectiveFormID(),
		Status:            status,
		Data:              map[string]any{},
		AttachedAtStageID: stageID,
		AttachedAt:        time.Now(),
	}

	// External forms carry no local definition; version stays zero.
	if rule.FormDefinitionID != "" {
		definition, err := m.persistence.Forms().FormDefinitionByID(ctx, card.TenantID, rule.FormDefinitionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load form definition %s: %w", rule.FormDefinitionID, err)
		}

		form.FormVersion = definition.Version
	}

	return form, nil
}

// mapMoveError translates transactional race outcomes into denials so a
// concurrent loser gets the same response shape as a pre-checked denial.
func (m *Mover) mapMoveError(ctx context.Context, card *models.Card, auth *authorizer.Authorization, err error) error {
	switch {
	case errors.Is(err, persistence.ErrCardStale):
		m.logger.InfoContext(ctx, "Move lost a concurrent race", "card_id", card.ID)

		return Denied(authorizer.Decision{
			Allowed: false,
			Code:    authorizer.CodeTransitionNotAllowed,
			Message: "Card moved concurrently; re-read and retry",
			Details: map[string]any{
				"current_stage_id": card.CurrentStageID,
			},
		})
	case errors.Is(err, persistence.ErrWIPLimitExceeded):
		limit := 0
		if auth.ToStage.WIPLimit != nil {
			limit = *auth.ToStage.WIPLimit
		}

		return Denied(authorizer.Decision{
			Allowed: false,
			Code:    authorizer.CodeWIPLimitReached,
			Message: fmt.Sprintf("WIP limit (%d) reached for stage %q", limit, auth.ToStage.Name),
			Details: map[string]any{
				"stage_id": auth.ToStage.ID,
				"current":  limit,
				"limit":    limit,
			},
		})
	default:
		return fmt.Errorf("failed to move card %s: %w", card.ID, err)
	}
}

func (m *Mover) publishMoved(ctx context.Context, card *models.Card, auth *authorizer.Authorization, reason models.MoveReason) {
	event := events.CardMoved{
		BaseEvent:   events.NewBaseEvent(events.CardMovedEvent, card.TenantID, card.OrganizationID),
		CardID:      card.ID,
		PipelineID:  card.PipelineID,
		FromStageID: auth.FromStage.ID,
		ToStageID:   auth.ToStage.ID,
		Reason:      reason,
	}

	if err := m.publisher.Publish(ctx, card.ID, event); err != nil {
		m.logger.ErrorContext(ctx, "Failed to publish card moved event",
			"card_id", card.ID,
			"error", err)
	}
}
