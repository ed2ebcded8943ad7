package services

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/stageflow/stageflow/pkg/eventbus"
	"github.com/stageflow/stageflow/pkg/events"
	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/permissions"
	"github.com/stageflow/stageflow/pkg/persistence"
)

// CardDetail is the full read model for one card.
type CardDetail struct {
	Card               *models.Card              `json:"card"`
	Forms              []*models.CardForm        `json:"forms"`
	History            []*models.CardMoveHistory `json:"history"`
	AllowedTransitions []*models.StageTransition `json:"allowed_transitions"`
}

// BoardCard is a card on the board with the number of its forms still to
// fill.
type BoardCard struct {
	*models.Card

	PendingFormsCount int `json:"pending_forms_count"`
}

// BoardColumn is one stage column of the kanban read model.
type BoardColumn struct {
	Stage              *models.Stage             `json:"stage"`
	Cards              []*BoardCard              `json:"cards"`
	CardCount          int                       `json:"card_count"`
	AllowedTransitions []*models.StageTransition `json:"allowed_transitions"`
}

// CreateCardParams describes a new card. StageID is optional; when empty the
// card enters the version's initial stage.
type CreateCardParams struct {
	PipelineID     string
	StageID        string
	Title          string
	Description    string
	Priority       models.CardPriority
	UniqueKeyValue string
	OwnerID        string
}

// FormPatch is a partial update to a card form. Data keys merge over the
// existing payload; MarkFilled transitions the form to FILLED after the
// payload validates against the definition schema.
type FormPatch struct {
	Data       map[string]any
	MarkFilled bool
}

// Cards serves card lifecycle operations outside the move path.
type Cards struct {
	persistence persistence.Persistence
	resolver    *permissions.Resolver
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

// NewCards creates the card service.
func NewCards(p persistence.Persistence, resolver *permissions.Resolver, publisher eventbus.EventPublisher, logger *slog.Logger) *Cards {
	return &Cards{
		persistence: p,
		resolver:    resolver,
		publisher:   publisher,
		logger:      logger.With("module", "cards"),
	}
}

// Create places a new card into a published pipeline.
func (c *Cards) Create(ctx context.Context, principal models.Principal, params CreateCardParams) (*models.Card, error) {
	if strings.TrimSpace(params.Title) == "" {
		return nil, ErrTitleRequired
	}

	if err := c.requireRole(ctx, principal, params.PipelineID, models.RoleOperator); err != nil {
		return nil, err
	}

	pipeline, err := c.persistence.Pipelines().PipelineByID(ctx, principal.TenantID, principal.OrganizationID, params.PipelineID)
	if err != nil {
		return nil, err
	}

	version, err := c.persistence.Pipelines().PublishedVersion(ctx, pipeline.ID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, fmt.Errorf("pipeline %s: %w", pipeline.ID, ErrPipelineNotPublished)
		}

		return nil, err
	}

	stage := version.InitialStage()
	if params.StageID != "" {
		stage = version.StageByID(params.StageID)
		if stage != nil && !stage.IsInitial {
			stage = nil
		}
	}

	if stage == nil {
		return nil, ErrInitialStageInvalid
	}

	priority := params.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	now := time.Now()
	card := &models.Card{
		ID:              uuid.NewString(),
		TenantID:        principal.TenantID,
		OrganizationID:  principal.OrganizationID,
		PipelineID:      pipeline.ID,
		PipelineVersion: version.Version,
		CurrentStageID:  stage.ID,
		Title:           params.Title,
		Description:     params.Description,
		Priority:        priority,
		Status:          models.CardStatusActive,
		UniqueKeyValue:  params.UniqueKeyValue,
		OwnerID:         params.OwnerID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if card.OwnerID == "" {
		card.OwnerID = principal.UserID
	}

	if err := c.persistence.Cards().SaveCard(ctx, card); err != nil {
		return nil, fmt.Errorf("failed to create card: %w", err)
	}

	// The initial stage attaches its forms exactly like stage entry on a move.
	for _, rule := range stage.FormAttachRules {
		form, err := c.instantiateForm(ctx, card, stage.ID, rule)
		if err != nil {
			return nil, err
		}

		if err := c.persistence.Cards().SaveForm(ctx, form); err != nil {
			return nil, fmt.Errorf("failed to attach form %s: %w", form.FormDefinitionID, err)
		}
	}

	c.logger.InfoContext(ctx, "Card created",
		"card_id", card.ID,
		"pipeline_id", pipeline.ID,
		"stage_id", stage.ID)

	return card, nil
}

// Detail loads a card with its forms, history, and the transitions leaving
// its current stage.
func (c *Cards) Detail(ctx context.Context, principal models.Principal, cardID string) (*CardDetail, error) {
	card, err := c.persistence.Cards().CardByID(ctx, principal.TenantID, principal.OrganizationID, cardID)
	if err != nil {
		return nil, err
	}

	if err := c.requireRole(ctx, principal, card.PipelineID, models.RoleViewer); err != nil {
		return nil, err
	}

	version, err := c.persistence.Pipelines().VersionByNumber(ctx, card.PipelineID, card.PipelineVersion)
	if err != nil {
		return nil, err
	}

	forms, err := c.persistence.Cards().FormsByCard(ctx, card.ID)
	if err != nil {
		return nil, err
	}

	history, err := c.persistence.Cards().HistoryByCard(ctx, card.ID)
	if err != nil {
		return nil, err
	}

	transitions := version.TransitionsFrom(card.CurrentStageID)
	if card.Status != models.CardStatusActive {
		transitions = []*models.StageTransition{}
	}

	return &CardDetail{
		Card:               card,
		Forms:              forms,
		History:            history,
		AllowedTransitions: transitions,
	}, nil
}

// AddComment appends a comment to a card.
func (c *Cards) AddComment(ctx context.Context, principal models.Principal, cardID, body string) (*models.CardComment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrCommentBodyRequired
	}

	card, err := c.persistence.Cards().CardByID(ctx, principal.TenantID, principal.OrganizationID, cardID)
	if err != nil {
		return nil, err
	}

	if err := c.requireRole(ctx, principal, card.PipelineID, models.RoleOperator); err != nil {
		return nil, err
	}

	comment := &models.CardComment{
		ID:        uuid.NewString(),
		CardID:    card.ID,
		AuthorID:  principal.UserID,
		Body:      body,
		CreatedAt: time.Now(),
	}

	if err := c.persistence.Cards().AddComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("failed to add comment to card %s: %w", card.ID, err)
	}

	return comment, nil
}

// UpdateForm merges a data patch into a card form and optionally marks it
// FILLED. LOCKED forms reject both data and status changes. Each changed
// field publishes a form field change event for trigger evaluation.
func (c *Cards) UpdateForm(ctx context.Context, principal models.Principal, cardID, formDefinitionID string, patch FormPatch) (*models.CardForm, error) {
	card, err := c.persistence.Cards().CardByID(ctx, principal.TenantID, principal.OrganizationID, cardID)
	if err != nil {
		return nil, err
	}

	if err := c.requireRole(ctx, principal, card.PipelineID, models.RoleOperator); err != nil {
		return nil, err
	}

	form, err := c.persistence.Cards().FormByCardAndDefinition(ctx, card.ID, formDefinitionID)
	if err != nil {
		return nil, err
	}

	if form.Status == models.FormStatusLocked && (len(patch.Data) > 0 || patch.MarkFilled) {
		return nil, fmt.Errorf("form %s on card %s: %w", formDefinitionID, card.ID, ErrFormLocked)
	}

	changed := make(map[string]any, len(patch.Data))

	if form.Data == nil {
		form.Data = map[string]any{}
	}

	for key, value := range patch.Data {
		if current, ok := form.Data[key]; ok && fmt.Sprint(current) == fmt.Sprint(value) {
			continue
		}

		form.Data[key] = value
		changed[key] = value
	}

	if patch.MarkFilled && form.Status != models.FormStatusFilled {
		if err := c.validateFormData(ctx, card.TenantID, form); err != nil {
			return nil, err
		}

		form.Status = models.FormStatusFilled
	}

	if err := c.persistence.Cards().SaveForm(ctx, form); err != nil {
		return nil, fmt.Errorf("failed to save form %s: %w", form.ID, err)
	}

	for fieldID, value := range changed {
		c.publishFieldChanged(ctx, card, form, fieldID, value)
	}

	return form, nil
}

// Board builds the kanban view of the pipeline's published version: one
// column per active stage with its card count and outgoing transitions,
// cards ordered by priority (highest first) then creation time.
func (c *Cards) Board(ctx context.Context, principal models.Principal, pipelineID string) ([]*BoardColumn, error) {
	if err := c.requireRole(ctx, principal, pipelineID, models.RoleViewer); err != nil {
		return nil, err
	}

	version, err := c.persistence.Pipelines().PublishedVersion(ctx, pipelineID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, fmt.Errorf("pipeline %s: %w", pipelineID, ErrPipelineNotPublished)
		}

		return nil, err
	}

	columns := make([]*BoardColumn, 0, len(version.Stages))

	for _, stage := range version.Stages {
		if !stage.Active {
			continue
		}

		cards, err := c.persistence.Cards().ActiveCardsInStage(ctx, stage.ID)
		if err != nil {
			return nil, err
		}

		sort.SliceStable(cards, func(i, j int) bool {
			if cards[i].Priority.Rank() != cards[j].Priority.Rank() {
				return cards[i].Priority.Rank() > cards[j].Priority.Rank()
			}

			return cards[i].CreatedAt.Before(cards[j].CreatedAt)
		})

		boardCards := make([]*BoardCard, 0, len(cards))

		for _, card := range cards {
			forms, err := c.persistence.Cards().FormsByCard(ctx, card.ID)
			if err != nil {
				return nil, err
			}

			pending := 0

			for _, form := range forms {
				if form.Status == models.FormStatusToFill {
					pending++
				}
			}

			boardCards = append(boardCards, &BoardCard{Card: card, PendingFormsCount: pending})
		}

		columns = append(columns, &BoardColumn{
			Stage:              stage,
			Cards:              boardCards,
			CardCount:          len(boardCards),
			AllowedTransitions: version.TransitionsFrom(stage.ID),
		})
	}

	return columns, nil
}

// Executions lists trigger dispatch attempts recorded for a card.
func (c *Cards) Executions(ctx context.Context, principal models.Principal, cardID string) ([]*models.TriggerExecution, error) {
	card, err := c.persistence.Cards().CardByID(ctx, principal.TenantID, principal.OrganizationID, cardID)
	if err != nil {
		return nil, err
	}

	if err := c.requireRole(ctx, principal, card.PipelineID, models.RoleViewer); err != nil {
		return nil, err
	}

	return c.persistence.Executions().ExecutionsByCard(ctx, card.ID)
}

func (c *Cards) requireRole(ctx context.Context, principal models.Principal, pipelineID string, required models.PipelineRole) error {
	ok, err := c.resolver.Check(ctx, principal, pipelineID, required)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("pipeline %s requires role %s: %w", pipelineID, required, ErrForbidden)
	}

	return nil
}

func (c *Cards) instantiateForm(ctx context.Context, card *models.Card, stageID string, rule *models.StageFormAttachRule) (*models.CardForm, error) {
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

	if rule.FormDefinitionID != "" {
		definition, err := c.persistence.Forms().FormDefinitionByID(ctx, card.TenantID, rule.FormDefinitionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load form definition %s: %w", rule.FormDefinitionID, err)
		}

		form.FormVersion = definition.Version
	}

	return form, nil
}

// validateFormData checks the form payload against the definition's JSON
// schema before the form may be marked FILLED. Forms without a local
// definition (external forms) skip validation.
func (c *Cards) validateFormData(ctx context.Context, tenantID string, form *models.CardForm) error {
	definition, err := c.persistence.Forms().FormDefinitionByID(ctx, tenantID, form.FormDefinitionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil
		}

		return err
	}

	if len(definition.Schema) == 0 {
		return nil
	}

	schema := make(map[string]any, len(definition.Schema))
	maps.Copy(schema, definition.Schema)

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(form.Data),
	)
	if err != nil {
		return fmt.Errorf("failed to validate form %s: %w", form.ID, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, issue := range result.Errors() {
			details = append(details, issue.String())
		}

		return fmt.Errorf("%w: %s", ErrFormDataInvalid, strings.Join(details, "; "))
	}

	return nil
}

func (c *Cards) publishFieldChanged(ctx context.Context, card *models.Card, form *models.CardForm, fieldID string, value any) {
	event := events.CardFormFieldChanged{
		BaseEvent:        events.NewBaseEvent(events.CardFormFieldChangedEvent, card.TenantID, card.OrganizationID),
		CardID:           card.ID,
		PipelineID:       card.PipelineID,
		StageID:          card.CurrentStageID,
		FormDefinitionID: form.FormDefinitionID,
		FieldID:          fieldID,
		NewValue:         value,
	}

	if err := c.publisher.Publish(ctx, card.ID, event); err != nil {
		c.logger.ErrorContext(ctx, "Failed to publish form field change event",
			"card_id", card.ID,
			"field_id", fieldID,
			"error", err)
	}
}
