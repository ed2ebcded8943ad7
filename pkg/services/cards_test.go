package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/pkg/events"
	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/services"
)

func fieldChangedEvents(h *harness) []events.CardFormFieldChanged {
	out := make([]events.CardFormFieldChanged, 0)

	for _, event := range h.publisher.published() {
		if changed, ok := event.(events.CardFormFieldChanged); ok {
			out = append(out, changed)
		}
	}

	return out
}

func TestCreate_Defaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := setupServices(t)

	card, err := h.cards.Create(ctx, operator, services.CreateCardParams{
		PipelineID: "pl-1",
		Title:      "Replace bearing",
	})

	require.NoError(t, err)
	assert.Equal(t, stageIntake, card.CurrentStageID, "no stage requested lands on the initial stage")
	assert.Equal(t, models.PriorityMedium, card.Priority)
	assert.Equal(t, models.CardStatusActive, card.Status)
	assert.Equal(t, operator.UserID, card.OwnerID)
	assert.Equal(t, 1, card.PipelineVersion)

	forms, err := h.store.Cards().FormsByCard(ctx, card.ID)
	require.NoError(t, err)
	require.Len(t, forms, 1, "initial stage attaches its form")
	assert.Equal(t, "intake-form", forms[0].FormDefinitionID)
	assert.Equal(t, models.FormStatusToFill, forms[0].Status)
	assert.Equal(t, 3, forms[0].FormVersion)
	assert.Equal(t, stageIntake, forms[0].AttachedAtStageID)
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name        string
		principal   models.Principal
		params      services.CreateCardParams
		expectedErr error
	}{
		{
			name:        "blank title",
			principal:   operator,
			params:      services.CreateCardParams{PipelineID: "pl-1", Title: "   "},
			expectedErr: services.ErrTitleRequired,
		},
		{
			name:        "viewer cannot create",
			principal:   viewer,
			params:      services.CreateCardParams{PipelineID: "pl-1", Title: "Replace bearing"},
			expectedErr: services.ErrForbidden,
		},
		{
			name:        "unpublished pipeline",
			principal:   operator,
			params:      services.CreateCardParams{PipelineID: "pl-draft", Title: "Replace bearing"},
			expectedErr: services.ErrPipelineNotPublished,
		},
		{
			name:        "non-initial stage override",
			principal:   operator,
			params:      services.CreateCardParams{PipelineID: "pl-1", Title: "Replace bearing", StageID: stageReview},
			expectedErr: services.ErrInitialStageInvalid,
		},
		{
			name:        "unknown stage override",
			principal:   operator,
			params:      services.CreateCardParams{PipelineID: "pl-1", Title: "Replace bearing", StageID: "stg-nope"},
			expectedErr: services.ErrInitialStageInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := setupServices(t)

			_, err := h.cards.Create(ctx, tt.principal, tt.params)

			require.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestCreate_ExplicitValues(t *testing.T) {
	t.Parallel()

	h := setupServices(t)

	card, err := h.cards.Create(context.Background(), operator, services.CreateCardParams{
		PipelineID:     "pl-1",
		StageID:        stageIntake,
		Title:          "Replace bearing",
		Description:    "Bearing on pump 3 is worn",
		Priority:       models.PriorityUrgent,
		UniqueKeyValue: "PUMP-3",
		OwnerID:        "user-own",
	})

	require.NoError(t, err)
	assert.Equal(t, models.PriorityUrgent, card.Priority)
	assert.Equal(t, "user-own", card.OwnerID)
	assert.Equal(t, "PUMP-3", card.UniqueKeyValue)
}

func TestDetail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := setupServices(t)
	card := h.createCard(t, "Replace bearing")

	detail, err := h.cards.Detail(ctx, viewer, card.ID)

	require.NoError(t, err)
	assert.Equal(t, card.ID, detail.Card.ID)
	require.Len(t, detail.Forms, 1)
	assert.Empty(t, detail.History)
	require.Len(t, detail.AllowedTransitions, 1)
	assert.Equal(t, stageReview, detail.AllowedTransitions[0].ToStageID)
}

func TestDetail_ClosedCardHasNoTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := setupServices(t)
	card := h.createCard(t, "Replace bearing")

	_, err := h.mover.ExecuteMove(ctx, operator, card.ID, stageReview, "")
	require.NoError(t, err)

	_, err = h.cards.UpdateForm(ctx, operator, card.ID, "qa-form", services.FormPatch{
		Data:       map[string]any{"passed": true},
		MarkFilled: true,
	})
	require.NoError(t, err)

	_, err = h.mover.ExecuteMove(ctx, operator, card.ID, stageDone, "")
	require.NoError(t, err)

	detail, err := h.cards.Detail(ctx, viewer, card.ID)

	require.NoError(t, err)
	assert.Equal(t, models.CardStatusClosed, detail.Card.Status)
	assert.Empty(t, detail.AllowedTransitions)
	assert.Len(t, detail.History, 2)
}

func TestAddComment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := setupServices(t)
	card := h.createCard(t, "Replace bearing")

	comment, err := h.cards.AddComment(ctx, operator, card.ID, "ordered the replacement part")

	require.NoError(t, err)
	assert.Equal(t, operator.UserID, comment.AuthorID)
	assert.False(t, comment.CreatedAt.IsZero())

	_, err = h.cards.AddComment(ctx, operator, card.ID, "  ")
	require.ErrorIs(t, err, services.ErrCommentBodyRequired)

	_, err = h.cards.AddComment(ctx, viewer, card.ID, "drive-by note")
	require.ErrorIs(t, err, services.ErrForbidden)
}

func TestUpdateForm_MergeAndEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := setupServices(t)
	card := h.createCard(t, "Replace bearing")

	form, err := h.cards.UpdateForm(ctx, operator, card.ID, "intake-form", services.FormPatch{
		Data: map[string]any{"summary": "pump 3", "severity": "major"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.FormStatusToFill, form.Status)
	assert.Len(t, fieldChangedEvents(h), 2)

	// Re-sending the same severity publishes only the genuinely changed field.
	form, err = h.cards.UpdateForm(ctx, operator, card.ID, "intake-form", services.FormPatch{
		Data: map[string]any{"severity": "major", "summary": "pump 3 rear bearing"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pump 3 rear bearing", form.Data["summary"])
	assert.Equal(t, "major", form.Data["severity"])

	changed := fieldChangedEvents(h)
	require.Len(t, changed, 3)
	assert.Equal(t, "intake-form", changed[2].FormDefinitionID)
	assert.Equal(t, "summary", changed[2].FieldID)
	assert.Equal(t, "pump 3 rear bearing", changed[2].NewValue)
	assert.Equal(t, stageIntake, changed[2].StageID)
}

func TestUpdateForm_SchemaValidationOnFill(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := setupServices(t)
	card := h.createCard(t, "Replace bearing")

	_, err := h.cards.UpdateForm(ctx, operator, card.ID, "intake-form", services.FormPatch{
		Data:       map[string]any{"severity": "major"},
		MarkFilled: true,
	})
	require.ErrorIs(t, err, services.ErrFormDataInvalid, "required schema field missing")

	form, err := h.cards.UpdateForm(ctx, operator, card.ID, "intake-form", services.FormPatch{
		Data:       map[string]any{"summary": "pump 3 rear bearing"},
		MarkFilled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.FormStatusFilled, form.Status)
}

func TestUpdateForm_LockedRejectsData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := setupServices(t)
	card := h.createCard(t, "Replace bearing")

	form, err := h.store.Cards().FormByCardAndDefinition(ctx, card.ID, "intake-form")
	require.NoError(t, err)

	form.Status = models.FormStatusLocked
	require.NoError(t, h.store.Cards().SaveForm(ctx, form))

	_, err = h.cards.UpdateForm(ctx, operator, card.ID, "intake-form", services.FormPatch{
		Data: map[string]any{"summary": "late edit"},
	})

	require.ErrorIs(t, err, services.ErrFormLocked)
	assert.True(t, services.IsConflictError(err))
}

func TestUpdateForm_LockedRejectsStatusChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := setupServices(t)
	card := h.createCard(t, "Replace bearing")

	form, err := h.store.Cards().FormByCardAndDefinition(ctx, card.ID, "intake-form")
	require.NoError(t, err)

	form.Status = models.FormStatusLocked
	require.NoError(t, h.store.Cards().SaveForm(ctx, form))

	_, err = h.cards.UpdateForm(ctx, operator, card.ID, "intake-form", services.FormPatch{
		MarkFilled: true,
	})

	require.ErrorIs(t, err, services.ErrFormLocked, "a lock is terminal for the attachment")

	stored, err := h.store.Cards().FormByCardAndDefinition(ctx, card.ID, "intake-form")
	require.NoError(t, err)
	assert.Equal(t, models.FormStatusLocked, stored.Status)
}

func TestBoard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := setupServices(t)
	first := h.createCard(t, "Replace bearing")
	second := h.createCard(t, "Check valves")

	_, err := h.mover.ExecuteMove(ctx, operator, second.ID, stageReview, "")
	require.NoError(t, err)

	columns, err := h.cards.Board(ctx, viewer, "pl-1")

	require.NoError(t, err)
	require.Len(t, columns, 3, "inactive stages are not board columns")

	byStage := make(map[string]int, len(columns))
	for _, column := range columns {
		byStage[column.Stage.ID] = len(column.Cards)
	}

	assert.Equal(t, 1, byStage[stageIntake])
	assert.Equal(t, 1, byStage[stageReview])
	assert.Equal(t, 0, byStage[stageDone])

	for _, column := range columns {
		if column.Stage.ID == stageIntake {
			assert.Equal(t, first.ID, column.Cards[0].ID)
		}
	}
}

func TestBoard_PriorityOrderingAndCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := setupServices(t)

	low, err := h.cards.Create(ctx, operator, services.CreateCardParams{
		PipelineID: "pl-1",
		Title:      "Routine check",
		Priority:   models.PriorityLow,
	})
	require.NoError(t, err)

	urgent, err := h.cards.Create(ctx, operator, services.CreateCardParams{
		PipelineID: "pl-1",
		Title:      "Line down",
		Priority:   models.PriorityUrgent,
	})
	require.NoError(t, err)

	columns, err := h.cards.Board(ctx, viewer, "pl-1")
	require.NoError(t, err)

	var intake *services.BoardColumn

	for _, column := range columns {
		if column.Stage.ID == stageIntake {
			intake = column
		}
	}

	require.NotNil(t, intake)
	assert.Equal(t, 2, intake.CardCount)
	require.Len(t, intake.Cards, 2)

	assert.Equal(t, urgent.ID, intake.Cards[0].ID, "higher priority sorts first despite later creation")
	assert.Equal(t, low.ID, intake.Cards[1].ID)
	assert.Equal(t, 1, intake.Cards[0].PendingFormsCount, "intake form still to fill")

	require.Len(t, intake.AllowedTransitions, 1)
	assert.Equal(t, stageReview, intake.AllowedTransitions[0].ToStageID)
}

func TestExecutions_RequiresViewer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := setupServices(t)
	card := h.createCard(t, "Replace bearing")

	executions, err := h.cards.Executions(ctx, viewer, card.ID)
	require.NoError(t, err)
	assert.Empty(t, executions)

	outsider := models.Principal{UserID: "user-none", TenantID: "t1", OrganizationID: "o1"}
	_, err = h.cards.Executions(ctx, outsider, card.ID)
	require.ErrorIs(t, err, services.ErrForbidden)
}
