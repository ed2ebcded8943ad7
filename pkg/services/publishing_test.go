package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/services"
)

func TestPublish_PromotesDraftAndDemotesCurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := setupServices(t)

	version, err := h.publishing.Publish(ctx, admin, "pl-1", 2)

	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusPublished, version.Status)
	require.NotNil(t, version.PublishedAt)

	previous, err := h.store.Pipelines().VersionByNumber(ctx, "pl-1", 1)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusUnpublished, previous.Status)

	pipeline, err := h.store.Pipelines().PipelineByID(ctx, "t1", "o1", "pl-1")
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusPublished, pipeline.Status)
	assert.Equal(t, 2, pipeline.PublishedVersion)

	current, err := h.store.Pipelines().PublishedVersion(ctx, "pl-1")
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
}

func TestPublish_InFlightCardsKeepTheirVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := setupServices(t)
	card := h.createCard(t, "Replace bearing")

	_, err := h.publishing.Publish(ctx, admin, "pl-1", 2)
	require.NoError(t, err)

	// The card still follows version 1's topology.
	moved, err := h.mover.ExecuteMove(ctx, operator, card.ID, stageReview, "")
	require.NoError(t, err)
	assert.Equal(t, 1, moved.PipelineVersion)

	// New cards bind to the freshly published version.
	fresh := h.createCard(t, "Check valves")
	assert.Equal(t, 2, fresh.PipelineVersion)
	assert.Equal(t, "stg2-open", fresh.CurrentStageID)
}

func TestPublish_RequiresAdmin(t *testing.T) {
	t.Parallel()

	h := setupServices(t)

	for _, principal := range []models.Principal{operator, viewer} {
		_, err := h.publishing.Publish(context.Background(), principal, "pl-1", 2)
		require.ErrorIs(t, err, services.ErrForbidden)
	}
}

func TestPublish_OnlyDrafts(t *testing.T) {
	t.Parallel()

	h := setupServices(t)

	_, err := h.publishing.Publish(context.Background(), admin, "pl-1", 1)

	require.ErrorIs(t, err, services.ErrVersionNotDraft)
}

func TestPublish_GraphValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name        string
		version     *models.PipelineVersion
		expectedErr error
	}{
		{
			name: "no initial stage",
			version: &models.PipelineVersion{
				ID: "ver-bad", PipelineID: "pl-1", Version: 3, Status: models.VersionStatusDraft,
				Stages: []*models.Stage{
					{ID: "s-a", Name: "A", Active: true},
					{ID: "s-b", Name: "B", IsFinal: true, Active: true},
				},
			},
			expectedErr: services.ErrInitialStageMissing,
		},
		{
			name: "no final stage",
			version: &models.PipelineVersion{
				ID: "ver-bad", PipelineID: "pl-1", Version: 3, Status: models.VersionStatusDraft,
				Stages: []*models.Stage{
					{ID: "s-a", Name: "A", IsInitial: true, Active: true},
					{ID: "s-b", Name: "B", Active: true},
				},
			},
			expectedErr: services.ErrFinalStageMissing,
		},
		{
			name: "inactive stages do not satisfy the graph rules",
			version: &models.PipelineVersion{
				ID: "ver-bad", PipelineID: "pl-1", Version: 3, Status: models.VersionStatusDraft,
				Stages: []*models.Stage{
					{ID: "s-a", Name: "A", IsInitial: true, Active: false},
					{ID: "s-b", Name: "B", IsFinal: true, Active: true},
				},
			},
			expectedErr: services.ErrInitialStageMissing,
		},
		{
			name: "dangling transition",
			version: &models.PipelineVersion{
				ID: "ver-bad", PipelineID: "pl-1", Version: 3, Status: models.VersionStatusDraft,
				Stages: []*models.Stage{
					{ID: "s-a", Name: "A", IsInitial: true, Active: true},
					{ID: "s-b", Name: "B", IsFinal: true, Active: true},
				},
				Transitions: []*models.StageTransition{
					{ID: "t-1", FromStageID: "s-a", ToStageID: "s-gone"},
				},
			},
			expectedErr: services.ErrTransitionDangling,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := setupServices(t)
			require.NoError(t, h.store.Pipelines().SaveVersion(ctx, tt.version))

			_, err := h.publishing.Publish(ctx, admin, "pl-1", 3)

			require.ErrorIs(t, err, tt.expectedErr)

			unchanged, err := h.store.Pipelines().PublishedVersion(ctx, "pl-1")
			require.NoError(t, err)
			assert.Equal(t, 1, unchanged.Version, "a failed publish demotes nothing")
		})
	}
}
