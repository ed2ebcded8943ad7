package services_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/pkg/authorizer"
	"github.com/stageflow/stageflow/pkg/eventbus"
	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/permissions"
	"github.com/stageflow/stageflow/pkg/persistence/memory"
	"github.com/stageflow/stageflow/pkg/services"
)

const (
	stageIntake = "stg-intake"
	stageReview = "stg-review"
	stageDone   = "stg-done"
)

var (
	operator = models.Principal{UserID: "user-op", TenantID: "t1", OrganizationID: "o1"}
	viewer   = models.Principal{UserID: "user-view", TenantID: "t1", OrganizationID: "o1"}
	admin    = models.Principal{UserID: "user-adm", TenantID: "t1", OrganizationID: "o1"}
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) published() []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]eventbus.Event, len(p.events))
	copy(out, p.events)

	return out
}

type harness struct {
	store      *memory.Persistence
	publisher  *capturePublisher
	mover      *services.Mover
	cards      *services.Cards
	publishing *services.Publishing
}

// setupServices seeds a published pipeline with an intake form on the
// initial stage, a QA form on review that locks when the card leaves, and a
// FORM_REQUIRED guard on the edge into the final stage.
func setupServices(t *testing.T) *harness {
	t.Helper()

	ctx := context.Background()
	store := memory.NewPersistence()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, store.Pipelines().SavePipeline(ctx, &models.Pipeline{
		ID: "pl-1", TenantID: "t1", OrganizationID: "o1", Key: "maintenance",
		Name: "Maintenance", Status: models.PipelineStatusPublished, PublishedVersion: 1,
	}))
	require.NoError(t, store.Pipelines().SavePipeline(ctx, &models.Pipeline{
		ID: "pl-draft", TenantID: "t1", OrganizationID: "o1", Key: "drafted",
		Name: "Drafted", Status: models.PipelineStatusDraft,
	}))

	require.NoError(t, store.Pipelines().SaveVersion(ctx, &models.PipelineVersion{
		ID:         "ver-1",
		PipelineID: "pl-1",
		Version:    1,
		Status:     models.VersionStatusPublished,
		Stages: []*models.Stage{
			{ID: stageIntake, VersionID: "ver-1", Name: "Intake", IsInitial: true, Active: true, FormAttachRules: []*models.StageFormAttachRule{
				{ID: "attach-intake", StageID: stageIntake, FormDefinitionID: "intake-form", DefaultFormStatus: models.FormStatusToFill},
			}},
			{ID: stageReview, VersionID: "ver-1", Name: "Review", Active: true, FormAttachRules: []*models.StageFormAttachRule{
				{ID: "attach-qa", StageID: stageReview, FormDefinitionID: "qa-form", LockOnLeaveStage: true},
			}},
			{ID: stageDone, VersionID: "ver-1", Name: "Done", IsFinal: true, Active: true},
			{ID: "stg-retired", VersionID: "ver-1", Name: "Retired", Active: false},
		},
		Transitions: []*models.StageTransition{
			{ID: "tr-1", VersionID: "ver-1", FromStageID: stageIntake, ToStageID: stageReview},
			{ID: "tr-2", VersionID: "ver-1", FromStageID: stageReview, ToStageID: stageDone, Rules: []*models.TransitionRule{
				{ID: "rule-qa", RuleType: models.RuleFormRequired, FormDefinitionID: "qa-form", Enabled: true},
			}},
		},
	}))

	require.NoError(t, store.Pipelines().SaveVersion(ctx, &models.PipelineVersion{
		ID:         "ver-2",
		PipelineID: "pl-1",
		Version:    2,
		Status:     models.VersionStatusDraft,
		Stages: []*models.Stage{
			{ID: "stg2-open", VersionID: "ver-2", Name: "Open", IsInitial: true, Active: true},
			{ID: "stg2-closed", VersionID: "ver-2", Name: "Closed", IsFinal: true, Active: true},
		},
		Transitions: []*models.StageTransition{
			{ID: "tr2-1", VersionID: "ver-2", FromStageID: "stg2-open", ToStageID: "stg2-closed"},
		},
	}))

	require.NoError(t, store.Forms().SaveFormDefinition(ctx, &models.FormDefinition{
		ID: "intake-form", TenantID: "t1", Name: "Intake", Version: 3, Status: "published",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"summary"},
			"properties": map[string]any{
				"summary": map[string]any{"type": "string"},
			},
		},
	}))
	require.NoError(t, store.Forms().SaveFormDefinition(ctx, &models.FormDefinition{
		ID: "qa-form", TenantID: "t1", Name: "QA Checklist", Version: 1, Status: "published",
	}))

	groups := []struct {
		id      string
		members []string
		role    models.PipelineRole
	}{
		{id: "grp-ops", members: []string{operator.UserID}, role: models.RoleOperator},
		{id: "grp-view", members: []string{viewer.UserID}, role: models.RoleViewer},
		{id: "grp-admins", members: []string{admin.UserID}, role: models.RoleAdmin},
	}

	for _, g := range groups {
		require.NoError(t, store.Permissions().SaveGroup(ctx, &models.UserGroup{
			ID: g.id, TenantID: "t1", OrganizationID: "o1", Name: g.id,
		}, g.members))

		for _, pipelineID := range []string{"pl-1", "pl-draft"} {
			require.NoError(t, store.Permissions().SavePermission(ctx, &models.PipelinePermission{
				PipelineID: pipelineID, GroupID: g.id, Role: g.role,
			}))
		}
	}

	resolver := permissions.NewResolver(store, nil, logger)
	auth := authorizer.NewAuthorizer(store, resolver, models.RoleOperator, logger)
	publisher := &capturePublisher{}

	return &harness{
		store:      store,
		publisher:  publisher,
		mover:      services.NewMover(store, auth, publisher, logger),
		cards:      services.NewCards(store, resolver, publisher, logger),
		publishing: services.NewPublishing(store, resolver, logger),
	}
}

func (h *harness) createCard(t *testing.T, title string) *models.Card {
	t.Helper()

	card, err := h.cards.Create(context.Background(), operator, services.CreateCardParams{
		PipelineID: "pl-1",
		Title:      title,
	})
	require.NoError(t, err)

	return card
}
