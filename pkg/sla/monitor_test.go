package sla_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/pkg/eventbus"
	"github.com/stageflow/stageflow/pkg/events"
	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/persistence/memory"
	"github.com/stageflow/stageflow/pkg/sla"
)

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

func (p *capturePublisher) breaches() []events.CardSLABreached {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]events.CardSLABreached, 0, len(p.events))

	for _, event := range p.events {
		if breached, ok := event.(events.CardSLABreached); ok {
			out = append(out, breached)
		}
	}

	return out
}

func setupMonitor(t *testing.T) (*sla.Monitor, *capturePublisher, *memory.Persistence) {
	t.Helper()

	ctx := context.Background()
	store := memory.NewPersistence()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	slaHours := 4
	require.NoError(t, store.Pipelines().SavePipeline(ctx, &models.Pipeline{
		ID: "pl-1", TenantID: "t1", OrganizationID: "o1", Key: "maintenance",
		Name: "Maintenance", Status: models.PipelineStatusPublished, PublishedVersion: 1,
	}))
	require.NoError(t, store.Pipelines().SaveVersion(ctx, &models.PipelineVersion{
		ID: "ver-1", PipelineID: "pl-1", Version: 1, Status: models.VersionStatusPublished,
		Stages: []*models.Stage{
			{ID: "stg-intake", VersionID: "ver-1", Name: "Intake", IsInitial: true, Active: true},
			{ID: "stg-review", VersionID: "ver-1", Name: "Review", Active: true, SLAHours: &slaHours},
			{ID: "stg-done", VersionID: "ver-1", Name: "Done", IsFinal: true, Active: true},
		},
	}))

	publisher := &capturePublisher{}

	return sla.NewMonitor(store, publisher, "", logger), publisher, store
}

func seedCardInStage(t *testing.T, store *memory.Persistence, id, stageID string, createdAt time.Time) {
	t.Helper()

	require.NoError(t, store.Cards().SaveCard(context.Background(), &models.Card{
		ID:              id,
		TenantID:        "t1",
		OrganizationID:  "o1",
		PipelineID:      "pl-1",
		PipelineVersion: 1,
		CurrentStageID:  stageID,
		Title:           "Card " + id,
		Status:          models.CardStatusActive,
		CreatedAt:       createdAt,
	}))
}

func TestSweep_EmitsBreachForOverdueCard(t *testing.T) {
	t.Parallel()

	monitor, publisher, store := setupMonitor(t)

	seedCardInStage(t, store, "card-overdue", "stg-review", time.Now().Add(-6*time.Hour))
	seedCardInStage(t, store, "card-fresh", "stg-review", time.Now().Add(-time.Hour))
	seedCardInStage(t, store, "card-no-sla", "stg-intake", time.Now().Add(-48*time.Hour))

	require.NoError(t, monitor.Sweep(context.Background()))

	breaches := publisher.breaches()
	require.Len(t, breaches, 1, "only overdue cards in SLA stages breach")
	assert.Equal(t, "card-overdue", breaches[0].CardID)
	assert.Equal(t, "stg-review", breaches[0].StageID)
	assert.Equal(t, 4, breaches[0].SLAHours)
	assert.False(t, breaches[0].EnteredAt.IsZero())
}

func TestSweep_ReportsOncePerStageVisit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	monitor, publisher, store := setupMonitor(t)

	seedCardInStage(t, store, "card-overdue", "stg-review", time.Now().Add(-6*time.Hour))

	require.NoError(t, monitor.Sweep(ctx))
	require.NoError(t, monitor.Sweep(ctx))

	assert.Len(t, publisher.breaches(), 1, "a repeated sweep never re-reports the same visit")
}

func TestSweep_IgnoresClosedCards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	monitor, publisher, store := setupMonitor(t)

	seedCardInStage(t, store, "card-closed", "stg-review", time.Now().Add(-6*time.Hour))

	card, err := store.Cards().CardByID(ctx, "t1", "o1", "card-closed")
	require.NoError(t, err)

	card.Status = models.CardStatusClosed
	require.NoError(t, store.Cards().SaveCard(ctx, card))

	require.NoError(t, monitor.Sweep(ctx))

	assert.Empty(t, publisher.breaches())
}

func TestSweep_NoPublishedPipelines(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := &capturePublisher{}
	monitor := sla.NewMonitor(store, publisher, "", logger)

	require.NoError(t, monitor.Sweep(context.Background()))
	assert.Empty(t, publisher.breaches())
}
