// Package sla periodically sweeps active cards and emits breach events for
// cards sitting in a stage past the stage's SLA window. The sweep changes no
// state; consumers decide what a breach means.
package sla

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stageflow/stageflow/pkg/eventbus"
	"github.com/stageflow/stageflow/pkg/events"
	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/persistence"
)

// Monitor runs the SLA sweep on a cron schedule.
type Monitor struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	schedule    string
	logger      *slog.Logger
	cron        *cron.Cron

	mu       sync.Mutex
	notified map[string]bool // card id + stage id, reset when the card moves on
}

// NewMonitor creates an SLA monitor. schedule is a cron expression; empty
// defaults to every ten minutes.
func NewMonitor(p persistence.Persistence, publisher eventbus.EventPublisher, schedule string, logger *slog.Logger) *Monitor {
	if schedule == "" {
		schedule = "*/10 * * * *"
	}

	return &Monitor{
		persistence: p,
		publisher:   publisher,
		schedule:    schedule,
		logger:      logger.With("module", "sla_monitor"),
		notified:    make(map[string]bool),
	}
}

// Start schedules the sweep and runs it until Stop.
func (m *Monitor) Start(ctx context.Context) error {
	m.cron = cron.New()

	_, err := m.cron.AddFunc(m.schedule, func() {
		if err := m.Sweep(ctx); err != nil {
			m.logger.ErrorContext(ctx, "SLA sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sla sweep %q: %w", m.schedule, err)
	}

	m.cron.Start()
	m.logger.InfoContext(ctx, "SLA monitor started", "schedule", m.schedule)

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (m *Monitor) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// Sweep walks every published pipeline and emits one breach event per card
// that exceeded its stage's SLA. A card is reported once per stage visit.
func (m *Monitor) Sweep(ctx context.Context) error {
	pipelines, err := m.persistence.Pipelines().PublishedPipelines(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pipelines: %w", err)
	}

	now := time.Now()

	for _, pipeline := range pipelines {
		version, err := m.persistence.Pipelines().PublishedVersion(ctx, pipeline.ID)
		if err != nil {
			m.logger.WarnContext(ctx, "Skipping pipeline without published version", "pipeline_id", pipeline.ID)

			continue
		}

		for _, stage := range version.Stages {
			if stage.SLAHours == nil || !stage.Active {
				continue
			}

			if err := m.sweepStage(ctx, pipeline, stage, now); err != nil {
				return err
			}
		}
	}

	return nil
}

func (m *Monitor) sweepStage(ctx context.Context, pipeline *models.Pipeline, stage *models.Stage, now time.Time) error {
	cards, err := m.persistence.Cards().ActiveCardsInStage(ctx, stage.ID)
	if err != nil {
		return fmt.Errorf("failed to list cards in stage %s: %w", stage.ID, err)
	}

	deadline := time.Duration(*stage.SLAHours) * time.Hour

	for _, card := range cards {
		enteredAt, err := m.persistence.Cards().StageEnteredAt(ctx, card.ID)
		if err != nil {
			return fmt.Errorf("failed to resolve stage entry for card %s: %w", card.ID, err)
		}

		if now.Sub(enteredAt) < deadline {
			continue
		}

		key := card.ID + ":" + stage.ID
		if m.alreadyNotified(key) {
			continue
		}

		event := events.CardSLABreached{
			BaseEvent: events.NewBaseEvent(events.CardSLABreachedEvent, card.TenantID, card.OrganizationID),
			CardID:    card.ID,
			StageID:   stage.ID,
			SLAHours:  *stage.SLAHours,
			EnteredAt: enteredAt,
		}

		if err := m.publisher.Publish(ctx, card.ID, event); err != nil {
			m.logger.ErrorContext(ctx, "Failed to publish SLA breach event",
				"card_id", card.ID,
				"stage_id", stage.ID,
				"error", err)

			continue
		}

		m.markNotified(key)
		m.logger.WarnContext(ctx, "Card breached stage SLA",
			"card_id", card.ID,
			"stage_id", stage.ID,
			"sla_hours", *stage.SLAHours,
			"entered_at", enteredAt)
	}

	return nil
}

func (m *Monitor) alreadyNotified(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.notified[key]
}

func (m *Monitor) markNotified(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notified[key] = true
}
