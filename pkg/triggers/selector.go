// Package triggers selects which stage triggers apply to an event.
package triggers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/persistence"
)

// Selector filters a stage's configured triggers by event type and the
// per-trigger stage and form filters. Ordering (executionOrder, then
// creation time) is preserved from the repository.
type Selector struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

// NewSelector creates a selector.
func NewSelector(p persistence.Persistence, logger *slog.Logger) *Selector {
	return &Selector{
		persistence: p,
		logger:      logger.With("module", "trigger_selector"),
	}
}

// ForCardMovement returns the enabled CARD_MOVEMENT triggers on the target
// stage whose fromStage filter is unset or matches the move's source stage.
func (s *Selector) ForCardMovement(ctx context.Context, toStageID, fromStageID string) ([]*models.StageTrigger, error) {
	configured, err := s.persistence.Triggers().TriggersByStage(ctx, toStageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load triggers for stage %s: %w", toStageID, err)
	}

	selected := make([]*models.StageTrigger, 0)

	for _, trigger := range configured {
		if !trigger.Enabled || trigger.EventType != models.EventCardMovement {
			continue
		}

		if trigger.FromStageID != nil && *trigger.FromStageID != fromStageID {
			continue
		}

		selected = append(selected, trigger)
	}

	s.logger.DebugContext(ctx, "Selected card movement triggers",
		"to_stage_id", toStageID,
		"from_stage_id", fromStageID,
		"configured", len(configured),
		"selected", len(selected))

	return selected, nil
}

// ForFormFieldChange returns the enabled FORM_FIELD_CHANGE triggers on the
// card's current stage whose form and field filters are each unset or match
// the changed field.
func (s *Selector) ForFormFieldChange(ctx context.Context, stageID, formDefinitionID, fieldID string) ([]*models.StageTrigger, error) {
	configured, err := s.persistence.Triggers().TriggersByStage(ctx, stageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load triggers for stage %s: %w", stageID, err)
	}

	selected := make([]*models.StageTrigger, 0)

	for _, trigger := range configured {
		if !trigger.Enabled || trigger.EventType != models.EventFormFieldChange {
			continue
		}

		if trigger.FormDefinitionID != "" && trigger.FormDefinitionID != formDefinitionID {
			continue
		}

		if trigger.FieldID != "" && trigger.FieldID != fieldID {
			continue
		}

		selected = append(selected, trigger)
	}

	return selected, nil
}
