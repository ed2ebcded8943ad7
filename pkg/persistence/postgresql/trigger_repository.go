package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stageflow/stageflow/pkg/models"
)

// TriggerRepository handles stage trigger database operations.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTriggerRepository creates a new trigger repository.
func NewTriggerRepository(db *sql.DB, logger *slog.Logger) *TriggerRepository {
	return &TriggerRepository{db: db, logger: logger}
}

func (r *TriggerRepository) TriggersByStage(ctx context.Context, stageID string) ([]*models.StageTrigger, error) {
	query := `
		SELECT
			id
		  , stage_id
		  , integration_id
		  , event_type
		  , from_stage_id
		  , form_definition_id
		  , field_id
		  , execution_order
		  , enabled
		  , conditions
		  , created_at
		FROM stage_triggers
		WHERE stage_id = $1
		ORDER BY execution_order, created_at
	`

	rows, err := r.db.QueryContext(ctx, query, stageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer closeRows(ctx, rows, r.logger)

	triggers := make([]*models.StageTrigger, 0)

	for rows.Next() {
		trigger := &models.StageTrigger{}

		var (
			fromStageID      sql.NullString
			formDefinitionID sql.NullString
			fieldID          sql.NullString
			conditions       []byte
		)

		err := rows.Scan(
			&trigger.ID,
			&trigger.StageID,
			&trigger.IntegrationID,
			&trigger.EventType,
			&fromStageID,
			&formDefinitionID,
			&fieldID,
			&trigger.ExecutionOrder,
			&trigger.Enabled,
			&conditions,
			&trigger.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		if fromStageID.Valid {
			trigger.FromStageID = &fromStageID.String
		}

		trigger.FormDefinitionID = formDefinitionID.String
		trigger.FieldID = fieldID.String

		if err := json.Unmarshal(conditions, &trigger.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions for trigger %s: %w", trigger.ID, err)
		}

		triggers = append(triggers, trigger)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}

	return triggers, nil
}

func (r *TriggerRepository) SaveTrigger(ctx context.Context, trigger *models.StageTrigger) error {
	if trigger.ID == "" {
		trigger.ID = uuid.NewString()
	}

	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = time.Now().UTC()
	}

	conditions, err := json.Marshal(trigger.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions for trigger %s: %w", trigger.ID, err)
	}

	var fromStageID sql.NullString
	if trigger.FromStageID != nil {
		fromStageID = sql.NullString{String: *trigger.FromStageID, Valid: true}
	}

	query := `
		INSERT INTO stage_triggers (id, stage_id, integration_id, event_type, from_stage_id, form_definition_id, field_id, execution_order, enabled, conditions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			event_type = EXCLUDED.event_type,
			from_stage_id = EXCLUDED.from_stage_id,
			form_definition_id = EXCLUDED.form_definition_id,
			field_id = EXCLUDED.field_id,
			execution_order = EXCLUDED.execution_order,
			enabled = EXCLUDED.enabled,
			conditions = EXCLUDED.conditions
	`

	_, err = r.db.ExecContext(ctx, query,
		trigger.ID,
		trigger.StageID,
		trigger.IntegrationID,
		trigger.EventType,
		fromStageID,
		nullString(trigger.FormDefinitionID),
		nullString(trigger.FieldID),
		trigger.ExecutionOrder,
		trigger.Enabled,
		conditions,
		trigger.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger %s: %w", trigger.ID, err)
	}

	return nil
}
