package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/persistence"
)

// ExecutionRepository handles trigger execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.TriggerExecution) error {
	if execution.ID == "" {
		execution.ID = uuid.NewString()
	}

	if execution.ExecutedAt.IsZero() {
		execution.ExecutedAt = time.Now().UTC()
	}

	execution.Status = models.ExecutionPending

	query := `
		INSERT INTO trigger_executions (id, trigger_id, integration_id, card_id, status, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.TriggerID,
		execution.IntegrationID,
		execution.CardID,
		execution.Status,
		execution.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", execution.ID, err)
	}

	return nil
}

// CompleteExecution moves a PENDING execution to a terminal status. The
// status guard in the UPDATE makes completion first-writer-wins.
func (r *ExecutionRepository) CompleteExecution(ctx context.Context, id string, status models.ExecutionStatus, response any, errorMessage string) error {
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response for execution %s: %w", id, err)
	}

	query := `
		UPDATE trigger_executions
		SET status = $1, completed_at = $2, response = $3, error_message = $4
		WHERE id = $5 AND status = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		status,
		time.Now().UTC(),
		responseJSON,
		nullString(errorMessage),
		id,
		models.ExecutionPending,
	)
	if err != nil {
		return fmt.Errorf("failed to complete execution %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for execution %s: %w", id, err)
	}

	if affected == 0 {
		exists, err := r.executionExists(ctx, id)
		if err != nil {
			return err
		}

		if !exists {
			return persistence.ErrExecutionNotFound
		}

		return persistence.ErrExecutionNotPending
	}

	return nil
}

func (r *ExecutionRepository) executionExists(ctx context.Context, id string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM trigger_executions WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check execution %s: %w", id, err)
	}

	return exists, nil
}

const executionColumns = `
	id
  , trigger_id
  , integration_id
  , card_id
  , status
  , executed_at
  , completed_at
  , error_message
  , response
`

func scanExecution(row interface{ Scan(...any) error }) (*models.TriggerExecution, error) {
	execution := &models.TriggerExecution{}

	var (
		errorMessage sql.NullString
		response     []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.TriggerID,
		&execution.IntegrationID,
		&execution.CardID,
		&execution.Status,
		&execution.ExecutedAt,
		&execution.CompletedAt,
		&errorMessage,
		&response,
	)
	if err != nil {
		return nil, err
	}

	execution.ErrorMessage = errorMessage.String

	if len(response) > 0 {
		if err := json.Unmarshal(response, &execution.Response); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response for execution %s: %w", execution.ID, err)
		}
	}

	return execution, nil
}

func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.TriggerExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM trigger_executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ExecutionsByCard(ctx context.Context, cardID string) ([]*models.TriggerExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM trigger_executions WHERE card_id = $1 ORDER BY executed_at`

	rows, err := r.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer closeRows(ctx, rows, r.logger)

	executions := make([]*models.TriggerExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}
