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
	"github.com/lib/pq"

	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/persistence"
)

// CardRepository handles card, form, comment, and history database
// operations.
type CardRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCardRepository creates a new card repository.
func NewCardRepository(db *sql.DB, logger *slog.Logger) *CardRepository {
	return &CardRepository{db: db, logger: logger}
}

const cardColumns = `
	id
  , tenant_id
  , organization_id
  , pipeline_id
  , pipeline_version
  , current_stage_id
  , title
  , description
  , priority
  , status
  , unique_key_value
  , owner_id
  , created_at
  , updated_at
  , closed_at
`

func scanCard(row interface{ Scan(...any) error }) (*models.Card, error) {
	card := &models.Card{}

	var uniqueKey, ownerID sql.NullString

	err := row.Scan(
		&card.ID,
		&card.TenantID,
		&card.OrganizationID,
		&card.PipelineID,
		&card.PipelineVersion,
		&card.CurrentStageID,
		&card.Title,
		&card.Description,
		&card.Priority,
		&card.Status,
		&uniqueKey,
		&ownerID,
		&card.CreatedAt,
		&card.UpdatedAt,
		&card.ClosedAt,
	)
	if err != nil {
		return nil, err
	}

	card.UniqueKeyValue = uniqueKey.String
	card.OwnerID = ownerID.String

	return card, nil
}

func (r *CardRepository) CardByID(ctx context.Context, tenantID, orgID, id string) (*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = $1 AND tenant_id = $2 AND organization_id = $3`

	card, err := scanCard(r.db.QueryRowContext(ctx, query, id, tenantID, orgID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrCardNotFound
		}

		return nil, fmt.Errorf("failed to scan card: %w", err)
	}

	return card, nil
}

func (r *CardRepository) SaveCard(ctx context.Context, card *models.Card) error {
	if card.ID == "" {
		card.ID = uuid.NewString()
	}

	query := `
		INSERT INTO cards (id, tenant_id, organization_id, pipeline_id, pipeline_version, current_stage_id, title, description, priority, status, unique_key_value, owner_id, created_at, updated_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			priority = EXCLUDED.priority,
			owner_id = EXCLUDED.owner_id,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		card.ID,
		card.TenantID,
		card.OrganizationID,
		card.PipelineID,
		card.PipelineVersion,
		card.CurrentStageID,
		card.Title,
		card.Description,
		card.Priority,
		card.Status,
		nullString(card.UniqueKeyValue),
		nullString(card.OwnerID),
		card.CreatedAt,
		card.UpdatedAt,
		card.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save card %s: %w", card.ID, err)
	}

	return nil
}

func (r *CardRepository) CountActiveInStage(ctx context.Context, stageID, excludeCardID string) (int, error) {
	query := `SELECT COUNT(*) FROM cards WHERE current_stage_id = $1 AND status = 'active' AND id <> $2`

	var count int

	err := r.db.QueryRowContext(ctx, query, stageID, excludeCardID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cards in stage %s: %w", stageID, err)
	}

	return count, nil
}

// MoveCard applies the stage change in one transaction. The card row is
// locked first; the stale check and WIP recount run against the locked
// state, so two racing moves serialize and the loser gets a typed error.
func (r *CardRepository) MoveCard(ctx context.Context, params persistence.MoveParams) error {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin move transaction: %w", err)
	}

	defer func() {
		_ = transaction.Rollback()
	}()

	var currentStageID string

	err = transaction.QueryRowContext(ctx,
		"SELECT current_stage_id FROM cards WHERE id = $1 FOR UPDATE",
		params.CardID,
	).Scan(&currentStageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewCardError("Move", params.CardID, persistence.ErrCardNotFound)
		}

		return fmt.Errorf("failed to lock card %s: %w", params.CardID, err)
	}

	if currentStageID != params.ExpectedStageID {
		return persistence.NewCardError("Move", params.CardID, persistence.ErrCardStale)
	}

	if params.WIPLimit != nil {
		var count int

		err = transaction.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM cards WHERE current_stage_id = $1 AND status = 'active' AND id <> $2",
			params.ToStageID, params.CardID,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to recount stage %s: %w", params.ToStageID, err)
		}

		if count >= *params.WIPLimit {
			return persistence.NewCardError("Move", params.CardID, persistence.ErrWIPLimitExceeded)
		}
	}

	now := time.Now().UTC()

	if len(params.LockFormIDs) > 0 {
		_, err = transaction.ExecContext(ctx,
			"UPDATE card_forms SET status = $1 WHERE card_id = $2 AND form_definition_id = ANY($3)",
			models.FormStatusLocked, params.CardID, pq.Array(params.LockFormIDs),
		)
		if err != nil {
			return fmt.Errorf("failed to lock forms for card %s: %w", params.CardID, err)
		}
	}

	updateQuery := "UPDATE cards SET current_stage_id = $1, updated_at = $2 WHERE id = $3"
	updateArgs := []any{params.ToStageID, now, params.CardID}

	if params.CloseCard {
		updateQuery = "UPDATE cards SET current_stage_id = $1, updated_at = $2, status = $3, closed_at = $4 WHERE id = $5"
		updateArgs = []any{params.ToStageID, now, models.CardStatusClosed, now, params.CardID}
	}

	_, err = transaction.ExecContext(ctx, updateQuery, updateArgs...)
	if err != nil {
		return fmt.Errorf("failed to update card %s: %w", params.CardID, err)
	}

	_, err = transaction.ExecContext(ctx,
		"INSERT INTO card_move_history (id, card_id, from_stage_id, to_stage_id, reason, moved_at) VALUES ($1, $2, $3, $4, $5, $6)",
		uuid.NewString(), params.CardID, params.ExpectedStageID, params.ToStageID, params.Reason, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record move history for card %s: %w", params.CardID, err)
	}

	attachQuery := `
		INSERT INTO card_forms (id, card_id, form_definition_id, form_version, status, data, attached_at_stage_id, attached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (card_id, form_definition_id) DO NOTHING
	`

	for _, form := range params.AttachForms {
		if form.ID == "" {
			form.ID = uuid.NewString()
		}

		data, err := json.Marshal(form.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal form data for %s: %w", form.FormDefinitionID, err)
		}

		_, err = transaction.ExecContext(ctx, attachQuery,
			form.ID,
			params.CardID,
			form.FormDefinitionID,
			form.FormVersion,
			form.Status,
			data,
			form.AttachedAtStageID,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to attach form %s to card %s: %w", form.FormDefinitionID, params.CardID, err)
		}
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit move for card %s: %w", params.CardID, err)
	}

	return nil
}

const cardFormColumns = `
	id
  , card_id
  , form_definition_id
  , form_version
  , status
  , data
  , attached_at_stage_id
  , attached_at
`

func scanCardForm(row interface{ Scan(...any) error }) (*models.CardForm, error) {
	form := &models.CardForm{}

	var data []byte

	err := row.Scan(
		&form.ID,
		&form.CardID,
		&form.FormDefinitionID,
		&form.FormVersion,
		&form.Status,
		&data,
		&form.AttachedAtStageID,
		&form.AttachedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, &form.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal form data: %w", err)
	}

	return form, nil
}

func (r *CardRepository) FormsByCard(ctx context.Context, cardID string) ([]*models.CardForm, error) {
	query := `SELECT ` + cardFormColumns + ` FROM card_forms WHERE card_id = $1 ORDER BY attached_at`

	rows, err := r.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query forms: %w", err)
	}
	defer closeRows(ctx, rows, r.logger)

	forms := make([]*models.CardForm, 0)

	for rows.Next() {
		form, err := scanCardForm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card form: %w", err)
		}

		forms = append(forms, form)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating forms: %w", err)
	}

	return forms, nil
}

func (r *CardRepository) FormByCardAndDefinition(ctx context.Context, cardID, formDefinitionID string) (*models.CardForm, error) {
	query := `SELECT ` + cardFormColumns + ` FROM card_forms WHERE card_id = $1 AND form_definition_id = $2`

	form, err := scanCardForm(r.db.QueryRowContext(ctx, query, cardID, formDefinitionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrCardFormNotFound
		}

		return nil, fmt.Errorf("failed to scan card form: %w", err)
	}

	return form, nil
}

func (r *CardRepository) SaveForm(ctx context.Context, form *models.CardForm) error {
	if form.ID == "" {
		form.ID = uuid.NewString()
	}

	data, err := json.Marshal(form.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal form data for %s: %w", form.ID, err)
	}

	query := `
		INSERT INTO card_forms (id, card_id, form_definition_id, form_version, status, data, attached_at_stage_id, attached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (card_id, form_definition_id) DO UPDATE SET
			status = EXCLUDED.status,
			data = EXCLUDED.data
	`

	_, err = r.db.ExecContext(ctx, query,
		form.ID,
		form.CardID,
		form.FormDefinitionID,
		form.FormVersion,
		form.Status,
		data,
		form.AttachedAtStageID,
		form.AttachedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save form %s: %w", form.ID, err)
	}

	return nil
}

func (r *CardRepository) HistoryByCard(ctx context.Context, cardID string) ([]*models.CardMoveHistory, error) {
	query := `
		SELECT id, card_id, from_stage_id, to_stage_id, reason, moved_at
		FROM card_move_history
		WHERE card_id = $1
		ORDER BY moved_at
	`

	rows, err := r.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer closeRows(ctx, rows, r.logger)

	history := make([]*models.CardMoveHistory, 0)

	for rows.Next() {
		row := &models.CardMoveHistory{}

		err := rows.Scan(&row.ID, &row.CardID, &row.FromStageID, &row.ToStageID, &row.Reason, &row.MovedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		history = append(history, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return history, nil
}

func (r *CardRepository) StageEnteredAt(ctx context.Context, cardID string) (time.Time, error) {
	query := `
		SELECT COALESCE(
			(SELECT MAX(moved_at) FROM card_move_history WHERE card_id = $1),
			(SELECT created_at FROM cards WHERE id = $1)
		)
	`

	var enteredAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, cardID).Scan(&enteredAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query stage entry for card %s: %w", cardID, err)
	}

	if !enteredAt.Valid {
		return time.Time{}, persistence.ErrCardNotFound
	}

	return enteredAt.Time, nil
}

func (r *CardRepository) AddComment(ctx context.Context, comment *models.CardComment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}

	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO card_comments (id, card_id, author_id, body, created_at) VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		comment.ID,
		comment.CardID,
		comment.AuthorID,
		comment.Body,
		comment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add comment to card %s: %w", comment.CardID, err)
	}

	return nil
}

func (r *CardRepository) CountCommentsSince(ctx context.Context, cardID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM card_comments WHERE card_id = $1 AND created_at >= $2`

	var count int

	err := r.db.QueryRowContext(ctx, query, cardID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count comments for card %s: %w", cardID, err)
	}

	return count, nil
}

func (r *CardRepository) ActiveCardsInStage(ctx context.Context, stageID string) ([]*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE current_stage_id = $1 AND status = 'active' ORDER BY created_at`

	return r.queryCards(ctx, query, stageID)
}

func (r *CardRepository) ActiveCardsByPipeline(ctx context.Context, pipelineID string, version int) ([]*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE pipeline_id = $1 AND pipeline_version = $2 AND status = 'active' ORDER BY created_at`

	return r.queryCards(ctx, query, pipelineID, version)
}

func (r *CardRepository) queryCards(ctx context.Context, query string, args ...any) ([]*models.Card, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer closeRows(ctx, rows, r.logger)

	cards := make([]*models.Card, 0)

	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}

		cards = append(cards, card)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}

	return cards, nil
}
