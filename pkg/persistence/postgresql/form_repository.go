package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/persistence"
)

// FormRepository handles form definition database operations.
type FormRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFormRepository creates a new form repository.
func NewFormRepository(db *sql.DB, logger *slog.Logger) *FormRepository {
	return &FormRepository{db: db, logger: logger}
}

func (r *FormRepository) FormDefinitionByID(ctx context.Context, tenantID, id string) (*models.FormDefinition, error) {
	query := `
		SELECT id, tenant_id, name, version, status, schema
		FROM form_definitions
		WHERE id = $1 AND tenant_id = $2
	`

	form := &models.FormDefinition{}

	var schema []byte

	err := r.db.QueryRowContext(ctx, query, id, tenantID).Scan(
		&form.ID,
		&form.TenantID,
		&form.Name,
		&form.Version,
		&form.Status,
		&schema,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrFormDefinitionNotFound
		}

		return nil, fmt.Errorf("failed to scan form definition: %w", err)
	}

	if len(schema) > 0 {
		if err := json.Unmarshal(schema, &form.Schema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schema for form %s: %w", form.ID, err)
		}
	}

	return form, nil
}

func (r *FormRepository) SaveFormDefinition(ctx context.Context, form *models.FormDefinition) error {
	if form.ID == "" {
		form.ID = uuid.NewString()
	}

	var schema []byte

	if form.Schema != nil {
		var err error

		schema, err = json.Marshal(form.Schema)
		if err != nil {
			return fmt.Errorf("failed to marshal schema for form %s: %w", form.ID, err)
		}
	}

	query := `
		INSERT INTO form_definitions (id, tenant_id, name, version, status, schema)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			schema = EXCLUDED.schema
	`

	_, err := r.db.ExecContext(ctx, query,
		form.ID,
		form.TenantID,
		form.Name,
		form.Version,
		form.Status,
		schema,
	)
	if err != nil {
		return fmt.Errorf("failed to save form definition %s: %w", form.ID, err)
	}

	return nil
}
