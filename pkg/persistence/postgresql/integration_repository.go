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

// IntegrationRepository handles integration and API key database operations.
type IntegrationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewIntegrationRepository creates a new integration repository.
func NewIntegrationRepository(db *sql.DB, logger *slog.Logger) *IntegrationRepository {
	return &IntegrationRepository{db: db, logger: logger}
}

func (r *IntegrationRepository) IntegrationByID(ctx context.Context, tenantID, orgID, id string) (*models.Integration, error) {
	query := `
		SELECT
			id
		  , tenant_id
		  , organization_id
		  , key
		  , name
		  , external_api_key_id
		  , http_method
		  , base_url
		  , endpoint
		  , default_payload
		  , enabled
		  , created_at
		FROM integrations
		WHERE id = $1 AND tenant_id = $2 AND organization_id = $3
	`

	integration := &models.Integration{}

	var (
		apiKeyID sql.NullString
		payload  []byte
	)

	err := r.db.QueryRowContext(ctx, query, id, tenantID, orgID).Scan(
		&integration.ID,
		&integration.TenantID,
		&integration.OrganizationID,
		&integration.Key,
		&integration.Name,
		&apiKeyID,
		&integration.HTTPMethod,
		&integration.BaseURL,
		&integration.Endpoint,
		&payload,
		&integration.Enabled,
		&integration.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrIntegrationNotFound
		}

		return nil, fmt.Errorf("failed to scan integration: %w", err)
	}

	integration.ExternalAPIKeyID = apiKeyID.String

	if err := json.Unmarshal(payload, &integration.DefaultPayload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default payload for integration %s: %w", integration.ID, err)
	}

	return integration, nil
}

func (r *IntegrationRepository) SaveIntegration(ctx context.Context, integration *models.Integration) error {
	if integration.ID == "" {
		integration.ID = uuid.NewString()
	}

	if integration.CreatedAt.IsZero() {
		integration.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(integration.DefaultPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal default payload for integration %s: %w", integration.ID, err)
	}

	query := `
		INSERT INTO integrations (id, tenant_id, organization_id, key, name, external_api_key_id, http_method, base_url, endpoint, default_payload, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			external_api_key_id = EXCLUDED.external_api_key_id,
			http_method = EXCLUDED.http_method,
			base_url = EXCLUDED.base_url,
			endpoint = EXCLUDED.endpoint,
			default_payload = EXCLUDED.default_payload,
			enabled = EXCLUDED.enabled
	`

	_, err = r.db.ExecContext(ctx, query,
		integration.ID,
		integration.TenantID,
		integration.OrganizationID,
		integration.Key,
		integration.Name,
		nullString(integration.ExternalAPIKeyID),
		integration.HTTPMethod,
		integration.BaseURL,
		integration.Endpoint,
		payload,
		integration.Enabled,
		integration.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save integration %s: %w", integration.ID, err)
	}

	return nil
}

func (r *IntegrationRepository) APIKeyValue(ctx context.Context, externalAPIKeyID string) (string, error) {
	var value string

	err := r.db.QueryRowContext(ctx, "SELECT value FROM api_keys WHERE id = $1", externalAPIKeyID).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", persistence.ErrAPIKeyNotFound
		}

		return "", fmt.Errorf("failed to resolve api key %s: %w", externalAPIKeyID, err)
	}

	return value, nil
}
