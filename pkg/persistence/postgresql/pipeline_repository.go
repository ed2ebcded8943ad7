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

// PipelineRepository handles pipeline and version database operations.
type PipelineRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPipelineRepository creates a new pipeline repository.
func NewPipelineRepository(db *sql.DB, logger *slog.Logger) *PipelineRepository {
	return &PipelineRepository{db: db, logger: logger}
}

func (r *PipelineRepository) PipelineByID(ctx context.Context, tenantID, orgID, id string) (*models.Pipeline, error) {
	query := `
		SELECT
			id
		  , tenant_id
		  , organization_id
		  , key
		  , name
		  , description
		  , status
		  , published_version
		  , created_at
		  , updated_at
		FROM pipelines
		WHERE id = $1 AND tenant_id = $2 AND organization_id = $3
	`

	pipeline := &models.Pipeline{}

	err := r.db.QueryRowContext(ctx, query, id, tenantID, orgID).Scan(
		&pipeline.ID,
		&pipeline.TenantID,
		&pipeline.OrganizationID,
		&pipeline.Key,
		&pipeline.Name,
		&pipeline.Description,
		&pipeline.Status,
		&pipeline.PublishedVersion,
		&pipeline.CreatedAt,
		&pipeline.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrPipelineNotFound
		}

		return nil, fmt.Errorf("failed to scan pipeline: %w", err)
	}

	return pipeline, nil
}

func (r *PipelineRepository) PublishedPipelines(ctx context.Context) ([]*models.Pipeline, error) {
	query := `
		SELECT
			id
		  , tenant_id
		  , organization_id
		  , key
		  , name
		  , description
		  , status
		  , published_version
		  , created_at
		  , updated_at
		FROM pipelines
		WHERE status = 'published'
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipelines: %w", err)
	}
	defer closeRows(ctx, rows, r.logger)

	pipelines := make([]*models.Pipeline, 0)

	for rows.Next() {
		pipeline := &models.Pipeline{}

		err := rows.Scan(
			&pipeline.ID,
			&pipeline.TenantID,
			&pipeline.OrganizationID,
			&pipeline.Key,
			&pipeline.Name,
			&pipeline.Description,
			&pipeline.Status,
			&pipeline.PublishedVersion,
			&pipeline.CreatedAt,
			&pipeline.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}

		pipelines = append(pipelines, pipeline)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pipelines: %w", err)
	}

	return pipelines, nil
}

func (r *PipelineRepository) SavePipeline(ctx context.Context, pipeline *models.Pipeline) error {
	if pipeline.ID == "" {
		pipeline.ID = uuid.NewString()
	}

	query := `
		INSERT INTO pipelines (id, tenant_id, organization_id, key, name, description, status, published_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			published_version = EXCLUDED.published_version,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		pipeline.ID,
		pipeline.TenantID,
		pipeline.OrganizationID,
		pipeline.Key,
		pipeline.Name,
		pipeline.Description,
		pipeline.Status,
		pipeline.PublishedVersion,
		pipeline.CreatedAt,
		pipeline.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save pipeline %s: %w", pipeline.ID, err)
	}

	return nil
}

func (r *PipelineRepository) VersionByNumber(ctx context.Context, pipelineID string, version int) (*models.PipelineVersion, error) {
	query := `
		SELECT id, pipeline_id, version, status, created_at, published_at
		FROM pipeline_versions
		WHERE pipeline_id = $1 AND version = $2
	`

	return r.loadVersion(ctx, query, pipelineID, version)
}

func (r *PipelineRepository) PublishedVersion(ctx context.Context, pipelineID string) (*models.PipelineVersion, error) {
	query := `
		SELECT id, pipeline_id, version, status, created_at, published_at
		FROM pipeline_versions
		WHERE pipeline_id = $1 AND status = $2
	`

	v, err := r.loadVersion(ctx, query, pipelineID, models.VersionStatusPublished)
	if err != nil {
		if errors.Is(err, persistence.ErrVersionNotFound) {
			return nil, persistence.ErrPublishedVersionNotFound
		}

		return nil, err
	}

	return v, nil
}

func (r *PipelineRepository) loadVersion(ctx context.Context, query string, args ...any) (*models.PipelineVersion, error) {
	version := &models.PipelineVersion{}

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&version.ID,
		&version.PipelineID,
		&version.Version,
		&version.Status,
		&version.CreatedAt,
		&version.PublishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrVersionNotFound
		}

		return nil, fmt.Errorf("failed to scan pipeline version: %w", err)
	}

	if err := r.loadStagesAndTransitions(ctx, version); err != nil {
		return nil, err
	}

	return version, nil
}

func (r *PipelineRepository) loadStagesAndTransitions(ctx context.Context, version *models.PipelineVersion) error {
	stagesQuery := `
		SELECT
			id
		  , version_id
		  , name
		  , stage_order
		  , classification
		  , color
		  , is_initial
		  , is_final
		  , wip_limit
		  , sla_hours
		  , active
		  , form_attach_rules
		FROM stages
		WHERE version_id = $1
		ORDER BY stage_order
	`

	rows, err := r.db.QueryContext(ctx, stagesQuery, version.ID)
	if err != nil {
		return fmt.Errorf("failed to query stages: %w", err)
	}
	defer closeRows(ctx, rows, r.logger)

	version.Stages = make([]*models.Stage, 0)

	for rows.Next() {
		stage := &models.Stage{}

		var (
			color sql.NullString
			rules []byte
		)

		err := rows.Scan(
			&stage.ID,
			&stage.VersionID,
			&stage.Name,
			&stage.StageOrder,
			&stage.Classification,
			&color,
			&stage.IsInitial,
			&stage.IsFinal,
			&stage.WIPLimit,
			&stage.SLAHours,
			&stage.Active,
			&rules,
		)
		if err != nil {
			return fmt.Errorf("failed to scan stage: %w", err)
		}

		stage.Color = color.String

		if err := json.Unmarshal(rules, &stage.FormAttachRules); err != nil {
			return fmt.Errorf("failed to unmarshal form attach rules for stage %s: %w", stage.ID, err)
		}

		version.Stages = append(version.Stages, stage)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating stages: %w", err)
	}

	transitionsQuery := `
		SELECT id, version_id, from_stage_id, to_stage_id, rules
		FROM stage_transitions
		WHERE version_id = $1
	`

	transitionRows, err := r.db.QueryContext(ctx, transitionsQuery, version.ID)
	if err != nil {
		return fmt.Errorf("failed to query transitions: %w", err)
	}
	defer closeRows(ctx, transitionRows, r.logger)

	version.Transitions = make([]*models.StageTransition, 0)

	for transitionRows.Next() {
		transition := &models.StageTransition{}

		var rules []byte

		err := transitionRows.Scan(
			&transition.ID,
			&transition.VersionID,
			&transition.FromStageID,
			&transition.ToStageID,
			&rules,
		)
		if err != nil {
			return fmt.Errorf("failed to scan transition: %w", err)
		}

		if err := json.Unmarshal(rules, &transition.Rules); err != nil {
			return fmt.Errorf("failed to unmarshal rules for transition %s: %w", transition.ID, err)
		}

		version.Transitions = append(version.Transitions, transition)
	}

	if err := transitionRows.Err(); err != nil {
		return fmt.Errorf("error iterating transitions: %w", err)
	}

	return nil
}

// SaveVersion upserts the version row and rewrites its stage graph. Published
// versions are immutable at the service layer; the repository does not police
// that here.
func (r *PipelineRepository) SaveVersion(ctx context.Context, version *models.PipelineVersion) error {
	if version.ID == "" {
		version.ID = uuid.NewString()
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = transaction.Rollback()
	}()

	versionQuery := `
		INSERT INTO pipeline_versions (id, pipeline_id, version, status, created_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			published_at = EXCLUDED.published_at
	`

	_, err = transaction.ExecContext(ctx, versionQuery,
		version.ID,
		version.PipelineID,
		version.Version,
		version.Status,
		version.CreatedAt,
		version.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save version %s: %w", version.ID, err)
	}

	_, err = transaction.ExecContext(ctx, "DELETE FROM stages WHERE version_id = $1", version.ID)
	if err != nil {
		return fmt.Errorf("failed to clear stages for version %s: %w", version.ID, err)
	}

	_, err = transaction.ExecContext(ctx, "DELETE FROM stage_transitions WHERE version_id = $1", version.ID)
	if err != nil {
		return fmt.Errorf("failed to clear transitions for version %s: %w", version.ID, err)
	}

	stageQuery := `
		INSERT INTO stages (id, version_id, name, stage_order, classification, color, is_initial, is_final, wip_limit, sla_hours, active, form_attach_rules)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	for _, stage := range version.Stages {
		if stage.ID == "" {
			stage.ID = uuid.NewString()
		}

		stage.VersionID = version.ID

		rules, err := json.Marshal(stage.FormAttachRules)
		if err != nil {
			return fmt.Errorf("failed to marshal form attach rules for stage %s: %w", stage.ID, err)
		}

		_, err = transaction.ExecContext(ctx, stageQuery,
			stage.ID,
			stage.VersionID,
			stage.Name,
			stage.StageOrder,
			stage.Classification,
			nullString(stage.Color),
			stage.IsInitial,
			stage.IsFinal,
			stage.WIPLimit,
			stage.SLAHours,
			stage.Active,
			rules,
		)
		if err != nil {
			return fmt.Errorf("failed to save stage %s: %w", stage.ID, err)
		}
	}

	transitionQuery := `
		INSERT INTO stage_transitions (id, version_id, from_stage_id, to_stage_id, rules)
		VALUES ($1, $2, $3, $4, $5)
	`

	for _, transition := range version.Transitions {
		if transition.ID == "" {
			transition.ID = uuid.NewString()
		}

		transition.VersionID = version.ID

		rules, err := json.Marshal(transition.Rules)
		if err != nil {
			return fmt.Errorf("failed to marshal rules for transition %s: %w", transition.ID, err)
		}

		_, err = transaction.ExecContext(ctx, transitionQuery,
			transition.ID,
			transition.VersionID,
			transition.FromStageID,
			transition.ToStageID,
			rules,
		)
		if err != nil {
			return fmt.Errorf("failed to save transition %s: %w", transition.ID, err)
		}
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit version %s: %w", version.ID, err)
	}

	return nil
}

func (r *PipelineRepository) StageByID(ctx context.Context, stageID string) (*models.Stage, error) {
	query := `
		SELECT
			id
		  , version_id
		  , name
		  , stage_order
		  , classification
		  , color
		  , is_initial
		  , is_final
		  , wip_limit
		  , sla_hours
		  , active
		  , form_attach_rules
		FROM stages
		WHERE id = $1
	`

	stage := &models.Stage{}

	var (
		color sql.NullString
		rules []byte
	)

	err := r.db.QueryRowContext(ctx, query, stageID).Scan(
		&stage.ID,
		&stage.VersionID,
		&stage.Name,
		&stage.StageOrder,
		&stage.Classification,
		&color,
		&stage.IsInitial,
		&stage.IsFinal,
		&stage.WIPLimit,
		&stage.SLAHours,
		&stage.Active,
		&rules,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStageNotFound
		}

		return nil, fmt.Errorf("failed to scan stage: %w", err)
	}

	stage.Color = color.String

	if err := json.Unmarshal(rules, &stage.FormAttachRules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal form attach rules for stage %s: %w", stage.ID, err)
	}

	return stage, nil
}

func closeRows(ctx context.Context, rows *sql.Rows, logger *slog.Logger) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
