// Package postgresql provides the PostgreSQL persistence implementation for
// pipelines, cards, triggers, and permissions.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/stageflow/stageflow/pkg/persistence"
	"github.com/stageflow/stageflow/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	pipelineRepo    *PipelineRepository
	cardRepo        *CardRepository
	triggerRepo     *TriggerRepository
	permissionRepo  *PermissionRepository
	integrationRepo *IntegrationRepository
	executionRepo   *ExecutionRepository
	formRepo        *FormRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs pending
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:              database,
		logger:          logger,
		pipelineRepo:    NewPipelineRepository(database, logger),
		cardRepo:        NewCardRepository(database, logger),
		triggerRepo:     NewTriggerRepository(database, logger),
		permissionRepo:  NewPermissionRepository(database, logger),
		integrationRepo: NewIntegrationRepository(database, logger),
		executionRepo:   NewExecutionRepository(database, logger),
		formRepo:        NewFormRepository(database, logger),
	}, nil
}

func (p *Persistence) Pipelines() persistence.PipelineRepository       { return p.pipelineRepo }
func (p *Persistence) Cards() persistence.CardRepository               { return p.cardRepo }
func (p *Persistence) Triggers() persistence.TriggerRepository         { return p.triggerRepo }
func (p *Persistence) Permissions() persistence.PermissionRepository   { return p.permissionRepo }
func (p *Persistence) Integrations() persistence.IntegrationRepository { return p.integrationRepo }
func (p *Persistence) Executions() persistence.ExecutionRepository     { return p.executionRepo }
func (p *Persistence) Forms() persistence.FormRepository               { return p.formRepo }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
