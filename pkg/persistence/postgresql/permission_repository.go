package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/stageflow/stageflow/pkg/models"
)

// PermissionRepository handles group membership and pipeline grant database
// operations.
type PermissionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPermissionRepository creates a new permission repository.
func NewPermissionRepository(db *sql.DB, logger *slog.Logger) *PermissionRepository {
	return &PermissionRepository{db: db, logger: logger}
}

func (r *PermissionRepository) GroupIDsByUser(ctx context.Context, tenantID, orgID, userID string) ([]string, error) {
	query := `
		SELECT gm.group_id
		FROM group_members gm
		JOIN user_groups g ON g.id = gm.group_id
		WHERE gm.user_id = $1 AND g.tenant_id = $2 AND g.organization_id = $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, tenantID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups for user %s: %w", userID, err)
	}
	defer closeRows(ctx, rows, r.logger)

	groupIDs := make([]string, 0)

	for rows.Next() {
		var id string

		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}

		groupIDs = append(groupIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}

	return groupIDs, nil
}

func (r *PermissionRepository) PermissionsByGroups(ctx context.Context, pipelineID string, groupIDs []string) ([]*models.PipelinePermission, error) {
	if len(groupIDs) == 0 {
		return []*models.PipelinePermission{}, nil
	}

	query := `
		SELECT id, pipeline_id, group_id, role
		FROM pipeline_permissions
		WHERE pipeline_id = $1 AND group_id = ANY($2)
	`

	rows, err := r.db.QueryContext(ctx, query, pipelineID, pq.Array(groupIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions for pipeline %s: %w", pipelineID, err)
	}
	defer closeRows(ctx, rows, r.logger)

	permissions := make([]*models.PipelinePermission, 0)

	for rows.Next() {
		permission := &models.PipelinePermission{}

		err := rows.Scan(&permission.ID, &permission.PipelineID, &permission.GroupID, &permission.Role)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}

		permissions = append(permissions, permission)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating permissions: %w", err)
	}

	return permissions, nil
}

func (r *PermissionRepository) SavePermission(ctx context.Context, permission *models.PipelinePermission) error {
	if permission.ID == "" {
		permission.ID = uuid.NewString()
	}

	query := `
		INSERT INTO pipeline_permissions (id, pipeline_id, group_id, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pipeline_id, group_id) DO UPDATE SET role = EXCLUDED.role
	`

	_, err := r.db.ExecContext(ctx, query,
		permission.ID,
		permission.PipelineID,
		permission.GroupID,
		permission.Role,
	)
	if err != nil {
		return fmt.Errorf("failed to save permission %s: %w", permission.ID, err)
	}

	return nil
}

func (r *PermissionRepository) SaveGroup(ctx context.Context, group *models.UserGroup, memberIDs []string) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = transaction.Rollback()
	}()

	groupQuery := `
		INSERT INTO user_groups (id, tenant_id, organization_id, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`

	_, err = transaction.ExecContext(ctx, groupQuery,
		group.ID,
		group.TenantID,
		group.OrganizationID,
		group.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to save group %s: %w", group.ID, err)
	}

	_, err = transaction.ExecContext(ctx, "DELETE FROM group_members WHERE group_id = $1", group.ID)
	if err != nil {
		return fmt.Errorf("failed to clear members of group %s: %w", group.ID, err)
	}

	for _, userID := range memberIDs {
		_, err = transaction.ExecContext(ctx,
			"INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)",
			group.ID, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to add member %s to group %s: %w", userID, group.ID, err)
		}
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit group %s: %w", group.ID, err)
	}

	return nil
}
