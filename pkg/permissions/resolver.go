// Package permissions resolves the role a principal holds on a pipeline
// through group membership.
package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/persistence"
)

const cacheTTL = 30 * time.Second

// Resolver computes the highest role granted to a principal on a pipeline.
// When a Redis client is supplied, resolved roles are cached briefly so the
// HTTP-boundary guard and the authorizer don't hit the store twice per move.
type Resolver struct {
	persistence persistence.Persistence
	cache       redis.UniversalClient
	logger      *slog.Logger
}

// NewResolver creates a resolver. cache may be nil to disable caching.
func NewResolver(p persistence.Persistence, cache redis.UniversalClient, logger *slog.Logger) *Resolver {
	return &Resolver{
		persistence: p,
		cache:       cache,
		logger:      logger.With("module", "permission_resolver"),
	}
}

// Resolve returns the principal's highest role on the pipeline. The second
// return is false when no permission row applies (deny).
func (r *Resolver) Resolve(ctx context.Context, principal models.Principal, pipelineID string) (models.PipelineRole, bool, error) {
	if role, ok := r.cached(ctx, principal, pipelineID); ok {
		return role, role != "", nil
	}

	groupIDs, err := r.persistence.Permissions().GroupIDsByUser(ctx, principal.TenantID, principal.OrganizationID, principal.UserID)
	if err != nil {
		return "", false, fmt.Errorf("failed to load groups for user %s: %w", principal.UserID, err)
	}

	if len(groupIDs) == 0 {
		r.store(ctx, principal, pipelineID, "")

		return "", false, nil
	}

	grants, err := r.persistence.Permissions().PermissionsByGroups(ctx, pipelineID, groupIDs)
	if err != nil {
		return "", false, fmt.Errorf("failed to load permissions for pipeline %s: %w", pipelineID, err)
	}

	var highest models.PipelineRole

	for _, grant := range grants {
		if grant.Role.Level() > highest.Level() {
			highest = grant.Role
		}
	}

	r.store(ctx, principal, pipelineID, highest)

	return highest, highest != "", nil
}

// Check reports whether the principal holds at least the required role.
func (r *Resolver) Check(ctx context.Context, principal models.Principal, pipelineID string, required models.PipelineRole) (bool, error) {
	role, ok, err := r.Resolve(ctx, principal, pipelineID)
	if err != nil {
		return false, err
	}

	return ok && role.AtLeast(required), nil
}

func cacheKey(principal models.Principal, pipelineID string) string {
	return "stageflow:role:" + principal.TenantID + ":" + pipelineID + ":" + principal.UserID
}

func (r *Resolver) cached(ctx context.Context, principal models.Principal, pipelineID string) (models.PipelineRole, bool) {
	if r.cache == nil {
		return "", false
	}

	value, err := r.cache.Get(ctx, cacheKey(principal, pipelineID)).Result()
	if err != nil {
		return "", false
	}

	return models.PipelineRole(value), true
}

func (r *Resolver) store(ctx context.Context, principal models.Principal, pipelineID string, role models.PipelineRole) {
	if r.cache == nil {
		return
	}

	err := r.cache.Set(ctx, cacheKey(principal, pipelineID), string(role), cacheTTL).Err()
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to cache resolved role", "error", err)
	}
}
