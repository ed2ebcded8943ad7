package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/permissions"
	"github.com/stageflow/stageflow/pkg/persistence"
)

// Publishing manages the pipeline version lifecycle. Publishing freezes the
// stage graph; cards created afterwards bind to the new version while
// in-flight cards keep following the version they were created on.
type Publishing struct {
	persistence persistence.Persistence
	resolver    *permissions.Resolver
	logger      *slog.Logger
}

// NewPublishing creates the publishing service.
func NewPublishing(p persistence.Persistence, resolver *permissions.Resolver, logger *slog.Logger) *Publishing {
	return &Publishing{
		persistence: p,
		resolver:    resolver,
		logger:      logger.With("module", "publishing"),
	}
}

// Publish validates a draft version and makes it the pipeline's published
// version, demoting any previously published one.
func (s *Publishing) Publish(ctx context.Context, principal models.Principal, pipelineID string, versionNumber int) (*models.PipelineVersion, error) {
	ok, err := s.resolver.Check(ctx, principal, pipelineID, models.RoleAdmin)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("publishing pipeline %s requires role %s: %w", pipelineID, models.RoleAdmin, ErrForbidden)
	}

	pipeline, err := s.persistence.Pipelines().PipelineByID(ctx, principal.TenantID, principal.OrganizationID, pipelineID)
	if err != nil {
		return nil, err
	}

	version, err := s.persistence.Pipelines().VersionByNumber(ctx, pipeline.ID, versionNumber)
	if err != nil {
		return nil, err
	}

	if version.Status != models.VersionStatusDraft {
		return nil, fmt.Errorf("version %d of pipeline %s: %w", versionNumber, pipeline.ID, ErrVersionNotDraft)
	}

	if err := validateVersionGraph(version); err != nil {
		return nil, err
	}

	if current, err := s.persistence.Pipelines().PublishedVersion(ctx, pipeline.ID); err == nil {
		current.Status = models.VersionStatusUnpublished
		if err := s.persistence.Pipelines().SaveVersion(ctx, current); err != nil {
			return nil, fmt.Errorf("failed to demote version %d: %w", current.Version, err)
		}
	} else if !persistence.IsNotFound(err) {
		return nil, err
	}

	now := time.Now()
	version.Status = models.VersionStatusPublished
	version.PublishedAt = &now

	if err := s.persistence.Pipelines().SaveVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to publish version %d: %w", version.Version, err)
	}

	pipeline.Status = models.PipelineStatusPublished
	pipeline.PublishedVersion = version.Version
	pipeline.UpdatedAt = now

	if err := s.persistence.Pipelines().SavePipeline(ctx, pipeline); err != nil {
		return nil, fmt.Errorf("failed to update pipeline %s: %w", pipeline.ID, err)
	}

	s.logger.InfoContext(ctx, "Pipeline version published",
		"pipeline_id", pipeline.ID,
		"version", version.Version)

	return version, nil
}

// validateVersionGraph checks the structural rules a version must satisfy
// before it may carry cards: at least one initial and one final active
// stage, and every transition endpoint inside the version.
func validateVersionGraph(version *models.PipelineVersion) error {
	var hasInitial, hasFinal bool

	for _, stage := range version.Stages {
		if !stage.Active {
			continue
		}

		if stage.IsInitial {
			hasInitial = true
		}

		if stage.IsFinal {
			hasFinal = true
		}
	}

	if !hasInitial {
		return ErrInitialStageMissing
	}

	if !hasFinal {
		return ErrFinalStageMissing
	}

	for _, transition := range version.Transitions {
		if version.StageByID(transition.FromStageID) == nil || version.StageByID(transition.ToStageID) == nil {
			return fmt.Errorf("transition %s: %w", transition.ID, ErrTransitionDangling)
		}
	}

	return nil
}
