// Package persistence provides the data storage abstraction for pipelines,
// cards, triggers, and permissions. Every query is tenant/org scoped.
package persistence

import (
	"context"
	"time"

	"github.com/stageflow/stageflow/pkg/models"
)

// Persistence aggregates the per-aggregate repositories behind one handle.
type Persistence interface {
	Pipelines() PipelineRepository
	Cards() CardRepository
	Triggers() TriggerRepository
	Permissions() PermissionRepository
	Integrations() IntegrationRepository
	Executions() ExecutionRepository
	Forms() FormRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// PipelineRepository serves the rule catalog: pipelines, versions, stages,
// and the transition topology.
type PipelineRepository interface {
	PipelineByID(ctx context.Context, tenantID, orgID, id string) (*models.Pipeline, error)
	// PublishedPipelines lists every pipeline with a published version, across
	// tenants. Used by the SLA sweep.
	PublishedPipelines(ctx context.Context) ([]*models.Pipeline, error)
	SavePipeline(ctx context.Context, pipeline *models.Pipeline) error
	VersionByNumber(ctx context.Context, pipelineID string, version int) (*models.PipelineVersion, error)
	PublishedVersion(ctx context.Context, pipelineID string) (*models.PipelineVersion, error)
	SaveVersion(ctx context.Context, version *models.PipelineVersion) error
	StageByID(ctx context.Context, stageID string) (*models.Stage, error)
}

// MoveParams carries one authorized stage change into the store. The write
// must happen in a single transaction: the stage update is guarded by
// ExpectedStageID (the mover's view of the current stage) and, when the
// target stage has a WIP limit, by a recount inside the same transaction.
type MoveParams struct {
	CardID          string
	ExpectedStageID string
	ToStageID       string
	Reason          models.MoveReason
	WIPLimit        *int
	// LockFormIDs are form definition ids whose attachments on the card get
	// status LOCKED (source stage rules flagged lockOnLeaveStage).
	LockFormIDs []string
	// AttachForms are instantiated on stage entry unless the card already
	// holds an attachment for the same form definition.
	AttachForms []*models.CardForm
	// CloseCard marks the card closed (target stage is final).
	CloseCard bool
}

// CardRepository owns cards, their forms, comments, and move history.
type CardRepository interface {
	CardByID(ctx context.Context, tenantID, orgID, id string) (*models.Card, error)
	SaveCard(ctx context.Context, card *models.Card) error
	CountActiveInStage(ctx context.Context, stageID, excludeCardID string) (int, error)
	// MoveCard applies MoveParams transactionally. It returns ErrCardStale
	// when the card's current stage no longer matches ExpectedStageID and
	// ErrWIPLimitExceeded when the in-transaction recount hits the limit.
	MoveCard(ctx context.Context, params MoveParams) error

	FormsByCard(ctx context.Context, cardID string) ([]*models.CardForm, error)
	FormByCardAndDefinition(ctx context.Context, cardID, formDefinitionID string) (*models.CardForm, error)
	SaveForm(ctx context.Context, form *models.CardForm) error

	HistoryByCard(ctx context.Context, cardID string) ([]*models.CardMoveHistory, error)
	// StageEnteredAt reports when the card entered its current stage: the
	// newest history row, or the card's creation time when it never moved.
	StageEnteredAt(ctx context.Context, cardID string) (time.Time, error)

	AddComment(ctx context.Context, comment *models.CardComment) error
	CountCommentsSince(ctx context.Context, cardID string, since time.Time) (int, error)

	// ActiveCardsInStage supports the board read model and the SLA sweep.
	ActiveCardsInStage(ctx context.Context, stageID string) ([]*models.Card, error)
	ActiveCardsByPipeline(ctx context.Context, pipelineID string, version int) ([]*models.Card, error)
}

// TriggerRepository serves stage triggers ordered by executionOrder, ties
// broken by creation time.
type TriggerRepository interface {
	TriggersByStage(ctx context.Context, stageID string) ([]*models.StageTrigger, error)
	SaveTrigger(ctx context.Context, trigger *models.StageTrigger) error
}

// PermissionRepository resolves group membership and pipeline grants.
type PermissionRepository interface {
	GroupIDsByUser(ctx context.Context, tenantID, orgID, userID string) ([]string, error)
	PermissionsByGroups(ctx context.Context, pipelineID string, groupIDs []string) ([]*models.PipelinePermission, error)
	SavePermission(ctx context.Context, permission *models.PipelinePermission) error
	SaveGroup(ctx context.Context, group *models.UserGroup, memberIDs []string) error
}

// IntegrationRepository serves integration bindings and their API keys. The
// key store itself is an external service; only the resolved secret value
// crosses this boundary.
type IntegrationRepository interface {
	IntegrationByID(ctx context.Context, tenantID, orgID, id string) (*models.Integration, error)
	SaveIntegration(ctx context.Context, integration *models.Integration) error
	APIKeyValue(ctx context.Context, externalAPIKeyID string) (string, error)
}

// ExecutionRepository records trigger dispatch attempts.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.TriggerExecution) error
	// CompleteExecution moves a PENDING execution to a terminal status. A
	// second completion attempt returns ErrExecutionNotPending.
	CompleteExecution(ctx context.Context, id string, status models.ExecutionStatus, response any, errorMessage string) error
	ExecutionByID(ctx context.Context, id string) (*models.TriggerExecution, error)
	ExecutionsByCard(ctx context.Context, cardID string) ([]*models.TriggerExecution, error)
}

// FormRepository serves published form definitions.
type FormRepository interface {
	FormDefinitionByID(ctx context.Context, tenantID, id string) (*models.FormDefinition, error)
	SaveFormDefinition(ctx context.Context, form *models.FormDefinition) error
}
