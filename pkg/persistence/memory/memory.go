// Package memory provides an in-memory persistence implementation for tests
// and local development. All operations are safe for concurrent use; the
// single mutex gives the same serialization a relational store would provide
// through row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/persistence"
)

// Persistence implements persistence.Persistence backed by maps.
type Persistence struct {
	mu sync.RWMutex

	pipelines    map[string]*models.Pipeline
	versions     map[string]*models.PipelineVersion
	cards        map[string]*models.Card
	forms        map[string][]*models.CardForm // card id -> attachments
	history      map[string][]*models.CardMoveHistory
	comments     map[string][]*models.CardComment
	triggers     map[string][]*models.StageTrigger // stage id -> triggers
	permissions  map[string][]*models.PipelinePermission
	groups       map[string]*models.UserGroup
	members      map[string][]string // group id -> user ids
	integrations map[string]*models.Integration
	apiKeys      map[string]string
	executions   map[string]*models.TriggerExecution
	formDefs     map[string]*models.FormDefinition
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		pipelines:    make(map[string]*models.Pipeline),
		versions:     make(map[string]*models.PipelineVersion),
		cards:        make(map[string]*models.Card),
		forms:        make(map[string][]*models.CardForm),
		history:      make(map[string][]*models.CardMoveHistory),
		comments:     make(map[string][]*models.CardComment),
		triggers:     make(map[string][]*models.StageTrigger),
		permissions:  make(map[string][]*models.PipelinePermission),
		groups:       make(map[string]*models.UserGroup),
		members:      make(map[string][]string),
		integrations: make(map[string]*models.Integration),
		apiKeys:      make(map[string]string),
		executions:   make(map[string]*models.TriggerExecution),
		formDefs:     make(map[string]*models.FormDefinition),
	}
}

func (p *Persistence) Pipelines() persistence.PipelineRepository       { return (*pipelineRepo)(p) }
func (p *Persistence) Cards() persistence.CardRepository               { return (*cardRepo)(p) }
func (p *Persistence) Triggers() persistence.TriggerRepository         { return (*triggerRepo)(p) }
func (p *Persistence) Permissions() persistence.PermissionRepository   { return (*permissionRepo)(p) }
func (p *Persistence) Integrations() persistence.IntegrationRepository { return (*integrationRepo)(p) }
func (p *Persistence) Executions() persistence.ExecutionRepository     { return (*executionRepo)(p) }
func (p *Persistence) Forms() persistence.FormRepository               { return (*formRepo)(p) }

// HealthCheck always succeeds for the in-memory store.
func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op.
func (p *Persistence) Close(_ context.Context) error { return nil }

// SetAPIKey registers an API key value under an external key id.
func (p *Persistence) SetAPIKey(id, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.apiKeys[id] = value
}

type pipelineRepo Persistence

func (r *pipelineRepo) PipelineByID(_ context.Context, tenantID, orgID, id string) (*models.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pipeline, ok := r.pipelines[id]
	if !ok || pipeline.TenantID != tenantID || pipeline.OrganizationID != orgID {
		return nil, persistence.ErrPipelineNotFound
	}

	return pipeline, nil
}

func (r *pipelineRepo) SavePipeline(_ context.Context, pipeline *models.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pipeline.ID == "" {
		pipeline.ID = uuid.NewString()
	}

	r.pipelines[pipeline.ID] = pipeline

	return nil
}

func (r *pipelineRepo) PublishedPipelines(_ context.Context) ([]*models.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pipelines := make([]*models.Pipeline, 0)

	for _, pipeline := range r.pipelines {
		if pipeline.Status == models.PipelineStatusPublished {
			pipelines = append(pipelines, pipeline)
		}
	}

	sort.Slice(pipelines, func(i, j int) bool { return pipelines[i].ID < pipelines[j].ID })

	return pipelines, nil
}

func (r *pipelineRepo) VersionByNumber(_ context.Context, pipelineID string, version int) (*models.PipelineVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.versions {
		if v.PipelineID == pipelineID && v.Version == version {
			return v, nil
		}
	}

	return nil, persistence.ErrVersionNotFound
}

func (r *pipelineRepo) PublishedVersion(_ context.Context, pipelineID string) (*models.PipelineVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.versions {
		if v.PipelineID == pipelineID && v.Status == models.VersionStatusPublished {
			return v, nil
		}
	}

	return nil, persistence.ErrPublishedVersionNotFound
}

func (r *pipelineRepo) SaveVersion(_ context.Context, version *models.PipelineVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if version.ID == "" {
		version.ID = uuid.NewString()
	}

	r.versions[version.ID] = version

	return nil
}

func (r *pipelineRepo) StageByID(_ context.Context, stageID string) (*models.Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.versions {
		for _, s := range v.Stages {
			if s.ID == stageID {
				return s, nil
			}
		}
	}

	return nil, persistence.ErrStageNotFound
}

type cardRepo Persistence

func (r *cardRepo) CardByID(_ context.Context, tenantID, orgID, id string) (*models.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	card, ok := r.cards[id]
	if !ok || card.TenantID != tenantID || card.OrganizationID != orgID {
		return nil, persistence.ErrCardNotFound
	}

	copied := *card

	return &copied, nil
}

func (r *cardRepo) SaveCard(_ context.Context, card *models.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if card.ID == "" {
		card.ID = uuid.NewString()
	}

	copied := *card
	r.cards[card.ID] = &copied

	return nil
}

func (r *cardRepo) CountActiveInStage(_ context.Context, stageID, excludeCardID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.countActiveInStageLocked(stageID, excludeCardID), nil
}

func (r *cardRepo) countActiveInStageLocked(stageID, excludeCardID string) int {
	count := 0

	for _, card := range r.cards {
		if card.ID != excludeCardID && card.CurrentStageID == stageID && card.Status == models.CardStatusActive {
			count++
		}
	}

	return count
}

// MoveCard applies the whole stage change atomically under the store lock,
// mirroring the single transaction a SQL implementation uses.
func (r *cardRepo) MoveCard(_ context.Context, params persistence.MoveParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	card, ok := r.cards[params.CardID]
	if !ok {
		return persistence.NewCardError("Move", params.CardID, persistence.ErrCardNotFound)
	}

	if card.CurrentStageID != params.ExpectedStageID {
		return persistence.NewCardError("Move", params.CardID, persistence.ErrCardStale)
	}

	if params.WIPLimit != nil {
		count := r.countActiveInStageLocked(params.ToStageID, params.CardID)
		if count >= *params.WIPLimit {
			return persistence.NewCardError("Move", params.CardID, persistence.ErrWIPLimitExceeded)
		}
	}

	now := time.Now()

	for _, formID := range params.LockFormIDs {
		for _, form := range r.forms[card.ID] {
			if form.FormDefinitionID == formID && form.Status != models.FormStatusLocked {
				form.Status = models.FormStatusLocked
			}
		}
	}

	card.CurrentStageID = params.ToStageID
	card.UpdatedAt = now

	if params.CloseCard {
		card.Status = models.CardStatusClosed
		card.ClosedAt = &now
	}

	r.history[card.ID] = append(r.history[card.ID], &models.CardMoveHistory{
		ID:          uuid.NewString(),
		CardID:      card.ID,
		FromStageID: params.ExpectedStageID,
		ToStageID:   params.ToStageID,
		Reason:      params.Reason,
		MovedAt:     now,
	})

	existing := make(map[string]bool)
	for _, form := range r.forms[card.ID] {
		existing[form.FormDefinitionID] = true
	}

	for _, form := range params.AttachForms {
		if existing[form.FormDefinitionID] {
			continue
		}

		if form.ID == "" {
			form.ID = uuid.NewString()
		}

		form.CardID = card.ID
		form.AttachedAt = now
		r.forms[card.ID] = append(r.forms[card.ID], form)
	}

	return nil
}

func (r *cardRepo) FormsByCard(_ context.Context, cardID string) ([]*models.CardForm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	forms := make([]*models.CardForm, 0, len(r.forms[cardID]))

	for _, form := range r.forms[cardID] {
		copied := *form
		forms = append(forms, &copied)
	}

	return forms, nil
}

func (r *cardRepo) FormByCardAndDefinition(_ context.Context, cardID, formDefinitionID string) (*models.CardForm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, form := range r.forms[cardID] {
		if form.FormDefinitionID == formDefinitionID {
			copied := *form

			return &copied, nil
		}
	}

	return nil, persistence.ErrCardFormNotFound
}

func (r *cardRepo) SaveForm(_ context.Context, form *models.CardForm) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if form.ID == "" {
		form.ID = uuid.NewString()
	}

	for i, existing := range r.forms[form.CardID] {
		if existing.ID == form.ID {
			copied := *form
			r.forms[form.CardID][i] = &copied

			return nil
		}
	}

	copied := *form
	r.forms[form.CardID] = append(r.forms[form.CardID], &copied)

	return nil
}

func (r *cardRepo) HistoryByCard(_ context.Context, cardID string) ([]*models.CardMoveHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := make([]*models.CardMoveHistory, len(r.history[cardID]))
	copy(history, r.history[cardID])

	return history, nil
}

func (r *cardRepo) StageEnteredAt(_ context.Context, cardID string) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	card, ok := r.cards[cardID]
	if !ok {
		return time.Time{}, persistence.ErrCardNotFound
	}

	rows := r.history[cardID]
	if len(rows) == 0 {
		return card.CreatedAt, nil
	}

	return rows[len(rows)-1].MovedAt, nil
}

func (r *cardRepo) AddComment(_ context.Context, comment *models.CardComment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}

	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now()
	}

	r.comments[comment.CardID] = append(r.comments[comment.CardID], comment)

	return nil
}

func (r *cardRepo) CountCommentsSince(_ context.Context, cardID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0

	for _, comment := range r.comments[cardID] {
		if !comment.CreatedAt.Before(since) {
			count++
		}
	}

	return count, nil
}

func (r *cardRepo) ActiveCardsInStage(_ context.Context, stageID string) ([]*models.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cards := make([]*models.Card, 0)

	for _, card := range r.cards {
		if card.CurrentStageID == stageID && card.Status == models.CardStatusActive {
			copied := *card
			cards = append(cards, &copied)
		}
	}

	sort.Slice(cards, func(i, j int) bool { return cards[i].CreatedAt.Before(cards[j].CreatedAt) })

	return cards, nil
}

func (r *cardRepo) ActiveCardsByPipeline(_ context.Context, pipelineID string, version int) ([]*models.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cards := make([]*models.Card, 0)

	for _, card := range r.cards {
		if card.PipelineID == pipelineID && card.PipelineVersion == version && card.Status == models.CardStatusActive {
			copied := *card
			cards = append(cards, &copied)
		}
	}

	sort.Slice(cards, func(i, j int) bool { return cards[i].CreatedAt.Before(cards[j].CreatedAt) })

	return cards, nil
}

type triggerRepo Persistence

func (r *triggerRepo) TriggersByStage(_ context.Context, stageID string) ([]*models.StageTrigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	triggers := make([]*models.StageTrigger, len(r.triggers[stageID]))
	copy(triggers, r.triggers[stageID])

	sort.SliceStable(triggers, func(i, j int) bool {
		if triggers[i].ExecutionOrder != triggers[j].ExecutionOrder {
			return triggers[i].ExecutionOrder < triggers[j].ExecutionOrder
		}

		return triggers[i].CreatedAt.Before(triggers[j].CreatedAt)
	})

	return triggers, nil
}

func (r *triggerRepo) SaveTrigger(_ context.Context, trigger *models.StageTrigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if trigger.ID == "" {
		trigger.ID = uuid.NewString()
	}

	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = time.Now()
	}

	r.triggers[trigger.StageID] = append(r.triggers[trigger.StageID], trigger)

	return nil
}

type permissionRepo Persistence

func (r *permissionRepo) GroupIDsByUser(_ context.Context, tenantID, orgID, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groupIDs := make([]string, 0)

	for groupID, userIDs := range r.members {
		group, ok := r.groups[groupID]
		if !ok || group.TenantID != tenantID || group.OrganizationID != orgID {
			continue
		}

		for _, id := range userIDs {
			if id == userID {
				groupIDs = append(groupIDs, groupID)

				break
			}
		}
	}

	return groupIDs, nil
}

func (r *permissionRepo) PermissionsByGroups(_ context.Context, pipelineID string, groupIDs []string) ([]*models.PipelinePermission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		wanted[id] = true
	}

	permissions := make([]*models.PipelinePermission, 0)

	for _, permission := range r.permissions[pipelineID] {
		if wanted[permission.GroupID] {
			permissions = append(permissions, permission)
		}
	}

	return permissions, nil
}

func (r *permissionRepo) SavePermission(_ context.Context, permission *models.PipelinePermission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if permission.ID == "" {
		permission.ID = uuid.NewString()
	}

	r.permissions[permission.PipelineID] = append(r.permissions[permission.PipelineID], permission)

	return nil
}

func (r *permissionRepo) SaveGroup(_ context.Context, group *models.UserGroup, memberIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if group.ID == "" {
		group.ID = uuid.NewString()
	}

	r.groups[group.ID] = group
	r.members[group.ID] = memberIDs

	return nil
}

type integrationRepo Persistence

func (r *integrationRepo) IntegrationByID(_ context.Context, tenantID, orgID, id string) (*models.Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	integration, ok := r.integrations[id]
	if !ok || integration.TenantID != tenantID || integration.OrganizationID != orgID {
		return nil, persistence.ErrIntegrationNotFound
	}

	return integration, nil
}

func (r *integrationRepo) SaveIntegration(_ context.Context, integration *models.Integration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if integration.ID == "" {
		integration.ID = uuid.NewString()
	}

	r.integrations[integration.ID] = integration

	return nil
}

func (r *integrationRepo) APIKeyValue(_ context.Context, externalAPIKeyID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	value, ok := r.apiKeys[externalAPIKeyID]
	if !ok {
		return "", persistence.ErrAPIKeyNotFound
	}

	return value, nil
}

type executionRepo Persistence

func (r *executionRepo) CreateExecution(_ context.Context, execution *models.TriggerExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if execution.ID == "" {
		execution.ID = uuid.NewString()
	}

	if execution.ExecutedAt.IsZero() {
		execution.ExecutedAt = time.Now()
	}

	execution.Status = models.ExecutionPending
	copied := *execution
	r.executions[execution.ID] = &copied

	return nil
}

func (r *executionRepo) CompleteExecution(_ context.Context, id string, status models.ExecutionStatus, response any, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return persistence.ErrExecutionNotFound
	}

	if execution.Status != models.ExecutionPending {
		return persistence.ErrExecutionNotPending
	}

	now := time.Now()
	execution.Status = status
	execution.CompletedAt = &now
	execution.Response = response
	execution.ErrorMessage = errorMessage

	return nil
}

func (r *executionRepo) ExecutionByID(_ context.Context, id string) (*models.TriggerExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	copied := *execution

	return &copied, nil
}

func (r *executionRepo) ExecutionsByCard(_ context.Context, cardID string) ([]*models.TriggerExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executions := make([]*models.TriggerExecution, 0)

	for _, execution := range r.executions {
		if execution.CardID == cardID {
			copied := *execution
			executions = append(executions, &copied)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].ExecutedAt.Before(executions[j].ExecutedAt)
	})

	return executions, nil
}

type formRepo Persistence

func (r *formRepo) FormDefinitionByID(_ context.Context, tenantID, id string) (*models.FormDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	form, ok := r.formDefs[id]
	if !ok || form.TenantID != tenantID {
		return nil, persistence.ErrFormDefinitionNotFound
	}

	return form, nil
}

func (r *formRepo) SaveFormDefinition(_ context.Context, form *models.FormDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if form.ID == "" {
		form.ID = uuid.NewString()
	}

	r.formDefs[form.ID] = form

	return nil
}
