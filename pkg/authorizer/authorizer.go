// Package authorizer decides whether a card may move between two stages.
// Denials are values with a typed code; only genuinely unexpected states
// (missing version, corrupted topology) surface as errors.
package authorizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/permissions"
	"github.com/stageflow/stageflow/pkg/persistence"
)

// DenialCode identifies why a move was refused.
type DenialCode string

const (
	CodeTransitionNotAllowed DenialCode = "TRANSITION_NOT_ALLOWED"
	CodePermissionDenied     DenialCode = "PERMISSION_DENIED"
	CodeWIPLimitReached      DenialCode = "WIP_LIMIT_REACHED"
	CodeFormsIncomplete      DenialCode = "FORMS_INCOMPLETE"
	CodeCommentRequired      DenialCode = "COMMENT_REQUIRED"
	CodeOwnerOnly            DenialCode = "OWNER_ONLY"
)

// CodeFormsNotFilled is the legacy alias some clients still match on.
const CodeFormsNotFilled DenialCode = "FORMS_NOT_FILLED"

// LegacyAlias returns the deprecated spelling of a code for clients that
// predate the current set, or empty when none exists.
func (c DenialCode) LegacyAlias() DenialCode {
	if c == CodeFormsIncomplete {
		return CodeFormsNotFilled
	}

	return ""
}

// Decision is the outcome of an authorization check. Code, Message, and
// Details are set only on denial.
type Decision struct {
	Allowed bool           `json:"allowed"`
	Code    DenialCode     `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(code DenialCode, message string, details map[string]any) Decision {
	return Decision{Allowed: false, Code: code, Message: message, Details: details}
}

// Authorization is the evaluated move plan handed to the orchestrator on
// success, so persistence does not re-derive the topology.
type Authorization struct {
	Version    *models.PipelineVersion
	FromStage  *models.Stage
	ToStage    *models.Stage
	Transition *models.StageTransition
}

// Authorizer evaluates the allowed-transition topology, WIP limits, guard
// rules, and permission for a requested move.
type Authorizer struct {
	persistence  persistence.Persistence
	resolver     *permissions.Resolver
	requiredRole models.PipelineRole
	logger       *slog.Logger
}

// NewAuthorizer creates an authorizer. requiredRole is the permission floor
// for executing moves; OPERATOR unless configured otherwise.
func NewAuthorizer(p persistence.Persistence, resolver *permissions.Resolver, requiredRole models.PipelineRole, logger *slog.Logger) *Authorizer {
	if requiredRole == "" {
		requiredRole = models.RoleOperator
	}

	return &Authorizer{
		persistence:  p,
		resolver:     resolver,
		requiredRole: requiredRole,
		logger:       logger.With("module", "authorizer"),
	}
}

// Authorize runs the decision procedure in fixed order, short-circuiting on
// the first failing check: topology, permission, WIP, guard rules.
func (a *Authorizer) Authorize(ctx context.Context, principal models.Principal, card *models.Card, toStageID string) (Decision, *Authorization, error) {
	version, err := a.persistence.Pipelines().VersionByNumber(ctx, card.PipelineID, card.PipelineVersion)
	if err != nil {
		return Decision{}, nil, fmt.Errorf("failed to load version %d of pipeline %s: %w", card.PipelineVersion, card.PipelineID, err)
	}

	fromStage := version.StageByID(card.CurrentStageID)
	if fromStage == nil {
		return Decision{}, nil, fmt.Errorf("card %s: current stage %s: %w", card.ID, card.CurrentStageID, persistence.ErrStageNotFound)
	}

	// 1. Topology: the directed edge must exist in the card's version.
	transition := version.TransitionBetween(card.CurrentStageID, toStageID)
	if transition == nil || card.Status != models.CardStatusActive {
		allowed := make([]string, 0)
		for _, t := range version.TransitionsFrom(card.CurrentStageID) {
			allowed = append(allowed, t.ToStageID)
		}

		return deny(CodeTransitionNotAllowed, "Transition to target stage is not allowed", map[string]any{
			"current_stage_id":  card.CurrentStageID,
			"target_stage_id":   toStageID,
			"allowed_stage_ids": allowed,
		}), nil, nil
	}

	toStage := version.StageByID(toStageID)
	if toStage == nil {
		return Decision{}, nil, fmt.Errorf("transition %s: target stage %s: %w", transition.ID, toStageID, persistence.ErrStageNotFound)
	}

	// 2. Permission floor on the pipeline.
	role, granted, err := a.resolver.Resolve(ctx, principal, card.PipelineID)
	if err != nil {
		return Decision{}, nil, err
	}

	if !granted || !role.AtLeast(a.requiredRole) {
		return deny(CodePermissionDenied, fmt.Sprintf("Role %s or higher is required to move cards", a.requiredRole), map[string]any{
			"required_role": a.requiredRole,
		}), nil, nil
	}

	// 3. WIP limit on the target stage, excluding the moving card.
	if toStage.WIPLimit != nil {
		count, err := a.persistence.Cards().CountActiveInStage(ctx, toStage.ID, card.ID)
		if err != nil {
			return Decision{}, nil, fmt.Errorf("failed to count cards in stage %s: %w", toStage.ID, err)
		}

		if count >= *toStage.WIPLimit {
			return deny(CodeWIPLimitReached,
				fmt.Sprintf("WIP limit (%d) reached for stage %q", *toStage.WIPLimit, toStage.Name),
				map[string]any{
					"stage_id": toStage.ID,
					"current":  count,
					"limit":    *toStage.WIPLimit,
				}), nil, nil
		}
	}

	// 4. Guard rules on the edge, AND-combined.
	decision, err := a.checkRules(ctx, principal, card, transition, role)
	if err != nil {
		return Decision{}, nil, err
	}

	if !decision.Allowed {
		return decision, nil, nil
	}

	return allow(), &Authorization{
		Version:    version,
		FromStage:  fromStage,
		ToStage:    toStage,
		Transition: transition,
	}, nil
}

func (a *Authorizer) checkRules(ctx context.Context, principal models.Principal, card *models.Card, transition *models.StageTransition, role models.PipelineRole) (Decision, error) {
	missingForms := make([]string, 0)

	for _, rule := range transition.EnabledRules() {
		switch rule.RuleType {
		case models.RuleFormRequired:
			filled, err := a.formFilled(ctx, card.ID, rule.FormDefinitionID)
			if err != nil {
				return Decision{}, err
			}

			if !filled {
				missingForms = append(missingForms, rule.FormDefinitionID)
			}
		case models.RuleCommentRequired:
			ok, err := a.hasRecentComment(ctx, card.ID)
			if err != nil {
				return Decision{}, err
			}

			if !ok {
				return deny(CodeCommentRequired, "A comment on the current stage is required before moving", nil), nil
			}
		case models.RuleOwnerOnly:
			// ADMIN bypasses ownership.
			if principal.UserID != card.OwnerID && role != models.RoleAdmin {
				return deny(CodeOwnerOnly, "Only the card owner may perform this transition", map[string]any{
					"owner_id": card.OwnerID,
				}), nil
			}
		}
	}

	if len(missingForms) > 0 {
		return deny(CodeFormsIncomplete, "Required forms are not filled", map[string]any{
			"missing_form_ids": missingForms,
		}), nil
	}

	return allow(), nil
}

func (a *Authorizer) formFilled(ctx context.Context, cardID, formDefinitionID string) (bool, error) {
	form, err := a.persistence.Cards().FormByCardAndDefinition(ctx, cardID, formDefinitionID)
	if err != nil {
		if errors.Is(err, persistence.ErrCardFormNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("failed to load form %s for card %s: %w", formDefinitionID, cardID, err)
	}

	return form.Status == models.FormStatusFilled, nil
}

func (a *Authorizer) hasRecentComment(ctx context.Context, cardID string) (bool, error) {
	enteredAt, err := a.persistence.Cards().StageEnteredAt(ctx, cardID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve stage entry time for card %s: %w", cardID, err)
	}

	count, err := a.persistence.Cards().CountCommentsSince(ctx, cardID, enteredAt)
	if err != nil {
		return false, fmt.Errorf("failed to count comments for card %s: %w", cardID, err)
	}

	return count > 0, nil
}
