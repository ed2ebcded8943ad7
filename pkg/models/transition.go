package models

// TransitionRuleType is a closed set of guard rule kinds.
type TransitionRuleType string

const (
	RuleFormRequired    TransitionRuleType = "FORM_REQUIRED"
	RuleCommentRequired TransitionRuleType = "COMMENT_REQUIRED"
	RuleOwnerOnly       TransitionRuleType = "OWNER_ONLY"
)

// StageTransition is a directed edge between two stages of the same version.
// It is the only way a card may legally change stage.
type StageTransition struct {
	ID          string            `json:"id"`
	VersionID   string            `json:"version_id"`
	FromStageID string            `json:"from_stage_id"`
	ToStageID   string            `json:"to_stage_id"`
	Rules       []*TransitionRule `json:"rules,omitempty"`
}

// EnabledRules returns the guard rules that are switched on.
func (t *StageTransition) EnabledRules() []*TransitionRule {
	out := make([]*TransitionRule, 0, len(t.Rules))

	for _, r := range t.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}

	return out
}

// TransitionRule is one guard attached to a transition. All enabled rules on
// an edge must pass for the move to be authorized.
type TransitionRule struct {
	ID           string             `json:"id"`
	TransitionID string             `json:"transition_id"`
	RuleType     TransitionRuleType `json:"rule_type"`
	// FormDefinitionID carries the FORM_REQUIRED payload; empty for the
	// other rule types.
	FormDefinitionID string `json:"form_definition_id,omitempty"`
	Enabled          bool   `json:"enabled"`
}
