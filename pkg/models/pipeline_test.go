package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stageflow/stageflow/pkg/models"
)

func testVersion() *models.PipelineVersion {
	return &models.PipelineVersion{
		ID: "ver-1",
		Stages: []*models.Stage{
			{ID: "stg-a", IsInitial: true},
			{ID: "stg-b"},
			{ID: "stg-c", IsFinal: true},
		},
		Transitions: []*models.StageTransition{
			{ID: "tr-1", FromStageID: "stg-a", ToStageID: "stg-b"},
			{ID: "tr-2", FromStageID: "stg-b", ToStageID: "stg-c"},
			{ID: "tr-3", FromStageID: "stg-b", ToStageID: "stg-a"},
		},
	}
}

func TestVersionTopologyHelpers(t *testing.T) {
	t.Parallel()

	version := testVersion()

	assert.Equal(t, "stg-b", version.StageByID("stg-b").ID)
	assert.Nil(t, version.StageByID("stg-missing"))

	assert.Equal(t, "stg-a", version.InitialStage().ID)

	assert.Equal(t, "tr-2", version.TransitionBetween("stg-b", "stg-c").ID)
	assert.Nil(t, version.TransitionBetween("stg-a", "stg-c"), "edges are directed, not transitive")
	assert.Nil(t, version.TransitionBetween("stg-b", "stg-missing"))

	from := version.TransitionsFrom("stg-b")
	assert.Len(t, from, 2)
	assert.Empty(t, version.TransitionsFrom("stg-c"))
}

func TestEnabledRules(t *testing.T) {
	t.Parallel()

	transition := &models.StageTransition{
		Rules: []*models.TransitionRule{
			{ID: "r-1", RuleType: models.RuleFormRequired, Enabled: true},
			{ID: "r-2", RuleType: models.RuleCommentRequired, Enabled: false},
			{ID: "r-3", RuleType: models.RuleOwnerOnly, Enabled: true},
		},
	}

	enabled := transition.EnabledRules()

	assert.Len(t, enabled, 2)
	assert.Equal(t, "r-1", enabled[0].ID)
	assert.Equal(t, "r-3", enabled[1].ID)
}

func TestEffectiveFormID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		rule     models.StageFormAttachRule
		expected string
	}{
		{
			name:     "internal definition wins over external",
			rule:     models.StageFormAttachRule{FormDefinitionID: "f-internal", ExternalFormID: "f-external"},
			expected: "f-internal",
		},
		{
			name:     "external only",
			rule:     models.StageFormAttachRule{ExternalFormID: "f-external"},
			expected: "f-external",
		},
		{
			name:     "internal only",
			rule:     models.StageFormAttachRule{FormDefinitionID: "f-internal"},
			expected: "f-internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, tt.rule.EffectiveFormID())
		})
	}
}

func TestRoleOrdering(t *testing.T) {
	t.Parallel()

	assert.True(t, models.RoleAdmin.AtLeast(models.RoleViewer))
	assert.True(t, models.RoleOperator.AtLeast(models.RoleOperator))
	assert.False(t, models.RoleViewer.AtLeast(models.RoleOperator))
	assert.False(t, models.PipelineRole("").AtLeast(models.RoleViewer), "no grant never satisfies a floor")
	assert.Equal(t, 0, models.PipelineRole("GUEST").Level())
}
