package conditions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stageflow/stageflow/pkg/conditions"
	"github.com/stageflow/stageflow/pkg/models"
)

func testCard() *models.Card {
	return &models.Card{
		ID:       "card-1",
		Title:    "Replace pump seals",
		Priority: models.PriorityHigh,
		Status:   models.CardStatusActive,
	}
}

func testForms() []*models.CardForm {
	return []*models.CardForm{
		{
			FormDefinitionID: "inspection",
			Data: map[string]any{
				"severity":  "major",
				"count":     float64(12),
				"approved":  true,
				"empty_one": "",
				"nil_one":   nil,
			},
		},
	}
}

func TestEvaluate_CardFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		condition models.TriggerCondition
		expected  bool
	}{
		{
			name:      "equals matches priority",
			condition: models.TriggerCondition{FieldPath: "card.priority", Operator: models.OpEquals, Value: "high"},
			expected:  true,
		},
		{
			name:      "equals rejects other priority",
			condition: models.TriggerCondition{FieldPath: "card.priority", Operator: models.OpEquals, Value: "low"},
			expected:  false,
		},
		{
			name:      "not equals on status",
			condition: models.TriggerCondition{FieldPath: "card.status", Operator: models.OpNotEquals, Value: "closed"},
			expected:  true,
		},
		{
			name:      "contains on title",
			condition: models.TriggerCondition{FieldPath: "card.title", Operator: models.OpContains, Value: "pump"},
			expected:  true,
		},
		{
			name:      "not contains on title",
			condition: models.TriggerCondition{FieldPath: "card.title", Operator: models.OpNotContains, Value: "pump"},
			expected:  false,
		},
		{
			name:      "unknown card attribute resolves empty",
			condition: models.TriggerCondition{FieldPath: "card.owner_id", Operator: models.OpIsEmpty},
			expected:  true,
		},
		{
			name:      "description absent is empty",
			condition: models.TriggerCondition{FieldPath: "card.description", Operator: models.OpIsNotEmpty},
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := conditions.Evaluate(&tt.condition, testCard(), testForms())
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluate_FormFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		condition models.TriggerCondition
		expected  bool
	}{
		{
			name:      "equals on form field",
			condition: models.TriggerCondition{FieldPath: "form.inspection.severity", Operator: models.OpEquals, Value: "major"},
			expected:  true,
		},
		{
			name:      "numeric greater than",
			condition: models.TriggerCondition{FieldPath: "form.inspection.count", Operator: models.OpGreaterThan, Value: "10"},
			expected:  true,
		},
		{
			name:      "numeric less or equal fails",
			condition: models.TriggerCondition{FieldPath: "form.inspection.count", Operator: models.OpLessOrEqual, Value: "11"},
			expected:  false,
		},
		{
			name:      "ordering on non-numeric is false",
			condition: models.TriggerCondition{FieldPath: "form.inspection.severity", Operator: models.OpGreaterThan, Value: "10"},
			expected:  false,
		},
		{
			name:      "boolean stringified",
			condition: models.TriggerCondition{FieldPath: "form.inspection.approved", Operator: models.OpEquals, Value: "true"},
			expected:  true,
		},
		{
			name:      "missing field is empty",
			condition: models.TriggerCondition{FieldPath: "form.inspection.missing", Operator: models.OpIsEmpty},
			expected:  true,
		},
		{
			name:      "empty string is empty",
			condition: models.TriggerCondition{FieldPath: "form.inspection.empty_one", Operator: models.OpIsEmpty},
			expected:  true,
		},
		{
			name:      "nil value is empty",
			condition: models.TriggerCondition{FieldPath: "form.inspection.nil_one", Operator: models.OpIsNotEmpty},
			expected:  false,
		},
		{
			name:      "unknown form id resolves empty",
			condition: models.TriggerCondition{FieldPath: "form.other.severity", Operator: models.OpIsEmpty},
			expected:  true,
		},
		{
			name:      "malformed path resolves empty",
			condition: models.TriggerCondition{FieldPath: "form.inspection", Operator: models.OpIsEmpty},
			expected:  true,
		},
		{
			name:      "not equals on absent field holds",
			condition: models.TriggerCondition{FieldPath: "form.inspection.missing", Operator: models.OpNotEquals, Value: "x"},
			expected:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := conditions.Evaluate(&tt.condition, testCard(), testForms())
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluate_EmptyComplement(t *testing.T) {
	t.Parallel()

	paths := []string{"card.title", "card.description", "form.inspection.severity", "form.inspection.missing"}

	for _, path := range paths {
		isEmpty := conditions.Evaluate(&models.TriggerCondition{FieldPath: path, Operator: models.OpIsEmpty}, testCard(), testForms())
		isNotEmpty := conditions.Evaluate(&models.TriggerCondition{FieldPath: path, Operator: models.OpIsNotEmpty}, testCard(), testForms())

		assert.NotEqual(t, isEmpty, isNotEmpty, "IS_EMPTY and IS_NOT_EMPTY must complement for %s", path)
	}
}

func TestEvaluate_UnknownOperator(t *testing.T) {
	t.Parallel()

	condition := &models.TriggerCondition{FieldPath: "card.title", Operator: "BETWEEN", Value: "x"}

	assert.False(t, conditions.Evaluate(condition, testCard(), testForms()))
}

func TestEvaluateAll(t *testing.T) {
	t.Parallel()

	conds := []*models.TriggerCondition{
		{FieldPath: "card.priority", Operator: models.OpEquals, Value: "high"},
		{FieldPath: "form.inspection.severity", Operator: models.OpEquals, Value: "major"},
	}

	assert.True(t, conditions.EvaluateAll(conds, testCard(), testForms()))

	conds = append(conds, &models.TriggerCondition{FieldPath: "card.status", Operator: models.OpEquals, Value: "closed"})
	assert.False(t, conditions.EvaluateAll(conds, testCard(), testForms()))

	assert.True(t, conditions.EvaluateAll(nil, testCard(), testForms()), "no conditions always fires")
}
