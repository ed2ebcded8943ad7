// Package conditions evaluates trigger condition predicates against a card
// and its attached forms. Evaluation is pure: no I/O, no mutation.
package conditions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stageflow/stageflow/pkg/models"
)

const (
	cardPathPrefix = "card."
	formPathPrefix = "form."
)

// Evaluate resolves the condition's field path against the card and forms
// and applies the operator. Unknown paths resolve to the empty value rather
// than erroring; unknown operators evaluate to false.
func Evaluate(cond *models.TriggerCondition, card *models.Card, forms []*models.CardForm) bool {
	value, present := resolve(cond.FieldPath, card, forms)

	switch cond.Operator {
	case models.OpEquals:
		return present && value == cond.Value
	case models.OpNotEquals:
		return !present || value != cond.Value
	case models.OpGreaterThan:
		return compareNumeric(value, cond.Value, func(a, b float64) bool { return a > b })
	case models.OpLessThan:
		return compareNumeric(value, cond.Value, func(a, b float64) bool { return a < b })
	case models.OpGreaterOrEqual:
		return compareNumeric(value, cond.Value, func(a, b float64) bool { return a >= b })
	case models.OpLessOrEqual:
		return compareNumeric(value, cond.Value, func(a, b float64) bool { return a <= b })
	case models.OpContains:
		return present && strings.Contains(value, cond.Value)
	case models.OpNotContains:
		return !present || !strings.Contains(value, cond.Value)
	case models.OpIsEmpty:
		return !present
	case models.OpIsNotEmpty:
		return present
	default:
		return false
	}
}

// EvaluateAll applies AND semantics over the trigger's conditions. An empty
// condition list is always true.
func EvaluateAll(conds []*models.TriggerCondition, card *models.Card, forms []*models.CardForm) bool {
	for _, cond := range conds {
		if !Evaluate(cond, card, forms) {
			return false
		}
	}

	return true
}

// cardFields is the allow-list of card attributes reachable from condition
// field paths.
func cardField(card *models.Card, field string) (string, bool) {
	switch field {
	case "title":
		return card.Title, card.Title != ""
	case "description":
		return card.Description, card.Description != ""
	case "priority":
		return string(card.Priority), card.Priority != ""
	case "status":
		return string(card.Status), card.Status != ""
	default:
		return "", false
	}
}

// resolve maps a field path to its stringified value. The second return is
// false when the value is absent, nil, or the empty string.
func resolve(path string, card *models.Card, forms []*models.CardForm) (string, bool) {
	switch {
	case strings.HasPrefix(path, cardPathPrefix):
		if card == nil {
			return "", false
		}

		return cardField(card, strings.TrimPrefix(path, cardPathPrefix))
	case strings.HasPrefix(path, formPathPrefix):
		rest := strings.TrimPrefix(path, formPathPrefix)

		formID, fieldKey, ok := strings.Cut(rest, ".")
		if !ok {
			return "", false
		}

		return formField(forms, formID, fieldKey)
	default:
		return "", false
	}
}

func formField(forms []*models.CardForm, formID, fieldKey string) (string, bool) {
	for _, form := range forms {
		if form.FormDefinitionID != formID {
			continue
		}

		raw, exists := form.Data[fieldKey]
		if !exists || raw == nil {
			return "", false
		}

		value := stringify(raw)

		return value, value != ""
	}

	return "", false
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// compareNumeric applies an ordering operator. Either side failing to parse
// as a number makes the condition false.
func compareNumeric(left, right string, cmp func(a, b float64) bool) bool {
	a, err := strconv.ParseFloat(left, 64)
	if err != nil {
		return false
	}

	b, err := strconv.ParseFloat(right, 64)
	if err != nil {
		return false
	}

	return cmp(a, b)
}
