package models

import "time"

// TriggerEventType is the closed set of events a stage trigger can bind to.
type TriggerEventType string

const (
	EventCardMovement    TriggerEventType = "CARD_MOVEMENT"
	EventFormFieldChange TriggerEventType = "FORM_FIELD_CHANGE"
)

// ConditionOperator is the closed set of comparison operators available to
// trigger conditions.
type ConditionOperator string

const (
	OpEquals         ConditionOperator = "EQUALS"
	OpNotEquals      ConditionOperator = "NOT_EQUALS"
	OpGreaterThan    ConditionOperator = "GREATER_THAN"
	OpLessThan       ConditionOperator = "LESS_THAN"
	OpGreaterOrEqual ConditionOperator = "GREATER_OR_EQUAL"
	OpLessOrEqual    ConditionOperator = "LESS_OR_EQUAL"
	OpContains       ConditionOperator = "CONTAINS"
	OpNotContains    ConditionOperator = "NOT_CONTAINS"
	OpIsEmpty        ConditionOperator = "IS_EMPTY"
	OpIsNotEmpty     ConditionOperator = "IS_NOT_EMPTY"
)

// StageTrigger binds an integration to a stage and event type, gated by
// conditions. All conditions AND together; no conditions means always fire.
type StageTrigger struct {
	ID            string           `json:"id"`
	StageID       string           `json:"stage_id"`
	IntegrationID string           `json:"integration_id" validate:"required"`
	EventType     TriggerEventType `json:"event_type"     validate:"required"`
	// FromStageID narrows CARD_MOVEMENT triggers to moves arriving from one
	// specific stage; nil matches any source stage.
	FromStageID *string `json:"from_stage_id,omitempty"`
	// FormDefinitionID and FieldID narrow FORM_FIELD_CHANGE triggers.
	FormDefinitionID string              `json:"form_definition_id,omitempty"`
	FieldID          string              `json:"field_id,omitempty"`
	ExecutionOrder   int                 `json:"execution_order"`
	Enabled          bool                `json:"enabled"`
	Conditions       []*TriggerCondition `json:"conditions,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// TriggerCondition is one (fieldPath, operator, literal) predicate.
type TriggerCondition struct {
	ID        string            `json:"id"`
	TriggerID string            `json:"trigger_id"`
	FieldPath string            `json:"field_path" validate:"required"`
	Operator  ConditionOperator `json:"operator"   validate:"required"`
	Value     string            `json:"value"`
}

// ExecutionStatus is the dispatch outcome of one trigger firing.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "PENDING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailure ExecutionStatus = "FAILURE"
)

// TriggerExecution records one dispatch attempt. Created PENDING and moved
// to exactly one terminal status; never retried in place.
type TriggerExecution struct {
	ID            string          `json:"id"`
	TriggerID     string          `json:"trigger_id"`
	IntegrationID string          `json:"integration_id"`
	CardID        string          `json:"card_id"`
	Status        ExecutionStatus `json:"status"`
	ExecutedAt    time.Time       `json:"executed_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Response      any             `json:"response,omitempty"`
}
