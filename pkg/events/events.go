// Package events defines event types for card lifecycle notifications and
// trigger dispatch.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/stageflow/stageflow/pkg/models"
)

type EventType string

// Topic is the bus topic all card events flow through.
const Topic = "stageflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	CardMovedEvent            EventType = "card.moved"
	CardFormFieldChangedEvent EventType = "card.form_field.changed"
	CardSLABreachedEvent      EventType = "card.sla.breached"
)

type BaseEvent struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	TenantID       string         `json:"tenant_id"`
	OrganizationID string         `json:"organization_id"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent creates the shared envelope for an event.
func NewBaseEvent(eventType EventType, tenantID, orgID string) BaseEvent {
	return BaseEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		Timestamp:      time.Now(),
		TenantID:       tenantID,
		OrganizationID: orgID,
	}
}

// CardMoved is published after a move commits. Dispatch consumers select
// CARD_MOVEMENT triggers on the target stage.
type CardMoved struct {
	BaseEvent

	CardID      string            `json:"card_id"`
	PipelineID  string            `json:"pipeline_id"`
	FromStageID string            `json:"from_stage_id"`
	ToStageID   string            `json:"to_stage_id"`
	Reason      models.MoveReason `json:"reason"`
}

func (e CardMoved) GetType() EventType {
	return CardMovedEvent
}

// CardFormFieldChanged is published for each field changed by a form patch.
type CardFormFieldChanged struct {
	BaseEvent

	CardID           string `json:"card_id"`
	PipelineID       string `json:"pipeline_id"`
	StageID          string `json:"stage_id"`
	FormDefinitionID string `json:"form_definition_id"`
	FieldID          string `json:"field_id"`
	NewValue         any    `json:"new_value,omitempty"`
}

func (e CardFormFieldChanged) GetType() EventType {
	return CardFormFieldChangedEvent
}

// CardSLABreached is published by the SLA sweep when a card has sat in a
// stage past its slaHours. Observability only; no state change.
type CardSLABreached struct {
	BaseEvent

	CardID    string    `json:"card_id"`
	StageID   string    `json:"stage_id"`
	SLAHours  int       `json:"sla_hours"`
	EnteredAt time.Time `json:"entered_at"`
}

func (e CardSLABreached) GetType() EventType {
	return CardSLABreachedEvent
}
