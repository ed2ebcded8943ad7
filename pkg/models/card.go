package models

import "time"

// CardPriority orders cards on the board.
type CardPriority string

const (
	PriorityLow    CardPriority = "low"
	PriorityMedium CardPriority = "medium"
	PriorityHigh   CardPriority = "high"
	PriorityUrgent CardPriority = "urgent"
)

// Rank maps a priority to its sort weight, highest first. Unknown values
// rank below low.
func (p CardPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// CardStatus is the card lifecycle state.
type CardStatus string

const (
	CardStatusActive CardStatus = "active"
	CardStatusClosed CardStatus = "closed"
)

// MoveReason records who or what caused a stage change.
type MoveReason string

const (
	MoveReasonManual     MoveReason = "manual"
	MoveReasonAPI        MoveReason = "api"
	MoveReasonAutomation MoveReason = "automation"
)

// Card is a unit of work moving through a pipeline's stages. CurrentStageID
// changes only through an authorized move.
type Card struct {
	ID              string       `json:"id"`
	TenantID        string       `json:"tenant_id"`
	OrganizationID  string       `json:"organization_id"`
	PipelineID      string       `json:"pipeline_id"`
	PipelineVersion int          `json:"pipeline_version"`
	CurrentStageID  string       `json:"current_stage_id"`
	Title           string       `json:"title"           validate:"required"`
	Description     string       `json:"description,omitempty"`
	Priority        CardPriority `json:"priority"`
	Status          CardStatus   `json:"status"`
	UniqueKeyValue  string       `json:"unique_key_value,omitempty"`
	OwnerID         string       `json:"owner_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	ClosedAt        *time.Time   `json:"closed_at,omitempty"`
}

// CardForm is one form instance attached to a card.
type CardForm struct {
	ID                string         `json:"id"`
	CardID            string         `json:"card_id"`
	FormDefinitionID  string         `json:"form_definition_id"`
	FormVersion       int            `json:"form_version"`
	Status            FormStatus     `json:"status"`
	Data              map[string]any `json:"data"`
	AttachedAtStageID string         `json:"attached_at_stage_id"`
	AttachedAt        time.Time      `json:"attached_at"`
}

// CardMoveHistory is one append-only record of a stage change. Rows are
// never mutated or deleted.
type CardMoveHistory struct {
	ID          string     `json:"id"`
	CardID      string     `json:"card_id"`
	FromStageID string     `json:"from_stage_id"`
	ToStageID   string     `json:"to_stage_id"`
	Reason      MoveReason `json:"reason"`
	MovedAt     time.Time  `json:"moved_at"`
}

// CardComment is a free-text note on a card, consulted by the
// COMMENT_REQUIRED guard.
type CardComment struct {
	ID        string    `json:"id"`
	CardID    string    `json:"card_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"      validate:"required"`
	CreatedAt time.Time `json:"created_at"`
}
