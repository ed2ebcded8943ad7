package models

// StageClassification groups stages by their meaning on the board.
type StageClassification string

const (
	StageNotStarted StageClassification = "NOT_STARTED"
	StageOnGoing    StageClassification = "ON_GOING"
	StageWaiting    StageClassification = "WAITING"
	StageFinished   StageClassification = "FINISHED"
	StageCanceled   StageClassification = "CANCELED"
)

// Stage is a named state inside one pipeline version. Cards occupy exactly
// one stage at a time.
type Stage struct {
	ID              string                 `json:"id"`
	VersionID       string                 `json:"version_id"`
	Name            string                 `json:"name"           validate:"required"`
	StageOrder      int                    `json:"stage_order"`
	Classification  StageClassification    `json:"classification"`
	Color           string                 `json:"color,omitempty"`
	IsInitial       bool                   `json:"is_initial"`
	IsFinal         bool                   `json:"is_final"`
	WIPLimit        *int                   `json:"wip_limit,omitempty"`
	SLAHours        *int                   `json:"sla_hours,omitempty"`
	Active          bool                   `json:"active"`
	FormAttachRules []*StageFormAttachRule `json:"form_attach_rules,omitempty"`
}

// FormStatus is the fill state of a form attached to a card.
type FormStatus string

const (
	FormStatusFilled FormStatus = "FILLED"
	FormStatusToFill FormStatus = "TO_FILL"
	FormStatusLocked FormStatus = "LOCKED" // Terminal once the card leaves a locking stage
)

// StageFormAttachRule makes a stage instantiate a form on every card that
// enters it. Either FormDefinitionID (internal form) or ExternalFormID is
// set; when both are present the internal form wins.
type StageFormAttachRule struct {
	ID                string     `json:"id"`
	StageID           string     `json:"stage_id"`
	FormDefinitionID  string     `json:"form_definition_id,omitempty"`
	ExternalFormID    string     `json:"external_form_id,omitempty"`
	ExternalFormName  string     `json:"external_form_name,omitempty"`
	DefaultFormStatus FormStatus `json:"default_form_status"`
	LockOnLeaveStage  bool       `json:"lock_on_leave_stage"`
}

// EffectiveFormID resolves the attach rule to a single form identifier.
func (r *StageFormAttachRule) EffectiveFormID() string {
	if r.FormDefinitionID != "" {
		return r.FormDefinitionID
	}

	return r.ExternalFormID
}
