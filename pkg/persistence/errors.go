// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrPipelineNotFound indicates a pipeline was not found by the given identifier.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrVersionNotFound indicates a pipeline version was not found.
	ErrVersionNotFound = errors.New("pipeline version not found")

	// ErrPublishedVersionNotFound indicates the pipeline has no published version.
	ErrPublishedVersionNotFound = errors.New("published version not found")

	// ErrStageNotFound indicates a stage was not found by the given identifier.
	ErrStageNotFound = errors.New("stage not found")

	// ErrCardNotFound indicates a card was not found by the given identifier.
	ErrCardNotFound = errors.New("card not found")

	// ErrCardFormNotFound indicates no form attachment exists for the card and definition.
	ErrCardFormNotFound = errors.New("card form not found")

	// ErrFormDefinitionNotFound indicates a form definition was not found.
	ErrFormDefinitionNotFound = errors.New("form definition not found")

	// ErrIntegrationNotFound indicates an integration was not found.
	ErrIntegrationNotFound = errors.New("integration not found")

	// ErrAPIKeyNotFound indicates no API key value exists for the given identifier.
	ErrAPIKeyNotFound = errors.New("api key not found")

	// ErrExecutionNotFound indicates a trigger execution was not found.
	ErrExecutionNotFound = errors.New("trigger execution not found")

	// ErrExecutionNotPending indicates a completion was attempted on an
	// execution that already reached a terminal status.
	ErrExecutionNotPending = errors.New("trigger execution is not pending")

	// ErrCardStale indicates the card's current stage changed underneath a
	// move; the caller's authorization was based on a stale view.
	ErrCardStale = errors.New("card stage changed concurrently")

	// ErrWIPLimitExceeded indicates the in-transaction recount hit the
	// target stage's WIP limit.
	ErrWIPLimitExceeded = errors.New("stage wip limit exceeded")
)

// CardError wraps card-related errors with operation context.
type CardError struct {
	Op     string // Operation being performed (e.g., "Move", "SaveForm")
	CardID string
	Err    error
}

func (e *CardError) Error() string {
	return fmt.Sprintf("%s operation failed for card %s: %v", e.Op, e.CardID, e.Err)
}

func (e *CardError) Unwrap() error {
	return e.Err
}

func (e *CardError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewCardError creates a new card error with context.
func NewCardError(op, cardID string, err error) *CardError {
	return &CardError{Op: op, CardID: cardID, Err: err}
}

// PipelineError wraps pipeline/version errors with operation context.
type PipelineError struct {
	Op         string
	PipelineID string
	Err        error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s operation failed for pipeline %s: %v", e.Op, e.PipelineID, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotFound checks if an error indicates any resource was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPipelineNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrPublishedVersionNotFound) ||
		errors.Is(err, ErrStageNotFound) ||
		errors.Is(err, ErrCardNotFound) ||
		errors.Is(err, ErrCardFormNotFound) ||
		errors.Is(err, ErrFormDefinitionNotFound) ||
		errors.Is(err, ErrIntegrationNotFound) ||
		errors.Is(err, ErrAPIKeyNotFound) ||
		errors.Is(err, ErrExecutionNotFound)
}

// IsCardNotFound checks if an error indicates a card was not found.
func IsCardNotFound(err error) bool {
	return errors.Is(err, ErrCardNotFound)
}

// IsPipelineNotFound checks if an error indicates a pipeline was not found.
func IsPipelineNotFound(err error) bool {
	return errors.Is(err, ErrPipelineNotFound)
}

// IsStageNotFound checks if an error indicates a stage was not found.
func IsStageNotFound(err error) bool {
	return errors.Is(err, ErrStageNotFound)
}

// IsCardStale checks if an error indicates a lost same-card move race.
func IsCardStale(err error) bool {
	return errors.Is(err, ErrCardStale)
}

// IsWIPLimitExceeded checks if an error indicates the WIP recount failed.
func IsWIPLimitExceeded(err error) bool {
	return errors.Is(err, ErrWIPLimitExceeded)
}
