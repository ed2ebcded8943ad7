// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/stageflow/stageflow/pkg/authorizer"
)

// Business logic errors indicating client mistakes (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest      = errors.New("invalid request")
	ErrTitleRequired       = errors.New("card title is required")
	ErrCommentBodyRequired = errors.New("comment body is required")
	ErrInvalidMoveReason   = errors.New("invalid move reason")
	ErrInitialStageInvalid = errors.New("initial stage not found in published version")
	ErrFormDataInvalid     = errors.New("form data does not satisfy the form schema")

	// Publishing validation errors (400 Bad Request).
	ErrInitialStageMissing = errors.New("version must have at least one initial stage")
	ErrFinalStageMissing   = errors.New("version must have at least one final stage")
	ErrTransitionDangling  = errors.New("transition references a stage outside the version")

	// Business logic conflicts (409 Conflict).
	ErrFormLocked           = errors.New("cannot update locked form data")
	ErrVersionNotDraft      = errors.New("only draft versions can be published")
	ErrPipelineNotPublished = errors.New("pipeline has no published version")

	// Authorization (403 Forbidden).
	ErrForbidden = errors.New("insufficient pipeline permission")
)

// DeniedError carries a move denial decision across the service boundary.
// Denials are expected outcomes, not failures; callers unwrap the decision
// for the API response.
type DeniedError struct {
	Decision authorizer.Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("move denied: %s: %s", e.Decision.Code, e.Decision.Message)
}

// Denied creates a DeniedError from a decision.
func Denied(decision authorizer.Decision) *DeniedError {
	return &DeniedError{Decision: decision}
}

// IsDenied extracts the denial decision when err is a move denial.
func IsDenied(err error) (authorizer.Decision, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Decision, true
	}

	return authorizer.Decision{}, false
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrTitleRequired) ||
		errors.Is(err, ErrCommentBodyRequired) ||
		errors.Is(err, ErrInvalidMoveReason) ||
		errors.Is(err, ErrInitialStageInvalid) ||
		errors.Is(err, ErrFormDataInvalid) ||
		errors.Is(err, ErrInitialStageMissing) ||
		errors.Is(err, ErrFinalStageMissing) ||
		errors.Is(err, ErrTransitionDangling)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrFormLocked) ||
		errors.Is(err, ErrVersionNotDraft) ||
		errors.Is(err, ErrPipelineNotPublished)
}

// IsForbidden checks if an error indicates a missing pipeline permission.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
