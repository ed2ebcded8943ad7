// Package models defines the core domain models for pipeline-based card management.
package models

import "time"

// PipelineStatus represents the lifecycle state of a pipeline.
type PipelineStatus string

const (
	PipelineStatusDraft     PipelineStatus = "draft"
	PipelineStatusTest      PipelineStatus = "test"
	PipelineStatusPublished PipelineStatus = "published"
	PipelineStatusClosed    PipelineStatus = "closed"
	PipelineStatusArchived  PipelineStatus = "archived"
)

// VersionStatus represents the lifecycle state of a single pipeline version.
type VersionStatus string

const (
	VersionStatusDraft       VersionStatus = "draft"
	VersionStatusPublished   VersionStatus = "published"   // Current active version, executable
	VersionStatusUnpublished VersionStatus = "unpublished" // Historical, immutable
)

// Pipeline is a tenant/org-scoped container of versions. The stable Key
// survives renames; at most one version is published at a time.
type Pipeline struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenant_id"`
	OrganizationID   string         `json:"organization_id"`
	Key              string         `json:"key"            validate:"required"`
	Name             string         `json:"name"           validate:"required,min=3"`
	Description      string         `json:"description"`
	Status           PipelineStatus `json:"status"`
	PublishedVersion int            `json:"published_version,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// PipelineVersion owns the stage graph. Once published it is immutable:
// stages and transitions are never edited in place, a new draft version is
// cut instead.
type PipelineVersion struct {
	ID          string             `json:"id"`
	PipelineID  string             `json:"pipeline_id"`
	Version     int                `json:"version"`
	Status      VersionStatus      `json:"status"`
	Stages      []*Stage           `json:"stages"`
	Transitions []*StageTransition `json:"transitions"`
	CreatedAt   time.Time          `json:"created_at"`
	PublishedAt *time.Time         `json:"published_at,omitempty"`
}

// StageByID returns the stage with the given id, or nil.
func (v *PipelineVersion) StageByID(id string) *Stage {
	for _, s := range v.Stages {
		if s.ID == id {
			return s
		}
	}

	return nil
}

// InitialStage returns the first stage flagged isInitial, or nil.
func (v *PipelineVersion) InitialStage() *Stage {
	for _, s := range v.Stages {
		if s.IsInitial {
			return s
		}
	}

	return nil
}

// TransitionBetween returns the directed edge fromStageID -> toStageID if it
// exists in this version.
func (v *PipelineVersion) TransitionBetween(fromStageID, toStageID string) *StageTransition {
	for _, t := range v.Transitions {
		if t.FromStageID == fromStageID && t.ToStageID == toStageID {
			return t
		}
	}

	return nil
}

// TransitionsFrom returns all edges leaving the given stage.
func (v *PipelineVersion) TransitionsFrom(fromStageID string) []*StageTransition {
	out := make([]*StageTransition, 0)

	for _, t := range v.Transitions {
		if t.FromStageID == fromStageID {
			out = append(out, t)
		}
	}

	return out
}
