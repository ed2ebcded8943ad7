package models

import "time"

// PipelineRole is the permission level a group holds on a pipeline, totally
// ordered by privilege.
type PipelineRole string

const (
	RoleViewer     PipelineRole = "VIEWER"
	RoleOperator   PipelineRole = "OPERATOR"
	RoleSupervisor PipelineRole = "SUPERVISOR"
	RoleAdmin      PipelineRole = "ADMIN"
)

var roleLevels = map[PipelineRole]int{
	RoleViewer:     1,
	RoleOperator:   2,
	RoleSupervisor: 3,
	RoleAdmin:      4,
}

// Level returns the privilege rank of the role; unknown roles rank zero.
func (r PipelineRole) Level() int {
	return roleLevels[r]
}

// AtLeast reports whether the role grants the required privilege level.
func (r PipelineRole) AtLeast(required PipelineRole) bool {
	return r.Level() >= required.Level()
}

// PipelinePermission grants a role on one pipeline to one user group.
type PipelinePermission struct {
	ID         string       `json:"id"`
	PipelineID string       `json:"pipeline_id"`
	GroupID    string       `json:"group_id"`
	Role       PipelineRole `json:"role"`
	CreatedAt  time.Time    `json:"created_at"`
}

// UserGroup is a tenant/org-scoped set of principals.
type UserGroup struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
}

// GroupMember links a principal to a group.
type GroupMember struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}

// Principal is the authenticated caller as supplied by the upstream guard.
// The engine trusts these identifiers as given.
type Principal struct {
	UserID         string `json:"user_id"`
	TenantID       string `json:"tenant_id"`
	OrganizationID string `json:"organization_id"`
}
