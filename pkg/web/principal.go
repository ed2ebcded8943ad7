package web

import (
	"github.com/gofiber/fiber/v3"

	"github.com/stageflow/stageflow/pkg/models"
)

// Identity headers set by the upstream gateway. The engine trusts them; it
// performs authorization, not authentication.
const (
	HeaderUserID         = "X-User-Id"
	HeaderTenantID       = "X-Tenant-Id"
	HeaderOrganizationID = "X-Organization-Id"
)

func principalFromHeaders(c fiber.Ctx) (models.Principal, bool) {
	principal := models.Principal{
		UserID:         c.Get(HeaderUserID),
		TenantID:       c.Get(HeaderTenantID),
		OrganizationID: c.Get(HeaderOrganizationID),
	}

	if principal.UserID == "" || principal.TenantID == "" || principal.OrganizationID == "" {
		return models.Principal{}, false
	}

	return principal, true
}
