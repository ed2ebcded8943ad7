package models

import "time"

// Integration describes an outbound HTTP binding that triggers can invoke.
// The engine never mutates integrations.
type Integration struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenant_id"`
	OrganizationID   string         `json:"organization_id"`
	Key              string         `json:"key"  validate:"required"`
	Name             string         `json:"name" validate:"required"`
	ExternalAPIKeyID string         `json:"external_api_key_id,omitempty"`
	HTTPMethod       string         `json:"http_method"`
	BaseURL          string         `json:"base_url"`
	Endpoint         string         `json:"endpoint"`
	DefaultPayload   map[string]any `json:"default_payload,omitempty"`
	Enabled          bool           `json:"enabled"`
	CreatedAt        time.Time      `json:"created_at"`
}

// FormDefinition is the published schema a CardForm instance is created
// from. Schema holds the JSON-schema document used to validate form data.
type FormDefinition struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	Name     string         `json:"name"`
	Version  int            `json:"version"`
	Status   string         `json:"status"`
	Schema   map[string]any `json:"schema,omitempty"`
}
