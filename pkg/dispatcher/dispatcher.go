// Package dispatcher invokes integrations for triggers whose conditions
// hold, and records every attempt as a trigger execution. Dispatch is
// best-effort: failures are terminal, visible only through the execution
// record, and never affect the committed card move.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stageflow/stageflow/pkg/conditions"
	"github.com/stageflow/stageflow/pkg/events"
	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/otelhelper"
	"github.com/stageflow/stageflow/pkg/persistence"
	"github.com/stageflow/stageflow/pkg/triggers"
)

const dispatchTimeout = 10 * time.Second

// Dispatcher consumes card events, selects the applicable triggers, and
// fires their integrations one by one in execution order. Triggers are
// independent of each other; one failing does not cancel the rest.
type Dispatcher struct {
	persistence persistence.Persistence
	selector    *triggers.Selector
	client      *http.Client
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewDispatcher creates a dispatcher. tracer may be nil to disable spans.
func NewDispatcher(p persistence.Persistence, selector *triggers.Selector, tracer trace.Tracer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		persistence: p,
		selector:    selector,
		client:      &http.Client{Timeout: dispatchTimeout},
		logger:      logger.With("module", "dispatcher"),
		tracer:      tracer,
	}
}

// HandleCardMoved is the bus handler for card.moved events.
func (d *Dispatcher) HandleCardMoved(ctx context.Context, event any) error {
	moved, ok := event.(*events.CardMoved)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	_, err := d.DispatchCardMoved(ctx, moved)

	return err
}

// HandleFormFieldChanged is the bus handler for card.form_field.changed events.
func (d *Dispatcher) HandleFormFieldChanged(ctx context.Context, event any) error {
	changed, ok := event.(*events.CardFormFieldChanged)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	_, err := d.DispatchFormFieldChanged(ctx, changed)

	return err
}

// DispatchCardMoved fires the CARD_MOVEMENT triggers configured on the
// move's target stage.
func (d *Dispatcher) DispatchCardMoved(ctx context.Context, event *events.CardMoved) ([]*models.TriggerExecution, error) {
	if d.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, d.tracer, "dispatch.card_moved",
			attribute.String(otelhelper.CardIDKey, event.CardID),
			attribute.String(otelhelper.StageIDKey, event.ToStageID))
		defer span.End()
	}

	selected, err := d.selector.ForCardMovement(ctx, event.ToStageID, event.FromStageID)
	if err != nil {
		return nil, err
	}

	return d.dispatchAll(ctx, event.TenantID, event.OrganizationID, event.CardID, selected, map[string]any{
		"event":         string(events.CardMovedEvent),
		"card_id":       event.CardID,
		"pipeline_id":   event.PipelineID,
		"from_stage_id": event.FromStageID,
		"to_stage_id":   event.ToStageID,
		"reason":        string(event.Reason),
	})
}

// DispatchFormFieldChanged fires the FORM_FIELD_CHANGE triggers configured
// on the card's current stage for the changed form field.
func (d *Dispatcher) DispatchFormFieldChanged(ctx context.Context, event *events.CardFormFieldChanged) ([]*models.TriggerExecution, error) {
	selected, err := d.selector.ForFormFieldChange(ctx, event.StageID, event.FormDefinitionID, event.FieldID)
	if err != nil {
		return nil, err
	}

	return d.dispatchAll(ctx, event.TenantID, event.OrganizationID, event.CardID, selected, map[string]any{
		"event":              string(events.CardFormFieldChangedEvent),
		"card_id":            event.CardID,
		"pipeline_id":        event.PipelineID,
		"stage_id":           event.StageID,
		"form_definition_id": event.FormDefinitionID,
		"field_id":           event.FieldID,
		"new_value":          event.NewValue,
	})
}

// dispatchAll evaluates conditions against the card's post-event state and
// invokes each firing trigger in order. A malformed trigger aborts only its
// own dispatch.
func (d *Dispatcher) dispatchAll(ctx context.Context, tenantID, orgID, cardID string, selected []*models.StageTrigger, eventContext map[string]any) ([]*models.TriggerExecution, error) {
	if len(selected) == 0 {
		return nil, nil
	}

	card, err := d.persistence.Cards().CardByID(ctx, tenantID, orgID, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load card %s: %w", cardID, err)
	}

	forms, err := d.persistence.Cards().FormsByCard(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load forms for card %s: %w", cardID, err)
	}

	executions := make([]*models.TriggerExecution, 0, len(selected))

	for _, trigger := range selected {
		if !conditions.EvaluateAll(trigger.Conditions, card, forms) {
			d.logger.DebugContext(ctx, "Trigger conditions not met, skipping",
				"trigger_id", trigger.ID, "card_id", cardID)

			continue
		}

		execution := d.dispatchOne(ctx, tenantID, orgID, card, trigger, eventContext)
		if execution != nil {
			executions = append(executions, execution)
		}
	}

	return executions, nil
}

// dispatchOne creates the PENDING execution record, invokes the integration,
// and moves the record to its single terminal status.
func (d *Dispatcher) dispatchOne(ctx context.Context, tenantID, orgID string, card *models.Card, trigger *models.StageTrigger, eventContext map[string]any) *models.TriggerExecution {
	execution := &models.TriggerExecution{
		TriggerID:     trigger.ID,
		IntegrationID: trigger.IntegrationID,
		CardID:        card.ID,
		Status:        models.ExecutionPending,
		ExecutedAt:    time.Now(),
	}

	err := d.persistence.Executions().CreateExecution(ctx, execution)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to create execution record",
			"trigger_id", trigger.ID, "error", err)

		return nil
	}

	response, err := d.invoke(ctx, tenantID, orgID, trigger.IntegrationID, eventContext)
	if err != nil {
		d.complete(ctx, execution, models.ExecutionFailure, nil, err.Error())
		d.logger.WarnContext(ctx, "Trigger dispatch failed",
			"trigger_id", trigger.ID, "integration_id", trigger.IntegrationID, "error", err)

		return execution
	}

	d.complete(ctx, execution, models.ExecutionSuccess, response, "")

	return execution
}

func (d *Dispatcher) complete(ctx context.Context, execution *models.TriggerExecution, status models.ExecutionStatus, response any, errorMessage string) {
	err := d.persistence.Executions().CompleteExecution(ctx, execution.ID, status, response, errorMessage)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to complete execution record",
			"execution_id", execution.ID, "error", err)

		return
	}

	now := time.Now()
	execution.Status = status
	execution.CompletedAt = &now
	execution.Response = response
	execution.ErrorMessage = errorMessage
}

// invoke performs the integration HTTP call: method and endpoint from the
// integration row, X-API-Key resolved from the external key store, body =
// defaultPayload merged with the event context. Any non-2xx outcome is an
// error.
func (d *Dispatcher) invoke(ctx context.Context, tenantID, orgID, integrationID string, eventContext map[string]any) (any, error) {
	integration, err := d.persistence.Integrations().IntegrationByID(ctx, tenantID, orgID, integrationID)
	if err != nil {
		return nil, fmt.Errorf("integration %s unavailable: %w", integrationID, err)
	}

	if !integration.Enabled {
		return nil, fmt.Errorf("integration %s is disabled", integration.Key)
	}

	payload := make(map[string]any, len(integration.DefaultPayload)+len(eventContext))
	maps.Copy(payload, integration.DefaultPayload)
	maps.Copy(payload, eventContext)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	method := strings.ToUpper(integration.HTTPMethod)
	if method == "" {
		method = http.MethodPost
	}

	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, integration.BaseURL+integration.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if integration.ExternalAPIKeyID != "" {
		apiKey, err := d.persistence.Integrations().APIKeyValue(ctx, integration.ExternalAPIKeyID)
		if err != nil {
			return nil, fmt.Errorf("api key %s unavailable: %w", integration.ExternalAPIKeyID, err)
		}

		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	responseBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("integration %s returned status %d: %s",
			integration.Key, resp.StatusCode, truncate(string(responseBytes), 512))
	}

	var parsed any

	err = json.Unmarshal(responseBytes, &parsed)
	if err != nil {
		return string(responseBytes), nil
	}

	return parsed, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	return s[:max]
}
