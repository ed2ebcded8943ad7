package dispatcher_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/pkg/dispatcher"
	"github.com/stageflow/stageflow/pkg/events"
	"github.com/stageflow/stageflow/pkg/models"
	"github.com/stageflow/stageflow/pkg/persistence/memory"
	"github.com/stageflow/stageflow/pkg/triggers"
)

type capturedRequest struct {
	method  string
	path    string
	apiKey  string
	payload map[string]any
}

// captureServer records every request and answers with the configured
// status and body.
type captureServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []capturedRequest
}

func newCaptureServer(t *testing.T, status int, responseBody string) *captureServer {
	t.Helper()

	cs := &captureServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		var payload map[string]any
		_ = json.Unmarshal(body, &payload)

		cs.mu.Lock()
		cs.requests = append(cs.requests, capturedRequest{
			method:  r.Method,
			path:    r.URL.Path,
			apiKey:  r.Header.Get("X-API-Key"),
			payload: payload,
		})
		cs.mu.Unlock()

		w.WriteHeader(status)
		_, _ = w.Write([]byte(responseBody))
	}))
	t.Cleanup(cs.Close)

	return cs
}

func (cs *captureServer) captured() []capturedRequest {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	out := make([]capturedRequest, len(cs.requests))
	copy(out, cs.requests)

	return out
}

func setupDispatcher(t *testing.T) (*dispatcher.Dispatcher, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	selector := triggers.NewSelector(store, logger)

	return dispatcher.NewDispatcher(store, selector, nil, logger), store
}

func seedCard(t *testing.T, store *memory.Persistence) *models.Card {
	t.Helper()

	card := &models.Card{
		ID:              "card-1",
		TenantID:        "t1",
		OrganizationID:  "o1",
		PipelineID:      "pl-1",
		PipelineVersion: 1,
		CurrentStageID:  "stg-review",
		Title:           "Inspect compressor",
		Priority:        models.PriorityHigh,
		Status:          models.CardStatusActive,
	}
	require.NoError(t, store.Cards().SaveCard(context.Background(), card))

	return card
}

func seedIntegration(t *testing.T, store *memory.Persistence, integration *models.Integration) {
	t.Helper()

	integration.TenantID = "t1"
	integration.OrganizationID = "o1"
	require.NoError(t, store.Integrations().SaveIntegration(context.Background(), integration))
}

func seedTrigger(t *testing.T, store *memory.Persistence, trigger *models.StageTrigger) {
	t.Helper()

	require.NoError(t, store.Triggers().SaveTrigger(context.Background(), trigger))
}

func movedEvent(card *models.Card) *events.CardMoved {
	return &events.CardMoved{
		BaseEvent:   events.NewBaseEvent(events.CardMovedEvent, card.TenantID, card.OrganizationID),
		CardID:      card.ID,
		PipelineID:  card.PipelineID,
		FromStageID: "stg-intake",
		ToStageID:   "stg-review",
		Reason:      models.MoveReasonManual,
	}
}

func TestDispatchCardMoved_Success(t *testing.T) {
	t.Parallel()

	d, store := setupDispatcher(t)
	card := seedCard(t, store)
	server := newCaptureServer(t, http.StatusOK, `{"delivered":true}`)

	store.SetAPIKey("key-ext-1", "secret-token")
	seedIntegration(t, store, &models.Integration{
		ID: "int-1", Key: "notify", Name: "Notify",
		BaseURL: server.URL, Endpoint: "/hooks/maintenance",
		ExternalAPIKeyID: "key-ext-1",
		DefaultPayload:   map[string]any{"channel": "#maintenance", "card_id": "overridden-below"},
		Enabled:          true,
	})
	seedTrigger(t, store, &models.StageTrigger{
		ID: "trg-1", StageID: "stg-review", IntegrationID: "int-1",
		EventType: models.EventCardMovement, Enabled: true,
	})

	executions, err := d.DispatchCardMoved(context.Background(), movedEvent(card))

	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionSuccess, executions[0].Status)
	assert.Equal(t, "trg-1", executions[0].TriggerID)
	assert.Equal(t, map[string]any{"delivered": true}, executions[0].Response)
	require.NotNil(t, executions[0].CompletedAt)

	requests := server.captured()
	require.Len(t, requests, 1)
	assert.Equal(t, http.MethodPost, requests[0].method)
	assert.Equal(t, "/hooks/maintenance", requests[0].path)
	assert.Equal(t, "secret-token", requests[0].apiKey)
	assert.Equal(t, "#maintenance", requests[0].payload["channel"])
	assert.Equal(t, card.ID, requests[0].payload["card_id"], "event context wins over default payload")
	assert.Equal(t, "stg-review", requests[0].payload["to_stage_id"])
	assert.Equal(t, "manual", requests[0].payload["reason"])

	stored, err := store.Executions().ExecutionsByCard(context.Background(), card.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.ExecutionSuccess, stored[0].Status)
}

func TestDispatchCardMoved_NonJSONResponseKeptRaw(t *testing.T) {
	t.Parallel()

	d, store := setupDispatcher(t)
	card := seedCard(t, store)
	server := newCaptureServer(t, http.StatusAccepted, "queued")

	seedIntegration(t, store, &models.Integration{
		ID: "int-1", Key: "notify", Name: "Notify", BaseURL: server.URL, Enabled: true,
	})
	seedTrigger(t, store, &models.StageTrigger{
		ID: "trg-1", StageID: "stg-review", IntegrationID: "int-1",
		EventType: models.EventCardMovement, Enabled: true,
	})

	executions, err := d.DispatchCardMoved(context.Background(), movedEvent(card))

	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionSuccess, executions[0].Status)
	assert.Equal(t, "queued", executions[0].Response)
}

func TestDispatchCardMoved_IntegrationFailure(t *testing.T) {
	t.Parallel()

	d, store := setupDispatcher(t)
	card := seedCard(t, store)
	server := newCaptureServer(t, http.StatusBadGateway, "upstream down")

	seedIntegration(t, store, &models.Integration{
		ID: "int-1", Key: "notify", Name: "Notify", BaseURL: server.URL, Enabled: true,
	})
	seedTrigger(t, store, &models.StageTrigger{
		ID: "trg-1", StageID: "stg-review", IntegrationID: "int-1",
		EventType: models.EventCardMovement, Enabled: true,
	})

	executions, err := d.DispatchCardMoved(context.Background(), movedEvent(card))

	require.NoError(t, err, "integration failure is recorded, not propagated")
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionFailure, executions[0].Status)
	assert.Contains(t, executions[0].ErrorMessage, "502")
	assert.Contains(t, executions[0].ErrorMessage, "upstream down")
}

func TestDispatchCardMoved_TimeoutMarksFailure(t *testing.T) {
	t.Parallel()

	d, store := setupDispatcher(t)
	card := seedCard(t, store)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	seedIntegration(t, store, &models.Integration{
		ID: "int-slow", Key: "slow-hook", Name: "Slow hook",
		BaseURL: server.URL, Endpoint: "/hooks/slow",
		Enabled: true,
	})
	seedTrigger(t, store, &models.StageTrigger{
		ID: "trg-slow", StageID: "stg-review", IntegrationID: "int-slow",
		EventType: models.EventCardMovement, Enabled: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	executions, err := d.DispatchCardMoved(ctx, movedEvent(card))

	require.NoError(t, err, "a timed out integration is recorded, not propagated")
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionFailure, executions[0].Status)
	assert.Contains(t, executions[0].ErrorMessage, "deadline")
	require.NotNil(t, executions[0].CompletedAt)

	stored, err := store.Cards().CardByID(context.Background(), "t1", "o1", card.ID)
	require.NoError(t, err)
	assert.Equal(t, "stg-review", stored.CurrentStageID)
}

func TestDispatchCardMoved_DisabledIntegration(t *testing.T) {
	t.Parallel()

	d, store := setupDispatcher(t)
	card := seedCard(t, store)
	server := newCaptureServer(t, http.StatusOK, "{}")

	seedIntegration(t, store, &models.Integration{
		ID: "int-1", Key: "notify", Name: "Notify", BaseURL: server.URL, Enabled: false,
	})
	seedTrigger(t, store, &models.StageTrigger{
		ID: "trg-1", StageID: "stg-review", IntegrationID: "int-1",
		EventType: models.EventCardMovement, Enabled: true,
	})

	executions, err := d.DispatchCardMoved(context.Background(), movedEvent(card))

	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionFailure, executions[0].Status)
	assert.Contains(t, executions[0].ErrorMessage, "disabled")
	assert.Empty(t, server.captured(), "disabled integration is never called")
}

func TestDispatchCardMoved_ConditionNotMetSkipsExecution(t *testing.T) {
	t.Parallel()

	d, store := setupDispatcher(t)
	card := seedCard(t, store)
	server := newCaptureServer(t, http.StatusOK, "{}")

	seedIntegration(t, store, &models.Integration{
		ID: "int-1", Key: "notify", Name: "Notify", BaseURL: server.URL, Enabled: true,
	})
	seedTrigger(t, store, &models.StageTrigger{
		ID: "trg-1", StageID: "stg-review", IntegrationID: "int-1",
		EventType: models.EventCardMovement, Enabled: true,
		Conditions: []*models.TriggerCondition{
			{FieldPath: "card.priority", Operator: models.OpEquals, Value: "urgent"},
		},
	})

	executions, err := d.DispatchCardMoved(context.Background(), movedEvent(card))

	require.NoError(t, err)
	assert.Empty(t, executions)
	assert.Empty(t, server.captured())

	stored, err := store.Executions().ExecutionsByCard(context.Background(), card.ID)
	require.NoError(t, err)
	assert.Empty(t, stored, "skipped triggers leave no execution record")
}

func TestDispatchCardMoved_TriggersIndependent(t *testing.T) {
	t.Parallel()

	d, store := setupDispatcher(t)
	card := seedCard(t, store)
	failing := newCaptureServer(t, http.StatusInternalServerError, "boom")
	healthy := newCaptureServer(t, http.StatusOK, "{}")

	seedIntegration(t, store, &models.Integration{
		ID: "int-bad", Key: "bad", Name: "Bad", BaseURL: failing.URL, Enabled: true,
	})
	seedIntegration(t, store, &models.Integration{
		ID: "int-good", Key: "good", Name: "Good", BaseURL: healthy.URL, Enabled: true,
	})
	seedTrigger(t, store, &models.StageTrigger{
		ID: "trg-bad", StageID: "stg-review", IntegrationID: "int-bad",
		EventType: models.EventCardMovement, Enabled: true, ExecutionOrder: 1,
	})
	seedTrigger(t, store, &models.StageTrigger{
		ID: "trg-good", StageID: "stg-review", IntegrationID: "int-good",
		EventType: models.EventCardMovement, Enabled: true, ExecutionOrder: 2,
	})

	executions, err := d.DispatchCardMoved(context.Background(), movedEvent(card))

	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, models.ExecutionFailure, executions[0].Status)
	assert.Equal(t, models.ExecutionSuccess, executions[1].Status)
	assert.Len(t, healthy.captured(), 1, "failure of an earlier trigger never cancels later ones")
}

func TestDispatchFormFieldChanged(t *testing.T) {
	t.Parallel()

	d, store := setupDispatcher(t)
	card := seedCard(t, store)
	server := newCaptureServer(t, http.StatusOK, "{}")

	require.NoError(t, store.Cards().SaveForm(context.Background(), &models.CardForm{
		CardID:           card.ID,
		FormDefinitionID: "inspection",
		Status:           models.FormStatusToFill,
		Data:             map[string]any{"severity": "major"},
	}))

	seedIntegration(t, store, &models.Integration{
		ID: "int-1", Key: "notify", Name: "Notify", BaseURL: server.URL,
		HTTPMethod: "put", Endpoint: "/fields", Enabled: true,
	})
	seedTrigger(t, store, &models.StageTrigger{
		ID: "trg-1", StageID: "stg-review", IntegrationID: "int-1",
		EventType: models.EventFormFieldChange, FormDefinitionID: "inspection", FieldID: "severity", Enabled: true,
		Conditions: []*models.TriggerCondition{
			{FieldPath: "form.inspection.severity", Operator: models.OpEquals, Value: "major"},
		},
	})

	event := &events.CardFormFieldChanged{
		BaseEvent:        events.NewBaseEvent(events.CardFormFieldChangedEvent, card.TenantID, card.OrganizationID),
		CardID:           card.ID,
		PipelineID:       card.PipelineID,
		StageID:          "stg-review",
		FormDefinitionID: "inspection",
		FieldID:          "severity",
		NewValue:         "major",
	}

	executions, err := d.DispatchFormFieldChanged(context.Background(), event)

	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionSuccess, executions[0].Status)

	requests := server.captured()
	require.Len(t, requests, 1)
	assert.Equal(t, http.MethodPut, requests[0].method, "integration method is honored")
	assert.Equal(t, "/fields", requests[0].path)
	assert.Equal(t, "inspection", requests[0].payload["form_definition_id"])
	assert.Equal(t, "severity", requests[0].payload["field_id"])
}

func TestHandleCardMoved_RejectsWrongPayload(t *testing.T) {
	t.Parallel()

	d, _ := setupDispatcher(t)

	err := d.HandleCardMoved(context.Background(), &events.CardFormFieldChanged{})

	assert.Error(t, err)
}
