package otelhelper_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stageflow/stageflow/pkg/otelhelper"
)

func TestInit_InstallsGlobalProvider(t *testing.T) {
	ctx := context.Background()

	shutdown, err := otelhelper.Init(ctx, "stageflow-test")
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := otelhelper.StartSpan(ctx, otelhelper.Tracer("stageflow.test"), "card.move",
		attribute.String(otelhelper.CardIDKey, "card-1"))

	assert.True(t, span.IsRecording(), "spans record once the provider is installed")

	require.NoError(t, shutdown(ctx))
}
