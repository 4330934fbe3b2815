package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracing_Development(t *testing.T) {
	shutdown, err := InitTracing("development")
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	tracer := otel.Tracer("test")
	_, span := tracer.Start(context.Background(), "test-span")
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_Production(t *testing.T) {
	shutdown, err := InitTracing("production")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
