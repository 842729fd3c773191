package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_EmptyEndpointIsNoOp(t *testing.T) {
	shutdown, err := Init(context.Background(), "indexer-test", "")
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Shutdown of the no-op provider must be callable more than once.
	assert.NoError(t, shutdown(context.Background()))
	assert.NoError(t, shutdown(context.Background()))
}

func TestTracer_UsableWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "indexer-test", "")
	require.NoError(t, err)
	defer shutdown(context.Background())

	tracer := Tracer("curve")
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "recompute")
	span.End()
}
