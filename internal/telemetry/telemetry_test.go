package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), "", "runnit")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupEnabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), "http://127.0.0.1:4318", "runnit-test")
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "plugin.compile")
	span.End()

	// Export may fail without a collector; shutdown still returns.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
