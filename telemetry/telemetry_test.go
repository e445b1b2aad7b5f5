package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awantoch/beemflow/config"
	"github.com/awantoch/beemflow/pkg/errors"
)

func TestInitNone(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{Exporter: "none"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitStdout(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{Exporter: "stdout", ServiceName: "test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitUnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), config.TracingConfig{Exporter: "carrier-pigeon"})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}
